// Package domain contains the core concepts of a single page conversion: the
// request context, the conversion output and the client-visible error contract.
// Keep this package free of transport (HTTP) and infrastructure (renderer, disk) concerns.
package domain
