// Package raster renders the first page of a PDF document to PNG. One backend
// is active per process; all of them satisfy Rasterizer.
package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"

	"pdf2image/internal/config"
	"pdf2image/internal/sandbox"
)

// Sentinel errors wrapped by every backend. The conversion layer maps them to
// client-visible error kinds.
var (
	ErrMalformedDocument = errors.New("malformed document")
	ErrNoPages           = errors.New("document has no pages")
	ErrRenderFailed      = errors.New("page render failed")
	ErrMissingOutput     = errors.New("renderer produced no output")
)

// Page is one rendered page.
type Page struct {
	PNG       []byte
	Width     int
	Height    int
	PageCount int // 0 when the backend does not inspect the document
}

// Rasterizer renders page 1 of a document. Implementations are safe for
// concurrent use; per-call state lives on the stack or in the sandbox.
// In-process backends check ctx before starting but cannot be interrupted
// mid-page; backends that need scratch space must return promptly on cancel.
type Rasterizer interface {
	Name() string
	// RequiresScratch reports whether RenderFirstPage needs a sandbox with a directory.
	RequiresScratch() bool
	RenderFirstPage(ctx context.Context, data []byte, sb *sandbox.Handle) (*Page, error)
	Close() error
}

// New builds the backend named by cfg.Backend.
func New(cfg config.RendererConfig) (Rasterizer, error) {
	switch cfg.Backend {
	case config.BackendFitz:
		return NewFitz(cfg.Scale), nil
	case config.BackendCanvas:
		return NewCanvas(cfg.Scale), nil
	case config.BackendPdftoppm:
		return NewPdftoppm(cfg.PdftoppmPath, cfg.Scale)
	default:
		return nil, fmt.Errorf("unknown renderer backend %q", cfg.Backend)
	}
}

func pngSize(b []byte) (int, int, error) {
	cfg, err := png.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
