package domain

import "time"

// RequestContext travels with one conversion for correlation and timing.
type RequestContext struct {
	CorrelationID string
	ReceivedAt    time.Time
	OriginalSize  int
}

// NewRequestContext stamps a context with the current time.
func NewRequestContext(correlationID string, originalSize int) RequestContext {
	if originalSize < 0 {
		originalSize = 0
	}
	return RequestContext{
		CorrelationID: correlationID,
		ReceivedAt:    time.Now(),
		OriginalSize:  originalSize,
	}
}

// Output is a rendered first page.
type Output struct {
	Image          []byte // PNG
	Width          int
	Height         int
	PageCount      int // pages in the source document, 0 when the backend cannot tell
	ProcessingTime time.Duration
}

// Size is the encoded image length in bytes.
func (o *Output) Size() int {
	return len(o.Image)
}

// ProcessingTimeMs is ProcessingTime in whole milliseconds.
func (o *Output) ProcessingTimeMs() int64 {
	return o.ProcessingTime.Milliseconds()
}
