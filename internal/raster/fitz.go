package raster

import (
	"context"
	"fmt"

	"github.com/gen2brain/go-fitz"

	"pdf2image/internal/config"
	"pdf2image/internal/sandbox"
)

// Fitz renders in memory with MuPDF and lets MuPDF encode the PNG.
type Fitz struct {
	dpi float64
}

func NewFitz(scale float64) *Fitz {
	return &Fitz{dpi: 72 * scale}
}

func (f *Fitz) Name() string          { return config.BackendFitz }
func (f *Fitz) RequiresScratch() bool { return false }
func (f *Fitz) Close() error          { return nil }

func (f *Fitz) RenderFirstPage(ctx context.Context, data []byte, _ *sandbox.Handle) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.render(data)
}

func (f *Fitz) render(data []byte) (*Page, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if n < 1 {
		return nil, ErrNoPages
	}

	buf, err := doc.ImagePNG(0, f.dpi)
	if err != nil {
		return nil, fmt.Errorf("%w: page 1: %v", ErrRenderFailed, err)
	}
	if len(buf) == 0 {
		return nil, ErrMissingOutput
	}
	w, h, err := pngSize(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: encoded page is not a PNG: %v", ErrRenderFailed, err)
	}
	return &Page{PNG: buf, Width: w, Height: h, PageCount: n}, nil
}
