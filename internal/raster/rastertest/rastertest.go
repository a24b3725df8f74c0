// Package rastertest provides PDF fixtures and a scriptable Rasterizer for tests.
package rastertest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jung-kurt/gofpdf"

	"pdf2image/internal/raster"
	"pdf2image/internal/sandbox"
)

// HelloText is the text printed on every fixture page.
const HelloText = "Hello PDF!"

// PDF generates an A4 document with the given number of pages, each carrying
// HelloText and its page number.
func PDF(pages int) ([]byte, error) {
	doc := gofpdf.New("P", "mm", "A4", "")
	doc.SetFont("Arial", "", 16)
	for i := 1; i <= pages; i++ {
		doc.AddPage()
		doc.Cell(40, 10, HelloText)
		doc.Ln(12)
		doc.Cell(40, 10, fmt.Sprintf("Page %d", i))
	}
	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustPDF is PDF for test setup.
func MustPDF(pages int) []byte {
	b, err := PDF(pages)
	if err != nil {
		panic(err)
	}
	return b
}

// PNG returns a w x h opaque PNG filled with c.
func PNG(w, h int, c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Stub is a Rasterizer whose behaviour is set by its fields. By default it
// returns a 2x2 white page.
type Stub struct {
	Scratch bool
	Page    *raster.Page
	Err     error
	Panic   any
	Delay   time.Duration
	// WriteArtifacts leaves files in the sandbox output dir to exercise cleanup.
	WriteArtifacts bool

	calls atomic.Int64
	mu    sync.Mutex
	dirs  []string
}

func (s *Stub) Name() string          { return "stub" }
func (s *Stub) RequiresScratch() bool { return s.Scratch }
func (s *Stub) Close() error          { return nil }

// Calls is the number of RenderFirstPage invocations.
func (s *Stub) Calls() int {
	return int(s.calls.Load())
}

// SandboxDirs lists the sandbox directories seen, in call order.
func (s *Stub) SandboxDirs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.dirs...)
}

func (s *Stub) RenderFirstPage(ctx context.Context, data []byte, sb *sandbox.Handle) (*raster.Page, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.dirs = append(s.dirs, sb.Dir())
	s.mu.Unlock()

	if s.WriteArtifacts && sb.Dir() != "" {
		if err := os.WriteFile(sb.InputPath(), data, 0o600); err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(sb.OutputDir(), "partial.png"), []byte("x"), 0o600); err != nil {
			return nil, err
		}
	}
	if s.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.Delay):
		}
	}
	if s.Panic != nil {
		panic(s.Panic)
	}
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Page != nil {
		return s.Page, nil
	}
	return &raster.Page{PNG: PNG(2, 2, color.White), Width: 2, Height: 2, PageCount: 1}, nil
}
