package raster

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"math"

	"github.com/gen2brain/go-fitz"

	"pdf2image/internal/config"
	"pdf2image/internal/sandbox"
)

const (
	// maxCanvasDimension and maxCanvasPixels keep a lying MediaBox from
	// allocating an unbounded RGBA surface (64 Mpx is ~256 MB).
	maxCanvasDimension       = 32768
	maxCanvasPixels    int64 = 64 * 1024 * 1024
)

// Canvas decodes with MuPDF, then composites the page over an opaque white
// surface the size of the rendered page, so transparent pages never come out
// black or transparent.
type Canvas struct {
	scale   float64
	encoder png.Encoder
}

func NewCanvas(scale float64) *Canvas {
	return &Canvas{scale: scale, encoder: png.Encoder{CompressionLevel: png.DefaultCompression}}
}

func (c *Canvas) Name() string          { return config.BackendCanvas }
func (c *Canvas) RequiresScratch() bool { return false }
func (c *Canvas) Close() error          { return nil }

func (c *Canvas) RenderFirstPage(ctx context.Context, data []byte, _ *sandbox.Handle) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.render(data)
}

func (c *Canvas) render(data []byte) (*Page, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if n < 1 {
		return nil, ErrNoPages
	}

	// Bound truncates to whole points while the pixmap rounds outward, so the
	// estimate gets one extra point per axis and the surface follows the pixmap.
	bound, err := doc.Bound(0)
	if err != nil {
		return nil, fmt.Errorf("%w: page 1 geometry: %v", ErrMalformedDocument, err)
	}
	if err := validateCanvas(
		int(math.Ceil(float64(bound.Dx()+1)*c.scale)),
		int(math.Ceil(float64(bound.Dy()+1)*c.scale)),
	); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}

	img, err := doc.ImageDPI(0, 72*c.scale)
	if err != nil {
		return nil, fmt.Errorf("%w: page 1: %v", ErrRenderFailed, err)
	}

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	surface := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(surface, surface.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(surface, surface.Bounds(), img, img.Bounds().Min, draw.Over)

	var buf bytes.Buffer
	if err := c.encoder.Encode(&buf, surface); err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrRenderFailed, err)
	}
	return &Page{PNG: buf.Bytes(), Width: w, Height: h, PageCount: n}, nil
}

func validateCanvas(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("canvas bounds invalid (%d x %d)", w, h)
	}
	if w > maxCanvasDimension || h > maxCanvasDimension {
		return fmt.Errorf("canvas dimension exceeds limit (%d x %d)", w, h)
	}
	if px := int64(w) * int64(h); px > maxCanvasPixels {
		return fmt.Errorf("canvas pixel count %d exceeds limit %d", px, maxCanvasPixels)
	}
	return nil
}
