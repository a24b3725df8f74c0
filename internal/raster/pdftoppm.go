package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"pdf2image/internal/config"
	"pdf2image/internal/infra/process"
	"pdf2image/internal/sandbox"
)

const (
	outputStem = "page"
	// stderrLimit caps how much renderer diagnostics are kept for logs.
	stderrLimit = 4096
	// waitDelay bounds how long Wait blocks on pipes after the group is killed.
	waitDelay = 2 * time.Second
)

// pdftoppm exit status for "error opening a PDF file".
const exitOpenError = 1

// Pdftoppm shells out to poppler's pdftoppm. Input and output live in the
// request sandbox, which the caller removes.
type Pdftoppm struct {
	bin string
	dpi float64
}

// NewPdftoppm resolves bin on PATH so a missing renderer fails at startup.
func NewPdftoppm(bin string, scale float64) (*Pdftoppm, error) {
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm not available: %w", err)
	}
	return &Pdftoppm{bin: path, dpi: 72 * scale}, nil
}

func (p *Pdftoppm) Name() string          { return config.BackendPdftoppm }
func (p *Pdftoppm) RequiresScratch() bool { return true }
func (p *Pdftoppm) Close() error          { return nil }

// Args are the renderer arguments for one conversion: page 1 only, fixed DPI,
// one output file without a page-number suffix.
func (p *Pdftoppm) Args(input, outputPrefix string) []string {
	return []string{
		"-f", "1",
		"-l", "1",
		"-r", strconv.FormatFloat(p.dpi, 'f', -1, 64),
		"-png",
		"-singlefile",
		input,
		outputPrefix,
	}
}

func (p *Pdftoppm) RenderFirstPage(ctx context.Context, data []byte, sb *sandbox.Handle) (*Page, error) {
	if sb.Dir() == "" {
		return nil, fmt.Errorf("%w: pdftoppm requires a scratch directory", sandbox.ErrSandbox)
	}
	if err := os.WriteFile(sb.InputPath(), data, 0o600); err != nil {
		return nil, fmt.Errorf("%w: write input: %v", sandbox.ErrSandbox, err)
	}

	prefix := filepath.Join(sb.OutputDir(), outputStem)
	stderr := &cappedBuffer{limit: stderrLimit}

	cmd := exec.CommandContext(ctx, p.bin, p.Args(sb.InputPath(), prefix)...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	process.Isolate(cmd)

	runErr := cmd.Run()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if runErr != nil {
		detail := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) && exitErr.ExitCode() == exitOpenError {
			return nil, fmt.Errorf("%w: pdftoppm: %s", ErrMalformedDocument, detail)
		}
		return nil, fmt.Errorf("%w: pdftoppm: %v: %s", ErrRenderFailed, runErr, detail)
	}

	buf, err := os.ReadFile(prefix + ".png")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrMissingOutput
		}
		return nil, fmt.Errorf("%w: read output: %v", sandbox.ErrSandbox, err)
	}
	if len(buf) == 0 {
		return nil, ErrMissingOutput
	}
	w, h, err := pngSize(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: output is not a PNG: %v", ErrRenderFailed, err)
	}
	return &Page{PNG: buf, Width: w, Height: h}, nil
}

// cappedBuffer keeps the first limit bytes written and discards the rest.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.limit - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	return c.buf.String()
}
