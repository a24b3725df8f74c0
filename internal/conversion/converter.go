// Package conversion orchestrates a single-page conversion: input validation,
// render slot and sandbox lifecycle, backend invocation, timing and error
// classification.
package conversion

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"pdf2image/internal/config"
	"pdf2image/internal/domain"
	"pdf2image/internal/infra/logging"
	"pdf2image/internal/infra/workers"
	"pdf2image/internal/metrics"
	"pdf2image/internal/raster"
	"pdf2image/internal/sandbox"
)

// Client-visible messages. They never carry paths or renderer output.
const (
	msgNoData      = "No PDF data provided"
	msgTooLarge    = "PDF exceeds the maximum allowed size"
	msgMalformed   = "Input is not a valid PDF document"
	msgNoPages     = "No pages were rendered"
	msgRender      = "Failed to render PDF page"
	msgResources   = "Conversion resources unavailable"
	msgTimeout     = "Conversion exceeded the time limit"
	msgCanceled    = "Conversion was cancelled"
	outcomeSuccess = "success"
)

// ErrInputTooLarge is the cause attached to InvalidInput failures for oversized
// documents, so transports can answer with a size-specific status.
var ErrInputTooLarge = errors.New("input exceeds size limit")

// Converter is safe for concurrent use. It holds no per-request state.
type Converter struct {
	raster    raster.Rasterizer
	sandboxes sandbox.Provider
	slots     *workers.Pool
	maxBytes  int
}

type Option func(*Converter)

// WithMaxBytes sets the largest accepted input.
func WithMaxBytes(n int) Option {
	return func(c *Converter) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// WithSlots sets the pool bounding concurrent renders.
func WithSlots(p *workers.Pool) Option {
	return func(c *Converter) {
		if p != nil {
			c.slots = p
		}
	}
}

// New creates a Converter around one backend and its sandbox provider.
func New(r raster.Rasterizer, sb sandbox.Provider, opts ...Option) *Converter {
	c := &Converter{
		raster:    r,
		sandboxes: sb,
		maxBytes:  config.DefaultMaxPDFBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.slots == nil {
		c.slots = workers.NewPool(runtime.GOMAXPROCS(0))
	}
	if c.sandboxes == nil {
		c.sandboxes = sandbox.Memory{}
	}
	return c
}

// Build constructs the configured backend and the sandbox provider it needs.
// Scratch space left over from a previous process is swept first.
func Build(cfg config.Config) (*Converter, error) {
	r, err := raster.New(cfg.Renderer)
	if err != nil {
		return nil, err
	}

	var provider sandbox.Provider = sandbox.Memory{}
	if r.RequiresScratch() {
		s, err := sandbox.NewScratch(cfg.Sandbox.Dir)
		if err != nil {
			return nil, err
		}
		if n, err := s.Sweep(cfg.Sandbox.SweepAfter); err != nil {
			logging.Warn("Scratch sweep incomplete", "dir", s.Base, "removed", n, "error", err)
		} else if n > 0 {
			logging.Info("Removed stale scratch entries", "dir", s.Base, "removed", n)
		}
		provider = s
	}

	logging.Info("Renderer ready",
		"backend", r.Name(),
		"scale", cfg.Renderer.Scale,
		"max_concurrent", cfg.Renderer.MaxConcurrent,
	)
	return New(r, provider,
		WithMaxBytes(cfg.Limits.MaxPDFBytes),
		WithSlots(workers.NewPool(cfg.Renderer.MaxConcurrent)),
	), nil
}

// Backend is the active backend name.
func (c *Converter) Backend() string { return c.raster.Name() }

// MaxBytes is the largest accepted input.
func (c *Converter) MaxBytes() int { return c.maxBytes }

// Stats reports render slot usage.
func (c *Converter) Stats() workers.Stats { return c.slots.Stats() }

// Close stops accepting conversions and releases the backend.
func (c *Converter) Close() error {
	c.slots.Close()
	return c.raster.Close()
}

// Convert renders page 1 of input. Every returned error is a
// *domain.ConversionError. Scratch storage is released before Convert returns,
// whatever the outcome. The render slot is held until the backend returns,
// which for an abandoned in-process render can be after Convert.
func (c *Converter) Convert(ctx context.Context, input []byte, rc domain.RequestContext) (out *domain.Output, err error) {
	start := time.Now()
	defer func() { c.observe(rc, start, len(input), out, err) }()

	if len(input) == 0 {
		return nil, fail(start, domain.KindInvalidInput, msgNoData, nil)
	}
	if len(input) > c.maxBytes {
		return nil, fail(start, domain.KindInvalidInput, msgTooLarge,
			fmt.Errorf("%w: %d bytes, limit %d", ErrInputTooLarge, len(input), c.maxBytes))
	}

	slot, acqErr := c.slots.Acquire(ctx)
	if acqErr != nil {
		return nil, classify(start, acqErr)
	}
	metrics.InFlight.Inc()
	freeSlot := func() {
		metrics.InFlight.Dec()
		c.slots.Release(slot)
	}
	detached := false
	defer func() {
		if !detached {
			freeSlot()
		}
	}()

	h, sbErr := c.sandboxes.Acquire(rc.CorrelationID)
	if sbErr != nil {
		_ = h.Release()
		return nil, fail(start, domain.KindResourceError, msgResources, sbErr)
	}
	defer c.release(h, rc)

	var page *raster.Page
	var renderErr error
	if c.raster.RequiresScratch() {
		page, renderErr = c.render(ctx, input, h)
	} else {
		page, detached, renderErr = c.renderDetached(ctx, input, h, func() {
			logging.Warn("Abandoned render finished",
				"correlation_id", rc.CorrelationID,
				"backend", c.raster.Name(),
				"held_ms", slot.Held().Milliseconds(),
			)
			freeSlot()
		})
	}
	if renderErr != nil {
		return nil, classify(start, renderErr)
	}
	if page == nil || len(page.PNG) == 0 {
		return nil, fail(start, domain.KindNoPagesRendered, msgNoPages, raster.ErrMissingOutput)
	}

	return &domain.Output{
		Image:          page.PNG,
		Width:          page.Width,
		Height:         page.Height,
		PageCount:      page.PageCount,
		ProcessingTime: time.Since(start),
	}, nil
}

// render invokes the backend, turning a panic into a render failure.
func (c *Converter) render(ctx context.Context, input []byte, h *sandbox.Handle) (page *raster.Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			page = nil
			err = fmt.Errorf("%w: panic: %v", raster.ErrRenderFailed, r)
		}
	}()
	return c.raster.RenderFirstPage(ctx, input, h)
}

// renderDetached runs an in-process backend on its own goroutine and stops
// waiting when ctx is done. MuPDF cannot be interrupted mid-page, so an
// abandoned render keeps its slot: onDone runs once it finally returns, and
// detached reports that ownership of the slot moved to that goroutine.
func (c *Converter) renderDetached(ctx context.Context, input []byte, h *sandbox.Handle, onDone func()) (page *raster.Page, detached bool, err error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	type result struct {
		page *raster.Page
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := c.render(ctx, input, h)
		ch <- result{page: p, err: err}
	}()

	select {
	case res := <-ch:
		return res.page, false, res.err
	case <-ctx.Done():
	}

	go func() {
		<-ch
		onDone()
	}()
	return nil, true, ctx.Err()
}

// release never escalates: the conversion result stands.
func (c *Converter) release(h *sandbox.Handle, rc domain.RequestContext) {
	if err := h.Release(); err != nil {
		metrics.SandboxCleanupFailures.Inc()
		logging.Error("Sandbox cleanup failed",
			"correlation_id", rc.CorrelationID,
			"backend", c.raster.Name(),
			"error", err,
		)
	}
}

func (c *Converter) observe(rc domain.RequestContext, start time.Time, inputLen int, out *domain.Output, err error) {
	backend := c.raster.Name()
	elapsed := time.Since(start)
	metrics.ConversionDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
	if inputLen > 0 {
		metrics.InputBytes.Observe(float64(inputLen))
	}

	if err != nil {
		ce := domain.AsConversionError(err)
		metrics.ConversionsTotal.WithLabelValues(backend, string(ce.Kind)).Inc()
		logging.Warn("Conversion failed",
			"correlation_id", rc.CorrelationID,
			"backend", backend,
			"kind", string(ce.Kind),
			"input_bytes", inputLen,
			"processing_ms", elapsed.Milliseconds(),
			"error", ce.Err,
		)
		return
	}

	metrics.ConversionsTotal.WithLabelValues(backend, outcomeSuccess).Inc()
	metrics.OutputBytes.Observe(float64(out.Size()))
	logging.Info("Conversion succeeded",
		"correlation_id", rc.CorrelationID,
		"backend", backend,
		"input_bytes", inputLen,
		"output_bytes", out.Size(),
		"pages", out.PageCount,
		"processing_ms", elapsed.Milliseconds(),
	)
}

func fail(start time.Time, kind domain.ErrorKind, msg string, cause error) *domain.ConversionError {
	return domain.NewConversionError(kind, msg, time.Since(start), cause)
}

// classify maps backend, sandbox and context failures onto error kinds.
func classify(start time.Time, err error) *domain.ConversionError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fail(start, domain.KindTimeout, msgTimeout, err)
	case errors.Is(err, context.Canceled):
		return fail(start, domain.KindTimeout, msgCanceled, err)
	case errors.Is(err, workers.ErrPoolClosed), errors.Is(err, sandbox.ErrSandbox):
		return fail(start, domain.KindResourceError, msgResources, err)
	case errors.Is(err, raster.ErrMalformedDocument):
		return fail(start, domain.KindMalformedDocument, msgMalformed, err)
	case errors.Is(err, raster.ErrNoPages), errors.Is(err, raster.ErrMissingOutput):
		return fail(start, domain.KindNoPagesRendered, msgNoPages, err)
	default:
		return fail(start, domain.KindRenderFailure, msgRender, err)
	}
}
