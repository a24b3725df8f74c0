package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"

	"pdf2image/internal/config"
	"pdf2image/internal/conversion"
	"pdf2image/internal/domain"
	"pdf2image/internal/infra/logging"
	"pdf2image/internal/infra/workers"
)

// Response headers set on every conversion.
const (
	HeaderCorrelationID  = "X-Correlation-Id"
	HeaderProcessingTime = "X-Processing-Time-Ms"
	HeaderOriginalSize   = "X-Original-Size"
	HeaderConvertedSize  = "X-Converted-Size"
)

// CorrelationLocal is the fiber locals key holding the request's correlation id.
const CorrelationLocal = "correlation_id"

const formField = "pdf"

// Converter is the part of the orchestrator the handlers depend on.
type Converter interface {
	Convert(ctx context.Context, input []byte, rc domain.RequestContext) (*domain.Output, error)
	Backend() string
	MaxBytes() int
	Stats() workers.Stats
}

// ErrorBody is the uniform JSON failure payload.
type ErrorBody struct {
	Error            string `json:"error"`
	Message          string `json:"message"`
	CorrelationID    string `json:"correlationId"`
	ProcessingTimeMs int64  `json:"processingTimeMs"`
}

// ConvertService bundles configuration and the converter for the HTTP handlers.
type ConvertService struct {
	Config    *config.Config
	Converter Converter
}

// NewConvertService creates a new ConvertService instance.
func NewConvertService(cfg config.Config, conv Converter) *ConvertService {
	return &ConvertService{
		Config:    &cfg,
		Converter: conv,
	}
}

// HandleConvert converts the PDF uploaded in multipart field "pdf".
// A missing field or a non-multipart body is treated as empty input.
func (svc *ConvertService) HandleConvert(c *fiber.Ctx) error {
	var input []byte
	if fh, err := c.FormFile(formField); err == nil {
		f, err := fh.Open()
		if err != nil {
			return svc.respond(c, nil)
		}
		defer f.Close()
		// One byte past the limit is enough for the converter to reject it.
		input, err = io.ReadAll(io.LimitReader(f, int64(svc.Converter.MaxBytes())+1))
		if err != nil {
			logging.Warn("Reading upload failed", "error", err, "path", c.Path())
			input = nil
		}
	}
	return svc.respond(c, input)
}

// HandleConvertRaw converts a raw application/pdf request body.
func (svc *ConvertService) HandleConvertRaw(c *fiber.Ctx) error {
	var input []byte
	if isPDFContentType(c.Get(fiber.HeaderContentType)) {
		input = bytes.Clone(c.Body())
	}
	return svc.respond(c, input)
}

// HandleHealth reports liveness together with the service name.
func (svc *ConvertService) HandleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"service":   svc.Config.Service.Name,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleRendererStats exposes the active backend and render slot usage.
func (svc *ConvertService) HandleRendererStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"backend": svc.Converter.Backend(),
		"scale":   svc.Config.Renderer.Scale,
		"dpi":     svc.Config.Renderer.DPI(),
		"slots":   svc.Converter.Stats(),
	})
}

func (svc *ConvertService) respond(c *fiber.Ctx, input []byte) error {
	rc := domain.NewRequestContext(CorrelationID(c), len(input))

	ctx, cancel := context.WithTimeout(c.UserContext(), svc.Config.Renderer.Timeout())
	defer cancel()

	out, err := svc.Converter.Convert(ctx, input, rc)

	c.Set(HeaderCorrelationID, rc.CorrelationID)
	c.Set(HeaderOriginalSize, strconv.Itoa(rc.OriginalSize))
	if err != nil {
		ce := domain.AsConversionError(err)
		c.Set(HeaderProcessingTime, strconv.FormatInt(ce.ProcessingTimeMs(), 10))
		return WriteError(c, StatusFor(ce), ce, rc.CorrelationID)
	}

	c.Set(HeaderProcessingTime, strconv.FormatInt(out.ProcessingTimeMs(), 10))
	c.Set(HeaderConvertedSize, strconv.Itoa(out.Size()))
	c.Set(fiber.HeaderContentType, "image/png")
	return c.Status(fiber.StatusOK).Send(out.Image)
}

// StatusFor maps an error kind onto an HTTP status.
func StatusFor(ce *domain.ConversionError) int {
	switch ce.Kind {
	case domain.KindInvalidInput:
		if errors.Is(ce, conversion.ErrInputTooLarge) {
			return fiber.StatusRequestEntityTooLarge
		}
		return fiber.StatusBadRequest
	case domain.KindMalformedDocument:
		return fiber.StatusBadRequest
	case domain.KindTimeout:
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

// WriteError sends the uniform JSON failure body.
func WriteError(c *fiber.Ctx, status int, ce *domain.ConversionError, correlationID string) error {
	return c.Status(status).JSON(ErrorBody{
		Error:            string(ce.Kind),
		Message:          ce.Message,
		CorrelationID:    correlationID,
		ProcessingTimeMs: ce.ProcessingTimeMs(),
	})
}

// CorrelationID returns the id set by the correlation middleware, then the
// request header, and generates one when neither is present.
func CorrelationID(c *fiber.Ctx) string {
	if id, ok := c.Locals(CorrelationLocal).(string); ok && id != "" {
		return utils.CopyString(id)
	}
	if id := c.Get(HeaderCorrelationID); id != "" {
		return utils.CopyString(id)
	}
	return uuid.NewString()
}

func isPDFContentType(v string) bool {
	mt, _, err := mime.ParseMediaType(v)
	return err == nil && mt == "application/pdf"
}
