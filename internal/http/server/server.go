package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"pdf2image/internal/config"
	"pdf2image/internal/conversion"
	"pdf2image/internal/domain"
	"pdf2image/internal/http/handlers"
	"pdf2image/internal/http/middleware"
	"pdf2image/internal/infra/logging"
)

// multipartOverhead is the slack allowed above the document limit for
// multipart boundaries and part headers.
const multipartOverhead = 1 << 20

// Deps are the collaborators the HTTP server is built from.
type Deps struct {
	Config    config.Config
	Redis     *redis.Client
	Converter handlers.Converter
}

// New creates and configures the fiber app.
func New(deps Deps) *fiber.App {
	cfg := deps.Config
	maxBytes := cfg.Limits.MaxPDFBytes
	if deps.Converter != nil {
		maxBytes = deps.Converter.MaxBytes()
	}

	app := fiber.New(fiber.Config{
		Prefork:               cfg.Server.Prefork,
		DisableStartupMessage: true,
		BodyLimit:             maxBytes + multipartOverhead,
		ErrorHandler:          errorHandler,
	})

	middleware.Register(app, cfg, deps.Redis)
	RegisterRoutes(app, cfg, deps.Converter)

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

// RegisterRoutes mounts all route handlers on the app.
func RegisterRoutes(app *fiber.App, cfg config.Config, conv handlers.Converter) {
	svc := handlers.NewConvertService(cfg, conv)

	app.Get("/health", svc.HandleHealth)
	app.Post("/convert", svc.HandleConvert)
	app.Post("/convert-raw", svc.HandleConvertRaw)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	v1 := app.Group("/v1")
	v1.Get("/renderer/stats", svc.HandleRendererStats)
	v1.Get("/monitor", monitor.New())
}

// errorHandler renders framework errors in the same shape as conversion
// failures. Oversized bodies rejected by fiber map to InvalidInput.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal Server Error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	}

	kind := domain.KindRenderFailure
	switch {
	case code == fiber.StatusRequestEntityTooLarge:
		kind = domain.KindInvalidInput
		msg = "PDF exceeds the maximum allowed size"
		err = conversion.ErrInputTooLarge
	case code < fiber.StatusInternalServerError:
		kind = domain.KindInvalidInput
	}

	logging.Warn("Request failed", "path", c.Path(), "status", code, "message", msg)

	ce := domain.NewConversionError(kind, msg, 0, err)
	return handlers.WriteError(c, code, ce, handlers.CorrelationID(c))
}
