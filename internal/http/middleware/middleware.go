package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	redisStorage "github.com/gofiber/storage/redis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"

	"pdf2image/internal/config"
	"pdf2image/internal/domain"
	"pdf2image/internal/http/handlers"
	"pdf2image/internal/infra/logging"
)

// Register attaches global middleware to the app. rdb may be nil, in which
// case readiness does not depend on redis.
func Register(app *fiber.App, cfg config.Config, rdb *redis.Client) {
	app.Use(cors.New(cors.Config{
		ExposeHeaders: "X-Request-Id, " + handlers.HeaderCorrelationID + ", " +
			handlers.HeaderProcessingTime + ", " + handlers.HeaderOriginalSize + ", " +
			handlers.HeaderConvertedSize,
	}))

	app.Use(requestid.New(requestid.Config{
		Generator: func() string {
			return xid.New().String()
		},
	}))

	app.Use(requestid.New(requestid.Config{
		Header:     handlers.HeaderCorrelationID,
		Generator:  uuid.NewString,
		ContextKey: handlers.CorrelationLocal,
	}))

	app.Use(healthcheck.New(healthcheck.Config{
		LivenessEndpoint:  "/ops/live",
		ReadinessEndpoint: "/ops/ready",
		ReadinessProbe: func(c *fiber.Ctx) bool {
			return redisReady(c.UserContext(), rdb)
		},
	}))

	if cfg.RateLimiter.UserLimit > 0 {
		app.Use(userRateLimitMiddleware(cfg, rateLimitStorage(cfg)))
	}

	app.Use(func(c *fiber.Ctx) error {
		logging.Info("Incoming request",
			"method", c.Method(),
			"path", c.Path(),
			"request_id", c.GetRespHeader(fiber.HeaderXRequestID),
			"correlation_id", c.GetRespHeader(handlers.HeaderCorrelationID),
		)
		return c.Next()
	})
}

func redisReady(ctx context.Context, rdb *redis.Client) bool {
	if rdb == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logging.Warn("Readiness probe failed", "error", err)
		return false
	}
	return true
}

// rateLimitStorage prefers redis so limits hold across processes, falling back
// to memory when no host is configured or the client cannot be built.
func rateLimitStorage(cfg config.Config) (store fiber.Storage) {
	store = memoryStorage.New()
	if cfg.Cache.RedisHost == "" {
		return store
	}

	defer func() {
		if r := recover(); r != nil {
			logging.Error("Redis limiter store init panicked, falling back to memory", "panic", r)
		}
	}()
	store = redisStorage.New(redisStorage.Config{
		Addrs:    []string{cfg.Cache.RedisHost},
		Database: cfg.Cache.RateLimitDB,
	})
	logging.Info("Using Redis for rate limiting", "addr", cfg.Cache.RedisHost, "db", cfg.Cache.RateLimitDB)
	return store
}

func clientKey(c *fiber.Ctx) string {
	sum := sha256.Sum256([]byte(c.IP() + c.Get(fiber.HeaderUserAgent)))
	return hex.EncodeToString(sum[:])
}

// userRateLimitMiddleware limits requests per client (IP and User-Agent).
func userRateLimitMiddleware(cfg config.Config, store fiber.Storage) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:               cfg.RateLimiter.UserLimit,
		Expiration:        cfg.RateLimiter.Interval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           store,
		KeyGenerator:      clientKey,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		LimitReached: func(c *fiber.Ctx) error {
			logging.Warn("Rate limit exceeded", "user", clientKey(c), "path", c.Path())
			ce := domain.NewConversionError(domain.KindResourceError, "Too Many Requests", 0, nil)
			return handlers.WriteError(c, fiber.StatusTooManyRequests, ce, handlers.CorrelationID(c))
		},
	})
}
