package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// LoggerConfig configures the request logging middleware
type LoggerConfig struct {
	Logger *zap.Logger
	// Skip returns true for requests that should not be logged
	Skip func(*fiber.Ctx) bool
	// SlowThreshold adds a separate warning for requests slower than this.
	// Zero disables the check.
	SlowThreshold time.Duration
	// IncludeHeaders adds scrubbed request headers to each entry
	IncludeHeaders bool
}

// DefaultLoggerConfig returns default logger config
func DefaultLoggerConfig(logger *zap.Logger) LoggerConfig {
	return LoggerConfig{
		Logger:        logger,
		Skip:          HealthSkipper,
		SlowThreshold: 5 * time.Second,
	}
}

// LoggerMiddleware logs one line per request
type LoggerMiddleware struct {
	config LoggerConfig
}

// NewLoggerMiddleware creates a new logger middleware
func NewLoggerMiddleware(config LoggerConfig) *LoggerMiddleware {
	return &LoggerMiddleware{
		config: config,
	}
}

// Handler returns the logging handler. It expects the RequestID
// middleware to have run first so the request ID is already in locals.
func (m *LoggerMiddleware) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m.config.Skip != nil && m.config.Skip(c) {
			return c.Next()
		}

		start := time.Now()

		err := c.Next()

		latency := time.Since(start)

		fields := []zap.Field{
			zap.String("request_id", GetRequestID(c)),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("query", string(c.Request().URI().QueryString())),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("latency", latency),
			zap.String("ip", c.IP()),
			zap.String("user_agent", c.Get("User-Agent")),
		}

		// Auth middleware has run by now, so run/operator context is set
		// for authenticated routes.
		if runID, ok := GetRunID(c); ok {
			fields = append(fields, zap.String("run_id", runID.String()))
		}
		if email, ok := GetOperatorEmail(c); ok {
			fields = append(fields, zap.String("operator", email))
		}

		if m.config.IncludeHeaders {
			fields = append(fields, zap.Any("headers", scrubbedHeaders(c)))
		}

		if err != nil {
			fields = append(fields, zap.Error(err))
		}

		status := c.Response().StatusCode()
		switch {
		case status >= 500:
			m.config.Logger.Error("request completed", fields...)
		case status >= 400:
			m.config.Logger.Warn("request completed", fields...)
		default:
			m.config.Logger.Info("request completed", fields...)
		}

		if m.config.SlowThreshold > 0 && latency > m.config.SlowThreshold {
			m.config.Logger.Warn("slow request",
				zap.String("request_id", GetRequestID(c)),
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Duration("latency", latency),
			)
		}

		return err
	}
}

// scrubbedHeaders copies request headers minus credentials
func scrubbedHeaders(c *fiber.Ctx) map[string]string {
	headers := make(map[string]string)
	c.Request().Header.VisitAll(func(key, value []byte) {
		switch k := string(key); k {
		case "Authorization", "Cookie", HeaderIngestSecretKey:
			// never logged
		default:
			headers[k] = string(value)
		}
	})
	return headers
}

// HealthSkipper skips probe and scrape endpoints, which would otherwise
// dominate the log volume
func HealthSkipper(c *fiber.Ctx) bool {
	switch c.Path() {
	case "/health", "/healthz", "/ready", "/readyz", "/live", "/livez", "/metrics":
		return true
	}
	return false
}
