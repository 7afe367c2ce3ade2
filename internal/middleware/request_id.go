package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// localRequestID is the fiber locals key the logger, recover and rate
// limit middleware read the ID back from.
const localRequestID = "requestID"

// RequestIDConfig configures the request ID middleware
type RequestIDConfig struct {
	// Header is the header key for the request ID
	Header string
	// Generator generates a new request ID
	Generator func() string
}

// DefaultRequestIDConfig returns default request ID config
func DefaultRequestIDConfig() RequestIDConfig {
	return RequestIDConfig{
		Header: "X-Request-ID",
		Generator: func() string {
			return uuid.New().String()
		},
	}
}

// RequestID assigns every request an ID, reusing one supplied by the caller
// so IDs stay stable across proxies. The ID is echoed in the response header
// and stored in locals where the logger and recover middleware pick it up.
func RequestID(config ...RequestIDConfig) fiber.Handler {
	cfg := DefaultRequestIDConfig()
	if len(config) > 0 {
		cfg = config[0]
	}

	return func(c *fiber.Ctx) error {
		requestID := c.Get(cfg.Header)
		if requestID == "" {
			requestID = cfg.Generator()
		}

		c.Set(cfg.Header, requestID)
		c.Locals(localRequestID, requestID)

		return c.Next()
	}
}

// GetRequestID returns the request's assigned ID, or "" before the
// RequestID middleware has run.
func GetRequestID(c *fiber.Ctx) string {
	if requestID, ok := c.Locals(localRequestID).(string); ok {
		return requestID
	}
	return ""
}
