package middleware

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CORSConfig configures the CORS middleware
type CORSConfig struct {
	// AllowOrigins lists allowed origins; "*" allows any, "*.example.com"
	// allows subdomains
	AllowOrigins []string
	// AllowMethods lists allowed methods
	AllowMethods []string
	// AllowHeaders lists allowed request headers
	AllowHeaders []string
	// ExposeHeaders lists response headers visible to browser clients
	ExposeHeaders []string
	// AllowCredentials indicates whether credentials are allowed
	AllowCredentials bool
	// MaxAge is the preflight cache lifetime in seconds
	MaxAge int
}

// DefaultCORSConfig returns default CORS config. The ingest key pair
// headers must be allowed or browser-based producers cannot ingest.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			fiber.MethodGet,
			fiber.MethodPost,
			fiber.MethodDelete,
			fiber.MethodOptions,
			fiber.MethodHead,
		},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
			HeaderIngestPublicKey,
			HeaderIngestSecretKey,
			HeaderRunID,
			"X-Request-ID",
			"Last-Event-ID",
		},
		ExposeHeaders: []string{
			"X-Request-ID",
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
			"X-RateLimit-Reset",
		},
		AllowCredentials: true,
		MaxAge:           86400,
	}
}

// ProductionCORSConfig returns CORS config restricted to the given origins
func ProductionCORSConfig(allowedOrigins []string) CORSConfig {
	config := DefaultCORSConfig()
	config.AllowOrigins = allowedOrigins
	return config
}

// CORSMiddleware creates a CORS middleware
type CORSMiddleware struct {
	config CORSConfig
}

// NewCORSMiddleware creates a new CORS middleware
func NewCORSMiddleware(config CORSConfig) *CORSMiddleware {
	return &CORSMiddleware{
		config: config,
	}
}

// Handler returns the CORS handler
func (m *CORSMiddleware) Handler() fiber.Handler {
	allowMethods := strings.Join(m.config.AllowMethods, ", ")
	allowHeaders := strings.Join(m.config.AllowHeaders, ", ")
	exposeHeaders := strings.Join(m.config.ExposeHeaders, ", ")

	return func(c *fiber.Ctx) error {
		origin := c.Get("Origin")

		allowOrigin := m.resolveOrigin(origin)
		if allowOrigin == "" && origin != "" {
			// Disallowed origin: pass through without CORS headers and
			// let the browser block the response.
			return c.Next()
		}

		c.Set("Access-Control-Allow-Origin", allowOrigin)
		if m.config.AllowCredentials {
			c.Set("Access-Control-Allow-Credentials", "true")
		}
		if exposeHeaders != "" {
			c.Set("Access-Control-Expose-Headers", exposeHeaders)
		}

		if c.Method() == fiber.MethodOptions {
			c.Set("Access-Control-Allow-Methods", allowMethods)
			c.Set("Access-Control-Allow-Headers", allowHeaders)
			if m.config.MaxAge > 0 {
				c.Set("Access-Control-Max-Age", strconv.Itoa(m.config.MaxAge))
			}
			c.Set("Content-Length", "0")
			return c.SendStatus(fiber.StatusNoContent)
		}

		return c.Next()
	}
}

// resolveOrigin returns the Access-Control-Allow-Origin value for a
// request origin, or "" when the origin is not allowed
func (m *CORSMiddleware) resolveOrigin(origin string) string {
	if len(m.config.AllowOrigins) == 1 && m.config.AllowOrigins[0] == "*" {
		if m.config.AllowCredentials {
			// "*" is invalid with credentials, reflect the origin instead
			return origin
		}
		return "*"
	}

	for _, allowed := range m.config.AllowOrigins {
		if allowed == origin || allowed == "*" {
			return origin
		}
		// Wildcard subdomains, e.g. *.example.com
		if strings.HasPrefix(allowed, "*.") && strings.HasSuffix(origin, allowed[1:]) {
			return origin
		}
	}

	return ""
}
