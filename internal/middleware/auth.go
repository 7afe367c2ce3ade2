package middleware

import (
	"encoding/base64"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/stagewatch/stagewatch/internal/service"
)

// ContextKey type for context keys
type ContextKey string

const (
	// Context keys
	ContextKeyRunID         ContextKey = "runID"
	ContextKeyOperatorEmail ContextKey = "operatorEmail"
	ContextKeyAuthType      ContextKey = "authType"
)

// AuthType represents the type of authentication used
type AuthType string

const (
	AuthTypeIngestKey AuthType = "ingest_key"
	AuthTypeJWT       AuthType = "jwt"
)

// Header names for ingest key pair authentication and run targeting
const (
	HeaderIngestPublicKey = "X-Ingest-Public-Key"
	HeaderIngestSecretKey = "X-Ingest-Secret-Key"
	// HeaderRunID carries the target run for OTLP exports whose
	// resources do not set the stagewatch.run.id attribute.
	HeaderRunID = "X-Run-ID"
)

// AuthMiddleware handles authentication
type AuthMiddleware struct {
	authService *service.AuthService
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(authService *service.AuthService) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
	}
}

// RequireIngestKey validates ingest key pair authentication. The key pair is
// accepted either as Basic auth (public key as username, secret key as
// password) or via the X-Ingest-Public-Key / X-Ingest-Secret-Key headers.
func (m *AuthMiddleware) RequireIngestKey() fiber.Handler {
	return func(c *fiber.Ctx) error {
		publicKey, secretKey := extractIngestKeyPair(c)
		if publicKey == "" || secretKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "Unauthorized",
				"message": "Ingest key pair required",
			})
		}

		runID, err := m.authService.ValidateIngestKey(c.Context(), publicKey, secretKey)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "Unauthorized",
				"message": "Invalid ingest key",
			})
		}

		// Set context values
		c.Locals(string(ContextKeyRunID), runID)
		c.Locals(string(ContextKeyAuthType), AuthTypeIngestKey)

		return c.Next()
	}
}

// RequireJWT validates operator JWT authentication
func (m *AuthMiddleware) RequireJWT() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractBearerToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "Unauthorized",
				"message": "Authorization header required",
			})
		}

		claims, err := m.authService.ValidateToken(c.Context(), token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "Unauthorized",
				"message": "Invalid or expired token",
			})
		}

		// Set context values
		c.Locals(string(ContextKeyOperatorEmail), claims.Email)
		c.Locals(string(ContextKeyAuthType), AuthTypeJWT)

		return c.Next()
	}
}

// RequireRunAccess ensures the authenticated caller may touch the run named
// in the :runId path param. Ingest keys are bound to a single run; operator
// tokens may touch any run.
func (m *AuthMiddleware) RequireRunAccess() fiber.Handler {
	return func(c *fiber.Ctx) error {
		runIDParam := c.Params("runId")
		if runIDParam == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "Bad Request",
				"message": "Run ID required",
			})
		}

		runID, err := uuid.Parse(runIDParam)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "Bad Request",
				"message": "Invalid run ID",
			})
		}

		// Ingest keys are already validated against their run
		if authType, ok := c.Locals(string(ContextKeyAuthType)).(AuthType); ok && authType == AuthTypeIngestKey {
			keyRunID, ok := c.Locals(string(ContextKeyRunID)).(uuid.UUID)
			if ok && keyRunID == runID {
				return c.Next()
			}
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":   "Forbidden",
				"message": "Ingest key not valid for this run",
			})
		}

		// Operator tokens have full access
		if _, ok := c.Locals(string(ContextKeyOperatorEmail)).(string); !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "Unauthorized",
				"message": "Operator not authenticated",
			})
		}

		c.Locals(string(ContextKeyRunID), runID)
		return c.Next()
	}
}

// RequireAuth validates either an ingest key pair or an operator JWT
func (m *AuthMiddleware) RequireAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Try ingest key first
		publicKey, secretKey := extractIngestKeyPair(c)
		if publicKey != "" && secretKey != "" {
			runID, err := m.authService.ValidateIngestKey(c.Context(), publicKey, secretKey)
			if err == nil {
				c.Locals(string(ContextKeyRunID), runID)
				c.Locals(string(ContextKeyAuthType), AuthTypeIngestKey)
				return c.Next()
			}
		}

		// Try JWT
		token := extractBearerToken(c)
		if token != "" {
			claims, err := m.authService.ValidateToken(c.Context(), token)
			if err == nil {
				c.Locals(string(ContextKeyOperatorEmail), claims.Email)
				c.Locals(string(ContextKeyAuthType), AuthTypeJWT)
				return c.Next()
			}
		}

		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "Unauthorized",
			"message": "Valid authentication required",
		})
	}
}

// extractIngestKeyPair extracts the ingest key pair from the request
func extractIngestKeyPair(c *fiber.Ctx) (string, string) {
	// Check explicit headers
	publicKey := c.Get(HeaderIngestPublicKey)
	secretKey := c.Get(HeaderIngestSecretKey)
	if publicKey != "" && secretKey != "" {
		return publicKey, secretKey
	}

	// Check Basic auth (public key as username, secret key as password)
	auth := c.Get("Authorization")
	if strings.HasPrefix(auth, "Basic ") {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
		if err != nil {
			return "", ""
		}
		parts := strings.SplitN(string(decoded), ":", 2)
		if len(parts) == 2 && strings.HasPrefix(parts[0], "swk-pub-") {
			return parts[0], parts[1]
		}
	}

	return "", ""
}

// extractBearerToken extracts the operator JWT from the Authorization header
func extractBearerToken(c *fiber.Ctx) string {
	auth := c.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		token := strings.TrimPrefix(auth, "Bearer ")
		// Ingest keys never travel as bearer tokens
		if !strings.HasPrefix(token, "swk-") {
			return token
		}
	}
	return ""
}

// GetRunID gets the run ID from context
func GetRunID(c *fiber.Ctx) (uuid.UUID, bool) {
	runID, ok := c.Locals(string(ContextKeyRunID)).(uuid.UUID)
	return runID, ok
}

// GetOperatorEmail gets the operator email from context
func GetOperatorEmail(c *fiber.Ctx) (string, bool) {
	email, ok := c.Locals(string(ContextKeyOperatorEmail)).(string)
	return email, ok
}

// GetAuthType gets the authentication type from context
func GetAuthType(c *fiber.Ctx) (AuthType, bool) {
	authType, ok := c.Locals(string(ContextKeyAuthType)).(AuthType)
	return authType, ok
}
