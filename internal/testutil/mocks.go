// Package testutil provides shared test utilities for the StageWatch API.
package testutil

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/stagewatch/stagewatch/internal/middleware"
)

// TestOperatorMiddleware creates a middleware that sets an authenticated
// operator in context. Use this in tests to simulate JWT-authenticated requests.
func TestOperatorMiddleware(email string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(string(middleware.ContextKeyOperatorEmail), email)
		c.Locals(string(middleware.ContextKeyAuthType), middleware.AuthTypeJWT)
		return c.Next()
	}
}

// TestIngestKeyMiddleware creates a middleware that sets an ingest-key
// identity bound to the given run. Use this in tests to simulate
// key-authenticated producer requests.
func TestIngestKeyMiddleware(runID uuid.UUID) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(string(middleware.ContextKeyRunID), runID)
		c.Locals(string(middleware.ContextKeyAuthType), middleware.AuthTypeIngestKey)
		return c.Next()
	}
}
