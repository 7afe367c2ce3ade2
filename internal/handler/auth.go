package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/domain"
	"github.com/stagewatch/stagewatch/internal/middleware"
	apperrors "github.com/stagewatch/stagewatch/internal/pkg/errors"
	"github.com/stagewatch/stagewatch/internal/validator"
)

// OperatorAuthenticator verifies operator credentials and issues tokens
type OperatorAuthenticator interface {
	LoginWithContext(ctx context.Context, input *domain.LoginInput, ipAddress, requestID string) (*domain.AuthResult, error)
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	auth   OperatorAuthenticator
	logger *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(auth OperatorAuthenticator, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   auth,
		logger: logger,
	}
}

// Login handles POST /v1/auth/login
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var input domain.LoginInput
	if err := c.BodyParser(&input); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	if err := validator.Validate(&input); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.auth.LoginWithContext(c.Context(), &input, c.IP(), middleware.GetRequestID(c))
	if err != nil {
		if apperrors.IsUnauthorized(err) {
			return errorResponse(c, fiber.StatusUnauthorized, "Invalid email or password")
		}
		h.logger.Error("login failed", zap.Error(err))
		return errorResponse(c, fiber.StatusInternalServerError, "Login failed")
	}

	return c.JSON(result)
}
