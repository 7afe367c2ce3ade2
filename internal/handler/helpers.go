package handler

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/stagewatch/stagewatch/internal/pkg/errors"
	"github.com/stagewatch/stagewatch/internal/pkg/pagination"
)

// ErrorResponse represents a standardized error response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// errorResponse creates a standardized JSON error response.
func errorResponse(c *fiber.Ctx, statusCode int, message string) error {
	return c.Status(statusCode).JSON(ErrorResponse{
		Error:   statusText(statusCode),
		Message: message,
	})
}

// serviceError maps a service-layer error onto an HTTP response. AppErrors
// carry their own status code and error code; anything else is a 500 that
// gets logged but never echoed to the caller.
func serviceError(c *fiber.Ctx, logger *zap.Logger, err error) error {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return c.Status(appErr.StatusCode).JSON(ErrorResponse{
			Error:   appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		})
	}

	logger.Error("unhandled service error",
		zap.String("path", c.Path()),
		zap.String("method", c.Method()),
		zap.Error(err),
	)
	return errorResponse(c, fiber.StatusInternalServerError, "An unexpected error occurred")
}

func statusText(statusCode int) string {
	switch statusCode {
	case fiber.StatusBadRequest:
		return "Bad Request"
	case fiber.StatusUnauthorized:
		return "Unauthorized"
	case fiber.StatusForbidden:
		return "Forbidden"
	case fiber.StatusNotFound:
		return "Not Found"
	case fiber.StatusConflict:
		return "Conflict"
	case fiber.StatusUnprocessableEntity:
		return "Unprocessable Entity"
	case fiber.StatusTooManyRequests:
		return "Too Many Requests"
	case fiber.StatusServiceUnavailable:
		return "Service Unavailable"
	case fiber.StatusInternalServerError:
		return "Internal Server Error"
	}
	return "Error"
}

// parseRunID parses the :runId path parameter. The returned error is a
// fiber error the handler should return as-is.
func parseRunID(c *fiber.Ctx) (uuid.UUID, error) {
	runID, err := uuid.Parse(c.Params("runId"))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "Invalid run ID")
	}
	return runID, nil
}

// parsePageParams extracts cursor pagination parameters from the query
// string. An undecodable cursor falls back to the first page rather than
// failing the request.
func parsePageParams(c *fiber.Ctx) *pagination.Params {
	limit := parseQueryInt(c, "limit", 0)
	params, err := pagination.NewParams(limit, c.Query("cursor"))
	if err != nil {
		params, _ = pagination.NewParams(limit, "")
	}
	return params
}

// parseQueryInt parses an integer query parameter with a default value.
func parseQueryInt(c *fiber.Ctx, key string, defaultValue int) int {
	val := c.Query(key)
	if val == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return intVal
}
