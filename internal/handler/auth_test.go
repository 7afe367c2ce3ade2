package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/domain"
	apperrors "github.com/stagewatch/stagewatch/internal/pkg/errors"
)

// MockOperatorAuthenticator mocks operator login
type MockOperatorAuthenticator struct {
	mock.Mock
}

func (m *MockOperatorAuthenticator) LoginWithContext(ctx context.Context, input *domain.LoginInput, ipAddress, requestID string) (*domain.AuthResult, error) {
	args := m.Called(ctx, input, ipAddress, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AuthResult), args.Error(1)
}

func setupAuthApp(auth *MockOperatorAuthenticator) *fiber.App {
	app := fiber.New()
	h := NewAuthHandler(auth, zap.NewNop())
	app.Post("/v1/auth/login", h.Login)
	return app
}

func TestAuthHandler_Login(t *testing.T) {
	t.Run("returns token for valid credentials", func(t *testing.T) {
		auth := new(MockOperatorAuthenticator)
		app := setupAuthApp(auth)

		expiresAt := time.Now().Add(24 * time.Hour).Truncate(time.Second)
		auth.On("LoginWithContext", mock.Anything, mock.MatchedBy(func(input *domain.LoginInput) bool {
			return input.Email == "ops@example.com"
		}), mock.Anything, mock.Anything).Return(&domain.AuthResult{
			Token:     "jwt-token",
			ExpiresAt: expiresAt,
			Email:     "ops@example.com",
		}, nil)

		body, _ := json.Marshal(domain.LoginInput{Email: "ops@example.com", Password: "correct-horse"})
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result domain.AuthResult
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.Equal(t, "jwt-token", result.Token)
		assert.Equal(t, "ops@example.com", result.Email)
	})

	t.Run("rejects invalid credentials with 401", func(t *testing.T) {
		auth := new(MockOperatorAuthenticator)
		app := setupAuthApp(auth)

		auth.On("LoginWithContext", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, apperrors.Unauthorized("invalid credentials"))

		body, _ := json.Marshal(domain.LoginInput{Email: "ops@example.com", Password: "wrong-password"})
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		auth := new(MockOperatorAuthenticator)
		app := setupAuthApp(auth)

		body, _ := json.Marshal(map[string]string{"email": "ops@example.com"})
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		auth.AssertNotCalled(t, "LoginWithContext")
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		auth := new(MockOperatorAuthenticator)
		app := setupAuthApp(auth)

		req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", bytes.NewReader([]byte("not json")))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
