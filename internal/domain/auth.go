package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginInput represents operator login credentials
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// AuthResult represents a successful operator login
type AuthResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Email     string    `json:"email"`
}

// OperatorClaims holds JWT claims for operator tokens
type OperatorClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}
