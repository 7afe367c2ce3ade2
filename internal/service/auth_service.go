package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/stagewatch/stagewatch/internal/config"
	"github.com/stagewatch/stagewatch/internal/domain"
	"github.com/stagewatch/stagewatch/internal/pkg/database"
	apperrors "github.com/stagewatch/stagewatch/internal/pkg/errors"
	"github.com/stagewatch/stagewatch/internal/pkg/id"
)

// IngestKeyRepository defines ingest key repository operations
type IngestKeyRepository interface {
	GetIngestKeyByPublicKey(ctx context.Context, publicKey string) (*domain.IngestKey, error)
	CreateIngestKey(ctx context.Context, key *domain.IngestKey) error
	ListIngestKeys(ctx context.Context, runID uuid.UUID) ([]domain.IngestKey, error)
	TouchIngestKey(ctx context.Context, id uuid.UUID) error
}

// AuthAuditLogger defines the audit hooks the auth service calls
type AuthAuditLogger interface {
	LogLogin(ctx context.Context, email, ipAddress, requestID string) error
	LogLoginFailed(ctx context.Context, email, ipAddress, requestID, reason string) error
	LogIngestKeyIssued(ctx context.Context, actor string, runID, keyID uuid.UUID, publicKey string) error
}

// cachedIngestKey is the redis-cached projection of an ingest key,
// enough to authenticate without a Postgres roundtrip.
type cachedIngestKey struct {
	KeyID uuid.UUID `json:"keyId"`
	RunID uuid.UUID `json:"runId"`
	Hash  string    `json:"hash"`
}

// AuthService handles operator authentication and ingest key
// verification. There is a single config-provisioned operator; ingest
// keys are per-run credentials for stage event producers.
type AuthService struct {
	cfg         *config.Config
	keyRepo     IngestKeyRepository
	keyCache    *database.Cache
	auditLogger AuthAuditLogger
}

// NewAuthService creates a new auth service. keyCache may be nil, in
// which case every ingest key lookup goes to Postgres.
func NewAuthService(cfg *config.Config, keyRepo IngestKeyRepository, keyCache *database.Cache) *AuthService {
	return &AuthService{
		cfg:      cfg,
		keyRepo:  keyRepo,
		keyCache: keyCache,
	}
}

// SetAuditLogger sets the audit logger for the auth service.
// This allows optional audit logging without making it a required dependency.
func (s *AuthService) SetAuditLogger(logger AuthAuditLogger) {
	s.auditLogger = logger
}

// Login authenticates the operator with email and password
func (s *AuthService) Login(ctx context.Context, input *domain.LoginInput) (*domain.AuthResult, error) {
	return s.LoginWithContext(ctx, input, "", "")
}

// LoginWithContext authenticates the operator with request context for
// audit logging
func (s *AuthService) LoginWithContext(ctx context.Context, input *domain.LoginInput, ipAddress, requestID string) (*domain.AuthResult, error) {
	if !s.operatorCredentialsValid(input.Email, input.Password) {
		if s.auditLogger != nil {
			go func() {
				_ = s.auditLogger.LogLoginFailed(context.Background(), input.Email, ipAddress, requestID, "invalid credentials")
			}()
		}
		return nil, apperrors.Unauthorized("invalid credentials")
	}

	token, expiresAt, err := s.generateOperatorToken(input.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	if s.auditLogger != nil {
		go func() {
			_ = s.auditLogger.LogLogin(context.Background(), input.Email, ipAddress, requestID)
		}()
	}

	return &domain.AuthResult{
		Token:     token,
		ExpiresAt: expiresAt,
		Email:     input.Email,
	}, nil
}

// ValidateToken parses and verifies an operator JWT
func (s *AuthService) ValidateToken(ctx context.Context, tokenString string) (*domain.OperatorClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &domain.OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.JWT.Secret), nil
	})

	if err != nil {
		return nil, apperrors.Unauthorized("invalid token")
	}

	claims, ok := token.Claims.(*domain.OperatorClaims)
	if !ok || !token.Valid {
		return nil, apperrors.Unauthorized("invalid token")
	}

	return claims, nil
}

// ValidateIngestKey verifies a public/secret ingest key pair and
// returns the run it belongs to. Successful lookups are cached so the
// hot ingest path avoids Postgres; the bcrypt comparison always runs.
func (s *AuthService) ValidateIngestKey(ctx context.Context, publicKey, secretKey string) (uuid.UUID, error) {
	if publicKey == "" || secretKey == "" {
		return uuid.Nil, apperrors.Unauthorized("missing ingest key")
	}

	if entry, ok := s.cachedKey(ctx, publicKey); ok {
		if !s.verifySecretKey(secretKey, entry.Hash) {
			return uuid.Nil, apperrors.Unauthorized("invalid ingest key")
		}
		s.touchAsync(entry.KeyID)
		return entry.RunID, nil
	}

	key, err := s.keyRepo.GetIngestKeyByPublicKey(ctx, publicKey)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return uuid.Nil, apperrors.Unauthorized("invalid ingest key")
		}
		return uuid.Nil, fmt.Errorf("failed to get ingest key: %w", err)
	}

	if !s.verifySecretKey(secretKey, key.SecretKeyHash) {
		return uuid.Nil, apperrors.Unauthorized("invalid ingest key")
	}

	s.cacheKey(ctx, key)
	s.touchAsync(key.ID)

	return key.RunID, nil
}

// MintIngestKey generates a new ingest key pair for a run without
// persisting it. The caller stores the key; the clear secret is
// returned exactly once.
func (s *AuthService) MintIngestKey(runID uuid.UUID) (*domain.IngestKey, string, error) {
	publicKey := id.NewIngestKeyPublic()
	secretKey := id.NewIngestKeySecret()

	hash, err := bcrypt.GenerateFromPassword([]byte(secretKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash ingest key: %w", err)
	}

	key := &domain.IngestKey{
		ID:               uuid.New(),
		RunID:            runID,
		PublicKey:        publicKey,
		SecretKeyHash:    string(hash),
		SecretKeyPreview: secretKey[len(secretKey)-4:],
		CreatedAt:        time.Now(),
	}

	return key, secretKey, nil
}

// IssueIngestKey creates and persists an additional ingest key for an
// existing run
func (s *AuthService) IssueIngestKey(ctx context.Context, runID uuid.UUID, actor string) (*domain.IngestKeyCreateResult, error) {
	key, secret, err := s.MintIngestKey(runID)
	if err != nil {
		return nil, err
	}

	if err := s.keyRepo.CreateIngestKey(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to create ingest key: %w", err)
	}

	if s.auditLogger != nil {
		go func() {
			_ = s.auditLogger.LogIngestKeyIssued(context.Background(), actor, runID, key.ID, key.PublicKey)
		}()
	}

	return &domain.IngestKeyCreateResult{
		IngestKey: key,
		SecretKey: secret,
	}, nil
}

// ListIngestKeys lists the ingest keys of a run. Secret hashes never
// leave the domain type's json:"-" field.
func (s *AuthService) ListIngestKeys(ctx context.Context, runID uuid.UUID) ([]domain.IngestKey, error) {
	return s.keyRepo.ListIngestKeys(ctx, runID)
}

// operatorCredentialsValid compares the presented credentials against
// the provisioned operator. A bcrypt hash takes precedence; the plain
// password form exists for development setups.
func (s *AuthService) operatorCredentialsValid(email, password string) bool {
	if s.cfg.Auth.OperatorEmail == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(email), []byte(s.cfg.Auth.OperatorEmail)) != 1 {
		return false
	}

	if s.cfg.Auth.OperatorPasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(s.cfg.Auth.OperatorPasswordHash), []byte(password)) == nil
	}
	if s.cfg.Auth.OperatorPassword != "" {
		return subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.Auth.OperatorPassword)) == 1
	}

	return false
}

// generateOperatorToken generates a signed operator JWT
func (s *AuthService) generateOperatorToken(email string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.JWT.Expiry)

	claims := &domain.OperatorClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator",
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.cfg.JWT.Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWT.Secret))
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// verifySecretKey verifies a secret key against its bcrypt hash
func (s *AuthService) verifySecretKey(secretKey, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secretKey)) == nil
}

func (s *AuthService) cachedKey(ctx context.Context, publicKey string) (*cachedIngestKey, bool) {
	if s.keyCache == nil {
		return nil, false
	}

	raw, ok := s.keyCache.Get(ctx, cacheKeyFor(publicKey))
	if !ok {
		return nil, false
	}

	var entry cachedIngestKey
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, false
	}
	return &entry, true
}

func (s *AuthService) cacheKey(ctx context.Context, key *domain.IngestKey) {
	if s.keyCache == nil {
		return
	}

	raw, err := json.Marshal(&cachedIngestKey{
		KeyID: key.ID,
		RunID: key.RunID,
		Hash:  key.SecretKeyHash,
	})
	if err != nil {
		return
	}
	_ = s.keyCache.Set(ctx, cacheKeyFor(key.PublicKey), string(raw))
}

// touchAsync updates the key's last-used timestamp off the hot path
func (s *AuthService) touchAsync(keyID uuid.UUID) {
	go func() {
		_ = s.keyRepo.TouchIngestKey(context.Background(), keyID)
	}()
}

func cacheKeyFor(publicKey string) string {
	return "ingestkey:" + publicKey
}
