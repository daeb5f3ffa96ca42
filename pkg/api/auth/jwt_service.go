package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Common errors for JWT operations.
var (
	ErrInvalidToken        = errors.New("invalid token")
	ErrExpiredToken        = errors.New("token has expired")
	ErrTokenSigningFailed  = errors.New("failed to sign token")
	ErrInvalidSecretLength = errors.New("JWT secret must be at least 32 characters")
	ErrEmptySubject        = errors.New("token subject is required")
)

// MinSecretLength is the shortest accepted HMAC key.
const MinSecretLength = 32

// JWTConfig holds configuration for JWT token generation.
type JWTConfig struct {
	// Secret is the HMAC signing key. Must be at least 32 characters.
	Secret string

	// Issuer is the token issuer claim. Default: "stackd"
	Issuer string

	// TokenDuration is the default token lifetime. Default: 1 hour.
	TokenDuration time.Duration
}

// JWTService handles JWT token generation and validation.
type JWTService struct {
	config JWTConfig
	now    func() time.Time
}

// Token is a signed bearer token.
type Token struct {
	Token     string    `json:"token" yaml:"token"`
	TokenType string    `json:"token_type" yaml:"token_type"`
	ID        string    `json:"jti" yaml:"jti"`
	Subject   string    `json:"subject" yaml:"subject"`
	Scopes    []string  `json:"scopes" yaml:"scopes"`
	ExpiresAt time.Time `json:"expires_at" yaml:"expires_at"`
}

// NewJWTService creates a new JWT service with the given configuration.
func NewJWTService(config JWTConfig) (*JWTService, error) {
	if len(config.Secret) < MinSecretLength {
		return nil, ErrInvalidSecretLength
	}

	if config.Issuer == "" {
		config.Issuer = "stackd"
	}
	if config.TokenDuration == 0 {
		config.TokenDuration = time.Hour
	}

	return &JWTService{config: config, now: time.Now}, nil
}

// Issue signs a token for subject. A ttl <= 0 uses the configured duration;
// nil scopes grant DefaultScopes.
func (s *JWTService) Issue(subject string, ttl time.Duration, scopes []string) (*Token, error) {
	if subject == "" {
		return nil, ErrEmptySubject
	}
	if ttl <= 0 {
		ttl = s.config.TokenDuration
	}
	if scopes == nil {
		scopes = DefaultScopes
	}

	now := s.now()
	expiresAt := now.Add(ttl)
	id := uuid.NewString()

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Issuer:    s.config.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Scopes: scopes,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.Secret))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenSigningFailed, err)
	}

	return &Token{
		Token:     signed,
		TokenType: "Bearer",
		ID:        id,
		Subject:   subject,
		Scopes:    scopes,
		ExpiresAt: expiresAt.UTC(),
	}, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	},
		jwt.WithIssuer(s.config.Issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// TokenDuration returns the configured default lifetime.
func (s *JWTService) TokenDuration() time.Duration {
	return s.config.TokenDuration
}
