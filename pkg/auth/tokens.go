package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/covebase/cove/pkg/config"
)

// Token types carried in the claim set. A refresh token can only be
// exchanged for new tokens, never used to authorize a request.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// ErrInvalidToken is returned for tokens that fail verification,
// are expired, or carry the wrong type.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the JWT claim set for issued tokens.
type Claims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 access and refresh tokens.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenIssuer creates a token issuer from auth configuration.
func NewTokenIssuer(cfg config.AuthConfig) *TokenIssuer {
	return &TokenIssuer{
		secret:     []byte(cfg.JWTSecret),
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
	}
}

// IssueAccess signs a short-lived access token for a user.
func (i *TokenIssuer) IssueAccess(userID uuid.UUID) (string, error) {
	return i.issue(userID, TokenTypeAccess, i.accessTTL)
}

// IssueRefresh signs a long-lived refresh token for a user.
func (i *TokenIssuer) IssueRefresh(userID uuid.UUID) (string, error) {
	return i.issue(userID, TokenTypeRefresh, i.refreshTTL)
}

func (i *TokenIssuer) issue(userID uuid.UUID, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and returns the user it identifies. Tokens of
// the wrong type are rejected even when their signature is valid.
func (i *TokenIssuer) Parse(tokenString, wantType string) (uuid.UUID, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("invalid signing method")
		}
		return i.secret, nil
	})
	if err != nil || !parsed.Valid {
		return uuid.Nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return uuid.Nil, ErrInvalidToken
	}
	if claims.TokenType != wantType {
		return uuid.Nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return userID, nil
}
