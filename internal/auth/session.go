// Package auth verifies bearer sessions. Tokens are issued by the identity provider;
// Issue exists for operators and tests.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/biosync/biosync/internal/identity"
)

var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrInactiveSession = errors.New("identity is not active")
)

// Claims carried by a session token. Subject is the identity id.
type Claims struct {
	DeviceID string `json:"dispositivo_id,omitempty"`
	jwt.RegisteredClaims
}

// IdentityLookup confirms the session subject still exists.
type IdentityLookup interface {
	Get(ctx context.Context, id string) (identity.Identity, error)
}

// Sessions validates HS256 tokens.
type Sessions struct {
	secret     []byte
	identities IdentityLookup
	now        func() time.Time
}

// NewSessions builds a verifier. identities may be nil to skip the subject lookup.
func NewSessions(secret string, identities IdentityLookup) *Sessions {
	return &Sessions{secret: []byte(secret), identities: identities, now: time.Now}
}

// Resolve verifies the token and returns the identity id it names.
func (s *Sessions) Resolve(ctx context.Context, token string) (string, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if s.identities != nil {
		id, err := s.identities.Get(ctx, claims.Subject)
		if err != nil {
			return "", fmt.Errorf("session subject %s: %w", claims.Subject, err)
		}
		if id.State != identity.StateActive {
			return "", ErrInactiveSession
		}
	}
	return claims.Subject, nil
}

// Issue signs a token for identityID valid for ttl.
func (s *Sessions) Issue(identityID, deviceID string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
