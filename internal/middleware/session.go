package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// IdentityKey is the fiber Locals key holding the session identity id.
const IdentityKey = "identity_id"

// SessionResolver turns a bearer token into an identity id.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

func bearer(c *fiber.Ctx) (string, bool) {
	authz := c.Get(fiber.HeaderAuthorization)
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(authz[len("Bearer "):])
	return token, token != ""
}

// RequireSession rejects requests without a valid bearer token.
func RequireSession(sessions SessionResolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := bearer(c)
		if !ok {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		identityID, err := sessions.Resolve(c.UserContext(), token)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid session")
		}
		c.Locals(IdentityKey, identityID)
		return c.Next()
	}
}

// OptionalSession attaches the identity when a valid token is present. Missing or
// invalid tokens leave the request anonymous.
func OptionalSession(sessions SessionResolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token, ok := bearer(c); ok {
			if identityID, err := sessions.Resolve(c.UserContext(), token); err == nil {
				c.Locals(IdentityKey, identityID)
			}
		}
		return c.Next()
	}
}
