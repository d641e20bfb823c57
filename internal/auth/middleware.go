package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"rocket-guard/internal/engine"
	"rocket-guard/internal/entity"
	"rocket-guard/internal/metadata"
)

// Config drives identity resolution.
type Config struct {
	JWTSecret       string
	AdminSecretHash string
	AdminHeader     string
}

// Middleware resolves the caller's identity and attaches it to the request
// context. A valid bearer token yields its claims. A correct admin secret
// yields ForceAdmin with claims taken from the request headers. No
// credentials yields an anonymous identity with no claims.
func Middleware(cfg Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, err := resolve(c, cfg)
		if err != nil {
			return err
		}
		c.Locals("user", user)
		c.SetUserContext(entity.WithRequest(c.UserContext(), &entity.Request{User: user}))
		return c.Next()
	}
}

func resolve(c *fiber.Ctx, cfg Config) (*metadata.UserContext, error) {
	if cfg.AdminHeader != "" {
		if secret := c.Get(cfg.AdminHeader); secret != "" {
			if cfg.AdminSecretHash == "" || !CheckSecret(secret, cfg.AdminSecretHash) {
				return nil, engine.UnauthorizedError("Invalid admin secret")
			}
			return &metadata.UserContext{Claims: headerClaims(c, cfg.AdminHeader), ForceAdmin: true}, nil
		}
	}

	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		return &metadata.UserContext{Claims: map[string]any{}}, nil
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, engine.UnauthorizedError("Invalid auth header format")
	}

	claims, err := ParseToken(parts[1], cfg.JWTSecret)
	if err != nil {
		return nil, engine.UnauthorizedError("Invalid or expired token")
	}
	return &metadata.UserContext{Claims: claims}, nil
}

// headerClaims turns request headers into claims, leaving out credentials.
func headerClaims(c *fiber.Ctx, adminHeader string) map[string]any {
	claims := make(map[string]any)
	for k, vals := range c.GetReqHeaders() {
		if strings.EqualFold(k, adminHeader) || strings.EqualFold(k, fiber.HeaderAuthorization) || len(vals) == 0 {
			continue
		}
		claims[k] = vals[0]
	}
	return claims
}

// GetUser extracts the UserContext from a Fiber context.
func GetUser(c *fiber.Ctx) *metadata.UserContext {
	user, _ := c.Locals("user").(*metadata.UserContext)
	return user
}

// RequireAdmin rejects callers that did not present the admin secret.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := GetUser(c)
		if user == nil || !user.ForceAdmin {
			return engine.NewAppError("FORBIDDEN", 403, "Admin secret required")
		}
		return c.Next()
	}
}
