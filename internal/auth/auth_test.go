package auth

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rocket-guard/internal/engine"
	"rocket-guard/internal/entity"
)

const testSecret = "test-secret"

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken(map[string]any{
		"sub":         "u-1",
		"userId":      42,
		"X-USER-ROLE": []string{"editor", "viewer"},
		"score":       1.5,
	}, testSecret, time.Minute)
	require.NoError(t, err)

	claims, err := ParseToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims["sub"])
	assert.Equal(t, int64(42), claims["userId"])
	assert.Equal(t, 1.5, claims["score"])
	assert.Equal(t, []any{"editor", "viewer"}, claims["X-USER-ROLE"])
}

func TestParseTokenRejects(t *testing.T) {
	expired, err := GenerateToken(map[string]any{"sub": "u-1"}, testSecret, -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(expired, testSecret)
	assert.Error(t, err)

	valid, err := GenerateToken(map[string]any{"sub": "u-1"}, testSecret, time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(valid, "other-secret")
	assert.Error(t, err)
}

func TestSecretHash(t *testing.T) {
	hash, err := HashSecret("s3cret")
	require.NoError(t, err)
	assert.True(t, CheckSecret("s3cret", hash))
	assert.False(t, CheckSecret("wrong", hash))
}

// echoApp returns the identity the middleware attached to the request.
func echoApp(cfg Config) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: engine.ErrorHandler})
	app.Use(Middleware(cfg))
	app.Get("/me", func(c *fiber.Ctx) error {
		req := entity.RequestFrom(c.UserContext())
		if req == nil || req.User != GetUser(c) {
			return fiber.NewError(500, "identity not propagated")
		}
		return c.JSON(fiber.Map{"claims": req.User.Claims, "force_admin": req.User.ForceAdmin})
	})
	return app
}

type identity struct {
	Claims     map[string]any `json:"claims"`
	ForceAdmin bool           `json:"force_admin"`
}

func call(t *testing.T, app *fiber.App, headers map[string]string) (int, identity) {
	t.Helper()
	req := httptest.NewRequest("GET", "/me", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	var id identity
	if resp.StatusCode == 200 {
		require.NoError(t, json.Unmarshal(body, &id))
	}
	return resp.StatusCode, id
}

func TestMiddleware(t *testing.T) {
	hash, err := HashSecret("admin-pass")
	require.NoError(t, err)
	app := echoApp(Config{JWTSecret: testSecret, AdminSecretHash: hash, AdminHeader: "X-Admin-Secret"})

	t.Run("anonymous", func(t *testing.T) {
		status, id := call(t, app, nil)
		require.Equal(t, 200, status)
		assert.Empty(t, id.Claims)
		assert.False(t, id.ForceAdmin)
	})

	t.Run("bearer token", func(t *testing.T) {
		token, err := GenerateToken(map[string]any{"userId": 42}, testSecret, time.Minute)
		require.NoError(t, err)
		status, id := call(t, app, map[string]string{"Authorization": "Bearer " + token})
		require.Equal(t, 200, status)
		assert.EqualValues(t, 42, id.Claims["userId"])
		assert.False(t, id.ForceAdmin)
	})

	t.Run("bad token", func(t *testing.T) {
		status, _ := call(t, app, map[string]string{"Authorization": "Bearer nope"})
		assert.Equal(t, 401, status)
		status, _ = call(t, app, map[string]string{"Authorization": "Basic abc"})
		assert.Equal(t, 401, status)
	})

	t.Run("admin secret", func(t *testing.T) {
		status, id := call(t, app, map[string]string{"X-Admin-Secret": "admin-pass", "X-User-Role": "editor"})
		require.Equal(t, 200, status)
		assert.True(t, id.ForceAdmin)
		assert.Equal(t, "editor", id.Claims["X-User-Role"])
		assert.NotContains(t, id.Claims, "X-Admin-Secret")
	})

	t.Run("wrong admin secret", func(t *testing.T) {
		status, _ := call(t, app, map[string]string{"X-Admin-Secret": "guess"})
		assert.Equal(t, 401, status)
	})
}

func TestRequireAdmin(t *testing.T) {
	hash, err := HashSecret("admin-pass")
	require.NoError(t, err)
	app := fiber.New(fiber.Config{ErrorHandler: engine.ErrorHandler})
	app.Use(Middleware(Config{JWTSecret: testSecret, AdminSecretHash: hash, AdminHeader: "X-Admin-Secret"}))
	app.Get("/admin", RequireAdmin(), func(c *fiber.Ctx) error { return c.SendString("ok") })

	status := func(headers map[string]string) int {
		req := httptest.NewRequest("GET", "/admin", nil)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		return resp.StatusCode
	}

	token, err := GenerateToken(map[string]any{"X-USER-ROLE": "platform-admin"}, testSecret, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 403, status(nil))
	assert.Equal(t, 403, status(map[string]string{"Authorization": "Bearer " + token}), "a role claim is not the admin secret")
	assert.Equal(t, 200, status(map[string]string{"X-Admin-Secret": "admin-pass"}))
}
