package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rocket-guard/internal/auth"
	"rocket-guard/internal/authz"
	"rocket-guard/internal/config"
	"rocket-guard/internal/engine"
	"rocket-guard/internal/store"
)

const adminSecret = "admin-pass"

var dbSeq atomic.Int64

type adminServer struct {
	app   *fiber.App
	store *store.Store
}

func newAdminServer(t *testing.T) *adminServer {
	t.Helper()
	ctx := context.Background()

	s, err := store.New(ctx, config.DatabaseConfig{
		Driver: "sqlite",
		Name:   fmt.Sprintf("admin_test_%d", dbSeq.Add(1)),
		Path:   ":memory:",
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Bootstrap(ctx))

	hash, err := auth.HashSecret(adminSecret)
	require.NoError(t, err)

	app := fiber.New(fiber.Config{ErrorHandler: engine.ErrorHandler})
	app.Use(auth.Middleware(auth.Config{JWTSecret: "jwt", AdminSecretHash: hash, AdminHeader: "X-Admin-Secret"}))
	h := NewHandler(s, store.NewMigrator(s), authz.Config{}, zerolog.Nop())
	RegisterAdminRoutes(app, h, auth.RequireAdmin())

	return &adminServer{app: app, store: s}
}

type result struct {
	Status int
	Data   json.RawMessage `json:"data"`
	Meta   map[string]any  `json:"meta"`
	Error  struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *adminServer) do(t *testing.T, method, path string, body any, admin bool) result {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("X-Admin-Secret", adminSecret)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)

	var r result
	require.NoError(t, json.Unmarshal(raw, &r), string(raw))
	r.Status = resp.StatusCode
	return r
}

func pageDefinition(fields ...map[string]any) map[string]any {
	all := []any{
		map[string]any{"name": "id", "type": "int"},
		map[string]any{"name": "title", "type": "string", "required": true},
	}
	for _, f := range fields {
		all = append(all, f)
	}
	return map[string]any{
		"table":       "pages",
		"primary_key": map[string]any{"field": "id", "type": "int", "generated": true},
		"fields":      all,
	}
}

var userIDField = map[string]any{"name": "userId", "type": "int", "required": true}

func TestAdminRequiresSecret(t *testing.T) {
	s := newAdminServer(t)
	r := s.do(t, "GET", "/api/_admin/entities", nil, false)
	assert.Equal(t, 403, r.Status)
	assert.Equal(t, "FORBIDDEN", r.Error.Code)
}

func TestPutEntityStoresAndMigrates(t *testing.T) {
	s := newAdminServer(t)

	r := s.do(t, "PUT", "/api/_admin/entities/page", pageDefinition(userIDField), true)
	require.Equal(t, 200, r.Status, r.Error.Message)
	assert.Equal(t, true, r.Meta["restart_required"])

	exists, err := s.store.Dialect.TableExists(context.Background(), s.store.DB, "pages")
	require.NoError(t, err)
	assert.True(t, exists)

	r = s.do(t, "GET", "/api/_admin/entities/page", nil, true)
	require.Equal(t, 200, r.Status)
	var ent struct {
		Name   string `json:"name"`
		Fields []struct {
			Name string `json:"name"`
		} `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(r.Data, &ent))
	assert.Equal(t, "page", ent.Name)
	assert.Len(t, ent.Fields, 3)

	r = s.do(t, "GET", "/api/_admin/entities/nope", nil, true)
	assert.Equal(t, 404, r.Status)

	r = s.do(t, "PUT", "/api/_admin/entities/bad", map[string]any{"fields": []any{}}, true)
	assert.Equal(t, 422, r.Status)
}

func TestAddRuleValidatesAgainstPersistedSet(t *testing.T) {
	s := newAdminServer(t)
	require.Equal(t, 200, s.do(t, "PUT", "/api/_admin/entities/page", pageDefinition(userIDField), true).Status)

	owner := map[string]any{
		"role": "user", "entity": "page", "find": true,
		"save":     map[string]any{"checks": map[string]any{"userId": "UID"}},
		"defaults": map[string]any{"userId": "UID"},
	}
	r := s.do(t, "POST", "/api/_admin/rules", owner, true)
	require.Equal(t, 201, r.Status, r.Error.Message)

	r = s.do(t, "POST", "/api/_admin/rules", map[string]any{"role": "guest", "entity": "page", "find": true}, true)
	require.Equal(t, 201, r.Status, r.Error.Message)
	var added struct {
		Position int `json:"position"`
	}
	require.NoError(t, json.Unmarshal(r.Data, &added))
	assert.Equal(t, 1, added.Position)

	t.Run("duplicate role and entity", func(t *testing.T) {
		r := s.do(t, "POST", "/api/_admin/rules", owner, true)
		assert.Equal(t, 422, r.Status)
		assert.Contains(t, r.Error.Message, "duplicate rule")
	})

	t.Run("unknown entity", func(t *testing.T) {
		r := s.do(t, "POST", "/api/_admin/rules", map[string]any{"role": "x", "entity": "pgae", "find": true}, true)
		assert.Equal(t, 422, r.Status)
		assert.Contains(t, r.Error.Message, `did you mean "page"?`)
	})

	t.Run("entity change breaking a rule", func(t *testing.T) {
		r := s.do(t, "PUT", "/api/_admin/entities/page", pageDefinition(), true)
		assert.Equal(t, 422, r.Status)
		assert.Contains(t, r.Error.Message, "userId")
	})

	r = s.do(t, "GET", "/api/_admin/rules", nil, true)
	require.Equal(t, 200, r.Status)
	var docs []map[string]any
	require.NoError(t, json.Unmarshal(r.Data, &docs))
	require.Len(t, docs, 2)
	assert.Equal(t, "user", docs[0]["role"])
	assert.Equal(t, "guest", docs[1]["role"])
}
