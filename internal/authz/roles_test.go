package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"rocket-guard/internal/metadata"
)

func TestRoleExtractor(t *testing.T) {
	x := RoleExtractor{}
	cases := []struct {
		name   string
		claims map[string]any
		want   RoleSet
	}{
		{"comma separated", map[string]any{"X-USER-ROLE": "user,moderator"}, RoleSet{"user", "moderator"}},
		{"spaces trimmed", map[string]any{"X-USER-ROLE": " moderator , user "}, RoleSet{"moderator", "user"}},
		{"array", map[string]any{"X-USER-ROLE": []any{"user", "moderator"}}, RoleSet{"user", "moderator"}},
		{"string slice", map[string]any{"X-USER-ROLE": []string{"user"}}, RoleSet{"user"}},
		{"duplicates dropped", map[string]any{"X-USER-ROLE": "user,user,"}, RoleSet{"user"}},
		{"header case", map[string]any{"x-user-role": "user"}, RoleSet{"user"}},
		{"missing", map[string]any{}, RoleSet{DefaultAnonymousRole}},
		{"empty", map[string]any{"X-USER-ROLE": ""}, RoleSet{DefaultAnonymousRole}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := x.Extract(&metadata.UserContext{Claims: tc.claims})
			assert.Equal(t, tc.want, got)
		})
	}

	assert.Equal(t, RoleSet{DefaultAnonymousRole}, x.Extract(nil))
}

func TestRoleExtractorPath(t *testing.T) {
	x := RoleExtractor{RolePath: "realm_access.roles", AnonymousRole: "public"}

	got := x.Extract(&metadata.UserContext{Claims: map[string]any{
		"realm_access": map[string]any{"roles": []any{"editor", "user"}},
	}})
	assert.Equal(t, RoleSet{"editor", "user"}, got)

	got = x.Extract(&metadata.UserContext{Claims: map[string]any{"realm_access": "editor"}})
	assert.Equal(t, RoleSet{"public"}, got)
}

func TestRoleExtractorForceAdminAppends(t *testing.T) {
	x := RoleExtractor{}
	got := x.Extract(&metadata.UserContext{
		Claims:     map[string]any{"X-USER-ROLE": "user"},
		ForceAdmin: true,
	})
	assert.Equal(t, RoleSet{"user", DefaultAdminRole}, got)

	got = x.Extract(&metadata.UserContext{
		Claims:     map[string]any{"X-USER-ROLE": DefaultAdminRole},
		ForceAdmin: true,
	})
	assert.Equal(t, RoleSet{DefaultAdminRole}, got)
}

func TestRoleExtractorForceAdminWithoutRoleClaim(t *testing.T) {
	x := RoleExtractor{}
	got := x.Extract(&metadata.UserContext{Claims: map[string]any{}, ForceAdmin: true})
	assert.Equal(t, RoleSet{DefaultAdminRole}, got)

	got = x.Extract(&metadata.UserContext{Claims: map[string]any{}})
	assert.Equal(t, RoleSet{DefaultAnonymousRole}, got)
	assert.Equal(t, RoleSet{DefaultAnonymousRole}, x.Extract(nil))
}
