package authz

import (
	"fmt"
	"strings"

	"rocket-guard/internal/metadata"
)

const (
	DefaultRoleKey       = "X-USER-ROLE"
	DefaultAnonymousRole = "anonymous"
	DefaultAdminRole     = "platform-admin"
)

// RoleSet is the ordered list of roles held by the caller for one call.
type RoleSet []string

// Contains reports whether role is in the set.
func (rs RoleSet) Contains(role string) bool {
	for _, r := range rs {
		if r == role {
			return true
		}
	}
	return false
}

// RoleExtractor derives the caller's RoleSet from a resolved identity.
type RoleExtractor struct {
	RoleKey       string
	RolePath      string
	AnonymousRole string
	AdminRole     string
}

// Extract returns the roles of user. A forced admin gets the admin role
// appended after whatever was extracted, and holds only that role when no
// role claim is present. Anyone else without a role claim is anonymous.
func (x RoleExtractor) Extract(user *metadata.UserContext) RoleSet {
	var roles RoleSet
	if user != nil {
		roles = normalizeRoles(x.lookup(user))
	}
	forceAdmin := user != nil && user.ForceAdmin
	if len(roles) == 0 && !forceAdmin {
		return RoleSet{x.anonymousRole()}
	}
	if forceAdmin && !roles.Contains(x.adminRole()) {
		roles = append(roles, x.adminRole())
	}
	return roles
}

func (x RoleExtractor) lookup(user *metadata.UserContext) any {
	if x.RolePath != "" {
		return lookupPath(user.Claims, x.RolePath)
	}
	key := x.RoleKey
	if key == "" {
		key = DefaultRoleKey
	}
	v, _ := user.Claim(key)
	return v
}

func (x RoleExtractor) anonymousRole() string {
	if x.AnonymousRole == "" {
		return DefaultAnonymousRole
	}
	return x.AnonymousRole
}

func (x RoleExtractor) adminRole() string {
	if x.AdminRole == "" {
		return DefaultAdminRole
	}
	return x.AdminRole
}

// lookupPath walks a dotted path through nested maps.
func lookupPath(claims map[string]any, path string) any {
	var cur any = claims
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return cur
}

func normalizeRoles(v any) RoleSet {
	var roles RoleSet
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" && !roles.Contains(s) {
			roles = append(roles, s)
		}
	}
	switch val := v.(type) {
	case nil:
	case string:
		for _, part := range strings.Split(val, ",") {
			add(part)
		}
	case []string:
		for _, s := range val {
			add(s)
		}
	case []any:
		for _, item := range val {
			if item != nil {
				add(fmt.Sprintf("%v", item))
			}
		}
	default:
		add(fmt.Sprintf("%v", val))
	}
	return roles
}
