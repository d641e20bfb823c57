package metadata

import "strings"

// UserContext is the resolved identity of the caller, set by the auth
// middleware. Claims holds the token claims (or trusted headers when the
// caller presented the admin secret).
type UserContext struct {
	Claims map[string]any `json:"claims"`

	// ForceAdmin is set when the caller proved knowledge of the admin secret.
	ForceAdmin bool `json:"force_admin,omitempty"`
}

// Claim returns the claim with the given name. Lookup is exact first, then
// case-insensitive, so header-style claim names resolve either way.
func (u *UserContext) Claim(name string) (any, bool) {
	if u == nil || u.Claims == nil {
		return nil, false
	}
	if v, ok := u.Claims[name]; ok {
		return v, true
	}
	for k, v := range u.Claims {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// ID returns the "sub" claim as a string, or "".
func (u *UserContext) ID() string {
	v, ok := u.Claim("sub")
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
