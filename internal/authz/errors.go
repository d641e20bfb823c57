package authz

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned for every request-time rejection that is not
	// a field violation: no matching rule, a forbidden clause, or a read-back
	// that found no row.
	ErrUnauthorized = errors.New("operation not allowed")

	// ErrFieldUnauthorized is matched by every *FieldError.
	ErrFieldUnauthorized = errors.New("field not allowed")

	// ErrConfiguration is matched by every *ConfigError.
	ErrConfiguration = errors.New("authorization configuration error")

	// ErrRulesFrozen is returned when RegisterRules is called twice.
	ErrRulesFrozen = errors.New("rules already registered")
)

// FieldError reports a requested or supplied field that lies outside the
// resolved rule's allow-list.
type FieldError struct {
	Field string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field not allowed: %s", e.Field)
}

// Is lets errors.Is(err, ErrFieldUnauthorized) match.
func (e *FieldError) Is(target error) bool {
	return target == ErrFieldUnauthorized
}

// ConfigError is raised at registration time, or when a call asks for
// authorization without a request context.
type ConfigError struct {
	Entity  string
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	switch {
	case e.Entity != "" && e.Field != "":
		return fmt.Sprintf("%s: entity %s, field %s: %s", ErrConfiguration, e.Entity, e.Field, e.Message)
	case e.Entity != "":
		return fmt.Sprintf("%s: entity %s: %s", ErrConfiguration, e.Entity, e.Message)
	default:
		return fmt.Sprintf("%s: %s", ErrConfiguration, e.Message)
	}
}

// Is lets errors.Is(err, ErrConfiguration) match.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

// IsUnauthorized reports whether err is a request-time rejection, including
// field violations.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrFieldUnauthorized)
}

// FieldOf returns the offending field of a field violation, or "".
func FieldOf(err error) string {
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe.Field
	}
	return ""
}
