package engine

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"rocket-guard/internal/authz"
	"rocket-guard/internal/store"
)

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func UnknownEntityError(name string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_ENTITY",
		Status:  404,
		Message: fmt.Sprintf("Unknown entity: %s", name),
	}
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Status: 401, Message: msg}
}

// UnauthorizedFieldError names the field that lies outside the caller's
// allow-list.
func UnauthorizedFieldError(field string) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED_FIELD",
		Status:  401,
		Message: fmt.Sprintf("Not allowed to access field: %s", field),
		Details: []ErrorDetail{{Field: field, Rule: "allow-list", Message: "field not allowed"}},
	}
}

func InvalidPayloadError(msg string) *AppError {
	return &AppError{Code: "INVALID_PAYLOAD", Status: 400, Message: msg}
}

func ConflictError(msg string) *AppError {
	return &AppError{Code: "CONFLICT", Status: 409, Message: msg}
}

// ToAppError maps authorization, store and payload errors onto the JSON
// envelope. Unknown errors become a 500 with a generic message.
func ToAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return NewAppError("HTTP_ERROR", fiberErr.Code, fiberErr.Message)
	}

	switch {
	case errors.Is(err, authz.ErrFieldUnauthorized):
		return UnauthorizedFieldError(authz.FieldOf(err))
	case errors.Is(err, authz.ErrUnauthorized):
		return UnauthorizedError("Not allowed")
	case errors.Is(err, store.ErrInvalidQuery):
		return InvalidPayloadError(err.Error())
	case errors.Is(err, store.ErrUniqueViolation):
		msg := "A record with this value already exists"
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Detail != "" {
			msg = pgErr.Detail
		}
		return ConflictError(msg)
	}
	return NewAppError("INTERNAL_ERROR", 500, "Internal server error")
}

// ErrorHandler is the fiber error handler writing the AppError envelope.
func ErrorHandler(c *fiber.Ctx, err error) error {
	appErr := ToAppError(err)
	if appErr.Status >= 500 {
		log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("Request failed")
	}
	return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
}
