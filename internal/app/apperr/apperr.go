// Package apperr classifies service failures so the HTTP layer can pick the
// right status code and report which request field was at fault.
package apperr

import "errors"

var (
	ErrInvalid      = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
)

// FieldError ties a failure to a request field. The HTTP layer renders these
// as a field-keyed errors map.
type FieldError struct {
	Field   string
	Message string
	cause   error
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Message }

func (e *FieldError) Unwrap() error { return e.cause }

// Invalid reports a validation failure on the given field.
func Invalid(field, message string) error {
	return &FieldError{Field: field, Message: message, cause: ErrInvalid}
}

// Unauthorized reports an authentication failure on the given field.
func Unauthorized(field, message string) error {
	return &FieldError{Field: field, Message: message, cause: ErrUnauthorized}
}

// WithField attaches a field name to an existing error, preserving its
// classification for errors.Is checks.
func WithField(field string, err error) error {
	if err == nil {
		return nil
	}
	return &FieldError{Field: field, Message: err.Error(), cause: err}
}
