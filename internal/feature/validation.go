package feature

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxContentLength bounds message content, in characters.
const MaxContentLength = 5000

// ValidationError rejects a malformed command payload. The connection stays
// open.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// DecodeInput unmarshals a command payload into in and validates it.
func DecodeInput(payload json.RawMessage, in Input) error {
	if len(payload) == 0 || string(payload) == "null" {
		return invalid("", "payload is required")
	}
	if err := json.Unmarshal(payload, in); err != nil {
		return invalid("", "malformed payload: %v", err)
	}
	return in.Validate()
}

func requireUUIDv4(field, value string) error {
	if value == "" {
		return invalid(field, "%s is required", field)
	}
	id, err := uuid.Parse(value)
	if err != nil || len(value) != 36 || id.Version() != 4 || id.Variant() != uuid.RFC4122 {
		return invalid(field, "%s must be a UUID", field)
	}
	return nil
}

func optionalUUIDv4(field, value string) error {
	if value == "" {
		return nil
	}
	return requireUUIDv4(field, value)
}

func maxLength(field string, value *string, limit int) error {
	if value != nil && utf8.RuneCountInString(*value) > limit {
		return invalid(field, "%s must be shorter than or equal to %d characters", field, limit)
	}
	return nil
}

func requireNonEmpty(field, value string) error {
	if value == "" {
		return invalid(field, "%s is required", field)
	}
	return nil
}

// firstError returns the first non-nil error.
func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// nullable maps the empty string to JSON null.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
