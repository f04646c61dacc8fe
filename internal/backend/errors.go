package backend

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// BackendError is a failed or timed-out backend call. Message is what the
// backend said; it is empty when no response body was available.
type BackendError struct {
	Status  int
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("backend: status %d: %s", e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("backend: status %d", e.Status)
	case e.Err != nil:
		return "backend: " + e.Err.Error()
	default:
		return "backend: request failed"
	}
}

func (e *BackendError) Unwrap() error { return e.Err }

// Temporary reports whether the failure says something about backend health
// rather than about the request: transport errors and 5xx.
func (e *BackendError) Temporary() bool {
	return e.Status == 0 || e.Status >= 500
}

// MessageOr returns the backend's message for err, or fallback when there is
// none (timeouts, connection errors, non-backend errors).
func MessageOr(err error, fallback string) string {
	var be *BackendError
	if errors.As(err, &be) && be.Message != "" {
		return be.Message
	}
	return fallback
}

// errorMessage pulls "message" out of a JSON error body. Validation failures
// answer with an array of messages.
func errorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	msg := gjson.GetBytes(body, "message")
	if !msg.Exists() {
		return ""
	}
	if msg.IsArray() {
		parts := make([]string, 0, len(msg.Array()))
		for _, m := range msg.Array() {
			parts = append(parts, m.String())
		}
		return strings.Join(parts, "; ")
	}
	return msg.String()
}
