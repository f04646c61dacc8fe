package auth

import (
	"errors"
	"fmt"
)

const (
	ReasonNoToken      = "no-token"
	ReasonInvalidToken = "invalid-token"
)

// AuthError rejects a connection or an event for lack of a valid identity.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return "auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

func noToken() error { return &AuthError{Reason: ReasonNoToken} }

func invalidToken(err error) error { return &AuthError{Reason: ReasonInvalidToken, Err: err} }

// IsAuthError reports whether err is an AuthError and returns its reason.
func IsAuthError(err error) (string, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Reason, true
	}
	return "", false
}
