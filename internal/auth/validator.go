package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mahesararslan/merge-communication-server/internal/backend"
	"github.com/mahesararslan/merge-communication-server/pkg/state"
)

// Validator exchanges a token for the identity behind it. Every failure is
// an *AuthError.
type Validator interface {
	Validate(ctx context.Context, token string) (state.Identity, error)
}

// Authenticate combines extraction and validation: a missing token is a
// no-token failure, anything the validator rejects is invalid-token.
func Authenticate(ctx context.Context, v Validator, token string, found bool) (state.Identity, error) {
	if !found || token == "" {
		return state.Identity{}, noToken()
	}
	return v.Validate(ctx, token)
}

// RemoteValidator asks the auth service. Unreachable and rejecting authorities
// are reported the same way, and nothing is retried.
type RemoteValidator struct {
	client *backend.Client
}

func NewRemoteValidator(client *backend.Client) *RemoteValidator {
	return &RemoteValidator{client: client}
}

type validateRequest struct {
	Token string `json:"token"`
}

type validateResponse struct {
	Valid  bool   `json:"valid"`
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

func (v *RemoteValidator) Validate(ctx context.Context, token string) (state.Identity, error) {
	body, err := v.client.Do(ctx, backend.Request{
		Method: http.MethodPost,
		Path:   "/auth/validate-token",
		Body:   validateRequest{Token: token},
	})
	if err != nil {
		return state.Identity{}, invalidToken(err)
	}

	var resp validateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return state.Identity{}, invalidToken(fmt.Errorf("decode validation response: %w", err))
	}
	if !resp.Valid {
		return state.Identity{}, invalidToken(errors.New("token rejected by authority"))
	}
	if resp.UserID == "" {
		return state.Identity{}, invalidToken(errors.New("authority returned no user id"))
	}
	return state.Identity{UserID: resp.UserID, Email: resp.Email, Role: resp.Role}, nil
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, token string) (state.Identity, error)

func (f ValidatorFunc) Validate(ctx context.Context, token string) (state.Identity, error) {
	return f(ctx, token)
}
