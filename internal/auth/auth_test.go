package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mahesararslan/merge-communication-server/internal/backend"
	"github.com/mahesararslan/merge-communication-server/pkg/logging"
	"github.com/mahesararslan/merge-communication-server/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPriority(t *testing.T) {
	e := NewExtractor("")

	tests := []struct {
		name string
		h    Handshake
		want string
		ok   bool
	}{
		{"none", Handshake{}, "", false},
		{"bearer header", Handshake{Authorization: "Bearer  abc "}, "abc", true},
		{"raw header", Handshake{Authorization: "abc"}, "abc", true},
		{"header wins", Handshake{Authorization: "Bearer h", AuthToken: "p", Cookie: "accessToken=c"}, "h", true},
		{"empty bearer falls through", Handshake{Authorization: "Bearer ", AuthToken: "p"}, "p", true},
		{"auth payload", Handshake{AuthToken: " p ", Cookie: "accessToken=c"}, "p", true},
		{"cookie", Handshake{Cookie: "theme=dark; accessToken=c; other=1"}, "c", true},
		{"cookie value keeps '='", Handshake{Cookie: "accessToken=a.b=="}, "a.b==", true},
		{"other cookie only", Handshake{Cookie: "refreshToken=x"}, "", false},
		{"blank cookie", Handshake{Cookie: "accessToken="}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := e.Extract(tt.h)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandshakeFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/general-chat?token=q", nil)
	r.Header.Set("Authorization", "Bearer h")
	r.Header.Set("Cookie", "accessToken=c")
	h := HandshakeFromRequest(r, "")
	assert.Equal(t, Handshake{Authorization: "Bearer h", AuthToken: "q", Cookie: "accessToken=c"}, h)

	r = httptest.NewRequest(http.MethodGet, "/general-chat", nil)
	r.Header.Set(AuthTokenHeader, "x")
	assert.Equal(t, "x", HandshakeFromRequest(r, "").AuthToken)
}

func newAuthority(t *testing.T, tokens map[string]validateResponse) *RemoteValidator {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/validate-token" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req validateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp, ok := tokens[req.Token]
		if !ok {
			resp = validateResponse{Valid: false}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return NewRemoteValidator(backend.NewClient(backend.Config{BaseURL: srv.URL, Timeout: time.Second}, logging.Discard()))
}

func TestExtractionLocationIndependence(t *testing.T) {
	v := newAuthority(t, map[string]validateResponse{
		"tok-a": {Valid: true, UserID: "u-a", Email: "a@example.com", Role: "user"},
	})
	e := NewExtractor("")
	handshakes := []Handshake{
		{Authorization: "Bearer tok-a"},
		{AuthToken: "tok-a"},
		{Cookie: "accessToken=tok-a"},
	}

	want := state.Identity{UserID: "u-a", Email: "a@example.com", Role: "user"}
	for _, h := range handshakes {
		token, ok := e.Extract(h)
		id, err := Authenticate(context.Background(), v, token, ok)
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
}

func TestRemoteValidatorFailures(t *testing.T) {
	v := newAuthority(t, map[string]validateResponse{
		"no-user": {Valid: true},
	})

	_, err := Authenticate(context.Background(), v, "", false)
	reason, ok := IsAuthError(err)
	require.True(t, ok)
	assert.Equal(t, ReasonNoToken, reason)

	for _, token := range []string{"unknown", "no-user"} {
		_, err := v.Validate(context.Background(), token)
		reason, ok := IsAuthError(err)
		require.True(t, ok, token)
		assert.Equal(t, ReasonInvalidToken, reason, token)
	}
}

func TestRemoteValidatorUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	v := NewRemoteValidator(backend.NewClient(backend.Config{BaseURL: url, Timeout: time.Second}, logging.Discard()))
	_, err := v.Validate(context.Background(), "tok")
	reason, ok := IsAuthError(err)
	require.True(t, ok)
	assert.Equal(t, ReasonInvalidToken, reason)
}

func TestJWTValidator(t *testing.T) {
	v, err := NewJWTValidator("test-secret")
	require.NoError(t, err)

	id := state.Identity{UserID: "u1", Email: "u1@example.com", Role: "admin"}
	token, err := v.Sign(id, time.Minute)
	require.NoError(t, err)

	got, err := v.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	other, _ := NewJWTValidator("other-secret")
	_, err = other.Validate(context.Background(), token)
	reason, _ := IsAuthError(err)
	assert.Equal(t, ReasonInvalidToken, reason)

	expired, err := v.Sign(id, -time.Minute)
	require.NoError(t, err)
	_, err = v.Validate(context.Background(), expired)
	reason, _ = IsAuthError(err)
	assert.Equal(t, ReasonInvalidToken, reason)

	_, err = NewJWTValidator("")
	assert.Error(t, err)
}
