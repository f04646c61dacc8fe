package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mahesararslan/merge-communication-server/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	return NewClient(cfg, logging.Discard())
}

func TestClientForwardsBearerAndBody(t *testing.T) {
	var gotAuth, gotType string
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		require.Equal(t, "/direct-messages", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"m1"}`))
	}, Config{})

	body, err := c.Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/direct-messages",
		Token:  "tok-1",
		Body:   map[string]string{"content": "hi"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"m1"}`, string(body))
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, "hi", gotBody["content"])
}

func TestClientSurfacesBackendMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"statusCode":403,"message":"You are not a member of this room"}`))
	}, Config{})

	_, err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/general-chat"})
	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusForbidden, be.Status)
	assert.Equal(t, "You are not a member of this room", MessageOr(err, "Failed to send message"))
	assert.False(t, be.Temporary())
}

func TestClientJoinsMessageArrays(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":["content too long","roomId must be a UUID"]}`))
	}, Config{})

	_, err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/x"})
	assert.Equal(t, "content too long; roomId must be a UUID", MessageOr(err, "fallback"))
}

func TestClientTimeoutUsesFallback(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, Config{Timeout: 50 * time.Millisecond})
	defer close(release)

	start := time.Now()
	_, err := c.Do(context.Background(), Request{Method: http.MethodPatch, Path: "/direct-messages/1"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, "Failed to update message", MessageOr(err, "Failed to update message"))
}

func TestCircuitOpensOnServerErrorsOnly(t *testing.T) {
	calls := 0
	status := http.StatusBadRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(status)
	}, Config{MaxFailures: 2, OpenTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/"})
		require.Error(t, err)
	}
	assert.Equal(t, 3, calls, "4xx answers must not trip the breaker")

	status = http.StatusBadGateway
	for i := 0; i < 2; i++ {
		_, _ = c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/"})
	}
	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/"})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 5, calls)
}

func TestMyRooms(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/room/my-rooms", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{"rooms":[{"id":"r1","title":"A"},{"id":"r2"},{"title":"no id"}],"total":3}`))
	}, Config{})

	rooms, err := c.MyRooms(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, rooms)
}
