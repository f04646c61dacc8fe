package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mahesararslan/merge-communication-server/internal/feature"
	"github.com/mahesararslan/merge-communication-server/pkg/envelope"
	"github.com/mahesararslan/merge-communication-server/pkg/state"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	internalKeyHeader = "X-Internal-Key"
	maxInternalBody   = 1 << 20
)

// registerInternalRoutes wires the server-to-server endpoints used by the
// backend to push events it originated, plus health and metrics.
func (a *App) registerInternalRoutes(mux *http.ServeMux) {
	mux.Handle("POST /internal/announcement-published", a.internalOnly(a.announcementPublished))
	mux.Handle("POST /internal/notifications", a.internalOnly(a.notificationPosted))
	mux.Handle("POST /internal/events/{feature}", a.internalOnly(a.eventPosted))
	mux.HandleFunc("GET /healthz", a.healthz)
	mux.Handle("GET /metrics", promhttp.Handler())
}

func (a *App) internalOnly(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := a.config.Server.InternalKey
		if key != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(internalKeyHeader)), []byte(key)) != 1 {
			a.logger.Warn("Rejected internal request", slog.String("path", r.URL.Path))
			writeJSON(w, http.StatusUnauthorized, failure("Unauthorized"))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxInternalBody)
		next(w, r)
	})
}

// announcementPublished fans out an announcement the backend scheduler has
// just published.
func (a *App) announcementPublished(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	env, err := feature.PublishedAnnouncement(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, failure(err.Error()))
		return
	}
	a.inject(w, r, feature.Announcements.Name, env)
}

func (a *App) notificationPosted(w http.ResponseWriter, r *http.Request) {
	var req feature.NotificationRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, failure("malformed notification: "+err.Error()))
		return
	}
	env, err := req.Envelope()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, failure(err.Error()))
		return
	}
	a.inject(w, r, feature.Notifications.Name, env)
}

// eventPosted accepts a complete bus envelope for any feature, validated
// against that feature's schema.
func (a *App) eventPosted(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("feature")
	gw, ok := a.gateways[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, failure("unknown feature"))
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	env, err := gw.engine.Feature().Schema.Decode(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, failure(err.Error()))
		return
	}
	a.inject(w, r, name, env)
}

func (a *App) inject(w http.ResponseWriter, r *http.Request, name string, env *envelope.Envelope) {
	gw, ok := a.gateways[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, failure("feature "+name+" is not enabled"))
		return
	}
	if err := gw.engine.Inject(context.WithoutCancel(r.Context()), env); err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, envelope.ErrUnknownEvent) || errors.Is(err, envelope.ErrInvalidTarget) {
			status = http.StatusBadRequest
		}
		a.logger.Error("Failed to inject event",
			slog.String("feature", name),
			slog.String("eventType", string(env.EventType)),
			slog.Any("error", err),
		)
		writeJSON(w, status, failure(err.Error()))
		return
	}
	a.logger.Info("Injected server event",
		slog.String("feature", name),
		slog.String("eventType", string(env.EventType)),
		slog.String("target", string(env.Target.Kind)+":"+env.Target.ID),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true})
}

type healthReport struct {
	Status   string                 `json:"status"`
	Bus      string                 `json:"bus"`
	Features map[string]state.Stats `json:"features"`
}

func (a *App) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	report := healthReport{Status: "ok", Bus: "ok", Features: make(map[string]state.Stats, len(a.gateways))}
	for name, gw := range a.gateways {
		report.Features[name] = gw.engine.Registry().Stats()
	}
	status := http.StatusOK
	if err := a.relay.Ping(ctx); err != nil {
		report.Status, report.Bus = "degraded", err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, failure("failed to read body"))
		return nil, false
	}
	return body, true
}

func failure(msg string) map[string]any {
	return map[string]any{"success": false, "error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
