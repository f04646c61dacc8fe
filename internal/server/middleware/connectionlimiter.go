package middleware

import (
	"log/slog"
	"net/http"

	"github.com/mahesararslan/merge-communication-server/internal/metrics"
	"github.com/mahesararslan/merge-communication-server/pkg/config"
)

// UserConnectionCounter reports how many live sockets a user holds on one
// feature gateway.
type UserConnectionCounter func(userID string) int

// UserConnectionCycler makes room for a new connection, typically by closing
// the user's oldest one.
type UserConnectionCycler func(userID string)

// NewConnectionLimiter caps sockets per user. It must run after the auth
// middleware, which fills in the identity it counts against.
func NewConnectionLimiter(
	logger *slog.Logger,
	counter UserConnectionCounter,
	cycler UserConnectionCycler,
	limit config.ConnectionLimitConfig,
) Middleware {
	return func(next http.Handler) http.Handler {
		if limit.MaxPerUser <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			meta, ok := MetadataFrom(r.Context())
			if !ok || meta.Identity.UserID == "" {
				logger.Error("Connection limiter ran without an authenticated identity; check middleware order")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			userID := meta.Identity.UserID

			count := counter(userID)
			if count < limit.MaxPerUser {
				next.ServeHTTP(w, r)
				return
			}

			log := logger.With(slog.String("userID", userID), slog.Int("count", count), slog.String("mode", limit.Mode))
			switch limit.Mode {
			case config.LimitModeReject:
				log.Warn("User connection limit reached, rejecting")
				metrics.ConnectionsRejected.WithLabelValues("connection-limit").Inc()
				http.Error(w, "Too Many Active Connections", http.StatusTooManyRequests)
			case config.LimitModeCycle:
				log.Info("User connection limit reached, cycling oldest")
				cycler(userID)
				next.ServeHTTP(w, r)
			default:
				log.Error("Invalid connection limit mode configured")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		})
	}
}
