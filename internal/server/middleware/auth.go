package middleware

import (
	"log/slog"
	"net/http"

	"github.com/mahesararslan/merge-communication-server/internal/auth"
	"github.com/mahesararslan/merge-communication-server/internal/metrics"
	"github.com/mahesararslan/merge-communication-server/pkg/logging"
)

// NewAuthMiddleware gates the websocket upgrade: the handshake must carry a
// token the validator accepts. Rejected requests get a 401 and are never
// upgraded.
func NewAuthMiddleware(logger *slog.Logger, extractor *auth.Extractor, validator auth.Validator, queryParam string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := MetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			token, found := extractor.Extract(auth.HandshakeFromRequest(r, queryParam))
			identity, err := auth.Authenticate(r.Context(), validator, token, found)
			if err != nil {
				reason, _ := auth.IsAuthError(err)
				if reason == "" {
					reason = auth.ReasonInvalidToken
				}
				metrics.ConnectionsRejected.WithLabelValues(reason).Inc()
				logger.Warn("Rejected unauthenticated connection",
					slog.String("ip", reqMeta.IP),
					slog.String("path", r.URL.Path),
					slog.String("reason", reason),
					slog.String("token", logging.MaskToken(token)),
				)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			reqMeta.Identity = identity
			reqMeta.Token = token
			next.ServeHTTP(w, r)
		})
	}
}
