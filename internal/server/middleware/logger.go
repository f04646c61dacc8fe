package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

// NewUpgradeLogger logs every attempt to open a gateway socket. Plain HTTP
// requests to a gateway path are logged too, flagged with upgrade=false.
func NewUpgradeLogger(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attrs := []any{
				slog.String("path", r.URL.Path),
				slog.Bool("upgrade", strings.EqualFold(r.Header.Get("Upgrade"), "websocket")),
			}
			if meta, ok := MetadataFrom(r.Context()); ok {
				attrs = append(attrs, slog.String("ip", meta.IP), slog.String("origin", meta.Origin))
			}
			logger.Debug("Gateway connection requested", attrs...)
			next.ServeHTTP(w, r)
		})
	}
}
