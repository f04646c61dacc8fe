package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/mahesararslan/merge-communication-server/pkg/state"
)

type metadataKey struct{}

// RequestMetadata accumulates what the middleware chain learns about an
// upgrade request. Identity and Token are filled in by the auth middleware.
type RequestMetadata struct {
	IP       string
	Origin   string
	Identity state.Identity
	Token    string
}

func MetadataFrom(ctx context.Context) (*RequestMetadata, bool) {
	meta, ok := ctx.Value(metadataKey{}).(*RequestMetadata)
	return meta, ok
}

// WithRequestMetadata must run first; every later middleware reads and
// writes the same *RequestMetadata.
func WithRequestMetadata() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			meta := &RequestMetadata{
				IP:     clientIP(r),
				Origin: r.Header.Get("Origin"),
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), metadataKey{}, meta)))
		})
	}
}

// clientIP prefers the first X-Forwarded-For hop, since the gateway is
// deployed behind a load balancer. The value is only used for logging.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
