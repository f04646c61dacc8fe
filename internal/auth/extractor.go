package auth

import (
	"net/http"
	"strings"
)

const (
	DefaultCookieName = "accessToken"
	DefaultQueryParam = "token"
	// AuthTokenHeader carries the auth payload for clients that can set headers
	// but prefer not to use Authorization.
	AuthTokenHeader = "X-Auth-Token"
)

// Handshake is the credential-bearing metadata of a connection attempt.
type Handshake struct {
	Authorization string
	AuthToken     string
	Cookie        string
}

// HandshakeFromRequest collects handshake metadata from an upgrade request.
// Browsers cannot set headers on websocket upgrades, so the auth payload
// travels as a query parameter.
func HandshakeFromRequest(r *http.Request, queryParam string) Handshake {
	if queryParam == "" {
		queryParam = DefaultQueryParam
	}
	authToken := r.URL.Query().Get(queryParam)
	if authToken == "" {
		authToken = r.Header.Get(AuthTokenHeader)
	}
	return Handshake{
		Authorization: r.Header.Get("Authorization"),
		AuthToken:     authToken,
		Cookie:        r.Header.Get("Cookie"),
	}
}

type Extractor struct {
	CookieName string
}

func NewExtractor(cookieName string) *Extractor {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &Extractor{CookieName: cookieName}
}

// Extract returns the first non-empty token found, in order: Authorization
// header, auth payload, cookie. Absence is not an error.
func (e *Extractor) Extract(h Handshake) (string, bool) {
	if token := stripBearer(h.Authorization); token != "" {
		return token, true
	}
	if token := strings.TrimSpace(h.AuthToken); token != "" {
		return token, true
	}
	if token := cookieValue(h.Cookie, e.CookieName); token != "" {
		return token, true
	}
	return "", false
}

func stripBearer(header string) string {
	token := strings.TrimSpace(header)
	if rest, ok := strings.CutPrefix(token, "Bearer"); ok && (rest == "" || rest[0] == ' ') {
		token = strings.TrimSpace(rest)
	}
	return token
}

// cookieValue splits the raw header on ';' and each pair on the first '='.
func cookieValue(raw, name string) string {
	if raw == "" {
		return ""
	}
	for _, part := range strings.Split(raw, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || key != name {
			continue
		}
		if v := strings.TrimSpace(value); v != "" {
			return v
		}
	}
	return ""
}
