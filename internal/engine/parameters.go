package engine

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// resolveRoute replaces every "{.payload.<path>}" placeholder in a backend
// route with the path-escaped value found in the command payload.
//
//	"/general-chat/{.payload.messageId}?roomId={.payload.roomId}"
func resolveRoute(route string, payload json.RawMessage) (string, error) {
	if !strings.Contains(route, "{.") {
		return route, nil
	}

	var b strings.Builder
	rest := route
	for {
		start := strings.Index(rest, "{.")
		if start < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			return "", fmt.Errorf("unterminated placeholder in route '%s'", route)
		}
		b.WriteString(rest[:start])

		path := rest[start+2 : start+end]
		subPath, ok := strings.CutPrefix(path, "payload.")
		if !ok {
			return "", fmt.Errorf("unrecognized template path '%s'", path)
		}
		value := gjson.GetBytes(payload, subPath)
		if !value.Exists() || value.String() == "" {
			return "", fmt.Errorf("route parameter '%s' is missing", subPath)
		}
		b.WriteString(url.PathEscape(value.String()))
		rest = rest[start+end+1:]
	}
}
