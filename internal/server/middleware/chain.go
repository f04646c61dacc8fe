package middleware

import "net/http"

type Middleware func(http.Handler) http.Handler

// Chain wraps h so that middlewares run in the order given: the first one
// sees the request first.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	if h == nil {
		h = http.NotFoundHandler()
	}
	wrapped := h
	for i := range middlewares {
		wrapped = middlewares[len(middlewares)-1-i](wrapped)
	}
	return wrapped
}
