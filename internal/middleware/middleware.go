package middleware

import "net/http"

// Chain wraps h with each middleware in turn, so the last one listed sees the
// request first.
func Chain(h http.Handler, middleware ...func(http.Handler) http.Handler) http.Handler {
	for _, m := range middleware {
		h = m(h)
	}
	return h
}
