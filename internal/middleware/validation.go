package middleware

import (
	"net/http"
	"net/url"
	"strings"
)

// ValidationConfig checks the url query parameter on the listed paths.
type ValidationConfig struct {
	Paths   []string
	Schemes []string
}

func WithValidation(config ValidationConfig) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(config.Schemes))
	for _, s := range config.Schemes {
		allowed[strings.ToLower(s)] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !covered(config.Paths, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			raw := r.URL.Query().Get("url")
			if raw == "" {
				http.Error(w, "url parameter required", http.StatusBadRequest)
				return
			}
			u, err := url.Parse(raw)
			if err != nil {
				http.Error(w, "invalid url: "+err.Error(), http.StatusBadRequest)
				return
			}
			if !allowed[strings.ToLower(u.Scheme)] {
				http.Error(w, "unsupported url scheme "+u.Scheme, http.StatusBadRequest)
				return
			}
			if u.Host == "" {
				http.Error(w, "url must include a host", http.StatusBadRequest)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func covered(paths []string, path string) bool {
	for _, p := range paths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
