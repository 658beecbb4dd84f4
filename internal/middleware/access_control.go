package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// AdminPolicy limits the admin routes to clients whose IP starts with one of
// AllowedIPs.
type AdminPolicy struct {
	PathPrefix string
	AllowedIPs []string
}

func WithAdminAccessControl(policy AdminPolicy, logger *slog.Logger, enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			logger.Info("Admin access control is disabled")
			return next
		}
		logger.Info("Admin access control middleware enabled", "prefix", policy.PathPrefix, "allowed", policy.AllowedIPs)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, policy.PathPrefix) {
				next.ServeHTTP(w, r)
				return
			}

			if !isIPAllowed(policy, r.RemoteAddr) {
				logger.Warn("admin access denied", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				http.Error(w, "Access denied", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isIPAllowed(policy AdminPolicy, remoteAddr string) bool {
	clientIP := remoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		clientIP = host
	}
	for _, ipPrefix := range policy.AllowedIPs {
		if strings.HasPrefix(clientIP, ipPrefix) {
			return true
		}
	}
	return false
}
