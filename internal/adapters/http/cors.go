package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"net/http"
	"strings"
)

// corsMiddleware lets the imaging UI call the local API from its own origin.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" && s.isOriginAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Accept, Content-Type, Authorization")
			h.Set("Access-Control-Expose-Headers", "Location, "+requestIDHeader)
			h.Set("Access-Control-Max-Age", "86400") // 24 hours
			h.Set("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// isOriginAllowed checks if the given origin matches any allowed pattern.
func (s *Server) isOriginAllowed(origin string) bool {
	for _, pattern := range s.config.CORS.AllowedOrigins {
		if matchOrigin(origin, pattern) {
			return true
		}
	}
	return false
}

// matchOrigin checks if an origin matches a pattern. Besides exact matches
// it supports subdomain wildcards ("*.hospital.local") and port wildcards
// ("http://localhost:*"), the latter for development servers.
func matchOrigin(origin, pattern string) bool {
	if origin == pattern || pattern == "*" {
		return true
	}

	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:]
		originHost := extractHost(origin)

		// "*.example.com" matches "sub.example.com" but not "example.com"
		return strings.HasSuffix(originHost, suffix) && len(originHost) > len(suffix)
	}

	if base, ok := strings.CutSuffix(pattern, ":*"); ok {
		rest, found := strings.CutPrefix(origin, base+":")
		if !found || rest == "" {
			return false
		}
		for _, c := range rest {
			if c < '0' || c > '9' {
				return false
			}
		}
		return true
	}

	return false
}

// extractHost extracts the host from an origin URL.
// Example: "https://example.com:8080" returns "example.com".
func extractHost(origin string) string {
	host := origin
	if idx := strings.Index(host, "://"); idx != -1 {
		host = host[idx+3:]
	}
	if idx := strings.IndexAny(host, ":/"); idx != -1 {
		host = host[:idx]
	}
	return host
}
