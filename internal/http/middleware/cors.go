package middleware

import (
	"net/http"
	"strings"
)

const (
	corsAllowHeaders  = "Authorization, Content-Type, X-Request-ID"
	corsAllowMethods  = "GET, POST, PUT, PATCH, OPTIONS"
	corsExposeHeaders = "X-Request-ID, Retry-After"
)

// Origins is a parsed browser origin allowlist. "*" admits every origin.
type Origins struct {
	any   bool
	exact map[string]bool
}

// ParseOrigins trims and drops blank entries.
func ParseOrigins(list []string) Origins {
	o := Origins{exact: map[string]bool{}}
	for _, origin := range list {
		switch origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin {
		case "":
		case "*":
			o.any = true
		default:
			o.exact[strings.ToLower(origin)] = true
		}
	}
	return o
}

// Empty reports whether no origin was configured.
func (o Origins) Empty() bool { return !o.any && len(o.exact) == 0 }

// Allows reports whether origin is on the list. Matching ignores case and a trailing slash.
func (o Origins) Allows(origin string) bool {
	origin = strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
	if origin == "" {
		return false
	}
	return o.any || o.exact[origin]
}

// CORS echoes allowed origins and answers preflight requests itself.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	origins := ParseOrigins(allowedOrigins)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := origins.Allows(origin)
			if allowed {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Allow-Methods", corsAllowMethods)
				h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
				h.Set("Access-Control-Max-Age", "600")
			}
			if r.Method == http.MethodOptions && origin != "" && r.Header.Get("Access-Control-Request-Method") != "" {
				if allowed {
					w.WriteHeader(http.StatusNoContent)
				} else {
					w.WriteHeader(http.StatusForbidden)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
