// ABOUTME: Cross-origin policy for browser clients of the auth endpoints
// ABOUTME: Answers preflight requests before the auth gate sees them

package gateway

import (
	"net/http"
	"slices"

	"github.com/2389/authgate/internal/config"
)

const (
	corsAllowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	corsMaxAge       = "3600"
)

type cors struct {
	origins     []string
	wildcard    bool
	credentials bool
}

func newCORS(cfg config.CORSConfig) *cors {
	return &cors{
		origins:     cfg.AllowedOrigins,
		wildcard:    slices.Contains(cfg.AllowedOrigins, "*"),
		credentials: cfg.AllowCredentials,
	}
}

func (c *cors) allowed(origin string) bool {
	return c.wildcard || slices.Contains(c.origins, origin)
}

// wrap adds CORS headers for allowed origins. Requests without an Origin
// header pass through untouched.
func (c *cors) wrap(next http.Handler) http.Handler {
	if len(c.origins) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Add("Vary", "Origin")
		preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

		if !c.allowed(origin) {
			if preflight {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		// A credentialed response may not use the "*" origin.
		if c.wildcard && !c.credentials {
			h.Set("Access-Control-Allow-Origin", "*")
		} else {
			h.Set("Access-Control-Allow-Origin", origin)
		}
		if c.credentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}

		if !preflight {
			h.Set("Access-Control-Expose-Headers", "WWW-Authenticate")
			next.ServeHTTP(w, r)
			return
		}

		h.Add("Vary", "Access-Control-Request-Method")
		h.Add("Vary", "Access-Control-Request-Headers")
		h.Set("Access-Control-Allow-Methods", corsAllowMethods)
		if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
			h.Set("Access-Control-Allow-Headers", reqHeaders)
		}
		h.Set("Access-Control-Max-Age", corsMaxAge)
		w.WriteHeader(http.StatusNoContent)
	})
}
