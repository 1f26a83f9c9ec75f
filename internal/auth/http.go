// ABOUTME: HTTP middleware for the authentication gate and route policy
// ABOUTME: The gate attaches identity, the policy turns denials into 401 or 403 JSON errors

package auth

import (
	"net/http"
)

// Middleware runs the gate on every request and continues as anonymous when
// no valid credential is present. Rejection is left to Policy.Enforce.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, _ := g.Examine(r.Context(), r.Header.Get("Authorization"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Enforce authorizes each request against the policy. Anonymous callers that
// are denied get 401 with a Bearer challenge. Authenticated callers that are
// denied get 403.
func (p *Policy) Enforce(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := FromContext(r.Context())
		if p.Authorize(cleanPath(r.URL.Path), r.Method, id) == Permit {
			next.ServeHTTP(w, r)
			return
		}

		if id == nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="authgate"`)
			writeJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		writeJSONError(w, http.StatusForbidden, "forbidden")
	})
}

// RequireAuthority rejects requests whose identity lacks authority.
// Must be used after Gate.Middleware.
func RequireAuthority(authority string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := FromContext(r.Context())
			if id == nil {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !id.HasAuthority(authority) {
				writeJSONError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
