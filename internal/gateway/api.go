// ABOUTME: HTTP handlers for signup, login, the protected sample endpoints, and health checks
// ABOUTME: Maps account errors onto JSON status responses

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/2389/authgate/internal/account"
	"github.com/2389/authgate/internal/auth"
	"github.com/2389/authgate/internal/store"
)

// SignupRequest is the JSON request body for POST /auth/signup.
type SignupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
}

// LoginRequest is the JSON request body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the JSON response for a successful login.
type LoginResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresAt string `json:"expires_at"`
}

// MessageResponse is a JSON body carrying a single message.
type MessageResponse struct {
	Message string `json:"message"`
}

// MeResponse is the JSON response for GET /api/me.
type MeResponse struct {
	ID          string   `json:"id,omitempty"`
	Username    string   `json:"username"`
	Authorities []string `json:"authorities"`
}

// ReadyResponse is the JSON response for GET /health/ready.
type ReadyResponse struct {
	Status     string `json:"status"`
	Principals int    `json:"principals"`
}

func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/signup", g.handleSignup)
	mux.HandleFunc("POST /auth/login", g.handleLogin)

	mux.HandleFunc("GET /api/secure", g.handleSecure)
	mux.Handle("GET /api/me", auth.RequireAuthority(auth.AuthorityUser)(http.HandlerFunc(g.handleMe)))

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	if h := g.metrics.Handler(); h != nil {
		mux.Handle("GET "+g.config.Metrics.Path, h)
	}
}

// handleSignup registers a new principal.
func (g *Gateway) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	_, err := g.accounts.Register(r.Context(), account.Credentials{
		Username: strings.TrimSpace(req.Username),
		Password: req.Password,
		Email:    strings.TrimSpace(req.Email),
	})
	switch {
	case err == nil:
		g.sendJSON(w, http.StatusOK, MessageResponse{Message: "User created"})
	case errors.Is(err, store.ErrUsernameExists):
		g.sendJSONError(w, http.StatusBadRequest, "Username already exists")
	case errors.Is(err, account.ErrInvalidInput):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	default:
		g.logger.Error("signup failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

// handleLogin exchanges a username and password for a bearer token.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	issued, err := g.accounts.Login(r.Context(), account.Credentials{
		Username: req.Username,
		Password: req.Password,
	})
	switch {
	case err == nil:
		g.sendJSON(w, http.StatusOK, LoginResponse{
			Token:     issued.Token,
			TokenType: "Bearer",
			ExpiresAt: issued.ExpiresAt.Format(time.RFC3339),
		})
	case errors.Is(err, account.ErrInvalidCredentials):
		g.sendJSONError(w, http.StatusUnauthorized, "Invalid credentials")
	default:
		g.logger.Error("login failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func (g *Gateway) handleSecure(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if id == nil {
		g.sendJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	g.sendJSON(w, http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Welcome %s! This is protected data. You are authenticated.", id.Username),
	})
}

func (g *Gateway) handleMe(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())
	g.sendJSON(w, http.StatusOK, MeResponse{
		ID:          id.PrincipalID,
		Username:    id.Username,
		Authorities: id.Authorities,
	})
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 if the credential store answers queries.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	n, err := g.store.CountPrincipals(r.Context())
	if err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		g.sendJSONError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	g.sendJSON(w, http.StatusOK, ReadyResponse{Status: "ready", Principals: n})
}

// decodeJSON reads a single JSON object from a size-limited body.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

// sendJSON writes v as a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("writing response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
