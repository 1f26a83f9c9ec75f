// ABOUTME: Tests for the authgate CLI client against an in-process gateway
// ABOUTME: Exercises the HTTP calls, error decoding, token file handling, and the gRPC probe

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/authgate/internal/config"
	"github.com/2389/authgate/internal/gateway"
)

func startGateway(t *testing.T, routes []config.RouteConfig) (*httptest.Server, *gateway.Gateway) {
	t.Helper()

	cfg := &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "authgate.db")},
		Auth: config.AuthConfig{
			JWTSecret:  "cli-test-secret-that-is-32-bytes",
			BcryptCost: 4,
			TokenTTL:   time.Hour,
		},
		Routes: routes,
	}
	gw, err := gateway.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return srv, gw
}

func TestClient_SignupLoginSecure(t *testing.T) {
	srv, _ := startGateway(t, nil)
	ctx := context.Background()
	anon := newClient(srv.URL+"/", "")

	msg, err := anon.signup(ctx, "alice", "s3cret", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "User created", msg)

	res, err := anon.login(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", res.TokenType)
	require.NotEmpty(t, res.Token)

	authed := newClient(srv.URL, res.Token)
	greeting, err := authed.secure(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Welcome alice! This is protected data. You are authenticated.", greeting)

	me, err := authed.me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", me.Username)
	assert.NotEmpty(t, me.ID)
	assert.Equal(t, []string{"user"}, me.Authorities)
}

func TestClient_Errors(t *testing.T) {
	srv, _ := startGateway(t, nil)
	ctx := context.Background()
	anon := newClient(srv.URL, "")

	_, err := anon.signup(ctx, "alice", "s3cret", "")
	require.NoError(t, err)

	_, err = anon.signup(ctx, "alice", "other", "")
	var apiErr *apiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "Username already exists", apiErr.Message)

	_, err = anon.login(ctx, "alice", "wrong")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "Invalid credentials", apiErr.Message)

	_, err = anon.secure(ctx)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "unauthorized (HTTP 401)", apiErr.Error())
}

func TestClient_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL, "").secure(context.Background())
	var apiErr *apiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "upstream exploded", apiErr.Message)
}

func TestCmdLoginAndLogout_TokenFile(t *testing.T) {
	srv, _ := startGateway(t, nil)
	ctx := context.Background()
	c := newClient(srv.URL, "")
	_, err := c.signup(ctx, "alice", "s3cret", "")
	require.NoError(t, err)

	// readPassword reads a line from stdin when it is not a terminal.
	r, w, err := os.Pipe()
	require.NoError(t, err)
	_, err = w.WriteString("s3cret\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	origStdin := os.Stdin
	os.Stdin = r
	t.Cleanup(func() { os.Stdin = origStdin })

	path := filepath.Join(t.TempDir(), "authgate", "token")
	require.NoError(t, cmdLogin(ctx, c, []string{"alice"}, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	greeting, err := newClient(srv.URL, string(data)).secure(ctx)
	require.NoError(t, err)
	assert.Contains(t, greeting, "Welcome alice!")

	require.NoError(t, cmdLogout(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, cmdLogout(path), "logout without a token file is not an error")
}

func TestGetToken(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv(envToken, "")
	assert.Empty(t, getToken())

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "authgate"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "authgate", "token"), []byte("from-file\n"), 0600))
	assert.Equal(t, "from-file", getToken())

	t.Setenv(envToken, "from-env")
	assert.Equal(t, "from-env", getToken())
}

func TestGRPCHealth(t *testing.T) {
	srv, gw := startGateway(t, []config.RouteConfig{
		{Pattern: "/auth/**", Requirement: "public"},
		{Pattern: "/**", Requirement: "authenticated"},
	})

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = gw.GRPCServer().Serve(lis) }()

	ctx := context.Background()
	_, err = grpcHealth(ctx, lis.Addr().String(), "")
	require.Error(t, err, "anonymous probe should be rejected")

	c := newClient(srv.URL, "")
	_, err = c.signup(ctx, "alice", "s3cret", "")
	require.NoError(t, err)
	res, err := c.login(ctx, "alice", "s3cret")
	require.NoError(t, err)

	st, err := grpcHealth(ctx, lis.Addr().String(), res.Token)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)
}
