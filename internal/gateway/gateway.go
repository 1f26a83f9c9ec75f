// ABOUTME: Gateway orchestrator that wires the store, auth gate, policy, and servers together
// ABOUTME: Runs the HTTP and gRPC listeners and shuts both down when the context ends

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/authgate/internal/account"
	"github.com/2389/authgate/internal/auth"
	"github.com/2389/authgate/internal/config"
	"github.com/2389/authgate/internal/metrics"
	"github.com/2389/authgate/internal/password"
	"github.com/2389/authgate/internal/store"
)

const (
	meterScope      = "github.com/2389/authgate"
	shutdownTimeout = 5 * time.Second
	maxBodyBytes    = 64 << 10
)

// Gateway owns the authgate server components.
type Gateway struct {
	config   *config.Config
	store    store.PrincipalStore
	accounts *account.Service
	gate     *auth.Gate
	policy   *auth.Policy
	metrics  *metrics.Provider
	logger   *slog.Logger

	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a gateway from cfg. Listeners are not opened until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	gw, err := build(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

func build(cfg *config.Config, s store.PrincipalStore, logger *slog.Logger) (*Gateway, error) {
	hasher, err := password.NewBcrypt(cfg.Auth.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("creating password hasher: %w", err)
	}

	codec, err := auth.NewJWTCodec([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating token codec: %w", err)
	}

	mp, err := metrics.New(cfg.Metrics, meterScope)
	if err != nil {
		return nil, fmt.Errorf("creating metrics provider: %w", err)
	}

	accounts, err := account.New(account.Config{
		Store:    s,
		Hasher:   hasher,
		Tokens:   codec,
		TokenTTL: cfg.Auth.TokenTTL,
		Logger:   logger,
		Meter:    mp.Meter(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating account service: %w", err)
	}

	policy, err := buildPolicy(cfg.Routes)
	if err != nil {
		return nil, err
	}

	gw := &Gateway{
		config:   cfg,
		store:    s,
		accounts: accounts,
		gate:     auth.NewGate(codec, s, logger, auth.WithMeter(mp.Meter())),
		policy:   policy,
		metrics:  mp,
		logger:   logger,
		health:   health.NewServer(),
	}

	gw.grpcServer = grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(gw.gate.UnaryInterceptor(), gw.policy.UnaryInterceptor()),
		grpc.ChainStreamInterceptor(gw.gate.StreamInterceptor(), gw.policy.StreamInterceptor()),
	)
	healthpb.RegisterHealthServer(gw.grpcServer, gw.health)
	gw.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("auth gate enabled",
		"rules", len(policy.Rules()),
		"token_ttl", accounts.TokenTTL().String(),
		"metrics", mp.Enabled(),
	)
	return gw, nil
}

// buildPolicy compiles the configured route table, falling back to
// auth.DefaultRules when none is configured.
func buildPolicy(routes []config.RouteConfig) (*auth.Policy, error) {
	if len(routes) == 0 {
		return auth.NewPolicy(auth.DefaultRules()...)
	}

	rules := make([]auth.RouteRule, 0, len(routes))
	for i, r := range routes {
		req, err := auth.ParseRequirement(r.Requirement)
		if err != nil {
			return nil, fmt.Errorf("routes[%d]: %w", i, err)
		}
		rules = append(rules, auth.RouteRule{
			Pattern:     r.Pattern,
			Methods:     r.Methods,
			Requirement: req,
		})
	}

	p, err := auth.NewPolicy(rules...)
	if err != nil {
		return nil, fmt.Errorf("building route policy: %w", err)
	}
	return p, nil
}

// Handler returns the full HTTP handler chain: CORS, then the gate, then the
// policy, then the routes.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	g.registerRoutes(mux)
	return newCORS(g.config.CORS).wrap(g.gate.Middleware(g.policy.Enforce(mux)))
}

// GRPCServer exposes the gRPC server so callers can serve it on their own listener.
func (g *Gateway) GRPCServer() *grpc.Server {
	return g.grpcServer
}

// setupListeners opens the HTTP listener and, when configured, the gRPC one.
func (g *Gateway) setupListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.config.Server.GRPCAddr == "" {
		return nil, httpLn, nil
	}

	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		_ = httpLn.Close()
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}
	return grpcLn, httpLn, nil
}

// Run starts the servers and blocks until ctx is canceled or a server fails.
// Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	grpcLn, httpLn, err := g.setupListeners()
	if err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	if grpcLn != nil {
		eg.Go(func() error {
			g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				return fmt.Errorf("gRPC server: %w", err)
			}
			return nil
		})
	}

	eg.Go(func() error {
		<-egCtx.Done()
		if ctx.Err() != nil {
			g.logger.Info("context canceled, initiating shutdown")
		}
		return g.gracefulShutdown()
	})

	return eg.Wait()
}

// gracefulShutdown uses a fresh context because the run context is already done.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops both servers and releases the store. Safe to call more than once.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.logger.Info("shutting down gateway")

		g.health.Shutdown()

		var errs []error
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
		g.shutdownGRPCServer(ctx)
		errs = appendCloseError(errs, "metrics shutdown", g.metrics.Shutdown(ctx))
		errs = appendCloseError(errs, "store close", g.store.Close())

		g.shutdownErr = errors.Join(errs...)
	})
	return g.shutdownErr
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}
