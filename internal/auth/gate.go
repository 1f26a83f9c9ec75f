// ABOUTME: Authentication gate that turns an Authorization header into a request identity
// ABOUTME: Never rejects on its own; it only records what it found for the policy to judge

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/authgate/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/grpc/peer"
)

const meterName = "github.com/2389/authgate/internal/auth"

// State is the gate's conclusion about a single request.
type State int

const (
	StateUnexamined State = iota
	StateNoCredential
	StateInvalidCredential
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnexamined:
		return "unexamined"
	case StateNoCredential:
		return "no_credential"
	case StateInvalidCredential:
		return "invalid_credential"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// PrincipalLookup resolves a token subject to a registered principal.
type PrincipalLookup interface {
	GetPrincipalByUsername(ctx context.Context, username string) (*store.Principal, error)
}

// Gate examines bearer credentials once per request.
type Gate struct {
	codec      TokenCodec
	principals PrincipalLookup
	logger     *slog.Logger
	now        func() time.Time
	outcomes   metric.Int64Counter
}

// GateOption customises a Gate.
type GateOption func(*Gate)

// WithClock overrides the time source used for token verification.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) {
		g.now = now
	}
}

// WithMeter records gate outcomes on the given meter instead of the global one.
func WithMeter(m metric.Meter) GateOption {
	return func(g *Gate) {
		g.outcomes = newOutcomeCounter(m)
	}
}

// NewGate creates a gate. When principals is nil the identity is built from
// the token subject alone and no account lookup happens.
func NewGate(codec TokenCodec, principals PrincipalLookup, logger *slog.Logger, opts ...GateOption) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		codec:      codec,
		principals: principals,
		logger:     logger.With("component", "auth"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.outcomes == nil {
		g.outcomes = newOutcomeCounter(otel.Meter(meterName))
	}
	return g
}

func newOutcomeCounter(m metric.Meter) metric.Int64Counter {
	c, err := m.Int64Counter("authgate_gate_outcomes",
		metric.WithDescription("Requests examined by the authentication gate, by outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}
	return c
}

// Examine inspects the Authorization header value and returns a context
// carrying the outcome. A request is examined at most once: if the context
// already holds a state or an identity, it is returned unchanged.
func (g *Gate) Examine(ctx context.Context, authorization string) (context.Context, State) {
	if FromContext(ctx) != nil {
		if StateFromContext(ctx) == StateUnexamined {
			ctx = withState(ctx, StateAuthenticated)
		}
		return ctx, StateAuthenticated
	}
	if s := StateFromContext(ctx); s != StateUnexamined {
		return ctx, s
	}

	state, id := g.examine(ctx, authorization)
	g.record(ctx, state)

	if id != nil {
		ctx = WithIdentity(ctx, id)
	}
	return withState(ctx, state), state
}

func (g *Gate) examine(ctx context.Context, authorization string) (State, *Identity) {
	token, ok := ParseBearer(authorization)
	if !ok {
		if authorization != "" {
			g.logFailure(ctx, "unsupported_scheme")
		}
		return StateNoCredential, nil
	}

	v := g.codec.Verify(token, g.now())
	if !v.Valid() {
		g.logFailure(ctx, "invalid_token", "token_reason", string(v.Reason))
		return StateInvalidCredential, nil
	}

	if g.principals == nil {
		return StateAuthenticated, &Identity{
			Username:    v.Claims.Subject,
			Authorities: []string{AuthorityUser},
		}
	}

	p, err := g.principals.GetPrincipalByUsername(ctx, v.Claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrPrincipalNotFound) {
			g.logFailure(ctx, "unknown_subject", "subject", v.Claims.Subject)
		} else {
			g.logFailure(ctx, "principal_lookup_failed", "subject", v.Claims.Subject, "error", err.Error())
		}
		return StateInvalidCredential, nil
	}

	return StateAuthenticated, &Identity{
		PrincipalID: p.ID,
		Username:    p.Username,
		Authorities: []string{AuthorityUser},
	}
}

func (g *Gate) record(ctx context.Context, s State) {
	if g.outcomes == nil {
		return
	}
	g.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", s.String())))
}

// logFailure logs an authentication failure with structured context.
func (g *Gate) logFailure(ctx context.Context, reason string, attrs ...any) {
	baseAttrs := []any{"reason", reason}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		baseAttrs = append(baseAttrs, "peer_addr", p.Addr.String())
	}
	baseAttrs = append(baseAttrs, attrs...)
	g.logger.Warn("auth failure", baseAttrs...)
}

// ParseBearer extracts the token from an Authorization header value of the
// form "Bearer <token>". The scheme is case-insensitive and the value must
// contain exactly two whitespace-separated fields.
func ParseBearer(header string) (string, bool) {
	fields := strings.Fields(header)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", false
	}
	return fields[1], true
}
