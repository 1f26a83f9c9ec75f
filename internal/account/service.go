// ABOUTME: Registration and login over the principal store, password hasher, and token codec
// ABOUTME: Login failures are uniform in error and cost whether or not the username exists

package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"time"

	"github.com/2389/authgate/internal/password"
	"github.com/2389/authgate/internal/store"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName       = "github.com/2389/authgate/internal/account"
	defaultTokenTTL = time.Hour
	maxEmailLength  = 254
)

var (
	// ErrInvalidCredentials is returned for any failed login.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidInput is returned when signup fields fail validation.
	ErrInvalidInput = errors.New("invalid input")
)

// usernameRegex validates usernames: letter first, then letters, digits or
// underscores, 3-32 characters total.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{2,31}$`)

// Credentials is a transient username/password pair from a signup or login.
// Email is only read on signup.
type Credentials struct {
	Username string
	Password string
	Email    string
}

// PrincipalStore is the subset of store operations the service needs.
type PrincipalStore interface {
	CreatePrincipal(ctx context.Context, p *store.Principal) error
	GetPrincipalByUsername(ctx context.Context, username string) (*store.Principal, error)
}

// TokenIssuer signs tokens for authenticated principals.
type TokenIssuer interface {
	Issue(subject string, now time.Time, ttl time.Duration) (string, error)
}

// Config holds the service dependencies.
type Config struct {
	Store    PrincipalStore
	Hasher   password.Hasher
	Tokens   TokenIssuer
	TokenTTL time.Duration    // defaults to one hour
	Logger   *slog.Logger     // defaults to slog.Default()
	Meter    metric.Meter     // defaults to the global meter
	Now      func() time.Time // defaults to time.Now
}

// IssuedToken is the result of a successful login.
type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
	Username  string
}

// Service implements signup and login.
type Service struct {
	store   PrincipalStore
	hasher  password.Hasher
	tokens  TokenIssuer
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time
	signups metric.Int64Counter
	logins  metric.Int64Counter
}

// New creates an account service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("account: store is required")
	}
	if cfg.Hasher == nil {
		return nil, errors.New("account: hasher is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("account: token issuer is required")
	}
	if cfg.TokenTTL < 0 {
		return nil, fmt.Errorf("account: token ttl must be positive, got %s", cfg.TokenTTL)
	}

	s := &Service{
		store:  cfg.Store,
		hasher: cfg.Hasher,
		tokens: cfg.Tokens,
		ttl:    cfg.TokenTTL,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
	if s.ttl == 0 {
		s.ttl = defaultTokenTTL
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "account")
	if s.now == nil {
		s.now = time.Now
	}

	meter := cfg.Meter
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	var err error
	if s.signups, err = meter.Int64Counter("authgate_account_signups",
		metric.WithDescription("Signup attempts by result")); err != nil {
		return nil, fmt.Errorf("creating signup counter: %w", err)
	}
	if s.logins, err = meter.Int64Counter("authgate_account_logins",
		metric.WithDescription("Login attempts by result")); err != nil {
		return nil, fmt.Errorf("creating login counter: %w", err)
	}

	return s, nil
}

// TokenTTL returns the lifetime given to issued tokens.
func (s *Service) TokenTTL() time.Duration {
	return s.ttl
}

// Register creates a principal. It returns store.ErrUsernameExists when the
// username is taken, including when a concurrent signup wins. The returned
// principal has no password digest.
func (s *Service) Register(ctx context.Context, creds Credentials) (*store.Principal, error) {
	if err := validateSignup(creds); err != nil {
		s.count(ctx, s.signups, "invalid")
		return nil, err
	}

	digest, err := s.hasher.Hash(creds.Password)
	if err != nil {
		s.count(ctx, s.signups, "invalid")
		if errors.Is(err, password.ErrPasswordTooLong) || errors.Is(err, password.ErrEmptyPassword) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	p := &store.Principal{
		ID:           uuid.New().String(),
		Username:     creds.Username,
		Email:        creds.Email,
		PasswordHash: digest,
		CreatedAt:    s.now().UTC(),
	}

	if err := s.store.CreatePrincipal(ctx, p); err != nil {
		if errors.Is(err, store.ErrUsernameExists) {
			s.count(ctx, s.signups, "duplicate")
			s.logger.Info("signup rejected", "reason", "duplicate_username", "username", creds.Username)
			return nil, store.ErrUsernameExists
		}
		s.count(ctx, s.signups, "error")
		return nil, fmt.Errorf("creating principal: %w", err)
	}

	s.count(ctx, s.signups, "created")
	s.logger.Info("principal registered", "principal_id", p.ID, "username", p.Username)

	p.PasswordHash = ""
	return p, nil
}

// Login checks the password and issues a token whose subject is the
// username. Unknown usernames and wrong passwords both return
// ErrInvalidCredentials after one bcrypt comparison.
func (s *Service) Login(ctx context.Context, creds Credentials) (*IssuedToken, error) {
	if creds.Username == "" || creds.Password == "" {
		s.hasher.VerifyDummy(creds.Password)
		s.count(ctx, s.logins, "failed")
		return nil, ErrInvalidCredentials
	}

	p, err := s.store.GetPrincipalByUsername(ctx, creds.Username)
	if err != nil {
		if errors.Is(err, store.ErrPrincipalNotFound) {
			s.hasher.VerifyDummy(creds.Password)
			s.count(ctx, s.logins, "failed")
			s.logger.Info("login failed", "reason", "unknown_username")
			return nil, ErrInvalidCredentials
		}
		s.count(ctx, s.logins, "error")
		return nil, fmt.Errorf("looking up principal: %w", err)
	}

	if !s.hasher.Verify(creds.Password, p.PasswordHash) {
		s.count(ctx, s.logins, "failed")
		s.logger.Info("login failed", "reason", "password_mismatch", "principal_id", p.ID)
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	token, err := s.tokens.Issue(p.Username, now, s.ttl)
	if err != nil {
		s.count(ctx, s.logins, "error")
		return nil, fmt.Errorf("issuing token: %w", err)
	}

	s.count(ctx, s.logins, "succeeded")
	s.logger.Debug("login succeeded", "principal_id", p.ID)

	return &IssuedToken{
		Token:     token,
		ExpiresAt: now.Add(s.ttl).Truncate(time.Second).UTC(),
		Username:  p.Username,
	}, nil
}

func (s *Service) count(ctx context.Context, c metric.Int64Counter, result string) {
	c.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func validateSignup(creds Credentials) error {
	if !usernameRegex.MatchString(creds.Username) {
		return fmt.Errorf("%w: username must be 3-32 characters, start with a letter, and contain only letters, numbers, and underscores", ErrInvalidInput)
	}
	if creds.Password == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	if creds.Email != "" {
		if len(creds.Email) > maxEmailLength {
			return fmt.Errorf("%w: email is too long", ErrInvalidInput)
		}
		addr, err := mail.ParseAddress(creds.Email)
		if err != nil || addr.Address != creds.Email {
			return fmt.Errorf("%w: email is not a valid address", ErrInvalidInput)
		}
	}
	return nil
}
