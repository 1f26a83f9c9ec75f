// ABOUTME: Tests for account registration and login
// ABOUTME: Covers the signup/login round trip, duplicates, validation, and uniform login failures

package account

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/2389/authgate/internal/auth"
	"github.com/2389/authgate/internal/password"
	"github.com/2389/authgate/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var accountTestSecret = []byte("account-service-test-secret-32b!")

var testNow = time.Unix(1_700_000_000, 0).UTC()

// countingHasher records how many bcrypt comparisons each login performs.
type countingHasher struct {
	password.Hasher
	compares atomic.Int64
}

func (c *countingHasher) Verify(raw, digest string) bool {
	c.compares.Add(1)
	return c.Hasher.Verify(raw, digest)
}

func (c *countingHasher) VerifyDummy(raw string) {
	c.compares.Add(1)
	c.Hasher.VerifyDummy(raw)
}

type fixture struct {
	svc    *Service
	store  *store.MemoryStore
	codec  *auth.JWTCodec
	hasher *countingHasher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	bc, err := password.NewBcrypt(bcrypt.MinCost)
	require.NoError(t, err)
	codec, err := auth.NewJWTCodec(accountTestSecret)
	require.NoError(t, err)

	f := &fixture{
		store:  store.NewMemoryStore(),
		codec:  codec,
		hasher: &countingHasher{Hasher: bc},
	}
	f.svc, err = New(Config{
		Store:    f.store,
		Hasher:   f.hasher,
		Tokens:   codec,
		TokenTTL: time.Hour,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:      func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return f
}

func TestRegisterThenLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Register(ctx, Credentials{Username: "alice", Password: "pw123"})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "alice", p.Username)
	assert.Empty(t, p.PasswordHash, "digest must not be returned")

	issued, err := f.svc.Login(ctx, Credentials{Username: "alice", Password: "pw123"})
	require.NoError(t, err)
	assert.Equal(t, "alice", issued.Username)
	assert.True(t, issued.ExpiresAt.Equal(testNow.Add(time.Hour)))

	sub, err := f.codec.ExtractSubject(issued.Token, testNow)
	require.NoError(t, err)
	assert.Equal(t, "alice", sub)
}

func TestRegister_StoresDigestNotPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, Credentials{Username: "alice", Password: "pw123", Email: "alice@example.com"})
	require.NoError(t, err)

	stored, err := f.store.GetPrincipalByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, "pw123", stored.PasswordHash)
	assert.NotContains(t, stored.PasswordHash, "pw123")
	assert.True(t, strings.HasPrefix(stored.PasswordHash, "$2"))
	assert.Equal(t, "alice@example.com", stored.Email)
	assert.True(t, stored.CreatedAt.Equal(testNow))
}

func TestRegister_DuplicateUsername(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, Credentials{Username: "alice", Password: "pw123"})
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, Credentials{Username: "alice", Password: "other"})
	assert.ErrorIs(t, err, store.ErrUsernameExists)

	// The original password still works
	_, err = f.svc.Login(ctx, Credentials{Username: "alice", Password: "pw123"})
	assert.NoError(t, err)
}

func TestRegister_ConcurrentSameUsername(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const workers = 10
	var wg sync.WaitGroup
	var created, duplicates atomic.Int64
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Register(ctx, Credentials{Username: "racer", Password: fmt.Sprintf("pw-%d", i)})
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, store.ErrUsernameExists):
				duplicates.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), created.Load())
	assert.Equal(t, int64(workers-1), duplicates.Load())
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		creds Credentials
	}{
		{"empty username", Credentials{Password: "pw123"}},
		{"short username", Credentials{Username: "al", Password: "pw123"}},
		{"username starting with digit", Credentials{Username: "1alice", Password: "pw123"}},
		{"username with space", Credentials{Username: "al ice", Password: "pw123"}},
		{"empty password", Credentials{Username: "alice"}},
		{"password too long", Credentials{Username: "alice", Password: strings.Repeat("x", password.MaxLength+1)}},
		{"bad email", Credentials{Username: "alice", Password: "pw123", Email: "not-an-email"}},
		{"display name email", Credentials{Username: "alice", Password: "pw123", Email: "Alice <alice@example.com>"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), tt.creds)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	count, err := f.store.CountPrincipals(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestLogin_UniformFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, Credentials{Username: "alice", Password: "pw123"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		creds Credentials
	}{
		{"wrong password", Credentials{Username: "alice", Password: "wrong"}},
		{"unknown user", Credentials{Username: "bob", Password: "pw123"}},
		{"wrong case username", Credentials{Username: "Alice", Password: "pw123"}},
		{"empty password", Credentials{Username: "alice"}},
		{"empty username", Credentials{Password: "pw123"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.hasher.compares.Load()

			issued, err := f.svc.Login(ctx, tt.creds)

			assert.Nil(t, issued)
			assert.Equal(t, ErrInvalidCredentials, err)
			assert.Equal(t, int64(1), f.hasher.compares.Load()-before, "every failure costs one comparison")
		})
	}
}

func TestLogin_StoreErrorIsNotInvalidCredentials(t *testing.T) {
	bc, err := password.NewBcrypt(bcrypt.MinCost)
	require.NoError(t, err)
	codec, err := auth.NewJWTCodec(accountTestSecret)
	require.NoError(t, err)

	svc, err := New(Config{Store: failingStore{}, Hasher: bc, Tokens: codec})
	require.NoError(t, err)

	_, err = svc.Login(context.Background(), Credentials{Username: "alice", Password: "pw123"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

type failingStore struct{}

func (failingStore) CreatePrincipal(ctx context.Context, p *store.Principal) error {
	return errors.New("disk full")
}

func (failingStore) GetPrincipalByUsername(ctx context.Context, username string) (*store.Principal, error) {
	return nil, errors.New("disk full")
}

func TestNew_RequiresDependencies(t *testing.T) {
	bc, err := password.NewBcrypt(bcrypt.MinCost)
	require.NoError(t, err)
	codec, err := auth.NewJWTCodec(accountTestSecret)
	require.NoError(t, err)
	s := store.NewMemoryStore()

	_, err = New(Config{Hasher: bc, Tokens: codec})
	assert.Error(t, err)
	_, err = New(Config{Store: s, Tokens: codec})
	assert.Error(t, err)
	_, err = New(Config{Store: s, Hasher: bc})
	assert.Error(t, err)
	_, err = New(Config{Store: s, Hasher: bc, Tokens: codec, TokenTTL: -time.Second})
	assert.Error(t, err)

	svc, err := New(Config{Store: s, Hasher: bc, Tokens: codec})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, svc.TokenTTL())
}
