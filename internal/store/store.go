// ABOUTME: Principal type and the PrincipalStore interface for credential persistence
// ABOUTME: Declares the sentinel errors shared by the SQLite and in-memory stores

package store

import (
	"context"
	"errors"
	"time"
)

// ErrPrincipalNotFound is returned when no principal matches the lookup.
var ErrPrincipalNotFound = errors.New("principal not found")

// ErrUsernameExists is returned when trying to create a principal with an existing username.
var ErrUsernameExists = errors.New("username already exists")

// ErrInvalidPrincipal is returned when a principal is missing a required field.
var ErrInvalidPrincipal = errors.New("invalid principal")

// Principal is a registered account that can log in and receive tokens.
type Principal struct {
	ID           string
	Username     string // unique, case-sensitive
	Email        string // optional
	PasswordHash string // bcrypt digest, never the raw password
	CreatedAt    time.Time
}

// PrincipalStore defines persistence for registered principals.
// Implementations must be safe for concurrent use, and CreatePrincipal
// must be atomic with respect to the username uniqueness check.
type PrincipalStore interface {
	CreatePrincipal(ctx context.Context, p *Principal) error
	GetPrincipal(ctx context.Context, id string) (*Principal, error)
	GetPrincipalByUsername(ctx context.Context, username string) (*Principal, error)
	CountPrincipals(ctx context.Context) (int, error)
	Close() error
}

func validatePrincipal(p *Principal) error {
	switch {
	case p == nil:
		return ErrInvalidPrincipal
	case p.ID == "":
		return errors.Join(ErrInvalidPrincipal, errors.New("id is required"))
	case p.Username == "":
		return errors.Join(ErrInvalidPrincipal, errors.New("username is required"))
	case p.PasswordHash == "":
		return errors.Join(ErrInvalidPrincipal, errors.New("password hash is required"))
	}
	return nil
}
