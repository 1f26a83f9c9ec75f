// ABOUTME: One-way password digests backed by golang.org/x/crypto/bcrypt
// ABOUTME: VerifyDummy spends one comparison so unknown-user logins cost the same as real ones

package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MaxLength is the longest password bcrypt will digest.
const MaxLength = 72

// ErrPasswordTooLong is returned when a password exceeds MaxLength bytes.
var ErrPasswordTooLong = fmt.Errorf("password exceeds %d bytes", MaxLength)

// ErrEmptyPassword is returned when hashing an empty password.
var ErrEmptyPassword = errors.New("password is empty")

// Hasher produces and checks salted one-way password digests.
type Hasher interface {
	Hash(raw string) (string, error)
	Verify(raw, digest string) bool
	// VerifyDummy performs a comparison against a throwaway digest and
	// discards the result.
	VerifyDummy(raw string)
}

// Bcrypt is a Hasher using bcrypt at a fixed cost.
type Bcrypt struct {
	cost  int
	dummy []byte
}

// Ensure Bcrypt implements Hasher.
var _ Hasher = (*Bcrypt)(nil)

// NewBcrypt creates a bcrypt Hasher. A cost of 0 selects bcrypt.DefaultCost.
func NewBcrypt(cost int) (*Bcrypt, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}

	// Dummy digest at the same cost so the wasted comparison takes as long as a real one
	dummy, err := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), cost)
	if err != nil {
		return nil, fmt.Errorf("generating dummy digest: %w", err)
	}

	return &Bcrypt{cost: cost, dummy: dummy}, nil
}

// Cost returns the configured work factor.
func (b *Bcrypt) Cost() int {
	return b.cost
}

// Hash returns a salted bcrypt digest of raw.
func (b *Bcrypt) Hash(raw string) (string, error) {
	if raw == "" {
		return "", ErrEmptyPassword
	}
	if len(raw) > MaxLength {
		return "", ErrPasswordTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), b.cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether raw matches digest.
func (b *Bcrypt) Verify(raw, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(raw)) == nil
}

// VerifyDummy compares raw against the dummy digest and ignores the result.
func (b *Bcrypt) VerifyDummy(raw string) {
	_ = bcrypt.CompareHashAndPassword(b.dummy, []byte(raw))
}
