// ABOUTME: HS256 token codec issuing and verifying signed subject/expiry claims
// ABOUTME: Verification reports why a token failed so the gate can log and count outcomes

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the shortest signing secret accepted (256 bits for HS256).
const MinSecretLength = 32

// Token errors
var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token expired")
	ErrMissingClaim   = errors.New("missing required claim")
	ErrSecretTooShort = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
)

// Reason classifies a failed verification.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonMalformed      Reason = "malformed"
	ReasonSignature      Reason = "signature"
	ReasonExpired        Reason = "expired"
	ReasonNotYetValid    Reason = "not_yet_valid"
	ReasonMissingSubject Reason = "missing_subject"
)

// Claims are the verified contents of a token.
type Claims struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Verification is the outcome of checking a token. Claims are only
// populated when Reason is ReasonNone.
type Verification struct {
	Claims Claims
	Reason Reason
}

// Valid reports whether the token passed every check.
func (v Verification) Valid() bool {
	return v.Reason == ReasonNone
}

// Err maps the outcome onto the package's token errors, or nil when valid.
func (v Verification) Err() error {
	switch v.Reason {
	case ReasonNone:
		return nil
	case ReasonExpired:
		return ErrExpiredToken
	case ReasonMissingSubject:
		return fmt.Errorf("%w: sub", ErrMissingClaim)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidToken, v.Reason)
	}
}

// TokenCodec issues and verifies bearer tokens. Both operations are pure
// functions of their inputs and the codec's secret.
type TokenCodec interface {
	Issue(subject string, now time.Time, ttl time.Duration) (string, error)
	Verify(token string, now time.Time) Verification
}

// JWTCodec implements TokenCodec using HS256 signed JWTs
type JWTCodec struct {
	secret []byte
}

// Ensure JWTCodec implements TokenCodec.
var _ TokenCodec = (*JWTCodec)(nil)

// NewJWTCodec creates a codec with the given secret. The secret is copied.
func NewJWTCodec(secret []byte) (*JWTCodec, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	s := make([]byte, len(secret))
	copy(s, secret)
	return &JWTCodec{secret: s}, nil
}

// Issue signs a token for subject, issued at now and expiring at now+ttl.
// Timestamps carry second precision. A non-positive ttl yields a token that
// is already expired.
func (c *JWTCodec) Issue(subject string, now time.Time, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature first, then the time window
// issuedAt <= now < expiresAt, then the subject.
func (c *JWTCodec) Verify(tokenString string, now time.Time) Verification {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, c.key,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithStrictDecoding(),
	)
	if err != nil {
		return Verification{Reason: reasonFor(err)}
	}

	if claims.Subject == "" {
		return Verification{Reason: ReasonMissingSubject}
	}

	out := Claims{
		Subject:   claims.Subject,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return Verification{Claims: out}
}

// ExtractSubject verifies the token and returns its subject.
func (c *JWTCodec) ExtractSubject(tokenString string, now time.Time) (string, error) {
	v := c.Verify(tokenString, now)
	if !v.Valid() {
		return "", v.Err()
	}
	return v.Claims.Subject, nil
}

func (c *JWTCodec) key(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return c.secret, nil
}

func reasonFor(err error) Reason {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ReasonSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, jwt.ErrTokenUsedBeforeIssued), errors.Is(err, jwt.ErrTokenNotValidYet):
		return ReasonNotYetValid
	default:
		return ReasonMalformed
	}
}
