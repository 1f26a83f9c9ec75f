// Package auth provides stateless bearer-token authentication and route
// authorization for authgate.
//
// # Tokens
//
// JWTCodec issues and verifies HS256 JWTs carrying sub, iat and exp.
// Verification is a pure function of (token, now, secret):
//
//	codec, err := auth.NewJWTCodec(secret) // secret must be >= 32 bytes
//	token, err := codec.Issue("alice", time.Now(), time.Hour)
//	v := codec.Verify(token, time.Now())
//	if !v.Valid() { ... v.Reason ... }
//
// The signature is checked before any claim, and a token is valid iff
// issuedAt <= now < expiresAt.
//
// # Gate
//
// Gate examines the Authorization header once per request and records one of
// StateNoCredential, StateInvalidCredential or StateAuthenticated in the
// context. It never rejects a request itself. An authenticated request
// carries an *Identity retrievable with FromContext.
//
// # Policy
//
// Policy is an ordered list of RouteRule values. The first rule whose pattern
// and method match decides; a request matching no rule is denied. Denials
// become 401 for anonymous callers and 403 for authenticated ones, over HTTP
// (Policy.Enforce) and gRPC (Policy.UnaryInterceptor, codes.Unauthenticated
// and codes.PermissionDenied).
//
// Typical HTTP wiring:
//
//	handler := gate.Middleware(policy.Enforce(mux))
package auth
