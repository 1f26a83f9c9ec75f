// Package store provides persistence for registered principals.
//
// # Architecture
//
// PrincipalStore is the single interface the rest of the service depends on.
// Two implementations are provided:
//
//   - SQLiteStore: modernc.org/sqlite backed, used by the gateway binary
//   - MemoryStore: map backed, used by tests and ephemeral setups
//
// # Uniqueness
//
// Usernames are unique and compared exactly. SQLiteStore relies on a UNIQUE
// column and maps the constraint violation to ErrUsernameExists, so two
// concurrent CreatePrincipal calls for the same username yield exactly one
// success. MemoryStore performs the check and insert under a single lock.
//
// # Errors
//
//   - ErrPrincipalNotFound: lookup by ID or username found nothing
//   - ErrUsernameExists: username already registered
//   - ErrInvalidPrincipal: required field missing on create
package store
