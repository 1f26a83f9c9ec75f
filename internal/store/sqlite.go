// ABOUTME: SQLite implementation of PrincipalStore using modernc.org/sqlite
// ABOUTME: Username uniqueness is enforced by a UNIQUE column so concurrent signups cannot race

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory SQLite database.
const MemoryPath = ":memory:"

// SQLiteStore implements PrincipalStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Ensure SQLiteStore implements PrincipalStore.
var _ PrincipalStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != MemoryPath {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every pooled connection to :memory: would get its own empty database.
	if path == MemoryPath {
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// dsn applies per-connection pragmas. Writers wait on the busy timeout
// instead of failing with SQLITE_BUSY when signups collide.
func dsn(path string) string {
	pragmas := []string{
		"_pragma=busy_timeout(5000)",
		"_pragma=foreign_keys(1)",
	}
	if path != MemoryPath {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	}
	return "file:" + path + "?" + strings.Join(pragmas, "&")
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS principals (
			principal_id  TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			email         TEXT,
			password_hash TEXT NOT NULL,
			created_at    TEXT NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreatePrincipal inserts a new principal. Returns ErrUsernameExists if the
// username is already taken, including when a concurrent insert wins the race.
func (s *SQLiteStore) CreatePrincipal(ctx context.Context, p *Principal) error {
	if err := validatePrincipal(p); err != nil {
		return err
	}

	query := `
		INSERT INTO principals (principal_id, username, email, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	var email sql.NullString
	if p.Email != "" {
		email = sql.NullString{String: p.Email, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		p.ID,
		p.Username,
		email,
		p.PasswordHash,
		p.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "principals.username") {
			return ErrUsernameExists
		}
		return fmt.Errorf("inserting principal: %w", err)
	}

	s.logger.Debug("created principal", "id", p.ID, "username", p.Username)
	return nil
}

// GetPrincipal retrieves a principal by ID.
func (s *SQLiteStore) GetPrincipal(ctx context.Context, id string) (*Principal, error) {
	query := `
		SELECT principal_id, username, email, password_hash, created_at
		FROM principals
		WHERE principal_id = ?
	`
	return s.scanPrincipal(s.db.QueryRowContext(ctx, query, id))
}

// GetPrincipalByUsername retrieves a principal by exact username.
func (s *SQLiteStore) GetPrincipalByUsername(ctx context.Context, username string) (*Principal, error) {
	query := `
		SELECT principal_id, username, email, password_hash, created_at
		FROM principals
		WHERE username = ?
	`
	return s.scanPrincipal(s.db.QueryRowContext(ctx, query, username))
}

// CountPrincipals returns the number of registered principals.
func (s *SQLiteStore) CountPrincipals(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM principals`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting principals: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) scanPrincipal(row *sql.Row) (*Principal, error) {
	var p Principal
	var email sql.NullString
	var createdAtStr string

	err := row.Scan(&p.ID, &p.Username, &email, &p.PasswordHash, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPrincipalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying principal: %w", err)
	}

	p.Email = email.String
	p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &p, nil
}

// isUniqueConstraintError checks if an error is a unique constraint violation
func isUniqueConstraintError(err error) bool {
	// SQLite returns "UNIQUE constraint failed" in the error message
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
