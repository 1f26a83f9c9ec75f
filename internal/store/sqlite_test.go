// ABOUTME: Tests for SQLite store construction and persistence across reopen
// ABOUTME: Covers file and directory creation, in-memory mode, and ping

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	store, err := NewSQLiteStore(MemoryPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.CreatePrincipal(ctx, testPrincipal("p1", "alice")); err != nil {
		t.Fatalf("CreatePrincipal failed: %v", err)
	}

	// Reads must see the same database as the write
	if _, err := store.GetPrincipalByUsername(ctx, "alice"); err != nil {
		t.Fatalf("GetPrincipalByUsername failed: %v", err)
	}
	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := store.CreatePrincipal(ctx, testPrincipal("p1", "alice")); err != nil {
		t.Fatalf("CreatePrincipal failed: %v", err)
	}
	store.Close()

	reopened, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetPrincipalByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetPrincipalByUsername after reopen failed: %v", err)
	}
	if got.ID != "p1" {
		t.Errorf("expected ID p1, got %s", got.ID)
	}

	// Uniqueness survives the reopen too
	if err := reopened.CreatePrincipal(ctx, testPrincipal("p2", "alice")); err != ErrUsernameExists {
		t.Errorf("expected ErrUsernameExists, got %v", err)
	}
}

func TestSQLiteStore_DuplicateIDIsNotReportedAsDuplicateUsername(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreatePrincipal(ctx, testPrincipal("same-id", "alice")); err != nil {
		t.Fatalf("CreatePrincipal failed: %v", err)
	}

	err := store.CreatePrincipal(ctx, testPrincipal("same-id", "bob"))
	if err == nil {
		t.Fatal("expected error for duplicate principal ID")
	}
	if err == ErrUsernameExists {
		t.Error("duplicate ID must not be reported as a duplicate username")
	}
}
