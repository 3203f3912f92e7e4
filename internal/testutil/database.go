// Package testutil provides shared helpers for tests that need a migrated
// database.
package testutil

import (
	"context"
	"testing"

	"github.com/Veraticus/ledger-intake/internal/storage"
)

// SetupTestDB creates a migrated in-memory database that is closed when the
// test finishes.
//
// Example:
//
//	store := testutil.SetupTestDB(t)
//	id, _, err := store.CreateDocument(ctx, doc)
func SetupTestDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}
