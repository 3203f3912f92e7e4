package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/ledger-intake/internal/common"
)

func createTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))

	t.Cleanup(func() { _ = store.Close() })
	return store
}

// fixedClock returns a clock that advances one second per call.
func fixedClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func TestNewSQLiteStorage(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		_, err := NewSQLiteStorage("")
		require.ErrorIs(t, err, ErrEmptyString)
	})

	t.Run("in memory", func(t *testing.T) {
		store, err := NewSQLiteStorage(":memory:")
		require.NoError(t, err)
		defer func() { _ = store.Close() }()
		require.NoError(t, store.Migrate(context.Background()))
	})

	t.Run("creates parent directory", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "nested", "dir", "intake.db")
		store, err := NewSQLiteStorage(dbPath)
		require.NoError(t, err)
		_ = store.Close()
	})
}

func TestMigrate_Idempotent(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.Migrate(ctx))

	version, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, ExpectedSchemaVersion, version)

	for _, table := range []string{
		"documents", "transactions", "transaction_items", "vendor_aliases",
		"learned_category_facts", "completion_events", "messages", "audit_log", "tasks",
	} {
		var name string
		err := store.db.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, "table %s", table)
	}
}

func TestPlaceholders(t *testing.T) {
	tests := []struct {
		want string
		n    int
	}{
		{n: 0, want: ""},
		{n: 1, want: "?"},
		{n: 3, want: "?, ?, ?"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, placeholders(tt.n))
	}
}

func TestMarshalStrings(t *testing.T) {
	assert.Equal(t, "[]", marshalStrings(nil))
	assert.Equal(t, `["EMAIL","PHONE"]`, marshalStrings([]string{"EMAIL", "PHONE"}))
	assert.Equal(t, []string{"EMAIL"}, unmarshalStrings(`["EMAIL"]`))
	assert.Empty(t, unmarshalStrings(""))
	assert.NotNil(t, unmarshalStrings("not json"))
}

func TestBusy(t *testing.T) {
	tests := []struct {
		err      error
		name     string
		wantBusy bool
	}{
		{name: "busy", err: sqlite3.Error{Code: sqlite3.ErrBusy}, wantBusy: true},
		{name: "locked wrapped", err: fmt.Errorf("commit: %w", sqlite3.Error{Code: sqlite3.ErrLocked}), wantBusy: true},
		{name: "constraint", err: sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}},
		{name: "plain", err: errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := busy(tt.err)
			assert.Equal(t, tt.wantBusy, errors.Is(err, common.ErrStoreBusy))
			assert.Equal(t, tt.wantBusy, common.IsTransient(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
	assert.NoError(t, busy(nil))
}
