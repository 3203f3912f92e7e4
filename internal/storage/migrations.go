package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Documents, transactions and items",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS documents (
					id TEXT PRIMARY KEY,
					owner_id TEXT NOT NULL,
					source TEXT NOT NULL,
					filename TEXT NOT NULL,
					mime_type TEXT NOT NULL,
					status TEXT NOT NULL,
					storage_path TEXT NOT NULL DEFAULT '',
					content_hash TEXT,
					expected_size INTEGER NOT NULL DEFAULT 0,
					redacted_text TEXT,
					pii_types TEXT NOT NULL DEFAULT '[]',
					rejection_reason TEXT,
					import_run_id TEXT,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				// Discarded documents leave the index so identical content can be uploaded again.
				`CREATE UNIQUE INDEX idx_documents_owner_hash
					ON documents(owner_id, content_hash)
					WHERE content_hash IS NOT NULL AND status != 'discarded'`,
				`CREATE INDEX idx_documents_run ON documents(import_run_id)`,

				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY,
					owner_id TEXT NOT NULL,
					document_id TEXT,
					kind TEXT NOT NULL,
					date TEXT NOT NULL DEFAULT '',
					merchant TEXT NOT NULL DEFAULT '',
					description TEXT NOT NULL DEFAULT '',
					amount TEXT NOT NULL,
					currency TEXT NOT NULL,
					category TEXT,
					subcategory TEXT,
					confidence REAL NOT NULL DEFAULT 0,
					category_source TEXT NOT NULL DEFAULT 'none',
					source TEXT NOT NULL,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL,
					UNIQUE(owner_id, date, merchant, amount, currency)
				)`,
				`CREATE INDEX idx_transactions_document ON transactions(document_id)`,
				`CREATE INDEX idx_transactions_owner_merchant ON transactions(owner_id, merchant COLLATE NOCASE)`,

				`CREATE TABLE IF NOT EXISTS transaction_items (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					transaction_id TEXT NOT NULL,
					name TEXT NOT NULL,
					qty TEXT NOT NULL DEFAULT '1',
					unit TEXT NOT NULL DEFAULT '',
					price TEXT NOT NULL DEFAULT '0',
					FOREIGN KEY (transaction_id) REFERENCES transactions(id)
				)`,
				`CREATE INDEX idx_transaction_items_tx ON transaction_items(transaction_id)`,
			})
		},
	},
	{
		Version:     2,
		Description: "Learning tables, completion events, messages and audit log",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS vendor_aliases (
					owner_id TEXT NOT NULL,
					raw_name TEXT NOT NULL COLLATE NOCASE,
					canonical_name TEXT NOT NULL,
					confidence REAL NOT NULL,
					updated_at DATETIME NOT NULL,
					PRIMARY KEY (owner_id, raw_name)
				)`,

				`CREATE TABLE IF NOT EXISTS learned_category_facts (
					owner_id TEXT NOT NULL,
					merchant TEXT NOT NULL COLLATE NOCASE,
					category TEXT NOT NULL,
					subcategory TEXT,
					correction_count INTEGER NOT NULL DEFAULT 1,
					updated_at DATETIME NOT NULL,
					PRIMARY KEY (owner_id, merchant)
				)`,

				`CREATE TABLE IF NOT EXISTS completion_events (
					id TEXT PRIMARY KEY,
					owner_id TEXT NOT NULL,
					event_type TEXT NOT NULL,
					import_run_id TEXT NOT NULL,
					summary TEXT NOT NULL DEFAULT '{}',
					verified INTEGER NOT NULL DEFAULT 0,
					verify_reason TEXT,
					warnings TEXT NOT NULL DEFAULT '[]',
					created_at DATETIME NOT NULL,
					announced_at DATETIME,
					UNIQUE(owner_id, event_type, import_run_id)
				)`,
				`CREATE INDEX idx_completion_events_pending
					ON completion_events(owner_id, event_type, created_at)
					WHERE announced_at IS NULL`,

				`CREATE TABLE IF NOT EXISTS messages (
					id TEXT PRIMARY KEY,
					owner_id TEXT NOT NULL,
					client_message_id TEXT NOT NULL,
					body TEXT NOT NULL,
					created_at DATETIME NOT NULL,
					UNIQUE(owner_id, client_message_id)
				)`,

				`CREATE TABLE IF NOT EXISTS audit_log (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					owner_id TEXT NOT NULL,
					document_id TEXT,
					stage TEXT NOT NULL,
					action TEXT NOT NULL,
					input_hash TEXT,
					verdict TEXT,
					reasons TEXT NOT NULL DEFAULT '[]',
					pii_types TEXT NOT NULL DEFAULT '[]',
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_audit_log_owner ON audit_log(owner_id, created_at)`,
			})
		},
	},
	{
		Version:     3,
		Description: "Durable task queue",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS tasks (
					id TEXT PRIMARY KEY,
					kind TEXT NOT NULL,
					payload TEXT NOT NULL,
					dedup_key TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL DEFAULT 'pending',
					attempts INTEGER NOT NULL DEFAULT 0,
					available_at INTEGER NOT NULL,
					leased_until INTEGER,
					last_error TEXT,
					created_at DATETIME NOT NULL
				)`,
				// Only one pending copy of a logical task may wait at a time.
				`CREATE UNIQUE INDEX idx_tasks_pending_dedup
					ON tasks(dedup_key)
					WHERE status = 'pending' AND dedup_key != ''`,
				`CREATE INDEX idx_tasks_ready ON tasks(status, available_at)`,
			})
		},
	},
}

// Migrate runs all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion returns the current PRAGMA user_version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return v, nil
}
