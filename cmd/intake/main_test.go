package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/ledger-intake/internal/storage"
)

const testCardCSV = "Date,Description,Amount\n" +
	"2025-01-03,SAFEWAY #1234,-20.00\n" +
	"2025-01-04,NETFLIX.COM,-15.99\n"

// setupCLI points configuration at a temporary data directory.
func setupCLI(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("INTAKE_DATABASE_PATH", filepath.Join(dir, "intake.db"))
	t.Setenv("INTAKE_STORAGE_ROOT", filepath.Join(dir, "objects"))
	for _, k := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GOOGLE_APPLICATION_CREDENTIALS", "OCR_SPACE_API_KEY"} {
		t.Setenv(k, "")
	}
	return dir
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	cfgFile = ""
	t.Cleanup(viper.Reset)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestVersionCommand(t *testing.T) {
	setupCLI(t)
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "intake version dev")
}

func TestImportCommand(t *testing.T) {
	dir := setupCLI(t)
	csvPath := writeFile(t, dir, "card.csv", testCardCSV)

	out, err := runCLI(t, "import", "--owner", "owner-1", "--run-id", "run-a", csvPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Importing 1 document(s)")
	assert.Contains(t, out, "card.csv")
	assert.Contains(t, out, "ready")
	assert.Contains(t, out, "Import complete")
	assert.Contains(t, out, "run-a")
	assert.Contains(t, out, "35.99")
	assert.Contains(t, out, "Groceries")
	assert.Contains(t, out, "Verified")

	t.Run("same file in another run is a duplicate", func(t *testing.T) {
		out, err := runCLI(t, "import", "--owner", "owner-1", "--run-id", "run-b", csvPath)
		require.NoError(t, err)
		assert.Contains(t, out, "already imported as")
		assert.Contains(t, out, "Nothing new to import.")
	})

	t.Run("same run is resumed", func(t *testing.T) {
		out, err := runCLI(t, "import", "--owner", "owner-1", "--run-id", "run-a", csvPath)
		require.NoError(t, err)
		assert.Contains(t, out, "already processed")
		assert.Contains(t, out, "Import complete")
	})

	t.Run("verify", func(t *testing.T) {
		out, err := runCLI(t, "verify", "--owner", "owner-1", "--run-id", "run-a")
		require.NoError(t, err)
		assert.Contains(t, out, "Verified")
	})

	t.Run("verify unknown run fails", func(t *testing.T) {
		out, err := runCLI(t, "verify", "--owner", "owner-1", "--run-id", "missing")
		require.ErrorIs(t, err, errNotVerified)
		assert.Contains(t, out, "Not verified")
	})

	t.Run("announce has nothing pending", func(t *testing.T) {
		out, err := runCLI(t, "announce", "--owner", "owner-1")
		require.NoError(t, err)
		assert.Contains(t, out, "Nothing to announce")
	})
}

func TestImportCommand_NoFiles(t *testing.T) {
	dir := setupCLI(t)
	_, err := runCLI(t, "import", "--owner", "owner-1", filepath.Join(dir, "*.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no files found to import")
}

func TestImportCommand_RequiresOwner(t *testing.T) {
	dir := setupCLI(t)
	csvPath := writeFile(t, dir, "card.csv", testCardCSV)
	_, err := runCLI(t, "import", csvPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owner")
}

func TestCorrectCommand(t *testing.T) {
	setupCLI(t)

	out, err := runCLI(t, "correct", "--owner", "owner-1", "--merchant", "NETFLIX.COM", "--category", "dining")
	require.NoError(t, err)
	assert.Contains(t, out, "Dining")
	assert.Contains(t, out, "Corrections recorded: 1")

	out, err = runCLI(t, "correct", "--owner", "owner-1", "--merchant", "NETFLIX.COM", "--category", "Dining")
	require.NoError(t, err)
	assert.Contains(t, out, "Corrections recorded: 2")
	assert.Contains(t, out, "Future imports from this merchant will use this category.")
}

func TestMigrateCommand(t *testing.T) {
	setupCLI(t)

	out, err := runCLI(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Database migrated")

	out, err = runCLI(t, "migrate", "--status")
	require.NoError(t, err)
	assert.Contains(t, out, fmt.Sprintf("Current version: %d", storage.ExpectedSchemaVersion))
	assert.Contains(t, out, "Up to date")
}

func TestInvalidConfig(t *testing.T) {
	setupCLI(t)
	t.Setenv("INTAKE_QUEUE_BACKEND", "kafka")

	_, err := runCLI(t, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue.backend")
}

func TestDetectMIME(t *testing.T) {
	tests := []struct {
		path string
		data []byte
		want string
	}{
		{"statement.csv", nil, "text/csv"},
		{"export.QFX", nil, "application/x-ofx"},
		{"receipt.png", nil, "image/png"},
		{"scan.pdf", nil, "application/pdf"},
		{"noext", []byte("%PDF-1.4\n"), "application/pdf"},
		{"notes", []byte("hello"), "text/plain"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, detectMIME(tt.path, tt.data))
		})
	}
}
