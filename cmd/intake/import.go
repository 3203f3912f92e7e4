package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/ledger-intake/internal/cli"
	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/model"
	"github.com/Veraticus/ledger-intake/internal/pipeline"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [files...]",
		Short: "Import receipts, invoices and statements",
		Long: `Import financial documents from local files. Each file is declared, copied
into the content store and processed; the run is then verified and announced.

Examples:
  # Import a receipt photo
  intake import --owner me ~/Downloads/receipt.jpg

  # Import every statement export in a directory
  intake import --owner me ~/Downloads/statements/*.csv

  # Resume an interrupted run
  intake import --owner me --run-id 3f2a... ~/Downloads/statements/*.csv`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImport,
	}

	cmd.Flags().String("owner", "", "owner id the documents belong to (required)")
	cmd.Flags().String("run-id", "", "import run id (default: derived from the files and start time)")
	cmd.Flags().String("source", string(model.SourceUpload), "document source (upload, chat, mailbox)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

// importFile is one local file prepared for import.
type importFile struct {
	path     string
	name     string
	mimeType string
	hash     string
	data     []byte
}

func runImport(cmd *cobra.Command, args []string) error {
	owner, _ := cmd.Flags().GetString("owner")
	runID, _ := cmd.Flags().GetString("run-id")
	source, _ := cmd.Flags().GetString("source")
	out := cmd.OutOrStdout()

	paths, err := expandPatterns(args)
	if err != nil {
		return err
	}
	files, err := readImportFiles(paths)
	if err != nil {
		return err
	}

	startedAt := time.Now().UTC()
	if runID == "" {
		hashes := make([]string, len(files))
		for i, f := range files {
			hashes[i] = f.hash
		}
		runID = pipeline.ImportRunID(hashes, startedAt)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	interrupts := cli.NewInterruptHandler(out)
	ctx := interrupts.HandleInterrupts(cmd.Context(),
		fmt.Sprintf("intake import --owner %s --run-id %s %s", owner, runID, strings.Join(args, " ")))
	defer interrupts.Stop()

	a, err := newApp(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Fprintln(out, cli.FormatTitle(fmt.Sprintf("Importing %d document(s)", len(files))))
	slog.Info("Starting import", "owner_id", owner, "import_run_id", runID, "files", len(files))

	bar := cli.NewProgress(out, len(files), "Processing documents...")
	rows := make([]cli.DocumentRow, 0, len(files))
	rowIDs := make([]string, 0, len(files))
	docIDs := make([]string, 0, len(files))
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		row, docID := importOne(ctx, a, f, owner, runID, model.DocumentSource(source))
		rows = append(rows, row)
		rowIDs = append(rowIDs, docID)
		if docID != "" {
			docIDs = append(docIDs, docID)
		}
		if err := bar.Add(1); err != nil {
			slog.Warn("Failed to update progress bar", "error", err)
		}
	}
	if interrupts.WasInterrupted() {
		return ctx.Err()
	}

	handled, err := a.worker.Drain(ctx)
	if err != nil {
		return fmt.Errorf("failed to process queued tasks: %w", err)
	}
	slog.Debug("Drained queued tasks", "count", handled)

	fmt.Fprintln(out)
	fmt.Fprintln(out, cli.RenderDocuments(refreshRows(ctx, a, rows, rowIDs)))
	fmt.Fprintln(out)

	if len(docIDs) == 0 {
		fmt.Fprintln(out, cli.FormatInfo("Nothing new to import."))
		return nil
	}

	res, err := a.pipeline.CompleteRun(ctx, pipeline.RunPayload{
		OwnerID:     owner,
		ImportRunID: runID,
		DocumentIDs: docIDs,
		StartedAt:   startedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if res.Deferred {
		fmt.Fprintln(out, cli.FormatWarning("Some documents are still processing; run `intake worker` to finish the run."))
		return nil
	}
	fmt.Fprintln(out, cli.RenderRunSummary(runID, res.Summary, res.Verification))
	return nil
}

// importOne declares, uploads and finalizes f. docID is empty when nothing
// new was created.
func importOne(ctx context.Context, a *app, f importFile, owner, runID string, source model.DocumentSource) (cli.DocumentRow, string) {
	row := cli.DocumentRow{Filename: f.name}
	fail := func(err error) (cli.DocumentRow, string) {
		row.Status = string(model.StatusRejected)
		row.Detail = describeError(err)
		slog.Warn("Failed to import file", "file", f.path, "error", err)
		return row, ""
	}

	created, err := a.gateway.CreateDocument(ctx, pipeline.CreateRequest{
		OwnerID:      owner,
		Filename:     f.name,
		MimeType:     f.mimeType,
		Source:       source,
		ContentHash:  f.hash,
		ImportRunID:  runID,
		ExpectedSize: int64(len(f.data)),
	})
	if err != nil {
		return fail(err)
	}
	if created.IsDuplicate {
		doc, err := a.store.GetDocument(ctx, created.DocumentID)
		if err != nil || doc.ImportRunID != runID {
			row.Status = "duplicate"
			row.Detail = "already imported as " + created.DocumentID
			return row, ""
		}
		if doc.IsTerminal() {
			row.Status = string(doc.Status)
			row.Detail = "already processed"
			return row, doc.ID
		}
		// A pending document of this run is resumed from its upload.
		created.StoragePath = doc.StoragePath
	}

	if _, _, err := a.files.Put(ctx, created.StoragePath, bytes.NewReader(f.data)); err != nil {
		return fail(fmt.Errorf("failed to store upload: %w", err))
	}

	outcome, err := a.pipeline.Finalize(ctx, created.DocumentID)
	if outcome != nil {
		row.Status = string(outcome.Status)
		row.Detail = outcome.Hint
		if outcome.DuplicateOf != "" {
			row.Detail = "duplicate of " + outcome.DuplicateOf
		}
	}
	if err != nil && outcome == nil {
		return fail(err)
	}
	if err != nil && row.Detail == "" {
		row.Detail = describeError(err)
	}
	return row, created.DocumentID
}

// refreshRows reloads document status after queued stages ran. rowIDs
// parallels rows; an empty id leaves its row unchanged.
func refreshRows(ctx context.Context, a *app, rows []cli.DocumentRow, rowIDs []string) []cli.DocumentRow {
	ids := make([]string, 0, len(rowIDs))
	for _, id := range rowIDs {
		if id != "" {
			ids = append(ids, id)
		}
	}
	docs, err := a.store.GetDocuments(ctx, ids)
	if err != nil {
		slog.Warn("Failed to reload document status", "error", err)
		return rows
	}
	byID := make(map[string]model.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	for i := range rows {
		d, ok := byID[rowIDs[i]]
		if !ok {
			continue
		}
		rows[i].Status = string(d.Status)
		if d.RejectionReason != "" {
			rows[i].Detail = d.RejectionReason
		}
	}
	return rows
}

func describeError(err error) string {
	if hint := common.HintOf(err); hint != "" {
		return hint
	}
	return err.Error()
}

// expandPatterns resolves globs; a pattern with no match is used as a path.
func expandPatterns(patterns []string) ([]string, error) {
	var paths []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			if _, err := os.Stat(pattern); err == nil {
				paths = append(paths, pattern)
			} else {
				slog.Warn("No files found matching pattern", "pattern", pattern)
			}
			continue
		}
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		return nil, errors.New("no files found to import")
	}
	return paths, nil
}

func readImportFiles(paths []string) ([]importFile, error) {
	files := make([]importFile, 0, len(paths))
	for _, p := range paths {
		data, err := readFile(p)
		if err != nil {
			return nil, err
		}
		files = append(files, importFile{
			path:     p,
			name:     filepath.Base(p),
			mimeType: detectMIME(p, data),
			hash:     common.HashBytes(data),
			data:     data,
		})
	}
	return files, nil
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path) //nolint:gosec // user-specified import path
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// detectMIME prefers the extension and falls back to content sniffing.
func detectMIME(path string, data []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ofx", ".qfx":
		return "application/x-ofx"
	case ".csv":
		return "text/csv"
	}
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		if mt, _, err := mime.ParseMediaType(t); err == nil {
			return mt
		}
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mt
}
