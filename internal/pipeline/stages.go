package pipeline

import (
	"context"
	"time"

	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/model"
	"github.com/Veraticus/ledger-intake/internal/normalize"
	"github.com/Veraticus/ledger-intake/internal/notify"
	"github.com/Veraticus/ledger-intake/internal/service"
)

// NormalizeResult reports what Normalize persisted for one document.
type NormalizeResult struct {
	DocumentID    string                `json:"document_id"`
	Kind          model.TransactionKind `json:"kind"`
	Transactions  int                   `json:"transactions"`
	Created       int                   `json:"created"`
	LowConfidence int                   `json:"low_confidence"`
	NeedsReview   bool                  `json:"needs_review"`
	Skipped       bool                  `json:"skipped"`
}

// Normalize parses the stored redacted text of a document, categorizes and
// persists its transactions and marks it ready. Running it twice leaves the
// same rows behind.
func (p *Pipeline) Normalize(ctx context.Context, docID string) (*NormalizeResult, error) {
	const op = "normalize"
	doc, err := p.loadDocument(ctx, op, docID)
	if err != nil {
		return nil, err
	}
	res := &NormalizeResult{DocumentID: doc.ID}
	if doc.Status == model.StatusRejected {
		res.Skipped = true
		return res, nil
	}

	parsed, source, err := p.parse(ctx, doc)
	if err != nil {
		reason := common.HintOf(err)
		if reason == "" {
			reason = "could not parse document"
		}
		if mErr := p.deps.Documents.MarkRejected(ctx, doc.ID, reason); mErr != nil {
			p.logger.Error("Failed to mark document rejected", "document_id", doc.ID, "error", mErr)
		}
		stageTotal.WithLabelValues(op, "rejected").Inc()
		return nil, common.Permanent(err)
	}
	res.Kind = parsed.Kind()

	txs := normalize.Normalize(parsed, normalize.Options{
		OwnerID:         doc.OwnerID,
		DocumentID:      doc.ID,
		DefaultCurrency: p.cfg.DefaultCurrency,
		Source:          source,
	})
	if len(txs) == 0 {
		stageTotal.WithLabelValues(op, "empty").Inc()
		p.logger.Info("No transactions found", "document_id", doc.ID, "kind", res.Kind)
	}

	batch := p.deps.Categorizer.CategorizeBatch(ctx, txs, doc.OwnerID)
	res.LowConfidence, res.NeedsReview = batch.LowConfidence, batch.NeedsReview

	for i := range txs {
		txs[i].ApplyCategorization(batch.Results[i])
		id, created, err := p.deps.Txns.UpsertTransaction(ctx, &txs[i])
		if err != nil {
			return nil, common.NewPipelineError(common.KindUnexpected, op, "", err)
		}
		if err := p.deps.Txns.ReplaceItems(ctx, id, txs[i].Items); err != nil {
			return nil, common.NewPipelineError(common.KindUnexpected, op, "", err)
		}
		if created {
			res.Created++
		}
	}
	res.Transactions = len(txs)

	if err := p.deps.Documents.MarkReady(ctx, doc.ID); err != nil {
		return nil, common.NewPipelineError(common.KindUnexpected, op, "", err)
	}
	stageTotal.WithLabelValues(op, "ok").Inc()
	p.logger.Info("Document normalized",
		"document_id", doc.ID,
		"kind", res.Kind,
		"transactions", res.Transactions,
		"created", res.Created,
		"needs_review", res.NeedsReview)

	if doc.ImportRunID != "" {
		p.dispatchCompleteRun(ctx, RunPayload{OwnerID: doc.OwnerID, ImportRunID: doc.ImportRunID, StartedAt: p.now()}, 0)
	}
	return res, nil
}

func (p *Pipeline) parse(ctx context.Context, doc *model.Document) (model.ParsedDocument, model.TransactionSource, error) {
	if f := doc.Format(); f.IsTabular() {
		st, err := p.deps.Parser.DetectTabular(ctx, []byte(doc.RedactedText), string(f))
		if err != nil {
			return nil, "", err
		}
		return st, model.SourceCSV, nil
	}
	return p.deps.Parser.Detect(ctx, doc.RedactedText), model.SourceOCR, nil
}

// RunPayload identifies an import run awaiting completion. StartedAt is
// carried across re-dispatches to bound the wait.
type RunPayload struct {
	StartedAt   time.Time `json:"started_at"`
	OwnerID     string    `json:"owner_id"`
	ImportRunID string    `json:"import_run_id"`
	DocumentIDs []string  `json:"document_ids,omitempty"`
}

// RunResult reports the outcome of CompleteRun.
type RunResult struct {
	Verification model.Verification  `json:"verification"`
	Summary      model.ImportSummary `json:"summary"`
	ImportRunID  string              `json:"import_run_id"`
	Deferred     bool                `json:"deferred"`
	Recorded     bool                `json:"recorded"`
	Announced    bool                `json:"announced"`
}

// CompleteRun verifies, summarizes and announces an import run once all of
// its documents have settled. While some are still pending the run is
// re-dispatched with a delay, up to the configured wait.
func (p *Pipeline) CompleteRun(ctx context.Context, run RunPayload) (*RunResult, error) {
	const op = "complete_run"
	if run.OwnerID == "" || run.ImportRunID == "" {
		return nil, common.Validation(op, "owner_id and import_run_id are required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = p.now()
	}
	res := &RunResult{ImportRunID: run.ImportRunID}

	docs, err := p.runDocuments(ctx, run)
	if err != nil {
		return nil, common.NewPipelineError(common.KindUnexpected, op, "", err)
	}
	if pending := countPending(docs); pending > 0 && p.now().Sub(run.StartedAt) < p.cfg.MaxRunWait {
		p.logger.Info("Run has pending documents, deferring completion",
			"import_run_id", run.ImportRunID,
			"pending", pending)
		p.dispatchCompleteRun(ctx, run, p.cfg.CompleteRunDelay)
		res.Deferred = true
		return res, nil
	}

	ids, owned := run.DocumentIDs, make([]string, 0, len(docs))
	for i := range docs {
		if docs[i].OwnerID == run.OwnerID {
			owned = append(owned, docs[i].ID)
		}
	}
	if len(ids) == 0 {
		ids = owned
	}
	res.Verification = p.deps.Verifier.Verify(ctx, run.OwnerID, ids, run.ImportRunID)

	txs, err := p.deps.Txns.ListTransactionsByDocuments(ctx, owned)
	if err != nil {
		return nil, common.NewPipelineError(common.KindUnexpected, op, "", err)
	}
	res.Summary = notify.BuildSummary(txs)
	res.Summary.DocumentCount = len(ids)
	_, res.Summary.NeedsReview = p.deps.Categorizer.Review(txs)

	res.Recorded, err = p.deps.Notifier.RecordCompletion(ctx, run.OwnerID, run.ImportRunID, res.Summary, res.Verification)
	if err != nil {
		return nil, common.NewPipelineError(common.KindUnexpected, op, "", err)
	}

	// Announcement is best effort; the event stays unannounced for a later attempt.
	res.Announced, err = p.deps.Notifier.Announce(ctx, run.OwnerID)
	if err != nil {
		p.logger.Warn("Failed to announce run", "import_run_id", run.ImportRunID, "error", err)
	}

	outcome := "verified"
	if !res.Verification.Verified {
		outcome = "unverified"
	}
	stageTotal.WithLabelValues(op, outcome).Inc()
	p.logger.Info("Run completed",
		"import_run_id", run.ImportRunID,
		"documents", len(ids),
		"transactions", res.Summary.TransactionCount,
		"verified", res.Verification.Verified,
		"recorded", res.Recorded,
		"announced", res.Announced)
	return res, nil
}

func (p *Pipeline) runDocuments(ctx context.Context, run RunPayload) ([]model.Document, error) {
	if len(run.DocumentIDs) > 0 {
		return p.deps.Documents.GetDocuments(ctx, run.DocumentIDs)
	}
	return p.deps.Documents.ListDocumentsByRun(ctx, run.OwnerID, run.ImportRunID)
}

func countPending(docs []model.Document) int {
	n := 0
	for i := range docs {
		if !docs[i].IsTerminal() {
			n++
		}
	}
	return n
}

func (p *Pipeline) dispatchCompleteRun(ctx context.Context, run RunPayload, delay time.Duration) {
	err := p.deps.Dispatcher.Dispatch(ctx, TaskCompleteRun, run, service.DispatchOptions{
		DedupKey: run.DedupKey(),
		Delay:    delay,
	})
	if err != nil {
		p.logger.Error("Failed to dispatch run completion", "import_run_id", run.ImportRunID, "error", err)
	}
}
