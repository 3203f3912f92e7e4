// Package pipeline drives a document from upload to persisted, categorized
// transactions. Stages run synchronously within a document; the hand-offs to
// normalization and run completion go through the queue and are never awaited.
package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Veraticus/ledger-intake/internal/categorize"
	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/contentstore"
	"github.com/Veraticus/ledger-intake/internal/extract"
	"github.com/Veraticus/ledger-intake/internal/guardrail"
	"github.com/Veraticus/ledger-intake/internal/model"
	"github.com/Veraticus/ledger-intake/internal/service"
)

// DefaultSizeTolerance is the accepted relative difference between the
// declared and the stored size of an upload.
const DefaultSizeTolerance = 0.02

// ReasonManualReview is the rejection reason for images no OCR provider read.
const ReasonManualReview = "OCR unavailable: manual review required"

// maxTextBytes bounds tabular and plain-text documents read into memory.
const maxTextBytes = 8 << 20

var stageTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "intake_pipeline_stage_total",
		Help: "Pipeline stage runs by stage and outcome.",
	},
	[]string{"stage", "outcome"},
)

// Extractor turns a stored object into text.
type Extractor interface {
	Extract(ctx context.Context, ref model.SignedRef, mimeType string) (extract.Result, error)
}

// Screener is the content-safety gate.
type Screener interface {
	Evaluate(ctx context.Context, text, ownerID string, stage guardrail.Stage) guardrail.Result
}

// Parser detects the document shape of extracted text.
type Parser interface {
	Detect(ctx context.Context, text string) model.ParsedDocument
	DetectTabular(ctx context.Context, data []byte, format string) (model.BankStatement, error)
}

// Categorizer labels a batch of transactions.
type Categorizer interface {
	CategorizeBatch(ctx context.Context, txs []model.Transaction, ownerID string) categorize.BatchResult
	Review(txs []model.Transaction) (lowConfidence int, needsReview bool)
}

// Verifier checks the integrity of a run's documents.
type Verifier interface {
	Verify(ctx context.Context, ownerID string, docIDs []string, importRunID string) model.Verification
}

// Notifier records run completion and announces it.
type Notifier interface {
	RecordCompletion(ctx context.Context, ownerID, importRunID string, summary model.ImportSummary, v model.Verification) (bool, error)
	Announce(ctx context.Context, ownerID string) (bool, error)
}

// Deps are the collaborators of a Pipeline. Audit may be nil.
type Deps struct {
	Documents   service.DocumentStore
	Txns        service.TransactionStore
	Content     service.ContentStore
	Signer      *contentstore.Signer
	Extractor   Extractor
	Gate        Screener
	Parser      Parser
	Categorizer Categorizer
	Verifier    Verifier
	Notifier    Notifier
	Dispatcher  service.Dispatcher
	Audit       service.AuditSink
}

// Config tunes a Pipeline.
type Config struct {
	DefaultCurrency  string
	SizeTolerance    float64
	CompleteRunDelay time.Duration
	// MaxRunWait bounds how long CompleteRun keeps waiting on pending documents.
	MaxRunWait time.Duration
}

// Outcome is the result of a processing trigger.
type Outcome struct {
	DocumentID  string               `json:"document_id"`
	Status      model.DocumentStatus `json:"status"`
	DuplicateOf string               `json:"duplicate_of,omitempty"`
	Hint        string               `json:"hint,omitempty"`
	Provider    string               `json:"provider,omitempty"`
	PIITypes    []string             `json:"pii_types"`
	Reasons     []string             `json:"reasons,omitempty"`
	Pending     bool                 `json:"pending"`
}

// Pipeline runs the document stages.
type Pipeline struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
	cfg    Config
}

// New creates a Pipeline.
func New(deps Deps, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.SizeTolerance <= 0 {
		cfg.SizeTolerance = DefaultSizeTolerance
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "USD"
	}
	if cfg.CompleteRunDelay <= 0 {
		cfg.CompleteRunDelay = 15 * time.Second
	}
	if cfg.MaxRunWait <= 0 {
		cfg.MaxRunWait = 30 * time.Minute
	}
	return &Pipeline{
		deps:   deps,
		cfg:    cfg,
		logger: common.LoggerOrDefault(logger).With("component", "pipeline"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ocrSidecar is the persisted extraction record. It never holds raw text.
type ocrSidecar struct {
	ExtractedAt  time.Time `json:"extracted_at"`
	RedactedText string    `json:"redacted_text"`
	Provider     string    `json:"provider"`
	PIITypes     []string  `json:"pii_types"`
}

// Finalize routes a document to extraction or to the tabular branch.
func (p *Pipeline) Finalize(ctx context.Context, docID string) (*Outcome, error) {
	doc, err := p.loadDocument(ctx, "finalize", docID)
	if err != nil {
		return nil, err
	}
	switch f := doc.Format(); {
	case f == model.FormatImage || f == model.FormatPDF:
		return p.Extract(ctx, docID)
	case f.IsTabular() || f == model.FormatText:
		return p.ParseTabular(ctx, docID)
	default:
		return p.reject(ctx, doc, "unsupported file type",
			common.NewPipelineError(common.KindExtractionFailure, "finalize", "unsupported file type",
				fmt.Errorf("%w: %s", common.ErrUnsupportedType, doc.MimeType)))
	}
}

// Extract runs completeness, dedup, extraction and the gate for an image or
// PDF document, then hands it to normalization.
func (p *Pipeline) Extract(ctx context.Context, docID string) (*Outcome, error) {
	const op = "extract"
	doc, err := p.loadDocument(ctx, op, docID)
	if err != nil {
		return nil, err
	}
	if out := settled(doc); out != nil {
		return out, nil
	}
	if pending, err := p.checkComplete(ctx, doc); err != nil || pending != nil {
		return pending, err
	}
	if dup, err := p.dedup(ctx, doc); err != nil || dup != nil {
		return dup, err
	}

	ref, err := p.deps.Signer.Sign(doc.StoragePath, contentstore.AccessRead)
	if err != nil {
		return nil, common.NewPipelineError(common.KindUnexpected, op, "", err)
	}
	res, err := p.deps.Extractor.Extract(ctx, ref, doc.MimeType)
	if err != nil {
		reason := common.HintOf(err)
		if reason == "" {
			reason = "text extraction failed"
		}
		return p.reject(ctx, doc, reason, err)
	}
	if res.Placeholder {
		// Placeholder text carries no transactions; the upload needs a person.
		return p.reject(ctx, doc, ReasonManualReview,
			common.NewPipelineError(common.KindExtractionFailure, op, ReasonManualReview, common.ErrNoText))
	}
	return p.screen(ctx, doc, res.Text, res.Provider)
}

// ParseTabular ingests a CSV, OFX or plain-text document: the file text goes
// through the gate and is stored redacted for normalization.
func (p *Pipeline) ParseTabular(ctx context.Context, docID string) (*Outcome, error) {
	const op = "parse_tabular"
	doc, err := p.loadDocument(ctx, op, docID)
	if err != nil {
		return nil, err
	}
	if out := settled(doc); out != nil {
		return out, nil
	}
	if pending, err := p.checkComplete(ctx, doc); err != nil || pending != nil {
		return pending, err
	}
	if dup, err := p.dedup(ctx, doc); err != nil || dup != nil {
		return dup, err
	}

	data, err := p.readObject(ctx, doc.StoragePath, maxTextBytes)
	if err != nil {
		return p.reject(ctx, doc, "could not read uploaded file",
			common.NewPipelineError(common.KindExtractionFailure, op, "could not read uploaded file", err))
	}
	return p.screen(ctx, doc, string(data), string(doc.Format()))
}

// screen gates text and either rejects the document or persists the
// redacted text and dispatches normalization.
func (p *Pipeline) screen(ctx context.Context, doc *model.Document, text, provider string) (*Outcome, error) {
	verdict := p.deps.Gate.Evaluate(ctx, text, doc.OwnerID, guardrail.StageDocument)
	if !verdict.OK {
		stageTotal.WithLabelValues("gate", "blocked").Inc()
		out, err := p.reject(ctx, doc, "guardrail blocked", common.NewPipelineError(common.KindGuardrailBlocked,
			"gate", "document content was blocked by the safety check", errors.New("guardrail blocked")))
		if out != nil {
			out.Reasons = verdict.Reasons
		}
		return out, err
	}

	sidecar := ocrSidecar{
		ExtractedAt:  p.now(),
		RedactedText: verdict.RedactedText,
		Provider:     provider,
		PIITypes:     nonNil(verdict.PIITypes),
	}
	raw, err := json.Marshal(sidecar)
	if err != nil {
		return nil, common.NewPipelineError(common.KindUnexpected, "save_extraction", "", err)
	}
	if _, _, err := p.deps.Content.Put(ctx, contentstore.OCRPath(doc.OwnerID, doc.ID), bytes.NewReader(raw)); err != nil {
		return nil, common.NewPipelineError(common.KindUnexpected, "save_extraction", "", err)
	}
	if err := p.deps.Documents.SaveExtraction(ctx, doc.ID, verdict.RedactedText, sidecar.PIITypes); err != nil {
		return nil, common.NewPipelineError(common.KindUnexpected, "save_extraction", "", err)
	}
	stageTotal.WithLabelValues("extract", "ok").Inc()

	p.dispatchNormalize(ctx, doc.ID)

	p.logger.Info("Document extracted",
		"document_id", doc.ID,
		"provider", provider,
		"pii_types", len(sidecar.PIITypes),
		"text_hash", common.HashText(verdict.RedactedText))
	return &Outcome{
		DocumentID: doc.ID,
		Status:     doc.Status,
		Provider:   provider,
		PIITypes:   sidecar.PIITypes,
		Reasons:    verdict.Reasons,
	}, nil
}

// checkComplete returns a pending outcome while the upload is missing or its
// size is outside the tolerance of the declared size.
func (p *Pipeline) checkComplete(ctx context.Context, doc *model.Document) (*Outcome, error) {
	size, exists, err := p.deps.Content.Stat(ctx, doc.StoragePath)
	if err != nil {
		return nil, common.NewPipelineError(common.KindUnexpected, "check_upload", "", err)
	}
	hint := ""
	switch {
	case !exists:
		hint = "upload not found yet, retry shortly"
	case doc.ExpectedSize > 0 && !withinTolerance(size, doc.ExpectedSize, p.cfg.SizeTolerance):
		hint = fmt.Sprintf("upload incomplete: %d of %d bytes, retry shortly", size, doc.ExpectedSize)
	case size == 0:
		hint = "upload is empty, retry shortly"
	}
	if hint == "" {
		return nil, nil
	}
	stageTotal.WithLabelValues("check_upload", "pending").Inc()
	p.logger.Debug("Upload not complete", "document_id", doc.ID, "size", size, "expected", doc.ExpectedSize)
	return &Outcome{DocumentID: doc.ID, Status: doc.Status, Pending: true, Hint: hint, PIITypes: []string{}}, nil
}

func withinTolerance(size, expected int64, tolerance float64) bool {
	return math.Abs(float64(size-expected)) <= float64(expected)*tolerance
}

// dedup hashes the stored bytes. When another live document of the owner
// already holds them, this one is rejected as a duplicate of it.
func (p *Pipeline) dedup(ctx context.Context, doc *model.Document) (*Outcome, error) {
	hash, err := p.hashObject(ctx, doc.StoragePath)
	if err != nil {
		return nil, common.NewPipelineError(common.KindUnexpected, "dedup", "", err)
	}
	existing, err := p.deps.Documents.AssignContentHash(ctx, doc.ID, hash)
	if err != nil {
		return nil, common.NewPipelineError(common.KindUnexpected, "dedup", "", err)
	}
	if existing == "" || existing == doc.ID {
		return nil, nil
	}
	stageTotal.WithLabelValues("dedup", "duplicate").Inc()
	if err := p.deps.Documents.MarkRejected(ctx, doc.ID, "duplicate of "+existing); err != nil {
		return nil, common.NewPipelineError(common.KindUnexpected, "dedup", "", err)
	}
	p.logger.Info("Duplicate upload", "document_id", doc.ID, "existing_id", existing)
	return &Outcome{
		DocumentID:  doc.ID,
		Status:      model.StatusRejected,
		DuplicateOf: existing,
		PIITypes:    []string{},
	}, nil
}

func (p *Pipeline) hashObject(ctx context.Context, path string) (string, error) {
	rc, err := p.deps.Content.Open(ctx, path)
	if err != nil {
		return "", err
	}
	defer func() { _ = rc.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil {
		return "", fmt.Errorf("failed to hash upload: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (p *Pipeline) readObject(ctx context.Context, path string, limit int64) ([]byte, error) {
	rc, err := p.deps.Content.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errors.New("document exceeds size limit")
	}
	return data, nil
}

// reject marks doc rejected and returns cause so the caller sees the failure.
func (p *Pipeline) reject(ctx context.Context, doc *model.Document, reason string, cause error) (*Outcome, error) {
	if err := p.deps.Documents.MarkRejected(ctx, doc.ID, reason); err != nil {
		p.logger.Error("Failed to mark document rejected", "document_id", doc.ID, "error", err)
	}
	stageTotal.WithLabelValues("reject", string(common.KindOf(cause))).Inc()
	p.logger.Warn("Document rejected", "document_id", doc.ID, "reason", reason, "kind", common.KindOf(cause))
	return &Outcome{DocumentID: doc.ID, Status: model.StatusRejected, PIITypes: []string{}, Hint: reason}, cause
}

func (p *Pipeline) dispatchNormalize(ctx context.Context, docID string) {
	err := p.deps.Dispatcher.Dispatch(ctx, TaskNormalize, NormalizePayload{DocumentID: docID},
		service.DispatchOptions{DedupKey: "normalize:" + docID})
	if err != nil {
		p.logger.Error("Failed to dispatch normalization", "document_id", docID, "error", err)
	}
}

func (p *Pipeline) loadDocument(ctx context.Context, op, docID string) (*model.Document, error) {
	if docID == "" {
		return nil, common.Validation(op, "document id is required")
	}
	doc, err := p.deps.Documents.GetDocument(ctx, docID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.NewPipelineError(common.KindNotFound, op, "document not found", err)
	}
	if err != nil {
		return nil, common.NewPipelineError(common.KindUnexpected, op, "", err)
	}
	if doc.Status == model.StatusDiscarded {
		return nil, common.NewPipelineError(common.KindNotFound, op, "document was deleted", common.ErrNotFound)
	}
	return doc, nil
}

// settled returns the current outcome of a document processing already
// finished with, so repeated triggers do not redo work.
func settled(doc *model.Document) *Outcome {
	if doc.Status == model.StatusPending {
		return nil
	}
	return &Outcome{
		DocumentID: doc.ID,
		Status:     doc.Status,
		PIITypes:   nonNil(doc.PIITypes),
		Hint:       doc.RejectionReason,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
