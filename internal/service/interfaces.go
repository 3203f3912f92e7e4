// Package service defines the interfaces shared between the pipeline stages
// and their collaborators.
package service

import (
	"context"
	"io"
	"time"

	"github.com/Veraticus/ledger-intake/internal/model"
)

// RetryOptions configures retry behavior.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DocumentStore persists Document rows.
type DocumentStore interface {
	// CreateDocument inserts doc, or returns the id of the existing document
	// with the same (owner, content hash) and isDuplicate=true.
	CreateDocument(ctx context.Context, doc *model.Document) (id string, isDuplicate bool, err error)
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	GetDocuments(ctx context.Context, ids []string) ([]model.Document, error)
	ListDocumentsByRun(ctx context.Context, ownerID, importRunID string) ([]model.Document, error)
	// AssignContentHash records the hash of uploaded bytes. When another
	// document of the same owner already holds the hash its id is returned.
	AssignContentHash(ctx context.Context, id, hash string) (existingID string, err error)
	SaveExtraction(ctx context.Context, id, redactedText string, piiTypes []string) error
	MarkReady(ctx context.Context, id string) error
	MarkRejected(ctx context.Context, id, reason string) error
	// DiscardDocument deletes dependent transactions and items and marks the
	// document discarded in one transaction.
	DiscardDocument(ctx context.Context, ownerID, id string) (deletedTransactions int, err error)
}

// TransactionStore persists Transaction and TransactionItem rows.
type TransactionStore interface {
	UpsertTransaction(ctx context.Context, tx *model.Transaction) (id string, created bool, err error)
	ReplaceItems(ctx context.Context, transactionID string, items []model.TransactionItem) error
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	GetItems(ctx context.Context, transactionID string) ([]model.TransactionItem, error)
	ListTransactionsByDocuments(ctx context.Context, documentIDs []string) ([]model.Transaction, error)
	RecategorizeMerchant(ctx context.Context, ownerID, merchant string, c model.Categorization) (int64, error)
}

// LearningStore persists correction aggregates and vendor aliases.
type LearningStore interface {
	// FindLearnedFacts returns facts whose merchant and text contain one another,
	// ignoring case. The most corroborated fact comes first.
	FindLearnedFacts(ctx context.Context, ownerID, text string) ([]model.LearnedCategoryFact, error)
	RecordCorrection(ctx context.Context, ownerID, merchant, category, subcategory string) (*model.LearnedCategoryFact, error)
	ReinforceVendorAlias(ctx context.Context, ownerID, rawName, canonicalName string) (*model.VendorAlias, error)
	GetVendorAlias(ctx context.Context, ownerID, rawName string) (*model.VendorAlias, error)
}

// CompletionStore persists completion events and announcement messages.
type CompletionStore interface {
	// InsertCompletionEvent returns false when the event already exists.
	InsertCompletionEvent(ctx context.Context, ev *model.CompletionEvent) (bool, error)
	LatestUnannounced(ctx context.Context, ownerID, eventType string) (*model.CompletionEvent, error)
	MarkAnnounced(ctx context.Context, id string, at time.Time) (bool, error)
	// InsertMessage returns false when a message with the same client id exists.
	InsertMessage(ctx context.Context, msg *model.Message) (bool, error)
}

// AuditSink records audit entries. Implementations must not receive text.
type AuditSink interface {
	WriteAudit(ctx context.Context, rec *model.AuditRecord) error
}

// ContentStore is addressable binary storage keyed by path.
type ContentStore interface {
	Put(ctx context.Context, path string, r io.Reader) (size int64, checksum string, err error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	// Stat returns exists=false without error when the object is absent.
	Stat(ctx context.Context, path string) (size int64, exists bool, err error)
	Delete(ctx context.Context, path string) error
}

// ContentReader opens objects addressed by signed references.
type ContentReader interface {
	OpenRef(ctx context.Context, ref model.SignedRef) (io.ReadCloser, error)
}

// Dispatcher hands a stage off to an asynchronous consumer.
type Dispatcher interface {
	Dispatch(ctx context.Context, kind string, payload any, opts DispatchOptions) error
}

// DispatchOptions tune a single dispatch.
type DispatchOptions struct {
	// DedupKey collapses repeated dispatches of the same logical task.
	DedupKey string
	Delay    time.Duration
}
