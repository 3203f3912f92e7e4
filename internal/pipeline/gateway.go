package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/contentstore"
	"github.com/Veraticus/ledger-intake/internal/model"
	"github.com/Veraticus/ledger-intake/internal/service"
)

// CreateRequest declares an upload.
type CreateRequest struct {
	OwnerID      string               `json:"owner_id"`
	Filename     string               `json:"filename"`
	MimeType     string               `json:"mime_type"`
	Source       model.DocumentSource `json:"source"`
	ContentHash  string               `json:"content_hash,omitempty"`
	ImportRunID  string               `json:"import_run_id,omitempty"`
	ExpectedSize int64                `json:"expected_size,omitempty"`
}

// CreateResponse carries the new document id and a write credential for
// its storage path.
type CreateResponse struct {
	ExpiresAt   time.Time `json:"expires_at"`
	DocumentID  string    `json:"document_id"`
	StoragePath string    `json:"storage_path"`
	UploadToken string    `json:"upload_token"`
	IsDuplicate bool      `json:"is_duplicate"`
}

// DeleteResponse reports a discarded document.
type DeleteResponse struct {
	DocumentID          string               `json:"document_id"`
	Status              model.DocumentStatus `json:"status"`
	TransactionsDeleted int                  `json:"transactions_deleted"`
}

// Gateway creates and deletes documents.
type Gateway struct {
	docs    service.DocumentStore
	content service.ContentStore
	signer  *contentstore.Signer
	audit   service.AuditSink
	logger  *slog.Logger
}

// NewGateway creates a Gateway. A nil audit sink skips auditing.
func NewGateway(docs service.DocumentStore, content service.ContentStore, signer *contentstore.Signer, audit service.AuditSink, logger *slog.Logger) *Gateway {
	return &Gateway{
		docs:    docs,
		content: content,
		signer:  signer,
		audit:   audit,
		logger:  common.LoggerOrDefault(logger).With("component", "gateway"),
	}
}

// CreateDocument inserts a pending document and signs an upload credential.
// A request whose content hash the owner already stored returns the existing
// document with IsDuplicate set and no credential.
func (g *Gateway) CreateDocument(ctx context.Context, req CreateRequest) (CreateResponse, error) {
	const op = "create_document"
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	req.Filename = strings.TrimSpace(req.Filename)
	req.MimeType = strings.TrimSpace(req.MimeType)
	switch {
	case req.OwnerID == "":
		return CreateResponse{}, common.Validation(op, "owner_id is required")
	case req.Filename == "":
		return CreateResponse{}, common.Validation(op, "filename is required")
	case req.MimeType == "":
		return CreateResponse{}, common.Validation(op, "mime_type is required")
	case req.ExpectedSize < 0:
		return CreateResponse{}, common.Validation(op, "expected_size must not be negative")
	}
	if req.Source == "" {
		req.Source = model.SourceUpload
	}
	if !model.ValidDocumentSource(req.Source) {
		return CreateResponse{}, common.Validation(op, "source must be upload, chat or mailbox")
	}

	id := uuid.NewString()
	doc := &model.Document{
		ID:           id,
		OwnerID:      req.OwnerID,
		Source:       req.Source,
		Filename:     req.Filename,
		MimeType:     req.MimeType,
		Status:       model.StatusPending,
		StoragePath:  contentstore.DocumentPath(req.OwnerID, id, model.Extension(req.MimeType, req.Filename)),
		ContentHash:  strings.ToLower(strings.TrimSpace(req.ContentHash)),
		ExpectedSize: req.ExpectedSize,
		ImportRunID:  req.ImportRunID,
	}
	gotID, dup, err := g.docs.CreateDocument(ctx, doc)
	if err != nil {
		return CreateResponse{}, common.NewPipelineError(common.KindUnexpected, op, "", err)
	}
	if dup {
		g.logger.Info("Duplicate document", "owner_id", req.OwnerID, "document_id", gotID)
		existing, err := g.docs.GetDocument(ctx, gotID)
		if err != nil {
			return CreateResponse{}, common.NewPipelineError(common.KindUnexpected, op, "", err)
		}
		return CreateResponse{DocumentID: gotID, StoragePath: existing.StoragePath, IsDuplicate: true}, nil
	}

	ref, err := g.signer.Sign(doc.StoragePath, contentstore.AccessWrite)
	if err != nil {
		return CreateResponse{}, common.NewPipelineError(common.KindUnexpected, op, "", err)
	}
	g.logger.Info("Document created",
		"owner_id", req.OwnerID,
		"document_id", id,
		"mime_type", req.MimeType,
		"import_run_id", req.ImportRunID)
	return CreateResponse{
		DocumentID:  id,
		StoragePath: doc.StoragePath,
		UploadToken: ref.Token,
		ExpiresAt:   ref.ExpiresAt,
	}, nil
}

// DeleteDocument discards a document and everything derived from it. Removing
// the stored objects and auditing are best effort.
func (g *Gateway) DeleteDocument(ctx context.Context, ownerID, docID string) (DeleteResponse, error) {
	const op = "delete_document"
	if ownerID == "" || docID == "" {
		return DeleteResponse{}, common.Validation(op, "owner_id and document id are required")
	}
	doc, err := g.docs.GetDocument(ctx, docID)
	if errors.Is(err, common.ErrNotFound) || (err == nil && doc.OwnerID != ownerID) {
		return DeleteResponse{}, common.NewPipelineError(common.KindNotFound, op, "document not found", common.ErrNotFound)
	}
	if err != nil {
		return DeleteResponse{}, common.NewPipelineError(common.KindUnexpected, op, "", err)
	}

	n, err := g.docs.DiscardDocument(ctx, ownerID, docID)
	if err != nil {
		return DeleteResponse{}, common.NewPipelineError(common.KindUnexpected, op, "", err)
	}

	for _, path := range []string{doc.StoragePath, contentstore.OCRPath(ownerID, docID)} {
		if path == "" {
			continue
		}
		if err := g.content.Delete(ctx, path); err != nil {
			g.logger.Warn("Failed to delete stored object", "document_id", docID, "error", err)
		}
	}

	if g.audit != nil {
		rec := &model.AuditRecord{
			OwnerID:    ownerID,
			DocumentID: docID,
			Stage:      "gateway",
			Action:     "delete",
			Verdict:    string(model.StatusDiscarded),
			Reasons:    []string{},
			PIITypes:   []string{},
		}
		if err := g.audit.WriteAudit(ctx, rec); err != nil {
			g.logger.Warn("Failed to write audit record", "document_id", docID, "error", err)
		}
	}

	g.logger.Info("Document discarded", "owner_id", ownerID, "document_id", docID, "transactions_deleted", n)
	return DeleteResponse{DocumentID: docID, Status: model.StatusDiscarded, TransactionsDeleted: n}, nil
}
