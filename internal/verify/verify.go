// Package verify checks that every document of an import run settled into a
// usable state before the run is announced.
package verify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/model"
)

// Failure reasons.
const (
	ReasonNotFound      = "document not found"
	ReasonPending       = "still pending"
	ReasonDiscarded     = "discarded"
	ReasonMissingText   = "missing OCR text"
	ReasonMissingObject = "file not found in storage"
	ReasonNoDocuments   = "no documents to verify"
)

// DocumentLister loads the documents of a run.
type DocumentLister interface {
	GetDocuments(ctx context.Context, ids []string) ([]model.Document, error)
	ListDocumentsByRun(ctx context.Context, ownerID, importRunID string) ([]model.Document, error)
}

// ObjectStatter reports whether a stored object exists.
type ObjectStatter interface {
	Stat(ctx context.Context, path string) (size int64, exists bool, err error)
}

// Verifier checks documents against the store and the content store.
type Verifier struct {
	docs    DocumentLister
	content ObjectStatter
	logger  *slog.Logger
}

// NewVerifier creates a verifier.
func NewVerifier(docs DocumentLister, content ObjectStatter, logger *slog.Logger) *Verifier {
	return &Verifier{docs: docs, content: content, logger: common.LoggerOrDefault(logger)}
}

// Verify checks each document in docIDs, or every document tagged with
// importRunID when docIDs is empty. Failures and store errors are reported
// in the result, never returned.
func (v *Verifier) Verify(ctx context.Context, ownerID string, docIDs []string, importRunID string) model.Verification {
	res := model.Verification{Warnings: []string{}}

	docs, err := v.load(ctx, ownerID, docIDs, importRunID)
	if err != nil {
		v.logger.Warn("Failed to load documents for verification", "owner_id", ownerID, "error", err)
		res.Warnings = append(res.Warnings, "failed to load documents: "+err.Error())
		res.Reason = "failed to load documents"
		if n := len(docIDs); n > 0 {
			res.Reason = fmt.Sprintf("%d of %d documents failed verification", n, n)
		}
		return res
	}

	byID := make(map[string]model.Document, len(docs))
	for _, d := range docs {
		if d.OwnerID == ownerID {
			byID[d.ID] = d
		}
	}
	if len(docIDs) == 0 {
		for _, d := range docs {
			docIDs = append(docIDs, d.ID)
		}
	}
	if len(docIDs) == 0 {
		res.Reason = ReasonNoDocuments
		return res
	}

	failed := 0
	for _, id := range docIDs {
		doc, ok := byID[id]
		var reason string
		if !ok {
			reason = ReasonNotFound
		} else {
			reason = v.check(ctx, &doc, &res)
		}
		if reason != "" {
			failed++
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %s", id, reason))
		}
	}

	res.Verified = failed == 0
	if failed > 0 {
		res.Reason = fmt.Sprintf("%d of %d documents failed verification", failed, len(docIDs))
		v.logger.Info("Import run failed verification",
			"owner_id", ownerID,
			"import_run_id", importRunID,
			"failed", failed,
			"documents", len(docIDs))
	}
	return res
}

func (v *Verifier) load(ctx context.Context, ownerID string, docIDs []string, importRunID string) ([]model.Document, error) {
	if len(docIDs) == 0 && importRunID != "" {
		return v.docs.ListDocumentsByRun(ctx, ownerID, importRunID)
	}
	return v.docs.GetDocuments(ctx, docIDs)
}

// check returns the first failing check's reason, or "".
func (v *Verifier) check(ctx context.Context, doc *model.Document, res *model.Verification) string {
	switch doc.Status {
	case model.StatusRejected:
		return "rejected: " + doc.RejectionReason
	case model.StatusPending:
		return ReasonPending
	case model.StatusDiscarded:
		return ReasonDiscarded
	}
	if doc.RequiresText() && doc.RedactedText == "" {
		return ReasonMissingText
	}
	if v.content == nil || doc.StoragePath == "" {
		return ""
	}
	_, exists, err := v.content.Stat(ctx, doc.StoragePath)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: storage check failed: %v", doc.ID, err))
		return ""
	}
	if !exists {
		return ReasonMissingObject
	}
	return ""
}
