package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/ledger-intake/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrInvalidDocument    = errors.New("invalid document")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidEvent       = errors.New("invalid completion event")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateDocument(doc *model.Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document", ErrNilParameter)
	}
	if doc.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidDocument)
	}
	if doc.OwnerID == "" {
		return fmt.Errorf("%w: missing owner", ErrInvalidDocument)
	}
	if doc.Filename == "" {
		return fmt.Errorf("%w: missing filename", ErrInvalidDocument)
	}
	if doc.MimeType == "" {
		return fmt.Errorf("%w: missing MIME type", ErrInvalidDocument)
	}
	return nil
}

func validateTransaction(txn *model.Transaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if txn.OwnerID == "" {
		return fmt.Errorf("%w: missing owner", ErrInvalidTransaction)
	}
	if txn.Currency == "" {
		return fmt.Errorf("%w: missing currency", ErrInvalidTransaction)
	}
	if txn.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidTransaction)
	}
	if txn.Confidence < 0 || txn.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v out of range", ErrInvalidTransaction, txn.Confidence)
	}
	return nil
}

func validateEvent(ev *model.CompletionEvent) error {
	if ev == nil {
		return fmt.Errorf("%w: event", ErrNilParameter)
	}
	if ev.OwnerID == "" || ev.EventType == "" || ev.ImportRunID == "" {
		return fmt.Errorf("%w: owner, type and run id are required", ErrInvalidEvent)
	}
	return nil
}
