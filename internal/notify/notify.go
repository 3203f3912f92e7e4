// Package notify records import-run completion and posts exactly one
// announcement per run.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/model"
	"github.com/Veraticus/ledger-intake/internal/service"
)

// messageNamespace scopes announcement ids derived from import run ids.
var messageNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/Veraticus/ledger-intake/announcements"))

// MessageID returns the deterministic client message id of a run's
// announcement.
func MessageID(importRunID string) string {
	return uuid.NewSHA1(messageNamespace, []byte(importRunID)).String()
}

// Notifier writes completion events and their announcements. All
// coordination happens through the store's unique constraints.
type Notifier struct {
	store  service.CompletionStore
	logger *slog.Logger
	now    func() time.Time
}

// NewNotifier creates a notifier.
func NewNotifier(store service.CompletionStore, logger *slog.Logger) *Notifier {
	return &Notifier{store: store, logger: common.LoggerOrDefault(logger), now: time.Now}
}

// RecordCompletion inserts the run's completion event. recorded is false,
// without error, when the event already exists.
func (n *Notifier) RecordCompletion(ctx context.Context, ownerID, importRunID string, summary model.ImportSummary, v model.Verification) (bool, error) {
	if ownerID == "" || importRunID == "" {
		return false, common.Validation("record_completion", "owner and import run id are required")
	}
	if v.Warnings == nil {
		v.Warnings = []string{}
	}
	recorded, err := n.store.InsertCompletionEvent(ctx, &model.CompletionEvent{
		OwnerID:      ownerID,
		EventType:    model.EventImportCompleted,
		ImportRunID:  importRunID,
		Summary:      summary,
		Verification: v,
	})
	if err != nil {
		return false, fmt.Errorf("failed to record completion: %w", err)
	}
	if !recorded {
		n.logger.Debug("Completion already recorded", "owner_id", ownerID, "import_run_id", importRunID)
	}
	return recorded, nil
}

// Announce posts the message for the owner's latest unannounced completion.
// posted is true only for the caller whose message insert won; with no
// pending event it is a no-op.
func (n *Notifier) Announce(ctx context.Context, ownerID string) (bool, error) {
	ev, err := n.store.LatestUnannounced(ctx, ownerID, model.EventImportCompleted)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load pending completion: %w", err)
	}

	posted, err := n.store.InsertMessage(ctx, &model.Message{
		OwnerID:         ownerID,
		ClientMessageID: MessageID(ev.ImportRunID),
		Body:            ComposeMessage(ev.Summary, ev.Verification),
	})
	if err != nil {
		return false, fmt.Errorf("failed to post announcement: %w", err)
	}

	if _, err := n.store.MarkAnnounced(ctx, ev.ID, n.now()); err != nil {
		return posted, fmt.Errorf("failed to mark completion announced: %w", err)
	}
	if posted {
		n.logger.Info("Posted import announcement",
			"owner_id", ownerID,
			"import_run_id", ev.ImportRunID,
			"transactions", ev.Summary.TransactionCount)
	}
	return posted, nil
}
