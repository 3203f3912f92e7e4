package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/queue"
)

// Task kinds handled by the pipeline.
const (
	TaskNormalize   = queue.KindNormalize
	TaskCompleteRun = queue.KindCompleteRun
)

// NormalizePayload is the payload of a TaskNormalize task.
type NormalizePayload struct {
	DocumentID string `json:"document_id"`
}

// Register installs the pipeline's task handlers on w.
func (p *Pipeline) Register(w *queue.Worker) {
	w.Handle(TaskNormalize, p.handleNormalize)
	w.Handle(TaskCompleteRun, p.handleCompleteRun)
}

func (p *Pipeline) handleNormalize(ctx context.Context, raw json.RawMessage) error {
	var payload NormalizePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return common.Permanent(fmt.Errorf("invalid normalize payload: %w", err))
	}
	_, err := p.Normalize(ctx, payload.DocumentID)
	return taskError(err)
}

func (p *Pipeline) handleCompleteRun(ctx context.Context, raw json.RawMessage) error {
	var payload RunPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return common.Permanent(fmt.Errorf("invalid complete_run payload: %w", err))
	}
	_, err := p.CompleteRun(ctx, payload)
	return taskError(err)
}

// taskError marks failures that no retry can fix as permanent.
func taskError(err error) error {
	if err == nil {
		return nil
	}
	switch common.KindOf(err) {
	case common.KindValidation, common.KindNotFound, common.KindGuardrailBlocked, common.KindExtractionFailure:
		return common.Permanent(err)
	}
	return err
}

// ImportRunID derives a run id from the document ids of a batch and the
// minute it started, so a client retrying the same batch gets the same run.
func ImportRunID(documentIDs []string, startedAt time.Time) string {
	ids := append([]string(nil), documentIDs...)
	sort.Strings(ids)
	h := sha256.New()
	h.Write([]byte(strings.Join(ids, ",")))
	h.Write([]byte("|" + startedAt.UTC().Truncate(time.Minute).Format(time.RFC3339)))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// DedupKey identifies the completion task for run. Requests naming a
// different set of documents get their own task; order and repeats in
// DocumentIDs do not matter.
func (r RunPayload) DedupKey() string {
	key := "complete_run:" + r.OwnerID + ":" + r.ImportRunID
	if len(r.DocumentIDs) == 0 {
		return key
	}
	ids := append([]string(nil), r.DocumentIDs...)
	sort.Strings(ids)
	ids = slices.Compact(ids)
	sum := sha256.Sum256([]byte(strings.Join(ids, ",")))
	return key + ":" + hex.EncodeToString(sum[:8])
}
