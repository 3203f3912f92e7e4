package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/model"
)

func newTestEvent(owner, run string) *model.CompletionEvent {
	return &model.CompletionEvent{
		OwnerID:     owner,
		EventType:   model.EventImportCompleted,
		ImportRunID: run,
		Summary: model.ImportSummary{
			TransactionCount: 2,
			TotalAmount:      decimal.RequireFromString("88.59"),
			TopCategories:    []model.CategoryTotal{},
			Issues:           []model.Issue{},
		},
		Verification: model.Verification{Verified: true, Warnings: []string{}},
	}
}

func TestInsertCompletionEvent_ExactlyOnce(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	const n = 10
	var inserted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.InsertCompletionEvent(ctx, newTestEvent("owner-1", "run-1"))
			assert.NoError(t, err)
			if ok {
				inserted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), inserted.Load())

	ev, err := store.GetCompletionEvent(ctx, "owner-1", model.EventImportCompleted, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, ev.Summary.TransactionCount)
	assert.True(t, decimal.RequireFromString("88.59").Equal(ev.Summary.TotalAmount))
	assert.True(t, ev.Verification.Verified)
	assert.Nil(t, ev.AnnouncedAt)

	_, err = store.InsertCompletionEvent(ctx, &model.CompletionEvent{OwnerID: "owner-1"})
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestLatestUnannounced(t *testing.T) {
	store := createTestStorage(t)
	store.SetClock(fixedClock(time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)))
	ctx := context.Background()

	_, err := store.LatestUnannounced(ctx, "owner-1", model.EventImportCompleted)
	require.ErrorIs(t, err, common.ErrNotFound)

	for _, run := range []string{"run-1", "run-2"} {
		ok, err := store.InsertCompletionEvent(ctx, newTestEvent("owner-1", run))
		require.NoError(t, err)
		require.True(t, ok)
	}

	latest, err := store.LatestUnannounced(ctx, "owner-1", model.EventImportCompleted)
	require.NoError(t, err)
	assert.Equal(t, "run-2", latest.ImportRunID)

	stamped, err := store.MarkAnnounced(ctx, latest.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, stamped)

	stamped, err = store.MarkAnnounced(ctx, latest.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, stamped)

	next, err := store.LatestUnannounced(ctx, "owner-1", model.EventImportCompleted)
	require.NoError(t, err)
	assert.Equal(t, "run-1", next.ImportRunID)
}

func TestInsertMessage_Dedup(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	ok, err := store.InsertMessage(ctx, &model.Message{OwnerID: "owner-1", ClientMessageID: "m-1", Body: "done"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.InsertMessage(ctx, &model.Message{OwnerID: "owner-1", ClientMessageID: "m-1", Body: "done again"})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.InsertMessage(ctx, &model.Message{OwnerID: "owner-2", ClientMessageID: "m-1", Body: "done"})
	require.NoError(t, err)
	assert.True(t, ok)

	msgs, err := store.ListMessages(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "done", msgs[0].Body)

	_, err = store.InsertMessage(ctx, &model.Message{OwnerID: "owner-1"})
	require.ErrorIs(t, err, ErrEmptyString)
}

func TestWriteAudit(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	rec := &model.AuditRecord{
		OwnerID:   "owner-1",
		Stage:     "document",
		Action:    "guardrail",
		InputHash: common.HashText("secret text"),
		Verdict:   "allow",
		Reasons:   []string{"moderation_unavailable"},
		PIITypes:  []string{"EMAIL"},
	}
	require.NoError(t, store.WriteAudit(ctx, rec))
	assert.NotZero(t, rec.ID)

	records, err := store.ListAudit(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, rec.InputHash, records[0].InputHash)
	assert.Equal(t, []string{"moderation_unavailable"}, records[0].Reasons)
	assert.Empty(t, records[0].DocumentID)

	require.ErrorIs(t, store.WriteAudit(ctx, nil), ErrNilParameter)
}
