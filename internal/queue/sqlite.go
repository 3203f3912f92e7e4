package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/model"
	"github.com/Veraticus/ledger-intake/internal/service"
)

// TaskStore is the persistence the SQLite backend needs.
type TaskStore interface {
	EnqueueTask(ctx context.Context, t *model.Task) (bool, error)
	ClaimTask(ctx context.Context, lease time.Duration) (*model.Task, error)
	CompleteTask(ctx context.Context, id string) error
	RetryTask(ctx context.Context, id, lastError string, delay time.Duration) error
	DeadLetterTask(ctx context.Context, id, lastError string) error
}

// SQLiteQueue keeps tasks in the relational store. A claim is a lease; a
// consumer that dies mid-task leaves it claimable once the lease expires.
type SQLiteQueue struct {
	store  TaskStore
	logger *slog.Logger
	now    func() time.Time
	lease  time.Duration
}

// NewSQLiteQueue creates a queue over store.
func NewSQLiteQueue(store TaskStore, lease time.Duration, logger *slog.Logger) *SQLiteQueue {
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	return &SQLiteQueue{
		store:  store,
		lease:  lease,
		logger: common.LoggerOrDefault(logger),
		now:    time.Now,
	}
}

// Dispatch implements service.Dispatcher.
func (q *SQLiteQueue) Dispatch(ctx context.Context, kind string, payload any, opts service.DispatchOptions) error {
	t, err := newTask(kind, payload, opts, q.now())
	if err != nil {
		return err
	}
	queued, err := q.store.EnqueueTask(ctx, t)
	if err != nil {
		return err
	}
	dispatchedTotal.WithLabelValues(kind, dispatchResult(queued)).Inc()
	if !queued {
		q.logger.Debug("Task already pending", "kind", kind, "dedup_key", opts.DedupKey)
	}
	return nil
}

// Claim implements Backend.
func (q *SQLiteQueue) Claim(ctx context.Context) (*Delivery, error) {
	t, err := q.store.ClaimTask(ctx, q.lease)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Delivery{Task: *t, receipt: t.ID}, nil
}

// Ack implements Backend.
func (q *SQLiteQueue) Ack(ctx context.Context, d *Delivery) error {
	return q.store.CompleteTask(ctx, d.receipt)
}

// Retry implements Backend.
func (q *SQLiteQueue) Retry(ctx context.Context, d *Delivery, lastError string, delay time.Duration) error {
	return q.store.RetryTask(ctx, d.receipt, lastError, delay)
}

// DeadLetter implements Backend.
func (q *SQLiteQueue) DeadLetter(ctx context.Context, d *Delivery, lastError string) error {
	return q.store.DeadLetterTask(ctx, d.receipt, lastError)
}

func dispatchResult(queued bool) string {
	if queued {
		return "queued"
	}
	return "deduplicated"
}
