// Package queue hands pipeline stages to asynchronous consumers. Delivery is
// at least once; dedup keys collapse repeated dispatches of a logical task.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Veraticus/ledger-intake/internal/model"
	"github.com/Veraticus/ledger-intake/internal/service"
)

// Task kinds dispatched by the pipeline.
const (
	KindNormalize   = "normalize"
	KindCompleteRun = "complete_run"
)

// Delivery is a claimed task plus the backend's receipt for acknowledging it.
type Delivery struct {
	Task    model.Task
	receipt string
}

// Backend stores tasks between dispatch and handling.
type Backend interface {
	service.Dispatcher
	// Claim returns the next ready delivery, or nil when none is ready.
	Claim(ctx context.Context) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	Retry(ctx context.Context, d *Delivery, lastError string, delay time.Duration) error
	DeadLetter(ctx context.Context, d *Delivery, lastError string) error
}

func newTask(kind string, payload any, opts service.DispatchOptions, now time.Time) (*model.Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	t := &model.Task{
		Kind:     kind,
		DedupKey: opts.DedupKey,
		Payload:  raw,
	}
	if opts.Delay > 0 {
		t.AvailableAt = now.Add(opts.Delay)
	}
	return t, nil
}
