package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/ledger-intake/internal/common"
)

var (
	dispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_tasks_dispatched_total",
			Help: "Tasks dispatched by kind and whether they were queued or deduplicated.",
		},
		[]string{"kind", "result"},
	)
	handledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_tasks_handled_total",
			Help: "Task handler invocations by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	handleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intake_task_duration_seconds",
			Help:    "Task handler duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

// Handler processes one task payload. Returning an error marked with
// common.Permanent dead-letters the task immediately.
type Handler func(ctx context.Context, payload json.RawMessage) error

// WorkerConfig tunes a Worker.
type WorkerConfig struct {
	Concurrency  int
	MaxAttempts  int
	PollInterval time.Duration
	RetryDelay   time.Duration
	MaxDelay     time.Duration
}

// Worker runs registered handlers against a Backend.
type Worker struct {
	backend  Backend
	handlers map[string]Handler
	logger   *slog.Logger
	cfg      WorkerConfig
}

// NewWorker creates a worker. Handlers must be registered before Run.
func NewWorker(backend Backend, cfg WorkerConfig, logger *slog.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Minute
	}
	return &Worker{
		backend:  backend,
		handlers: make(map[string]Handler),
		logger:   common.LoggerOrDefault(logger).With("component", "worker"),
		cfg:      cfg,
	}
}

// Handle registers h for kind.
func (w *Worker) Handle(kind string, h Handler) {
	w.handlers[kind] = h
}

// Run consumes tasks until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Starting workers", "concurrency", w.cfg.Concurrency)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		id := i
		g.Go(func() error {
			return w.loop(gctx, id)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context, id int) error {
	logger := w.logger.With("worker", id)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		processed, err := w.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("Failed to claim task", "error", err)
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// RunOnce claims and handles at most one task. It reports whether a task was
// claimed. Handler failures are settled on the backend, not returned.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	d, err := w.backend.Claim(ctx)
	if err != nil {
		return false, err
	}
	if d == nil {
		return false, nil
	}
	w.handle(ctx, d)
	return true, nil
}

// Drain handles tasks until none is ready.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		processed, err := w.RunOnce(ctx)
		if err != nil {
			return n, err
		}
		if !processed {
			return n, nil
		}
		n++
	}
}

func (w *Worker) handle(ctx context.Context, d *Delivery) {
	kind := d.Task.Kind
	logger := w.logger.With("task_id", d.Task.ID, "kind", kind, "attempt", d.Task.Attempts)

	h, ok := w.handlers[kind]
	if !ok {
		handledTotal.WithLabelValues(kind, "unknown").Inc()
		logger.Error("No handler for task kind")
		if err := w.backend.DeadLetter(ctx, d, "no handler for kind "+kind); err != nil {
			logger.Error("Failed to dead-letter task", "error", err)
		}
		return
	}

	start := time.Now()
	err := safeCall(ctx, h, d.Task.Payload)
	handleDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		handledTotal.WithLabelValues(kind, "ok").Inc()
		if ackErr := w.backend.Ack(ctx, d); ackErr != nil {
			logger.Error("Failed to ack task", "error", ackErr)
		}
	case common.IsPermanent(err) || d.Task.Attempts >= w.cfg.MaxAttempts:
		handledTotal.WithLabelValues(kind, "dead").Inc()
		logger.Error("Task failed permanently", "error", err)
		if dlErr := w.backend.DeadLetter(ctx, d, err.Error()); dlErr != nil {
			logger.Error("Failed to dead-letter task", "error", dlErr)
		}
	default:
		delay := w.backoff(d.Task.Attempts)
		if errors.Is(err, common.ErrRateLimit) {
			delay = w.cfg.MaxDelay
		}
		handledTotal.WithLabelValues(kind, "retry").Inc()
		logger.Warn("Task failed, retrying", "error", err, "delay", delay)
		if rErr := w.backend.Retry(ctx, d, err.Error(), delay); rErr != nil {
			logger.Error("Failed to reschedule task", "error", rErr)
		}
	}
}

func (w *Worker) backoff(attempt int) time.Duration {
	delay := w.cfg.RetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= w.cfg.MaxDelay {
			return w.cfg.MaxDelay
		}
	}
	return delay
}

func safeCall(ctx context.Context, h Handler, payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, payload)
}
