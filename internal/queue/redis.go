package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/service"
)

// promoteScript moves delayed tasks whose time has come onto the ready list.
var promoteScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, v in ipairs(due) do
  redis.call("ZREM", KEYS[1], v)
  redis.call("LPUSH", KEYS[2], v)
end
return #due
`)

// dedupTTL bounds how long a dedup marker outlives a lost task.
const dedupTTL = 24 * time.Hour

// RedisQueue keeps tasks in Redis lists. Each consumer owns a processing
// list; BLMOVE makes the hand-off atomic and LREM acknowledges.
type RedisQueue struct {
	client   redis.UniversalClient
	logger   *slog.Logger
	now      func() time.Time
	prefix   string
	consumer string
	block    time.Duration
}

// RedisQueueConfig configures a RedisQueue.
type RedisQueueConfig struct {
	Prefix   string
	Consumer string
	Block    time.Duration
}

// NewRedisQueue creates a queue on client.
func NewRedisQueue(client redis.UniversalClient, cfg RedisQueueConfig, logger *slog.Logger) (*RedisQueue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "intake:queue:"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = uuid.NewString()
	}
	if cfg.Block <= 0 {
		cfg.Block = time.Second
	}
	return &RedisQueue{
		client:   client,
		logger:   common.LoggerOrDefault(logger),
		now:      time.Now,
		prefix:   cfg.Prefix,
		consumer: cfg.Consumer,
		block:    cfg.Block,
	}, nil
}

func (q *RedisQueue) readyKey() string      { return q.prefix + "ready" }
func (q *RedisQueue) delayedKey() string    { return q.prefix + "delayed" }
func (q *RedisQueue) deadKey() string       { return q.prefix + "dead" }
func (q *RedisQueue) processingKey() string { return q.prefix + "processing:" + q.consumer }
func (q *RedisQueue) dedupKey(k string) string {
	return q.prefix + "dedup:" + k
}

// Dispatch implements service.Dispatcher.
func (q *RedisQueue) Dispatch(ctx context.Context, kind string, payload any, opts service.DispatchOptions) error {
	t, err := newTask(kind, payload, opts, q.now())
	if err != nil {
		return err
	}
	t.ID = uuid.NewString()
	t.CreatedAt = q.now().UTC()

	if t.DedupKey != "" {
		ok, err := q.client.SetNX(ctx, q.dedupKey(t.DedupKey), t.ID, dedupTTL).Result()
		if err != nil {
			return fmt.Errorf("failed to set dedup marker: %w", err)
		}
		if !ok {
			dispatchedTotal.WithLabelValues(kind, dispatchResult(false)).Inc()
			return nil
		}
	}

	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	if err := q.push(ctx, string(raw), t.AvailableAt); err != nil {
		return err
	}
	dispatchedTotal.WithLabelValues(kind, dispatchResult(true)).Inc()
	return nil
}

func (q *RedisQueue) push(ctx context.Context, raw string, availableAt time.Time) error {
	if !availableAt.IsZero() && availableAt.After(q.now()) {
		if err := q.client.ZAdd(ctx, q.delayedKey(), redis.Z{
			Score:  float64(availableAt.UnixMilli()),
			Member: raw,
		}).Err(); err != nil {
			return fmt.Errorf("failed to schedule task: %w", err)
		}
		return nil
	}
	if err := q.client.LPush(ctx, q.readyKey(), raw).Err(); err != nil {
		return fmt.Errorf("failed to push task: %w", err)
	}
	return nil
}

// Recover returns tasks left in this consumer's processing list by a
// previous run to the ready list.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, q.processingKey(), q.readyKey(), "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("failed to recover in-flight tasks: %w", err)
		}
		n++
	}
}

// Claim implements Backend. It blocks up to the configured block time.
func (q *RedisQueue) Claim(ctx context.Context) (*Delivery, error) {
	if err := promoteScript.Run(ctx, q.client, []string{q.delayedKey(), q.readyKey()},
		strconv.FormatInt(q.now().UnixMilli(), 10), 100).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to promote delayed tasks: %w", err)
	}

	raw, err := q.client.BLMove(ctx, q.readyKey(), q.processingKey(), "RIGHT", "LEFT", q.block).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}

	d := &Delivery{receipt: raw}
	if err := json.Unmarshal([]byte(raw), &d.Task); err != nil {
		// An undecodable entry can never succeed.
		_ = q.client.LRem(ctx, q.processingKey(), 1, raw).Err()
		_ = q.client.LPush(ctx, q.deadKey(), raw).Err()
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	d.Task.Attempts++
	if d.Task.DedupKey != "" {
		// The task is no longer pending, so an identical dispatch may queue again.
		_ = q.client.Del(ctx, q.dedupKey(d.Task.DedupKey)).Err()
	}
	return d, nil
}

// Ack implements Backend.
func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	if err := q.client.LRem(ctx, q.processingKey(), 1, d.receipt).Err(); err != nil {
		return fmt.Errorf("failed to ack task: %w", err)
	}
	return nil
}

// Retry implements Backend.
func (q *RedisQueue) Retry(ctx context.Context, d *Delivery, lastError string, delay time.Duration) error {
	t := d.Task
	t.LastError = lastError
	t.AvailableAt = q.now().Add(delay)
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	if err := q.push(ctx, string(raw), t.AvailableAt); err != nil {
		return err
	}
	return q.Ack(ctx, d)
}

// DeadLetter implements Backend.
func (q *RedisQueue) DeadLetter(ctx context.Context, d *Delivery, lastError string) error {
	t := d.Task
	t.LastError = lastError
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	if err := q.client.LPush(ctx, q.deadKey(), string(raw)).Err(); err != nil {
		return fmt.Errorf("failed to dead-letter task: %w", err)
	}
	return q.Ack(ctx, d)
}
