package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/ledger-intake/internal/cache"
	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/ratelimit"
	"github.com/Veraticus/ledger-intake/internal/service"
)

// Service wraps a provider Client with caching, rate limiting and retries.
// It satisfies Client itself.
type Service struct {
	client    Client
	limiter   ratelimit.Limiter
	cache     cache.Cache[string, string]
	logger    *slog.Logger
	limitKey  string
	retryOpts service.RetryOptions
	rateLimit int
}

// NewService creates a Service for client. A nil limiter disables rate
// limiting; a zero CacheTTL disables caching.
func NewService(client Client, cfg Config, limiter ratelimit.Limiter, logger *slog.Logger) *Service {
	retryOpts := service.RetryOptions{
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}

	if retryOpts.MaxAttempts == 0 {
		retryOpts.MaxAttempts = 3
	}
	if retryOpts.InitialDelay == 0 {
		retryOpts.InitialDelay = time.Second
	}

	var c cache.Cache[string, string] = cache.Noop[string, string]{}
	if cfg.CacheTTL > 0 {
		c = cache.NewLRU[string, string]("llm_completions", 2048, cfg.CacheTTL)
	}

	rateLimit := cfg.RateLimit
	if rateLimit <= 0 {
		rateLimit = 60
	}

	return &Service{
		client:    client,
		limiter:   limiter,
		cache:     c,
		logger:    common.LoggerOrDefault(logger).With("component", "llm", "provider", strings.ToLower(cfg.Provider)),
		limitKey:  "llm:" + strings.ToLower(cfg.Provider),
		retryOpts: retryOpts,
		rateLimit: rateLimit,
	}
}

// Complete returns a cached completion or asks the provider.
func (s *Service) Complete(ctx context.Context, req Request) (string, error) {
	key := common.HashText(req.System + "\x00" + req.Prompt)
	if out, ok := s.cache.Get(key); ok {
		s.logger.Debug("cache hit for completion", "prompt_hash", key[:12])
		return out, nil
	}

	var out string
	err := common.WithRetry(ctx, func() error {
		if err := s.wait(ctx); err != nil {
			return common.Permanent(err)
		}
		var err error
		out, err = s.client.Complete(ctx, req)
		if errors.Is(err, ErrEmptyCompletion) {
			return common.Permanent(err)
		}
		return err
	}, s.retryOpts)
	if err != nil {
		return "", fmt.Errorf("completion failed: %w", err)
	}

	s.cache.Set(key, out)
	return out, nil
}

// wait blocks until the limiter admits a request or ctx is canceled.
func (s *Service) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	for {
		d, err := s.limiter.Allow(ctx, s.limitKey, s.rateLimit, time.Minute)
		if err != nil {
			// The limiter is advisory.
			s.logger.Warn("rate limiter unavailable", "error", err)
			return nil
		}
		if d.Allowed {
			return nil
		}
		delay := time.Until(d.ResetAt)
		if delay <= 0 {
			delay = 100 * time.Millisecond
		}
		s.logger.Debug("rate limited, waiting", "delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("rate limiter canceled: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
}
