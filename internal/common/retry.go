package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Veraticus/ledger-intake/internal/service"
)

var (
	// ErrRateLimit indicates an OCR or LLM provider answered 429.
	ErrRateLimit = errors.New("rate limit exceeded")
	// ErrMaxRetries indicates that all retry attempts have been exhausted.
	ErrMaxRetries = errors.New("max retries exceeded")
	// ErrStoreBusy indicates the database stayed locked past its busy timeout.
	ErrStoreBusy = errors.New("database is busy")
)

// RetryableError records whether a provider or storage failure is worth
// another attempt.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return &RetryableError{Err: err, Retryable: false}
}

// Transient marks err as likely to succeed on a later attempt.
func Transient(err error) error {
	return &RetryableError{Err: err, Retryable: true}
}

// IsTransient reports whether err is a provider outage, a rate limit, a
// per-request timeout or a locked database.
func IsTransient(err error) bool {
	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrStoreBusy) || errors.Is(err, context.DeadlineExceeded)
}

// ProviderStatus classifies a non-200 answer from an OCR or LLM provider.
// 429 is a rate limit, 5xx is transient and any other status is permanent.
func ProviderStatus(provider string, status int, detail string) error {
	err := fmt.Errorf("%s API error (status %d)", provider, status)
	if detail != "" {
		err = fmt.Errorf("%s API error (status %d): %s", provider, status, detail)
	}
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", ErrRateLimit, err)
	case status >= 500:
		return Transient(err)
	default:
		return Permanent(err)
	}
}

// WithRetry calls operation until it succeeds, returns a permanent error, or
// runs out of attempts. A rate limit waits the full MaxDelay before the next
// attempt. Cancellation of ctx ends the loop with ctx's error.
func WithRetry(ctx context.Context, operation func() error, opts service.RetryOptions) error {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 100 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.Multiplier <= 0 {
		opts.Multiplier = 2.0
	}

	delay := opts.InitialDelay
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		wait := delay
		if errors.Is(err, ErrRateLimit) {
			wait = opts.MaxDelay
		}
		if attempt == opts.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetries, opts.MaxAttempts, err)
		}

		slog.Warn("Provider call failed, retrying",
			"attempt", attempt,
			"max_attempts", opts.MaxAttempts,
			"delay", wait,
			"transient", IsTransient(err),
			"error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay = min(time.Duration(float64(delay)*opts.Multiplier), opts.MaxDelay)
	}

	return ErrMaxRetries
}
