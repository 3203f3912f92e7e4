package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/ledger-intake/internal/service"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		name string
		want Kind
	}{
		{name: "classified", err: NewPipelineError(KindParseEmpty, "parse", "", nil), want: KindParseEmpty},
		{name: "wrapped", err: fmt.Errorf("outer: %w", Validation("create", "bad hash")), want: KindValidation},
		{name: "not found sentinel", err: fmt.Errorf("load: %w", ErrNotFound), want: KindNotFound},
		{name: "plain", err: errors.New("boom"), want: KindUnexpected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestHintOf(t *testing.T) {
	err := fmt.Errorf("wrap: %w", Validation("create", "content_hash is required"))
	assert.Equal(t, "content_hash is required", HintOf(err))
	assert.Empty(t, HintOf(errors.New("plain")))
}

func TestPipelineError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewPipelineError(KindPersistenceConflict, "store", "", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "store")
}

func TestWithRetry(t *testing.T) {
	opts := service.RetryOptions{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		}, opts)
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), func() error {
			calls++
			return Permanent(errors.New("bad request"))
		}, opts)
		require.Error(t, err)
		assert.True(t, IsPermanent(err))
		assert.Equal(t, 1, calls)
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		err := WithRetry(context.Background(), func() error { return errors.New("down") }, opts)
		assert.ErrorIs(t, err, ErrMaxRetries)
	})

	t.Run("rate limit waits max delay", func(t *testing.T) {
		calls := 0
		start := time.Now()
		limited := opts
		limited.InitialDelay = time.Nanosecond
		limited.MaxDelay = 20 * time.Millisecond
		err := WithRetry(context.Background(), func() error {
			calls++
			if calls == 1 {
				return ProviderStatus("vision", http.StatusTooManyRequests, "")
			}
			return nil
		}, limited)
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})

	t.Run("client error is not retried", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), func() error {
			calls++
			return ProviderStatus("openai", http.StatusBadRequest, "bad model")
		}, opts)
		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.Contains(t, err.Error(), "openai API error (status 400): bad model")
	})

	t.Run("honors cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		slow := opts
		slow.InitialDelay = time.Hour
		slow.MaxDelay = time.Hour
		err := WithRetry(ctx, func() error { return errors.New("down") }, slow)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "provider outage", err: ProviderStatus("ocr.space", http.StatusBadGateway, ""), want: true},
		{name: "rate limit", err: ProviderStatus("anthropic", http.StatusTooManyRequests, ""), want: true},
		{name: "client error", err: ProviderStatus("anthropic", http.StatusUnauthorized, "")},
		{name: "store busy", err: fmt.Errorf("upsert: %w", ErrStoreBusy), want: true},
		{name: "request timeout", err: fmt.Errorf("vision annotate failed: %w", context.DeadlineExceeded), want: true},
		{name: "permanent wins", err: Permanent(fmt.Errorf("x: %w", ErrStoreBusy))},
		{name: "unclassified", err: errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestTextHelpers(t *testing.T) {
	assert.Equal(t, "SAFEWAY STORE 12", CollapseSpace("  SAFEWAY\tSTORE   12 \n"))
	assert.Equal(t, HashText("abc"), HashBytes([]byte("abc")))
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", HashText("abc"))
}
