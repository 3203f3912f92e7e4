package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Veraticus/ledger-intake/internal/common"
)

// Client defines the interface for LLM providers.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Request is a single-turn completion.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int
}

// Config holds configuration for an LLM client.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	MaxRetries  int
	RetryDelay  time.Duration
	CacheTTL    time.Duration
	RateLimit   int
	Temperature float64
	MaxTokens   int
}

// ErrEmptyCompletion is returned when a provider answers with no content.
var ErrEmptyCompletion = errors.New("no completion returned")

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// statusError classifies a non-200 provider response.
func statusError(provider string, status int, body []byte) error {
	return common.ProviderStatus(provider, status, truncate(string(body), 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
