package guardrail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/ledger-intake/internal/common"
)

const openAIModerationURL = "https://api.openai.com/v1/moderations"

// categoryThresholds flag a category on its score even when the provider's
// own flag is unset.
var categoryThresholds = map[string]float64{
	"sexual/minors":          0.5,
	"hate/threatening":       0.7,
	"harassment/threatening": 0.7,
	"violence":               0.8,
	"self-harm":              0.8,
}

// OpenAIModerator calls the OpenAI moderation endpoint.
type OpenAIModerator struct {
	httpClient *http.Client
	apiKey     string
	url        string
	model      string
}

// NewOpenAIModerator creates a moderator. An empty url uses the public API.
func NewOpenAIModerator(apiKey, url string) (*OpenAIModerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: moderation API key", common.ErrMissingConfig)
	}
	if url == "" {
		url = openAIModerationURL
	}
	return &OpenAIModerator{
		apiKey: apiKey,
		url:    url,
		model:  "omni-moderation-latest",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

type moderationResponse struct {
	Results []struct {
		Categories     map[string]bool    `json:"categories"`
		CategoryScores map[string]float64 `json:"category_scores"`
		Flagged        bool               `json:"flagged"`
	} `json:"results"`
}

// Moderate implements Moderator.
func (m *OpenAIModerator) Moderate(ctx context.Context, text string) (Verdict, error) {
	body, err := json.Marshal(map[string]string{"model": m.model, "input": text})
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("moderation request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("moderation API error (status %d)", resp.StatusCode)
	}

	var parsed moderationResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Verdict{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Results) == 0 {
		return Verdict{Categories: []string{}}, nil
	}

	r := parsed.Results[0]
	categories := []string{}
	for name, threshold := range categoryThresholds {
		if r.CategoryScores[name] > threshold {
			categories = append(categories, name)
		}
	}
	if r.Flagged && len(categories) == 0 {
		for name, on := range r.Categories {
			if on {
				categories = append(categories, name)
			}
		}
	}
	sort.Strings(categories)
	return Verdict{Flagged: r.Flagged || len(categories) > 0, Categories: categories}, nil
}

// KeywordModerator flags text containing any of a fixed set of terms. It is
// the offline fallback when no moderation API is configured.
type KeywordModerator struct {
	terms map[string][]string
}

// NewKeywordModerator creates a moderator from category to terms. A nil map
// uses a small built-in list.
func NewKeywordModerator(terms map[string][]string) *KeywordModerator {
	if terms == nil {
		terms = map[string][]string{
			"violence":         {"kill you", "bomb threat", "shoot up"},
			"self-harm":        {"kill myself", "end my life"},
			"hate/threatening": {"exterminate them"},
		}
	}
	return &KeywordModerator{terms: terms}
}

// Moderate implements Moderator.
func (m *KeywordModerator) Moderate(_ context.Context, text string) (Verdict, error) {
	lower := strings.ToLower(text)
	categories := []string{}
	for category, terms := range m.terms {
		for _, term := range terms {
			if strings.Contains(lower, term) {
				categories = append(categories, category)
				break
			}
		}
	}
	sort.Strings(categories)
	return Verdict{Flagged: len(categories) > 0, Categories: categories}, nil
}

// NoopModerator allows everything.
type NoopModerator struct{}

// Moderate implements Moderator.
func (NoopModerator) Moderate(context.Context, string) (Verdict, error) {
	return Verdict{Categories: []string{}}, nil
}
