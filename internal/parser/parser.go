// Package parser turns extracted document text into statement lines and
// classifies documents as receipts, invoices or bank statements.
package parser

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/llm"
	"github.com/Veraticus/ledger-intake/internal/model"
	"github.com/Veraticus/ledger-intake/internal/normalize"
)

// Tabular formats.
const (
	FormatCSV = "csv"
	FormatOFX = "ofx"
)

// Input is what a Strategy parses. Text is redacted document text; Tabular
// holds raw CSV or OFX bytes when the upload was a tabular export.
type Input struct {
	Text    string
	Format  string
	Kind    model.TransactionKind
	Tabular []byte
}

// Strategy is one tier of the cascade.
type Strategy interface {
	Name() string
	TryParse(ctx context.Context, in Input) ([]model.RawTransaction, bool)
}

// Cascade runs strategies in order; the first one that yields lines wins.
type Cascade struct {
	logger     *slog.Logger
	Strategies []Strategy
}

// NewCascade builds the standard precedence: the specialized statement
// layout, generic lines, tabular exports, then the language model fallback
// when client is non-nil.
func NewCascade(client llm.Client, logger *slog.Logger) *Cascade {
	logger = common.LoggerOrDefault(logger).With("component", "parser")
	strategies := []Strategy{
		NewEverydayBankingParser(),
		NewGenericLineParser(),
		NewTabularParser(logger),
	}
	if client != nil {
		strategies = append(strategies, NewLLMParser(client, logger))
	}
	return &Cascade{Strategies: strategies, logger: logger}
}

// Parse returns deduplicated lines sorted by date. It never fails; input no
// strategy understands yields an empty slice.
func (c *Cascade) Parse(ctx context.Context, in Input) []model.RawTransaction {
	if strings.TrimSpace(in.Text) == "" && len(in.Tabular) == 0 {
		return []model.RawTransaction{}
	}
	for _, s := range c.Strategies {
		if ctx.Err() != nil {
			break
		}
		txs, ok := s.TryParse(ctx, in)
		if ok && len(txs) > 0 {
			c.logger.Debug("Parsed statement", "strategy", s.Name(), "lines", len(txs))
			return Postprocess(txs)
		}
	}
	return []model.RawTransaction{}
}

// Postprocess drops repeated (date, merchant, amount) lines and stable-sorts
// by date ascending. Lines without a readable date sort first.
func Postprocess(txs []model.RawTransaction) []model.RawTransaction {
	type keyed struct {
		date string
		tx   model.RawTransaction
	}
	seen := make(map[string]bool, len(txs))
	out := make([]keyed, 0, len(txs))
	for _, tx := range txs {
		date := ""
		if t, ok := normalize.ParseDate(tx.Date); ok {
			date = t.Format(model.DateLayout)
		}
		key := date + "|" + strings.ToUpper(common.CollapseSpace(tx.Merchant)) + "|" + tx.Amount.StringFixed(2)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, keyed{date: date, tx: tx})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].date < out[j].date })

	result := make([]model.RawTransaction, len(out))
	for i, k := range out {
		result[i] = k.tx
	}
	return result
}

func splitLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = common.CollapseSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
