package parser

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/llm"
	"github.com/Veraticus/ledger-intake/internal/model"
)

// maxPromptChars bounds the statement text sent to the model.
const maxPromptChars = 12000

var creditCardHintRe = regexp.MustCompile(`(?i)\b(visa|mastercard|amex|american express|credit card|card ending|minimum payment|credit limit|available credit)\b`)

const statementSystemPrompt = `You extract transactions from bank and credit card statements.
Respond with a JSON array only. Each element has the fields
"date" (as printed), "merchant", "description" and "amount" (a number,
positive for purchases and withdrawals, negative for payments and deposits).
Skip balances, totals and interest summaries. Return [] when there are none.`

type llmLine struct {
	Amount      decimal.Decimal `json:"amount"`
	Date        string          `json:"date"`
	Merchant    string          `json:"merchant"`
	Description string          `json:"description"`
}

// LLMParser asks a language model to read statements no fixed layout
// understood.
type LLMParser struct {
	client llm.Client
	logger *slog.Logger
}

// NewLLMParser creates the parser.
func NewLLMParser(client llm.Client, logger *slog.Logger) *LLMParser {
	return &LLMParser{client: client, logger: common.LoggerOrDefault(logger)}
}

// Name implements Strategy.
func (p *LLMParser) Name() string { return "llm" }

// StatementType guesses whether text is a credit card or bank statement.
func StatementType(text string) string {
	if creditCardHintRe.MatchString(text) {
		return "credit_card"
	}
	return "bank"
}

// TryParse implements Strategy. Model and decoding failures are logged and
// yield no result.
func (p *LLMParser) TryParse(ctx context.Context, in Input) ([]model.RawTransaction, bool) {
	text := strings.TrimSpace(in.Text)
	if text == "" || p.client == nil {
		return nil, false
	}
	if len(text) > maxPromptChars {
		text = text[:maxPromptChars]
	}

	prompt := fmt.Sprintf("Statement type: %s\n\nStatement text:\n%s", StatementType(text), text)
	content, err := p.client.Complete(ctx, llm.Request{System: statementSystemPrompt, Prompt: prompt})
	if err != nil {
		p.logger.Warn("LLM statement parse failed", "error", err)
		return nil, false
	}

	var lines []llmLine
	if err := llm.DecodeJSON(content, &lines); err != nil {
		p.logger.Warn("LLM statement response was not valid JSON", "error", err)
		return nil, false
	}

	out := make([]model.RawTransaction, 0, len(lines))
	for _, l := range lines {
		merchant := common.CollapseSpace(l.Merchant)
		desc := common.CollapseSpace(l.Description)
		if merchant == "" {
			merchant = cleanMerchant(desc)
		}
		if merchant == "" || l.Amount.IsZero() {
			continue
		}
		if desc == "" {
			desc = merchant
		}
		out = append(out, model.RawTransaction{
			Date:        strings.TrimSpace(l.Date),
			Merchant:    merchant,
			Description: desc,
			Amount:      l.Amount,
		})
	}
	return out, len(out) > 0
}
