package guardrail

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Veraticus/ledger-intake/internal/cache"
	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/model"
	"github.com/Veraticus/ledger-intake/internal/service"
)

var verdictsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "intake_guardrail_verdicts_total",
		Help: "Guardrail evaluations by stage and verdict.",
	},
	[]string{"stage", "verdict"},
)

// Audit verdicts.
const (
	VerdictAllow = "allow"
	VerdictBlock = "block"
)

// Gate runs redaction, moderation and, for chat, the jailbreak heuristic.
type Gate struct {
	redactor  Redactor
	moderator Moderator
	audit     service.AuditSink
	verdicts  cache.Cache[string, Verdict]
	logger    *slog.Logger
}

// NewGate creates a Gate. A nil moderator allows everything, a nil audit sink
// skips auditing and a nil cache disables verdict caching.
func NewGate(redactor Redactor, moderator Moderator, audit service.AuditSink, verdicts cache.Cache[string, Verdict], logger *slog.Logger) *Gate {
	if redactor == nil {
		redactor = NewRegexRedactor()
	}
	if moderator == nil {
		moderator = NoopModerator{}
	}
	if verdicts == nil {
		verdicts = cache.Noop[string, Verdict]{}
	}
	return &Gate{
		redactor:  redactor,
		moderator: moderator,
		audit:     audit,
		verdicts:  verdicts,
		logger:    common.LoggerOrDefault(logger).With("component", "guardrail"),
	}
}

// Evaluate screens text for ownerID at stage. It never fails: a moderator
// outage lets the text through with ReasonModerationUnavailable.
func (g *Gate) Evaluate(ctx context.Context, text, ownerID string, stage Stage) Result {
	inputHash := common.HashText(text)

	redacted, piiTypes := g.redactor.Redact(text)
	res := Result{
		OK:           true,
		RedactedText: redacted,
		PIITypes:     piiTypes,
		Reasons:      []string{},
	}

	verdict, err := g.moderate(ctx, redacted)
	switch {
	case err != nil:
		g.logger.Warn("moderation unavailable, allowing input",
			"error", err,
			"input_hash", inputHash,
			"stage", stage)
		res.Reasons = append(res.Reasons, ReasonModerationUnavailable)
	case verdict.Flagged:
		res.OK = false
		res.Reasons = append(res.Reasons, ReasonModerationBlock)
		res.Reasons = append(res.Reasons, verdict.Categories...)
	}

	if res.OK && stage == StageChat && IsJailbreak(redacted) {
		res.OK = false
		res.Reasons = append(res.Reasons, ReasonJailbreakBlock)
	}

	v := VerdictAllow
	if !res.OK {
		v = VerdictBlock
	}
	verdictsTotal.WithLabelValues(string(stage), v).Inc()
	g.writeAudit(ctx, &model.AuditRecord{
		OwnerID:   ownerID,
		Stage:     string(stage),
		Action:    "guardrail",
		InputHash: inputHash,
		Verdict:   v,
		Reasons:   res.Reasons,
		PIITypes:  res.PIITypes,
	})
	return res
}

func (g *Gate) moderate(ctx context.Context, redacted string) (Verdict, error) {
	key := common.HashText(redacted)
	if v, ok := g.verdicts.Get(key); ok {
		return v, nil
	}
	v, err := g.moderator.Moderate(ctx, redacted)
	if err != nil {
		return Verdict{}, err
	}
	g.verdicts.Set(key, v)
	return v, nil
}

func (g *Gate) writeAudit(ctx context.Context, rec *model.AuditRecord) {
	if g.audit == nil {
		return
	}
	if err := g.audit.WriteAudit(ctx, rec); err != nil {
		g.logger.Warn("failed to write audit record", "error", err, "input_hash", rec.InputHash)
	}
}
