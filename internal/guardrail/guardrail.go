// Package guardrail screens text before it reaches durable storage or a
// model. Redaction always runs first so that no later step, the moderator
// included, ever sees the raw input.
package guardrail

import "context"

// Stage names the point in the pipeline that is being screened.
type Stage string

// Stages.
const (
	StageDocument Stage = "document"
	StageChat     Stage = "chat"
)

// Reasons attached to a Result.
const (
	ReasonModerationBlock       = "moderation_block"
	ReasonModerationUnavailable = "moderation_unavailable"
	ReasonJailbreakBlock        = "jailbreak_block"
)

// Result is the outcome of screening one text.
type Result struct {
	RedactedText string
	Reasons      []string
	PIITypes     []string
	OK           bool
}

// Redactor masks personal data. It never fails.
type Redactor interface {
	Redact(text string) (redacted string, piiTypes []string)
}

// Verdict is a moderator's answer.
type Verdict struct {
	Categories []string
	Flagged    bool
}

// Moderator classifies already-redacted text.
type Moderator interface {
	Moderate(ctx context.Context, text string) (Verdict, error)
}
