package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Veraticus/ledger-intake/internal/common"
)

// Machine-readable error codes.
const (
	CodeValidation   = "validation_error"
	CodeNotFound     = "not_found"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeBlocked      = "guardrail_blocked"
	CodeExtraction   = "extraction_failure"
	CodeRateLimited  = "rate_limited"
	CodeTooLarge     = "payload_too_large"
	CodeUnavailable  = "temporarily_unavailable"
	CodeInternal     = "internal_error"
)

// ErrorBody is the body of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Hint  string `json:"hint,omitempty"`
}

// WriteError writes an error body with status.
func WriteError(w http.ResponseWriter, status int, code, message, hint string) {
	writeJSON(w, status, ErrorBody{Error: message, Code: code, Hint: hint})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError maps an error from the pipeline onto a response.
// Unexpected errors are logged in full and answered generically.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	hint := common.HintOf(err)
	switch common.KindOf(err) {
	case common.KindValidation:
		WriteError(w, http.StatusBadRequest, CodeValidation, "invalid request", hint)
	case common.KindNotFound:
		WriteError(w, http.StatusNotFound, CodeNotFound, "not found", hint)
	case common.KindGuardrailBlocked:
		WriteError(w, http.StatusUnprocessableEntity, CodeBlocked, "document rejected", hint)
	case common.KindExtractionFailure:
		WriteError(w, http.StatusUnprocessableEntity, CodeExtraction, "could not read document", hint)
	case common.KindUploadIncomplete:
		writeJSON(w, http.StatusAccepted, map[string]any{"pending": true, "hint": hint})
	default:
		if common.IsTransient(err) {
			logger.WarnContext(r.Context(), "Request hit a transient failure", "path", r.URL.Path, "error", err)
			w.Header().Set("Retry-After", "5")
			WriteError(w, http.StatusServiceUnavailable, CodeUnavailable, "temporarily unavailable", "retry shortly")
			return
		}
		logger.ErrorContext(r.Context(), "Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
		WriteError(w, http.StatusInternalServerError, CodeInternal, "internal error", "try again later")
	}
}
