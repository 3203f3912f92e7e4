package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/contentstore"
	"github.com/Veraticus/ledger-intake/internal/pipeline"
	"github.com/Veraticus/ledger-intake/internal/service"
)

// maxJSONBytes bounds request bodies other than uploads.
const maxJSONBytes = 1 << 20

type createDocumentResponse struct {
	pipeline.CreateResponse
	UploadURL string `json:"upload_url,omitempty"`
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var req pipeline.CreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.deps.Documents.CreateDocument(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	out := createDocumentResponse{CreateResponse: resp}
	status := http.StatusOK
	if !resp.IsDuplicate {
		out.UploadURL = "/uploads/" + resp.StoragePath
		status = http.StatusCreated
	}
	writeJSON(w, status, out)
}

func (s *Server) handleTrigger(run func(ctx context.Context, docID string) (*pipeline.Outcome, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := run(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, r, s.logger, err)
			return
		}
		if out.Pending {
			writeJSON(w, http.StatusAccepted, out)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	resp, err := s.deps.Documents.DeleteDocument(r.Context(), r.URL.Query().Get("owner_id"), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type completeRunRequest struct {
	OwnerID     string   `json:"owner_id"`
	DocumentIDs []string `json:"document_ids"`
}

func (s *Server) handleCompleteRun(w http.ResponseWriter, r *http.Request) {
	var req completeRunRequest
	if !decodeBody(w, r, &req) {
		return
	}
	runID := chi.URLParam(r, "run_id")
	if req.OwnerID == "" || runID == "" {
		WriteError(w, http.StatusBadRequest, CodeValidation, "invalid request", "owner_id is required")
		return
	}
	payload := pipeline.RunPayload{
		OwnerID:     req.OwnerID,
		ImportRunID: runID,
		DocumentIDs: req.DocumentIDs,
		StartedAt:   time.Now().UTC(),
	}
	err := s.deps.Dispatcher.Dispatch(r.Context(), pipeline.TaskCompleteRun, payload, service.DispatchOptions{
		DedupKey: payload.DedupKey(),
	})
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"import_run_id": runID, "dispatched": true})
}

// handleUpload stores the request body at the path a write credential was
// signed for.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		WriteError(w, http.StatusUnauthorized, CodeUnauthorized, "missing upload credential", "send the upload_token as a Bearer token")
		return
	}
	signed, err := s.deps.Signer.Verify(token, contentstore.AccessWrite)
	switch {
	case errors.Is(err, contentstore.ErrWrongScope):
		WriteError(w, http.StatusForbidden, CodeForbidden, "credential does not allow uploads", "")
		return
	case err != nil:
		WriteError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid upload credential", "request a new upload credential")
		return
	case signed != path:
		WriteError(w, http.StatusForbidden, CodeForbidden, "credential is for another path", "")
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	size, checksum, err := s.deps.Content.Put(r.Context(), path, body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, CodeTooLarge, "upload too large", "")
			return
		}
		writeServiceError(w, r, s.logger, common.NewPipelineError(common.KindUnexpected, "upload", "", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"storage_path": path,
		"size":         size,
		"checksum":     checksum,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	if err := dec.Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, CodeValidation, "invalid request", "body must be a JSON object")
		return false
	}
	return true
}
