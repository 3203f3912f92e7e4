package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/contentstore"
	"github.com/Veraticus/ledger-intake/internal/model"
	"github.com/Veraticus/ledger-intake/internal/pipeline"
	"github.com/Veraticus/ledger-intake/internal/ratelimit"
	"github.com/Veraticus/ledger-intake/internal/service"
)

type fakeDocuments struct {
	createErr error
	deleteErr error
	created   pipeline.CreateRequest
	resp      pipeline.CreateResponse
}

func (f *fakeDocuments) CreateDocument(_ context.Context, req pipeline.CreateRequest) (pipeline.CreateResponse, error) {
	f.created = req
	return f.resp, f.createErr
}

func (f *fakeDocuments) DeleteDocument(_ context.Context, ownerID, docID string) (pipeline.DeleteResponse, error) {
	if f.deleteErr != nil {
		return pipeline.DeleteResponse{}, f.deleteErr
	}
	return pipeline.DeleteResponse{DocumentID: docID, Status: model.StatusDiscarded, TransactionsDeleted: 3}, nil
}

type fakeProcessor struct {
	err  error
	out  *pipeline.Outcome
	last string
	id   string
}

func (f *fakeProcessor) run(name string) func(context.Context, string) (*pipeline.Outcome, error) {
	return func(_ context.Context, id string) (*pipeline.Outcome, error) {
		f.last, f.id = name, id
		return f.out, f.err
	}
}

func (f *fakeProcessor) Extract(ctx context.Context, id string) (*pipeline.Outcome, error) {
	return f.run("extract")(ctx, id)
}

func (f *fakeProcessor) ParseTabular(ctx context.Context, id string) (*pipeline.Outcome, error) {
	return f.run("parse_tabular")(ctx, id)
}

func (f *fakeProcessor) Finalize(ctx context.Context, id string) (*pipeline.Outcome, error) {
	return f.run("finalize")(ctx, id)
}

type fakeDispatcher struct {
	kind    string
	payload any
	opts    service.DispatchOptions
}

func (f *fakeDispatcher) Dispatch(_ context.Context, kind string, payload any, opts service.DispatchOptions) error {
	f.kind, f.payload, f.opts = kind, payload, opts
	return nil
}

type testServer struct {
	handler    http.Handler
	docs       *fakeDocuments
	proc       *fakeProcessor
	dispatcher *fakeDispatcher
	files      *contentstore.FileStore
	signer     *contentstore.Signer
}

func newTestServer(t *testing.T, cfg Config, limiter ratelimit.Limiter) *testServer {
	t.Helper()
	files, err := contentstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	signer, err := contentstore.NewSigner([]byte("0123456789abcdef0123456789abcdef"), time.Minute)
	require.NoError(t, err)

	ts := &testServer{
		docs:       &fakeDocuments{},
		proc:       &fakeProcessor{out: &pipeline.Outcome{DocumentID: "doc-1", Status: model.StatusPending, PIITypes: []string{}}},
		dispatcher: &fakeDispatcher{},
		files:      files,
		signer:     signer,
	}
	srv := New(cfg, Deps{
		Documents:  ts.docs,
		Processor:  ts.proc,
		Content:    files,
		Signer:     signer,
		Dispatcher: ts.dispatcher,
		Limiter:    limiter,
	}, nil)
	ts.handler = srv.Routes()
	return ts
}

func (ts *testServer) do(method, target string, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestCreateDocument(t *testing.T) {
	ts := newTestServer(t, Config{}, nil)
	ts.docs.resp = pipeline.CreateResponse{DocumentID: "doc-1", StoragePath: "ab/owner/doc-1/doc-1.pdf", UploadToken: "tok"}

	rec := ts.do(http.MethodPost, "/documents",
		`{"owner_id":"owner","filename":"a.pdf","mime_type":"application/pdf","source":"upload","expected_size":10}`, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "doc-1", body["document_id"])
	assert.Equal(t, "/uploads/ab/owner/doc-1/doc-1.pdf", body["upload_url"])
	assert.Equal(t, false, body["is_duplicate"])
	assert.Equal(t, int64(10), ts.docs.created.ExpectedSize)
}

func TestCreateDocument_Duplicate(t *testing.T) {
	ts := newTestServer(t, Config{}, nil)
	ts.docs.resp = pipeline.CreateResponse{DocumentID: "doc-1", IsDuplicate: true}

	rec := ts.do(http.MethodPost, "/documents", `{"owner_id":"o","filename":"a.pdf","mime_type":"application/pdf"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["is_duplicate"])
	assert.NotContains(t, body, "upload_url")
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", common.Validation("create", "owner_id is required"), http.StatusBadRequest, CodeValidation},
		{"not found", common.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{"blocked", common.NewPipelineError(common.KindGuardrailBlocked, "gate", "blocked", errors.New("x")), http.StatusUnprocessableEntity, CodeBlocked},
		{"extraction", common.NewPipelineError(common.KindExtractionFailure, "extract", "bad pdf", errors.New("x")), http.StatusUnprocessableEntity, CodeExtraction},
		{"unexpected", errors.New("database is locked"), http.StatusInternalServerError, CodeInternal},
		{"store busy", common.NewPipelineError(common.KindUnexpected, "normalize", "", fmt.Errorf("%w: database is locked", common.ErrStoreBusy)), http.StatusServiceUnavailable, CodeUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, Config{}, nil)
			ts.proc.err = tt.err

			rec := ts.do(http.MethodPost, "/documents/doc-1/extract", "", nil)
			assert.Equal(t, tt.status, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, tt.code, body["code"])
			assert.NotEmpty(t, body["error"])
			assert.NotContains(t, rec.Body.String(), "database is locked")
		})
	}
}

func TestCreateDocument_BadBody(t *testing.T) {
	ts := newTestServer(t, Config{}, nil)
	rec := ts.do(http.MethodPost, "/documents", `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeValidation, decode(t, rec)["code"])
}

func TestTriggers(t *testing.T) {
	for path, name := range map[string]string{
		"/documents/doc-9/extract":       "extract",
		"/documents/doc-9/parse-tabular": "parse_tabular",
		"/documents/doc-9/finalize":      "finalize",
	} {
		t.Run(name, func(t *testing.T) {
			ts := newTestServer(t, Config{}, nil)
			rec := ts.do(http.MethodPost, path, "", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, name, ts.proc.last)
			assert.Equal(t, "doc-9", ts.proc.id)
			assert.Equal(t, false, decode(t, rec)["pending"])
		})
	}
}

func TestTrigger_PendingIs202(t *testing.T) {
	ts := newTestServer(t, Config{}, nil)
	ts.proc.out = &pipeline.Outcome{DocumentID: "doc-1", Pending: true, Hint: "upload not found yet, retry shortly"}

	rec := ts.do(http.MethodPost, "/documents/doc-1/extract", "", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["pending"])
	assert.Equal(t, "upload not found yet, retry shortly", body["hint"])
}

func TestDeleteDocument(t *testing.T) {
	ts := newTestServer(t, Config{}, nil)
	rec := ts.do(http.MethodDelete, "/documents/doc-1?owner_id=o", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "discarded", body["status"])
	assert.InDelta(t, 3, body["transactions_deleted"], 0)
}

func TestCompleteRun(t *testing.T) {
	ts := newTestServer(t, Config{}, nil)
	rec := ts.do(http.MethodPost, "/runs/run-1/complete", `{"owner_id":"o","document_ids":["a","b"]}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	assert.Equal(t, pipeline.TaskCompleteRun, ts.dispatcher.kind)
	payload, ok := ts.dispatcher.payload.(pipeline.RunPayload)
	require.True(t, ok)
	assert.Equal(t, "run-1", payload.ImportRunID)
	assert.Equal(t, []string{"a", "b"}, payload.DocumentIDs)
	assert.Equal(t, payload.DedupKey(), ts.dispatcher.opts.DedupKey)
	first := ts.dispatcher.opts.DedupKey

	rec = ts.do(http.MethodPost, "/runs/run-1/complete", `{"owner_id":"o","document_ids":["b","a","c"]}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.NotEqual(t, first, ts.dispatcher.opts.DedupKey, "a wider document set is not folded into the first request")

	rec = ts.do(http.MethodPost, "/runs/run-1/complete", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload(t *testing.T) {
	ts := newTestServer(t, Config{MaxUploadBytes: 16}, nil)
	path := contentstore.DocumentPath("owner", "doc-1", "csv")
	write, err := ts.signer.Sign(path, contentstore.AccessWrite)
	require.NoError(t, err)
	read, err := ts.signer.Sign(path, contentstore.AccessRead)
	require.NoError(t, err)
	other, err := ts.signer.Sign(contentstore.DocumentPath("owner", "doc-2", "csv"), contentstore.AccessWrite)
	require.NoError(t, err)

	t.Run("missing token", func(t *testing.T) {
		rec := ts.do(http.MethodPut, "/uploads/"+path, "a,b", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
	t.Run("read token", func(t *testing.T) {
		rec := ts.do(http.MethodPut, "/uploads/"+path, "a,b", map[string]string{"Authorization": "Bearer " + read.Token})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
	t.Run("other path", func(t *testing.T) {
		rec := ts.do(http.MethodPut, "/uploads/"+path, "a,b", map[string]string{"Authorization": "Bearer " + other.Token})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
	t.Run("too large", func(t *testing.T) {
		rec := ts.do(http.MethodPut, "/uploads/"+path, strings.Repeat("x", 64), map[string]string{"Authorization": "Bearer " + write.Token})
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
	t.Run("stored", func(t *testing.T) {
		rec := ts.do(http.MethodPut, "/uploads/"+path, "a,b", map[string]string{"Authorization": "Bearer " + write.Token})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.InDelta(t, 3, decode(t, rec)["size"], 0)

		rc, err := ts.files.Open(context.Background(), path)
		require.NoError(t, err)
		defer func() { _ = rc.Close() }()
		var buf bytes.Buffer
		_, err = buf.ReadFrom(rc)
		require.NoError(t, err)
		assert.Equal(t, "a,b", buf.String())
	})
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, Config{RateLimit: 2, RateWindow: time.Minute}, ratelimit.NewMemoryLimiter(0, nil))
	hdr := map[string]string{"X-Owner-ID": "owner-a"}

	for i := 0; i < 2; i++ {
		rec := ts.do(http.MethodPost, "/documents/doc-1/extract", "", hdr)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := ts.do(http.MethodPost, "/documents/doc-1/extract", "", hdr)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, CodeRateLimited, decode(t, rec)["code"])
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Another owner has its own window.
	rec = ts.do(http.MethodPost, "/documents/doc-1/extract", "", map[string]string{"X-Owner-ID": "owner-b"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health checks are not limited.
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/healthz", "", hdr).Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, Config{}, nil)
	ts.do(http.MethodGet, "/healthz", "", nil)
	rec := ts.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "intake_http_requests_total")
}

func TestOwnerKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x?owner_id=q", nil)
	assert.Equal(t, "q", ownerKey(r))
	r.Header.Set("X-Owner-ID", "h")
	assert.Equal(t, "h", ownerKey(r))
	r = httptest.NewRequest(http.MethodGet, "/x", nil)
	assert.Equal(t, "192.0.2.1", ownerKey(r))
}
