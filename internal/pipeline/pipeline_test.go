package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/ledger-intake/internal/categorize"
	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/contentstore"
	"github.com/Veraticus/ledger-intake/internal/extract"
	"github.com/Veraticus/ledger-intake/internal/guardrail"
	"github.com/Veraticus/ledger-intake/internal/model"
	"github.com/Veraticus/ledger-intake/internal/notify"
	"github.com/Veraticus/ledger-intake/internal/parser"
	"github.com/Veraticus/ledger-intake/internal/queue"
	"github.com/Veraticus/ledger-intake/internal/service"
	"github.com/Veraticus/ledger-intake/internal/storage"
	"github.com/Veraticus/ledger-intake/internal/testutil"
	"github.com/Veraticus/ledger-intake/internal/verify"
)

const (
	owner = "owner-1"

	sobeysScan = "Everyday Banking\nFor the period ending September 30, 2025\n" +
		"Customer jane.doe@example.com\n" +
		"Sep 17\nDebit Card Purchase, SOBEYS HOLLICK KENYON\n76.09\n1,519.47"

	cardCSV = "Date,Description,Amount\n2025-01-03,SAFEWAY #1234,-20.00\n2025-01-04,NETFLIX.COM,-15.99\n"

	// 20250920120000 passes the Luhn check.
	chequingOFX = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20250930120000[0:GMT]
<LANGUAGE>ENG
</SONRS>
</SIGNONMSGSRSV1>
<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>CAD
<BANKACCTFROM>
<BANKID>003
<ACCTID>5550001
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20250901120000[0:GMT]
<DTEND>20250930120000[0:GMT]
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20250920120000[0:GMT]
<TRNAMT>-76.09
<FITID>SEP20A
<NAME>INTERAC PURCHASE SOBEYS #852
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>1443.38
<DTASOF>20250930120000[0:GMT]
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>
`
)

type visionStub struct {
	err  error
	text string
}

func (v *visionStub) Name() string { return "google_vision" }

func (v *visionStub) ExtractText(context.Context, []byte, string) (string, error) {
	return v.text, v.err
}

type fixture struct {
	ctx      context.Context
	store    *storage.SQLiteStorage
	files    *contentstore.FileStore
	signer   *contentstore.Signer
	worker   *queue.Worker
	vision   *visionStub
	gateway  *Gateway
	pipeline *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.SetupTestDB(t)
	files, err := contentstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	signer, err := contentstore.NewSigner([]byte("0123456789abcdef0123456789abcdef"), time.Minute)
	require.NoError(t, err)

	vision := &visionStub{text: sobeysScan}
	extractor := extract.NewService(contentstore.NewReader(files, signer), extract.Config{
		Vision: vision,
		Retry:  service.RetryOptions{MaxAttempts: 1},
	}, nil)
	q := queue.NewSQLiteQueue(store, time.Minute, nil)

	p := New(Deps{
		Documents:   store,
		Txns:        store,
		Content:     files,
		Signer:      signer,
		Extractor:   extractor,
		Gate:        guardrail.NewGate(nil, guardrail.NewKeywordModerator(nil), store, nil, nil),
		Parser:      parser.NewDetector(parser.NewCascade(nil, nil)),
		Categorizer: categorize.NewEngine(categorize.Config{}, nil, categorize.NewLearnedTier(store, 0, nil), categorize.MustDefaultRuleTier()),
		Verifier:    verify.NewVerifier(store, files, nil),
		Notifier:    notify.NewNotifier(store, nil),
		Dispatcher:  q,
	}, Config{DefaultCurrency: "CAD"}, nil)

	w := queue.NewWorker(q, queue.WorkerConfig{RetryDelay: time.Nanosecond, MaxAttempts: 2}, nil)
	p.Register(w)

	return &fixture{
		ctx:      context.Background(),
		store:    store,
		files:    files,
		signer:   signer,
		worker:   w,
		vision:   vision,
		gateway:  NewGateway(store, files, signer, store, nil),
		pipeline: p,
	}
}

// upload declares a document and stores content at its path.
func (f *fixture) upload(t *testing.T, req CreateRequest, content []byte) CreateResponse {
	t.Helper()
	if req.OwnerID == "" {
		req.OwnerID = owner
	}
	if req.ExpectedSize == 0 {
		req.ExpectedSize = int64(len(content))
	}
	resp, err := f.gateway.CreateDocument(f.ctx, req)
	require.NoError(t, err)
	_, _, err = f.files.Put(f.ctx, resp.StoragePath, bytes.NewReader(content))
	require.NoError(t, err)
	return resp
}

func (f *fixture) document(t *testing.T, id string) *model.Document {
	t.Helper()
	doc, err := f.store.GetDocument(f.ctx, id)
	require.NoError(t, err)
	return doc
}

func TestGateway_CreateDocument(t *testing.T) {
	f := newFixture(t)

	resp, err := f.gateway.CreateDocument(f.ctx, CreateRequest{
		OwnerID:  owner,
		Filename: "receipt.JPG",
		MimeType: "image/jpeg",
	})
	require.NoError(t, err)
	assert.False(t, resp.IsDuplicate)
	assert.Equal(t, contentstore.DocumentPath(owner, resp.DocumentID, "jpg"), resp.StoragePath)
	assert.True(t, resp.ExpiresAt.After(time.Now()))

	path, err := f.signer.Verify(resp.UploadToken, contentstore.AccessWrite)
	require.NoError(t, err)
	assert.Equal(t, resp.StoragePath, path)
	_, err = f.signer.Verify(resp.UploadToken, contentstore.AccessRead)
	assert.ErrorIs(t, err, contentstore.ErrWrongScope)

	doc := f.document(t, resp.DocumentID)
	assert.Equal(t, model.StatusPending, doc.Status)
	assert.Equal(t, model.SourceUpload, doc.Source)
}

func TestGateway_CreateDocumentValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"missing owner", CreateRequest{Filename: "a.pdf", MimeType: "application/pdf"}},
		{"missing filename", CreateRequest{OwnerID: owner, MimeType: "application/pdf"}},
		{"missing mime type", CreateRequest{OwnerID: owner, Filename: "a.pdf"}},
		{"negative size", CreateRequest{OwnerID: owner, Filename: "a.pdf", MimeType: "application/pdf", ExpectedSize: -1}},
		{"unknown source", CreateRequest{OwnerID: owner, Filename: "a.pdf", MimeType: "application/pdf", Source: "fax"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.gateway.CreateDocument(f.ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, common.KindValidation, common.KindOf(err))
		})
	}
}

func TestGateway_CreateDocumentDuplicateHash(t *testing.T) {
	f := newFixture(t)
	req := CreateRequest{OwnerID: owner, Filename: "a.pdf", MimeType: "application/pdf", ContentHash: "ABC123"}

	first, err := f.gateway.CreateDocument(f.ctx, req)
	require.NoError(t, err)
	second, err := f.gateway.CreateDocument(f.ctx, req)
	require.NoError(t, err)

	assert.True(t, second.IsDuplicate)
	assert.Equal(t, first.DocumentID, second.DocumentID)
	assert.Empty(t, second.UploadToken)
}

func TestPipeline_ExtractPendingUntilUploadComplete(t *testing.T) {
	f := newFixture(t)
	resp, err := f.gateway.CreateDocument(f.ctx, CreateRequest{
		OwnerID: owner, Filename: "scan.png", MimeType: "image/png", ExpectedSize: 1000,
	})
	require.NoError(t, err)

	out, err := f.pipeline.Extract(f.ctx, resp.DocumentID)
	require.NoError(t, err)
	assert.True(t, out.Pending)
	assert.Contains(t, out.Hint, "not found")

	_, _, err = f.files.Put(f.ctx, resp.StoragePath, bytes.NewReader(make([]byte, 900)))
	require.NoError(t, err)
	out, err = f.pipeline.Extract(f.ctx, resp.DocumentID)
	require.NoError(t, err)
	assert.True(t, out.Pending)
	assert.Contains(t, out.Hint, "900 of 1000")

	_, _, err = f.files.Put(f.ctx, resp.StoragePath, bytes.NewReader(make([]byte, 990)))
	require.NoError(t, err)
	out, err = f.pipeline.Extract(f.ctx, resp.DocumentID)
	require.NoError(t, err)
	assert.False(t, out.Pending)
	assert.Equal(t, "google_vision", out.Provider)
}

func TestPipeline_ImageRunEndToEnd(t *testing.T) {
	f := newFixture(t)
	resp := f.upload(t, CreateRequest{Filename: "statement.png", MimeType: "image/png", ImportRunID: "run-1"}, []byte("png bytes"))

	out, err := f.pipeline.Finalize(f.ctx, resp.DocumentID)
	require.NoError(t, err)
	assert.False(t, out.Pending)
	assert.Equal(t, []string{guardrail.PIIEmail}, out.PIITypes)

	doc := f.document(t, resp.DocumentID)
	assert.NotContains(t, doc.RedactedText, "jane.doe@example.com")
	assert.Contains(t, doc.RedactedText, "SOBEYS")

	rc, err := f.files.Open(f.ctx, contentstore.OCRPath(owner, resp.DocumentID))
	require.NoError(t, err)
	raw, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	var sidecar map[string]any
	require.NoError(t, json.Unmarshal(raw, &sidecar))
	assert.ElementsMatch(t, []string{"redacted_text", "pii_types", "provider", "extracted_at"}, keys(sidecar))
	assert.NotContains(t, string(raw), "jane.doe@example.com")

	// normalize, then complete_run
	n, err := f.worker.Drain(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	doc = f.document(t, resp.DocumentID)
	assert.Equal(t, model.StatusReady, doc.Status)

	txs, err := f.store.ListTransactionsByDocuments(f.ctx, []string{resp.DocumentID})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "2025-09-17", txs[0].DateString())
	assert.True(t, strings.HasPrefix(txs[0].Merchant, "SOBEYS"))
	assert.Equal(t, "76.09", txs[0].Amount.StringFixed(2))
	assert.Equal(t, "Groceries", txs[0].Category)
	assert.Equal(t, "CAD", txs[0].Currency)

	ev, err := f.store.GetCompletionEvent(f.ctx, owner, model.EventImportCompleted, "run-1")
	require.NoError(t, err)
	assert.True(t, ev.Verification.Verified)
	assert.Equal(t, 1, ev.Summary.TransactionCount)
	assert.Equal(t, 1, ev.Summary.DocumentCount)
	assert.NotNil(t, ev.AnnouncedAt)

	msgs, err := f.store.ListMessages(f.ctx, owner)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.MessageID("run-1"), msgs[0].ClientMessageID)
}

func TestPipeline_GuardrailBlockRejects(t *testing.T) {
	f := newFixture(t)
	f.vision.text = "there is a bomb threat at the store"
	resp := f.upload(t, CreateRequest{Filename: "x.png", MimeType: "image/png"}, []byte("img"))

	out, err := f.pipeline.Extract(f.ctx, resp.DocumentID)
	require.Error(t, err)
	assert.Equal(t, common.KindGuardrailBlocked, common.KindOf(err))
	assert.Equal(t, model.StatusRejected, out.Status)
	assert.Contains(t, out.Reasons, guardrail.ReasonModerationBlock)

	doc := f.document(t, resp.DocumentID)
	assert.Equal(t, model.StatusRejected, doc.Status)
	assert.Empty(t, doc.RedactedText)
	_, exists, err := f.files.Stat(f.ctx, contentstore.OCRPath(owner, resp.DocumentID))
	require.NoError(t, err)
	assert.False(t, exists)

	count, err := f.store.CountTasks(f.ctx, model.TaskPending)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPipeline_ExtractionFailureRejects(t *testing.T) {
	f := newFixture(t)
	resp := f.upload(t, CreateRequest{Filename: "broken.pdf", MimeType: "application/pdf"}, []byte("not a pdf"))

	_, err := f.pipeline.Extract(f.ctx, resp.DocumentID)
	require.Error(t, err)
	assert.Equal(t, common.KindExtractionFailure, common.KindOf(err))

	doc := f.document(t, resp.DocumentID)
	assert.Equal(t, model.StatusRejected, doc.Status)
	assert.NotEmpty(t, doc.RejectionReason)

	// A settled document is not processed again.
	out, err := f.pipeline.Extract(f.ctx, resp.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, out.Status)
}

func TestPipeline_ExtractDeduplicatesContent(t *testing.T) {
	f := newFixture(t)
	first := f.upload(t, CreateRequest{Filename: "a.png", MimeType: "image/png"}, []byte("same bytes"))
	second := f.upload(t, CreateRequest{Filename: "b.png", MimeType: "image/png"}, []byte("same bytes"))

	_, err := f.pipeline.Extract(f.ctx, first.DocumentID)
	require.NoError(t, err)
	out, err := f.pipeline.Extract(f.ctx, second.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, first.DocumentID, out.DuplicateOf)
	assert.Equal(t, model.StatusRejected, f.document(t, second.DocumentID).Status)
}

func TestPipeline_TabularNormalizeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	resp := f.upload(t, CreateRequest{Filename: "card.csv", MimeType: "text/csv"}, []byte(cardCSV))

	out, err := f.pipeline.Finalize(f.ctx, resp.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "csv", out.Provider)

	first, err := f.pipeline.Normalize(f.ctx, resp.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, model.KindBank, first.Kind)
	assert.Equal(t, 2, first.Transactions)
	assert.Equal(t, 2, first.Created)

	second, err := f.pipeline.Normalize(f.ctx, resp.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Transactions)
	assert.Zero(t, second.Created)

	txs, err := f.store.ListTransactionsByDocuments(f.ctx, []string{resp.DocumentID})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	categories := []string{txs[0].Category, txs[1].Category}
	assert.ElementsMatch(t, []string{"Groceries", "Entertainment"}, categories)
	for _, tx := range txs {
		assert.Equal(t, model.SourceCSV, tx.Source)
		assert.True(t, tx.Amount.IsPositive())
	}
	assert.Equal(t, model.StatusReady, f.document(t, resp.DocumentID).Status)
}

func TestPipeline_OFXRunEndToEnd(t *testing.T) {
	f := newFixture(t)
	resp := f.upload(t, CreateRequest{Filename: "bank.ofx", MimeType: "application/x-ofx"}, []byte(chequingOFX))

	out, err := f.pipeline.Finalize(f.ctx, resp.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "ofx", out.Provider)
	assert.NotContains(t, out.PIITypes, guardrail.PIICard)

	doc := f.document(t, resp.DocumentID)
	assert.Contains(t, doc.RedactedText, "<DTPOSTED>20250920120000[0:GMT]")

	n, err := f.worker.Drain(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	doc = f.document(t, resp.DocumentID)
	assert.Equal(t, model.StatusReady, doc.Status)
	assert.Empty(t, doc.RejectionReason)

	txs, err := f.store.ListTransactionsByDocuments(f.ctx, []string{resp.DocumentID})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "2025-09-20", txs[0].DateString())
	assert.Equal(t, "76.09", txs[0].Amount.StringFixed(2))
	assert.Equal(t, "Groceries", txs[0].Category)
}

func TestPipeline_UnreadableImageNeedsManualReview(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		text   string
		status model.DocumentStatus
		reason string
	}{
		{name: "provider fails", err: errors.New("vision unavailable"), status: model.StatusRejected, reason: ReasonManualReview},
		{name: "provider returns nothing", text: "  ", status: model.StatusRejected, reason: ReasonManualReview},
		{name: "provider reads text", text: sobeysScan, status: model.StatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.vision.err, f.vision.text = tt.err, tt.text
			resp := f.upload(t, CreateRequest{Filename: "receipt.png", MimeType: "image/png", ImportRunID: "run-ocr"}, []byte("png"))

			out, err := f.pipeline.Extract(f.ctx, resp.DocumentID)
			doc := f.document(t, resp.DocumentID)
			assert.Equal(t, tt.status, doc.Status)
			assert.Equal(t, tt.reason, doc.RejectionReason)
			if tt.reason == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, common.KindExtractionFailure, common.KindOf(err))
			assert.ErrorIs(t, err, common.ErrNoText)
			assert.Equal(t, model.StatusRejected, out.Status)
			assert.Empty(t, doc.RedactedText)

			count, err := f.store.CountTasks(f.ctx, model.TaskPending)
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	}
}

func TestPipeline_FinalizeRejectsUnsupported(t *testing.T) {
	f := newFixture(t)
	resp := f.upload(t, CreateRequest{Filename: "archive.zip", MimeType: "application/zip"}, []byte("PK"))

	_, err := f.pipeline.Finalize(f.ctx, resp.DocumentID)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrUnsupportedType)
	assert.Equal(t, "unsupported file type", f.document(t, resp.DocumentID).RejectionReason)
}

func TestPipeline_UnknownDocument(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline.Extract(f.ctx, "missing")
	assert.Equal(t, common.KindNotFound, common.KindOf(err))
	_, err = f.pipeline.Normalize(f.ctx, "")
	assert.Equal(t, common.KindValidation, common.KindOf(err))
}

func TestPipeline_CompleteRunDefersPendingDocuments(t *testing.T) {
	f := newFixture(t)
	f.upload(t, CreateRequest{Filename: "a.png", MimeType: "image/png", ImportRunID: "run-2"}, []byte("a"))

	res, err := f.pipeline.CompleteRun(f.ctx, RunPayload{OwnerID: owner, ImportRunID: "run-2"})
	require.NoError(t, err)
	assert.True(t, res.Deferred)

	count, err := f.store.CountTasks(f.ctx, model.TaskPending)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	_, err = f.store.GetCompletionEvent(f.ctx, owner, model.EventImportCompleted, "run-2")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestPipeline_CompleteRunGivesUpWaiting(t *testing.T) {
	f := newFixture(t)
	resp := f.upload(t, CreateRequest{Filename: "a.png", MimeType: "image/png", ImportRunID: "run-3"}, []byte("a"))

	res, err := f.pipeline.CompleteRun(f.ctx, RunPayload{
		OwnerID:     owner,
		ImportRunID: "run-3",
		StartedAt:   time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	assert.False(t, res.Deferred)
	assert.True(t, res.Recorded)
	assert.False(t, res.Verification.Verified)
	assert.Contains(t, res.Verification.Warnings, resp.DocumentID+": "+verify.ReasonPending)
}

func TestPipeline_CompleteRunValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline.CompleteRun(f.ctx, RunPayload{OwnerID: owner})
	assert.Equal(t, common.KindValidation, common.KindOf(err))
}

func TestGateway_DeleteDocument(t *testing.T) {
	f := newFixture(t)
	resp := f.upload(t, CreateRequest{Filename: "card.csv", MimeType: "text/csv"}, []byte(cardCSV))
	_, err := f.pipeline.Finalize(f.ctx, resp.DocumentID)
	require.NoError(t, err)
	_, err = f.pipeline.Normalize(f.ctx, resp.DocumentID)
	require.NoError(t, err)

	_, err = f.gateway.DeleteDocument(f.ctx, "someone-else", resp.DocumentID)
	assert.Equal(t, common.KindNotFound, common.KindOf(err))

	del, err := f.gateway.DeleteDocument(f.ctx, owner, resp.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, 2, del.TransactionsDeleted)
	assert.Equal(t, model.StatusDiscarded, del.Status)

	for _, path := range []string{resp.StoragePath, contentstore.OCRPath(owner, resp.DocumentID)} {
		_, exists, err := f.files.Stat(f.ctx, path)
		require.NoError(t, err)
		assert.False(t, exists, path)
	}
	txs, err := f.store.ListTransactionsByDocuments(f.ctx, []string{resp.DocumentID})
	require.NoError(t, err)
	assert.Empty(t, txs)

	audit, err := f.store.ListAudit(f.ctx, owner)
	require.NoError(t, err)
	require.NotEmpty(t, audit)
	last := audit[len(audit)-1]
	assert.Equal(t, "delete", last.Action)
	assert.Equal(t, resp.DocumentID, last.DocumentID)

	_, err = f.pipeline.Normalize(f.ctx, resp.DocumentID)
	assert.Equal(t, common.KindNotFound, common.KindOf(err))
}

func TestImportRunID(t *testing.T) {
	at := time.Date(2025, 9, 17, 10, 30, 15, 0, time.UTC)
	a := ImportRunID([]string{"b", "a"}, at)
	assert.Equal(t, a, ImportRunID([]string{"a", "b"}, at.Add(20*time.Second)))
	assert.NotEqual(t, a, ImportRunID([]string{"a", "b"}, at.Add(time.Minute)))
	assert.NotEqual(t, a, ImportRunID([]string{"a"}, at))
	assert.Len(t, a, 32)
}

func TestRunPayload_DedupKey(t *testing.T) {
	base := RunPayload{OwnerID: owner, ImportRunID: "run-9"}
	tests := []struct {
		name string
		a, b []string
		same bool
	}{
		{name: "whole run", same: true},
		{name: "order and repeats ignored", a: []string{"d1", "d2"}, b: []string{"d2", "d1", "d2"}, same: true},
		{name: "extra document", a: []string{"d1"}, b: []string{"d1", "d2"}},
		{name: "explicit set differs from whole run", a: []string{"d1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := base, base
			a.DocumentIDs, b.DocumentIDs = tt.a, tt.b
			assert.Equal(t, tt.same, a.DedupKey() == b.DedupKey())
			assert.True(t, strings.HasPrefix(a.DedupKey(), "complete_run:owner-1:run-9"))
		})
	}
}

func TestPipeline_CompletionRequestsKeepTheirDocuments(t *testing.T) {
	f := newFixture(t)
	run := RunPayload{OwnerID: owner, ImportRunID: "run-5", DocumentIDs: []string{"d1"}}
	f.pipeline.dispatchCompleteRun(f.ctx, run, time.Hour)
	f.pipeline.dispatchCompleteRun(f.ctx, run, time.Hour)
	run.DocumentIDs = []string{"d1", "d2"}
	f.pipeline.dispatchCompleteRun(f.ctx, run, time.Hour)

	count, err := f.store.CountTasks(f.ctx, model.TaskPending)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestTaskError(t *testing.T) {
	assert.NoError(t, taskError(nil))
	assert.True(t, common.IsPermanent(taskError(common.Validation("op", "bad"))))
	assert.True(t, common.IsPermanent(taskError(common.ErrNotFound)))
	assert.False(t, common.IsPermanent(taskError(errors.New("database is locked"))))
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
