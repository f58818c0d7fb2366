package extract

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harutaka05225589-art/InvestorNews/internal/fetcher"
	"github.com/harutaka05225589-art/InvestorNews/internal/model"
	"github.com/harutaka05225589-art/InvestorNews/internal/resilience"
	"github.com/harutaka05225589-art/InvestorNews/internal/store"
	"github.com/harutaka05225589-art/InvestorNews/pkg/anthropic"
)

type fakeTextExtractor struct {
	text string
	err  error
}

func (f *fakeTextExtractor) ExtractText(ctx context.Context, path string) (string, error) {
	return f.text, f.err
}

func newBatchStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "extract.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newPDFServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("%PDF-1.7\nfiling body"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func seedPending(t *testing.T, st store.Store, ticker, docURL string) {
	t.Helper()
	_, err := st.UpsertCandidate(context.Background(), model.RevisionRecord{
		Ticker:      ticker,
		CompanyName: "テスト株式会社",
		FilingDate:  "2026-01-10",
		Title:       "業績予想の修正に関するお知らせ",
		DocumentURL: docURL,
	})
	require.NoError(t, err)
}

func newOrchestrator(st store.Store, client *fakeClient, models []string) *Orchestrator {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{RequestsPerSecond: 1000})
	chain := NewChain(client, models, 0)
	prompts := NewPromptBuilder("", 30)
	return NewOrchestrator(st, f, &fakeTextExtractor{text: "開示本文"}, chain, prompts, Options{
		BatchLimit:      5,
		MaxSummaryRunes: 30,
	})
}

const validResponse = "```json\n" +
	`{"is_upward": true, "revision_rate_op": 12.5, "summary": "営業利益を上方修正", "quarter": "FY2026Q3"}` +
	"\n```"

func TestProcessBatch_AnalyzesRecord(t *testing.T) {
	st := newBatchStore(t)
	srv := newPDFServer(t)
	seedPending(t, st, "1234", srv.URL+"/doc.pdf")

	client := &fakeClient{handlers: map[string]func() (*anthropic.MessageResponse, error){}}
	client.handlers["model-a"] = func() (*anthropic.MessageResponse, error) { return textResponse(validResponse) }

	o := newOrchestrator(st, client, []string{"model-a"})
	summary, err := o.ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	require.Len(t, summary.Analyzed, 1)
	assert.Equal(t, 12.5, summary.Analyzed[0].Extraction.RevisionRatePercent)

	rec, err := st.Get(context.Background(), "1234", "2026-01-10")
	require.NoError(t, err)
	assert.Equal(t, model.StateAnalyzed, rec.State)
}

func TestProcessBatch_NoDocumentURLFails(t *testing.T) {
	st := newBatchStore(t)
	seedPending(t, st, "1234", "")

	client := &fakeClient{handlers: map[string]func() (*anthropic.MessageResponse, error){}}
	o := newOrchestrator(st, client, []string{"model-a"})

	summary, err := o.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	rec, err := st.Get(context.Background(), "1234", "2026-01-10")
	require.NoError(t, err)
	assert.Equal(t, model.StateFailed, rec.State)
	assert.Equal(t, "no document url", rec.FailReason)
	assert.Empty(t, client.calls)
}

func TestProcessBatch_SchemaFailureMovesToFailed(t *testing.T) {
	st := newBatchStore(t)
	srv := newPDFServer(t)
	seedPending(t, st, "1234", srv.URL+"/doc.pdf")

	client := &fakeClient{handlers: map[string]func() (*anthropic.MessageResponse, error){}}
	client.handlers["model-a"] = func() (*anthropic.MessageResponse, error) {
		return textResponse("要約だけで、JSONはありません。")
	}

	o := newOrchestrator(st, client, []string{"model-a"})
	summary, err := o.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	rec, err := st.Get(context.Background(), "1234", "2026-01-10")
	require.NoError(t, err)
	assert.Equal(t, model.StateFailed, rec.State)
	assert.Equal(t, "schema validation failed", rec.FailReason)
}

func TestProcessBatch_QuotaAbortPreservesPending(t *testing.T) {
	st := newBatchStore(t)
	srv := newPDFServer(t)
	seedPending(t, st, "1111", srv.URL+"/a.pdf")
	seedPending(t, st, "2222", srv.URL+"/b.pdf")
	seedPending(t, st, "3333", srv.URL+"/c.pdf")

	calls := 0
	client := &fakeClient{handlers: map[string]func() (*anthropic.MessageResponse, error){}}
	client.handlers["model-a"] = func() (*anthropic.MessageResponse, error) {
		calls++
		if calls == 1 {
			return textResponse(validResponse)
		}
		return nil, &resilience.QuotaError{Model: "model-a", Err: errors.New("429")}
	}

	o := newOrchestrator(st, client, []string{"model-a"})
	summary, err := o.ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.QuotaAbort)
	assert.Len(t, summary.Analyzed, 1)

	// Remaining records stay Pending for the next run.
	counts, err := st.CountByState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.StateAnalyzed])
	assert.Equal(t, 2, counts[model.StatePending])
	assert.Zero(t, counts[model.StateFailed])
}

func TestProcessBatch_DownloadFailureStaysPending(t *testing.T) {
	st := newBatchStore(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	seedPending(t, st, "1234", srv.URL+"/doc.pdf")

	client := &fakeClient{handlers: map[string]func() (*anthropic.MessageResponse, error){}}
	o := newOrchestrator(st, client, []string{"model-a"})

	summary, err := o.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)

	rec, err := st.Get(context.Background(), "1234", "2026-01-10")
	require.NoError(t, err)
	assert.Equal(t, model.StatePending, rec.State)
}
