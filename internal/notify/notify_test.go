package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harutaka05225589-art/InvestorNews/internal/model"
	"github.com/harutaka05225589-art/InvestorNews/internal/store"
)

type stubChannel struct {
	name  string
	err   error
	calls atomic.Int64
}

func (s *stubChannel) Name() string { return s.name }

func (s *stubChannel) Send(ctx context.Context, message string) (string, error) {
	s.calls.Add(1)
	if s.err != nil {
		return "", s.err
	}
	return "delivery-" + s.name, nil
}

func newDispatchStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "notify.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func analyzedRecord() model.RevisionRecord {
	up := true
	return model.RevisionRecord{
		Ticker:      "1234",
		CompanyName: "テスト株式会社",
		FilingDate:  "2026-01-10",
		State:       model.StateAnalyzed,
		Extraction: &model.Extraction{
			IsUpward:            &up,
			RevisionRatePercent: 12.5,
			Summary:             "営業利益を上方修正",
			Quarter:             "FY2026Q3",
		},
	}
}

func TestDispatch_SendsOncePerChannel(t *testing.T) {
	st := newDispatchStore(t)
	line := &stubChannel{name: "line"}
	x := &stubChannel{name: "x"}
	d := NewDispatcher(st, []Channel{line, x})

	sent, err := d.Dispatch(context.Background(), analyzedRecord())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	// A retried run delivers nothing new.
	sent, err = d.Dispatch(context.Background(), analyzedRecord())
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Equal(t, int64(1), line.calls.Load())
	assert.Equal(t, int64(1), x.calls.Load())
}

func TestDispatch_SoftFailureRetriesOnlyFailedChannel(t *testing.T) {
	st := newDispatchStore(t)
	line := &stubChannel{name: "line"}
	x := &stubChannel{name: "x", err: errors.New("api down")}
	d := NewDispatcher(st, []Channel{line, x})

	sent, err := d.Dispatch(context.Background(), analyzedRecord())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	// Next run: the delivered channel is skipped, the failed one retried.
	x.err = nil
	sent, err = d.Dispatch(context.Background(), analyzedRecord())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, int64(1), line.calls.Load())
	assert.Equal(t, int64(2), x.calls.Load())
}

func TestDispatch_RequiresExtraction(t *testing.T) {
	st := newDispatchStore(t)
	d := NewDispatcher(st, []Channel{&stubChannel{name: "line"}})

	rec := analyzedRecord()
	rec.Extraction = nil
	_, err := d.Dispatch(context.Background(), rec)
	assert.Error(t, err)
}

func TestBuildMessage(t *testing.T) {
	rec := analyzedRecord()
	rec.Extraction.Dividend = &model.Dividend{AnnualForecast: 52.5, IsHike: true}

	msg := BuildMessage(rec)
	assert.Contains(t, msg, "【上方修正】1234 テスト株式会社")
	assert.Contains(t, msg, "修正率: +12.5%（FY2026Q3）")
	assert.Contains(t, msg, "営業利益を上方修正")
	assert.Contains(t, msg, "増配: 年間52.5円")
	assert.Contains(t, msg, "2026-01-10")
}

func TestLineChannel_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/bot/message/broadcast", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		w.Header().Set("X-Line-Request-Id", "req-abc")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	id, err := NewLineChannel("token-1", srv.URL).Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "req-abc", id)
}

func TestXChannel_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2/tweets", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"190123","text":"hello"}}`))
	}))
	defer srv.Close()

	id, err := NewXChannel("token-2", srv.URL).Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "190123", id)
}

func TestWebhookChannel_SendRejectsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewWebhookChannel(srv.URL).Send(context.Background(), "hello")
	assert.Error(t, err)
}
