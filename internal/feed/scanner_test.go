package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harutaka05225589-art/InvestorNews/internal/fetcher"
	"github.com/harutaka05225589-art/InvestorNews/internal/store"
)

const listingFixture = `<html><body>
<table>
<tr><th>時刻</th><th>コード</th><th>会社名</th><th>表題</th></tr>
<tr>
  <td>15:00</td><td>12340</td><td>テスト株式会社</td>
  <td><a href="140120260110512345.pdf">通期業績予想の修正に関するお知らせ</a></td>
</tr>
<tr>
  <td>15:05</td><td>56780</td><td>別の会社</td>
  <td><a href="140120260110567890.pdf">剰余金の配当に関するお知らせ</a></td>
</tr>
<tr>
  <td>15:10</td><td>99990</td><td>差異の会社</td>
  <td><a href="140120260110999900.pdf">業績予想値と実績値との差異に関するお知らせ</a></td>
</tr>
<tr>
  <td>15:20</td><td>12340</td><td>テスト株式会社</td>
  <td><a href="140120260110512399.pdf">業績予想の修正（再訂正）に関するお知らせ</a></td>
</tr>
</table>
</body></html>`

func newTestScanner(t *testing.T, baseURL string) (*Scanner, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "feed.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{RequestsPerSecond: 1000})
	return NewScanner(f, st, baseURL, []string{"業績予想の修正", "差異"}), st
}

func TestCandidates_KeywordFilterAndTicker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/I_list_001_20260110.html", r.URL.Path)
		_, _ = w.Write([]byte(listingFixture))
	}))
	defer srv.Close()

	s, _ := newTestScanner(t, srv.URL)
	day := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	candidates, err := s.Candidates(context.Background(), day)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Equal(t, "1234", candidates[0].Ticker)
	assert.Equal(t, "テスト株式会社", candidates[0].CompanyName)
	assert.Equal(t, "2026-01-10", candidates[0].FilingDate)
	assert.Equal(t, srv.URL+"/140120260110512345.pdf", candidates[0].DocumentURL)

	// The dividend-only row is filtered out, the 差異 row kept.
	assert.Equal(t, "9999", candidates[1].Ticker)
}

func TestCandidates_ListingUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s, _ := newTestScanner(t, srv.URL)
	_, err := s.Candidates(context.Background(), time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrListingUnavailable)
}

func TestScanDate_IdempotentAcrossRuns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(listingFixture))
	}))
	defer srv.Close()

	s, st := newTestScanner(t, srv.URL)
	day := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	inserted, err := s.ScanDate(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// A second scan of the same listing inserts nothing.
	inserted, err = s.ScanDate(context.Background(), day)
	require.NoError(t, err)
	assert.Zero(t, inserted)

	pending, err := st.ListPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestTickerFromCode(t *testing.T) {
	assert.Equal(t, "1234", tickerFromCode("12340"))
	assert.Equal(t, "7203", tickerFromCode(" 72030 "))
	assert.Equal(t, "130A", tickerFromCode("130A0"))
	assert.Equal(t, "9984", tickerFromCode("9984"))
	assert.Empty(t, tickerFromCode("  "))
}
