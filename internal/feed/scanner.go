// Package feed scans the TDnet daily disclosure listing for forecast-revision
// candidates.
package feed

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harutaka05225589-art/InvestorNews/internal/fetcher"
	"github.com/harutaka05225589-art/InvestorNews/internal/model"
	"github.com/harutaka05225589-art/InvestorNews/internal/store"
)

// ErrListingUnavailable is returned when no listing page exists for the
// requested date (weekend, holiday, or a date outside the site's window).
var ErrListingUnavailable = eris.New("feed: listing unavailable")

// listingPage is the filename pattern of the daily disclosure index.
const listingPage = "I_list_001_%s.html"

// Scanner fetches daily listings and filters them down to revision candidates.
type Scanner struct {
	fetcher  *fetcher.HTTPFetcher
	store    store.Store
	baseURL  string
	keywords []string
}

// NewScanner creates a Scanner. Keywords select candidate titles; a title
// matching any keyword qualifies.
func NewScanner(f *fetcher.HTTPFetcher, st store.Store, baseURL string, keywords []string) *Scanner {
	return &Scanner{
		fetcher:  f,
		store:    st,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		keywords: keywords,
	}
}

// ListingURL returns the listing page URL for the given day.
func (s *Scanner) ListingURL(day time.Time) string {
	return fmt.Sprintf("%s/"+listingPage, s.baseURL, day.Format("20060102"))
}

// Candidates fetches the listing for the given day and returns the rows whose
// title matches a configured keyword. A missing page maps to
// ErrListingUnavailable so callers can tell holidays from real failures.
func (s *Scanner) Candidates(ctx context.Context, day time.Time) ([]model.RevisionRecord, error) {
	pageURL := s.ListingURL(day)

	body, err := s.fetcher.Get(ctx, pageURL)
	if err != nil {
		if eris.Is(err, fetcher.ErrNotFound) {
			return nil, eris.Wrapf(ErrListingUnavailable, "%s", day.Format(model.DateFormat))
		}
		return nil, eris.Wrapf(err, "feed: fetch listing %s", pageURL)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "feed: parse listing")
	}

	filingDate := day.Format(model.DateFormat)
	var candidates []model.RevisionRecord
	seen := map[string]struct{}{}

	doc.Find("table tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 4 {
			return
		}

		code := strings.TrimSpace(cells.Eq(1).Text())
		name := strings.TrimSpace(cells.Eq(2).Text())
		titleCell := cells.Eq(3)
		title := strings.TrimSpace(titleCell.Text())

		if !s.matchesKeyword(title) {
			return
		}
		ticker := tickerFromCode(code)
		if ticker == "" {
			return
		}
		// One record per ticker per day; later rows on the same day are dropped.
		if _, dup := seen[ticker]; dup {
			return
		}
		seen[ticker] = struct{}{}

		docURL := ""
		if href, ok := titleCell.Find("a").First().Attr("href"); ok {
			docURL = s.resolveURL(href)
		}

		candidates = append(candidates, model.RevisionRecord{
			Ticker:      ticker,
			CompanyName: name,
			FilingDate:  filingDate,
			Title:       title,
			DocumentURL: docURL,
		})
	})

	return candidates, nil
}

// ScanDate fetches one day's listing and upserts its candidates as Pending.
// Returns the number of newly inserted records.
func (s *Scanner) ScanDate(ctx context.Context, day time.Time) (int, error) {
	candidates, err := s.Candidates(ctx, day)
	if err != nil {
		return 0, err
	}

	inserted := 0
	for _, rec := range candidates {
		isNew, err := s.store.UpsertCandidate(ctx, rec)
		if err != nil {
			return inserted, eris.Wrapf(err, "feed: upsert %s/%s", rec.Ticker, rec.FilingDate)
		}
		if isNew {
			inserted++
		}
	}

	zap.L().Info("scanned disclosure listing",
		zap.String("date", day.Format(model.DateFormat)),
		zap.Int("candidates", len(candidates)),
		zap.Int("inserted", inserted),
	)
	return inserted, nil
}

func (s *Scanner) matchesKeyword(title string) bool {
	for _, kw := range s.keywords {
		if kw != "" && strings.Contains(title, kw) {
			return true
		}
	}
	return false
}

func (s *Scanner) resolveURL(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return s.baseURL + "/" + strings.TrimPrefix(href, "/")
}

// tickerFromCode extracts the 4-digit ticker from the listing's 5-character
// security code. Shorter codes are returned as-is; blanks are rejected.
func tickerFromCode(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	if runes := []rune(code); len(runes) >= 5 {
		return string(runes[:4])
	}
	return code
}
