// Package fetcher downloads disclosure listings and filing documents.
package fetcher

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/harutaka05225589-art/InvestorNews/internal/resilience"
)

// ErrNotFound is returned when the server answers 404 for the requested URL.
var ErrNotFound = eris.New("fetcher: not found")

// pdfMagic is the leading byte signature of a PDF file.
var pdfMagic = []byte("%PDF")

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration

	// RequestsPerSecond throttles outgoing requests so scans stay polite
	// toward the disclosure site. Zero means 1 rps.
	RequestsPerSecond float64
}

// HTTPFetcher downloads pages and documents with a shared rate limiter.
type HTTPFetcher struct {
	client  *http.Client
	opts    HTTPOptions
	limiter *rate.Limiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "investornews/1.0"
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (f *HTTPFetcher) get(ctx context.Context, rawURL string) (*http.Response, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(err, 0)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, eris.Wrapf(ErrNotFound, "%s", rawURL)
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		_ = resp.Body.Close()
		return nil, resilience.NewTransientError(
			eris.Errorf("http %d from %s", resp.StatusCode, rawURL), resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		_ = resp.Body.Close()
		return nil, eris.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	return resp, nil
}

// Get fetches the URL and returns the whole response body.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "read body"), 0)
	}
	return body, nil
}

// DownloadPDF fetches a filing document to a temp file and returns its path.
// The caller removes the file when done. A body that does not start with the
// PDF signature is rejected so HTML error pages never reach text extraction.
func (f *HTTPFetcher) DownloadPDF(ctx context.Context, rawURL string) (string, error) {
	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() //nolint:errcheck

	file, err := os.CreateTemp("", "filing-*.pdf")
	if err != nil {
		return "", eris.Wrap(err, "create temp file")
	}

	head := make([]byte, len(pdfMagic))
	if _, err := io.ReadFull(resp.Body, head); err != nil || !bytes.Equal(head, pdfMagic) {
		_ = file.Close()
		_ = os.Remove(file.Name())
		return "", eris.Errorf("not a pdf document: %s", rawURL)
	}

	n, err := io.Copy(file, io.MultiReader(bytes.NewReader(head), resp.Body))
	if closeErr := file.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(file.Name())
		return "", resilience.NewTransientError(eris.Wrap(err, "write pdf"), 0)
	}

	zap.L().Debug("downloaded filing document",
		zap.String("url", rawURL),
		zap.String("path", filepath.Base(file.Name())),
		zap.Int64("bytes", n),
	)
	return file.Name(), nil
}
