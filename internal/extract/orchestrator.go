package extract

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/harutaka05225589-art/InvestorNews/internal/fetcher"
	"github.com/harutaka05225589-art/InvestorNews/internal/model"
	"github.com/harutaka05225589-art/InvestorNews/internal/resilience"
	"github.com/harutaka05225589-art/InvestorNews/internal/store"
	"github.com/harutaka05225589-art/InvestorNews/pkg/anthropic"
)

// Options tunes one extraction batch.
type Options struct {
	BatchLimit      int
	MaxTokens       int64
	Temperature     float64
	MaxSummaryRunes int

	// Pacing is the minimum interval between model invocations.
	Pacing time.Duration

	// DownloadTimeout bounds a single document download.
	DownloadTimeout time.Duration
}

// Summary reports the outcome of one extraction batch.
type Summary struct {
	Processed  int
	Failed     int
	Skipped    int
	QuotaAbort bool
	Analyzed   []model.RevisionRecord
}

// TextExtractor produces plain text from a downloaded document.
// *ocr.PdfToText is the production implementation.
type TextExtractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// Orchestrator drains Pending records through download, text extraction and
// the model chain, moving each to Analyzed or Failed.
type Orchestrator struct {
	store   store.Store
	fetcher *fetcher.HTTPFetcher
	pdf     TextExtractor
	chain   *Chain
	prompts *PromptBuilder
	opts    Options
	limiter *rate.Limiter
}

// NewOrchestrator wires the extraction pipeline.
func NewOrchestrator(st store.Store, f *fetcher.HTTPFetcher, pdf TextExtractor, chain *Chain, prompts *PromptBuilder, opts Options) *Orchestrator {
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 5
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 15 * time.Second
	}

	var limiter *rate.Limiter
	if opts.Pacing > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.Pacing), 1)
	}
	return &Orchestrator{
		store:   st,
		fetcher: f,
		pdf:     pdf,
		chain:   chain,
		prompts: prompts,
		opts:    opts,
		limiter: limiter,
	}
}

// ProcessBatch analyzes up to BatchLimit pending records. A quota error stops
// the batch; already-analyzed records are kept and the remainder stays
// Pending for the next run.
func (o *Orchestrator) ProcessBatch(ctx context.Context) (*Summary, error) {
	pending, err := o.store.ListPending(ctx, o.opts.BatchLimit)
	if err != nil {
		return nil, eris.Wrap(err, "extract: list pending")
	}

	summary := &Summary{}
	for _, rec := range pending {
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				return summary, eris.Wrap(err, "extract: pacing wait")
			}
		}

		analyzed, err := o.processOne(ctx, rec)
		summary.Processed++
		switch {
		case err == nil && analyzed != nil:
			summary.Analyzed = append(summary.Analyzed, *analyzed)
		case err == nil:
			summary.Skipped++
		case resilience.IsQuota(err):
			zap.L().Warn("quota exhausted, aborting batch",
				zap.String("ticker", rec.Ticker),
				zap.Int("analyzed", len(summary.Analyzed)),
			)
			summary.QuotaAbort = true
			return summary, nil
		default:
			summary.Failed++
			zap.L().Error("extraction failed",
				zap.String("ticker", rec.Ticker),
				zap.String("filing_date", rec.FilingDate),
				zap.Error(err),
			)
		}
	}
	return summary, nil
}

// processOne runs the full extraction for a single record. It returns the
// analyzed record, or (nil, nil) when the record was skipped and left
// Pending, or an error after the record moved to Failed. Quota errors are
// returned without touching the record.
func (o *Orchestrator) processOne(ctx context.Context, rec model.RevisionRecord) (*model.RevisionRecord, error) {
	if rec.DocumentURL == "" {
		return nil, o.fail(ctx, rec, "no document url")
	}

	dlCtx, cancel := context.WithTimeout(ctx, o.opts.DownloadTimeout)
	pdfPath, err := o.fetcher.DownloadPDF(dlCtx, rec.DocumentURL)
	cancel()
	if err != nil {
		if resilience.IsTransient(err) || eris.Is(err, context.DeadlineExceeded) {
			// Leave Pending so the next run retries the download.
			zap.L().Warn("document download failed, will retry next run",
				zap.String("ticker", rec.Ticker),
				zap.Error(err),
			)
			return nil, nil
		}
		return nil, o.fail(ctx, rec, "document unavailable")
	}
	defer os.Remove(pdfPath) //nolint:errcheck

	text, err := o.pdf.ExtractText(ctx, pdfPath)
	if err != nil {
		return nil, o.fail(ctx, rec, "text extraction failed")
	}

	temp := o.opts.Temperature
	resp, usedModel, err := o.chain.Invoke(ctx, messageRequest(o.prompts, rec, text, o.opts.MaxTokens, &temp))
	if err != nil {
		if resilience.IsQuota(err) {
			return nil, err
		}
		return nil, o.fail(ctx, rec, "model invocation failed")
	}
	resp.Usage.LogCost(usedModel, "extract")

	ext, err := ParseExtraction(resp.Text(), o.opts.MaxSummaryRunes)
	if err != nil {
		zap.L().Warn("response failed schema validation",
			zap.String("ticker", rec.Ticker),
			zap.String("model", usedModel),
			zap.Error(err),
		)
		return nil, o.fail(ctx, rec, "schema validation failed")
	}

	if err := o.store.Transition(ctx, rec.Ticker, rec.FilingDate, model.StateAnalyzed, ext, ""); err != nil {
		return nil, eris.Wrapf(err, "extract: mark analyzed %s/%s", rec.Ticker, rec.FilingDate)
	}

	zap.L().Info("record analyzed",
		zap.String("ticker", rec.Ticker),
		zap.String("filing_date", rec.FilingDate),
		zap.String("model", usedModel),
		zap.Float64("revision_rate", ext.RevisionRatePercent),
	)

	rec.State = model.StateAnalyzed
	rec.Extraction = ext
	return &rec, nil
}

// fail moves the record to Failed with the given reason, then reports the
// reason as the processing error.
func (o *Orchestrator) fail(ctx context.Context, rec model.RevisionRecord, reason string) error {
	if err := o.store.Transition(ctx, rec.Ticker, rec.FilingDate, model.StateFailed, nil, reason); err != nil {
		return eris.Wrapf(err, "extract: mark failed %s/%s", rec.Ticker, rec.FilingDate)
	}
	return eris.New(reason)
}

func messageRequest(prompts *PromptBuilder, rec model.RevisionRecord, text string, maxTokens int64, temp *float64) anthropic.MessageRequest {
	return anthropic.MessageRequest{
		MaxTokens:   maxTokens,
		System:      prompts.System(),
		Temperature: temp,
		Messages: []anthropic.Message{
			{Role: "user", Content: prompts.Build(rec.CompanyName, rec.Title, text)},
		},
	}
}
