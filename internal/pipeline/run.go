package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harutaka05225589-art/InvestorNews/internal/extract"
	"github.com/harutaka05225589-art/InvestorNews/internal/feed"
	"github.com/harutaka05225589-art/InvestorNews/internal/model"
	"github.com/harutaka05225589-art/InvestorNews/internal/store"
)

// FeedScanner upserts one day's candidates. *feed.Scanner implements it.
type FeedScanner interface {
	ScanDate(ctx context.Context, day time.Time) (int, error)
}

// BatchProcessor analyzes pending records. *extract.Orchestrator implements it.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context) (*extract.Summary, error)
}

// NotifyDispatcher delivers one analyzed record. *notify.Dispatcher implements it.
type NotifyDispatcher interface {
	Dispatch(ctx context.Context, rec model.RevisionRecord) (int, error)
}

// Runner executes the full scan → extract → gate → notify cycle.
type Runner struct {
	store      store.Store
	scanner    FeedScanner
	processor  BatchProcessor
	dispatcher NotifyDispatcher
	gate       Thresholds
	scanDays   int
	lockTTL    time.Duration
}

// NewRunner wires one pipeline run.
func NewRunner(st store.Store, scanner FeedScanner, processor BatchProcessor, dispatcher NotifyDispatcher, gate Thresholds, scanDays int, lockTTL time.Duration) *Runner {
	if scanDays <= 0 {
		scanDays = 1
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Minute
	}
	return &Runner{
		store:      st,
		scanner:    scanner,
		processor:  processor,
		dispatcher: dispatcher,
		gate:       gate,
		scanDays:   scanDays,
		lockTTL:    lockTTL,
	}
}

// RunOnce performs one complete cycle as of the given day. A second runner
// starting while the advisory lock is held becomes a logged no-op. Analyzed
// records that pass the materiality gate are dispatched even when the batch
// aborted on quota.
func (r *Runner) RunOnce(ctx context.Context, now time.Time) error {
	owner := uuid.New().String()

	acquired, err := r.store.AcquireRunLock(ctx, owner, r.lockTTL)
	if err != nil {
		return eris.Wrap(err, "pipeline: acquire run lock")
	}
	if !acquired {
		zap.L().Info("another run in progress, skipping")
		return nil
	}
	defer func() {
		if err := r.store.ReleaseRunLock(context.WithoutCancel(ctx), owner); err != nil {
			zap.L().Warn("release run lock failed", zap.Error(err))
		}
	}()

	for i := 0; i < r.scanDays; i++ {
		day := now.AddDate(0, 0, -i)
		if _, err := r.scanner.ScanDate(ctx, day); err != nil {
			if eris.Is(err, feed.ErrListingUnavailable) {
				zap.L().Debug("no listing for date",
					zap.String("date", day.Format(model.DateFormat)))
				continue
			}
			// A failed scan day does not block extraction of earlier finds.
			zap.L().Error("listing scan failed",
				zap.String("date", day.Format(model.DateFormat)),
				zap.Error(err),
			)
		}
	}

	summary, err := r.processor.ProcessBatch(ctx)
	if err != nil {
		return eris.Wrap(err, "pipeline: process batch")
	}

	notified := 0
	for _, rec := range summary.Analyzed {
		if !r.gate.ShouldNotify(rec.Extraction) {
			continue
		}
		sent, err := r.dispatcher.Dispatch(ctx, rec)
		if err != nil {
			zap.L().Error("dispatch failed",
				zap.String("ticker", rec.Ticker),
				zap.Error(err),
			)
			continue
		}
		notified += sent
	}

	zap.L().Info("run complete",
		zap.Int("processed", summary.Processed),
		zap.Int("analyzed", len(summary.Analyzed)),
		zap.Int("failed", summary.Failed),
		zap.Int("notified", notified),
		zap.Bool("quota_abort", summary.QuotaAbort),
	)
	return nil
}
