// Package notify fans analyzed revisions out to the configured channels.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/harutaka05225589-art/InvestorNews/internal/model"
	"github.com/harutaka05225589-art/InvestorNews/internal/store"
)

// Channel delivers one notification message.
type Channel interface {
	Name() string
	Send(ctx context.Context, message string) (deliveryID string, err error)
}

// Dispatcher sends each analyzed revision to every channel exactly once.
// Channel failures are soft: they are logged and the other channels still
// deliver, and the failed channel is retried on the next run because no
// dispatch record was written for it.
type Dispatcher struct {
	store    store.Store
	channels []Channel
}

// NewDispatcher creates a Dispatcher over the given channels.
func NewDispatcher(st store.Store, channels []Channel) *Dispatcher {
	return &Dispatcher{store: st, channels: channels}
}

// Dispatch delivers the notification for one record to all channels
// concurrently, skipping channels that already delivered it. Returns the
// number of successful sends.
func (d *Dispatcher) Dispatch(ctx context.Context, rec model.RevisionRecord) (int, error) {
	if rec.Extraction == nil {
		return 0, eris.Errorf("notify: record %s/%s has no extraction", rec.Ticker, rec.FilingDate)
	}
	message := BuildMessage(rec)

	var (
		mu   sync.Mutex
		sent int
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range d.channels {
		g.Go(func() error {
			done, err := d.store.AlreadyDispatched(gctx, rec.Ticker, rec.FilingDate, ch.Name())
			if err != nil {
				return eris.Wrapf(err, "notify: dispatch log lookup %s", ch.Name())
			}
			if done {
				zap.L().Debug("notification already delivered",
					zap.String("ticker", rec.Ticker),
					zap.String("channel", ch.Name()),
				)
				return nil
			}

			deliveryID, err := ch.Send(gctx, message)
			if err != nil {
				zap.L().Warn("channel delivery failed",
					zap.String("ticker", rec.Ticker),
					zap.String("channel", ch.Name()),
					zap.Error(err),
				)
				return nil
			}

			if err := d.store.RecordDispatch(gctx, model.DispatchRecord{
				Ticker:     rec.Ticker,
				FilingDate: rec.FilingDate,
				Channel:    ch.Name(),
				DeliveryID: deliveryID,
				Outcome:    model.DispatchOutcomeSent,
				SentAt:     time.Now().UTC(),
			}); err != nil {
				return eris.Wrapf(err, "notify: record dispatch %s", ch.Name())
			}

			mu.Lock()
			sent++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return sent, err
	}
	return sent, nil
}

// BuildMessage renders the notification text for one analyzed revision.
func BuildMessage(rec model.RevisionRecord) string {
	ext := rec.Extraction

	var sb strings.Builder
	fmt.Fprintf(&sb, "【上方修正】%s %s\n", rec.Ticker, rec.CompanyName)
	fmt.Fprintf(&sb, "修正率: %+.1f%%", ext.RevisionRatePercent)
	if ext.Quarter != "" {
		fmt.Fprintf(&sb, "（%s）", ext.Quarter)
	}
	sb.WriteString("\n")
	if ext.Summary != "" {
		sb.WriteString(ext.Summary + "\n")
	}
	if ext.Dividend != nil && ext.Dividend.IsHike {
		fmt.Fprintf(&sb, "増配: 年間%.1f円\n", ext.Dividend.AnnualForecast)
	}
	sb.WriteString(rec.FilingDate)
	return sb.String()
}
