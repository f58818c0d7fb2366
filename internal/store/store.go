// Package store persists revision records and the dispatch log.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/harutaka05225589-art/InvestorNews/internal/model"
)

// ErrNotFound is returned when a record key does not exist.
var ErrNotFound = eris.New("store: record not found")

// ErrInvalidTransition is returned when a state change is requested from a
// state that does not reach the target state.
var ErrInvalidTransition = eris.New("store: invalid state transition")

// transitionsInto lists, per target state, the states a record may move from.
// Pending is reachable only through an operator reset of a backfilled or
// failed record; nothing moves out of Analyzed.
var transitionsInto = map[model.State][]model.State{
	model.StateAnalyzed: {model.StatePending},
	model.StateFailed:   {model.StatePending},
	model.StatePending:  {model.StateBackfilled, model.StateFailed},
}

// ListFilter specifies criteria for listing revision records.
type ListFilter struct {
	Ticker string       `json:"ticker,omitempty"`
	State  *model.State `json:"state,omitempty"`
	Limit  int          `json:"limit,omitempty"`
}

// Store defines the persistence interface for the revision pipeline.
// Pipeline code never deletes rows.
type Store interface {
	// UpsertCandidate inserts the record if its (ticker, filing_date) key is
	// new, returning true. An existing row only has its empty fields filled;
	// populated fields are never overwritten.
	UpsertCandidate(ctx context.Context, rec model.RevisionRecord) (bool, error)

	// InsertBackfilled inserts a historical record directly in the
	// Backfilled state; an existing key is a no-op returning false.
	InsertBackfilled(ctx context.Context, rec model.RevisionRecord) (bool, error)

	// ListPending returns up to limit Pending records ordered by filing date
	// descending, then insertion order.
	ListPending(ctx context.Context, limit int) ([]model.RevisionRecord, error)

	// Get returns the record for the key, or ErrNotFound.
	Get(ctx context.Context, ticker, filingDate string) (*model.RevisionRecord, error)

	// List returns records matching the filter, newest filing first.
	List(ctx context.Context, filter ListFilter) ([]model.RevisionRecord, error)

	// Transition atomically moves the record to newState, storing the
	// extraction payload (Analyzed) or failure reason (Failed). Returns
	// ErrInvalidTransition when the record is not in a state from which
	// newState is reachable.
	Transition(ctx context.Context, ticker, filingDate string, newState model.State, ext *model.Extraction, failReason string) error

	// ResetToPending is the operator-only edge from Backfilled or Failed
	// back to Pending.
	ResetToPending(ctx context.Context, ticker, filingDate string) error

	// CountByState returns the number of records per lifecycle state.
	CountByState(ctx context.Context) (map[model.State]int, error)

	// AcquireRunLock takes the single advisory run lock, returning false if
	// another owner holds a lock younger than ttl.
	AcquireRunLock(ctx context.Context, owner string, ttl time.Duration) (bool, error)

	// ReleaseRunLock releases the lock if held by owner.
	ReleaseRunLock(ctx context.Context, owner string) error

	// AlreadyDispatched reports whether a notification for the key was
	// already delivered on the channel.
	AlreadyDispatched(ctx context.Context, ticker, filingDate, channel string) (bool, error)

	// RecordDispatch stores one delivery outcome.
	RecordDispatch(ctx context.Context, rec model.DispatchRecord) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// allowedFrom returns the source states permitted for a transition into target.
func allowedFrom(target model.State) []model.State {
	return transitionsInto[target]
}
