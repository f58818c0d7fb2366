package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/harutaka05225589-art/InvestorNews/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS revisions (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	ticker       TEXT NOT NULL,
	company_name TEXT,
	filing_date  TEXT NOT NULL,
	title        TEXT NOT NULL,
	document_url TEXT,
	state        INTEGER NOT NULL DEFAULT 0,
	fail_reason  TEXT,
	extraction   TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE(ticker, filing_date)
);

CREATE TABLE IF NOT EXISTS dispatch_log (
	id          TEXT PRIMARY KEY,
	ticker      TEXT NOT NULL,
	filing_date TEXT NOT NULL,
	channel     TEXT NOT NULL,
	delivery_id TEXT,
	outcome     TEXT NOT NULL,
	sent_at     DATETIME NOT NULL,
	UNIQUE(ticker, filing_date, channel)
);

CREATE TABLE IF NOT EXISTS run_lock (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	owner       TEXT NOT NULL,
	acquired_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_revisions_state ON revisions(state);
CREATE INDEX IF NOT EXISTS idx_revisions_ticker ON revisions(ticker);
CREATE INDEX IF NOT EXISTS idx_revisions_filing_date ON revisions(filing_date);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertCandidate(ctx context.Context, rec model.RevisionRecord) (bool, error) {
	now := time.Now().UTC()

	// Single writer by construction (run lock), so check-then-write is safe.
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM revisions WHERE ticker = ? AND filing_date = ?`,
		rec.Ticker, rec.FilingDate,
	).Scan(&id)

	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO revisions (ticker, company_name, filing_date, title, document_url, state, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.Ticker, nullable(rec.CompanyName), rec.FilingDate, rec.Title,
			nullable(rec.DocumentURL), int(model.StatePending), now, now,
		)
		if err != nil {
			return false, eris.Wrapf(err, "sqlite: insert candidate %s/%s", rec.Ticker, rec.FilingDate)
		}
		return true, nil
	case err != nil:
		return false, eris.Wrap(err, "sqlite: lookup candidate")
	}

	// Existing row: only fill empty fields, never overwrite populated ones.
	_, err = s.db.ExecContext(ctx,
		`UPDATE revisions SET
			company_name = COALESCE(NULLIF(company_name, ''), ?),
			document_url = COALESCE(NULLIF(document_url, ''), ?),
			title        = COALESCE(NULLIF(title, ''), ?),
			updated_at   = ?
		 WHERE id = ?`,
		nullable(rec.CompanyName), nullable(rec.DocumentURL), nullable(rec.Title), now, id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: refine candidate %s/%s", rec.Ticker, rec.FilingDate)
	}
	return false, nil
}

func (s *SQLiteStore) InsertBackfilled(ctx context.Context, rec model.RevisionRecord) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO revisions (ticker, company_name, filing_date, title, document_url, state, fail_reason, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?)
		 ON CONFLICT(ticker, filing_date) DO NOTHING`,
		rec.Ticker, nullable(rec.CompanyName), rec.FilingDate, rec.Title,
		nullable(rec.DocumentURL), int(model.StateBackfilled), now, now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert backfilled %s/%s", rec.Ticker, rec.FilingDate)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListPending(ctx context.Context, limit int) ([]model.RevisionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ticker, company_name, filing_date, title, document_url, state, fail_reason, extraction, created_at, updated_at
		 FROM revisions
		 WHERE state = ?
		 ORDER BY filing_date DESC, id ASC
		 LIMIT ?`,
		int(model.StatePending), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending")
	}
	defer rows.Close()
	return collectRevisions(rows)
}

func (s *SQLiteStore) Get(ctx context.Context, ticker, filingDate string) (*model.RevisionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, ticker, company_name, filing_date, title, document_url, state, fail_reason, extraction, created_at, updated_at
		 FROM revisions WHERE ticker = ? AND filing_date = ?`,
		ticker, filingDate,
	)
	rec, err := scanRevision(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get %s/%s", ticker, filingDate)
	}
	return rec, nil
}

func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]model.RevisionRecord, error) {
	query := `SELECT id, ticker, company_name, filing_date, title, document_url, state, fail_reason, extraction, created_at, updated_at
	 FROM revisions WHERE 1=1`
	var args []any

	if filter.Ticker != "" {
		query += ` AND ticker = ?`
		args = append(args, filter.Ticker)
	}
	if filter.State != nil {
		query += ` AND state = ?`
		args = append(args, int(*filter.State))
	}
	query += ` ORDER BY filing_date DESC, id ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list revisions")
	}
	defer rows.Close()
	return collectRevisions(rows)
}

func (s *SQLiteStore) Transition(ctx context.Context, ticker, filingDate string, newState model.State, ext *model.Extraction, failReason string) error {
	from := allowedFrom(newState)
	if len(from) == 0 {
		return ErrInvalidTransition
	}

	var extJSON any
	if ext != nil {
		b, err := json.Marshal(ext)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal extraction")
		}
		extJSON = string(b)
	}

	placeholders := make([]string, len(from))
	args := []any{int(newState), extJSON, nullable(failReason), time.Now().UTC(), ticker, filingDate}
	for i, st := range from {
		placeholders[i] = "?"
		args = append(args, int(st))
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE revisions SET state = ?, extraction = COALESCE(?, extraction), fail_reason = ?, updated_at = ?
		 WHERE ticker = ? AND filing_date = ? AND state IN (%s)`,
		strings.Join(placeholders, ", ")),
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition %s/%s to %s", ticker, filingDate, newState)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		if _, getErr := s.Get(ctx, ticker, filingDate); getErr != nil {
			return getErr
		}
		return ErrInvalidTransition
	}
	return nil
}

func (s *SQLiteStore) ResetToPending(ctx context.Context, ticker, filingDate string) error {
	return s.Transition(ctx, ticker, filingDate, model.StatePending, nil, "")
}

func (s *SQLiteStore) CountByState(ctx context.Context) (map[model.State]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM revisions GROUP BY state`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by state")
	}
	defer rows.Close()

	counts := make(map[model.State]int)
	for rows.Next() {
		var st, n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan count")
		}
		counts[model.State(st)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count iterate")
}

func (s *SQLiteStore) AcquireRunLock(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	stale := now.Add(-ttl)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO run_lock (id, owner, acquired_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET owner = excluded.owner, acquired_at = excluded.acquired_at
		 WHERE run_lock.acquired_at < ?`,
		owner, now, stale,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: acquire run lock")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) ReleaseRunLock(ctx context.Context, owner string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM run_lock WHERE id = 1 AND owner = ?`,
		owner,
	)
	return eris.Wrap(err, "sqlite: release run lock")
}

func (s *SQLiteStore) AlreadyDispatched(ctx context.Context, ticker, filingDate, channel string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM dispatch_log WHERE ticker = ? AND filing_date = ? AND channel = ?`,
		ticker, filingDate, channel,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "sqlite: check dispatch log")
	}
	return true, nil
}

func (s *SQLiteStore) RecordDispatch(ctx context.Context, rec model.DispatchRecord) error {
	sentAt := rec.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatch_log (id, ticker, filing_date, channel, delivery_id, outcome, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(ticker, filing_date, channel) DO NOTHING`,
		uuid.New().String(), rec.Ticker, rec.FilingDate, rec.Channel,
		nullable(rec.DeliveryID), rec.Outcome, sentAt,
	)
	return eris.Wrapf(err, "sqlite: record dispatch %s/%s/%s", rec.Ticker, rec.FilingDate, rec.Channel)
}

// helpers

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRevision(row scannable) (*model.RevisionRecord, error) {
	var (
		r           model.RevisionRecord
		companyName sql.NullString
		documentURL sql.NullString
		failReason  sql.NullString
		extraction  sql.NullString
		state       int
	)

	err := row.Scan(&r.ID, &r.Ticker, &companyName, &r.FilingDate, &r.Title,
		&documentURL, &state, &failReason, &extraction, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	r.CompanyName = companyName.String
	r.DocumentURL = documentURL.String
	r.FailReason = failReason.String
	r.State = model.State(state)
	if extraction.Valid {
		r.Extraction = &model.Extraction{}
		if err := json.Unmarshal([]byte(extraction.String), r.Extraction); err != nil {
			return nil, eris.Wrap(err, "unmarshal extraction")
		}
	}
	return &r, nil
}

func collectRevisions(rows *sql.Rows) ([]model.RevisionRecord, error) {
	var recs []model.RevisionRecord
	for rows.Next() {
		r, err := scanRevision(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan revision")
		}
		recs = append(recs, *r)
	}
	return recs, eris.Wrap(rows.Err(), "iterate revisions")
}
