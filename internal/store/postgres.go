package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/harutaka05225589-art/InvestorNews/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses, narrowed so tests can
// substitute a mock pool.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS revisions (
	id           BIGSERIAL PRIMARY KEY,
	ticker       TEXT NOT NULL,
	company_name TEXT,
	filing_date  TEXT NOT NULL,
	title        TEXT NOT NULL,
	document_url TEXT,
	state        INTEGER NOT NULL DEFAULT 0,
	fail_reason  TEXT,
	extraction   JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(ticker, filing_date)
);

CREATE TABLE IF NOT EXISTS dispatch_log (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	ticker      TEXT NOT NULL,
	filing_date TEXT NOT NULL,
	channel     TEXT NOT NULL,
	delivery_id TEXT,
	outcome     TEXT NOT NULL,
	sent_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(ticker, filing_date, channel)
);

CREATE TABLE IF NOT EXISTS run_lock (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	owner       TEXT NOT NULL,
	acquired_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_revisions_state ON revisions(state);
CREATE INDEX IF NOT EXISTS idx_revisions_ticker ON revisions(ticker);
CREATE INDEX IF NOT EXISTS idx_revisions_filing_date ON revisions(filing_date);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) UpsertCandidate(ctx context.Context, rec model.RevisionRecord) (bool, error) {
	now := time.Now().UTC()

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO revisions (ticker, company_name, filing_date, title, document_url, state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (ticker, filing_date) DO NOTHING`,
		rec.Ticker, textOrNil(rec.CompanyName), rec.FilingDate, rec.Title,
		textOrNil(rec.DocumentURL), int(model.StatePending), now, now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert candidate %s/%s", rec.Ticker, rec.FilingDate)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// Existing row: only fill empty fields, never overwrite populated ones.
	_, err = s.pool.Exec(ctx,
		`UPDATE revisions SET
			company_name = COALESCE(NULLIF(company_name, ''), $1),
			document_url = COALESCE(NULLIF(document_url, ''), $2),
			title        = COALESCE(NULLIF(title, ''), $3),
			updated_at   = $4
		 WHERE ticker = $5 AND filing_date = $6`,
		textOrNil(rec.CompanyName), textOrNil(rec.DocumentURL), textOrNil(rec.Title),
		now, rec.Ticker, rec.FilingDate,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: refine candidate %s/%s", rec.Ticker, rec.FilingDate)
	}
	return false, nil
}

func (s *PostgresStore) InsertBackfilled(ctx context.Context, rec model.RevisionRecord) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO revisions (ticker, company_name, filing_date, title, document_url, state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (ticker, filing_date) DO NOTHING`,
		rec.Ticker, textOrNil(rec.CompanyName), rec.FilingDate, rec.Title,
		textOrNil(rec.DocumentURL), int(model.StateBackfilled), now, now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert backfilled %s/%s", rec.Ticker, rec.FilingDate)
	}
	return tag.RowsAffected() > 0, nil
}

const revisionColumns = `id, ticker, company_name, filing_date, title, document_url, state, fail_reason, extraction, created_at, updated_at`

func (s *PostgresStore) ListPending(ctx context.Context, limit int) ([]model.RevisionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+revisionColumns+` FROM revisions
		 WHERE state = $1
		 ORDER BY filing_date DESC, id ASC
		 LIMIT $2`,
		int(model.StatePending), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending")
	}
	defer rows.Close()
	return collectPgRevisions(rows)
}

func (s *PostgresStore) Get(ctx context.Context, ticker, filingDate string) (*model.RevisionRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+revisionColumns+` FROM revisions WHERE ticker = $1 AND filing_date = $2`,
		ticker, filingDate,
	)
	rec, err := scanPgRevision(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get %s/%s", ticker, filingDate)
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]model.RevisionRecord, error) {
	query := `SELECT ` + revisionColumns + ` FROM revisions WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Ticker != "" {
		query += fmt.Sprintf(` AND ticker = $%d`, argIdx)
		args = append(args, filter.Ticker)
		argIdx++
	}
	if filter.State != nil {
		query += fmt.Sprintf(` AND state = $%d`, argIdx)
		args = append(args, int(*filter.State))
		argIdx++
	}
	query += ` ORDER BY filing_date DESC, id ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list revisions")
	}
	defer rows.Close()
	return collectPgRevisions(rows)
}

func (s *PostgresStore) Transition(ctx context.Context, ticker, filingDate string, newState model.State, ext *model.Extraction, failReason string) error {
	from := allowedFrom(newState)
	if len(from) == 0 {
		return ErrInvalidTransition
	}

	var extJSON []byte
	if ext != nil {
		b, err := json.Marshal(ext)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal extraction")
		}
		extJSON = b
	}

	placeholders := make([]string, len(from))
	args := []any{int(newState), extJSON, textOrNil(failReason), time.Now().UTC(), ticker, filingDate}
	for i, st := range from {
		placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
		args = append(args, int(st))
	}

	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE revisions SET state = $1, extraction = COALESCE($2, extraction), fail_reason = $3, updated_at = $4
		 WHERE ticker = $5 AND filing_date = $6 AND state IN (%s)`,
		strings.Join(placeholders, ", ")),
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition %s/%s to %s", ticker, filingDate, newState)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.Get(ctx, ticker, filingDate); getErr != nil {
			return getErr
		}
		return ErrInvalidTransition
	}
	return nil
}

func (s *PostgresStore) ResetToPending(ctx context.Context, ticker, filingDate string) error {
	return s.Transition(ctx, ticker, filingDate, model.StatePending, nil, "")
}

func (s *PostgresStore) CountByState(ctx context.Context) (map[model.State]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT state, COUNT(*) FROM revisions GROUP BY state`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by state")
	}
	defer rows.Close()

	counts := make(map[model.State]int)
	for rows.Next() {
		var st, n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan count")
		}
		counts[model.State(st)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count iterate")
}

func (s *PostgresStore) AcquireRunLock(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO run_lock (id, owner, acquired_at) VALUES (1, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET owner = excluded.owner, acquired_at = excluded.acquired_at
		 WHERE run_lock.acquired_at < $3`,
		owner, now, now.Add(-ttl),
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: acquire run lock")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ReleaseRunLock(ctx context.Context, owner string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM run_lock WHERE id = 1 AND owner = $1`,
		owner,
	)
	return eris.Wrap(err, "postgres: release run lock")
}

func (s *PostgresStore) AlreadyDispatched(ctx context.Context, ticker, filingDate, channel string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM dispatch_log WHERE ticker = $1 AND filing_date = $2 AND channel = $3`,
		ticker, filingDate, channel,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "postgres: check dispatch log")
	}
	return true, nil
}

func (s *PostgresStore) RecordDispatch(ctx context.Context, rec model.DispatchRecord) error {
	sentAt := rec.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dispatch_log (id, ticker, filing_date, channel, delivery_id, outcome, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (ticker, filing_date, channel) DO NOTHING`,
		uuid.New().String(), rec.Ticker, rec.FilingDate, rec.Channel,
		textOrNil(rec.DeliveryID), rec.Outcome, sentAt,
	)
	return eris.Wrapf(err, "postgres: record dispatch %s/%s/%s", rec.Ticker, rec.FilingDate, rec.Channel)
}

func textOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanPgRevision(row pgx.Row) (*model.RevisionRecord, error) {
	var (
		r           model.RevisionRecord
		companyName *string
		documentURL *string
		failReason  *string
		extraction  []byte
		state       int
	)

	err := row.Scan(&r.ID, &r.Ticker, &companyName, &r.FilingDate, &r.Title,
		&documentURL, &state, &failReason, &extraction, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if companyName != nil {
		r.CompanyName = *companyName
	}
	if documentURL != nil {
		r.DocumentURL = *documentURL
	}
	if failReason != nil {
		r.FailReason = *failReason
	}
	r.State = model.State(state)
	if len(extraction) > 0 {
		r.Extraction = &model.Extraction{}
		if err := json.Unmarshal(extraction, r.Extraction); err != nil {
			return nil, eris.Wrap(err, "unmarshal extraction")
		}
	}
	return &r, nil
}

func collectPgRevisions(rows pgx.Rows) ([]model.RevisionRecord, error) {
	var recs []model.RevisionRecord
	for rows.Next() {
		r, err := scanPgRevision(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan revision")
		}
		recs = append(recs, *r)
	}
	return recs, eris.Wrap(rows.Err(), "iterate revisions")
}
