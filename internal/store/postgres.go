package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/coinflow/internal/db"
	"github.com/kjannette/coinflow/internal/models"
)

var pgSchema = []string{`
CREATE TABLE IF NOT EXISTS market_observations (
	asset_id       TEXT             NOT NULL,
	observed_at    TIMESTAMPTZ      NOT NULL,
	price          DOUBLE PRECISION NOT NULL,
	market_cap     DOUBLE PRECISION NOT NULL,
	volume_24h     DOUBLE PRECISION NOT NULL,
	pct_change_24h DOUBLE PRECISION,
	rank           INTEGER          NOT NULL,
	ingested_at    TIMESTAMPTZ      NOT NULL,
	run_id         TEXT             NOT NULL,
	PRIMARY KEY (asset_id, observed_at)
)`, `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	run_id        TEXT PRIMARY KEY,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ NOT NULL,
	status        TEXT        NOT NULL,
	fetched       INTEGER     NOT NULL,
	valid         INTEGER     NOT NULL,
	invalid       INTEGER     NOT NULL,
	written       INTEGER     NOT NULL,
	store_skipped BOOLEAN     NOT NULL,
	error         TEXT        NOT NULL DEFAULT ''
)`,
	`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started ON pipeline_runs (started_at DESC)`,
}

const pgUpsert = `
INSERT INTO market_observations (` + observationColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (asset_id, observed_at) DO UPDATE SET
	price          = EXCLUDED.price,
	market_cap     = EXCLUDED.market_cap,
	volume_24h     = EXCLUDED.volume_24h,
	pct_change_24h = EXCLUDED.pct_change_24h,
	rank           = EXCLUDED.rank,
	ingested_at    = EXCLUDED.ingested_at,
	run_id         = EXCLUDED.run_id
WHERE market_observations.price IS DISTINCT FROM EXCLUDED.price
	OR market_observations.market_cap IS DISTINCT FROM EXCLUDED.market_cap
	OR market_observations.volume_24h IS DISTINCT FROM EXCLUDED.volume_24h
	OR market_observations.pct_change_24h IS DISTINCT FROM EXCLUDED.pct_change_24h
	OR market_observations.rank IS DISTINCT FROM EXCLUDED.rank`

const pgRecordRun = `
INSERT INTO pipeline_runs (` + runColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (run_id) DO UPDATE SET
	finished_at   = EXCLUDED.finished_at,
	status        = EXCLUDED.status,
	fetched       = EXCLUDED.fetched,
	valid         = EXCLUDED.valid,
	invalid       = EXCLUDED.invalid,
	written       = EXCLUDED.written,
	store_skipped = EXCLUDED.store_skipped,
	error         = EXCLUDED.error`

type pgStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func openPostgres(ctx context.Context, cfg Config) (Store, error) {
	pool, err := db.Connect(ctx, cfg.DSN, db.PoolOptions{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	if err != nil {
		return nil, err
	}
	return NewPostgres(pool), nil
}

// NewPostgres wraps an existing pool. Closing the store closes the pool.
func NewPostgres(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool, now: time.Now}
}

func (s *pgStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range pgSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *pgStore) UpsertBatch(ctx context.Context, runID string, records []models.EnrichedRecord) (UpsertResult, error) {
	if len(records) == 0 {
		return UpsertResult{}, nil
	}
	fail := func(op string, err error) (UpsertResult, error) {
		return UpsertResult{}, &models.StorageError{Op: op, Records: len(records), Err: err}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail("begin", err)
	}
	defer tx.Rollback(ctx)

	ingestedAt := s.now().UTC()
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(pgUpsert, r.AssetID, r.ObservedAt.UTC(), r.Price, r.MarketCap, r.Volume24h,
			r.PctChange24h, r.Rank, ingestedAt, runID)
	}

	br := tx.SendBatch(ctx, batch)
	for _, r := range records {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fail("upsert", fmt.Errorf("%s@%s: %w", r.AssetID, r.ObservedAt.Format(time.RFC3339), err))
		}
	}
	if err := br.Close(); err != nil {
		return fail("upsert", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fail("commit", err)
	}
	return UpsertResult{Written: len(records)}, nil
}

func (s *pgStore) Baselines(ctx context.Context, keys []models.Key) (map[string]models.Baseline, error) {
	out := make(map[string]models.Baseline, len(keys))
	for _, k := range keys {
		var b models.Baseline
		err := s.pool.QueryRow(ctx,
			`SELECT asset_id, observed_at, price FROM market_observations
			 WHERE asset_id = $1 AND observed_at <= $2
			 ORDER BY observed_at DESC LIMIT 1`,
			k.AssetID, baselineCutoff(k),
		).Scan(&b.AssetID, &b.ObservedAt, &b.Price)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, &models.StorageError{Op: "baselines", Err: err}
		}
		b.ObservedAt = b.ObservedAt.UTC()
		out[k.String()] = b
	}
	return out, nil
}

func (s *pgStore) Latest(ctx context.Context) ([]models.StoredRow, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT ON (asset_id) `+observationColumns+`
		FROM market_observations ORDER BY asset_id, observed_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out, err := collectObservations(rows)
	if err != nil {
		return nil, err
	}
	sortByMarketCap(out)
	return out, nil
}

func (s *pgStore) History(ctx context.Context, assetID string, limit int) ([]models.StoredRow, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+observationColumns+` FROM market_observations
		WHERE asset_id = $1 ORDER BY observed_at DESC LIMIT $2`, assetID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectObservations(rows)
}

func (s *pgStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var oldest, newest *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT count(*), count(DISTINCT asset_id), min(observed_at), max(observed_at) FROM market_observations`,
	).Scan(&st.Rows, &st.Assets, &oldest, &newest)
	if err != nil {
		return st, err
	}
	st.OldestAt, st.NewestAt = utcPtr(oldest), utcPtr(newest)

	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM pipeline_runs`).Scan(&st.Runs); err != nil {
		return st, err
	}
	return st, nil
}

func (s *pgStore) RecordRun(ctx context.Context, run models.Run) error {
	_, err := s.pool.Exec(ctx, pgRecordRun,
		run.RunID, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.Status, run.Fetched,
		run.Valid, run.Invalid, run.Written, run.StoreSkipped, run.Error)
	if err != nil {
		return &models.StorageError{Op: "record run", Err: err}
	}
	return nil
}

func (s *pgStore) Runs(ctx context.Context, limit int) ([]models.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

func (s *pgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}
