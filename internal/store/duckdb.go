package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/kjannette/coinflow/internal/models"
)

var duckSchema = []string{`
CREATE TABLE IF NOT EXISTS market_observations (
	asset_id       VARCHAR   NOT NULL,
	observed_at    TIMESTAMP NOT NULL,
	price          DOUBLE    NOT NULL,
	market_cap     DOUBLE    NOT NULL,
	volume_24h     DOUBLE    NOT NULL,
	pct_change_24h DOUBLE,
	rank           INTEGER   NOT NULL,
	ingested_at    TIMESTAMP NOT NULL,
	run_id         VARCHAR   NOT NULL,
	PRIMARY KEY (asset_id, observed_at)
)`, `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	run_id        VARCHAR PRIMARY KEY,
	started_at    TIMESTAMP NOT NULL,
	finished_at   TIMESTAMP NOT NULL,
	status        VARCHAR   NOT NULL,
	fetched       INTEGER   NOT NULL,
	valid         INTEGER   NOT NULL,
	invalid       INTEGER   NOT NULL,
	written       INTEGER   NOT NULL,
	store_skipped BOOLEAN   NOT NULL,
	error         VARCHAR   NOT NULL DEFAULT ''
)`}

const duckUpsert = `
INSERT INTO market_observations (` + observationColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (asset_id, observed_at) DO UPDATE SET
	price          = excluded.price,
	market_cap     = excluded.market_cap,
	volume_24h     = excluded.volume_24h,
	pct_change_24h = excluded.pct_change_24h,
	rank           = excluded.rank,
	ingested_at    = excluded.ingested_at,
	run_id         = excluded.run_id
WHERE price IS DISTINCT FROM excluded.price
	OR market_cap IS DISTINCT FROM excluded.market_cap
	OR volume_24h IS DISTINCT FROM excluded.volume_24h
	OR pct_change_24h IS DISTINCT FROM excluded.pct_change_24h
	OR rank IS DISTINCT FROM excluded.rank`

const duckRecordRun = `
INSERT INTO pipeline_runs (` + runColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (run_id) DO UPDATE SET
	finished_at   = excluded.finished_at,
	status        = excluded.status,
	fetched       = excluded.fetched,
	valid         = excluded.valid,
	invalid       = excluded.invalid,
	written       = excluded.written,
	store_skipped = excluded.store_skipped,
	error         = excluded.error`

type duckStore struct {
	db  *sql.DB
	now func() time.Time
}

func openDuckDB(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	// One connection: an in-memory database is private to its connection,
	// and a file database has a single writer anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return &duckStore{db: db, now: time.Now}, nil
}

func (s *duckStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range duckSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *duckStore) UpsertBatch(ctx context.Context, runID string, records []models.EnrichedRecord) (UpsertResult, error) {
	if len(records) == 0 {
		return UpsertResult{}, nil
	}
	fail := func(op string, err error) (UpsertResult, error) {
		return UpsertResult{}, &models.StorageError{Op: op, Records: len(records), Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fail("begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, duckUpsert)
	if err != nil {
		return fail("prepare upsert", err)
	}
	defer stmt.Close()

	ingestedAt := s.now().UTC()
	for _, r := range records {
		_, err := stmt.ExecContext(ctx, r.AssetID, r.ObservedAt.UTC(), r.Price, r.MarketCap, r.Volume24h,
			nullFloat(r.PctChange24h), r.Rank, ingestedAt, runID)
		if err != nil {
			return fail("upsert", fmt.Errorf("%s@%s: %w", r.AssetID, r.ObservedAt.Format(time.RFC3339), err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fail("commit", err)
	}
	return UpsertResult{Written: len(records)}, nil
}

func (s *duckStore) Baselines(ctx context.Context, keys []models.Key) (map[string]models.Baseline, error) {
	out := make(map[string]models.Baseline, len(keys))
	for _, k := range keys {
		var b models.Baseline
		err := s.db.QueryRowContext(ctx,
			`SELECT asset_id, observed_at, price FROM market_observations
			 WHERE asset_id = ? AND observed_at <= ?
			 ORDER BY observed_at DESC LIMIT 1`,
			k.AssetID, baselineCutoff(k).UTC(),
		).Scan(&b.AssetID, &b.ObservedAt, &b.Price)
		if errors.Is(err, sql.ErrNoRows) {
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

func (s *duckStore) Latest(ctx context.Context) ([]models.StoredRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+observationColumns+` FROM market_observations m
		WHERE observed_at = (SELECT max(observed_at) FROM market_observations WHERE asset_id = m.asset_id)
		ORDER BY market_cap DESC, asset_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectObservations(rows)
}

func (s *duckStore) History(ctx context.Context, assetID string, limit int) ([]models.StoredRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+observationColumns+` FROM market_observations
		WHERE asset_id = ? ORDER BY observed_at DESC LIMIT ?`, assetID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectObservations(rows)
}

func (s *duckStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var oldest, newest *time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*), count(DISTINCT asset_id), min(observed_at), max(observed_at) FROM market_observations`,
	).Scan(&st.Rows, &st.Assets, &oldest, &newest)
	if err != nil {
		return st, err
	}
	st.OldestAt, st.NewestAt = utcPtr(oldest), utcPtr(newest)

	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM pipeline_runs`).Scan(&st.Runs); err != nil {
		return st, err
	}
	return st, nil
}

func (s *duckStore) RecordRun(ctx context.Context, run models.Run) error {
	_, err := s.db.ExecContext(ctx, duckRecordRun,
		run.RunID, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.Status, run.Fetched,
		run.Valid, run.Invalid, run.Written, run.StoreSkipped, run.Error)
	if err != nil {
		return &models.StorageError{Op: "record run", Err: err}
	}
	return nil
}

func (s *duckStore) Runs(ctx context.Context, limit int) ([]models.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

func (s *duckStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *duckStore) Close() error {
	return s.db.Close()
}
