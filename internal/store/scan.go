package store

import (
	"sort"
	"time"

	"github.com/kjannette/coinflow/internal/models"
)

const observationColumns = `asset_id, observed_at, price, market_cap, volume_24h, pct_change_24h, rank, ingested_at, run_id`

const runColumns = `run_id, started_at, finished_at, status, fetched, valid, invalid, written, store_skipped, error`

type scannable interface {
	Scan(dest ...any) error
}

type rowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanObservation(row scannable) (models.StoredRow, error) {
	var r models.StoredRow
	err := row.Scan(&r.AssetID, &r.ObservedAt, &r.Price, &r.MarketCap, &r.Volume24h,
		&r.PctChange24h, &r.Rank, &r.IngestedAt, &r.RunID)
	if err != nil {
		return r, err
	}
	r.ObservedAt = r.ObservedAt.UTC()
	r.IngestedAt = r.IngestedAt.UTC()
	return r, nil
}

func collectObservations(rows rowsIter) ([]models.StoredRow, error) {
	out := []models.StoredRow{}
	for rows.Next() {
		r, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func collectRuns(rows rowsIter) ([]models.Run, error) {
	out := []models.Run{}
	for rows.Next() {
		var r models.Run
		if err := rows.Scan(&r.RunID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.Fetched,
			&r.Valid, &r.Invalid, &r.Written, &r.StoreSkipped, &r.Error); err != nil {
			return nil, err
		}
		r.StartedAt = r.StartedAt.UTC()
		r.FinishedAt = r.FinishedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func sortByMarketCap(rows []models.StoredRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].MarketCap != rows[j].MarketCap {
			return rows[i].MarketCap > rows[j].MarketCap
		}
		return rows[i].AssetID < rows[j].AssetID
	})
}
