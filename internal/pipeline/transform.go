package pipeline

import (
	"sort"

	"github.com/kjannette/coinflow/internal/models"
)

// Enrich derives pct_change_24h and market-cap rank for one cycle's batch.
// It is a pure function of its arguments: baselines are looked up by the
// caller and keyed by models.Key.String().
//
// Rank is dense 1..n over the batch by market cap descending; ties go to the
// lower asset id. The output is ordered by rank.
func Enrich(batch []models.NormalizedObservation, baselines map[string]models.Baseline) []models.EnrichedRecord {
	out := make([]models.EnrichedRecord, len(batch))
	for i, obs := range batch {
		out[i] = models.EnrichedRecord{
			NormalizedObservation: obs,
			PctChange24h:          pctChange(obs, baselines),
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.MarketCap != b.MarketCap {
			return a.MarketCap > b.MarketCap
		}
		if a.AssetID != b.AssetID {
			return a.AssetID < b.AssetID
		}
		return a.ObservedAt.Before(b.ObservedAt)
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func pctChange(obs models.NormalizedObservation, baselines map[string]models.Baseline) *float64 {
	b, ok := baselines[obs.Key().String()]
	if !ok || b.Price <= 0 {
		return nil
	}
	v := (obs.Price - b.Price) / b.Price * 100
	return &v
}

// BaselineKeys lists the lookups Enrich needs for a batch.
func BaselineKeys(batch []models.NormalizedObservation) []models.Key {
	keys := make([]models.Key, len(batch))
	for i, obs := range batch {
		keys[i] = obs.Key()
	}
	return keys
}
