package pipeline

import (
	"context"

	"github.com/kjannette/coinflow/internal/models"
	"github.com/kjannette/coinflow/internal/store"
)

const (
	StageFetch    = "fetch_market_data"
	StageValidate = "validate_market_data"
	StageEnrich   = "enrich_market_data"
	StageStore    = "store_market_data"
)

type Stage struct {
	Name        string `json:"name"`
	Upstream    string `json:"upstream,omitempty"`
	Description string `json:"description"`
}

// Graph lists the stages in dependency order. Each stage consumes exactly the
// output type of its upstream.
var Graph = []Stage{
	{Name: StageFetch, Description: "fetch a /coins/markets snapshot"},
	{Name: StageValidate, Upstream: StageFetch, Description: "validate and normalize raw records"},
	{Name: StageEnrich, Upstream: StageValidate, Description: "derive 24h change and market-cap rank"},
	{Name: StageStore, Upstream: StageEnrich, Description: "upsert enriched records into the store"},
}

func LookupStage(name string) (Stage, bool) {
	for _, s := range Graph {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

type Fetcher interface {
	FetchMarkets(ctx context.Context) ([]models.RawObservation, error)
}

// StoreProvider hands out scoped store handles; *store.Provider implements it.
type StoreProvider interface {
	Acquire(ctx context.Context) (store.Store, error)
}

func FetchStage(ctx context.Context, f Fetcher) ([]models.RawObservation, error) {
	return f.FetchMarkets(ctx)
}

func ValidateStage(raws []models.RawObservation) ValidationResult {
	return NormalizeBatch(raws)
}

// EnrichStage reads the 24h baselines from st and hands them to Enrich.
func EnrichStage(ctx context.Context, st store.Store, valid []models.NormalizedObservation) ([]models.EnrichedRecord, error) {
	if len(valid) == 0 {
		return []models.EnrichedRecord{}, nil
	}
	baselines, err := st.Baselines(ctx, BaselineKeys(valid))
	if err != nil {
		return nil, err
	}
	return Enrich(valid, baselines), nil
}

func StoreStage(ctx context.Context, st store.Store, runID string, records []models.EnrichedRecord) (store.UpsertResult, error) {
	return st.UpsertBatch(ctx, runID, records)
}
