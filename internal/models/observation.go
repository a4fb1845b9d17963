package models

import (
	"encoding/json"
	"time"
)

// RawObservation is one element of the /coins/markets response as received.
// Values are kept undecoded so the validator owns every coercion decision.
type RawObservation struct {
	ID                json.RawMessage `json:"id"`
	Symbol            json.RawMessage `json:"symbol,omitempty"`
	Name              json.RawMessage `json:"name,omitempty"`
	CurrentPrice      json.RawMessage `json:"current_price"`
	MarketCap         json.RawMessage `json:"market_cap"`
	TotalVolume       json.RawMessage `json:"total_volume"`
	High24h           json.RawMessage `json:"high_24h,omitempty"`
	Low24h            json.RawMessage `json:"low_24h,omitempty"`
	PriceChangePct24h json.RawMessage `json:"price_change_percentage_24h,omitempty"`
	LastUpdated       json.RawMessage `json:"last_updated"`
	FetchedAt         time.Time       `json:"fetched_at"`
}

type NormalizedObservation struct {
	AssetID    string    `json:"assetId"`
	Symbol     string    `json:"symbol,omitempty"`
	Name       string    `json:"name,omitempty"`
	ObservedAt time.Time `json:"observedAt"`
	Price      float64   `json:"price"`
	MarketCap  float64   `json:"marketCap"`
	Volume24h  float64   `json:"volume24h"`
}

func (o NormalizedObservation) Key() Key {
	return Key{AssetID: o.AssetID, ObservedAt: o.ObservedAt}
}

type EnrichedRecord struct {
	NormalizedObservation
	PctChange24h *float64 `json:"pctChange24h"`
	Rank         int      `json:"rank"`
}

// StoredRow is a row of market_observations as read back from the store.
type StoredRow struct {
	AssetID      string    `json:"assetId"`
	ObservedAt   time.Time `json:"observedAt"`
	Price        float64   `json:"price"`
	MarketCap    float64   `json:"marketCap"`
	Volume24h    float64   `json:"volume24h"`
	PctChange24h *float64  `json:"pctChange24h"`
	Rank         int       `json:"rank"`
	IngestedAt   time.Time `json:"ingestedAt"`
	RunID        string    `json:"runId"`
}

// Key identifies a stored row.
type Key struct {
	AssetID    string
	ObservedAt time.Time
}

// String is a stable map key; time.Time values are not safe to compare with ==.
func (k Key) String() string {
	return k.AssetID + "@" + k.ObservedAt.UTC().Format(time.RFC3339Nano)
}

// Baseline is the stored price an observation's 24h change is measured against.
type Baseline struct {
	AssetID    string
	ObservedAt time.Time
	Price      float64
}

// BaselineWindow is how far back a baseline must lie from the observation.
const BaselineWindow = 24 * time.Hour
