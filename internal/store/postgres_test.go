package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/coinflow/internal/models"
	"github.com/kjannette/coinflow/internal/store"
	"github.com/kjannette/coinflow/internal/testutil"
)

func TestPostgres_UpsertIdempotent(t *testing.T) {
	pool := testutil.SetupPool(t)
	ctx := context.Background()

	st := store.NewPostgres(pool)
	require.NoError(t, st.EnsureSchema(ctx))

	assetID := "coinflow-test-" + time.Now().UTC().Format("150405.000000")
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t.Cleanup(func() {
		pool.Exec(context.Background(), `DELETE FROM market_observations WHERE asset_id = $1`, assetID)
	})

	rec := models.EnrichedRecord{
		NormalizedObservation: models.NormalizedObservation{
			AssetID: assetID, ObservedAt: at, Price: 1, MarketCap: 2, Volume24h: 3,
		},
		Rank: 1,
	}
	_, err := st.UpsertBatch(ctx, "pg-test-1", []models.EnrichedRecord{rec})
	require.NoError(t, err)
	first, err := st.History(ctx, assetID, 10)
	require.NoError(t, err)

	_, err = st.UpsertBatch(ctx, "pg-test-2", []models.EnrichedRecord{rec})
	require.NoError(t, err)
	replayed, err := st.History(ctx, assetID, 10)
	require.NoError(t, err)
	assert.Equal(t, first, replayed)

	rec.Price = 5
	_, err = st.UpsertBatch(ctx, "pg-test-3", []models.EnrichedRecord{rec})
	require.NoError(t, err)

	rows, err := st.History(ctx, assetID, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 5.0, rows[0].Price)
	assert.Equal(t, "pg-test-3", rows[0].RunID)
	assert.Nil(t, rows[0].PctChange24h)
}
