package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/coinflow/internal/logger"
	"github.com/kjannette/coinflow/internal/models"
	"github.com/kjannette/coinflow/internal/pipeline"
	"github.com/kjannette/coinflow/internal/scheduler"
	"github.com/kjannette/coinflow/internal/store"
	"github.com/kjannette/coinflow/internal/testutil"
)

type fakeTrigger struct {
	err      error
	calls    int
	inFlight bool
	last     *models.CycleReport
}

func (f *fakeTrigger) Trigger(string) error {
	f.calls++
	return f.err
}
func (f *fakeTrigger) Running() bool                   { return true }
func (f *fakeTrigger) InFlight() bool                  { return f.inFlight }
func (f *fakeTrigger) LastReport() *models.CycleReport { return f.last }

type brokenProvider struct{}

func (brokenProvider) Acquire(context.Context) (store.Store, error) {
	return nil, errors.New("database is locked")
}

func seeded(t *testing.T) *store.Provider {
	t.Helper()
	p := testutil.MemoryProvider(t)
	st, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer st.Close()

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var recs []models.EnrichedRecord
	for i, id := range []string{"bitcoin", "ethereum"} {
		for h := 0; h < 3; h++ {
			recs = append(recs, models.EnrichedRecord{
				NormalizedObservation: models.NormalizedObservation{
					AssetID:    id,
					ObservedAt: at.Add(time.Duration(h) * time.Hour),
					Price:      float64(100 - i*10 + h),
					MarketCap:  float64(1000 - i*100),
					Volume24h:  1,
				},
				Rank: i + 1,
			})
		}
	}
	_, err = st.UpsertBatch(context.Background(), "seed", recs)
	require.NoError(t, err)
	require.NoError(t, st.RecordRun(context.Background(), models.Run{
		RunID: "seed", StartedAt: at, FinishedAt: at, Status: models.RunSucceeded, Written: len(recs),
	}))
	return p
}

func serve(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func newTestServer(p StoreProvider, trig Trigger) *Server {
	return NewServer(p, trig, Options{Log: logger.Discard().WithComponent("api")})
}

func TestLatestObservations(t *testing.T) {
	s := newTestServer(seeded(t), nil)

	rr := serve(t, s, http.MethodGet, "/v1/observations/latest")
	require.Equal(t, http.StatusOK, rr.Code)

	var rows []models.StoredRow
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "bitcoin", rows[0].AssetID)
	assert.Equal(t, 102.0, rows[0].Price)
	assert.Equal(t, 2*time.Hour, rows[0].ObservedAt.Sub(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestObservationHistory(t *testing.T) {
	s := newTestServer(seeded(t), nil)

	rr := serve(t, s, http.MethodGet, "/v1/observations/ethereum?limit=2")
	require.Equal(t, http.StatusOK, rr.Code)
	var rows []models.StoredRow
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.True(t, rows[0].ObservedAt.After(rows[1].ObservedAt))

	assert.Equal(t, http.StatusNotFound, serve(t, s, http.MethodGet, "/v1/observations/dogecoin").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, s, http.MethodGet, "/v1/observations/Bad_Id").Code)
}

func TestStats(t *testing.T) {
	s := newTestServer(seeded(t), nil)

	rr := serve(t, s, http.MethodGet, "/v1/stats")
	require.Equal(t, http.StatusOK, rr.Code)
	var stats store.Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.EqualValues(t, 6, stats.Rows)
	assert.EqualValues(t, 2, stats.Assets)
	assert.EqualValues(t, 1, stats.Runs)
}

func TestRuns(t *testing.T) {
	s := newTestServer(seeded(t), nil)

	rr := serve(t, s, http.MethodGet, "/v1/runs")
	require.Equal(t, http.StatusOK, rr.Code)
	var runs []models.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "seed", runs[0].RunID)
}

func TestTriggerRun(t *testing.T) {
	trig := &fakeTrigger{}
	s := newTestServer(seeded(t), trig)

	assert.Equal(t, http.StatusAccepted, serve(t, s, http.MethodPost, "/v1/runs").Code)
	assert.Equal(t, 1, trig.calls)

	trig.err = scheduler.ErrRunInProgress
	assert.Equal(t, http.StatusConflict, serve(t, s, http.MethodPost, "/v1/runs").Code)

	trig.err = scheduler.ErrStopped
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, s, http.MethodPost, "/v1/runs").Code)

	noSched := newTestServer(seeded(t), nil)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, noSched, http.MethodPost, "/v1/runs").Code)
}

func TestStages(t *testing.T) {
	rr := serve(t, newTestServer(seeded(t), nil), http.MethodGet, "/v1/stages")
	require.Equal(t, http.StatusOK, rr.Code)
	var stages []pipeline.Stage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stages))
	assert.Equal(t, pipeline.Graph, stages)
}

func TestHealth(t *testing.T) {
	trig := &fakeTrigger{inFlight: true, last: &models.CycleReport{RunID: "r1"}}
	rr := serve(t, newTestServer(seeded(t), trig), http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "connected", resp.Services.Database)
	assert.Equal(t, "running_cycle", resp.Services.Scheduler)
	require.NotNil(t, resp.LastRun)
	assert.Equal(t, "r1", resp.LastRun.RunID)
}

func TestStoreUnavailable(t *testing.T) {
	s := newTestServer(brokenProvider{}, nil)

	assert.Equal(t, http.StatusServiceUnavailable, serve(t, s, http.MethodGet, "/v1/observations/latest").Code)

	rr := serve(t, s, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "disconnected", resp.Services.Database)
	assert.Equal(t, "disabled", resp.Services.Scheduler)
}
