package external_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/coinflow/internal/external"
	"github.com/kjannette/coinflow/internal/httputil"
	"github.com/kjannette/coinflow/internal/logger"
	"github.com/kjannette/coinflow/internal/models"
)

const marketsBody = `[
  {"id":"bitcoin","symbol":"btc","name":"Bitcoin","current_price":"50000.5","market_cap":900000000000,"total_volume":20000000000,"last_updated":"2024-01-01T00:00:00Z"},
  {"id":"ethereum","symbol":"eth","name":"Ethereum","current_price":2300.12,"market_cap":276000000000,"total_volume":9000000000,"last_updated":"2024-01-01T00:00:05.123Z"}
]`

func newClient(baseURL string) *external.CoinGeckoClient {
	log := logger.Discard().WithComponent("coingecko")
	return external.NewCoinGeckoClient(external.CoinGeckoOptions{
		BaseURL:  baseURL,
		APIKey:   "demo-key",
		AssetIDs: []string{"bitcoin", "ethereum"},
		Timeout:  2 * time.Second,
		Retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   10 * time.Millisecond,
			MaxDelay:    40 * time.Millisecond,
			Log:         log,
		},
		Log: log,
	})
}

func TestFetchMarkets_Success(t *testing.T) {
	var query, apiKey, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		query = r.URL.RawQuery
		apiKey = r.Header.Get("x-cg-demo-api-key")
		w.Write([]byte(marketsBody))
	}))
	defer srv.Close()

	raws, err := newClient(srv.URL).FetchMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, raws, 2)

	assert.Equal(t, "/coins/markets", path)
	assert.Contains(t, query, "vs_currency=usd")
	assert.Contains(t, query, "ids=bitcoin%2Cethereum")
	assert.Contains(t, query, "order=market_cap_desc")
	assert.Contains(t, query, "per_page=20")
	assert.Equal(t, "demo-key", apiKey)

	assert.JSONEq(t, `"bitcoin"`, string(raws[0].ID))
	assert.JSONEq(t, `"50000.5"`, string(raws[0].CurrentPrice))
	assert.JSONEq(t, `2300.12`, string(raws[1].CurrentPrice))
	assert.False(t, raws[0].FetchedAt.IsZero())
	assert.Equal(t, time.UTC, raws[0].FetchedAt.Location())
}

func TestFetchMarkets_AnySuccessStatus(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusNonAuthoritativeInfo, http.StatusPartialContent} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
				w.Write([]byte(marketsBody))
			}))
			defer srv.Close()

			raws, err := newClient(srv.URL).FetchMarkets(context.Background())
			require.NoError(t, err)
			assert.Len(t, raws, 2)
		})
	}
}

func TestFetchMarkets_RateLimitedExhausted(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).FetchMarkets(context.Background())
	require.Error(t, err)

	var te *models.TransientFetchError
	require.True(t, errors.As(err, &te), "want TransientFetchError, got %T", err)
	assert.Equal(t, http.StatusTooManyRequests, te.StatusCode)
	assert.Equal(t, 3, te.Attempts)
	assert.EqualValues(t, 3, attempts.Load())
}

func TestFetchMarkets_RecoversAfterServerError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(marketsBody))
	}))
	defer srv.Close()

	raws, err := newClient(srv.URL).FetchMarkets(context.Background())
	require.NoError(t, err)
	assert.Len(t, raws, 2)
	assert.EqualValues(t, 2, attempts.Load())
}

func TestFetchMarkets_ClientErrorIsTerminal(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid key"}`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).FetchMarkets(context.Background())

	var fe *models.FetchError
	require.True(t, errors.As(err, &fe), "want FetchError, got %T", err)
	assert.Equal(t, http.StatusUnauthorized, fe.StatusCode)
	assert.Contains(t, fe.Body, "invalid key")
	assert.False(t, models.IsTransient(err))
	assert.EqualValues(t, 1, attempts.Load())
}

func TestFetchMarkets_BadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"not":"an array"}`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).FetchMarkets(context.Background())
	var fe *models.FetchError
	require.True(t, errors.As(err, &fe))
}

func TestFetchMarkets_NonObjectElementKept(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[42, {"id":"bitcoin"}]`))
	}))
	defer srv.Close()

	raws, err := newClient(srv.URL).FetchMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, raws, 2)
	assert.Empty(t, raws[0].ID)
}

func TestFetchMarkets_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newClient(url).FetchMarkets(context.Background())
	assert.True(t, models.IsTransient(err), "network errors are transient, got %v", err)
}

func TestCoinGeckoLive(t *testing.T) {
	if os.Getenv("COINGECKO_LIVE") == "" {
		t.Skip("COINGECKO_LIVE not set, skipping")
	}

	client := external.NewCoinGeckoClient(external.CoinGeckoOptions{
		AssetIDs: []string{"bitcoin", "ethereum"},
		APIKey:   os.Getenv("COINGECKO_API_KEY"),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	raws, err := client.FetchMarkets(ctx)
	if err != nil {
		t.Fatalf("FetchMarkets: %v", err)
	}
	if len(raws) == 0 {
		t.Fatal("expected at least one record")
	}
	t.Logf("Fetched %d records, first id=%s", len(raws), raws[0].ID)
}
