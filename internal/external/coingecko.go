package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kjannette/coinflow/internal/httputil"
	"github.com/kjannette/coinflow/internal/logger"
	"github.com/kjannette/coinflow/internal/models"
)

const (
	DefaultBaseURL    = "https://api.coingecko.com/api/v3"
	DefaultVsCurrency = "usd"
	DefaultPerPage    = 20
)

type CoinGeckoOptions struct {
	BaseURL    string
	APIKey     string
	AssetIDs   []string
	VsCurrency string
	PerPage    int
	Timeout    time.Duration
	Retry      httputil.RetryConfig
	// RateLimit is requests per second across all attempts. Zero disables it.
	RateLimit float64
	Log       *logger.Entry
}

type CoinGeckoClient struct {
	opts       CoinGeckoOptions
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Entry
}

func NewCoinGeckoClient(opts CoinGeckoOptions) *CoinGeckoClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.VsCurrency == "" {
		opts.VsCurrency = DefaultVsCurrency
	}
	if opts.PerPage <= 0 {
		opts.PerPage = DefaultPerPage
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			MaxDelay:    10 * time.Second,
		}
	}
	log := opts.Log
	if log == nil {
		log = logger.GetLogger().WithComponent("coingecko")
	}
	if opts.Retry.Log == nil {
		opts.Retry.Log = log
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	return &CoinGeckoClient{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		log:        log,
	}
}

// MarketsURL is the fully parameterised /coins/markets request URL.
func (c *CoinGeckoClient) MarketsURL() string {
	q := url.Values{}
	q.Set("vs_currency", c.opts.VsCurrency)
	if len(c.opts.AssetIDs) > 0 {
		q.Set("ids", strings.Join(c.opts.AssetIDs, ","))
	}
	q.Set("order", "market_cap_desc")
	q.Set("per_page", strconv.Itoa(c.opts.PerPage))
	q.Set("page", "1")
	q.Set("sparkline", "false")
	q.Set("locale", "en")
	return strings.TrimRight(c.opts.BaseURL, "/") + "/coins/markets?" + q.Encode()
}

// FetchMarkets makes one logical call to /coins/markets. Transient failures are
// retried with backoff; the returned error is a *models.TransientFetchError or
// a *models.FetchError.
func (c *CoinGeckoClient) FetchMarkets(ctx context.Context) ([]models.RawObservation, error) {
	endpoint := c.MarketsURL()

	resp, err := httputil.Do(ctx, c.httpClient, c.opts.Retry, func() (*http.Request, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if c.opts.APIKey != "" {
			req.Header.Set("x-cg-demo-api-key", c.opts.APIKey)
		}
		return req, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &models.FetchError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var items []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, &models.FetchError{Err: fmt.Errorf("decode: %w", err)}
	}

	fetchedAt := time.Now().UTC()
	out := make([]models.RawObservation, 0, len(items))
	for i, item := range items {
		var raw models.RawObservation
		if err := json.Unmarshal(item, &raw); err != nil {
			// Kept as an empty record so validation counts and reports it.
			c.log.WithFields(logger.Fields{"index": i}).WithError(err).Warn("undecodable market record")
			raw = models.RawObservation{}
		}
		raw.FetchedAt = fetchedAt
		out = append(out, raw)
	}

	c.log.WithFields(logger.Fields{
		"records":     len(out),
		"vs_currency": c.opts.VsCurrency,
	}).Info("fetched market snapshot")

	return out, nil
}

func classify(err error) error {
	var ae *httputil.AttemptsError
	if errors.As(err, &ae) {
		te := &models.TransientFetchError{Attempts: ae.Attempts, Err: ae.Err}
		var se *httputil.StatusError
		if errors.As(ae.Err, &se) {
			te.StatusCode = se.StatusCode
		}
		return te
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &models.TransientFetchError{Err: err}
	}
	return &models.FetchError{Err: fmt.Errorf("coingecko fetch: %w", err)}
}
