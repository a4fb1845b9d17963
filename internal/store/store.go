// Package store persists enriched market observations. Callers acquire a
// scoped Store handle per run from a Provider and must Close it.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kjannette/coinflow/internal/logger"
	"github.com/kjannette/coinflow/internal/models"
)

const (
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
)

var (
	ErrUnknownDriver  = errors.New("unknown store driver")
	ErrProviderClosed = errors.New("store provider shut down")
)

type Config struct {
	Driver string
	// Path is the DuckDB database file. Empty means in-memory.
	Path     string
	DSN      string
	MaxConns int32
	MinConns int32
}

type UpsertResult struct {
	Written int `json:"written"`
}

type Stats struct {
	Rows     int64      `json:"rows"`
	Assets   int64      `json:"assets"`
	OldestAt *time.Time `json:"oldestAt"`
	NewestAt *time.Time `json:"newestAt"`
	Runs     int64      `json:"runs"`
}

// Store is a handle on the analytical store for the duration of one run.
type Store interface {
	EnsureSchema(ctx context.Context) error
	// UpsertBatch writes every record in one transaction keyed by
	// (asset_id, observed_at). Existing rows are overwritten. On failure
	// nothing is written and a *models.StorageError is returned.
	UpsertBatch(ctx context.Context, runID string, records []models.EnrichedRecord) (UpsertResult, error)
	// Baselines returns, per key, the latest stored row at or before
	// ObservedAt-24h. The map is keyed by models.Key.String().
	Baselines(ctx context.Context, keys []models.Key) (map[string]models.Baseline, error)
	Latest(ctx context.Context) ([]models.StoredRow, error)
	History(ctx context.Context, assetID string, limit int) ([]models.StoredRow, error)
	Stats(ctx context.Context) (Stats, error)
	RecordRun(ctx context.Context, run models.Run) error
	Runs(ctx context.Context, limit int) ([]models.Run, error)
	Ping(ctx context.Context) error
	Close() error
}

// Provider opens the configured backend on first Acquire and closes it when
// the last handle is released. In-memory DuckDB stays open until Shutdown.
type Provider struct {
	cfg  Config
	log  *logger.Entry
	open func(ctx context.Context, cfg Config) (Store, error)

	mu     sync.Mutex
	be     Store
	refs   int
	closed bool
}

func NewProvider(cfg Config, log *logger.Entry) (*Provider, error) {
	if log == nil {
		log = logger.GetLogger().WithComponent("store")
	}
	p := &Provider{cfg: cfg, log: log}
	switch cfg.Driver {
	case DriverDuckDB, "":
		p.cfg.Driver = DriverDuckDB
		p.open = openDuckDB
	case DriverPostgres:
		p.open = openPostgres
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
	return p, nil
}

func (p *Provider) Driver() string { return p.cfg.Driver }

// Acquire returns a handle that must be released with Close.
func (p *Provider) Acquire(ctx context.Context) (Store, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, &models.StorageError{Op: "open", Err: ErrProviderClosed}
	}
	if p.be == nil {
		be, err := p.open(ctx, p.cfg)
		if err != nil {
			return nil, &models.StorageError{Op: "open", Err: err}
		}
		if err := be.EnsureSchema(ctx); err != nil {
			be.Close()
			return nil, &models.StorageError{Op: "ensure schema", Err: err}
		}
		p.be = be
		p.log.WithFields(logger.Fields{"driver": p.cfg.Driver}).Debug("store opened")
	}
	p.refs++
	return &handle{Store: p.be, p: p}, nil
}

func (p *Provider) release() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.refs--
	if p.refs > 0 || p.keepOpen() || p.be == nil {
		return nil
	}
	err := p.be.Close()
	p.be = nil
	p.log.WithFields(logger.Fields{"driver": p.cfg.Driver}).Debug("store closed")
	return err
}

func (p *Provider) keepOpen() bool {
	return p.cfg.Driver == DriverDuckDB && p.cfg.Path == ""
}

// Shutdown closes the backend regardless of outstanding handles. Later
// Acquire calls fail with ErrProviderClosed; releasing an old handle is a
// no-op.
func (p *Provider) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.be == nil {
		return nil
	}
	err := p.be.Close()
	p.be = nil
	return err
}

type handle struct {
	Store
	p    *Provider
	once sync.Once
}

func (h *handle) Close() error {
	var err error
	h.once.Do(func() {
		err = h.p.release()
	})
	return err
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func baselineCutoff(k models.Key) time.Time {
	return k.ObservedAt.Add(-models.BaselineWindow)
}
