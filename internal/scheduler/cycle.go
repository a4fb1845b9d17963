package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kjannette/coinflow/internal/logger"
	"github.com/kjannette/coinflow/internal/models"
)

var (
	// ErrRunInProgress is returned when a run is requested while one is in flight.
	ErrRunInProgress = errors.New("a pipeline run is already in progress")
	// ErrStopped is returned by Trigger when the scheduler is not running.
	ErrStopped = errors.New("scheduler is not running")
)

// RunFunc executes one pipeline cycle.
type RunFunc func(ctx context.Context) (*models.CycleReport, error)

type CycleSchedulerConfig struct {
	Interval   time.Duration
	RunTimeout time.Duration
	// SkipInitialRun disables the run on Start.
	SkipInitialRun bool
	OnFailure      func(report *models.CycleReport, err error)
	Log            *logger.Entry
}

// CycleScheduler runs the pipeline on a fixed interval. At most one run is in
// flight at a time; ticks that arrive during a run are skipped.
type CycleScheduler struct {
	run RunFunc
	cfg CycleSchedulerConfig
	log *logger.Entry

	inFlight atomic.Bool
	wg       sync.WaitGroup

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	last    *models.CycleReport
}

func NewCycleScheduler(run RunFunc, cfg CycleSchedulerConfig) *CycleScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Minute
	}
	log := cfg.Log
	if log == nil {
		log = logger.GetLogger().WithComponent("scheduler")
	}
	return &CycleScheduler{run: run, cfg: cfg, log: log}
}

func (s *CycleScheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn("scheduler already running")
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	if !s.cfg.SkipInitialRun {
		if err := s.Trigger("startup"); err != nil {
			s.log.WithError(err).Warn("initial run not started")
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				if _, err := s.execute(context.Background(), "schedule"); errors.Is(err, ErrRunInProgress) {
					s.log.Warn("previous run still in flight, skipping tick")
				}
			}
		}
	}()

	s.log.WithFields(logger.Fields{
		"interval":    s.cfg.Interval.String(),
		"run_timeout": s.cfg.RunTimeout.String(),
	}).Info("scheduler started")
}

// Stop halts the ticker and waits for an in-flight run to finish or time out.
func (s *CycleScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *CycleScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// InFlight reports whether a run is currently executing.
func (s *CycleScheduler) InFlight() bool { return s.inFlight.Load() }

// LastReport returns the report of the most recent finished run, if any.
func (s *CycleScheduler) LastReport() *models.CycleReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// RunNow runs a cycle synchronously outside the schedule.
func (s *CycleScheduler) RunNow(ctx context.Context) (*models.CycleReport, error) {
	s.log.Info("manual run triggered")
	return s.execute(ctx, "manual")
}

// Trigger starts a cycle in the background. It returns ErrRunInProgress
// instead of queueing behind a running cycle, and ErrStopped once Stop has
// been called.
func (s *CycleScheduler) Trigger(reason string) error {
	// wg.Add must not race Stop's wg.Wait, so it happens under mu while
	// running is still true.
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrStopped
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)
		s.runLocked(context.Background(), reason)
	}()
	return nil
}

func (s *CycleScheduler) execute(ctx context.Context, reason string) (*models.CycleReport, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.inFlight.Store(false)
	return s.runLocked(ctx, reason)
}

// runLocked must be called with inFlight held.
func (s *CycleScheduler) runLocked(parent context.Context, reason string) (*models.CycleReport, error) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.RunTimeout)
	defer cancel()

	log := s.log.WithField("trigger", reason)
	log.Debug("starting pipeline run")

	report, err := s.run(ctx)
	if report != nil {
		s.mu.Lock()
		s.last = report
		s.mu.Unlock()
	}
	if err != nil {
		log.WithError(err).Error("pipeline run failed")
		if s.cfg.OnFailure != nil {
			s.cfg.OnFailure(report, err)
		}
	}
	return report, err
}
