package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/coinflow/internal/logger"
	"github.com/kjannette/coinflow/internal/models"
	"github.com/kjannette/coinflow/internal/scheduler"
)

func quiet() *logger.Entry { return logger.Discard().WithComponent("scheduler") }

func TestCycleScheduler_RunNow(t *testing.T) {
	var calls atomic.Int32
	sched := scheduler.NewCycleScheduler(func(ctx context.Context) (*models.CycleReport, error) {
		calls.Add(1)
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline, "run should carry a timeout")
		return &models.CycleReport{RunID: "r1", Written: 3}, nil
	}, scheduler.CycleSchedulerConfig{Interval: time.Hour, Log: quiet()})

	report, err := sched.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Written)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, "r1", sched.LastReport().RunID)
	assert.False(t, sched.Running())
}

func TestCycleScheduler_StartRunsImmediatelyAndOnTicks(t *testing.T) {
	var calls atomic.Int32
	sched := scheduler.NewCycleScheduler(func(ctx context.Context) (*models.CycleReport, error) {
		calls.Add(1)
		return &models.CycleReport{}, nil
	}, scheduler.CycleSchedulerConfig{Interval: 20 * time.Millisecond, Log: quiet()})

	sched.Start()
	assert.True(t, sched.Running())
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	sched.Stop()
	assert.False(t, sched.Running())
	after := calls.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, after, calls.Load(), "no runs after Stop")
}

func TestCycleScheduler_NoOverlap(t *testing.T) {
	release := make(chan struct{})
	var active, maxActive atomic.Int32
	sched := scheduler.NewCycleScheduler(func(ctx context.Context) (*models.CycleReport, error) {
		n := active.Add(1)
		defer active.Add(-1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		<-release
		return &models.CycleReport{}, nil
	}, scheduler.CycleSchedulerConfig{Interval: 5 * time.Millisecond, Log: quiet()})

	sched.Start()
	require.Eventually(t, sched.InFlight, time.Second, time.Millisecond)

	err := sched.Trigger("manual")
	assert.ErrorIs(t, err, scheduler.ErrRunInProgress)
	_, err = sched.RunNow(context.Background())
	assert.ErrorIs(t, err, scheduler.ErrRunInProgress)

	time.Sleep(30 * time.Millisecond)
	close(release)
	sched.Stop()
	assert.EqualValues(t, 1, maxActive.Load())
}

func TestCycleScheduler_TriggerAfterStop(t *testing.T) {
	var calls atomic.Int32
	sched := scheduler.NewCycleScheduler(func(ctx context.Context) (*models.CycleReport, error) {
		calls.Add(1)
		return &models.CycleReport{}, nil
	}, scheduler.CycleSchedulerConfig{Interval: time.Hour, SkipInitialRun: true, Log: quiet()})

	assert.ErrorIs(t, sched.Trigger("api"), scheduler.ErrStopped, "not started yet")

	sched.Start()
	require.NoError(t, sched.Trigger("api"))
	require.Eventually(t, func() bool { return calls.Load() == 1 && !sched.InFlight() }, time.Second, time.Millisecond)

	// Triggers racing shutdown either start before Stop waits or are refused.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := sched.Trigger("api")
			if err != nil {
				assert.True(t, errors.Is(err, scheduler.ErrStopped) || errors.Is(err, scheduler.ErrRunInProgress), err)
			}
		}()
	}
	sched.Stop()
	wg.Wait()

	assert.ErrorIs(t, sched.Trigger("api"), scheduler.ErrStopped)
	assert.False(t, sched.InFlight())
}

func TestCycleScheduler_OnFailure(t *testing.T) {
	boom := errors.New("fetch failed")
	var got error
	sched := scheduler.NewCycleScheduler(func(ctx context.Context) (*models.CycleReport, error) {
		return &models.CycleReport{RunID: "r2", Err: boom}, boom
	}, scheduler.CycleSchedulerConfig{
		Interval: time.Hour,
		Log:      quiet(),
		OnFailure: func(report *models.CycleReport, err error) {
			assert.Equal(t, "r2", report.RunID)
			got = err
		},
	})

	_, err := sched.RunNow(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, got, boom)
}

func TestCycleScheduler_RunTimeout(t *testing.T) {
	sched := scheduler.NewCycleScheduler(func(ctx context.Context) (*models.CycleReport, error) {
		<-ctx.Done()
		return &models.CycleReport{}, ctx.Err()
	}, scheduler.CycleSchedulerConfig{Interval: time.Hour, RunTimeout: 10 * time.Millisecond, Log: quiet()})

	_, err := sched.RunNow(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, sched.InFlight())
}

func TestCycleScheduler_StartTwice(t *testing.T) {
	var calls atomic.Int32
	sched := scheduler.NewCycleScheduler(func(ctx context.Context) (*models.CycleReport, error) {
		calls.Add(1)
		return &models.CycleReport{}, nil
	}, scheduler.CycleSchedulerConfig{Interval: time.Hour, Log: quiet()})

	sched.Start()
	sched.Start()
	defer sched.Stop()
	require.Eventually(t, func() bool { return calls.Load() == 1 && !sched.InFlight() }, time.Second, time.Millisecond)
}
