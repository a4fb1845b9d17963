package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kjannette/coinflow/internal/api"
	"github.com/kjannette/coinflow/internal/models"
	"github.com/kjannette/coinflow/internal/notifications"
	"github.com/kjannette/coinflow/internal/scheduler"
)

const banner = `
╔══════════════════════════════════════╗
║       coinflow market pipeline       ║
╚══════════════════════════════════════╝
`

var skipInitialRun bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the query API",
	Long: `Start the cycle scheduler and the REST API.

A cycle runs on startup and then every schedule.interval (15m by default,
5m with SCHEDULE_PROFILE=test). Overlapping runs are skipped. Failed cycles
are reported to WEBHOOK_URL when set.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&skipInitialRun, "skip-initial-run", false, "wait for the first tick instead of running on startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	fmt.Print(banner)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	log := a.log.WithComponent("serve")

	// Notifications
	notify := notifications.NewSender(a.cfg.WebhookURL, a.cfg.Pipeline.Name, a.log.WithComponent("notifications"))

	// 1. Scheduler
	sched := scheduler.NewCycleScheduler(a.runner.RunCycle, scheduler.CycleSchedulerConfig{
		Interval:       a.cfg.Schedule.Interval,
		RunTimeout:     a.cfg.Schedule.RunTimeout,
		SkipInitialRun: skipInitialRun,
		OnFailure: func(report *models.CycleReport, err error) {
			notify.CycleFailed(report, err)
		},
		Log: a.log.WithComponent("scheduler"),
	})

	// 2. API server
	srv := api.NewServer(a.stores, sched, api.Options{
		Port:       a.cfg.API.Port,
		APIKey:     a.cfg.API.Key,
		CORSOrigin: a.cfg.API.CORSAllowOrigin,
		Log:        a.log.WithComponent("api"),
	})
	srvErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	sched.Start()
	log.Info("all services started")

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
		log.Info("shutting down gracefully")
	case err = <-srvErr:
		log.WithError(err).Error("API server failed")
	}

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.WithError(serr).Warn("API shutdown error")
	}
	log.Info("shutdown complete")
	return err
}
