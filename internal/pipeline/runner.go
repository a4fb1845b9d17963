package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kjannette/coinflow/internal/logger"
	"github.com/kjannette/coinflow/internal/models"
	"github.com/kjannette/coinflow/internal/store"
)

// Exporter archives a committed batch, returning where it was written.
type Exporter interface {
	Export(ctx context.Context, runID string, records []models.EnrichedRecord) (string, error)
}

type MetricsPublisher interface {
	PublishCycle(ctx context.Context, report *models.CycleReport)
}

type RunnerOptions struct {
	Fetcher Fetcher
	Stores  StoreProvider
	// Optional collaborators.
	Artifacts *ArtifactStore
	Exporter  Exporter
	Metrics   MetricsPublisher
	// SkipUnchanged skips the store stage when its input matches the last
	// materialized store input. Requires Artifacts.
	SkipUnchanged bool
	Log           *logger.Entry
}

// Runner is the sequential driver for the stage graph.
type Runner struct {
	opts RunnerOptions
	log  *logger.Entry
	now  func() time.Time
}

func NewRunner(opts RunnerOptions) *Runner {
	log := opts.Log
	if log == nil {
		log = logger.GetLogger().WithComponent("pipeline")
	}
	return &Runner{opts: opts, log: log, now: time.Now}
}

// RunCycle executes fetch, validate, enrich and store in order. A fetch
// failure returns before the store is acquired, so it never mutates it.
func (r *Runner) RunCycle(ctx context.Context) (*models.CycleReport, error) {
	report := &models.CycleReport{RunID: uuid.NewString(), StartedAt: r.now().UTC()}
	log := r.log.WithField("run_id", report.RunID)
	log.Info("cycle started")

	err := r.runCycle(ctx, report, log)
	report.FinishedAt = r.now().UTC()
	report.Err = err

	if r.opts.Metrics != nil {
		r.opts.Metrics.PublishCycle(ctx, report)
	}

	fields := logger.Fields{
		"fetched":       report.Fetched,
		"valid":         report.Valid,
		"invalid":       report.Invalid,
		"written":       report.Written,
		"store_skipped": report.StoreSkipped,
		"duration_ms":   report.Duration().Milliseconds(),
	}
	if err != nil {
		log.WithFields(fields).WithError(err).Error("cycle failed")
		return report, err
	}
	log.WithFields(fields).Info("cycle finished")
	return report, nil
}

func (r *Runner) runCycle(ctx context.Context, report *models.CycleReport, log *logger.Entry) (err error) {
	start := time.Now()
	raws, err := FetchStage(ctx, r.opts.Fetcher)
	if err != nil {
		return fmt.Errorf("%s: %w", StageFetch, err)
	}
	report.Fetched = len(raws)
	logger.LogDuration(log.WithField("stage", StageFetch), StageFetch, time.Since(start), logger.Fields{"records": len(raws)})
	r.saveArtifact(log, StageFetch, report.RunID, "", len(raws), raws)

	vr := ValidateStage(raws)
	report.Valid, report.Invalid = len(vr.Valid), len(vr.Rejected)
	report.Rejected = vr.Rejected
	r.logValidation(log, vr)
	r.saveArtifact(log, StageValidate, report.RunID, "", len(vr.Valid), vr)

	st, err := r.opts.Stores.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire store: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			log.WithError(cerr).Warn("store release failed")
		}
	}()
	defer func() {
		run := report.Run()
		run.FinishedAt = r.now().UTC()
		if err != nil {
			run.Status = models.RunFailed
			run.Error = err.Error()
		}
		if rerr := st.RecordRun(context.WithoutCancel(ctx), run); rerr != nil {
			log.WithError(rerr).Warn("could not record run")
		}
	}()

	start = time.Now()
	enriched, err := EnrichStage(ctx, st, vr.Valid)
	if err != nil {
		return fmt.Errorf("%s: %w", StageEnrich, err)
	}
	logger.LogDuration(log.WithField("stage", StageEnrich), StageEnrich, time.Since(start), logger.Fields{"records": len(enriched)})
	art := r.saveArtifact(log, StageEnrich, report.RunID, "", len(enriched), enriched)

	storeInput := ""
	if art != nil {
		storeInput = art.OutputFingerprint
	}
	if r.opts.SkipUnchanged && storeInput != "" && r.opts.Artifacts.Unchanged(StageStore, storeInput) {
		report.StoreSkipped = true
		log.WithField("stage", StageStore).Info("store input unchanged since last materialization, skipping")
		return nil
	}

	start = time.Now()
	res, err := StoreStage(ctx, st, report.RunID, enriched)
	if err != nil {
		return fmt.Errorf("%s: %w", StageStore, err)
	}
	report.Written = res.Written
	logger.LogDuration(log.WithField("stage", StageStore), StageStore, time.Since(start), logger.Fields{"records": res.Written})
	r.saveArtifact(log, StageStore, report.RunID, storeInput, res.Written, res)

	if r.opts.Exporter != nil && len(enriched) > 0 {
		// The batch is already committed; archiving is best effort.
		path, xerr := r.opts.Exporter.Export(ctx, report.RunID, enriched)
		if xerr != nil {
			log.WithError(xerr).Warn("archive export failed")
		} else {
			report.ArchivePath = path
		}
	}
	return nil
}

// Materialize runs a single stage from its upstream's cached artifact.
func (r *Runner) Materialize(ctx context.Context, stage string) (*Artifact, error) {
	if r.opts.Artifacts == nil {
		return nil, errors.New("materialize requires an artifact directory")
	}
	if _, ok := LookupStage(stage); !ok {
		return nil, fmt.Errorf("unknown stage %q", stage)
	}

	runID := uuid.NewString()
	log := r.log.WithFields(logger.Fields{"run_id": runID, "stage": stage})
	arts := r.opts.Artifacts
	log.Info("materializing stage")

	switch stage {
	case StageFetch:
		raws, err := FetchStage(ctx, r.opts.Fetcher)
		if err != nil {
			return nil, err
		}
		return arts.Save(StageFetch, runID, "", len(raws), raws)

	case StageValidate:
		var raws []models.RawObservation
		up, err := arts.Load(StageFetch, &raws)
		if err != nil {
			return nil, err
		}
		vr := ValidateStage(raws)
		r.logValidation(log, vr)
		return arts.Save(StageValidate, runID, up.OutputFingerprint, len(vr.Valid), vr)

	case StageEnrich:
		var vr ValidationResult
		up, err := arts.Load(StageValidate, &vr)
		if err != nil {
			return nil, err
		}
		var enriched []models.EnrichedRecord
		err = r.withStore(ctx, func(st store.Store) error {
			enriched, err = EnrichStage(ctx, st, vr.Valid)
			return err
		})
		if err != nil {
			return nil, err
		}
		return arts.Save(StageEnrich, runID, up.OutputFingerprint, len(enriched), enriched)

	default: // StageStore
		var enriched []models.EnrichedRecord
		up, err := arts.Load(StageEnrich, &enriched)
		if err != nil {
			return nil, err
		}
		if r.opts.SkipUnchanged && arts.Unchanged(StageStore, up.OutputFingerprint) {
			log.Info("store input unchanged since last materialization, skipping")
			return arts.Load(StageStore, nil)
		}
		var res store.UpsertResult
		err = r.withStore(ctx, func(st store.Store) error {
			started := r.now().UTC()
			res, err = StoreStage(ctx, st, runID, enriched)
			run := models.Run{
				RunID:      runID,
				StartedAt:  started,
				FinishedAt: r.now().UTC(),
				Status:     models.RunSucceeded,
				Valid:      len(enriched),
				Written:    res.Written,
			}
			if err != nil {
				run.Status, run.Error = models.RunFailed, err.Error()
			}
			if rerr := st.RecordRun(context.WithoutCancel(ctx), run); rerr != nil {
				log.WithError(rerr).Warn("could not record run")
			}
			return err
		})
		if err != nil {
			return nil, err
		}
		return arts.Save(StageStore, runID, up.OutputFingerprint, res.Written, res)
	}
}

func (r *Runner) withStore(ctx context.Context, fn func(store.Store) error) error {
	st, err := r.opts.Stores.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire store: %w", err)
	}
	defer st.Close()
	return fn(st)
}

func (r *Runner) saveArtifact(log *logger.Entry, stage, runID, input string, records int, payload any) *Artifact {
	if r.opts.Artifacts == nil {
		return nil
	}
	art, err := r.opts.Artifacts.Save(stage, runID, input, records, payload)
	if err != nil {
		log.WithField("stage", stage).WithError(err).Warn("could not persist stage artifact")
		return nil
	}
	return art
}

func (r *Runner) logValidation(log *logger.Entry, vr ValidationResult) {
	log.WithFields(logger.Fields{
		"stage":        StageValidate,
		"total":        vr.Total(),
		"valid":        len(vr.Valid),
		"invalid":      len(vr.Rejected),
		"success_rate": fmt.Sprintf("%.1f%%", vr.SuccessRate()),
	}).Info("validation summary")

	for i, rej := range vr.Rejected {
		if i == 3 {
			log.WithField("omitted", len(vr.Rejected)-3).Warn("further rejected records not shown")
			break
		}
		log.WithFields(logger.Fields{
			"index":    rej.Index,
			"asset_id": rej.AssetID,
			"fields":   rej.Fields,
		}).Warn("record rejected")
	}
}
