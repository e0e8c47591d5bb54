package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/hotel-ingest/internal/config"
	"github.com/jonesrussell/hotel-ingest/internal/gate"
	"github.com/jonesrussell/hotel-ingest/internal/keypool"
	"github.com/jonesrussell/hotel-ingest/internal/logger"
	"github.com/jonesrussell/hotel-ingest/internal/metrics"
	"github.com/jonesrussell/hotel-ingest/internal/models"
	"github.com/jonesrussell/hotel-ingest/internal/taskstate"
	"github.com/jonesrussell/hotel-ingest/internal/validator"
	"github.com/jonesrussell/hotel-ingest/internal/workunits"
)

// PoiRunner executes one POI collection run: claim work units, page
// through each one, validate and persist, and keep the control slot and
// run record current throughout.
type PoiRunner struct {
	gate    *gate.ConcurrencyGate
	state   *taskstate.Store
	units   *workunits.Store
	runs    RunRepository
	fetcher PoiFetcher
	valid   *validator.Validator
	sink    PoiPersister
	metrics *metrics.Metrics
	cfg     config.CollectConfig
	log     logger.Logger
	now     func() time.Time
}

// NewPoiRunner wires a POI collection runner.
func NewPoiRunner(
	g *gate.ConcurrencyGate,
	state *taskstate.Store,
	units *workunits.Store,
	runs RunRepository,
	fetcher PoiFetcher,
	valid *validator.Validator,
	persister PoiPersister,
	m *metrics.Metrics,
	cfg config.CollectConfig,
	log logger.Logger,
) *PoiRunner {
	if cfg.ClaimLimit <= 0 {
		cfg.ClaimLimit = 10
	}
	if cfg.PausePollInterval <= 0 {
		cfg.PausePollInterval = 5 * time.Second
	}
	return &PoiRunner{
		gate:    g,
		state:   state,
		units:   units,
		runs:    runs,
		fetcher: fetcher,
		valid:   valid,
		sink:    persister,
		metrics: m,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// Run executes one collection run. A non-empty runID resumes that run's
// surviving work-unit ledger; an empty one starts a fresh run. Returns
// ErrRunSkipped when the job is already running elsewhere.
func (r *PoiRunner) Run(ctx context.Context, trigger, runID string) error {
	acquired, err := r.gate.TryAcquire(ctx, models.JobPoiCollect)
	if err != nil {
		return fmt.Errorf("acquire gate: %w", err)
	}
	if !acquired {
		r.log.Info("collection skipped, gate is full", logger.String("trigger", trigger))
		return ErrRunSkipped
	}
	defer func() {
		if err := r.gate.Release(context.WithoutCancel(ctx), models.JobPoiCollect); err != nil {
			r.log.Error("gate release failed", logger.Error(err))
		}
	}()

	if running, err := r.runs.FindRunningByJobCode(ctx, models.JobPoiCollect); err != nil {
		return fmt.Errorf("check running run: %w", err)
	} else if running != nil {
		r.log.Warn("collection skipped, run already recorded as running",
			logger.Int64("run_db_id", running.ID))
		return ErrRunSkipped
	}

	if runID == "" {
		runID = uuid.NewString()
	}
	traceID := uuid.NewString()
	startedAt := r.now()

	fresh, err := r.units.Initialize(ctx, runID, r.cfg.Regions, r.cfg.Categories)
	if err != nil {
		return fmt.Errorf("initialize work units: %w", err)
	}
	if !fresh {
		// Units the interrupted run had claimed are still PROCESSING;
		// make them claimable again before this run starts working.
		reset, err := r.units.ResetProcessing(ctx, runID)
		if err != nil {
			return fmt.Errorf("reset interrupted units: %w", err)
		}
		if reset > 0 {
			r.log.Info("interrupted units reset to pending",
				logger.String("run_id", runID),
				logger.Int("reset", reset))
		}
	}
	stats, err := r.units.Stats(ctx, runID)
	if err != nil {
		return fmt.Errorf("read unit stats: %w", err)
	}

	if err := r.state.Start(ctx, runID, traceID, stats.Total); err != nil {
		return fmt.Errorf("claim control slot: %w", err)
	}

	runDBID, err := r.runs.CreateRun(ctx, traceID, models.JobPoiCollect, trigger)
	if err != nil {
		r.failState(ctx, err.Error())
		return fmt.Errorf("create run record: %w", err)
	}

	r.log.Info("collection run started",
		logger.String("run_id", runID),
		logger.String("trace_id", traceID),
		logger.String("trigger", trigger),
		logger.Bool("resumed", !fresh),
		logger.Int("total_units", stats.Total))

	runErr := r.processUnits(ctx, runID, runDBID)
	return r.finalize(ctx, runID, runDBID, startedAt, runErr)
}

func (r *PoiRunner) processUnits(ctx context.Context, runID string, runDBID int64) error {
	completed := 0
	collected := 0

	for {
		if err := r.checkControl(ctx); err != nil {
			return err
		}

		batch, err := r.units.ClaimPending(ctx, runID, r.cfg.ClaimLimit)
		if err != nil {
			return fmt.Errorf("claim pending units: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		for _, unit := range batch {
			if err := r.checkControl(ctx); err != nil {
				return err
			}

			if err := r.units.MarkProcessing(ctx, runID, unit.UnitKey); err != nil {
				return fmt.Errorf("mark unit %s processing: %w", unit.UnitKey, err)
			}

			count, err := r.collectUnit(ctx, unit, runID, runDBID)
			switch {
			case errors.Is(err, keypool.ErrNoKeyAvailable):
				// No credential left; nothing further can run today.
				r.markFailed(ctx, runID, unit.UnitKey)
				return err
			case errors.Is(err, errRunStopped) || errors.Is(err, context.Canceled):
				return errRunStopped
			case err != nil:
				r.log.Warn("work unit failed",
					logger.String("unit", unit.UnitKey),
					logger.Error(err))
				r.markFailed(ctx, runID, unit.UnitKey)
				continue
			}

			if err := r.units.MarkCompleted(ctx, runID, unit.UnitKey, count); err != nil {
				return fmt.Errorf("mark unit %s completed: %w", unit.UnitKey, err)
			}
			completed++
			collected += count

			if err := r.state.UpdateProgress(ctx, taskstate.Progress{
				CompletedUnits:  completed,
				TotalCollected:  collected,
				CurrentRegion:   unit.RegionCode,
				CurrentCategory: unit.CategoryCode,
			}); err != nil {
				r.log.Warn("progress update failed", logger.Error(err))
			}
			r.publishUnitCounts(ctx, runID)
		}
	}
}

// collectUnit pages through one (region, category) unit.
func (r *PoiRunner) collectUnit(ctx context.Context, unit models.WorkUnit, runID string, runDBID int64) (int, error) {
	total := 0
	for page := 1; ; page++ {
		if err := r.checkControl(ctx); err != nil {
			return total, err
		}

		fetchStart := r.now()
		p, err := r.fetcher.FetchPoiPage(ctx, unit.RegionCode, unit.CategoryCode, page)
		if err != nil {
			r.metrics.RecordFetchError(models.JobPoiCollect)
			return total, err
		}
		r.metrics.RecordPageFetched(models.JobPoiCollect, r.now().Sub(fetchStart).Seconds())

		flattened := r.valid.Flatten(p.Items)
		valid, dropped := r.valid.FilterValid(flattened)
		if dropped > 0 {
			r.log.Debug("records dropped by validation",
				logger.String("unit", unit.UnitKey),
				logger.Int("dropped", dropped))
		}

		pois := r.valid.ToPois(valid, unit, runID)
		success, failed, err := r.sink.UpsertBatches(ctx, pois, runDBID)
		if err != nil {
			return total, fmt.Errorf("persist unit %s page %d: %w", unit.UnitKey, page, err)
		}
		r.metrics.RecordPersisted(models.JobPoiCollect, success, failed)
		total += success

		if !p.HasMore {
			return total, nil
		}
	}
}

// checkControl honors operator stop and pause requests. Pause busy-polls
// the control slot; a stop during the pause aborts the run.
func (r *PoiRunner) checkControl(ctx context.Context) error {
	for {
		stopped, err := r.state.ShouldStop(ctx)
		if err != nil {
			return fmt.Errorf("read control slot: %w", err)
		}
		if stopped {
			return errRunStopped
		}

		paused, err := r.state.ShouldPause(ctx)
		if err != nil {
			return fmt.Errorf("read control slot: %w", err)
		}
		if !paused {
			return nil
		}

		select {
		case <-ctx.Done():
			return errRunStopped
		case <-time.After(r.cfg.PausePollInterval):
		}
	}
}

func (r *PoiRunner) finalize(ctx context.Context, runID string, runDBID int64, startedAt time.Time, runErr error) error {
	// Finalization must proceed even when the run context was canceled.
	ctx = context.WithoutCancel(ctx)

	stats, statsErr := r.units.Stats(ctx, runID)
	if statsErr != nil {
		r.log.Error("final unit stats unavailable", logger.Error(statsErr))
	}

	var status models.RunStatus
	var message string
	switch {
	case errors.Is(runErr, errRunStopped):
		status = models.RunStopped
		message = "stopped by operator"
		if err := r.state.Stop(ctx, message); err != nil && !errors.Is(err, taskstate.ErrInvalidTransition) {
			r.log.Error("control slot stop failed", logger.Error(err))
		}
	case runErr != nil:
		status = models.RunFailed
		message = runErr.Error()
		r.failState(ctx, message)
	case stats.Failed > 0:
		status = models.RunPartial
		message = fmt.Sprintf("%d of %d units failed", stats.Failed, stats.Total)
		r.completeState(ctx)
	default:
		status = models.RunSuccess
		r.completeState(ctx)
	}

	if err := r.runs.FinalizeRun(ctx, runDBID, status, message); err != nil {
		r.log.Error("run finalize failed",
			logger.Int64("run_db_id", runDBID),
			logger.Error(err))
	}
	r.metrics.RecordRunFinished(models.JobPoiCollect, string(status), r.now().Sub(startedAt).Seconds())

	r.log.Info("collection run finished",
		logger.String("run_id", runID),
		logger.String("status", string(status)),
		logger.Int("completed_units", stats.Completed),
		logger.Int("failed_units", stats.Failed))

	if runErr != nil && !errors.Is(runErr, errRunStopped) {
		return runErr
	}
	return nil
}

func (r *PoiRunner) markFailed(ctx context.Context, runID, unitKey string) {
	if err := r.units.MarkFailed(ctx, runID, unitKey); err != nil {
		r.log.Error("unit fail mark lost",
			logger.String("unit", unitKey),
			logger.Error(err))
	}
}

func (r *PoiRunner) publishUnitCounts(ctx context.Context, runID string) {
	stats, err := r.units.Stats(ctx, runID)
	if err != nil {
		return
	}
	r.metrics.SetUnitCounts(stats.Pending, stats.Processing, stats.Completed, stats.Failed)
}

func (r *PoiRunner) failState(ctx context.Context, msg string) {
	if err := r.state.Fail(ctx, msg); err != nil && !errors.Is(err, taskstate.ErrInvalidTransition) {
		r.log.Error("control slot fail mark lost", logger.Error(err))
	}
}

func (r *PoiRunner) completeState(ctx context.Context) {
	if err := r.state.Complete(ctx); err != nil && !errors.Is(err, taskstate.ErrInvalidTransition) {
		r.log.Error("control slot complete mark lost", logger.Error(err))
	}
}
