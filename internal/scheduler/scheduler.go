// Package scheduler triggers ingestion runs from database-managed cron
// schedules. Schedules are reloaded periodically so edits take effect
// without a restart.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tidwall/gjson"

	"github.com/jonesrussell/hotel-ingest/internal/logger"
	"github.com/jonesrussell/hotel-ingest/internal/models"
	"github.com/jonesrussell/hotel-ingest/internal/orchestrator"
	"github.com/jonesrussell/hotel-ingest/internal/schedule"
)

const defaultReloadInterval = time.Minute

// PoiStarter starts a POI collection run.
type PoiStarter interface {
	Run(ctx context.Context, trigger, runID string) error
}

// HotelStarter starts a hotel sync run.
type HotelStarter interface {
	Run(ctx context.Context, trigger string, continuous bool) error
}

// ScheduleSource lists the enabled cron schedules.
type ScheduleSource interface {
	ListEnabledSchedules(ctx context.Context) ([]models.JobSchedule, error)
}

// Scheduler owns the cron runner and keeps its entries in sync with the
// schedule table.
type Scheduler struct {
	cron   *cron.Cron
	source ScheduleSource
	cache  *schedule.Cache
	poi    PoiStarter
	hotel  HotelStarter
	log    logger.Logger

	reloadInterval time.Duration

	mu      sync.Mutex
	entries map[string]scheduledEntry
	started bool
}

type scheduledEntry struct {
	id   cron.EntryID
	expr string
}

// New creates a scheduler over the given run starters.
func New(source ScheduleSource, cache *schedule.Cache, poi PoiStarter, hotel HotelStarter, log logger.Logger) *Scheduler {
	return &Scheduler{
		cron:           cron.New(),
		source:         source,
		cache:          cache,
		poi:            poi,
		hotel:          hotel,
		log:            log,
		reloadInterval: defaultReloadInterval,
		entries:        make(map[string]scheduledEntry),
	}
}

// Start loads the schedules and begins firing them.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if err := s.Reload(ctx); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.reloadInterval), func() {
		if err := s.Reload(ctx); err != nil {
			s.log.Error("schedule reload failed", logger.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("register reload entry: %w", err)
	}

	s.cron.Start()
	s.log.Info("scheduler started", logger.Int("schedules", len(s.entries)))
	return nil
}

// Stop halts the cron runner, waiting for in-flight jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// Reload syncs cron entries with the schedule table: new and changed
// schedules are re-registered, disabled ones removed.
func (s *Scheduler) Reload(ctx context.Context) error {
	schedules, err := s.source.ListEnabledSchedules(ctx)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(schedules))
	for _, sched := range schedules {
		seen[sched.JobCode] = struct{}{}

		existing, ok := s.entries[sched.JobCode]
		if ok && existing.expr == sched.CronExpr {
			continue
		}
		if ok {
			s.cron.Remove(existing.id)
		}

		id, err := s.cron.AddFunc(sched.CronExpr, s.jobFunc(ctx, sched.JobCode))
		if err != nil {
			s.log.Error("invalid cron expression",
				logger.String("job_code", sched.JobCode),
				logger.String("expr", sched.CronExpr),
				logger.Error(err))
			delete(s.entries, sched.JobCode)
			continue
		}
		s.entries[sched.JobCode] = scheduledEntry{id: id, expr: sched.CronExpr}
		s.log.Info("schedule registered",
			logger.String("job_code", sched.JobCode),
			logger.String("expr", sched.CronExpr))
	}

	for jobCode, entry := range s.entries {
		if _, ok := seen[jobCode]; !ok {
			s.cron.Remove(entry.id)
			delete(s.entries, jobCode)
			s.log.Info("schedule removed", logger.String("job_code", jobCode))
		}
	}
	return nil
}

// jobFunc builds the firing closure for one job code. The enabled flag
// and params are re-read through the cache at fire time so a disable
// takes effect within the cache TTL.
func (s *Scheduler) jobFunc(ctx context.Context, jobCode string) func() {
	return func() {
		sched, err := s.cache.Get(ctx, jobCode)
		if err != nil {
			s.log.Error("schedule lookup failed",
				logger.String("job_code", jobCode),
				logger.Error(err))
			return
		}
		if !sched.Enabled {
			s.log.Debug("schedule disabled, skipping fire", logger.String("job_code", jobCode))
			return
		}

		if err := s.dispatch(ctx, jobCode, sched.Params); err != nil {
			s.log.Error("scheduled run failed",
				logger.String("job_code", jobCode),
				logger.Error(err))
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, jobCode, params string) error {
	switch jobCode {
	case models.JobPoiCollect:
		err := s.poi.Run(ctx, models.TriggerCron, "")
		if errors.Is(err, orchestrator.ErrRunSkipped) {
			s.log.Info("scheduled collection skipped, already running")
			return nil
		}
		return err
	case models.JobHotelSync:
		continuous := gjson.Get(params, "continuous").Bool()
		err := s.hotel.Run(ctx, models.TriggerCron, continuous)
		if errors.Is(err, orchestrator.ErrRunSkipped) {
			s.log.Info("scheduled hotel sync skipped, already running")
			return nil
		}
		return err
	default:
		return fmt.Errorf("unknown job code %q", jobCode)
	}
}
