// services/scheduler.go
package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"club-ladder/config"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
)

// Scheduler runs the sweeps on a timer. Jobs run in singleton mode: a tick
// that fires while the previous run is still going is skipped.
type Scheduler struct {
	sched    gocron.Scheduler
	sweeps   *SweepService
	archiver SweepArchiver
	cfg      config.ScheduleConfig
}

func NewScheduler(sweeps *SweepService, archiver SweepArchiver, clock clockwork.Clock, cfg config.ScheduleConfig) (*Scheduler, error) {
	sched, err := gocron.NewScheduler(
		gocron.WithClock(clock),
		gocron.WithLocation(time.UTC),
		gocron.WithGlobalJobOptions(gocron.WithSingletonMode(gocron.LimitModeReschedule)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{sched: sched, sweeps: sweeps, archiver: archiver, cfg: cfg}, nil
}

// Start registers the three sweeps and starts ticking. The jobs stop when
// ctx is cancelled or Shutdown is called.
func (s *Scheduler) Start(ctx context.Context) error {
	hour, minute, err := s.cfg.DecayClock()
	if err != nil {
		return err
	}

	jobs := []struct {
		kind       SweepKind
		definition gocron.JobDefinition
	}{
		{SweepReminders, gocron.DurationJob(s.cfg.SweepInterval)},
		{SweepAutoValidate, gocron.DurationJob(s.cfg.SweepInterval)},
		{SweepDecay, gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(hour, minute, 0)))},
	}
	for _, j := range jobs {
		kind := j.kind
		_, err := s.sched.NewJob(
			j.definition,
			gocron.NewTask(func() { s.runOnce(ctx, kind) }),
			gocron.WithName(string(kind)),
		)
		if err != nil {
			return fmt.Errorf("failed to schedule %s sweep: %w", kind, err)
		}
	}

	s.sched.Start()
	log.Printf("[Scheduler] reminders + auto-validate every %s, decay daily at %02d:%02d UTC", s.cfg.SweepInterval, hour, minute)

	go func() {
		<-ctx.Done()
		if err := s.Shutdown(); err != nil {
			log.Printf("[Scheduler] shutdown error: %v", err)
		}
	}()
	return nil
}

func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}

// runOnce executes one sweep and archives its summary. Failures are logged;
// the next tick retries whatever is still eligible.
func (s *Scheduler) runOnce(ctx context.Context, kind SweepKind) {
	if ctx.Err() != nil {
		return
	}
	res, err := s.sweeps.Run(ctx, kind)
	if err != nil {
		log.Printf("[Scheduler] ❌ %s sweep aborted: %v", kind, err)
		return
	}
	if res.Failed > 0 {
		log.Printf("[Scheduler] ⚠️ %s sweep finished with %d failures", kind, res.Failed)
	}
	if s.archiver == nil || res.Processed == 0 {
		return
	}
	if err := s.archiver.Archive(ctx, res); err != nil {
		log.Printf("[Scheduler] failed to archive %s summary: %v", kind, err)
	}
}
