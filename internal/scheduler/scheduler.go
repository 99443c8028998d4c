// Package scheduler wires up the cron loop that fires the recurring pipeline
// tasks (match sweep, queue visibility sweep, dead-letter report) and exposes
// the manual controls consumed by the admin surface.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dwiprasetyo/job-portal/internal/model"
)

// ErrRunInProgress means a tick fired while the previous run of the same task
// was still executing. The tick is skipped, nothing is recorded.
var ErrRunInProgress = errors.New("previous run still in progress")

// CronStore persists CronJobConfig rows. The gorm implementation lives in
// internal/repository.
type CronStore interface {
	Seed(ctx context.Context, cfg *model.CronJobConfig) error
	List(ctx context.Context) ([]model.CronJobConfig, error)
	Find(ctx context.Context, name string) (*model.CronJobConfig, error)
	SetEnabled(ctx context.Context, name string, enabled bool) error
	UpdateRun(ctx context.Context, name string, lastRun, nextRun time.Time) error
}

// Task is one recurring job. Run failures are logged, they never disable
// future ticks.
type Task struct {
	Name     string
	Schedule string // cron spec, e.g. "@every 6h"
	Run      func(ctx context.Context) error
}

type taskState struct {
	task     Task
	schedule cron.Schedule
	running  atomic.Bool
}

// Scheduler wraps robfig/cron and manages the per-task state machine:
// idle → due → running → idle, with enabled/disabled orthogonal. Overlapping
// runs of the same task are skipped, not queued.
type Scheduler struct {
	cron  *cron.Cron
	store CronStore
	tasks map[string]*taskState
	ctx   context.Context
}

func New(store CronStore) *Scheduler {
	return &Scheduler{
		cron:  cron.New(cron.WithLogger(cron.DefaultLogger)),
		store: store,
		tasks: make(map[string]*taskState),
	}
}

// Register adds a task and seeds its config row. Must be called before Start.
func (s *Scheduler) Register(ctx context.Context, task Task) error {
	schedule, err := cron.ParseStandard(task.Schedule)
	if err != nil {
		return fmt.Errorf("parse schedule %q for %s: %w", task.Schedule, task.Name, err)
	}

	next := schedule.Next(time.Now())
	cfg := &model.CronJobConfig{
		Name:     task.Name,
		Schedule: task.Schedule,
		Enabled:  true,
		NextRun:  &next,
	}
	if err := s.store.Seed(ctx, cfg); err != nil {
		return fmt.Errorf("seed cron config %s: %w", task.Name, err)
	}

	s.tasks[task.Name] = &taskState{task: task, schedule: schedule}
	return nil
}

// Start registers every task with cron and starts the loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	for name, state := range s.tasks {
		name, state := name, state
		if _, err := s.cron.AddFunc(state.task.Schedule, func() {
			s.tick(name)
		}); err != nil {
			return fmt.Errorf("cron.AddFunc(%s): %w", name, err)
		}
	}

	s.cron.Start()
	log.Printf("[scheduler] cron started with %d task(s)", len(s.tasks))
	return nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("[scheduler] cron stopped")
}

// tick is the scheduled entry point: it honors the enabled flag, skips
// overlapping runs, and rolls next_run forward afterwards.
func (s *Scheduler) tick(name string) {
	state := s.tasks[name]

	cfg, err := s.store.Find(s.ctx, name)
	if err != nil {
		log.Printf("[scheduler] %s: load config: %v", name, err)
		return
	}
	if !cfg.Enabled {
		log.Printf("[scheduler] %s is disabled, skipping tick", name)
		return
	}

	now := time.Now()
	if err := s.run(s.ctx, name, state); err != nil {
		log.Printf("[scheduler] %s: %v", name, err)
		// a skipped tick never ran, so last_run must not move
		if errors.Is(err, ErrRunInProgress) {
			return
		}
	}
	if err := s.store.UpdateRun(s.ctx, name, now, state.schedule.Next(now)); err != nil {
		log.Printf("[scheduler] %s: update run times: %v", name, err)
	}
}

// run executes the task body once, refusing to overlap a run in progress.
func (s *Scheduler) run(ctx context.Context, name string, state *taskState) error {
	if !state.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%w, tick skipped", ErrRunInProgress)
	}
	defer state.running.Store(false)

	log.Printf("[scheduler] %s started", name)
	if err := state.task.Run(ctx); err != nil {
		return fmt.Errorf("run failed: %w", err)
	}
	log.Printf("[scheduler] %s complete", name)
	return nil
}

// RunNow fires a task immediately, bypassing the schedule check. The enabled
// flag still applies, and the schedule itself is untouched: last_run moves,
// next_run stays where cron left it.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	state, ok := s.tasks[name]
	if !ok {
		return fmt.Errorf("unknown cron job %q", name)
	}

	cfg, err := s.store.Find(ctx, name)
	if err != nil {
		return fmt.Errorf("load config %s: %w", name, err)
	}
	if !cfg.Enabled {
		return fmt.Errorf("cron job %q is disabled", name)
	}

	if err := s.run(ctx, name, state); err != nil {
		return err
	}

	nextRun := time.Now()
	if cfg.NextRun != nil {
		nextRun = *cfg.NextRun
	}
	if err := s.store.UpdateRun(ctx, name, time.Now(), nextRun); err != nil {
		return fmt.Errorf("update run times %s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) List(ctx context.Context) ([]model.CronJobConfig, error) {
	return s.store.List(ctx)
}

func (s *Scheduler) SetEnabled(ctx context.Context, name string, enabled bool) error {
	if _, ok := s.tasks[name]; !ok {
		return fmt.Errorf("unknown cron job %q", name)
	}
	return s.store.SetEnabled(ctx, name, enabled)
}
