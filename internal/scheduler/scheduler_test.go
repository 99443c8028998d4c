package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwiprasetyo/job-portal/internal/model"
)

// memoryCronStore is the in-memory CronStore used by the scheduler tests.
type memoryCronStore struct {
	mu      sync.Mutex
	configs map[string]*model.CronJobConfig
}

func newMemoryCronStore() *memoryCronStore {
	return &memoryCronStore{configs: make(map[string]*model.CronJobConfig)}
}

func (s *memoryCronStore) Seed(_ context.Context, cfg *model.CronJobConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[cfg.Name]; ok {
		return nil // existing rows keep their state across restarts
	}
	clone := *cfg
	s.configs[cfg.Name] = &clone
	return nil
}

func (s *memoryCronStore) List(_ context.Context) ([]model.CronJobConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.CronJobConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, *cfg)
	}
	return out, nil
}

func (s *memoryCronStore) Find(_ context.Context, name string) (*model.CronJobConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[name]
	if !ok {
		return nil, errors.New("cron config not found")
	}
	clone := *cfg
	return &clone, nil
}

func (s *memoryCronStore) SetEnabled(_ context.Context, name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[name]
	if !ok {
		return errors.New("cron config not found")
	}
	cfg.Enabled = enabled
	return nil
}

func (s *memoryCronStore) UpdateRun(_ context.Context, name string, lastRun, nextRun time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[name]
	if !ok {
		return errors.New("cron config not found")
	}
	lr, nr := lastRun, nextRun
	cfg.LastRun = &lr
	cfg.NextRun = &nr
	return nil
}

func newTestScheduler(t *testing.T, store CronStore, task Task) *Scheduler {
	t.Helper()
	s := New(store)
	require.NoError(t, s.Register(context.Background(), task))
	s.ctx = context.Background()
	return s
}

func TestRegister_SeedsConfig(t *testing.T) {
	store := newMemoryCronStore()
	runs := 0
	newTestScheduler(t, store, Task{
		Name:     "match-sweep",
		Schedule: "@every 6h",
		Run:      func(context.Context) error { runs++; return nil },
	})

	cfg, err := store.Find(context.Background(), "match-sweep")
	require.NoError(t, err)
	assert.True(t, cfg.Enabled, "tasks start enabled")
	assert.Equal(t, "@every 6h", cfg.Schedule)
	require.NotNil(t, cfg.NextRun)
	assert.True(t, cfg.NextRun.After(time.Now()))
	assert.Zero(t, runs, "registration must not run the task")
}

func TestRegister_InvalidSchedule(t *testing.T) {
	s := New(newMemoryCronStore())
	err := s.Register(context.Background(), Task{
		Name:     "broken",
		Schedule: "every day at noon",
		Run:      func(context.Context) error { return nil },
	})
	assert.Error(t, err)
}

func TestTick_RunsTaskAndRollsSchedule(t *testing.T) {
	store := newMemoryCronStore()
	runs := 0
	s := newTestScheduler(t, store, Task{
		Name:     "match-sweep",
		Schedule: "@every 6h",
		Run:      func(context.Context) error { runs++; return nil },
	})

	before := time.Now()
	s.tick("match-sweep")

	assert.Equal(t, 1, runs)
	cfg, err := store.Find(context.Background(), "match-sweep")
	require.NoError(t, err)
	require.NotNil(t, cfg.LastRun)
	assert.False(t, cfg.LastRun.Before(before))
	require.NotNil(t, cfg.NextRun)
	assert.True(t, cfg.NextRun.After(*cfg.LastRun))
}

func TestTick_DisabledTaskIsSkipped(t *testing.T) {
	store := newMemoryCronStore()
	runs := 0
	s := newTestScheduler(t, store, Task{
		Name:     "match-sweep",
		Schedule: "@every 6h",
		Run:      func(context.Context) error { runs++; return nil },
	})
	require.NoError(t, s.SetEnabled(context.Background(), "match-sweep", false))

	s.tick("match-sweep")

	assert.Zero(t, runs)
	cfg, err := store.Find(context.Background(), "match-sweep")
	require.NoError(t, err)
	assert.Nil(t, cfg.LastRun, "a skipped tick must not move last_run")
}

func TestTick_TaskErrorKeepsSchedule(t *testing.T) {
	store := newMemoryCronStore()
	s := newTestScheduler(t, store, Task{
		Name:     "match-sweep",
		Schedule: "@every 6h",
		Run:      func(context.Context) error { return errors.New("sweep failed") },
	})

	s.tick("match-sweep")

	// the failure is logged, the next tick still gets scheduled
	cfg, err := store.Find(context.Background(), "match-sweep")
	require.NoError(t, err)
	assert.NotNil(t, cfg.LastRun)
	assert.NotNil(t, cfg.NextRun)
}

func TestRun_OverlappingRunIsSkipped(t *testing.T) {
	store := newMemoryCronStore()
	started := make(chan struct{})
	release := make(chan struct{})
	s := newTestScheduler(t, store, Task{
		Name:     "match-sweep",
		Schedule: "@every 6h",
		Run: func(context.Context) error {
			close(started)
			<-release
			return nil
		},
	})

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background(), "match-sweep") }()
	<-started

	// second invocation while the first is still in the task body
	err := s.RunNow(context.Background(), "match-sweep")
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(release)
	require.NoError(t, <-done)
}

// A tick skipped because the previous run is still executing never happened,
// so it must not move last_run; a hung task stays visible on the admin
// surface.
func TestTick_SkippedOverlapKeepsLastRun(t *testing.T) {
	store := newMemoryCronStore()
	started := make(chan struct{})
	release := make(chan struct{})
	s := newTestScheduler(t, store, Task{
		Name:     "match-sweep",
		Schedule: "@every 6h",
		Run: func(context.Context) error {
			close(started)
			<-release
			return nil
		},
	})

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background(), "match-sweep") }()
	<-started

	s.tick("match-sweep")

	cfg, err := store.Find(context.Background(), "match-sweep")
	require.NoError(t, err)
	assert.Nil(t, cfg.LastRun, "skipped tick must not record a run")

	close(release)
	require.NoError(t, <-done)

	// the manual run that actually executed does record one
	cfg, err = store.Find(context.Background(), "match-sweep")
	require.NoError(t, err)
	assert.NotNil(t, cfg.LastRun)
}

func TestRunNow_DisabledTaskRefuses(t *testing.T) {
	store := newMemoryCronStore()
	runs := 0
	s := newTestScheduler(t, store, Task{
		Name:     "match-sweep",
		Schedule: "@every 6h",
		Run:      func(context.Context) error { runs++; return nil },
	})
	require.NoError(t, s.SetEnabled(context.Background(), "match-sweep", false))

	err := s.RunNow(context.Background(), "match-sweep")
	assert.ErrorContains(t, err, "disabled")
	assert.Zero(t, runs)

	cfg, err := store.Find(context.Background(), "match-sweep")
	require.NoError(t, err)
	assert.Nil(t, cfg.LastRun)
}

func TestRunNow_KeepsNextRun(t *testing.T) {
	store := newMemoryCronStore()
	runs := 0
	s := newTestScheduler(t, store, Task{
		Name:     "match-sweep",
		Schedule: "@every 6h",
		Run:      func(context.Context) error { runs++; return nil },
	})
	seeded, err := store.Find(context.Background(), "match-sweep")
	require.NoError(t, err)
	scheduledNext := *seeded.NextRun

	require.NoError(t, s.RunNow(context.Background(), "match-sweep"))

	assert.Equal(t, 1, runs)
	cfg, err := store.Find(context.Background(), "match-sweep")
	require.NoError(t, err)
	require.NotNil(t, cfg.LastRun)
	assert.True(t, cfg.NextRun.Equal(scheduledNext), "manual run must not move the schedule")
}

func TestRunNow_UnknownTask(t *testing.T) {
	s := New(newMemoryCronStore())
	assert.Error(t, s.RunNow(context.Background(), "no-such-task"))
}

func TestSetEnabled_UnknownTask(t *testing.T) {
	s := New(newMemoryCronStore())
	assert.Error(t, s.SetEnabled(context.Background(), "no-such-task", true))
}
