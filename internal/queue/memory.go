package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dwiprasetyo/job-portal/internal/model"
)

// MemoryStore is a mutex-guarded Store holding jobs in a map. It mirrors the
// semantics of the Postgres store exactly; the queue property tests run
// against it.
type MemoryStore struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]*model.NotificationJob
	order   []uuid.UUID // insertion order, keeps Claim deterministic
	backoff func(attempts int) time.Duration
	now     func() time.Time

	sentLog []time.Time // completion timestamps for throughput
}

func NewMemoryStore(backoff func(attempts int) time.Duration) *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[uuid.UUID]*model.NotificationJob),
		backoff: backoff,
		now:     time.Now,
	}
}

func (s *MemoryStore) Enqueue(_ context.Context, job *model.NotificationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if job.DedupKey != "" {
		for _, existing := range s.jobs {
			if existing.DedupKey != job.DedupKey {
				continue
			}
			switch existing.Status {
			case model.NotificationPending, model.NotificationInFlight, model.NotificationSent:
				return ErrDuplicateJob
			}
		}
	}

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = model.DefaultMaxAttempts
	}
	job.Status = model.NotificationPending
	job.Attempts = 0
	job.NextAttemptAt = now
	job.CreatedAt = now
	job.UpdatedAt = now

	clone := *job
	s.jobs[job.ID] = &clone
	s.order = append(s.order, job.ID)
	return nil
}

func (s *MemoryStore) Claim(_ context.Context, workerID string, batchSize int) ([]model.NotificationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var due []*model.NotificationJob
	for _, id := range s.order {
		j := s.jobs[id]
		if j.Status == model.NotificationPending && !j.NextAttemptAt.After(now) {
			due = append(due, j)
		}
	}
	sort.SliceStable(due, func(i, k int) bool {
		return due[i].NextAttemptAt.Before(due[k].NextAttemptAt)
	})

	var claimed []model.NotificationJob
	for _, j := range due {
		if len(claimed) >= batchSize {
			break
		}
		if err := j.MarkClaimed(workerID, now); err != nil {
			continue
		}
		j.UpdatedAt = now
		claimed = append(claimed, *j)
	}
	return claimed, nil
}

func (s *MemoryStore) Complete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if j.Status == model.NotificationSent {
		return nil
	}
	if err := j.MarkSent(s.now()); err != nil {
		return err
	}
	j.UpdatedAt = s.now()
	s.sentLog = append(s.sentLog, *j.SentAt)
	return nil
}

func (s *MemoryStore) Fail(_ context.Context, id uuid.UUID, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	now := s.now()
	if err := j.MarkFailed(cause, now, s.backoff); err != nil {
		return err
	}
	j.UpdatedAt = now
	return nil
}

func (s *MemoryStore) DeadLetter(_ context.Context, id uuid.UUID, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if err := j.MarkDeadLettered(cause); err != nil {
		return err
	}
	j.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) Retry(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	now := s.now()
	if err := j.ResetForRetry(now); err != nil {
		return err
	}
	j.UpdatedAt = now
	return nil
}

func (s *MemoryStore) RetryAllFailed(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	count := 0
	for _, id := range s.order {
		j := s.jobs[id]
		if j.Status != model.NotificationFailed && j.Status != model.NotificationDeadLettered {
			continue
		}
		if err := j.ResetForRetry(now); err != nil {
			continue
		}
		j.UpdatedAt = now
		count++
	}
	return count, nil
}

func (s *MemoryStore) ReleaseStuck(_ context.Context, visibilityTimeout time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-visibilityTimeout)
	count := 0
	for _, id := range s.order {
		j := s.jobs[id]
		if j.Status != model.NotificationInFlight || j.ClaimedAt == nil || j.ClaimedAt.After(cutoff) {
			continue
		}
		if err := j.Release(now.Add(time.Second)); err != nil {
			continue
		}
		j.UpdatedAt = now
		count++
	}
	return count, nil
}

func (s *MemoryStore) ApplyTracking(_ context.Context, id uuid.UUID, event TrackingEvent, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	switch event {
	case TrackingOpened:
		j.ApplyOpened(at)
	case TrackingClicked:
		j.ApplyClicked(at)
	}
	j.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*model.NotificationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	clone := *j
	return &clone, nil
}

func (s *MemoryStore) Stats(_ context.Context) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &Stats{}
	for _, j := range s.jobs {
		switch j.Status {
		case model.NotificationPending:
			stats.Pending++
		case model.NotificationInFlight:
			stats.InFlight++
		case model.NotificationSent:
			stats.Sent++
		case model.NotificationFailed:
			stats.Failed++
		case model.NotificationDeadLettered:
			stats.DeadLettered++
		}
	}
	cutoff := s.now().Add(-time.Minute)
	for _, t := range s.sentLog {
		if t.After(cutoff) {
			stats.ThroughputPerMinute++
		}
	}
	return stats, nil
}
