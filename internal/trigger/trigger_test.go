package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwiprasetyo/job-portal/internal/model"
	"github.com/dwiprasetyo/job-portal/internal/queue"
	"github.com/dwiprasetyo/job-portal/internal/repository"
	"github.com/dwiprasetyo/job-portal/internal/usecase"
)

// Concurrency-safe stubs backing the MatchUsecase driven by the bus.

type busResumeStore struct {
	mu      sync.Mutex
	resumes map[uuid.UUID]*model.Resume
}

func (s *busResumeStore) FindResumeByID(_ context.Context, id uuid.UUID) (*model.Resume, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resumes[id]
	if !ok {
		return nil, errors.New("resume not found")
	}
	clone := *r
	return &clone, nil
}

func (s *busResumeStore) SearchActive(_ context.Context, _ pgvector.Vector, _ int) ([]model.Resume, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Resume
	for _, r := range s.resumes {
		if r.Active {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *busResumeStore) UpdateEmbedding(_ context.Context, id uuid.UUID, embedding pgvector.Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.resumes[id]; ok {
		r.Embedding = embedding
	}
	return nil
}

func (s *busResumeStore) ListActiveIDs(context.Context, time.Time, int) ([]uuid.UUID, error) {
	return nil, nil
}

type busJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*model.Job
}

func (s *busJobStore) FindJobByID(_ context.Context, id uuid.UUID) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, errors.New("job not found")
	}
	clone := *j
	return &clone, nil
}

func (s *busJobStore) SearchPublished(_ context.Context, _ pgvector.Vector, _ int) ([]model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Job
	for _, j := range s.jobs {
		if j.Published {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (s *busJobStore) UpdateEmbedding(_ context.Context, id uuid.UUID, embedding pgvector.Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Embedding = embedding
	}
	return nil
}

type busMatchStore struct {
	mu      sync.Mutex
	upserts int
}

func (s *busMatchStore) Upsert(context.Context, *model.MatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	return nil
}

func (s *busMatchStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

func (s *busMatchStore) Stats(context.Context, time.Time, time.Time, float64) (*repository.MatchStats, error) {
	return &repository.MatchStats{}, nil
}

// flakyEmbedding fails the first failures calls, then serves the vector.
type flakyEmbedding struct {
	mu       sync.Mutex
	failures int
	calls    int
	vector   []float32
}

func (s *flakyEmbedding) GetEmbedding(context.Context, string, string, string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return nil, errors.New("provider 503")
	}
	return s.vector, nil
}

func (s *flakyEmbedding) CircuitBreakerStatus() (int, bool) { return 0, false }

func newBusFixture(retryDelay time.Duration, emb *flakyEmbedding) (*Bus, *busMatchStore, *model.Resume, *model.Job) {
	resume := &model.Resume{
		ID:          uuid.New(),
		CandidateID: uuid.New(),
		Name:        "Ana",
		Email:       "ana@example.com",
		Active:      true,
	}
	job := &model.Job{
		ID:        uuid.New(),
		Title:     "Backend Engineer",
		Published: true,
		Embedding: pgvector.NewVector([]float32{1, 0}),
	}
	matches := &busMatchStore{}
	uc := usecase.NewMatchUsecase(
		&busResumeStore{resumes: map[uuid.UUID]*model.Resume{resume.ID: resume}},
		&busJobStore{jobs: map[uuid.UUID]*model.Job{job.ID: job}},
		matches,
		queue.NewMemoryStore(queue.ExponentialBackoff(time.Second, time.Minute)),
		emb,
		50, 50, 24*time.Hour, 100, "https://jobs.example.com")
	return NewBus(uc, 16, retryDelay), matches, resume, job
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not met before timeout")
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestPublish_FullBus(t *testing.T) {
	bus := NewBus(nil, 1, time.Second)
	require.NoError(t, bus.Publish(Event{Kind: KindSweep}))
	assert.ErrorIs(t, bus.Publish(Event{Kind: KindSweep}), ErrBusFull)
}

func TestBus_ResumeActivatedEvaluates(t *testing.T) {
	emb := &flakyEmbedding{vector: []float32{1, 0}}
	bus, matches, resume, _ := newBusFixture(time.Millisecond, emb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx, 2)

	require.NoError(t, bus.Publish(Event{Kind: KindResumeActivated, ResumeID: resume.ID}))
	waitFor(t, time.Second, func() bool { return matches.count() == 1 })

	cancel()
	bus.Wait()
}

// Provider down on the first two calls: the event is deferred with a delay
// and retried until the embedding comes back, never dropped.
func TestBus_DefersWhileEmbeddingUnavailable(t *testing.T) {
	emb := &flakyEmbedding{failures: 2, vector: []float32{1, 0}}
	bus, matches, resume, _ := newBusFixture(time.Millisecond, emb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx, 1)

	require.NoError(t, bus.Publish(Event{Kind: KindResumeActivated, ResumeID: resume.ID}))
	waitFor(t, time.Second, func() bool { return matches.count() == 1 })

	emb.mu.Lock()
	calls := emb.calls
	emb.mu.Unlock()
	assert.Equal(t, 3, calls, "two failures then one success")

	cancel()
	bus.Wait()
}

func TestBus_GivesUpAfterMaxDeferrals(t *testing.T) {
	emb := &flakyEmbedding{failures: 100, vector: []float32{1, 0}}
	bus, matches, resume, _ := newBusFixture(time.Millisecond, emb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx, 1)

	require.NoError(t, bus.Publish(Event{Kind: KindResumeActivated, ResumeID: resume.ID}))

	waitFor(t, time.Second, func() bool {
		emb.mu.Lock()
		defer emb.mu.Unlock()
		return emb.calls == maxDeferrals+1
	})
	// give a potential extra deferral time to fire, it must not
	time.Sleep(20 * time.Millisecond)
	emb.mu.Lock()
	calls := emb.calls
	emb.mu.Unlock()
	assert.Equal(t, maxDeferrals+1, calls)
	assert.Zero(t, matches.count())

	cancel()
	bus.Wait()
}

func TestBus_JobPublishedEvaluates(t *testing.T) {
	emb := &flakyEmbedding{vector: []float32{1, 0}}
	bus, matches, resume, job := newBusFixture(time.Millisecond, emb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx, 1)

	// first event computes and stores the resume embedding
	require.NoError(t, bus.Publish(Event{Kind: KindResumeActivated, ResumeID: resume.ID}))
	waitFor(t, time.Second, func() bool { return matches.count() == 1 })

	// the job side then scores against the stored resume embedding
	require.NoError(t, bus.Publish(Event{Kind: KindJobPublished, JobID: job.ID}))
	waitFor(t, time.Second, func() bool { return matches.count() == 2 })

	cancel()
	bus.Wait()
}
