package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/dwiprasetyo/job-portal/internal/matching"
	"github.com/dwiprasetyo/job-portal/internal/model"
	"github.com/dwiprasetyo/job-portal/internal/queue"
	"github.com/dwiprasetyo/job-portal/internal/repository"
	"github.com/dwiprasetyo/job-portal/internal/service"
)

// ErrEmbeddingUnavailable means the evaluation could not run because an
// embedding was missing and the provider failed to produce one. The trigger
// is retried later, never dropped.
var ErrEmbeddingUnavailable = errors.New("embedding unavailable, evaluation deferred")

type ResumeStore interface {
	FindResumeByID(ctx context.Context, id uuid.UUID) (*model.Resume, error)
	SearchActive(ctx context.Context, embedding pgvector.Vector, topK int) ([]model.Resume, error)
	UpdateEmbedding(ctx context.Context, id uuid.UUID, embedding pgvector.Vector) error
	ListActiveIDs(ctx context.Context, staleBefore time.Time, limit int) ([]uuid.UUID, error)
}

type JobStore interface {
	FindJobByID(ctx context.Context, id uuid.UUID) (*model.Job, error)
	SearchPublished(ctx context.Context, embedding pgvector.Vector, topK int) ([]model.Job, error)
	UpdateEmbedding(ctx context.Context, id uuid.UUID, embedding pgvector.Vector) error
}

type MatchStore interface {
	Upsert(ctx context.Context, result *model.MatchResult) error
	Stats(ctx context.Context, from, to time.Time, threshold float64) (*repository.MatchStats, error)
}

// MatchUsecase turns trigger events into MatchResult rows and, for every
// score crossing the notification threshold, one job-match notification.
// Safe for concurrent invocation across different (resume, job) pairs.
type MatchUsecase struct {
	resumeRepo ResumeStore
	jobRepo    JobStore
	matchRepo  MatchStore
	queue      queue.Store
	embedding  service.EmbeddingServiceInterface

	threshold       float64 // 0-100, notification cut-off
	candidateTopK   int
	sweepStaleAfter time.Duration
	sweepBatchSize  int
	jobBaseURL      string
}

func NewMatchUsecase(
	resumeRepo ResumeStore,
	jobRepo JobStore,
	matchRepo MatchStore,
	q queue.Store,
	embedding service.EmbeddingServiceInterface,
	threshold float64,
	candidateTopK int,
	sweepStaleAfter time.Duration,
	sweepBatchSize int,
	jobBaseURL string,
) *MatchUsecase {
	return &MatchUsecase{
		resumeRepo:      resumeRepo,
		jobRepo:         jobRepo,
		matchRepo:       matchRepo,
		queue:           q,
		embedding:       embedding,
		threshold:       threshold,
		candidateTopK:   candidateTopK,
		sweepStaleAfter: sweepStaleAfter,
		sweepBatchSize:  sweepBatchSize,
		jobBaseURL:      jobBaseURL,
	}
}

// EvaluateResume scores one resume against the published job candidate set.
func (uc *MatchUsecase) EvaluateResume(ctx context.Context, resumeID uuid.UUID) error {
	resume, err := uc.resumeRepo.FindResumeByID(ctx, resumeID)
	if err != nil {
		return fmt.Errorf("find resume %s: %w", resumeID, err)
	}
	if !resume.Active {
		log.Printf("[evaluator] resume %s is not active, skipping", resumeID)
		return nil
	}

	vec, err := uc.resumeEmbedding(ctx, resume)
	if err != nil {
		return err
	}

	jobs, err := uc.jobRepo.SearchPublished(ctx, pgvector.NewVector(vec), uc.candidateTopK)
	if err != nil {
		return fmt.Errorf("search candidate jobs: %w", err)
	}

	candidates := make([]matching.Candidate, 0, len(jobs))
	byID := make(map[uuid.UUID]*model.Job, len(jobs))
	for i := range jobs {
		candidates = append(candidates, matching.Candidate{ID: jobs[i].ID, Embedding: jobs[i].Embedding.Slice()})
		byID[jobs[i].ID] = &jobs[i]
	}

	// threshold 0: every comparable pair gets a MatchResult row, the
	// notification cut-off is applied separately below.
	ranked, skipped := matching.Rank(vec, candidates, 0)
	for _, id := range skipped {
		log.Printf("[evaluator] skipping pair (resume %s, job %s): incompatible embedding", resumeID, id)
	}

	for _, m := range ranked {
		if err := uc.recordMatch(ctx, resume, byID[m.ID], m.Score); err != nil {
			log.Printf("[evaluator] record match (resume %s, job %s): %v", resumeID, m.ID, err)
		}
	}
	return nil
}

// EvaluateJob scores one published job against the active resume set.
func (uc *MatchUsecase) EvaluateJob(ctx context.Context, jobID uuid.UUID) error {
	job, err := uc.jobRepo.FindJobByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("find job %s: %w", jobID, err)
	}
	if !job.Published {
		log.Printf("[evaluator] job %s is not published, skipping", jobID)
		return nil
	}

	vec, err := uc.jobEmbedding(ctx, job)
	if err != nil {
		return err
	}

	resumes, err := uc.resumeRepo.SearchActive(ctx, pgvector.NewVector(vec), uc.candidateTopK)
	if err != nil {
		return fmt.Errorf("search candidate resumes: %w", err)
	}

	for i := range resumes {
		resume := &resumes[i]
		score, err := pairScore(resume.Embedding.Slice(), vec)
		if err != nil {
			log.Printf("[evaluator] skipping pair (resume %s, job %s): %v", resume.ID, jobID, err)
			continue
		}
		if err := uc.recordMatch(ctx, resume, job, score); err != nil {
			log.Printf("[evaluator] record match (resume %s, job %s): %v", resume.ID, jobID, err)
		}
	}
	return nil
}

// EvaluatePair scores exactly one (resume, job) pair.
func (uc *MatchUsecase) EvaluatePair(ctx context.Context, resumeID, jobID uuid.UUID) error {
	resume, err := uc.resumeRepo.FindResumeByID(ctx, resumeID)
	if err != nil {
		return fmt.Errorf("find resume %s: %w", resumeID, err)
	}
	job, err := uc.jobRepo.FindJobByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("find job %s: %w", jobID, err)
	}

	rvec, err := uc.resumeEmbedding(ctx, resume)
	if err != nil {
		return err
	}
	jvec, err := uc.jobEmbedding(ctx, job)
	if err != nil {
		return err
	}

	score, err := pairScore(rvec, jvec)
	if err != nil {
		// dimension mismatch will not self-heal, log and drop the pair
		log.Printf("[evaluator] skipping pair (resume %s, job %s): %v", resumeID, jobID, err)
		return nil
	}
	return uc.recordMatch(ctx, resume, job, score)
}

// Sweep re-evaluates active resumes whose matches are stale or missing.
// Returns how many resumes were evaluated.
func (uc *MatchUsecase) Sweep(ctx context.Context) (int, error) {
	staleBefore := time.Now().Add(-uc.sweepStaleAfter)
	ids, err := uc.resumeRepo.ListActiveIDs(ctx, staleBefore, uc.sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale resumes: %w", err)
	}

	evaluated := 0
	for _, id := range ids {
		if err := uc.EvaluateResume(ctx, id); err != nil {
			log.Printf("[evaluator] sweep: resume %s: %v", id, err)
			continue
		}
		evaluated++
	}
	return evaluated, nil
}

func (uc *MatchUsecase) Stats(ctx context.Context, from, to time.Time) (*repository.MatchStats, error) {
	return uc.matchRepo.Stats(ctx, from, to, uc.threshold)
}

// recordMatch upserts the MatchResult and, above the notification threshold,
// enqueues one job-match notification. A dedup collision means the intended
// notification is already in flight and is treated as success.
func (uc *MatchUsecase) recordMatch(ctx context.Context, resume *model.Resume, job *model.Job, score float64) error {
	result := &model.MatchResult{
		ID:         uuid.New(),
		ResumeID:   resume.ID,
		JobID:      job.ID,
		Score:      score,
		ComputedAt: time.Now(),
	}
	if err := uc.matchRepo.Upsert(ctx, result); err != nil {
		return fmt.Errorf("upsert match result: %w", err)
	}

	if score < uc.threshold {
		return nil
	}

	payload, err := json.Marshal(service.JobMatchPayload{
		CandidateName: resume.Name,
		JobTitle:      job.Title,
		Score:         score,
		JobURL:        fmt.Sprintf("%s/jobs/%s", uc.jobBaseURL, job.ID),
	})
	if err != nil {
		return fmt.Errorf("marshal job-match payload: %w", err)
	}

	notification := &model.NotificationJob{
		Type:        model.NotificationJobMatch,
		RecipientID: resume.CandidateID,
		Recipient:   resume.Email,
		Payload:     string(payload),
		DedupKey:    model.MatchDedupKey(resume.ID, job.ID),
	}
	err = uc.queue.Enqueue(ctx, notification)
	if errors.Is(err, queue.ErrDuplicateJob) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue job-match notification: %w", err)
	}
	log.Printf("[evaluator] match (resume %s, job %s) score=%.1f, notification enqueued", resume.ID, job.ID, score)
	return nil
}

func (uc *MatchUsecase) resumeEmbedding(ctx context.Context, resume *model.Resume) ([]float32, error) {
	if resume.HasEmbedding() {
		return resume.Embedding.Slice(), nil
	}
	vec, err := uc.embedding.GetEmbedding(ctx, "resume", resume.ID.String(), resume.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: resume %s: %v", ErrEmbeddingUnavailable, resume.ID, err)
	}
	if err := uc.resumeRepo.UpdateEmbedding(ctx, resume.ID, pgvector.NewVector(vec)); err != nil {
		return nil, fmt.Errorf("store resume embedding: %w", err)
	}
	resume.Embedding = pgvector.NewVector(vec)
	return vec, nil
}

func (uc *MatchUsecase) jobEmbedding(ctx context.Context, job *model.Job) ([]float32, error) {
	if job.HasEmbedding() {
		return job.Embedding.Slice(), nil
	}
	vec, err := uc.embedding.GetEmbedding(ctx, "job", job.ID.String(), job.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: job %s: %v", ErrEmbeddingUnavailable, job.ID, err)
	}
	if err := uc.jobRepo.UpdateEmbedding(ctx, job.ID, pgvector.NewVector(vec)); err != nil {
		return nil, fmt.Errorf("store job embedding: %w", err)
	}
	job.Embedding = pgvector.NewVector(vec)
	return vec, nil
}

func pairScore(a, b []float32) (float64, error) {
	sim, err := matching.Similarity(a, b)
	if err != nil && !errors.Is(err, matching.ErrZeroVector) {
		return 0, err
	}
	return matching.Score(sim), nil
}
