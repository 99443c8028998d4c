package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dwiprasetyo/job-portal/internal/dto"
	"github.com/dwiprasetyo/job-portal/internal/model"
	"github.com/dwiprasetyo/job-portal/internal/queue"
	"github.com/dwiprasetyo/job-portal/internal/repository"
	"github.com/dwiprasetyo/job-portal/internal/scheduler"
	"github.com/dwiprasetyo/job-portal/internal/service"
)

// PipelineUsecase backs the admin/observability surface: queue inspection,
// manual retries, cron control, and delivery tracking callbacks.
type PipelineUsecase struct {
	queue     queue.Store
	scheduler *scheduler.Scheduler
	match     *MatchUsecase
	embedding service.EmbeddingServiceInterface
}

func NewPipelineUsecase(q queue.Store, sched *scheduler.Scheduler, match *MatchUsecase, embedding service.EmbeddingServiceInterface) *PipelineUsecase {
	return &PipelineUsecase{queue: q, scheduler: sched, match: match, embedding: embedding}
}

func (uc *PipelineUsecase) QueueStats(ctx context.Context) (*dto.QueueStatsDTO, error) {
	stats, err := uc.queue.Stats(ctx)
	if err != nil {
		return nil, err
	}

	out := &dto.QueueStatsDTO{Stats: *stats, Health: "ok"}
	if uc.embedding != nil {
		errors, open := uc.embedding.CircuitBreakerStatus()
		out.EmbeddingProviderErrors = errors
		if open {
			out.Health = "degraded"
		}
	}
	return out, nil
}

func (uc *PipelineUsecase) GetJob(ctx context.Context, id uuid.UUID) (*dto.NotificationJobDTO, error) {
	job, err := uc.queue.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	d := dto.NewNotificationJobDTO(job)
	return &d, nil
}

func (uc *PipelineUsecase) RetryJob(ctx context.Context, id uuid.UUID) error {
	return uc.queue.Retry(ctx, id)
}

func (uc *PipelineUsecase) RetryAllFailed(ctx context.Context) (int, error) {
	return uc.queue.RetryAllFailed(ctx)
}

func (uc *PipelineUsecase) Track(ctx context.Context, id uuid.UUID, event queue.TrackingEvent, at time.Time) error {
	return uc.queue.ApplyTracking(ctx, id, event, at)
}

func (uc *PipelineUsecase) ListCronJobs(ctx context.Context) ([]model.CronJobConfig, error) {
	return uc.scheduler.List(ctx)
}

func (uc *PipelineUsecase) SetCronJobEnabled(ctx context.Context, name string, enabled bool) error {
	return uc.scheduler.SetEnabled(ctx, name, enabled)
}

func (uc *PipelineUsecase) RunCronJobNow(ctx context.Context, name string) error {
	return uc.scheduler.RunNow(ctx, name)
}

func (uc *PipelineUsecase) MatchStats(ctx context.Context, from, to time.Time) (*repository.MatchStats, error) {
	return uc.match.Stats(ctx, from, to)
}
