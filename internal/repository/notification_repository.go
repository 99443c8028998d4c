package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dwiprasetyo/job-portal/internal/model"
	"github.com/dwiprasetyo/job-portal/internal/queue"
)

// NotificationRepository is the Postgres-backed queue.Store. Every mutation
// is a single conditional UPDATE (or guarded INSERT) checked through
// RowsAffected, so concurrent workers can never race a read-then-write.
type NotificationRepository struct {
	db          *gorm.DB
	backoff     func(attempts int) time.Duration
	maxAttempts int
}

func NewNotificationRepository(db *gorm.DB, backoff func(attempts int) time.Duration, maxAttempts int) *NotificationRepository {
	if maxAttempts <= 0 {
		maxAttempts = model.DefaultMaxAttempts
	}
	return &NotificationRepository{db: db, backoff: backoff, maxAttempts: maxAttempts}
}

func (r *NotificationRepository) Enqueue(ctx context.Context, job *model.NotificationJob) error {
	now := time.Now()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = r.maxAttempts
	}
	job.Status = model.NotificationPending
	job.Attempts = 0
	job.NextAttemptAt = now
	job.CreatedAt = now
	job.UpdatedAt = now

	// Insert guarded by the dedup key so two concurrent enqueues for the
	// same (type, resume, job) tuple leave exactly one row behind.
	res := r.db.WithContext(ctx).Exec(`
		INSERT INTO notification_jobs
			(id, type, recipient_id, recipient, payload, dedup_key, status,
			 attempts, max_attempts, next_attempt_at, created_at, updated_at)
		SELECT ?, ?, ?, ?, ?::jsonb, ?, ?, ?, ?, ?, ?, ?
		WHERE ? = '' OR NOT EXISTS (
			SELECT 1 FROM notification_jobs
			WHERE dedup_key = ? AND status IN ('pending', 'in_flight', 'sent')
		)`,
		job.ID, job.Type, job.RecipientID, job.Recipient, job.Payload,
		job.DedupKey, job.Status, job.Attempts, job.MaxAttempts,
		job.NextAttemptAt, job.CreatedAt, job.UpdatedAt,
		job.DedupKey, job.DedupKey,
	)
	if res.Error != nil {
		return fmt.Errorf("enqueue notification: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return queue.ErrDuplicateJob
	}
	return nil
}

func (r *NotificationRepository) Claim(ctx context.Context, workerID string, batchSize int) ([]model.NotificationJob, error) {
	now := time.Now()

	var candidates []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&model.NotificationJob{}).
		Where("status = ? AND next_attempt_at <= ?", model.NotificationPending, now).
		Order("next_attempt_at ASC").
		Limit(batchSize).
		Pluck("id", &candidates).Error
	if err != nil {
		return nil, fmt.Errorf("claim candidates: %w", err)
	}

	var claimedIDs []uuid.UUID
	for _, id := range candidates {
		// One atomic conditional update per job; a concurrent claimer
		// that got here first leaves RowsAffected at 0.
		res := r.db.WithContext(ctx).Exec(`
			UPDATE notification_jobs
			SET status = 'in_flight', claimed_by = ?, claimed_at = ?, updated_at = ?
			WHERE id = ? AND status = 'pending' AND next_attempt_at <= ?`,
			workerID, now, now, id, now,
		)
		if res.Error != nil {
			return nil, fmt.Errorf("claim job %s: %w", id, res.Error)
		}
		if res.RowsAffected == 1 {
			claimedIDs = append(claimedIDs, id)
		}
	}

	if len(claimedIDs) == 0 {
		return nil, nil
	}
	var claimed []model.NotificationJob
	if err := r.db.WithContext(ctx).Where("id IN ?", claimedIDs).Find(&claimed).Error; err != nil {
		return nil, fmt.Errorf("load claimed jobs: %w", err)
	}
	return claimed, nil
}

func (r *NotificationRepository) Complete(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Exec(`
		UPDATE notification_jobs
		SET status = 'sent', sent_at = ?, claimed_by = '', claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'in_flight'`,
		now, now, id,
	)
	if res.Error != nil {
		return fmt.Errorf("complete job %s: %w", id, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	job, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status == model.NotificationSent {
		return nil // already sent, idempotent no-op
	}
	return fmt.Errorf("complete job %s: %w from %s", id, model.ErrInvalidTransition, job.Status)
}

func (r *NotificationRepository) Fail(ctx context.Context, id uuid.UUID, cause error) error {
	job, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	prevStatus, prevAttempts := job.Status, job.Attempts
	now := time.Now()
	if err := job.MarkFailed(cause, now, r.backoff); err != nil {
		return err
	}
	return r.applyTransition(ctx, job, prevStatus, prevAttempts, now)
}

func (r *NotificationRepository) DeadLetter(ctx context.Context, id uuid.UUID, cause error) error {
	job, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	prevStatus, prevAttempts := job.Status, job.Attempts
	if err := job.MarkDeadLettered(cause); err != nil {
		return err
	}
	return r.applyTransition(ctx, job, prevStatus, prevAttempts, time.Now())
}

// applyTransition writes back a transition computed on the model, guarded by
// the previous status and attempt count so a concurrent writer loses cleanly.
func (r *NotificationRepository) applyTransition(ctx context.Context, job *model.NotificationJob, prevStatus model.NotificationStatus, prevAttempts int, now time.Time) error {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE notification_jobs
		SET status = ?, attempts = ?, next_attempt_at = ?, last_error = ?,
		    claimed_by = '', claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = ? AND attempts = ?`,
		job.Status, job.Attempts, job.NextAttemptAt, job.LastError, now,
		job.ID, prevStatus, prevAttempts,
	)
	if res.Error != nil {
		return fmt.Errorf("update job %s: %w", job.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update job %s: %w (lost to concurrent writer)", job.ID, model.ErrInvalidTransition)
	}
	return nil
}

func (r *NotificationRepository) Retry(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Exec(`
		UPDATE notification_jobs
		SET status = 'pending', attempts = 0, next_attempt_at = ?, last_error = '', updated_at = ?
		WHERE id = ? AND status IN ('failed', 'dead_lettered')`,
		now, now, id,
	)
	if res.Error != nil {
		return fmt.Errorf("retry job %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("retry job %s: %w", id, model.ErrInvalidTransition)
	}
	return nil
}

func (r *NotificationRepository) RetryAllFailed(ctx context.Context) (int, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Exec(`
		UPDATE notification_jobs
		SET status = 'pending', attempts = 0, next_attempt_at = ?, last_error = '', updated_at = ?
		WHERE status IN ('failed', 'dead_lettered')`,
		now, now,
	)
	if res.Error != nil {
		return 0, fmt.Errorf("retry all failed: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (r *NotificationRepository) ReleaseStuck(ctx context.Context, visibilityTimeout time.Duration) (int, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Exec(`
		UPDATE notification_jobs
		SET status = 'pending', next_attempt_at = ?, claimed_by = '', claimed_at = NULL, updated_at = ?
		WHERE status = 'in_flight' AND claimed_at < ?`,
		now.Add(time.Second), now, now.Add(-visibilityTimeout),
	)
	if res.Error != nil {
		return 0, fmt.Errorf("release stuck jobs: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (r *NotificationRepository) ApplyTracking(ctx context.Context, id uuid.UUID, event queue.TrackingEvent, at time.Time) error {
	var res *gorm.DB
	switch event {
	case queue.TrackingOpened:
		res = r.db.WithContext(ctx).Exec(`
			UPDATE notification_jobs
			SET opened = TRUE, opened_at = COALESCE(opened_at, ?), updated_at = ?
			WHERE id = ?`, at, time.Now(), id)
	case queue.TrackingClicked:
		res = r.db.WithContext(ctx).Exec(`
			UPDATE notification_jobs
			SET clicked = TRUE, clicked_at = COALESCE(clicked_at, ?), updated_at = ?
			WHERE id = ?`, at, time.Now(), id)
	default:
		return fmt.Errorf("unknown tracking event %q", event)
	}
	if res.Error != nil {
		return fmt.Errorf("apply tracking %s on %s: %w", event, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return queue.ErrJobNotFound
	}
	return nil
}

func (r *NotificationRepository) Get(ctx context.Context, id uuid.UUID) (*model.NotificationJob, error) {
	var job model.NotificationJob
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, queue.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return &job, nil
}

func (r *NotificationRepository) Stats(ctx context.Context) (*queue.Stats, error) {
	stats := &queue.Stats{}

	rows, err := r.db.WithContext(ctx).
		Model(&model.NotificationJob{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Rows()
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status model.NotificationStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("queue stats scan: %w", err)
		}
		switch status {
		case model.NotificationPending:
			stats.Pending = n
		case model.NotificationInFlight:
			stats.InFlight = n
		case model.NotificationSent:
			stats.Sent = n
		case model.NotificationFailed:
			stats.Failed = n
		case model.NotificationDeadLettered:
			stats.DeadLettered = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue stats rows: %w", err)
	}

	var sentLastMinute int64
	err = r.db.WithContext(ctx).
		Model(&model.NotificationJob{}).
		Where("status = ? AND sent_at > ?", model.NotificationSent, time.Now().Add(-time.Minute)).
		Count(&sentLastMinute).Error
	if err != nil {
		return nil, fmt.Errorf("queue throughput: %w", err)
	}
	stats.ThroughputPerMinute = float64(sentLastMinute)
	return stats, nil
}
