// Package queue defines the durable notification queue consumed by the
// dispatch workers and the match evaluator. Two implementations exist: the
// Postgres-backed one in internal/repository and the in-memory one in this
// package used by tests and local development.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dwiprasetyo/job-portal/internal/model"
)

var (
	// ErrDuplicateJob means a job with the same dedup key is already
	// pending, in flight, or sent. Callers treat it as a successful no-op.
	ErrDuplicateJob = errors.New("duplicate notification job")
	// ErrJobNotFound means no job exists for the given id.
	ErrJobNotFound = errors.New("notification job not found")
)

// TrackingEvent is a delivery-provider callback kind.
type TrackingEvent string

const (
	TrackingOpened  TrackingEvent = "opened"
	TrackingClicked TrackingEvent = "clicked"
)

// Stats is the queue snapshot exposed to the observability surface.
type Stats struct {
	Pending             int64   `json:"pending"`
	InFlight            int64   `json:"in_flight"`
	Sent                int64   `json:"sent"`
	Failed              int64   `json:"failed"`
	DeadLettered        int64   `json:"dead_lettered"`
	ThroughputPerMinute float64 `json:"throughput_per_minute"`
}

// Store is the shared mutable resource of the pipeline. All job mutation goes
// through these operations; workers never touch rows by any other path.
type Store interface {
	// Enqueue inserts a new pending job. Returns ErrDuplicateJob when the
	// dedup key is already held by a non-terminal-failure job.
	Enqueue(ctx context.Context, job *model.NotificationJob) error
	// Claim atomically moves up to batchSize due pending jobs to in_flight
	// for the given worker. No job is ever handed to two workers.
	Claim(ctx context.Context, workerID string, batchSize int) ([]model.NotificationJob, error)
	// Complete marks a job sent. Idempotent.
	Complete(ctx context.Context, id uuid.UUID) error
	// Fail records a transient failure: backoff while attempts remain,
	// dead-letter once the budget is gone.
	Fail(ctx context.Context, id uuid.UUID, cause error) error
	// DeadLetter records a permanent failure, skipping remaining attempts.
	DeadLetter(ctx context.Context, id uuid.UUID, cause error) error
	// Retry manually resets a failed or dead-lettered job to pending.
	Retry(ctx context.Context, id uuid.UUID) error
	// RetryAllFailed resets every failed and dead-lettered job, returning
	// how many were reset.
	RetryAllFailed(ctx context.Context) (int, error)
	// ReleaseStuck returns in-flight jobs claimed longer ago than the
	// visibility timeout to pending, returning how many were released.
	ReleaseStuck(ctx context.Context, visibilityTimeout time.Duration) (int, error)
	// ApplyTracking applies an open/click callback. Idempotent, valid in
	// any job status.
	ApplyTracking(ctx context.Context, id uuid.UUID, event TrackingEvent, at time.Time) error
	Get(ctx context.Context, id uuid.UUID) (*model.NotificationJob, error)
	Stats(ctx context.Context) (*Stats, error)
}

// ExponentialBackoff returns the standard retry delay curve:
// base × 2^attempts, capped at max.
func ExponentialBackoff(base, max time.Duration) func(attempts int) time.Duration {
	return func(attempts int) time.Duration {
		delay := base
		for i := 0; i < attempts; i++ {
			delay *= 2
			if delay >= max {
				return max
			}
		}
		return delay
	}
}
