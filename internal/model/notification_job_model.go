package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type NotificationStatus string

const (
	NotificationPending      NotificationStatus = "pending"
	NotificationInFlight     NotificationStatus = "in_flight"
	NotificationSent         NotificationStatus = "sent"
	NotificationFailed       NotificationStatus = "failed"
	NotificationDeadLettered NotificationStatus = "dead_lettered"
)

type NotificationType string

const (
	NotificationJobMatch     NotificationType = "job_match"
	NotificationStatusUpdate NotificationType = "status_update"
	NotificationVerification NotificationType = "verification"
	NotificationReminder     NotificationType = "reminder"
)

// ErrInvalidTransition is returned when a status change would violate the
// notification lifecycle (e.g. failing a job that was already sent).
var ErrInvalidTransition = errors.New("invalid notification status transition")

const DefaultMaxAttempts = 3

// NotificationJob is the unit of work for the delivery pipeline. All state
// changes go through the Mark*/Reset methods so the lifecycle invariants live
// in one place; the queue implementations only persist what these compute.
type NotificationJob struct {
	ID            uuid.UUID          `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Type          NotificationType   `gorm:"type:varchar(50)" json:"type"`
	RecipientID   uuid.UUID          `gorm:"type:uuid;index" json:"recipient_id"`
	Recipient     string             `gorm:"type:varchar(255)" json:"recipient"` // delivery address
	Payload       string             `gorm:"type:jsonb" json:"payload"`
	DedupKey      string             `gorm:"type:varchar(255);index" json:"dedup_key"`
	Status        NotificationStatus `gorm:"type:varchar(20);index" json:"status"`
	Attempts      int                `json:"attempts"`
	MaxAttempts   int                `json:"max_attempts"`
	NextAttemptAt time.Time          `gorm:"index" json:"next_attempt_at"`
	ClaimedBy     string             `gorm:"type:varchar(100)" json:"claimed_by"`
	ClaimedAt     *time.Time         `json:"claimed_at"`
	SentAt        *time.Time         `json:"sent_at"`
	LastError     string             `gorm:"type:text" json:"last_error"`
	Opened        bool               `json:"opened"`
	OpenedAt      *time.Time         `json:"opened_at"`
	Clicked       bool               `json:"clicked"`
	ClickedAt     *time.Time         `json:"clicked_at"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

func (n *NotificationJob) TableName() string {
	return "notification_jobs"
}

// MatchDedupKey builds the dedup key for a job-match notification. One key
// per (resume, job) pair keeps the queue depth for that pair at 1.
func MatchDedupKey(resumeID, jobID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%s", NotificationJobMatch, resumeID, jobID)
}

// IsTerminal reports whether the job can never go back to the worker path
// without a manual retry.
func (n *NotificationJob) IsTerminal() bool {
	return n.Status == NotificationSent ||
		n.Status == NotificationFailed ||
		n.Status == NotificationDeadLettered
}

// MarkClaimed transitions pending → in_flight for the given worker.
func (n *NotificationJob) MarkClaimed(workerID string, now time.Time) error {
	if n.Status != NotificationPending {
		return fmt.Errorf("%w: claim from %s", ErrInvalidTransition, n.Status)
	}
	if n.NextAttemptAt.After(now) {
		return fmt.Errorf("%w: claim before next_attempt_at", ErrInvalidTransition)
	}
	n.Status = NotificationInFlight
	n.ClaimedBy = workerID
	t := now
	n.ClaimedAt = &t
	return nil
}

// MarkSent transitions to the terminal sent state. Calling it on a job that
// is already sent is a no-op so the operation stays idempotent; sent_at keeps
// its original value.
func (n *NotificationJob) MarkSent(now time.Time) error {
	if n.Status == NotificationSent {
		return nil
	}
	if n.Status != NotificationInFlight {
		return fmt.Errorf("%w: sent from %s", ErrInvalidTransition, n.Status)
	}
	n.Status = NotificationSent
	t := now
	n.SentAt = &t
	n.ClaimedBy = ""
	n.ClaimedAt = nil
	return nil
}

// MarkFailed records a failed delivery attempt. While attempts remain the job
// goes back to pending with next_attempt_at pushed into the future by the
// backoff function; once the budget is exhausted it is dead-lettered.
func (n *NotificationJob) MarkFailed(cause error, now time.Time, backoff func(attempts int) time.Duration) error {
	if n.Status == NotificationSent {
		return fmt.Errorf("%w: fail after sent", ErrInvalidTransition)
	}
	n.Attempts++
	if n.Attempts > n.MaxAttempts {
		n.Attempts = n.MaxAttempts
	}
	n.LastError = cause.Error()
	n.ClaimedBy = ""
	n.ClaimedAt = nil
	if n.Attempts >= n.MaxAttempts {
		n.Status = NotificationDeadLettered
		return nil
	}
	n.Status = NotificationPending
	n.NextAttemptAt = now.Add(backoff(n.Attempts))
	return nil
}

// MarkDeadLettered short-circuits the retry budget for permanent failures
// (missing template, malformed payload). Retrying those will never succeed.
func (n *NotificationJob) MarkDeadLettered(cause error) error {
	if n.Status == NotificationSent {
		return fmt.Errorf("%w: dead-letter after sent", ErrInvalidTransition)
	}
	n.Attempts = n.MaxAttempts
	n.LastError = cause.Error()
	n.Status = NotificationDeadLettered
	n.ClaimedBy = ""
	n.ClaimedAt = nil
	return nil
}

// ResetForRetry is the manual override used by the admin surface. It only
// applies to failed or dead-lettered jobs and restores a fresh retry budget.
func (n *NotificationJob) ResetForRetry(now time.Time) error {
	if n.Status != NotificationFailed && n.Status != NotificationDeadLettered {
		return fmt.Errorf("%w: reset from %s", ErrInvalidTransition, n.Status)
	}
	n.Status = NotificationPending
	n.Attempts = 0
	n.NextAttemptAt = now
	n.LastError = ""
	return nil
}

// Release returns a stuck in-flight job to pending without burning an
// attempt. next_attempt_at must end up strictly in the future.
func (n *NotificationJob) Release(retryAt time.Time) error {
	if n.Status != NotificationInFlight {
		return fmt.Errorf("%w: release from %s", ErrInvalidTransition, n.Status)
	}
	n.Status = NotificationPending
	n.NextAttemptAt = retryAt
	n.ClaimedBy = ""
	n.ClaimedAt = nil
	return nil
}

// ApplyOpened records the delivery-provider open callback. Idempotent, valid
// in any status: the callback can arrive long after the job is sent.
func (n *NotificationJob) ApplyOpened(at time.Time) {
	if n.Opened {
		return
	}
	n.Opened = true
	t := at
	n.OpenedAt = &t
}

// ApplyClicked records the delivery-provider click callback.
func (n *NotificationJob) ApplyClicked(at time.Time) {
	if n.Clicked {
		return
	}
	n.Clicked = true
	t := at
	n.ClickedAt = &t
}
