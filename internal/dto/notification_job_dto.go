package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/dwiprasetyo/job-portal/internal/model"
)

type NotificationJobDTO struct {
	ID            uuid.UUID  `json:"id"`
	Type          string     `json:"type"`
	RecipientID   uuid.UUID  `json:"recipient_id"`
	Status        string     `json:"status"` // e.g. "pending", "sent", "dead_lettered"
	Attempts      int        `json:"attempts"`
	MaxAttempts   int        `json:"max_attempts"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	SentAt        *time.Time `json:"sent_at"`
	LastError     string     `json:"last_error,omitempty"`
	Opened        bool       `json:"opened"`
	OpenedAt      *time.Time `json:"opened_at"`
	Clicked       bool       `json:"clicked"`
	ClickedAt     *time.Time `json:"clicked_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

func NewNotificationJobDTO(job *model.NotificationJob) NotificationJobDTO {
	return NotificationJobDTO{
		ID:            job.ID,
		Type:          string(job.Type),
		RecipientID:   job.RecipientID,
		Status:        string(job.Status),
		Attempts:      job.Attempts,
		MaxAttempts:   job.MaxAttempts,
		NextAttemptAt: job.NextAttemptAt,
		SentAt:        job.SentAt,
		LastError:     job.LastError,
		Opened:        job.Opened,
		OpenedAt:      job.OpenedAt,
		Clicked:       job.Clicked,
		ClickedAt:     job.ClickedAt,
		CreatedAt:     job.CreatedAt,
	}
}
