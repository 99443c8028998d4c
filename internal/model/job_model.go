package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

type Job struct {
	ID          uuid.UUID       `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	RecruiterID uuid.UUID       `gorm:"type:uuid;index" json:"recruiter_id"`
	Title       string          `json:"title"`
	Content     string          `gorm:"type:text" json:"content"`
	Published   bool            `gorm:"default:false" json:"published"`
	Embedding   pgvector.Vector `gorm:"type:vector(3072)" json:"embedding"` // pakai pgvector
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (j *Job) TableName() string {
	return "jobs"
}

// HasEmbedding reports whether an embedding has been computed for this job.
func (j *Job) HasEmbedding() bool {
	return len(j.Embedding.Slice()) > 0
}
