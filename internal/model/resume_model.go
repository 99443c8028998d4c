package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

type Resume struct {
	ID          uuid.UUID       `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CandidateID uuid.UUID       `gorm:"type:uuid;index" json:"candidate_id"`
	Name        string          `gorm:"type:varchar(255)" json:"name"`
	Email       string          `gorm:"type:varchar(255)" json:"email"`
	Content     string          `gorm:"type:text" json:"content"`
	Active      bool            `gorm:"default:false" json:"active"`
	Embedding   pgvector.Vector `gorm:"type:vector(3072)" json:"embedding"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (r *Resume) TableName() string {
	return "resumes"
}

// HasEmbedding reports whether an embedding has been computed for this resume.
func (r *Resume) HasEmbedding() bool {
	return len(r.Embedding.Slice()) > 0
}
