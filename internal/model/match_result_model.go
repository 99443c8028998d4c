package model

import (
	"time"

	"github.com/google/uuid"
)

// MatchResult is the computed compatibility between one resume and one job.
// At most one current row exists per (resume_id, job_id); recomputation
// overwrites it instead of appending.
type MatchResult struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ResumeID   uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_match_pair" json:"resume_id"`
	JobID      uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_match_pair" json:"job_id"`
	Score      float64   `gorm:"type:float" json:"score"` // 0-100, cosine similarity scaled
	ComputedAt time.Time `json:"computed_at"`
}

func (m *MatchResult) TableName() string {
	return "match_results"
}
