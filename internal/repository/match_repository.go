package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/dwiprasetyo/job-portal/internal/model"
)

type MatchRepository struct {
	db *gorm.DB
}

func NewMatchRepository(db *gorm.DB) *MatchRepository {
	return &MatchRepository{db}
}

// MatchStats is the aggregate exposed via getMatchStats.
type MatchStats struct {
	TotalComputed  int64 `json:"total_computed"`
	AboveThreshold int64 `json:"above_threshold"`
}

// Upsert writes the current MatchResult for a (resume, job) pair.
// Recomputation overwrites, it never appends a second row.
func (r *MatchRepository) Upsert(ctx context.Context, result *model.MatchResult) error {
	res := r.db.WithContext(ctx).Exec(`
		INSERT INTO match_results (id, resume_id, job_id, score, computed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (resume_id, job_id)
		DO UPDATE SET score = EXCLUDED.score, computed_at = EXCLUDED.computed_at`,
		result.ID, result.ResumeID, result.JobID, result.Score, result.ComputedAt,
	)
	if res.Error != nil {
		return fmt.Errorf("upsert match result: %w", res.Error)
	}
	return nil
}

func (r *MatchRepository) Stats(ctx context.Context, from, to time.Time, threshold float64) (*MatchStats, error) {
	stats := &MatchStats{}
	base := r.db.WithContext(ctx).
		Model(&model.MatchResult{}).
		Where("computed_at >= ? AND computed_at < ?", from, to)

	if err := base.Session(&gorm.Session{}).Count(&stats.TotalComputed).Error; err != nil {
		return nil, fmt.Errorf("match stats total: %w", err)
	}
	if err := base.Session(&gorm.Session{}).Where("score >= ?", threshold).Count(&stats.AboveThreshold).Error; err != nil {
		return nil, fmt.Errorf("match stats above threshold: %w", err)
	}
	return stats, nil
}
