package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/dwiprasetyo/job-portal/internal/model"
)

type ResumeRepository struct {
	db *gorm.DB
}

func NewResumeRepository(db *gorm.DB) *ResumeRepository {
	return &ResumeRepository{db}
}

// SearchActive returns the topK active resumes closest to the query embedding
// by cosine distance.
func (r *ResumeRepository) SearchActive(ctx context.Context, embedding pgvector.Vector, topK int) ([]model.Resume, error) {
	var resumes []model.Resume

	err := r.db.WithContext(ctx).Raw(`
        SELECT *
        FROM resumes
        WHERE active = TRUE AND embedding IS NOT NULL
        ORDER BY embedding <=> ?
        LIMIT ?
    `, embedding, topK).Scan(&resumes).Error

	return resumes, err
}

func (r *ResumeRepository) CreateResume(ctx context.Context, resume *model.Resume) error {
	return r.db.WithContext(ctx).Create(resume).Error
}

func (r *ResumeRepository) UpdateEmbedding(ctx context.Context, id uuid.UUID, embedding pgvector.Vector) error {
	return r.db.WithContext(ctx).
		Model(&model.Resume{}).
		Where("id = ?", id).
		Update("embedding", embedding).Error
}

func (r *ResumeRepository) FindResumeByID(ctx context.Context, id uuid.UUID) (*model.Resume, error) {
	var resume model.Resume
	err := r.db.WithContext(ctx).First(&resume, "id = ?", id).Error
	return &resume, err
}

// ListActiveIDs returns ids of active resumes whose newest match result is
// older than staleBefore (or that have none at all). Used by the sweep.
func (r *ResumeRepository) ListActiveIDs(ctx context.Context, staleBefore time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Raw(`
        SELECT r.id
        FROM resumes r
        LEFT JOIN (
            SELECT resume_id, MAX(computed_at) AS last_computed
            FROM match_results GROUP BY resume_id
        ) m ON m.resume_id = r.id
        WHERE r.active = TRUE AND (m.last_computed IS NULL OR m.last_computed < ?)
        ORDER BY m.last_computed ASC NULLS FIRST
        LIMIT ?
    `, staleBefore, limit).Scan(&ids).Error
	return ids, err
}
