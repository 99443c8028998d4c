package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/dwiprasetyo/job-portal/internal/model"
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db}
}

// SearchPublished returns the topK published jobs closest to the query
// embedding by cosine distance. This is an ANN prefilter only; exact scores
// come from the matching package.
func (r *JobRepository) SearchPublished(ctx context.Context, embedding pgvector.Vector, topK int) ([]model.Job, error) {
	var jobs []model.Job

	// query pgvector <=> operator (cosine distance)
	err := r.db.WithContext(ctx).Raw(`
        SELECT *
        FROM jobs
        WHERE published = TRUE AND embedding IS NOT NULL
        ORDER BY embedding <=> ?
        LIMIT ?
    `, embedding, topK).Scan(&jobs).Error

	return jobs, err
}

func (r *JobRepository) CreateJob(ctx context.Context, job *model.Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *JobRepository) UpdateEmbedding(ctx context.Context, id uuid.UUID, embedding pgvector.Vector) error {
	return r.db.WithContext(ctx).
		Model(&model.Job{}).
		Where("id = ?", id).
		Update("embedding", embedding).Error
}

func (r *JobRepository) FindJobByID(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	var j model.Job
	err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error
	return &j, err
}
