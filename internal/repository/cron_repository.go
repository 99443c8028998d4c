package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dwiprasetyo/job-portal/internal/model"
)

type CronRepository struct {
	db *gorm.DB
}

func NewCronRepository(db *gorm.DB) *CronRepository {
	return &CronRepository{db}
}

// Seed inserts the config row for a task if it does not exist yet. An
// existing row wins so operator edits survive restarts.
func (r *CronRepository) Seed(ctx context.Context, cfg *model.CronJobConfig) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(cfg).Error
}

func (r *CronRepository) List(ctx context.Context) ([]model.CronJobConfig, error) {
	var configs []model.CronJobConfig
	err := r.db.WithContext(ctx).Order("name ASC").Find(&configs).Error
	return configs, err
}

func (r *CronRepository) Find(ctx context.Context, name string) (*model.CronJobConfig, error) {
	var cfg model.CronJobConfig
	err := r.db.WithContext(ctx).First(&cfg, "name = ?", name).Error
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *CronRepository) SetEnabled(ctx context.Context, name string, enabled bool) error {
	res := r.db.WithContext(ctx).
		Model(&model.CronJobConfig{}).
		Where("name = ?", name).
		Update("enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("cron job %q not found", name)
	}
	return nil
}

func (r *CronRepository) UpdateRun(ctx context.Context, name string, lastRun, nextRun time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.CronJobConfig{}).
		Where("name = ?", name).
		Updates(map[string]any{"last_run": lastRun, "next_run": nextRun}).Error
}
