package model

import (
	"time"
)

// CronJobConfig is the persisted schedule state for one recurring task. The
// scheduler reads it on every tick and writes back last_run/next_run.
type CronJobConfig struct {
	Name      string     `gorm:"type:varchar(100);primaryKey" json:"name"`
	Schedule  string     `gorm:"type:varchar(50)" json:"schedule"` // cron spec, e.g. "@every 6h"
	Enabled   bool       `gorm:"default:true" json:"enabled"`
	LastRun   *time.Time `json:"last_run"`
	NextRun   *time.Time `json:"next_run"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (c *CronJobConfig) TableName() string {
	return "cron_job_configs"
}
