package config

import (
	"log"
	"os"
	"strconv"
	"sync"
	"time"
)

// PipelineConfig holds the knobs of the match-and-notify pipeline.
type PipelineConfig struct {
	MatchThreshold    float64       // 0-100, matches below it are stored but not notified
	MaxAttempts       int           // retry budget per notification
	BackoffBase       time.Duration // exponential backoff base delay
	BackoffMax        time.Duration // backoff cap
	WorkerCount       int           // dispatch worker pool size
	ClaimBatchSize    int           // jobs claimed per poll
	PollInterval      time.Duration // worker idle poll interval
	VisibilityTimeout time.Duration // reclaim window for stuck in-flight jobs
	CandidateTopK     int           // ANN prefilter size per evaluation
	SweepStaleAfter   time.Duration // resumes unmatched for longer get re-evaluated
	SweepBatchSize    int
}

var (
	pipelineConfig *PipelineConfig
	pipelineOnce   sync.Once
)

func LoadPipelineConfig() *PipelineConfig {
	pipelineOnce.Do(func() {
		pipelineConfig = &PipelineConfig{
			MatchThreshold:    envFloat("MATCH_THRESHOLD", 50),
			MaxAttempts:       envInt("NOTIFY_MAX_ATTEMPTS", 3),
			BackoffBase:       envDuration("NOTIFY_BACKOFF_BASE", 30*time.Second),
			BackoffMax:        envDuration("NOTIFY_BACKOFF_MAX", time.Hour),
			WorkerCount:       envInt("NOTIFY_WORKERS", 4),
			ClaimBatchSize:    envInt("NOTIFY_BATCH_SIZE", 10),
			PollInterval:      envDuration("NOTIFY_POLL_INTERVAL", 5*time.Second),
			VisibilityTimeout: envDuration("NOTIFY_VISIBILITY_TIMEOUT", 5*time.Minute),
			CandidateTopK:     envInt("MATCH_CANDIDATE_TOPK", 50),
			SweepStaleAfter:   envDuration("MATCH_SWEEP_STALE_AFTER", 24*time.Hour),
			SweepBatchSize:    envInt("MATCH_SWEEP_BATCH_SIZE", 100),
		}
	})
	return pipelineConfig
}

func envInt(key string, fallback int) int {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		log.Printf("Warning: %s must be a positive integer, got %q, using %d", key, s, fallback)
		return fallback
	}
	return v
}

func envFloat(key string, fallback float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || v > 100 {
		log.Printf("Warning: %s must be in [0,100], got %q, using %v", key, s, fallback)
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := time.ParseDuration(s)
	if err != nil || v <= 0 {
		log.Printf("Warning: %s must be a positive duration, got %q, using %v", key, s, fallback)
		return fallback
	}
	return v
}
