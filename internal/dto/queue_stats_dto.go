package dto

import "github.com/dwiprasetyo/job-portal/internal/queue"

// QueueStatsDTO is the observability snapshot: queue depth per status plus a
// coarse health flag (degraded when the embedding provider circuit is open).
type QueueStatsDTO struct {
	queue.Stats
	Health                  string `json:"health"` // "ok" or "degraded"
	EmbeddingProviderErrors int    `json:"embedding_provider_errors"`
}
