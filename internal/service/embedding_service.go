package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/genai"

	"github.com/dwiprasetyo/job-portal/internal/config"
)

// ErrProviderUnavailable wraps embedding provider failures (timeouts, 5xx,
// open circuit). The trigger layer retries the whole evaluation on it.
var ErrProviderUnavailable = errors.New("embedding provider unavailable")

type EmbeddingServiceInterface interface {
	GetEmbedding(ctx context.Context, entityType string, entityID string, text string) ([]float32, error)
	CircuitBreakerStatus() (consecutiveErrors int, isOpen bool)
}

// EmbeddingService produces embeddings via the Gemini API with a Redis
// cache in front. A cache hit never touches the provider; a miss blocks on
// the external call under a request timeout.
type EmbeddingService struct {
	Client         *genai.Client
	rdb            *redis.Client
	Model          string
	RequestTimeout time.Duration
	CacheTTL       time.Duration

	mu                sync.Mutex
	consecutiveErrors int
	circuitBreakerMax int
}

func NewEmbeddingService(ctx context.Context, rdb *redis.Client) (*EmbeddingService, error) {
	geminiConfig := config.LoadGeminiConfig()
	apiKey := geminiConfig.APIKey
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY not set")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &EmbeddingService{
		Client:            client,
		rdb:               rdb,
		Model:             "gemini-embedding-001",
		RequestTimeout:    30 * time.Second,
		CacheTTL:          24 * time.Hour,
		circuitBreakerMax: 5,
	}, nil
}

func cacheKey(entityType, entityID string) string {
	return fmt.Sprintf("emb:%s:%s", entityType, entityID)
}

func (s *EmbeddingService) GetEmbedding(ctx context.Context, entityType, entityID, text string) ([]float32, error) {
	key := cacheKey(entityType, entityID)
	if s.rdb != nil {
		cached, err := s.rdb.Get(ctx, key).Bytes()
		if err == nil {
			var vec []float32
			if err := json.Unmarshal(cached, &vec); err == nil && len(vec) > 0 {
				return vec, nil
			}
			// corrupt entry, drop it and fall through to the provider
			s.rdb.Del(ctx, key)
		} else if !errors.Is(err, redis.Nil) {
			log.Printf("[embedding] redis get %s: %v", key, err)
		}
	}

	vec, err := s.generate(ctx, text)
	if err != nil {
		return nil, err
	}

	if s.rdb != nil {
		if raw, err := json.Marshal(vec); err == nil {
			if err := s.rdb.Set(ctx, key, raw, s.CacheTTL).Err(); err != nil {
				log.Printf("[embedding] redis set %s: %v", key, err)
			}
		}
	}
	return vec, nil
}

func (s *EmbeddingService) generate(ctx context.Context, text string) ([]float32, error) {
	trimmedText := strings.TrimSpace(text)
	if trimmedText == "" {
		return nil, fmt.Errorf("text for embedding cannot be empty")
	}
	if len(trimmedText) > 10000 {
		log.Printf("[embedding] text length %d exceeds recommended limit, truncating", len(trimmedText))
		trimmedText = trimmedText[:10000]
	}

	s.mu.Lock()
	open := s.consecutiveErrors >= s.circuitBreakerMax
	s.mu.Unlock()
	if open {
		return nil, fmt.Errorf("%w: circuit breaker open", ErrProviderUnavailable)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.RequestTimeout)
	defer cancel()

	content := []*genai.Content{genai.NewContentFromText(trimmedText, genai.RoleUser)}
	result, err := s.Client.Models.EmbedContent(timeoutCtx, s.Model, content, nil)
	if err != nil {
		s.recordError()
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	vec, err := validateEmbeddingResponse(result)
	if err != nil {
		s.recordError()
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	s.mu.Lock()
	s.consecutiveErrors = 0
	s.mu.Unlock()
	return vec, nil
}

func (s *EmbeddingService) recordError() {
	s.mu.Lock()
	s.consecutiveErrors++
	s.mu.Unlock()
}

// CircuitBreakerStatus is surfaced as degraded health on the admin API when
// the provider has been down for a while.
func (s *EmbeddingService) CircuitBreakerStatus() (consecutiveErrors int, isOpen bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveErrors, s.consecutiveErrors >= s.circuitBreakerMax
}

func validateEmbeddingResponse(resp *genai.EmbedContentResponse) ([]float32, error) {
	if resp == nil {
		return nil, fmt.Errorf("response is nil")
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	embeddings := resp.Embeddings[0].Values
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("embedding vector is empty")
	}
	for i, val := range embeddings {
		if math.IsNaN(float64(val)) || math.IsInf(float64(val), 0) {
			return nil, fmt.Errorf("invalid embedding value at index %d: %v", i, val)
		}
	}
	return embeddings, nil
}
