// Package matching implements the vector similarity ranker used by the match
// evaluator. Everything here is pure and safe for concurrent use.
package matching

import (
	"errors"
	"math"
	"sort"

	"github.com/google/uuid"
)

var (
	// ErrDimensionMismatch means the two vectors have different lengths.
	// This does not self-heal, callers should skip the pair, not retry.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrZeroVector means one of the vectors has zero magnitude. The score
	// is defined as 0 in that case instead of dividing by zero.
	ErrZeroVector = errors.New("zero-magnitude embedding vector")
)

// Similarity returns the cosine similarity of a and b in [-1, 1].
// A zero-magnitude vector yields (0, ErrZeroVector), never NaN.
func Similarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, ErrZeroVector
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Score converts a cosine similarity to the 0-100 scale stored in
// match_results. Negative similarity clamps to 0.
func Score(similarity float64) float64 {
	if similarity <= 0 {
		return 0
	}
	return similarity * 100
}

// Candidate is one entry of the set ranked against a query vector.
type Candidate struct {
	ID        uuid.UUID
	Embedding []float32
}

// Ranked is a candidate that crossed the threshold, with its score.
type Ranked struct {
	ID    uuid.UUID
	Score float64 // 0-100
}

// Rank scores every candidate against query and returns the ones with
// score >= threshold, sorted descending. The sort is stable so ties keep
// candidate insertion order. A zero-magnitude pair scores 0 like everywhere
// else; only candidates with mismatched dimensions are skipped and reported
// in skipped, and they never fail the batch.
func Rank(query []float32, candidates []Candidate, threshold float64) (ranked []Ranked, skipped []uuid.UUID) {
	for _, c := range candidates {
		sim, err := Similarity(query, c.Embedding)
		if err != nil && !errors.Is(err, ErrZeroVector) {
			skipped = append(skipped, c.ID)
			continue
		}
		score := Score(sim)
		if score >= threshold {
			ranked = append(ranked, Ranked{ID: c.ID, Score: score})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked, skipped
}
