package store

import (
	"math"

	"imgsearch/internal/domain"
)

// Store persists image embeddings and supports similarity search.
// A store is written by the indexer and opened read-only by the viewer.
type Store interface {
	// Init records the vector dimensionality and embedding model name.
	// Opening an existing store with a different dimension or model fails.
	Init(dimension int, model string) error
	Dimension() int
	Upsert(records []domain.ImageRecord) error
	Delete(paths []string) error
	// Paths returns path -> modification time for every stored record.
	Paths() (map[string]int64, error)
	Search(vector []float32, topK int) ([]domain.SearchResult, error)
	Len() (int, error)
	Close() error
}

// Cosine computes the cosine similarity between two vectors.
// Mismatched or empty inputs score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
