package domain

import "context"

// ImageRecord is a single indexed image: its absolute path, its embedding
// vector, and the file's modification time at indexing (unix seconds).
type ImageRecord struct {
	Path    string    `json:"path"`
	Vector  []float32 `json:"vector"`
	ModTime int64     `json:"mtime"`
}

// SearchResult is a ranked match for a query.
type SearchResult struct {
	Path    string
	Score   float64
	ModTime int64
}

// Embedder projects images and text into a shared vector space.
// Dimension is only known after the first successful embedding call.
type Embedder interface {
	Name() string
	Dimension() int
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedImages(ctx context.Context, images [][]byte) ([][]float32, error)
}

// Searcher is the viewer-facing subset of the search service.
type Searcher interface {
	Query(ctx context.Context, text string, topK int) ([]SearchResult, error)
}
