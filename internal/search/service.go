package search

import (
	"context"
	"errors"
	"strings"

	"imgsearch/internal/domain"
	"imgsearch/internal/store"
)

// Service answers text queries against the embedding store.
type Service struct {
	embedder domain.Embedder
	store    store.Store
}

func New(embedder domain.Embedder, st store.Store) *Service {
	return &Service{embedder: embedder, store: st}
}

// Query embeds the text and returns the top-K stored images by cosine
// similarity, best first.
func (s *Service) Query(ctx context.Context, text string, topK int) ([]domain.SearchResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty query")
	}
	vec, err := s.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}
	return s.store.Search(vec, topK)
}

// Len returns the number of indexed images.
func (s *Service) Len() (int, error) { return s.store.Len() }
