package bolt

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"imgsearch/internal/domain"
	"imgsearch/internal/store"
)

var (
	bucketImages = []byte("images")
	bucketMeta   = []byte("meta")

	keyDimension = []byte("dimension")
	keyModel     = []byte("model")
)

// Store is a single-file embedding store backed by bbolt.
// All records are cached in memory on open; Search is brute-force cosine
// over the cache. The indexer opens it writable, the viewer read-only.
type Store struct {
	db *bbolt.DB

	mu        sync.RWMutex
	dimension int
	model     string
	records   []domain.ImageRecord
	index     map[string]int // path -> position in records
}

// Open opens (and in write mode creates) the store file at path.
func Open(path string, readOnly bool) (*Store, error) {
	if !readOnly {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("open embedding store %s: %w", path, err)
	}
	s := &Store{db: db, index: make(map[string]int)}
	if !readOnly {
		err = db.Update(func(tx *bbolt.Tx) error {
			if _, err := tx.CreateBucketIfNotExists(bucketImages); err != nil {
				return err
			}
			_, err := tx.CreateBucketIfNotExists(bucketMeta)
			return err
		})
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load embedding store %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) load() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		images := tx.Bucket(bucketImages)
		if meta == nil || images == nil {
			return errors.New("not an embedding store")
		}
		if v := meta.Get(keyDimension); v != nil {
			dim, err := strconv.Atoi(string(v))
			if err != nil {
				return fmt.Errorf("corrupt dimension metadata: %w", err)
			}
			s.dimension = dim
		}
		if v := meta.Get(keyModel); v != nil {
			s.model = string(v)
		}
		return images.ForEach(func(k, v []byte) error {
			var rec domain.ImageRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt record %q: %w", k, err)
			}
			s.index[rec.Path] = len(s.records)
			s.records = append(s.records, rec)
			return nil
		})
	})
}

// Init records the store's dimensionality and model, or verifies them
// against an existing store.
func (s *Store) Init(dimension int, model string) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension != 0 && s.dimension != dimension {
		return fmt.Errorf("store has dimension %d, embedder produces %d: delete the store and re-index", s.dimension, dimension)
	}
	if s.model != "" && model != "" && s.model != model {
		return fmt.Errorf("store was built with model %q, configured model is %q: delete the store and re-index", s.model, model)
	}
	s.dimension = dimension
	if model != "" {
		s.model = model
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if err := meta.Put(keyDimension, []byte(strconv.Itoa(dimension))); err != nil {
			return err
		}
		return meta.Put(keyModel, []byte(s.model))
	})
}

func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// Model returns the embedding model name the store was built with.
func (s *Store) Model() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

func (s *Store) Upsert(records []domain.ImageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension == 0 {
		return errors.New("store not initialized")
	}
	for _, rec := range records {
		if len(rec.Vector) != s.dimension {
			return fmt.Errorf("vector for %s has dimension %d, want %d", rec.Path, len(rec.Vector), s.dimension)
		}
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketImages)
		for _, rec := range records {
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(rec.Path), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, rec := range records {
		if i, ok := s.index[rec.Path]; ok {
			s.records[i] = rec
		} else {
			s.index[rec.Path] = len(s.records)
			s.records = append(s.records, rec)
		}
	}
	return nil
}

func (s *Store) Delete(paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketImages)
		for _, p := range paths {
			if err := b.Delete([]byte(p)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, p := range paths {
		i, ok := s.index[p]
		if !ok {
			continue
		}
		last := len(s.records) - 1
		if i != last {
			s.records[i] = s.records[last]
			s.index[s.records[i].Path] = i
		}
		s.records = s.records[:last]
		delete(s.index, p)
	}
	return nil
}

func (s *Store) Paths() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(s.records))
	for _, rec := range s.records {
		out[rec.Path] = rec.ModTime
	}
	return out, nil
}

func (s *Store) Search(vector []float32, topK int) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if topK <= 0 {
		topK = 5
	}
	results := make([]domain.SearchResult, len(s.records))
	for i, rec := range s.records {
		results[i] = domain.SearchResult{
			Path:    rec.Path,
			Score:   store.Cosine(rec.Vector, vector),
			ModTime: rec.ModTime,
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > len(results) {
		topK = len(results)
	}
	return results[:topK], nil
}

func (s *Store) Len() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *Store) Close() error { return s.db.Close() }
