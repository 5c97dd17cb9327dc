package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	// Image formats the indexer can validate before shipping bytes to the
	// embedding service.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"imgsearch/internal/domain"
	"imgsearch/internal/store"
)

var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".bmp": {},
	".gif": {}, ".tif": {}, ".tiff": {}, ".webp": {},
}

// IsImageFile reports whether the file name carries a supported image extension.
func IsImageFile(name string) bool {
	_, ok := imageExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Service walks directories, embeds the images it finds, and merges the
// results into the embedding store.
type Service struct {
	embedder    domain.Embedder
	store       store.Store
	log         *slog.Logger
	batchSize   int
	concurrency int
}

// Stats summarizes an indexing run.
type Stats struct {
	Indexed   int // embedded and written
	Unchanged int // already in the store with the same mtime
	Skipped   int // unreadable or undecodable files
	Pruned    int // stale records removed from the store
}

func New(embedder domain.Embedder, st store.Store, log *slog.Logger, batchSize, concurrency int) *Service {
	if batchSize <= 0 {
		batchSize = 32
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{embedder: embedder, store: st, log: log, batchSize: batchSize, concurrency: concurrency}
}

// Scan returns the absolute paths of image files under root, sorted.
// With recurse false only the immediate directory entries are considered.
func (s *Service) Scan(root string, recurse bool) ([]string, error) {
	var paths []string
	if recurse {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				s.log.Warn("skipping unreadable path", "path", path, "error", err)
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if !d.IsDir() && IsImageFile(d.Name()) {
				abs, err := filepath.Abs(path)
				if err != nil {
					return err
				}
				paths = append(paths, abs)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() && IsImageFile(e.Name()) {
				abs, err := filepath.Abs(filepath.Join(root, e.Name()))
				if err != nil {
					return nil, err
				}
				paths = append(paths, abs)
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Run indexes the given roots: new and modified images are embedded and
// upserted, records for files that vanished from under the roots are pruned,
// and everything else in the store is left alone. Unreadable images are
// skipped; a store or embedding-service failure aborts the run.
func (s *Service) Run(ctx context.Context, roots []string, recurse bool) (*Stats, error) {
	absRoots := make([]string, 0, len(roots))
	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			s.log.Warn("directory not found", "path", root)
			continue
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, err
		}
		absRoots = append(absRoots, abs)
	}
	if len(absRoots) == 0 {
		return nil, errors.New("no processable directories found")
	}

	candidates := make(map[string]int64) // path -> mtime
	for _, root := range absRoots {
		paths, err := s.Scan(root, recurse)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", root, err)
		}
		for _, p := range paths {
			info, err := os.Stat(p)
			if err != nil {
				s.log.Warn("skipping file", "path", p, "error", err)
				continue
			}
			candidates[p] = info.ModTime().Unix()
		}
	}

	existing, err := s.store.Paths()
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}

	stats := &Stats{}
	var todo []string
	for p, mtime := range candidates {
		if prev, ok := existing[p]; ok && prev == mtime {
			stats.Unchanged++
			continue
		}
		todo = append(todo, p)
	}
	sort.Strings(todo)

	var stale []string
	for p := range existing {
		if _, ok := candidates[p]; ok {
			continue
		}
		if !underAny(p, absRoots) {
			continue
		}
		// A flat scan leaves nested files out of candidates even though they
		// still exist; only prune records whose file is actually gone.
		if _, err := os.Stat(p); err == nil {
			continue
		}
		stale = append(stale, p)
	}

	s.log.Info("indexing",
		"roots", len(absRoots),
		"found", len(candidates),
		"to_embed", len(todo),
		"unchanged", stats.Unchanged,
		"stale", len(stale),
	)

	for start := 0; start < len(todo); start += s.batchSize {
		end := start + s.batchSize
		if end > len(todo) {
			end = len(todo)
		}
		n, skipped, err := s.indexBatch(ctx, todo[start:end], candidates)
		if err != nil {
			return nil, err
		}
		stats.Indexed += n
		stats.Skipped += skipped
		s.log.Info("batch done", "embedded", stats.Indexed, "of", len(todo), "skipped", stats.Skipped)
	}

	if len(stale) > 0 {
		if err := s.store.Delete(stale); err != nil {
			return nil, fmt.Errorf("prune store: %w", err)
		}
		stats.Pruned = len(stale)
	}

	total, _ := s.store.Len()
	s.log.Info("indexing complete",
		"indexed", stats.Indexed,
		"unchanged", stats.Unchanged,
		"skipped", stats.Skipped,
		"pruned", stats.Pruned,
		"total", total,
	)
	return stats, nil
}

// indexBatch loads a batch of files concurrently, embeds the ones that
// decode, and upserts the resulting records.
func (s *Service) indexBatch(ctx context.Context, paths []string, mtimes map[string]int64) (indexed, skipped int, err error) {
	loaded := make([][]byte, len(paths))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			data, err := os.ReadFile(p)
			if err == nil {
				_, _, err = image.DecodeConfig(bytes.NewReader(data))
			}
			if err != nil {
				s.log.Warn("skipping image", "path", p, "error", err)
				mu.Lock()
				skipped++
				mu.Unlock()
				return nil
			}
			loaded[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}

	var keep []string
	var images [][]byte
	for i, data := range loaded {
		if data != nil {
			keep = append(keep, paths[i])
			images = append(images, data)
		}
	}
	if len(images) == 0 {
		return 0, skipped, nil
	}

	vectors, err := s.embedder.EmbedImages(ctx, images)
	if err != nil {
		return 0, 0, fmt.Errorf("embed images: %w", err)
	}
	if len(vectors) != len(keep) {
		return 0, 0, fmt.Errorf("embedder returned %d vectors for %d images", len(vectors), len(keep))
	}

	if dim := s.store.Dimension(); dim == 0 {
		if err := s.store.Init(len(vectors[0]), s.embedder.Name()); err != nil {
			return 0, 0, err
		}
	} else if dim != len(vectors[0]) {
		return 0, 0, fmt.Errorf("store has dimension %d but embedder %s produces %d: delete the store and re-index", dim, s.embedder.Name(), len(vectors[0]))
	}

	records := make([]domain.ImageRecord, len(keep))
	for i, p := range keep {
		records[i] = domain.ImageRecord{Path: p, Vector: vectors[i], ModTime: mtimes[p]}
	}
	if err := s.store.Upsert(records); err != nil {
		return 0, 0, fmt.Errorf("write store: %w", err)
	}
	return len(records), skipped, nil
}

func underAny(path string, roots []string) bool {
	for _, root := range roots {
		if strings.HasPrefix(path, root+string(filepath.Separator)) || path == root {
			return true
		}
	}
	return false
}
