package indexer

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgsearch/internal/store/bolt"
)

// fakeEmbedder produces deterministic vectors from the image bytes and
// counts how many images it was asked to embed.
type fakeEmbedder struct {
	embedded int
}

func (f *fakeEmbedder) Name() string   { return "fake" }
func (f *fakeEmbedder) Dimension() int { return 4 }

func (f *fakeEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	return f.vec([]byte(text)), nil
}

func (f *fakeEmbedder) EmbedImages(_ context.Context, images [][]byte) ([][]float32, error) {
	out := make([][]float32, len(images))
	for i, img := range images {
		out[i] = f.vec(img)
		f.embedded++
	}
	return out, nil
}

func (f *fakeEmbedder) vec(data []byte) []float32 {
	v := make([]float32, 4)
	for i, b := range data {
		v[i%4] += float32(b) / 255
	}
	return v
}

func writePNG(t *testing.T, path string, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for x := 0; x < 2; x++ {
		for y := 0; y < 2; y++ {
			img.Set(x, y, c)
		}
	}
	fh, err := os.Create(path)
	require.NoError(t, err)
	defer fh.Close()
	require.NoError(t, png.Encode(fh, img))
}

func storeLen(t *testing.T, s *bolt.Store) int {
	t.Helper()
	n, err := s.Len()
	require.NoError(t, err)
	return n
}

func newService(t *testing.T) (*Service, *fakeEmbedder, *bolt.Store) {
	t.Helper()
	st, err := bolt.Open(filepath.Join(t.TempDir(), "embeddings.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	emb := &fakeEmbedder{}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(emb, st, log, 2, 2), emb, st
}

func TestIsImageFile(t *testing.T) {
	assert.True(t, IsImageFile("photo.jpg"))
	assert.True(t, IsImageFile("PHOTO.JPEG"))
	assert.True(t, IsImageFile("x.webp"))
	assert.False(t, IsImageFile("notes.txt"))
	assert.False(t, IsImageFile("archive.png.zip"))
}

func TestRunIndexesImages(t *testing.T) {
	svc, emb, st := newService(t)
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "red.png"), color.RGBA{R: 255, A: 255})
	writePNG(t, filepath.Join(dir, "blue.png"), color.RGBA{B: 255, A: 255})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not an image"), 0o644))

	stats, err := svc.Run(context.Background(), []string{dir}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Indexed)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, 2, emb.embedded)
	assert.Equal(t, 2, storeLen(t, st))
	assert.Equal(t, 4, st.Dimension())
}

func TestRunSkipsCorruptImages(t *testing.T) {
	svc, _, st := newService(t)
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "good.png"), color.RGBA{G: 255, A: 255})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.png"), []byte("definitely not a png"), 0o644))

	stats, err := svc.Run(context.Background(), []string{dir}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Indexed)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, storeLen(t, st))
}

func TestRunIsIncremental(t *testing.T) {
	svc, emb, _ := newService(t)
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), color.RGBA{R: 10, A: 255})
	writePNG(t, filepath.Join(dir, "b.png"), color.RGBA{R: 20, A: 255})

	_, err := svc.Run(context.Background(), []string{dir}, true)
	require.NoError(t, err)
	require.Equal(t, 2, emb.embedded)

	stats, err := svc.Run(context.Background(), []string{dir}, true)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Indexed)
	assert.Equal(t, 2, stats.Unchanged)
	assert.Equal(t, 2, emb.embedded, "unchanged files must not be re-embedded")
}

func TestRunReindexesModifiedFiles(t *testing.T) {
	svc, emb, _ := newService(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	writePNG(t, path, color.RGBA{R: 10, A: 255})

	_, err := svc.Run(context.Background(), []string{dir}, true)
	require.NoError(t, err)

	// Bump mtime to simulate a changed file.
	info, err := os.Stat(path)
	require.NoError(t, err)
	newTime := info.ModTime().Add(5 * time.Second)
	require.NoError(t, os.Chtimes(path, newTime, newTime))

	stats, err := svc.Run(context.Background(), []string{dir}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Indexed)
	assert.Equal(t, 2, emb.embedded)
}

func TestRunPrunesVanishedFiles(t *testing.T) {
	svc, _, st := newService(t)
	dir := t.TempDir()
	keep := filepath.Join(dir, "keep.png")
	gone := filepath.Join(dir, "gone.png")
	writePNG(t, keep, color.RGBA{R: 1, A: 255})
	writePNG(t, gone, color.RGBA{R: 2, A: 255})

	_, err := svc.Run(context.Background(), []string{dir}, true)
	require.NoError(t, err)
	require.Equal(t, 2, storeLen(t, st))

	require.NoError(t, os.Remove(gone))
	stats, err := svc.Run(context.Background(), []string{dir}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pruned)
	assert.Equal(t, 1, storeLen(t, st))

	paths, err := st.Paths()
	require.NoError(t, err)
	absKeep, _ := filepath.Abs(keep)
	_, ok := paths[absKeep]
	assert.True(t, ok)
}

func TestRunDeterministicVectors(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), color.RGBA{R: 77, A: 255})

	query := []float32{1, 1, 1, 1}
	run := func() float64 {
		svc, _, st := newService(t)
		_, err := svc.Run(context.Background(), []string{dir}, true)
		require.NoError(t, err)
		res, err := st.Search(query, 1)
		require.NoError(t, err)
		require.Len(t, res, 1)
		return res[0].Score
	}
	assert.Equal(t, run(), run(), "re-indexing the same content must yield identical vectors")
}

func TestRunMissingRootsFails(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.Run(context.Background(), []string{filepath.Join(t.TempDir(), "nope")}, true)
	assert.Error(t, err)
}

func TestRunSkipsMissingRootButIndexesOthers(t *testing.T) {
	svc, _, st := newService(t)
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), color.RGBA{R: 1, A: 255})

	stats, err := svc.Run(context.Background(), []string{filepath.Join(dir, "missing"), dir}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Indexed)
	assert.Equal(t, 1, storeLen(t, st))
}

func TestRunFlatIgnoresSubdirectories(t *testing.T) {
	svc, _, st := newService(t)
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	writePNG(t, filepath.Join(dir, "top.png"), color.RGBA{R: 1, A: 255})
	writePNG(t, filepath.Join(sub, "nested.png"), color.RGBA{R: 2, A: 255})

	stats, err := svc.Run(context.Background(), []string{dir}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Indexed)
	assert.Equal(t, 1, storeLen(t, st))
}

func TestFlatRunKeepsNestedRecords(t *testing.T) {
	svc, _, st := newService(t)
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	writePNG(t, filepath.Join(dir, "top.png"), color.RGBA{R: 1, A: 255})
	writePNG(t, filepath.Join(sub, "nested.png"), color.RGBA{R: 2, A: 255})

	_, err := svc.Run(context.Background(), []string{dir}, true)
	require.NoError(t, err)
	require.Equal(t, 2, storeLen(t, st))

	// A flat re-run must not prune the nested record: the file still exists,
	// it is simply outside the flat scan.
	stats, err := svc.Run(context.Background(), []string{dir}, false)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Pruned)
	assert.Equal(t, 2, storeLen(t, st))

	paths, err := st.Paths()
	require.NoError(t, err)
	absNested, _ := filepath.Abs(filepath.Join(sub, "nested.png"))
	_, ok := paths[absNested]
	assert.True(t, ok)
}

func TestDedupeRemovesIdenticalFiles(t *testing.T) {
	svc, _, _ := newService(t)
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), color.RGBA{R: 9, A: 255})
	orig, err := os.ReadFile(filepath.Join(dir, "a.png"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "copy.png"), orig, 0o644))
	writePNG(t, filepath.Join(dir, "other.png"), color.RGBA{B: 9, A: 255})

	removed, err := svc.Dedupe([]string{dir}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	var left []string
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		left = append(left, e.Name())
	}
	assert.Len(t, left, 2)
	assert.Contains(t, left, "a.png")
	assert.Contains(t, left, "other.png")
}

func TestScanSortsPaths(t *testing.T) {
	svc, _, _ := newService(t)
	dir := t.TempDir()
	for _, name := range []string{"c.png", "a.png", "b.png"} {
		writePNG(t, filepath.Join(dir, name), color.RGBA{R: 1, A: 255})
	}
	paths, err := svc.Scan(dir, true)
	require.NoError(t, err)
	require.Len(t, paths, 3)
	for i, want := range []string{"a.png", "b.png", "c.png"} {
		assert.Equal(t, want, filepath.Base(paths[i]), fmt.Sprintf("position %d", i))
	}
}
