package indexer

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
)

// Dedupe removes byte-identical duplicate image files under the given roots,
// keeping the first occurrence in walk order. It returns the number of files
// removed. Run before indexing so duplicates never enter the store.
func (s *Service) Dedupe(roots []string, recurse bool) (int, error) {
	seen := make(map[string]string) // content hash -> first path
	removed := 0
	for _, root := range roots {
		paths, err := s.Scan(root, recurse)
		if err != nil {
			return removed, fmt.Errorf("scan %s: %w", root, err)
		}
		for _, p := range paths {
			data, err := os.ReadFile(p)
			if err != nil {
				s.log.Warn("skipping file", "path", p, "error", err)
				continue
			}
			sum := md5.Sum(data)
			key := hex.EncodeToString(sum[:])
			if first, ok := seen[key]; ok {
				s.log.Info("removing duplicate file", "path", p, "duplicate_of", first)
				if err := os.Remove(p); err != nil {
					return removed, err
				}
				removed++
				continue
			}
			seen[key] = p
		}
	}
	return removed, nil
}
