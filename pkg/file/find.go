package file

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FindOlderThan lists regular files directly under dir whose modification
// time is before cutoff. A missing dir yields no files.
func FindOlderThan(dir string, cutoff time.Time) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var old []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			old = append(old, filepath.Join(dir, entry.Name()))
		}
	}
	return old, nil
}
