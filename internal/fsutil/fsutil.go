package fsutil

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var imageExts = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".tif":  {},
	".tiff": {},
	".bmp":  {},
	".webp": {},
}

// ListImages returns all decodable image files directly under root, sorted by
// name. Pair generation and image-id assignment depend on this ordering being
// stable across runs.
func ListImages(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if IsImageFile(e.Name()) {
			files = append(files, filepath.Join(root, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// IsImageFile checks if a file is a supported image format.
func IsImageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := imageExts[ext]
	return ok
}

// EnsureDir creates dir and parents if missing.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// FirstExisting returns the first path that exists.
func FirstExisting(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
