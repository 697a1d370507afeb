package pairs

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"photomatch/internal/imageset"
)

// testSet writes tiny decodable images into a temp directory and loads them
// as a Set. The decoder sniffs content, so the extensions are free-form.
func testSet(t *testing.T, names ...string) *imageset.Set {
	t.Helper()
	dir := t.TempDir()
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	for _, name := range names {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if err := png.Encode(f, img); err != nil {
			t.Fatalf("encode %s: %v", name, err)
		}
		f.Close()
	}
	set, err := imageset.Load(dir)
	if err != nil {
		t.Fatalf("load test set: %v", err)
	}
	return set
}
