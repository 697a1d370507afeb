package imageset

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writeImage(t *testing.T, dir, name string, w, h int) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewGray(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode %s: %v", name, err)
	}
}

func TestLoadSortedWithDimensions(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "c.png", 8, 6)
	writeImage(t, dir, "a.png", 4, 2)
	writeImage(t, dir, "b.png", 2, 4)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("write text file: %v", err)
	}

	set, err := Load(dir)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if set.Len() != 3 {
		t.Fatalf("expected 3 images, got %d", set.Len())
	}
	wantOrder := []string{"a.png", "b.png", "c.png"}
	for i, id := range set.IDs() {
		if id != wantOrder[i] {
			t.Fatalf("position %d: got %s, want %s", i, id, wantOrder[i])
		}
	}
	a, ok := set.Get("a.png")
	if !ok || a.Width != 4 || a.Height != 2 {
		t.Fatalf("a.png dims: %+v", a)
	}
}

func TestLoadEmptyDirectory(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("expected error for empty directory")
	}
}

func TestLoadRejectsUndecodableImage(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "a.png", 2, 2)
	if err := os.WriteFile(filepath.Join(dir, "broken.jpg"), []byte("not an image"), 0o644); err != nil {
		t.Fatalf("write broken file: %v", err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected error for undecodable image")
	}
}

func TestSetMutators(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "a.png", 4, 2)
	set, err := Load(dir)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	set.SetDimensions("a.png", 2, 4)
	set.SetPath("a.png", "/elsewhere/a.png")
	set.SetExif("a.png", Metadata{Orientation: 6, CameraMake: "Canon"})

	img, _ := set.Get("a.png")
	if img.Width != 2 || img.Height != 4 {
		t.Fatalf("dimensions not updated: %+v", img)
	}
	if img.Path != "/elsewhere/a.png" {
		t.Fatalf("path not updated: %s", img.Path)
	}
	if img.Exif.Orientation != 6 || img.Exif.CameraMake != "Canon" {
		t.Fatalf("exif not updated: %+v", img.Exif)
	}

	// Unknown ids are ignored.
	set.SetDimensions("nosuch.png", 1, 1)
	if _, ok := set.Get("nosuch.png"); ok {
		t.Fatalf("mutator created a phantom image")
	}
}
