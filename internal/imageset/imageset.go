package imageset

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"photomatch/internal/fsutil"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Image is one input photo. The ID is the file base name, which stays stable
// across runs and is the key every later stage uses.
type Image struct {
	ID     string
	Path   string
	Width  int
	Height int
	Exif   Metadata
}

// Set is the ordered collection of input images for one run. Order is the
// name-sorted directory listing, immutable after Load.
type Set struct {
	Images []Image
	byID   map[string]int
}

// Load reads the image directory and decodes every image's dimensions.
// Files that cannot be decoded are rejected; the set must be trustworthy
// before any stage runs.
func Load(dir string) (*Set, error) {
	files, err := fsutil.ListImages(dir)
	if err != nil {
		return nil, fmt.Errorf("list images in %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}

	s := &Set{byID: make(map[string]int, len(files))}
	for _, path := range files {
		w, h, err := decodeDimensions(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		id := filepath.Base(path)
		if _, dup := s.byID[id]; dup {
			return nil, fmt.Errorf("duplicate image name %q", id)
		}
		s.byID[id] = len(s.Images)
		s.Images = append(s.Images, Image{ID: id, Path: path, Width: w, Height: h})
	}
	return s, nil
}

// Get returns the image with the given ID.
func (s *Set) Get(id string) (Image, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Image{}, false
	}
	return s.Images[i], true
}

// Len returns the number of images.
func (s *Set) Len() int { return len(s.Images) }

// IDs returns all image IDs in set order.
func (s *Set) IDs() []string {
	ids := make([]string, len(s.Images))
	for i, img := range s.Images {
		ids[i] = img.ID
	}
	return ids
}

// SetDimensions replaces the recorded dimensions of one image. Used after
// upright normalization, when later stages must see the rotated geometry.
func (s *Set) SetDimensions(id string, w, h int) {
	if i, ok := s.byID[id]; ok {
		s.Images[i].Width = w
		s.Images[i].Height = h
	}
}

// SetPath redirects one image to a different file on disk.
func (s *Set) SetPath(id, path string) {
	if i, ok := s.byID[id]; ok {
		s.Images[i].Path = path
	}
}

// SetExif attaches metadata to one image.
func (s *Set) SetExif(id string, meta Metadata) {
	if i, ok := s.byID[id]; ok {
		s.Images[i].Exif = meta
	}
}

func decodeDimensions(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
