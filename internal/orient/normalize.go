package orient

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"photomatch/internal/fsutil"
	"photomatch/internal/imageset"
)

// Classifier decides an upright rotation for images without a usable EXIF
// orientation tag. Implementations wrap external orientation models; a nil
// classifier means those images stay at identity.
type Classifier interface {
	Classify(ctx context.Context, imagePath string) (Rotation, error)
}

// Normalizer rotates images so their content is upright before feature
// extraction. Originals are never modified; rotated copies go to a side
// directory and every decision is captured in a Record.
type Normalizer struct {
	outDir     string
	workers    int
	classifier Classifier
	log        *slog.Logger
}

// NewNormalizer builds a Normalizer writing rotated copies under outDir.
func NewNormalizer(outDir string, workers int, classifier Classifier, log *slog.Logger) *Normalizer {
	if workers < 1 {
		workers = 1
	}
	return &Normalizer{outDir: outDir, workers: workers, classifier: classifier, log: log}
}

type normResult struct {
	id      string
	rec     Record
	path    string
	rotated bool
}

// Run detects and applies an upright rotation for every image in the set,
// then repoints the set at the rotated copies. The returned Records hold the
// inverse transforms the restore step needs. Detection that is inconclusive
// or a copy that fails to write degrades to identity with a warning; this
// stage never fails an image out of the run.
func (n *Normalizer) Run(ctx context.Context, images *imageset.Set) (Records, error) {
	if err := fsutil.EnsureDir(n.outDir); err != nil {
		return nil, fmt.Errorf("create upright dir: %w", err)
	}

	useImagick := imagickAvailable()
	if useImagick {
		imagickInitialize()
		defer imagickTerminate()
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, n.workers)
	results := make(chan normResult, len(images.Images))

	for _, img := range images.Images {
		if err := ctx.Err(); err != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(img imageset.Image) {
			defer wg.Done()
			defer func() { <-sem }()
			results <- n.normalizeOne(ctx, img, useImagick)
		}(img)
	}
	wg.Wait()
	close(results)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	recs := make(Records, images.Len())
	for res := range results {
		recs[res.id] = res.rec
		if res.rotated {
			images.SetPath(res.id, res.path)
			w, h := res.rec.Rotation.RotatedDims(res.rec.Width, res.rec.Height)
			images.SetDimensions(res.id, w, h)
		}
	}

	if err := SaveRecords(filepath.Join(n.outDir, "rotations.json"), recs); err != nil {
		return nil, fmt.Errorf("save rotation records: %w", err)
	}
	return recs, nil
}

func (n *Normalizer) normalizeOne(ctx context.Context, img imageset.Image, useImagick bool) normResult {
	rec := Record{Rotation: n.detect(ctx, img), Width: img.Width, Height: img.Height}
	res := normResult{id: img.ID, rec: rec}
	if rec.Rotation == Rotate0 {
		return res
	}

	dst := n.rotatedPath(img.ID)
	var err error
	if useImagick {
		err = imagickRotate(img.Path, dst, rec.Rotation)
	} else {
		err = nativeRotate(img.Path, dst, rec.Rotation)
	}
	if err != nil {
		n.log.Warn("upright rotation failed, keeping original orientation",
			"image", img.ID, "rotation", int(rec.Rotation), "error", err.Error())
		res.rec.Rotation = Rotate0
		return res
	}

	n.log.Debug("image rotated upright", "image", img.ID, "rotation", int(rec.Rotation))
	res.path = dst
	res.rotated = true
	return res
}

func (n *Normalizer) detect(ctx context.Context, img imageset.Image) Rotation {
	if img.Exif.Orientation > 1 {
		return FromEXIFOrientation(img.Exif.Orientation)
	}
	if n.classifier == nil {
		return Rotate0
	}
	rot, err := n.classifier.Classify(ctx, img.Path)
	if err != nil || !rot.Valid() {
		if err != nil {
			n.log.Debug("orientation classifier inconclusive", "image", img.ID, "error", err.Error())
		}
		return Rotate0
	}
	return rot
}

// rotatedPath keeps the full image ID in the output name so distinct IDs
// never collide in the side directory. Formats the native encoder cannot
// write come out as PNG, appended rather than substituted ("a.tif" and
// "a.png" must not both land on "a.png").
func (n *Normalizer) rotatedPath(id string) string {
	ext := strings.ToLower(filepath.Ext(id))
	switch ext {
	case ".jpg", ".jpeg", ".png":
		return filepath.Join(n.outDir, id)
	default:
		return filepath.Join(n.outDir, id+".png")
	}
}

// nativeRotate is the pure-Go fallback: right-angle rotation is a pixel
// permutation, so no resampling happens and the transform stays lossless.
func nativeRotate(src, dst string, rot Rotation) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	in, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("decode %s: %w", src, err)
	}

	out := rotateImage(in, rot)

	g, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer g.Close()

	switch strings.ToLower(filepath.Ext(dst)) {
	case ".jpg", ".jpeg":
		return jpeg.Encode(g, out, &jpeg.Options{Quality: 95})
	default:
		return png.Encode(g, out)
	}
}

func rotateImage(in image.Image, rot Rotation) image.Image {
	b := in.Bounds()
	w, h := b.Dx(), b.Dy()
	rw, rh := rot.RotatedDims(w, h)
	out := image.NewNRGBA(image.Rect(0, 0, rw, rh))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			fx, fy := rot.Forward(float64(x), float64(y), w, h)
			out.Set(int(fx), int(fy), in.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}
