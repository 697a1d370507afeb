package pairs

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"os"

	"photomatch/internal/imageset"

	sqvect "github.com/liliang-cn/sqvect/v2/pkg/core"
	"golang.org/x/image/draw"
)

// ThumbnailRetriever ranks images by cosine similarity of small grayscale
// thumbnail descriptors held in a sqvect store. It is a coarse stand-in for a
// learned global descriptor and shares its interface, so either can back the
// retrieval strategy.
type ThumbnailRetriever struct {
	dbPath string
	size   int
	log    *slog.Logger
}

// NewThumbnailRetriever builds a retriever whose index lives at dbPath.
func NewThumbnailRetriever(dbPath string, thumbnailSize int, log *slog.Logger) *ThumbnailRetriever {
	if thumbnailSize < 4 {
		thumbnailSize = 4
	}
	return &ThumbnailRetriever{dbPath: dbPath, size: thumbnailSize, log: log}
}

// Neighbors indexes every image's descriptor, then queries each one's topK
// nearest. The self hit is skipped.
func (r *ThumbnailRetriever) Neighbors(ctx context.Context, images []imageset.Image, topK int) (map[string][]string, error) {
	dim := r.size * r.size
	store, err := sqvect.New(r.dbPath, dim)
	if err != nil {
		return nil, fmt.Errorf("open retrieval index: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("init retrieval index: %w", err)
	}
	defer store.Close()

	vectors := make(map[string][]float32, len(images))
	embs := make([]*sqvect.Embedding, 0, len(images))
	for _, img := range images {
		vec, err := r.descriptor(img.Path)
		if err != nil {
			return nil, fmt.Errorf("descriptor for %s: %w", img.ID, err)
		}
		vectors[img.ID] = vec
		embs = append(embs, &sqvect.Embedding{ID: img.ID, Vector: vec, Content: img.Path})
	}
	if err := store.UpsertBatch(ctx, embs); err != nil {
		return nil, fmt.Errorf("index descriptors: %w", err)
	}

	out := make(map[string][]string, len(images))
	for _, img := range images {
		scored, err := store.Search(ctx, vectors[img.ID], sqvect.SearchOptions{TopK: topK + 1})
		if err != nil {
			return nil, fmt.Errorf("search neighbours of %s: %w", img.ID, err)
		}
		var ids []string
		for _, hit := range scored {
			if hit.ID == img.ID {
				continue
			}
			ids = append(ids, hit.ID)
			if len(ids) == topK {
				break
			}
		}
		out[img.ID] = ids
	}
	return out, nil
}

// descriptor is an L2-normalized row-major grayscale thumbnail.
func (r *ThumbnailRetriever) descriptor(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}

	thumb := image.NewGray(image.Rect(0, 0, r.size, r.size))
	draw.ApproxBiLinear.Scale(thumb, thumb.Bounds(), src, src.Bounds(), draw.Src, nil)

	vec := make([]float32, r.size*r.size)
	var norm float64
	for i, v := range thumb.Pix {
		vec[i] = float32(v) / 255
		norm += float64(vec[i]) * float64(vec[i])
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec, nil
}
