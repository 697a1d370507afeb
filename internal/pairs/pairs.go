package pairs

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"photomatch/internal/config"
	"photomatch/internal/imageset"
)

// Pair is an unordered pair of image IDs, stored in canonical (lexicographic)
// order so (a,b) and (b,a) are the same value.
type Pair struct {
	A string
	B string
}

// New returns the canonical Pair for two IDs.
func New(a, b string) Pair {
	if b < a {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

// Key returns the stable string form used for artifact records.
func (p Pair) Key() string { return p.A + "\x00" + p.B }

func (p Pair) String() string { return p.A + " - " + p.B }

// set deduplicates pairs while preserving first-insertion order. Self pairs
// are rejected outright.
type set struct {
	pairs []Pair
	seen  map[Pair]struct{}
}

func newSet() *set {
	return &set{seen: make(map[Pair]struct{})}
}

func (s *set) add(a, b string) bool {
	if a == b {
		return false
	}
	p := New(a, b)
	if _, dup := s.seen[p]; dup {
		return false
	}
	s.seen[p] = struct{}{}
	s.pairs = append(s.pairs, p)
	return true
}

// InvalidPairFileError reports a pair-file entry naming an unknown image or
// having the wrong shape.
type InvalidPairFileError struct {
	Path   string
	Line   int
	Reason string
}

func (e *InvalidPairFileError) Error() string {
	return fmt.Sprintf("pair file %s: line %d: %s", e.Path, e.Line, e.Reason)
}

// Retriever ranks, for each image, its most similar neighbours. It is the
// collaborator behind the retrieval strategy.
type Retriever interface {
	Neighbors(ctx context.Context, images []imageset.Image, topK int) (map[string][]string, error)
}

// Generator produces the deduplicated pair set for one run.
type Generator struct {
	cfg       config.General
	topK      int
	retriever Retriever
	log       *slog.Logger
}

// NewGenerator builds a Generator. retriever may be nil unless the retrieval
// strategy is selected.
func NewGenerator(cfg config.General, topK int, retriever Retriever, log *slog.Logger) *Generator {
	return &Generator{cfg: cfg, topK: topK, retriever: retriever, log: log}
}

// Generate returns the pairs to match. For a fixed strategy and image set the
// result is identical across runs: exhaustive and retrieval output is sorted,
// sequential and from-file preserve their natural input order.
func (g *Generator) Generate(ctx context.Context, images *imageset.Set) ([]Pair, error) {
	switch g.cfg.Strategy {
	case config.StrategyExhaustive:
		return Exhaustive(images.IDs()), nil
	case config.StrategySequential:
		return Sequential(images.IDs(), g.cfg.Overlap), nil
	case config.StrategyRetrieval:
		if g.retriever == nil {
			return nil, fmt.Errorf("retrieval strategy selected but no retriever available")
		}
		return g.retrievalPairs(ctx, images)
	case config.StrategyFromFile:
		return FromFile(g.cfg.PairFile, images)
	default:
		return nil, fmt.Errorf("unknown matching strategy %q", g.cfg.Strategy)
	}
}

// Exhaustive returns every unordered pair of distinct images, sorted.
func Exhaustive(ids []string) []Pair {
	s := newSet()
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			s.add(ids[i], ids[j])
		}
	}
	out := s.pairs
	sortPairs(out)
	return out
}

// Sequential pairs each image with the next overlap images in listing order.
func Sequential(ids []string, overlap int) []Pair {
	s := newSet()
	for i := range ids {
		for j := i + 1; j <= i+overlap && j < len(ids); j++ {
			s.add(ids[i], ids[j])
		}
	}
	return s.pairs
}

// FromFile reads pairs verbatim from a user-supplied list, two image IDs per
// line separated by whitespace. Blank lines and #-comments are allowed.
func FromFile(path string, images *imageset.Set) ([]Pair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pair file: %w", err)
	}
	defer f.Close()

	s := newSet()
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, &InvalidPairFileError{Path: path, Line: line, Reason: fmt.Sprintf("expected two image names, got %d fields", len(fields))}
		}
		for _, id := range fields {
			if _, ok := images.Get(id); !ok {
				return nil, &InvalidPairFileError{Path: path, Line: line, Reason: fmt.Sprintf("unknown image %q", id)}
			}
		}
		if fields[0] == fields[1] {
			return nil, &InvalidPairFileError{Path: path, Line: line, Reason: fmt.Sprintf("self pair %q", fields[0])}
		}
		s.add(fields[0], fields[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read pair file: %w", err)
	}
	return s.pairs, nil
}

func (g *Generator) retrievalPairs(ctx context.Context, images *imageset.Set) ([]Pair, error) {
	neighbors, err := g.retriever.Neighbors(ctx, images.Images, g.topK)
	if err != nil {
		return nil, fmt.Errorf("retrieval ranking: %w", err)
	}
	s := newSet()
	for _, img := range images.Images {
		for _, other := range neighbors[img.ID] {
			if _, ok := images.Get(other); !ok {
				continue
			}
			s.add(img.ID, other)
		}
	}
	out := s.pairs
	sortPairs(out)
	if g.log != nil {
		g.log.Debug("retrieval pairing", "images", images.Len(), "pairs", len(out), "top_k", g.topK)
	}
	return out, nil
}

func sortPairs(ps []Pair) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].A == ps[j].A {
			return ps[i].B < ps[j].B
		}
		return ps[i].A < ps[j].A
	})
}

// WritePairList persists pairs as plain text, one pair per line.
func WritePairList(path string, ps []Pair) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, p := range ps {
		fmt.Fprintf(w, "%s %s\n", p.A, p.B)
	}
	return w.Flush()
}
