package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"photomatch/internal/artifacts"
	"photomatch/internal/colmap"
	"photomatch/internal/config"
	"photomatch/internal/features"
	"photomatch/internal/fsutil"
	"photomatch/internal/imageset"
	"photomatch/internal/logging"
	"photomatch/internal/orient"
	"photomatch/internal/pairs"
	"photomatch/internal/reconstruction"

	"github.com/google/uuid"
)

// Result summarizes one pipeline run.
type Result struct {
	RunID         string
	Images        int
	SkippedImages int
	Pairs         int
	MatchedPairs  int
	SkippedPairs  int
	DatabasePath  string
	Reconstructed bool
	Timer         *logging.Timer
}

// Pipeline runs the stages of one matching job in order: load, pair, upright,
// extract, match, restore, export, reconstruct. Stages run sequentially; the
// parallelism lives inside the per-item stages.
type Pipeline struct {
	cfg        *config.Config
	log        *slog.Logger
	store      *artifacts.Store
	classifier orient.Classifier
}

// New builds a Pipeline. store may be nil to skip run bookkeeping.
func New(cfg *config.Config, store *artifacts.Store, log *slog.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, store: store, log: log}
}

// SetClassifier installs an orientation classifier for images without EXIF.
func (p *Pipeline) SetClassifier(c orient.Classifier) { p.classifier = c }

// Run executes the full pipeline. Per-item failures inside a stage are
// skipped and counted; stage-level failures abort the run.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	runID := uuid.NewString()
	timer := logging.NewTimer()
	res := &Result{RunID: runID, Timer: timer}

	p.store.RecordRunStart(artifacts.RunRecord{
		ID:        runID,
		ImageDir:  p.cfg.General.ImageDir,
		OutputDir: p.cfg.General.OutputDir,
		Strategy:  string(p.cfg.General.Strategy),
	})

	err := p.run(ctx, runID, timer, res)
	if err != nil {
		p.store.RecordRunResult(runID, "failed", err.Error())
		return res, err
	}
	p.store.RecordRunResult(runID, "completed", "")
	timer.Print(p.log, "pipeline finished")
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, runID string, timer *logging.Timer, res *Result) (err error) {
	stage := "load"
	defer func() {
		if err != nil {
			logging.LogStageError(p.log, runID, stage, err)
		}
	}()
	begin := func(name string) {
		stage = name
		logging.LogStageStart(p.log, runID, name)
	}

	outputDir := p.cfg.General.OutputDir
	if err := fsutil.EnsureDir(outputDir); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	// Load the image set. Listing order is name-sorted, which fixes image ids
	// for the whole run.
	begin("load")
	images, err := imageset.Load(p.cfg.General.ImageDir)
	if err != nil {
		return err
	}
	res.Images = images.Len()
	p.readExif(ctx, images)
	p.recordStage(runID, timer, "load", images.Len(), 0)

	// Snapshot the original geometry before upright normalization mutates the
	// set. The exported database must describe the originals.
	originals := make([]imageset.Image, images.Len())
	copy(originals, images.Images)

	begin("pairs")
	pairList, err := p.generatePairs(ctx, images, outputDir)
	if err != nil {
		return err
	}
	res.Pairs = len(pairList)
	p.recordStage(runID, timer, "pairs", len(pairList), 0)

	uprightDir := filepath.Join(outputDir, "upright")
	if p.cfg.General.Upright {
		begin("upright")
		norm := orient.NewNormalizer(uprightDir, p.cfg.General.ParallelJobs, p.classifier, p.log)
		if _, err := norm.Run(ctx, images); err != nil {
			return fmt.Errorf("upright normalization: %w", err)
		}
		p.recordStage(runID, timer, "upright", images.Len(), 0)
	}

	begin("extract")
	feats, skippedImages, err := p.extract(ctx, images)
	if err != nil {
		return err
	}
	res.SkippedImages = len(skippedImages)
	p.recordStage(runID, timer, "extract", len(feats), len(skippedImages))

	begin("match")
	matchSets, skippedPairs, err := p.match(ctx, pairList, feats, skippedImages)
	if err != nil {
		return err
	}
	res.MatchedPairs = len(matchSets)
	res.SkippedPairs = skippedPairs
	p.recordStage(runID, timer, "match", len(matchSets), skippedPairs)

	// Map keypoints back to the original frames. Coordinates only; match
	// indices stay untouched. The rotation map is read back from the
	// normalizer's persisted artifact, so an inconsistent record file is
	// caught here rather than corrupting the export.
	if p.cfg.General.Upright {
		begin("restore")
		rotations, err := orient.LoadRecords(filepath.Join(uprightDir, "rotations.json"))
		if err != nil {
			return fmt.Errorf("load rotation records: %w", err)
		}
		for id, set := range feats {
			rec, ok := rotations[id]
			if !ok {
				continue
			}
			if err := orient.RestoreKeypoints(&set, rec); err != nil {
				return fmt.Errorf("restore keypoints for %s: %w", id, err)
			}
			feats[id] = set
		}
		timer.Update("restore")
	}

	begin("export")
	dbPath := filepath.Join(outputDir, "database.db")
	if err := p.export(ctx, dbPath, originals, feats, matchSets); err != nil {
		return err
	}
	res.DatabasePath = dbPath
	p.recordStage(runID, timer, "export", len(matchSets), 0)

	if !p.cfg.General.SkipReconstruction {
		begin("reconstruct")
		engine := reconstruction.Detect(p.cfg.Reconstruction, p.log)
		if !engine.Available() {
			p.log.Warn("no reconstruction engine available, stopping after database export")
		} else if err := engine.Reconstruct(ctx, dbPath, p.cfg.General.ImageDir, outputDir); err != nil {
			if errors.Is(err, reconstruction.ErrEngineUnavailable) {
				p.log.Warn("reconstruction unavailable, stopping after database export")
			} else {
				return fmt.Errorf("reconstruction: %w", err)
			}
		} else {
			res.Reconstructed = true
			p.recordStage(runID, timer, "reconstruct", 1, 0)
		}
	}
	return nil
}

// readExif attaches metadata to every image. Metadata is advisory, so
// failures are silent and the stage never skips an image.
func (p *Pipeline) readExif(ctx context.Context, images *imageset.Set) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, p.cfg.General.ParallelJobs)
	var mu sync.Mutex

	for _, img := range images.Images {
		wg.Add(1)
		sem <- struct{}{}
		go func(img imageset.Image) {
			defer wg.Done()
			defer func() { <-sem }()
			meta, _ := imageset.ExtractEXIF(ctx, img.Path)
			mu.Lock()
			images.SetExif(img.ID, meta)
			mu.Unlock()
		}(img)
	}
	wg.Wait()
}

// newRetriever builds the retrieval collaborator when that strategy is
// selected; its similarity index lives next to the other run outputs.
func newRetriever(cfg *config.Config, outputDir string, log *slog.Logger) pairs.Retriever {
	if cfg.General.Strategy != config.StrategyRetrieval {
		return nil
	}
	return pairs.NewThumbnailRetriever(
		filepath.Join(outputDir, "retrieval.db"),
		cfg.Retrieval.ThumbnailSize,
		log,
	)
}

// GeneratePairs loads the image set and produces the pair list without
// running the rest of the pipeline.
func GeneratePairs(ctx context.Context, cfg *config.Config, log *slog.Logger) ([]pairs.Pair, error) {
	if err := fsutil.EnsureDir(cfg.General.OutputDir); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	images, err := imageset.Load(cfg.General.ImageDir)
	if err != nil {
		return nil, err
	}
	gen := pairs.NewGenerator(cfg.General, cfg.Retrieval.TopK, newRetriever(cfg, cfg.General.OutputDir, log), log)
	return gen.Generate(ctx, images)
}

func (p *Pipeline) generatePairs(ctx context.Context, images *imageset.Set, outputDir string) ([]pairs.Pair, error) {
	gen := pairs.NewGenerator(p.cfg.General, p.cfg.Retrieval.TopK, newRetriever(p.cfg, outputDir, p.log), p.log)
	list, err := gen.Generate(ctx, images)
	if err != nil {
		return nil, fmt.Errorf("generate pairs: %w", err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("pairing produced no pairs for %d images", images.Len())
	}
	if err := pairs.WritePairList(filepath.Join(outputDir, "pairs.txt"), list); err != nil {
		return nil, fmt.Errorf("write pair list: %w", err)
	}
	return list, nil
}

// extract runs the configured extractor over every image with a worker pool.
// A failing image is skipped with a warning; a missing extractor binary fails
// the stage.
func (p *Pipeline) extract(ctx context.Context, images *imageset.Set) (map[string]features.KeypointSet, map[string]bool, error) {
	extractor, err := features.NewCLIExtractor(p.cfg.Extractor)
	if err != nil {
		return nil, nil, err
	}
	if err := p.store.ClearFeatures(); err != nil {
		return nil, nil, fmt.Errorf("clear stored features: %w", err)
	}

	type extractResult struct {
		id  string
		set features.KeypointSet
		err error
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, p.cfg.General.ParallelJobs)
	results := make(chan extractResult, images.Len())

	start := time.Now()
	for _, img := range images.Images {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(img imageset.Image) {
			defer wg.Done()
			defer func() { <-sem }()
			set, err := extractor.Extract(ctx, img.Path)
			results <- extractResult{id: img.ID, set: set, err: err}
		}(img)
	}
	wg.Wait()
	close(results)
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	feats := make(map[string]features.KeypointSet, images.Len())
	skipped := make(map[string]bool)
	for res := range results {
		if res.err != nil {
			logging.LogItemSkipped(p.log, "extract", res.id, res.err)
			skipped[res.id] = true
			continue
		}
		feats[res.id] = res.set
		if err := p.store.PutFeatures(res.id, res.set); err != nil {
			return nil, nil, fmt.Errorf("store features for %s: %w", res.id, err)
		}
	}
	p.log.Info("feature extraction done",
		"extractor", extractor.Name(),
		"images", len(feats),
		"skipped", len(skipped),
		"duration", time.Since(start).Round(time.Millisecond).String(),
	)
	return feats, skipped, nil
}

// match runs the matcher over every pair with a worker pool. Pairs touching a
// skipped image are dropped, failing pairs are skipped with a warning, and
// pairs under the minimum match count are discarded quietly.
func (p *Pipeline) match(ctx context.Context, pairList []pairs.Pair, feats map[string]features.KeypointSet, skippedImages map[string]bool) ([]features.MatchSet, int, error) {
	matcher := features.SelectMatcher(p.cfg.Matcher, p.log)
	if err := p.store.ClearMatches(); err != nil {
		return nil, 0, fmt.Errorf("clear stored matches: %w", err)
	}

	type matchResult struct {
		pair    pairs.Pair
		matches [][2]int
		err     error
	}

	runnable := make([]pairs.Pair, 0, len(pairList))
	skipped := 0
	for _, pr := range pairList {
		if skippedImages[pr.A] || skippedImages[pr.B] {
			skipped++
			continue
		}
		runnable = append(runnable, pr)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, p.cfg.General.ParallelJobs)
	results := make(chan matchResult, len(runnable))

	start := time.Now()
	for _, pr := range runnable {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(pr pairs.Pair) {
			defer wg.Done()
			defer func() { <-sem }()
			m, err := matcher.Match(ctx, feats[pr.A], feats[pr.B])
			results <- matchResult{pair: pr, matches: m, err: err}
		}(pr)
	}
	wg.Wait()
	close(results)
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	byKey := make(map[string]features.MatchSet, len(runnable))
	for res := range results {
		if res.err != nil {
			logging.LogItemSkipped(p.log, "match", res.pair.String(), res.err)
			skipped++
			continue
		}
		if len(res.matches) < p.cfg.Matcher.MinMatches {
			p.log.Debug("pair below match threshold",
				"pair", res.pair.String(),
				"matches", len(res.matches),
				"min", p.cfg.Matcher.MinMatches,
			)
			continue
		}
		m := features.MatchSet{A: res.pair.A, B: res.pair.B, Pairs: res.matches}
		byKey[res.pair.Key()] = m
		if err := p.store.PutMatches(m); err != nil {
			return nil, 0, fmt.Errorf("store matches %s: %w", res.pair.String(), err)
		}
	}

	// Emit in pair-list order so downstream assembly is deterministic.
	out := make([]features.MatchSet, 0, len(byKey))
	for _, pr := range runnable {
		if m, ok := byKey[pr.Key()]; ok {
			out = append(out, m)
		}
	}
	p.log.Info("matching done",
		"matcher", matcher.Name(),
		"pairs", len(out),
		"skipped", skipped,
		"duration", time.Since(start).Round(time.Millisecond).String(),
	)
	return out, skipped, nil
}

func (p *Pipeline) export(ctx context.Context, dbPath string, originals []imageset.Image, feats map[string]features.KeypointSet, matchSets []features.MatchSet) error {
	asm := colmap.NewAssembler(colmap.Options{
		CameraModel:     p.cfg.Database.CameraModel,
		CameraMode:      p.cfg.Database.CameraMode,
		SkipGeometric:   p.cfg.Database.SkipGeometricVerify,
		RansacThreshold: p.cfg.Database.RansacThreshold,
	}, p.log)

	for _, img := range originals {
		if err := asm.AddImage(img); err != nil {
			return err
		}
		if set, ok := feats[img.ID]; ok {
			asm.RegisterKeypoints(img.ID, set)
		}
	}
	for _, m := range matchSets {
		asm.AddMatches(m)
	}
	return asm.Export(ctx, dbPath)
}

func (p *Pipeline) recordStage(runID string, timer *logging.Timer, stage string, items, skipped int) {
	timer.Update(stage)
	stages := timer.Stages()
	duration := stages[len(stages)-1].Duration
	logging.LogStageComplete(p.log, runID, stage, duration, items, skipped)
	p.store.RecordStage(artifacts.StageRecord{
		RunID:      runID,
		Stage:      stage,
		DurationMS: duration.Milliseconds(),
		Items:      items,
		Skipped:    skipped,
	})
}
