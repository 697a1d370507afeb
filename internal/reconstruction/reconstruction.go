package reconstruction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"

	"photomatch/internal/config"
	"photomatch/internal/fsutil"
)

// ErrEngineUnavailable is returned when no reconstruction binary is on PATH.
// Callers treat it as a degraded run, not a failure: the exported database is
// the pipeline's contract, reconstruction is a convenience on top.
var ErrEngineUnavailable = errors.New("reconstruction engine unavailable")

// Engine runs sparse reconstruction from an exported match database.
type Engine interface {
	Name() string
	Available() bool
	Reconstruct(ctx context.Context, dbPath, imageDir, outputDir string) error
}

// Detect probes for the configured engine binary and returns a usable Engine.
// A missing binary yields the Unavailable engine rather than an error, so the
// pipeline can decide how to degrade.
func Detect(cfg config.Reconstruction, log *slog.Logger) Engine {
	if cfg.Binary == "" {
		return Unavailable{}
	}
	path, err := exec.LookPath(cfg.Binary)
	if err != nil {
		log.Warn("reconstruction binary not found", "binary", cfg.Binary)
		return Unavailable{}
	}
	log.Debug("reconstruction engine detected", "binary", cfg.Binary, "path", path)
	return &ColmapCLI{binary: cfg.Binary, extraArgs: cfg.ExtraArgs, log: log}
}

// ColmapCLI drives the COLMAP command line mapper.
type ColmapCLI struct {
	binary    string
	extraArgs []string
	log       *slog.Logger
}

func (e *ColmapCLI) Name() string    { return e.binary }
func (e *ColmapCLI) Available() bool { return true }

// Version returns the engine's reported version line, best effort.
func (e *ColmapCLI) Version(ctx context.Context) string {
	out, err := exec.CommandContext(ctx, e.binary, "help").CombinedOutput()
	if err != nil && len(out) == 0 {
		return "unknown"
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line)
}

// Reconstruct invokes the incremental mapper against the exported database.
// Model output lands under outputDir/sparse.
func (e *ColmapCLI) Reconstruct(ctx context.Context, dbPath, imageDir, outputDir string) error {
	sparseDir := filepath.Join(outputDir, "sparse")
	if err := fsutil.EnsureDir(sparseDir); err != nil {
		return err
	}

	args := []string{
		"mapper",
		"--database_path", dbPath,
		"--image_path", imageDir,
		"--output_path", sparseDir,
	}
	args = append(args, e.extraArgs...)

	e.log.Info("running reconstruction", "binary", e.binary, "output", sparseDir)
	cmd := exec.CommandContext(ctx, e.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s mapper: %w (%s)", e.binary, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Unavailable is the null engine used when no binary was found.
type Unavailable struct{}

func (Unavailable) Name() string    { return "none" }
func (Unavailable) Available() bool { return false }

func (Unavailable) Reconstruct(context.Context, string, string, string) error {
	return ErrEngineUnavailable
}
