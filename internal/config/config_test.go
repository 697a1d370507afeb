package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default configuration rejected: %v", err)
	}
}

func TestValidateStrategyChecks(t *testing.T) {
	cfg := Default()
	cfg.General.Strategy = "guesswork"
	assertField(t, cfg, "general.matching_strategy")

	cfg = Default()
	cfg.General.Strategy = StrategySequential
	cfg.General.Overlap = 0
	assertField(t, cfg, "general.overlap")

	cfg = Default()
	cfg.General.Strategy = StrategyFromFile
	cfg.General.PairFile = ""
	assertField(t, cfg, "general.pair_file")

	cfg = Default()
	cfg.General.Strategy = StrategyRetrieval
	cfg.Retrieval.TopK = 0
	assertField(t, cfg, "retrieval.top_k")
}

func TestValidateParallelJobs(t *testing.T) {
	cfg := Default()
	cfg.General.ParallelJobs = 0
	assertField(t, cfg, "general.parallel_jobs")
}

func TestValidateCameraSettings(t *testing.T) {
	cfg := Default()
	cfg.Database.CameraModel = "brownie"
	assertField(t, cfg, "database.camera_model")

	cfg = Default()
	cfg.Database.CameraMode = "shared-ish"
	assertField(t, cfg, "database.camera_mode")
}

func TestValidateMatcherRatio(t *testing.T) {
	for _, ratio := range []float64{0, -0.5, 1.5} {
		cfg := Default()
		cfg.Matcher.Ratio = ratio
		assertField(t, cfg, "matcher.ratio")
	}
	cfg := Default()
	cfg.Matcher.Ratio = 1.0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("ratio 1.0 should be accepted: %v", err)
	}
}

func assertField(t *testing.T, cfg *Config, field string) {
	t.Helper()
	err := cfg.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Field != field {
		t.Fatalf("expected field %s, got %s", field, verr.Field)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("PHOTOMATCH_CONFIG", filepath.Join(t.TempDir(), "nope.json"))
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.General.Strategy != StrategyExhaustive || cfg.Extractor.MaxKeypoints != 4096 {
		t.Fatalf("defaults not applied: %+v", cfg.General)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"general": {"matching_strategy": "sequential", "overlap": 3}, "matcher": {"ratio": 0.7}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PHOTOMATCH_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.General.Strategy != StrategySequential || cfg.General.Overlap != 3 {
		t.Fatalf("file values not applied: %+v", cfg.General)
	}
	if cfg.Matcher.Ratio != 0.7 {
		t.Fatalf("matcher ratio not applied: %v", cfg.Matcher.Ratio)
	}
	// Untouched sections keep their defaults.
	if cfg.Database.CameraModel != "simple-radial" {
		t.Fatalf("unrelated defaults lost: %v", cfg.Database.CameraModel)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PHOTOMATCH_CONFIG", path)
	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadFindsWorkingDirConfig(t *testing.T) {
	dir := t.TempDir()
	content := `{"general": {"parallel_jobs": 9}}`
	if err := os.WriteFile(filepath.Join(dir, "photomatch.json"), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PHOTOMATCH_CONFIG", "")
	t.Chdir(dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.General.ParallelJobs != 9 {
		t.Fatalf("working-dir config not applied: %d", cfg.General.ParallelJobs)
	}
}
