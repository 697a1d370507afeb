package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"photomatch/internal/fsutil"
)

const (
	defaultConfigPath = "~/.config/photomatch/config.json"
	defaultParallel   = 4
)

// Strategy selects how image pairs are generated.
type Strategy string

const (
	StrategyExhaustive Strategy = "exhaustive"
	StrategySequential Strategy = "sequential"
	StrategyRetrieval  Strategy = "retrieval"
	StrategyFromFile   Strategy = "from-file"
)

// CameraMode selects how many camera entities the exported database gets.
type CameraMode string

const (
	CameraSingle   CameraMode = "single"
	CameraPerImage CameraMode = "per-image"
)

// Config holds user-editable settings for the matching pipeline.
type Config struct {
	General        General        `json:"general"`
	Extractor      Extractor      `json:"extractor"`
	Matcher        Matcher        `json:"matcher"`
	Retrieval      Retrieval      `json:"retrieval"`
	Database       Database       `json:"database"`
	Reconstruction Reconstruction `json:"reconstruction"`
	Logging        Logging        `json:"logging"`
	Web            Web            `json:"web"`
}

// General captures run-wide execution preferences.
type General struct {
	ImageDir           string   `json:"image_dir"`
	OutputDir          string   `json:"output_dir"`
	Strategy           Strategy `json:"matching_strategy"`
	Overlap            int      `json:"overlap"`   // sequential strategy window
	PairFile           string   `json:"pair_file"` // from-file strategy input
	Upright            bool     `json:"upright"`
	ParallelJobs       int      `json:"parallel_jobs"`
	SkipReconstruction bool     `json:"skip_reconstruction"`
}

// Extractor configures the external feature extractor.
type Extractor struct {
	Binary        string   `json:"binary"`
	MaxKeypoints  int      `json:"max_keypoints"`
	Threshold     float64  `json:"threshold"`
	DescriptorDim int      `json:"descriptor_dim"` // enforced on tool output when > 0
	ExtraArgs     []string `json:"extra_args"`
}

// Matcher configures the external matcher and the native fallback.
type Matcher struct {
	Binary     string   `json:"binary"` // empty selects the native matcher
	Ratio      float64  `json:"ratio"`  // Lowe ratio for the native matcher
	CrossCheck bool     `json:"cross_check"`
	MinMatches int      `json:"min_matches"`
	ExtraArgs  []string `json:"extra_args"`
}

// Retrieval configures the retrieval pairing strategy.
type Retrieval struct {
	TopK          int `json:"top_k"`
	ThumbnailSize int `json:"thumbnail_size"`
}

// Database configures the exported reconstruction database.
type Database struct {
	CameraModel         string     `json:"camera_model"`
	CameraMode          CameraMode `json:"camera_mode"`
	SkipGeometricVerify bool       `json:"skip_geometric_verification"`
	RansacThreshold     float64    `json:"ransac_threshold"`
}

// Reconstruction configures the optional downstream engine.
type Reconstruction struct {
	Binary    string   `json:"binary"`
	ExtraArgs []string `json:"extra_args"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`  // debug, info, warn, error
	Format     string `json:"format"` // text, json
	FileOutput bool   `json:"file_output"`
	LogDir     string `json:"log_dir"`
}

// Web configures the status server.
type Web struct {
	Listen string `json:"listen"`
}

// ValidationError reports a rejected configuration field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

var cameraModels = map[string]struct{}{
	"simple-pinhole": {},
	"pinhole":        {},
	"simple-radial":  {},
	"radial":         {},
	"opencv":         {},
}

// Validate rejects configurations the pipeline cannot run with. It is called
// once at startup so stage code can trust the values it receives.
func (c *Config) Validate() error {
	switch c.General.Strategy {
	case StrategyExhaustive, StrategyRetrieval:
	case StrategySequential:
		if c.General.Overlap < 1 {
			return &ValidationError{Field: "general.overlap", Reason: "must be a positive integer for the sequential strategy"}
		}
	case StrategyFromFile:
		if c.General.PairFile == "" {
			return &ValidationError{Field: "general.pair_file", Reason: "required for the from-file strategy"}
		}
	default:
		return &ValidationError{Field: "general.matching_strategy", Reason: fmt.Sprintf("unknown strategy %q", c.General.Strategy)}
	}

	if c.General.ParallelJobs < 1 {
		return &ValidationError{Field: "general.parallel_jobs", Reason: "must be at least 1"}
	}
	if _, ok := cameraModels[c.Database.CameraModel]; !ok {
		return &ValidationError{Field: "database.camera_model", Reason: fmt.Sprintf("unknown camera model %q", c.Database.CameraModel)}
	}
	switch c.Database.CameraMode {
	case CameraSingle, CameraPerImage:
	default:
		return &ValidationError{Field: "database.camera_mode", Reason: fmt.Sprintf("unknown camera mode %q", c.Database.CameraMode)}
	}
	if c.General.Strategy == StrategyRetrieval && c.Retrieval.TopK < 1 {
		return &ValidationError{Field: "retrieval.top_k", Reason: "must be at least 1"}
	}
	if c.Matcher.Ratio <= 0 || c.Matcher.Ratio > 1 {
		return &ValidationError{Field: "matcher.ratio", Reason: "must be in (0, 1]"}
	}
	return nil
}

// Load reads configuration from disk, falling back to sensible defaults.
// Without an explicit PHOTOMATCH_CONFIG, the first existing of
// ./photomatch.json and the per-user config file is used.
func Load() (*Config, error) {
	cfg := Default()

	configPath := os.Getenv("PHOTOMATCH_CONFIG")
	if configPath == "" {
		userPath, err := expandUser(defaultConfigPath)
		if err != nil {
			return nil, err
		}
		configPath = fsutil.FirstExisting("photomatch.json", userPath)
		if configPath == "" {
			return cfg, nil
		}
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		General: General{
			ImageDir:     ".",
			OutputDir:    "./output",
			Strategy:     StrategyExhaustive,
			Overlap:      1,
			Upright:      true,
			ParallelJobs: defaultParallel,
		},
		Extractor: Extractor{
			MaxKeypoints: 4096,
			Threshold:    0.005,
		},
		Matcher: Matcher{
			Ratio:      0.8,
			CrossCheck: true,
			MinMatches: 15,
		},
		Retrieval: Retrieval{
			TopK:          10,
			ThumbnailSize: 16,
		},
		Database: Database{
			CameraModel:         "simple-radial",
			CameraMode:          CameraSingle,
			SkipGeometricVerify: true,
			RansacThreshold:     4.0,
		},
		Reconstruction: Reconstruction{
			Binary: "colmap",
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Web: Web{
			Listen: "127.0.0.1:8480",
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
