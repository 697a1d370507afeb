package features

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"

	"photomatch/internal/config"
)

// Extractor turns one image into a KeypointSet. Implementations are treated
// as pure functions per image.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, imagePath string) (KeypointSet, error)
}

// CLIExtractor invokes an external feature-extraction binary. The tool takes
// the image path plus detector settings and emits JSON on stdout:
//
//	{"keypoints": [[x, y, scale, orientation], ...],
//	 "descriptors": [[...], ...]}
type CLIExtractor struct {
	cfg config.Extractor
}

// NewCLIExtractor builds the adapter for the configured binary.
func NewCLIExtractor(cfg config.Extractor) (*CLIExtractor, error) {
	if cfg.Binary == "" {
		return nil, fmt.Errorf("no extractor binary configured")
	}
	if _, err := exec.LookPath(cfg.Binary); err != nil {
		return nil, fmt.Errorf("extractor %q not found: %w", cfg.Binary, err)
	}
	return &CLIExtractor{cfg: cfg}, nil
}

func (e *CLIExtractor) Name() string { return e.cfg.Binary }

type extractorOutput struct {
	Keypoints   [][]float64 `json:"keypoints"`
	Descriptors [][]float32 `json:"descriptors"`
}

func (e *CLIExtractor) Extract(ctx context.Context, imagePath string) (KeypointSet, error) {
	args := []string{
		"--image", imagePath,
		"--max-keypoints", strconv.Itoa(e.cfg.MaxKeypoints),
		"--threshold", strconv.FormatFloat(e.cfg.Threshold, 'g', -1, 64),
	}
	args = append(args, e.cfg.ExtraArgs...)

	cmd := exec.CommandContext(ctx, e.cfg.Binary, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return KeypointSet{}, fmt.Errorf("extractor %s on %s: %w (%s)", e.cfg.Binary, imagePath, err, stderr.String())
	}

	var parsed extractorOutput
	if err := json.Unmarshal(out.Bytes(), &parsed); err != nil {
		return KeypointSet{}, fmt.Errorf("extractor %s: bad output for %s: %w", e.cfg.Binary, imagePath, err)
	}

	set := KeypointSet{
		Keypoints:   make([]Keypoint, len(parsed.Keypoints)),
		Descriptors: parsed.Descriptors,
	}
	for i, kp := range parsed.Keypoints {
		if len(kp) < 2 {
			return KeypointSet{}, fmt.Errorf("extractor %s: keypoint %d has %d values", e.cfg.Binary, i, len(kp))
		}
		set.Keypoints[i].X = kp[0]
		set.Keypoints[i].Y = kp[1]
		if len(kp) > 2 {
			set.Keypoints[i].Scale = kp[2]
		}
		if len(kp) > 3 {
			set.Keypoints[i].Orientation = kp[3]
		}
	}
	if err := set.Check(); err != nil {
		return KeypointSet{}, fmt.Errorf("extractor %s: %w", e.cfg.Binary, err)
	}
	if e.cfg.DescriptorDim > 0 && set.Len() > 0 && set.DescriptorDim() != e.cfg.DescriptorDim {
		return KeypointSet{}, fmt.Errorf("extractor %s: descriptor dim %d for %s, configured %d",
			e.cfg.Binary, set.DescriptorDim(), imagePath, e.cfg.DescriptorDim)
	}
	return set, nil
}
