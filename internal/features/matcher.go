package features

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"

	"photomatch/internal/config"
)

// Matcher finds correspondences between two KeypointSets. Implementations
// are treated as pure functions per pair.
type Matcher interface {
	Name() string
	Match(ctx context.Context, a, b KeypointSet) ([][2]int, error)
}

// SelectMatcher returns the configured external matcher when its binary is
// available, otherwise the native descriptor matcher. Mirrors the
// preferred-tool-with-native-fallback selection used elsewhere.
func SelectMatcher(cfg config.Matcher, log *slog.Logger) Matcher {
	if cfg.Binary != "" {
		if _, err := exec.LookPath(cfg.Binary); err == nil {
			return &CLIMatcher{cfg: cfg}
		}
		log.Warn("matcher binary not found, falling back to native matcher", "binary", cfg.Binary)
	}
	return &NativeMatcher{Ratio: cfg.Ratio, CrossCheck: cfg.CrossCheck}
}

// CLIMatcher invokes an external matching binary. Both feature sets go to
// the tool's stdin as JSON; it answers with {"matches": [[i, j], ...]}.
type CLIMatcher struct {
	cfg config.Matcher
}

func (m *CLIMatcher) Name() string { return m.cfg.Binary }

type matcherInput struct {
	A matcherSide `json:"a"`
	B matcherSide `json:"b"`
}

type matcherSide struct {
	Keypoints   [][]float64 `json:"keypoints"`
	Descriptors [][]float32 `json:"descriptors"`
}

type matcherOutput struct {
	Matches [][2]int `json:"matches"`
}

func (m *CLIMatcher) Match(ctx context.Context, a, b KeypointSet) ([][2]int, error) {
	input, err := json.Marshal(matcherInput{A: toSide(a), B: toSide(b)})
	if err != nil {
		return nil, err
	}

	args := []string{"--ratio", strconv.FormatFloat(m.cfg.Ratio, 'g', -1, 64)}
	if m.cfg.CrossCheck {
		args = append(args, "--cross-check")
	}
	args = append(args, m.cfg.ExtraArgs...)

	cmd := exec.CommandContext(ctx, m.cfg.Binary, args...)
	cmd.Stdin = bytes.NewReader(input)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("matcher %s: %w (%s)", m.cfg.Binary, err, stderr.String())
	}

	var parsed matcherOutput
	if err := json.Unmarshal(out.Bytes(), &parsed); err != nil {
		return nil, fmt.Errorf("matcher %s: bad output: %w", m.cfg.Binary, err)
	}
	// Validate external indices on ingest so one bad pair is a skippable
	// per-pair failure, not a fatal export-time integrity error.
	for _, pm := range parsed.Matches {
		if pm[0] < 0 || pm[0] >= a.Len() || pm[1] < 0 || pm[1] >= b.Len() {
			return nil, fmt.Errorf("matcher %s: match (%d, %d) out of range for %d/%d keypoints",
				m.cfg.Binary, pm[0], pm[1], a.Len(), b.Len())
		}
	}
	return parsed.Matches, nil
}

func toSide(s KeypointSet) matcherSide {
	side := matcherSide{
		Keypoints:   make([][]float64, s.Len()),
		Descriptors: s.Descriptors,
	}
	for i, kp := range s.Keypoints {
		side.Keypoints[i] = []float64{kp.X, kp.Y, kp.Scale, kp.Orientation}
	}
	return side
}

// NativeMatcher is the in-process fallback: nearest neighbour over
// descriptor dot products with Lowe's ratio test, optionally mutual.
// Descriptors are assumed L2-normalized, so larger dot product means closer.
type NativeMatcher struct {
	Ratio      float64
	CrossCheck bool
}

func (m *NativeMatcher) Name() string { return "native-nn" }

func (m *NativeMatcher) Match(ctx context.Context, a, b KeypointSet) ([][2]int, error) {
	if a.DescriptorDim() == 0 || b.DescriptorDim() == 0 {
		return nil, nil
	}
	if a.DescriptorDim() != b.DescriptorDim() {
		return nil, fmt.Errorf("descriptor dim mismatch: %d vs %d", a.DescriptorDim(), b.DescriptorDim())
	}

	forward := m.nearest(a.Descriptors, b.Descriptors)
	var backward []int
	if m.CrossCheck {
		backward = m.nearest(b.Descriptors, a.Descriptors)
	}

	var matches [][2]int
	for i, j := range forward {
		if j < 0 {
			continue
		}
		if m.CrossCheck && backward[j] != i {
			continue
		}
		matches = append(matches, [2]int{i, j})
	}
	return matches, nil
}

// nearest returns, per query descriptor, the index of its best match in refs
// or -1 when the ratio test rejects it.
func (m *NativeMatcher) nearest(queries, refs [][]float32) []int {
	out := make([]int, len(queries))
	for i, q := range queries {
		best, second := -1.0, -1.0
		bestIdx := -1
		for j, r := range refs {
			s := dot(q, r)
			if s > best {
				second = best
				best = s
				bestIdx = j
			} else if s > second {
				second = s
			}
		}
		// Ratio test on distance for normalized descriptors:
		// d^2 = 2 - 2s, reject when d1 > ratio * d2.
		if bestIdx >= 0 && second > -1.0 {
			d1 := 2 - 2*best
			d2 := 2 - 2*second
			if d2 <= 0 || d1 > m.Ratio*m.Ratio*d2 {
				bestIdx = -1
			}
		}
		out[i] = bestIdx
	}
	return out
}

func dot(a, b []float32) float64 {
	var s float64
	for k := range a {
		s += float64(a[k]) * float64(b[k])
	}
	return s
}
