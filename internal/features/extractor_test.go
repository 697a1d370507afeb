package features

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"photomatch/internal/config"
)

// writeStubTool creates an executable script standing in for an external
// extractor or matcher binary.
func writeStubTool(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write stub tool: %v", err)
	}
	return path
}

func TestCLIExtractorParsesToolOutput(t *testing.T) {
	bin := writeStubTool(t, `echo '{"keypoints": [[1, 2, 1.5, 0.5], [3, 4]], "descriptors": [[0.6, 0.8], [1, 0]]}'`)
	e, err := NewCLIExtractor(config.Extractor{Binary: bin, MaxKeypoints: 10, Threshold: 0.01})
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}

	set, err := e.Extract(context.Background(), "img.jpg")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if set.Len() != 2 || set.DescriptorDim() != 2 {
		t.Fatalf("unexpected set: %d keypoints, dim %d", set.Len(), set.DescriptorDim())
	}
	if set.Keypoints[0].Scale != 1.5 || set.Keypoints[1].Scale != 0 {
		t.Fatalf("scales not carried through: %+v", set.Keypoints)
	}
}

func TestCLIExtractorEnforcesConfiguredDescriptorDim(t *testing.T) {
	bin := writeStubTool(t, `echo '{"keypoints": [[1, 2], [3, 4]], "descriptors": [[0.6, 0.8], [1, 0]]}'`)

	e, err := NewCLIExtractor(config.Extractor{Binary: bin, DescriptorDim: 4})
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}
	if _, err := e.Extract(context.Background(), "img.jpg"); err == nil || !strings.Contains(err.Error(), "descriptor dim") {
		t.Fatalf("expected descriptor dim error, got %v", err)
	}

	e, err = NewCLIExtractor(config.Extractor{Binary: bin, DescriptorDim: 2})
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}
	if _, err := e.Extract(context.Background(), "img.jpg"); err != nil {
		t.Fatalf("matching dim rejected: %v", err)
	}
}

func TestNewCLIExtractorRequiresBinary(t *testing.T) {
	if _, err := NewCLIExtractor(config.Extractor{}); err == nil {
		t.Fatalf("expected error for empty binary")
	}
	if _, err := NewCLIExtractor(config.Extractor{Binary: filepath.Join(t.TempDir(), "absent")}); err == nil {
		t.Fatalf("expected error for missing binary")
	}
}
