package imageset

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
)

// Metadata captures the EXIF fields the pipeline cares about. Orientation is
// the raw EXIF tag value (1..8), 0 when absent.
type Metadata struct {
	CameraMake  string
	CameraModel string
	FocalLength float64
	Orientation int
	Timestamp   string
}

// ExtractEXIF tries exiftool -json to obtain metadata fields. A missing
// exiftool binary or unreadable tags yield an empty Metadata, not an error;
// EXIF is advisory everywhere it is consumed.
func ExtractEXIF(ctx context.Context, path string) (Metadata, error) {
	var meta Metadata
	if _, err := exec.LookPath("exiftool"); err != nil {
		return meta, nil
	}
	cmd := exec.CommandContext(ctx, "exiftool", "-json", "-n", path)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return meta, nil
	}
	var parsed []map[string]interface{}
	if err := json.Unmarshal(out.Bytes(), &parsed); err != nil || len(parsed) == 0 {
		return meta, nil
	}
	m := parsed[0]
	if v, ok := m["Make"].(string); ok {
		meta.CameraMake = v
	}
	if v, ok := m["Model"].(string); ok {
		meta.CameraModel = v
	}
	if v, ok := m["FocalLength"].(float64); ok {
		meta.FocalLength = v
	}
	if v, ok := m["Orientation"].(float64); ok {
		meta.Orientation = int(v)
	}
	if v, ok := m["DateTimeOriginal"].(string); ok {
		meta.Timestamp = v
	}
	return meta, nil
}
