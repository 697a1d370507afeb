package artifacts

import (
	"errors"
	"path/filepath"
	"testing"

	"photomatch/internal/features"

	"github.com/google/go-cmp/cmp"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "artifacts.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleFeatures() features.KeypointSet {
	// Values chosen to be exact in float32, which is the storage precision.
	return features.KeypointSet{
		Keypoints: []features.Keypoint{
			{X: 10.5, Y: 20.25, Scale: 1.5, Orientation: 0.375},
			{X: 100, Y: 200, Scale: 2, Orientation: -1.125},
		},
		Descriptors: [][]float32{{0.25, 0.5, 0.75}, {0.125, 0.375, 0.625}},
	}
}

func TestFeaturesRoundTrip(t *testing.T) {
	s := testStore(t)
	want := sampleFeatures()

	if err := s.PutFeatures("a.jpg", want); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	got, err := s.GetFeatures("a.jpg")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("feature set changed across store (-want +got):\n%s", diff)
	}
}

func TestGetFeaturesNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.GetFeatures("missing.jpg")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutFeaturesRejectsInconsistentSet(t *testing.T) {
	s := testStore(t)
	bad := features.KeypointSet{
		Keypoints:   []features.Keypoint{{X: 1}},
		Descriptors: [][]float32{{1}, {2}},
	}
	if err := s.PutFeatures("a.jpg", bad); err == nil {
		t.Fatalf("expected inconsistent set to be rejected")
	}
}

func TestClearFeatures(t *testing.T) {
	s := testStore(t)
	if err := s.PutFeatures("a.jpg", sampleFeatures()); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := s.ClearFeatures(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if _, err := s.GetFeatures("a.jpg"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected features gone after clear, got %v", err)
	}
}

func TestFeatureImagesSorted(t *testing.T) {
	s := testStore(t)
	for _, id := range []string{"c.jpg", "a.jpg", "b.jpg"} {
		if err := s.PutFeatures(id, sampleFeatures()); err != nil {
			t.Fatalf("put %s failed: %v", id, err)
		}
	}
	got, err := s.FeatureImages()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	want := []string{"a.jpg", "b.jpg", "c.jpg"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("image listing mismatch (-want +got):\n%s", diff)
	}
}

func TestMatchesRoundTripOrdered(t *testing.T) {
	s := testStore(t)
	sets := []features.MatchSet{
		{A: "b.jpg", B: "c.jpg", Pairs: [][2]int{{0, 1}}},
		{A: "a.jpg", B: "b.jpg", Pairs: [][2]int{{0, 0}, {1, 2}}},
	}
	for _, m := range sets {
		if err := s.PutMatches(m); err != nil {
			t.Fatalf("put matches %s-%s failed: %v", m.A, m.B, err)
		}
	}

	got, err := s.AllMatches()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	// AllMatches orders by pair key regardless of insertion order.
	want := []features.MatchSet{sets[1], sets[0]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("match sets mismatch (-want +got):\n%s", diff)
	}
}

func TestRunBookkeeping(t *testing.T) {
	s := testStore(t)
	rec := RunRecord{ID: "run-1", ImageDir: "/photos", OutputDir: "/out", Strategy: "exhaustive"}
	if err := s.RecordRunStart(rec); err != nil {
		t.Fatalf("record start failed: %v", err)
	}
	if err := s.RecordStage(StageRecord{RunID: "run-1", Stage: "extract", DurationMS: 1200, Items: 10, Skipped: 1}); err != nil {
		t.Fatalf("record stage failed: %v", err)
	}
	if err := s.RecordRunResult("run-1", "completed", ""); err != nil {
		t.Fatalf("record result failed: %v", err)
	}

	runs, err := s.RecentRuns(10)
	if err != nil {
		t.Fatalf("recent runs failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" || runs[0].Status != "completed" {
		t.Fatalf("unexpected run records: %+v", runs)
	}
	if runs[0].CompletedAt == nil {
		t.Fatalf("expected completed_at to be set")
	}

	stages, err := s.RunStages("run-1")
	if err != nil {
		t.Fatalf("run stages failed: %v", err)
	}
	if len(stages) != 1 || stages[0].Stage != "extract" || stages[0].Items != 10 || stages[0].Skipped != 1 {
		t.Fatalf("unexpected stage records: %+v", stages)
	}
}

func TestNilStoreIsNoOp(t *testing.T) {
	var s *Store
	if err := s.ClearFeatures(); err != nil {
		t.Fatalf("nil clear: %v", err)
	}
	if err := s.PutFeatures("a.jpg", sampleFeatures()); err != nil {
		t.Fatalf("nil put features: %v", err)
	}
	if err := s.PutMatches(features.MatchSet{A: "a.jpg", B: "b.jpg"}); err != nil {
		t.Fatalf("nil put matches: %v", err)
	}
	if err := s.RecordRunStart(RunRecord{ID: "x"}); err != nil {
		t.Fatalf("nil record run: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}

func TestBlobCodecsRejectTruncatedData(t *testing.T) {
	if _, err := decodeKeypoints([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected truncated keypoint blob to be rejected")
	}
	if _, err := decodeDescriptors([]byte{1, 2, 3}, 3); err == nil {
		t.Fatalf("expected truncated descriptor blob to be rejected")
	}
	if _, err := decodeMatches([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected truncated match blob to be rejected")
	}
}
