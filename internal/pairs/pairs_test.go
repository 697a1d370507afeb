package pairs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"photomatch/internal/config"
	"photomatch/internal/imageset"
)

func TestNewCanonicalOrder(t *testing.T) {
	if p := New("b.jpg", "a.jpg"); p.A != "a.jpg" || p.B != "b.jpg" {
		t.Fatalf("pair not canonical: %+v", p)
	}
	if New("a.jpg", "b.jpg") != New("b.jpg", "a.jpg") {
		t.Fatalf("reversed pairs should be equal")
	}
}

func TestExhaustive(t *testing.T) {
	ids := []string{"d.jpg", "b.jpg", "a.jpg", "c.jpg"}
	got := Exhaustive(ids)

	want := []Pair{
		{"a.jpg", "b.jpg"}, {"a.jpg", "c.jpg"}, {"a.jpg", "d.jpg"},
		{"b.jpg", "c.jpg"}, {"b.jpg", "d.jpg"},
		{"c.jpg", "d.jpg"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("exhaustive pairs mismatch (-want +got):\n%s", diff)
	}
}

func TestSequentialOverlap(t *testing.T) {
	ids := []string{"f1.jpg", "f2.jpg", "f3.jpg", "f4.jpg"}
	got := Sequential(ids, 2)

	want := []Pair{
		{"f1.jpg", "f2.jpg"}, {"f1.jpg", "f3.jpg"},
		{"f2.jpg", "f3.jpg"}, {"f2.jpg", "f4.jpg"},
		{"f3.jpg", "f4.jpg"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sequential pairs mismatch (-want +got):\n%s", diff)
	}
}

func TestSequentialOverlapBeyondEnd(t *testing.T) {
	got := Sequential([]string{"a.jpg", "b.jpg"}, 10)
	if len(got) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(got))
	}
}

func TestSetRejectsSelfAndDuplicates(t *testing.T) {
	s := newSet()
	if s.add("a.jpg", "a.jpg") {
		t.Fatalf("self pair accepted")
	}
	if !s.add("a.jpg", "b.jpg") {
		t.Fatalf("first insert rejected")
	}
	if s.add("b.jpg", "a.jpg") {
		t.Fatalf("reversed duplicate accepted")
	}
	if len(s.pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(s.pairs))
	}
}

func TestExhaustiveDeterministic(t *testing.T) {
	ids := []string{"c.jpg", "a.jpg", "b.jpg"}
	first := Exhaustive(ids)
	second := Exhaustive([]string{"b.jpg", "c.jpg", "a.jpg"})
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("exhaustive output depends on input order:\n%s", diff)
	}
}

func writePairFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pairs.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write pair file: %v", err)
	}
	return path
}

func TestFromFile(t *testing.T) {
	images := testSet(t, "a.jpg", "b.jpg", "c.jpg")
	path := writePairFile(t, "# comment line\n\na.jpg b.jpg\nb.jpg c.jpg\na.jpg b.jpg\n")

	got, err := FromFile(path, images)
	if err != nil {
		t.Fatalf("FromFile failed: %v", err)
	}
	want := []Pair{{"a.jpg", "b.jpg"}, {"b.jpg", "c.jpg"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("pair file mismatch (-want +got):\n%s", diff)
	}
}

func TestFromFileErrors(t *testing.T) {
	images := testSet(t, "a.jpg", "b.jpg")

	cases := map[string]string{
		"wrong field count": "a.jpg\n",
		"unknown image":     "a.jpg nosuch.jpg\n",
		"self pair":         "a.jpg a.jpg\n",
	}
	for name, content := range cases {
		path := writePairFile(t, content)
		_, err := FromFile(path, images)
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		var perr *InvalidPairFileError
		if !errors.As(err, &perr) {
			t.Fatalf("%s: expected InvalidPairFileError, got %T", name, err)
		}
		if perr.Line != 1 {
			t.Fatalf("%s: expected line 1, got %d", name, perr.Line)
		}
	}
}

func TestWritePairList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	list := []Pair{{"a.jpg", "b.jpg"}, {"b.jpg", "c.jpg"}}
	if err := WritePairList(path, list); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	want := "a.jpg b.jpg\nb.jpg c.jpg\n"
	if string(data) != want {
		t.Fatalf("pair list content %q, want %q", data, want)
	}
}

type stubRetriever struct {
	neighbors map[string][]string
}

func (s *stubRetriever) Neighbors(_ context.Context, _ []imageset.Image, _ int) (map[string][]string, error) {
	return s.neighbors, nil
}

func TestRetrievalSymmetrizedUnion(t *testing.T) {
	set := testSet(t, "a.jpg", "b.jpg", "c.jpg")
	ret := &stubRetriever{neighbors: map[string][]string{
		"a.jpg": {"b.jpg"},
		"b.jpg": {"a.jpg", "c.jpg"},
		"c.jpg": {"b.jpg", "ghost.jpg"},
	}}
	gen := NewGenerator(config.General{Strategy: config.StrategyRetrieval}, 2, ret, nil)

	got, err := gen.Generate(context.Background(), set)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	want := []Pair{{"a.jpg", "b.jpg"}, {"b.jpg", "c.jpg"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("retrieval pairs mismatch (-want +got):\n%s", diff)
	}
}

func TestRetrievalRequiresRetriever(t *testing.T) {
	set := testSet(t, "a.jpg", "b.jpg")
	gen := NewGenerator(config.General{Strategy: config.StrategyRetrieval}, 2, nil, nil)
	if _, err := gen.Generate(context.Background(), set); err == nil {
		t.Fatalf("expected error when no retriever is wired")
	}
}
