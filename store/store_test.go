package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/distribution/repro-cas/registry/storage/driver/inmemory"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(inmemory.New())
	if err := s.EnsureLayout(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCommitBlobIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dir := t.TempDir()
	src := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	d1, err := s.CommitBlob(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	d2, err := s.CommitBlob(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	if d1 != d2 {
		t.Fatalf("CommitBlob not idempotent: %s != %s", d1, d2)
	}

	p, err := BlobPath(d1.String())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Driver().Stat(ctx, p); err != nil {
		t.Fatalf("committed blob not found at %s: %v", p, err)
	}
}

func TestCommitTreeRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("b"), 0o644); err != nil {
		t.Fatal(err)
	}

	typedID, entries, err := s.CommitTree(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	readBack, err := s.ReadTree(ctx, typedID)
	if err != nil {
		t.Fatal(err)
	}
	if len(readBack) != len(entries) {
		t.Fatalf("read-back entry count mismatch: %d != %d", len(readBack), len(entries))
	}
}

func TestCommitTreeDeterministicDigest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	makeDir := func() string {
		dir := t.TempDir()
		os.WriteFile(filepath.Join(dir, "a.txt"), []byte("same content"), 0o644)
		return dir
	}

	id1, _, err := s.CommitTree(ctx, makeDir())
	if err != nil {
		t.Fatal(err)
	}
	id2, _, err := s.CommitTree(ctx, makeDir())
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("two directories with identical content produced different tree ids: %s != %s", id1, id2)
	}
}

func TestAliasSetGetAtomicOverwrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AliasSet(ctx, "runs/latest", "run:sha256:aaaa"); err != nil {
		t.Fatal(err)
	}
	target, ok, err := s.AliasGet(ctx, "runs/latest")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || target != "run:sha256:aaaa" {
		t.Fatalf("unexpected alias target: %q ok=%v", target, ok)
	}

	if err := s.AliasSet(ctx, "runs/latest", "run:sha256:bbbb"); err != nil {
		t.Fatal(err)
	}
	target, ok, err = s.AliasGet(ctx, "runs/latest")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || target != "run:sha256:bbbb" {
		t.Fatalf("alias overwrite did not take effect: %q", target)
	}
}

func TestAliasGetMissing(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.AliasGet(context.Background(), "does/not/exist")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("expected missing alias to report ok=false")
	}
}

func TestBlobCIDDerivesFromDigest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dir := t.TempDir()
	src := filepath.Join(dir, "f.txt")
	os.WriteFile(src, []byte("cid me"), 0o644)

	d, err := s.CommitBlob(ctx, src)
	if err != nil {
		t.Fatal(err)
	}

	c1, err := BlobCID(d.String())
	if err != nil {
		t.Fatal(err)
	}
	c2, err := BlobCID(d.String())
	if err != nil {
		t.Fatal(err)
	}
	if c1 != c2 {
		t.Fatalf("BlobCID not deterministic: %s != %s", c1, c2)
	}
}

func TestManifestWriteLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hex64 := func(fill byte) string {
		b := make([]byte, 64)
		for i := range b {
			b[i] = fill
		}
		return string(b)
	}

	m := Manifest{
		ManifestVersion: 1,
		RunID:           "sha256:" + hex64('c'),
		TimestampUTC:    "2026-01-01T00:00:00Z",
		Step:            StepInfo{Name: "demo", Path: "demo.go", CodeHash: "sha256:" + hex64('d')},
		Parameters:      ParametersInfo{Effective: map[string]any{"n": 1.0}, Provenance: map[string]string{"n": "DEFAULT"}, Hash: "sha256:" + hex64('e')},
		Environment:     EnvironmentInfo{Summary: map[string]any{"os": "linux"}, Hash: "sha256:" + hex64('f')},
		Inputs:          []InputEntry{{LogicalName: "in", Type: "file", ID: "sha256:" + hex64('1'), Origin: "adopted"}},
		Outputs:         []OutputEntry{{LogicalName: "out", Type: "file", ID: "sha256:" + hex64('2'), Size: 4}},
		Tool:            ToolInfo{Name: "reprocas", Version: "test"},
	}

	if err := s.WriteManifest(ctx, m); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.LoadManifest(ctx, m.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.RunID != m.RunID || len(loaded.Inputs) != 1 || len(loaded.Outputs) != 1 {
		t.Fatalf("round-tripped manifest mismatch: %+v", loaded)
	}

	all, err := s.IterManifests(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 manifest from IterManifests, got %d", len(all))
	}
}
