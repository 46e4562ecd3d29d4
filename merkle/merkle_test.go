package merkle

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func commitIdentity(ctx context.Context, localPath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	return "sha256:" + string(data), nil
}

func TestSnapshotSortsAndSkipsDirs(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "b.txt"), "b")
	mustWrite(t, filepath.Join(root, "a.txt"), "a")
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	mustWrite(t, filepath.Join(root, "sub", "c.txt"), "c")

	entries, err := Snapshot(context.Background(), root, commitIdentity)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d: %+v", len(entries), entries)
	}
	var paths []string
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	want := []string{"a.txt", "b.txt", "sub/c.txt"}
	for i, w := range want {
		if paths[i] != w {
			t.Fatalf("expected sorted paths %v, got %v", want, paths)
		}
	}
}

func TestSnapshotExcludesSizeFromPairs(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "f.txt"), "hello world")

	entries, err := Snapshot(context.Background(), root, commitIdentity)
	if err != nil {
		t.Fatal(err)
	}

	pairs := Pairs(entries)
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(pairs))
	}
	pair, ok := pairs[0].([]any)
	if !ok || len(pair) != 2 {
		t.Fatalf("expected [path, blob] pair, got %#v", pairs[0])
	}
}

func TestSnapshotDeterministic(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "x.txt"), "content")
	mustWrite(t, filepath.Join(root, "y.txt"), "more content")

	e1, err := Snapshot(context.Background(), root, commitIdentity)
	if err != nil {
		t.Fatal(err)
	}
	e2, err := Snapshot(context.Background(), root, commitIdentity)
	if err != nil {
		t.Fatal(err)
	}
	if len(e1) != len(e2) {
		t.Fatalf("non-deterministic entry count: %d vs %d", len(e1), len(e2))
	}
	for i := range e1 {
		if e1[i] != e2[i] {
			t.Fatalf("non-deterministic snapshot at %d: %+v vs %+v", i, e1[i], e2[i])
		}
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
