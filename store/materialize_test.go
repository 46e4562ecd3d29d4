package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/distribution/repro-cas/registry/storage/driver/filesystem"
	"github.com/distribution/repro-cas/registry/storage/driver/inmemory"
)

func TestMaterializeBlobPrefersSymlinkOnLocalBackend(t *testing.T) {
	root := t.TempDir()
	drv := filesystem.New(filesystem.DriverParameters{RootDirectory: root, MaxThreads: 25})
	s := New(drv)
	if err := s.EnsureLayout(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "f.txt")
	if err := os.WriteFile(src, []byte("materialize me"), 0o644); err != nil {
		t.Fatal(err)
	}
	d, err := s.CommitBlob(ctx, src)
	if err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(t.TempDir(), "out.txt")
	method, err := s.Materialize(ctx, "blob:"+d.String(), dst, "")
	if err != nil {
		t.Fatal(err)
	}
	if method != LinkSymlink && method != LinkHardlink {
		t.Fatalf("expected a link-based materialization on a local-rooted backend, got %s", method)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "materialize me" {
		t.Fatalf("materialized content mismatch: %q", data)
	}
}

func TestMaterializeFallsBackToCopyOnNonLocalBackend(t *testing.T) {
	s := New(inmemory.New())
	if err := s.EnsureLayout(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "f.txt")
	os.WriteFile(src, []byte("no links here"), 0o644)

	d, err := s.CommitBlob(ctx, src)
	if err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(t.TempDir(), "out.txt")
	method, err := s.Materialize(ctx, "blob:"+d.String(), dst, "")
	if err != nil {
		t.Fatal(err)
	}
	if method != LinkCopy {
		t.Fatalf("expected copy fallback on inmemory backend, got %s", method)
	}
}

func TestMaterializeTreeRecreatesDirectory(t *testing.T) {
	root := t.TempDir()
	drv := filesystem.New(filesystem.DriverParameters{RootDirectory: root, MaxThreads: 25})
	s := New(drv)
	if err := s.EnsureLayout(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	srcDir := t.TempDir()
	os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("a"), 0o644)
	os.MkdirAll(filepath.Join(srcDir, "sub"), 0o755)
	os.WriteFile(filepath.Join(srcDir, "sub", "b.txt"), []byte("b"), 0o644)

	typedID, _, err := s.CommitTree(ctx, srcDir)
	if err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(t.TempDir(), "out")
	if _, err := s.Materialize(ctx, typedID, dst, ""); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dst, "sub", "b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "b" {
		t.Fatalf("unexpected content: %q", data)
	}
}
