package ipfsblock

import (
	"context"
	"testing"

	storagedriver "github.com/distribution/repro-cas/registry/storage/driver"
)

func TestPutGetContentRoundTrips(t *testing.T) {
	ctx := context.Background()
	d := New()

	if err := d.PutContent(ctx, "/a/b/c.txt", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	got, err := d.GetContent(ctx, "/a/b/c.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestGetContentMissingReturnsPathNotFound(t *testing.T) {
	ctx := context.Background()
	d := New()

	_, err := d.GetContent(ctx, "/nope")
	if _, ok := err.(storagedriver.PathNotFoundError); !ok {
		t.Fatalf("expected PathNotFoundError, got %v (%T)", err, err)
	}
}

func TestStatReportsFilesAndIntermediateDirectories(t *testing.T) {
	ctx := context.Background()
	d := New()

	if err := d.PutContent(ctx, "/a/b/c.txt", []byte("hello")); err != nil {
		t.Fatal(err)
	}

	fi, err := d.Stat(ctx, "/a/b/c.txt")
	if err != nil {
		t.Fatal(err)
	}
	if fi.IsDir() || fi.Size() != 5 {
		t.Fatalf("unexpected file stat: isDir=%v size=%d", fi.IsDir(), fi.Size())
	}

	dirInfo, err := d.Stat(ctx, "/a/b")
	if err != nil {
		t.Fatal(err)
	}
	if !dirInfo.IsDir() {
		t.Fatalf("expected /a/b to be reported as a directory")
	}

	rootInfo, err := d.Stat(ctx, "/")
	if err != nil {
		t.Fatal(err)
	}
	if !rootInfo.IsDir() {
		t.Fatalf("expected root to be reported as a directory")
	}
}

func TestListReturnsSortedChildren(t *testing.T) {
	ctx := context.Background()
	d := New()

	if err := d.PutContent(ctx, "/dir/b.txt", []byte("b")); err != nil {
		t.Fatal(err)
	}
	if err := d.PutContent(ctx, "/dir/a.txt", []byte("a")); err != nil {
		t.Fatal(err)
	}

	entries, err := d.List(ctx, "/dir")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0] != "/dir/a.txt" || entries[1] != "/dir/b.txt" {
		t.Fatalf("expected sorted [/dir/a.txt /dir/b.txt], got %v", entries)
	}
}

func TestMoveRelocatesContentAndRemovesSource(t *testing.T) {
	ctx := context.Background()
	d := New()

	if err := d.PutContent(ctx, "/src.txt", []byte("payload")); err != nil {
		t.Fatal(err)
	}
	if err := d.Move(ctx, "/src.txt", "/dst.txt"); err != nil {
		t.Fatal(err)
	}

	if _, err := d.GetContent(ctx, "/src.txt"); err == nil {
		t.Fatalf("expected source to be gone after move")
	}
	got, err := d.GetContent(ctx, "/dst.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "payload" {
		t.Fatalf("unexpected moved content: %q", got)
	}
}

func TestDeleteRemovesSubtree(t *testing.T) {
	ctx := context.Background()
	d := New()

	if err := d.PutContent(ctx, "/dir/a.txt", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := d.PutContent(ctx, "/dir/sub/b.txt", []byte("b")); err != nil {
		t.Fatal(err)
	}

	if err := d.Delete(ctx, "/dir"); err != nil {
		t.Fatal(err)
	}

	if _, err := d.GetContent(ctx, "/dir/a.txt"); err == nil {
		t.Fatalf("expected /dir/a.txt to be gone after deleting /dir")
	}
	if _, err := d.GetContent(ctx, "/dir/sub/b.txt"); err == nil {
		t.Fatalf("expected /dir/sub/b.txt to be gone after deleting /dir")
	}
}

func TestWriterAppendExtendsExistingContent(t *testing.T) {
	ctx := context.Background()
	d := New()

	if err := d.PutContent(ctx, "/log.txt", []byte("first")); err != nil {
		t.Fatal(err)
	}

	w, err := d.Writer(ctx, "/log.txt", true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("second")); err != nil {
		t.Fatal(err)
	}
	if err := w.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := d.GetContent(ctx, "/log.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "firstsecond" {
		t.Fatalf("unexpected appended content: %q", got)
	}
}
