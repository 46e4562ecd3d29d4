package hash

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDigestBytesStable(t *testing.T) {
	a := DigestBytes([]byte("hello"))
	b := DigestBytes([]byte("hello"))
	if a != b {
		t.Fatalf("DigestBytes not stable: %s != %s", a, b)
	}
	if a == DigestBytes([]byte("world")) {
		t.Fatalf("DigestBytes collided on different input")
	}
}

func TestDigestFileMatchesDigestBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	content := []byte("the quick brown fox")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	fromFile, err := DigestFile(path)
	if err != nil {
		t.Fatal(err)
	}
	fromBytes := DigestBytes(content)
	if fromFile != fromBytes {
		t.Fatalf("DigestFile %s != DigestBytes %s", fromFile, fromBytes)
	}
}

func TestCombineIsOrderAndArgSensitive(t *testing.T) {
	a := Combine("x", "y")
	b := Combine("y", "x")
	if a == b {
		t.Fatalf("Combine must be order-sensitive, got equal digests for (x,y) and (y,x)")
	}

	c := Combine("x", "y", "z")
	d := Combine("xy", "z") // different split of the same concatenation
	if c == d {
		t.Fatalf("Combine collided across different argument splits")
	}
}

func TestCanonicalJSONKeyOrderInsensitive(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2}
	b := map[string]any{"a": 2, "b": 1}

	aJSON, err := CanonicalJSON(a)
	if err != nil {
		t.Fatal(err)
	}
	bJSON, err := CanonicalJSON(b)
	if err != nil {
		t.Fatal(err)
	}
	if string(aJSON) != string(bJSON) {
		t.Fatalf("CanonicalJSON not key-order insensitive: %s != %s", aJSON, bJSON)
	}
	if string(aJSON) != `{"a":2,"b":1}` {
		t.Fatalf("unexpected canonical form: %s", aJSON)
	}
}

func TestCanonicalJSONNoASCIIEscaping(t *testing.T) {
	data, err := CanonicalJSON(map[string]any{"name": "héllo <world> & co"})
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	if got != `{"name":"héllo <world> & co"}` {
		t.Fatalf("expected UTF-8 passthrough with no HTML escaping, got %s", got)
	}
}

func TestCanonicalJSONIdempotent(t *testing.T) {
	value := map[string]any{"x": []any{"a", "b", 3}, "y": true, "z": nil}
	first, err := CanonicalJSON(value)
	if err != nil {
		t.Fatal(err)
	}
	second, err := CanonicalJSON(value)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Fatalf("CanonicalJSON not idempotent: %s != %s", first, second)
	}
}

func TestCodeHashIgnoresCommentsAndWhitespace(t *testing.T) {
	dir := t.TempDir()

	src1 := "package p\n\nfunc Add(a, b int) int {\n\treturn a + b\n}\n"
	src2 := "package p\n\n// Add adds two numbers.\nfunc Add(a, b int) int {\n\n\treturn a + b // sum\n}\n"

	p1 := filepath.Join(dir, "a.go")
	p2 := filepath.Join(dir, "b.go")
	if err := os.WriteFile(p1, []byte(src1), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p2, []byte(src2), 0o644); err != nil {
		t.Fatal(err)
	}

	h1, err := CodeHash(p1)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := CodeHash(p2)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("CodeHash should ignore comments and whitespace: %s != %s", h1, h2)
	}
}

func TestCodeHashSensitiveToStructure(t *testing.T) {
	dir := t.TempDir()
	src1 := "package p\n\nfunc Add(a, b int) int {\n\treturn a + b\n}\n"
	src2 := "package p\n\nfunc Add(a, b int) int {\n\treturn a - b\n}\n"

	p1 := filepath.Join(dir, "a.go")
	p2 := filepath.Join(dir, "b.go")
	os.WriteFile(p1, []byte(src1), 0o644)
	os.WriteFile(p2, []byte(src2), 0o644)

	h1, err := CodeHash(p1)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := CodeHash(p2)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Fatalf("CodeHash should differ for structurally different code")
	}
}
