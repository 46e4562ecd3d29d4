package runengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/distribution/repro-cas/registry/storage/driver/inmemory"
	"github.com/distribution/repro-cas/step"
	"github.com/distribution/repro-cas/store"
)

// uppercaseStep reads the input with logical name "text", upper-cases it,
// and writes the result to "result.txt".
type uppercaseStep struct{}

func (uppercaseStep) Load(ctx context.Context, rc *step.RunContext) (map[string]any, error) {
	data, err := os.ReadFile(rc.InputPath("text"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"text": string(data)}, nil
}

func (uppercaseStep) Core(ctx context.Context, rc *step.RunContext, loaded map[string]any) (map[string]any, error) {
	text := loaded["text"].(string)
	upper := ""
	for _, r := range text {
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		upper += string(r)
	}
	return map[string]any{"result": upper}, nil
}

func (uppercaseStep) Save(ctx context.Context, rc *step.RunContext, results map[string]any) error {
	path, err := rc.OutputPath("result.txt")
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(results["result"].(string)), 0o644)
}

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	s := store.New(inmemory.New())
	if err := s.EnsureLayout(context.Background()); err != nil {
		t.Fatal(err)
	}
	return New(s), t.TempDir()
}

func writeStepSource(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "uppercase.go")
	src := "package runengine\n\nfunc dummyStepMarker() {}\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunProducesManifestWithMatchingOutputs(t *testing.T) {
	engine, workRoot := newTestEngine(t)
	ctx := context.Background()

	inputDir := t.TempDir()
	inputPath := filepath.Join(inputDir, "in.txt")
	if err := os.WriteFile(inputPath, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	req := Request{
		Step:   uppercaseStep{},
		Name:   "uppercase",
		Path:   writeStepSource(t),
		Inputs: map[string]string{"text": "@" + inputPath},
		Params: map[string]any{},
		WorkRoot: workRoot,
	}

	m, err := engine.Run(ctx, req)
	if err != nil {
		t.Fatal(err)
	}

	if len(m.Inputs) != 1 || m.Inputs[0].LogicalName != "text" {
		t.Fatalf("unexpected inputs: %+v", m.Inputs)
	}
	if len(m.Outputs) != 1 || m.Outputs[0].LogicalName != "result.txt" {
		t.Fatalf("unexpected outputs: %+v", m.Outputs)
	}

	loaded, err := engine.Store.LoadManifest(ctx, m.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.RunID != m.RunID {
		t.Fatalf("manifest not persisted under its own run id")
	}
}

func TestRunIsDeterministic(t *testing.T) {
	engine, workRoot := newTestEngine(t)
	ctx := context.Background()

	inputDir := t.TempDir()
	inputPath := filepath.Join(inputDir, "in.txt")
	os.WriteFile(inputPath, []byte("same input"), 0o644)
	stepPath := writeStepSource(t)

	req := Request{
		Step:     uppercaseStep{},
		Name:     "uppercase",
		Path:     stepPath,
		Inputs:   map[string]string{"text": "@" + inputPath},
		Params:   map[string]any{"k": "v"},
		WorkRoot: workRoot,
	}

	m1, err := engine.Run(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	m2, err := engine.Run(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if m1.RunID != m2.RunID {
		t.Fatalf("identical requests produced different run ids: %s != %s", m1.RunID, m2.RunID)
	}
}

func TestRunSetsAliasOnSuccess(t *testing.T) {
	engine, workRoot := newTestEngine(t)
	ctx := context.Background()

	inputDir := t.TempDir()
	inputPath := filepath.Join(inputDir, "in.txt")
	os.WriteFile(inputPath, []byte("aliased run"), 0o644)

	req := Request{
		Step:     uppercaseStep{},
		Name:     "uppercase",
		Path:     writeStepSource(t),
		Inputs:   map[string]string{"text": "@" + inputPath},
		Params:   map[string]any{},
		Alias:    "runs/latest",
		WorkRoot: workRoot,
	}

	m, err := engine.Run(ctx, req)
	if err != nil {
		t.Fatal(err)
	}

	target, ok, err := engine.Store.AliasGet(ctx, "runs/latest")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || target != "run:"+m.RunID {
		t.Fatalf("expected alias to point at run:%s, got %q", m.RunID, target)
	}
}
