// Package runengine executes one step against resolved inputs and produces
// an immutable manifest, tying together hash, merkle, store, resolve and
// step the way the reference implementation's runner.run_step_file does.
package runengine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"time"

	"github.com/distribution/repro-cas/hash"
	"github.com/distribution/repro-cas/internal/dcontext"
	"github.com/distribution/repro-cas/internal/metrics"
	"github.com/distribution/repro-cas/resolve"
	"github.com/distribution/repro-cas/step"
	"github.com/distribution/repro-cas/store"
)

// ToolName and ToolVersion populate the manifest's "tool" field. Version is
// "dev" unless a build sets it at link time (-ldflags -X).
var (
	ToolName    = "reprocas"
	ToolVersion = "dev"
)

// envWhitelist is the fixed set of environment variables captured in the
// environment summary. GODEBUG stands in for a host-language determinism
// knob (the reference implementation whitelists a hash-seed variable).
var envWhitelist = []string{"TZ", "LANG", "LC_ALL", "GODEBUG"}

// ParamProvenance records where an effective parameter's value came from.
type ParamProvenance string

const (
	ProvenanceCLI     ParamProvenance = "CLI"
	ProvenanceEnv     ParamProvenance = "ENV"
	ProvenanceConfig  ParamProvenance = "CONFIG"
	ProvenanceDefault ParamProvenance = "DEFAULT"
)

// Request is the input to Run: a step, a name/path identifying it for the
// manifest and code hash, a mapping of logical input names to input
// specifications understood by package resolve, already-resolved effective
// parameters and their provenance, and options controlling the run.
type Request struct {
	Step     step.Step
	Name     string // step.name in the manifest
	Path     string // path to the step's Go source, hashed for code_hash
	Inputs   map[string]string
	Params   map[string]any
	Provenance map[string]ParamProvenance

	// CapturePackages, if true, records the module's build dependencies
	// in the environment summary via runtime/debug.ReadBuildInfo.
	CapturePackages bool

	// Alias, if non-empty, is set to "run:<run_id>" on success.
	Alias string

	// WorkRoot is the local directory under which the run's materialization
	// and working directories are created. Defaults to os.TempDir() if
	// empty; it is never inside the store, since the working directory must
	// be plain disk, not the (possibly remote) CAS backend.
	WorkRoot string
}

// Engine executes steps against a store.
type Engine struct {
	Store    *store.Store
	Resolver *resolve.Resolver
}

// New constructs an Engine bound to s.
func New(s *store.Store) *Engine {
	return &Engine{Store: s, Resolver: resolve.New(s)}
}

// Run executes req.Step's three phases and writes a manifest, returning it.
// No manifest is written if any phase returns an error.
func (e *Engine) Run(ctx context.Context, req Request) (store.Manifest, error) {
	start := time.Now()
	var failed bool
	defer func() {
		if failed {
			metrics.ObserveRunFailure()
		}
		metrics.ObserveRun(start)
	}()

	codeHash, err := hash.CodeHash(req.Path)
	if err != nil {
		failed = true
		return store.Manifest{}, fmt.Errorf("runengine: code hash %s: %w", req.Path, err)
	}

	workRoot := req.WorkRoot
	if workRoot == "" {
		workRoot = os.TempDir()
	}
	materializeDir, err := os.MkdirTemp(workRoot, "reprocas-materialize-")
	if err != nil {
		failed = true
		return store.Manifest{}, fmt.Errorf("runengine: materialize tmp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(materializeDir); err != nil {
			dcontext.GetLogger(ctx).Warnf("runengine: cleanup %s: %v", materializeDir, err)
		}
	}()

	names := sortedKeys(req.Inputs)
	inputEntries := make([]store.InputEntry, 0, len(names))
	inputTriples := make([]any, 0, len(names))
	materializedAt := make(map[string]string, len(names))

	for _, name := range names {
		spec := req.Inputs[name]
		typedID, entry, err := e.Resolver.Resolve(ctx, spec)
		if err != nil {
			failed = true
			return store.Manifest{}, fmt.Errorf("runengine: resolve input %s: %w", name, err)
		}

		dst := filepath.Join(materializeDir, name)
		if _, err := e.Store.Materialize(ctx, typedID, dst, ""); err != nil {
			failed = true
			return store.Manifest{}, fmt.Errorf("runengine: materialize input %s: %w", name, err)
		}
		materializedAt[name] = dst

		inputEntries = append(inputEntries, store.InputEntry{
			LogicalName: name,
			Type:        entry.Type,
			ID:          entry.ID,
			Origin:      entry.Origin,
		})
		inputTriples = append(inputTriples, []any{name, entry.Type, entry.ID})
	}

	inputJSON, err := hash.CanonicalJSON(inputTriples)
	if err != nil {
		failed = true
		return store.Manifest{}, err
	}
	inputHash := hash.DigestBytes(inputJSON)

	paramsJSON, err := hash.CanonicalJSON(req.Params)
	if err != nil {
		failed = true
		return store.Manifest{}, err
	}
	paramsHash := hash.DigestBytes(paramsJSON)

	envSummary := buildEnvSummary(req.CapturePackages)
	envJSON, err := hash.CanonicalJSON(envSummary)
	if err != nil {
		failed = true
		return store.Manifest{}, err
	}
	envHash := hash.DigestBytes(envJSON)

	runDigest := hash.Combine(codeHash.String(), inputHash.String(), paramsHash.String(), envHash.String())
	runID := runDigest.String()

	runDir, err := os.MkdirTemp(workRoot, fmt.Sprintf("reprocas-run-%s-", runDigest.Encoded()[:12]))
	if err != nil {
		failed = true
		return store.Manifest{}, fmt.Errorf("runengine: run dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(runDir); err != nil {
			dcontext.GetLogger(ctx).Warnf("runengine: cleanup %s: %v", runDir, err)
		}
	}()

	inDir := filepath.Join(runDir, "in")
	outDir := filepath.Join(runDir, "out")
	if err := os.MkdirAll(inDir, 0o777); err != nil {
		failed = true
		return store.Manifest{}, err
	}
	if err := os.MkdirAll(outDir, 0o777); err != nil {
		failed = true
		return store.Manifest{}, err
	}
	for name, src := range materializedAt {
		if err := copyTree(src, filepath.Join(inDir, name)); err != nil {
			failed = true
			return store.Manifest{}, fmt.Errorf("runengine: copy input %s into run dir: %w", name, err)
		}
	}

	rc := &step.RunContext{
		RunDir:    runDir,
		InputDir:  inDir,
		OutputDir: outDir,
		Params:    req.Params,
		Env:       envSummary,
	}

	loaded, err := req.Step.Load(ctx, rc)
	if err != nil {
		failed = true
		return store.Manifest{}, fmt.Errorf("runengine: load phase: %w", err)
	}
	results, err := req.Step.Core(ctx, rc, loaded)
	if err != nil {
		failed = true
		return store.Manifest{}, fmt.Errorf("runengine: core phase: %w", err)
	}
	if err := req.Step.Save(ctx, rc, results); err != nil {
		failed = true
		return store.Manifest{}, fmt.Errorf("runengine: save phase: %w", err)
	}

	outputs, err := e.commitOutputs(ctx, outDir)
	if err != nil {
		failed = true
		return store.Manifest{}, fmt.Errorf("runengine: commit outputs: %w", err)
	}

	sort.Slice(inputEntries, func(i, j int) bool { return inputEntries[i].LogicalName < inputEntries[j].LogicalName })
	sort.Slice(outputs, func(i, j int) bool { return outputs[i].LogicalName < outputs[j].LogicalName })

	manifest := store.Manifest{
		ManifestVersion: 1,
		RunID:           runID,
		TimestampUTC:    time.Now().UTC().Format("2006-01-02T15:04:05Z"),
		Step: store.StepInfo{
			Name:     req.Name,
			Path:     req.Path,
			CodeHash: codeHash.String(),
		},
		Parameters: store.ParametersInfo{
			Effective:  req.Params,
			Provenance: provenanceStrings(req.Provenance),
			Hash:       paramsHash.String(),
		},
		Environment: store.EnvironmentInfo{
			Summary: envSummary,
			Hash:    envHash.String(),
		},
		Inputs:  inputEntries,
		Outputs: outputs,
		Tool: store.ToolInfo{
			Name:    ToolName,
			Version: ToolVersion,
		},
	}

	if err := e.Store.WriteManifest(ctx, manifest); err != nil {
		failed = true
		return store.Manifest{}, fmt.Errorf("runengine: write manifest: %w", err)
	}

	if req.Alias != "" {
		if err := e.Store.AliasSet(ctx, req.Alias, "run:"+runID); err != nil {
			failed = true
			return store.Manifest{}, fmt.Errorf("runengine: set alias %s: %w", req.Alias, err)
		}
	}

	dcontext.GetLogger(ctx).Infof("runengine: run %s complete (%d inputs, %d outputs)", runID, len(inputEntries), len(outputs))
	return manifest, nil
}

// commitOutputs scans the top-level entries of outDir, committing files as
// blobs and directories as trees, and returns them as manifest output
// entries with sizes.
func (e *Engine) commitOutputs(ctx context.Context, outDir string) ([]store.OutputEntry, error) {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, err
	}

	outputs := make([]store.OutputEntry, 0, len(entries))
	for _, ent := range entries {
		name := ent.Name()
		full := filepath.Join(outDir, name)

		if ent.IsDir() {
			typedID, treeEntries, err := e.Store.CommitTree(ctx, full)
			if err != nil {
				return nil, err
			}
			var size int64
			for _, te := range treeEntries {
				size += te.Size
			}
			outputs = append(outputs, store.OutputEntry{
				LogicalName: name,
				Type:        "dir",
				ID:          strimTreePrefix(typedID),
				Size:        size,
			})
			continue
		}

		info, err := ent.Info()
		if err != nil {
			return nil, err
		}
		d, err := e.Store.CommitBlob(ctx, full)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, store.OutputEntry{
			LogicalName: name,
			Type:        "file",
			ID:          d.String(),
			Size:        info.Size(),
		})
	}
	return outputs, nil
}

func strimTreePrefix(typedID string) string {
	const prefix = "tree:"
	if len(typedID) > len(prefix) && typedID[:len(prefix)] == prefix {
		return typedID[len(prefix):]
	}
	return typedID
}

func buildEnvSummary(capturePackages bool) map[string]any {
	summary := map[string]any{
		"runtime_version": runtime.Version(),
		"os":               runtime.GOOS,
		"arch":             runtime.GOARCH,
	}
	envVars := map[string]string{}
	for _, name := range envWhitelist {
		if v, ok := os.LookupEnv(name); ok {
			envVars[name] = v
		}
	}
	summary["env_vars"] = envVars

	if capturePackages {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			summary["packages_error"] = "failed_to_capture"
		} else {
			pkgs := make([]map[string]string, 0, len(info.Deps))
			for _, dep := range info.Deps {
				pkgs = append(pkgs, map[string]string{"name": dep.Path, "version": dep.Version})
			}
			sort.Slice(pkgs, func(i, j int) bool { return pkgs[i]["name"] < pkgs[j]["name"] })
			packages := make([]any, 0, len(pkgs))
			for _, p := range pkgs {
				packages = append(packages, map[string]string{"name": p["name"], "version": p["version"]})
			}
			summary["packages"] = packages
		}
	}
	return summary
}

func provenanceStrings(p map[string]ParamProvenance) map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = string(v)
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// copyTree copies src (a file or directory, as materialized by the store)
// into dst inside the run's private working directory, which must be
// writable and disjoint from the immutable CAS.
func copyTree(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		resolved, err := filepath.EvalSymlinks(src)
		if err != nil {
			return err
		}
		src = resolved
		info, err = os.Stat(src)
		if err != nil {
			return err
		}
	}

	if !info.IsDir() {
		return copyFile(src, dst, info)
	}

	if err := os.MkdirAll(dst, 0o777); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, ent := range entries {
		if err := copyTree(filepath.Join(src, ent.Name()), filepath.Join(dst, ent.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string, info os.FileInfo) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o777); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
