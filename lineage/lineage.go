// Package lineage answers provenance questions over the manifests a store
// holds: who built a given artifact, and which adopted sources it traces
// back to. The manifest set forms an implicit DAG — each manifest's inputs
// are nodes reachable backward, each manifest's outputs are nodes reachable
// forward — which this package walks without materializing the graph.
package lineage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/distribution/repro-cas/store"
)

// artifactKey identifies a node in the lineage graph: a type ("file" or
// "dir") and its bare "sha256:<hex>" id.
type artifactKey struct {
	Type string
	ID   string
}

// Walker answers lineage queries against a store. It maintains a forward
// index (type, id) -> run_id built by scanning all manifests once and kept
// current by Observe, avoiding the linear rescan the reference
// implementation's who_built performs on every call.
type Walker struct {
	store *store.Store

	mu      sync.RWMutex
	index   map[artifactKey]string // artifact -> producing run id
	indexed bool
}

// New constructs a Walker bound to s. The forward index is built lazily on
// first use.
func New(s *store.Store) *Walker {
	return &Walker{store: s, index: map[artifactKey]string{}}
}

// Observe updates the forward index with one manifest's outputs without a
// full rescan, so lookups stay current within a process after a caller
// writes a new manifest. Store.WriteManifest and the run engine do not call
// it themselves.
func (w *Walker) Observe(m store.Manifest) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, out := range m.Outputs {
		w.index[artifactKey{Type: out.Type, ID: out.ID}] = m.RunID
	}
}

func (w *Walker) ensureIndex(ctx context.Context) error {
	w.mu.RLock()
	built := w.indexed
	w.mu.RUnlock()
	if built {
		return nil
	}

	manifests, err := w.store.IterManifests(ctx)
	if err != nil {
		return fmt.Errorf("lineage: scan manifests: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.indexed {
		return nil
	}
	for _, m := range manifests {
		for _, out := range m.Outputs {
			w.index[artifactKey{Type: out.Type, ID: out.ID}] = m.RunID
		}
	}
	w.indexed = true
	return nil
}

// WhoBuilt returns the run id whose outputs include the artifact identified
// by artifactType ("file" or "dir") and bare id. found is false if no
// manifest claims it as an output — it is an adopted source.
func (w *Walker) WhoBuilt(ctx context.Context, artifactType, id string) (runID string, found bool, err error) {
	if err := w.ensureIndex(ctx); err != nil {
		return "", false, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	runID, found = w.index[artifactKey{Type: artifactType, ID: id}]
	return runID, found, nil
}

// Step is one hop of a Trace walk.
type Step struct {
	Type     string // "file" or "dir"
	ID       string
	Adopted  bool   // true if this artifact has no producing run
	RunID    string // producing run id, empty if Adopted
	Depth    int
}

// Trace performs a depth-first walk from the artifact identified by
// artifactType and id backward through its producing run's inputs,
// terminating at adopted sources. Visited artifacts are tracked so a cycle
// (which should not occur under the content-addressing invariant, but is
// not assumed away) terminates the walk instead of looping.
func (w *Walker) Trace(ctx context.Context, artifactType, id string) ([]Step, error) {
	if err := w.ensureIndex(ctx); err != nil {
		return nil, err
	}

	var steps []Step
	visited := map[artifactKey]bool{}

	var visit func(ctx context.Context, typ, id string, depth int) error
	visit = func(ctx context.Context, typ, id string, depth int) error {
		key := artifactKey{Type: typ, ID: id}
		if visited[key] {
			return nil
		}
		visited[key] = true

		runID, found, err := w.WhoBuilt(ctx, typ, id)
		if err != nil {
			return err
		}
		if !found {
			steps = append(steps, Step{Type: typ, ID: id, Adopted: true, Depth: depth})
			return nil
		}
		steps = append(steps, Step{Type: typ, ID: id, RunID: runID, Depth: depth})

		m, err := w.store.LoadManifest(ctx, runID)
		if err != nil {
			return fmt.Errorf("lineage: load manifest %s: %w", runID, err)
		}

		inputs := make([]store.InputEntry, len(m.Inputs))
		copy(inputs, m.Inputs)
		sort.Slice(inputs, func(i, j int) bool { return inputs[i].LogicalName < inputs[j].LogicalName })

		for _, in := range inputs {
			if err := visit(ctx, in.Type, in.ID, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	if err := visit(ctx, artifactType, id, 0); err != nil {
		return nil, err
	}
	return steps, nil
}
