// Package resolve implements the input resolver: parsing a user-provided
// input specification string into a typed id and the manifest entry that
// describes it.
package resolve

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/distribution/repro-cas/store"
)

// maxAliasDepth bounds alias dereferencing so a circular alias chain
// terminates with an error rather than looping forever.
const maxAliasDepth = 32

// Entry is the manifest-entry fragment an input spec resolves to:
// {type, id, origin}. LogicalName is filled in by the caller.
type Entry struct {
	Type   string // "file", "dir", or "run" for a run: spec
	ID     string // bare "sha256:<hex>", no type prefix
	Origin string // "adopted" or "derived"
}

// Resolver resolves input specifications against a store.
type Resolver struct {
	Store *store.Store
}

// New constructs a Resolver bound to s.
func New(s *store.Store) *Resolver {
	return &Resolver{Store: s}
}

// Resolve parses spec and returns the typed id it names plus the manifest
// entry fragment describing it. Supported syntaxes are documented in
// SPEC_FULL.md §4.5: "@<path>", "blob:sha256:<hex>", "tree:sha256:<hex>",
// "run:sha256:<hex>", and "alias:<name>".
func (r *Resolver) Resolve(ctx context.Context, spec string) (typedID string, entry Entry, err error) {
	return r.resolveDepth(ctx, spec, 0)
}

func (r *Resolver) resolveDepth(ctx context.Context, spec string, depth int) (string, Entry, error) {
	switch {
	case strings.HasPrefix(spec, "@"):
		p, err := filepath.Abs(filepath.Clean(strings.TrimPrefix(spec, "@")))
		if err != nil {
			return "", Entry{}, fmt.Errorf("resolve: %q: %w", spec, err)
		}
		return r.adopt(ctx, p)

	case strings.HasPrefix(spec, "alias:"):
		if depth >= maxAliasDepth {
			return "", Entry{}, fmt.Errorf("resolve: alias chain too deep resolving %q (limit %d)", spec, maxAliasDepth)
		}
		name := strings.TrimPrefix(spec, "alias:")
		target, ok, err := r.Store.AliasGet(ctx, name)
		if err != nil {
			return "", Entry{}, fmt.Errorf("resolve: alias %q: %w", name, err)
		}
		if !ok {
			return "", Entry{}, fmt.Errorf("resolve: alias not found: %s", name)
		}
		return r.resolveDepth(ctx, target, depth+1)

	case strings.HasPrefix(spec, "blob:sha256:"):
		return spec, Entry{Type: "file", ID: strings.TrimPrefix(spec, "blob:"), Origin: "derived"}, nil

	case strings.HasPrefix(spec, "tree:sha256:"):
		return spec, Entry{Type: "dir", ID: strings.TrimPrefix(spec, "tree:"), Origin: "derived"}, nil

	case strings.HasPrefix(spec, "run:sha256:"):
		return spec, Entry{Type: "run", ID: strings.TrimPrefix(spec, "run:"), Origin: "derived"}, nil

	default:
		return "", Entry{}, fmt.Errorf("resolve: unsupported input spec: %q", spec)
	}
}

func (r *Resolver) adopt(ctx context.Context, absPath string) (string, Entry, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return "", Entry{}, fmt.Errorf("resolve: adopt %s: %w", absPath, err)
	}

	if info.IsDir() {
		typedID, _, err := r.Store.CommitTree(ctx, absPath)
		if err != nil {
			return "", Entry{}, err
		}
		return typedID, Entry{Type: "dir", ID: strings.TrimPrefix(typedID, "tree:"), Origin: "adopted"}, nil
	}

	d, err := r.Store.CommitBlob(ctx, absPath)
	if err != nil {
		return "", Entry{}, err
	}
	return "blob:" + d.String(), Entry{Type: "file", ID: d.String(), Origin: "adopted"}, nil
}
