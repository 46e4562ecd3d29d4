// Package merkle implements the directory snapshotter: it walks a
// directory, commits each regular file it finds through a caller-supplied
// commit function, and returns the sorted (path, blob, size) rows that the
// CAS store hashes into a tree digest.
package merkle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Entry is one row of a directory snapshot. Field order matches the tree
// document's on-disk key order (sorted: blob, path, size), matching the
// reference implementation's json.dumps(sort_keys=True).
type Entry struct {
	Blob string `json:"blob"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// CommitFunc commits the file at localPath into a content store and
// returns its typed-less digest, formatted as "sha256:<hex>".
type CommitFunc func(ctx context.Context, localPath string) (string, error)

// Snapshot walks root, following symlinks, and returns the sorted list of
// (relative path, blob id, size) entries that make up its Merkle tree.
// Non-regular entries (devices, sockets, FIFOs) are skipped. A symlink
// cycle among directories is reported as an error rather than traversed
// forever.
func Snapshot(ctx context.Context, root string, commit CommitFunc) ([]Entry, error) {
	var relPaths []string
	seen := map[inodeKey]string{}

	var walk func(dir, relDir string) error
	walk = func(dir, relDir string) error {
		items, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, item := range items {
			full := filepath.Join(dir, item.Name())
			rel := item.Name()
			if relDir != "" {
				rel = relDir + "/" + item.Name()
			}

			info, err := os.Stat(full) // follows symlinks
			if err != nil {
				continue
			}

			if info.IsDir() {
				key, tracked := statInodeKey(info)
				if tracked {
					if prior, dup := seen[key]; dup {
						return fmt.Errorf("merkle: symlink cycle detected at %q (already visited as %q)", rel, prior)
					}
					seen[key] = rel
				}
				if err := walk(full, rel); err != nil {
					return err
				}
				if tracked {
					delete(seen, key)
				}
				continue
			}

			if !info.Mode().IsRegular() {
				continue
			}
			relPaths = append(relPaths, rel)
		}
		return nil
	}

	if err := walk(root, ""); err != nil {
		return nil, err
	}

	sort.Strings(relPaths)

	entries := make([]Entry, 0, len(relPaths))
	for _, rel := range relPaths {
		full := filepath.Join(root, rel)
		blobID, err := commit(ctx, full)
		if err != nil {
			return nil, fmt.Errorf("merkle: commit %s: %w", rel, err)
		}
		info, err := os.Stat(full)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Path: rel, Blob: blobID, Size: info.Size()})
	}
	return entries, nil
}

// Pairs returns the (path, blob) pairs of entries in the order given,
// suitable as canonical-JSON digest input. Size is deliberately excluded:
// the tree digest is a pure function of path and content.
func Pairs(entries []Entry) []any {
	pairs := make([]any, len(entries))
	for i, e := range entries {
		pairs[i] = []any{e.Path, e.Blob}
	}
	return pairs
}
