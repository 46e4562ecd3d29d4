// Package store implements the content-addressed store (CAS): the
// immutable blobs/trees/manifests trees and the mutable alias namespace,
// all layered on top of a storagedriver.StorageDriver so the on-disk
// layout can be served by more than one backend.
package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/opencontainers/go-digest"

	"github.com/distribution/repro-cas/hash"
	"github.com/distribution/repro-cas/internal/dcontext"
	"github.com/distribution/repro-cas/internal/metrics"
	"github.com/distribution/repro-cas/merkle"
	storagedriver "github.com/distribution/repro-cas/registry/storage/driver"
)

const (
	blobsDir     = "/blobs/sha256"
	treesDir     = "/trees/sha256"
	manifestsDir = "/manifests/sha256"
	aliasesDir   = "/aliases"
	tmpDir       = "/tmp"
)

// Store is the content-addressed store described by the data model: an
// immutable tree of blobs, trees and manifests plus a mutable alias
// namespace, all backed by a StorageDriver.
type Store struct {
	driver storagedriver.StorageDriver
}

// New wraps driver as a content-addressed store. Callers typically obtain
// driver from registry/storage/driver/factory using a backend name from
// service configuration.
func New(driver storagedriver.StorageDriver) *Store {
	return &Store{driver: driver}
}

// Driver returns the underlying storage driver, for callers (e.g. the
// materializer) that need backend-specific fast paths.
func (s *Store) Driver() storagedriver.StorageDriver {
	return s.driver
}

// EnsureLayout idempotently creates the five subtrees of the store.
func (s *Store) EnsureLayout(ctx context.Context) error {
	for _, dir := range []string{blobsDir, treesDir, manifestsDir, aliasesDir, tmpDir} {
		if err := s.driver.PutContent(ctx, dir+"/.keep", nil); err != nil {
			return fmt.Errorf("store: ensure layout %s: %w", dir, err)
		}
	}
	return nil
}

func fanout(dir, hexDigest string) string {
	return path.Join(dir, hexDigest[:2], hexDigest)
}

// BlobPath returns the store-relative path of a blob given its untyped
// "sha256:<hex>" id.
func BlobPath(blobID string) (string, error) {
	d, err := digest.Parse(blobID)
	if err != nil {
		return "", fmt.Errorf("store: blob id must be sha256:<hex>: %w", err)
	}
	return fanout(blobsDir, d.Encoded()), nil
}

// TreePath returns the store-relative path of a tree given its typed
// "tree:sha256:<hex>" id.
func TreePath(treeTypedID string) (string, error) {
	hexDigest, err := stripTypedPrefix(treeTypedID, "tree:")
	if err != nil {
		return "", err
	}
	return fanout(treesDir, hexDigest), nil
}

// ManifestPath returns the store-relative path of a manifest given its
// "sha256:<hex>" run id.
func ManifestPath(runID string) (string, error) {
	d, err := digest.Parse(runID)
	if err != nil {
		return "", fmt.Errorf("store: run id must be sha256:<hex>: %w", err)
	}
	return fanout(manifestsDir, d.Encoded()) + ".json", nil
}

func stripTypedPrefix(typedID, prefix string) (string, error) {
	if !strings.HasPrefix(typedID, prefix+"sha256:") {
		return "", fmt.Errorf("store: expected %ssha256:<hex>, got %q", prefix, typedID)
	}
	d, err := digest.Parse(strings.TrimPrefix(typedID, prefix))
	if err != nil {
		return "", fmt.Errorf("store: %s: %w", typedID, err)
	}
	return d.Encoded(), nil
}

// CommitBlob streams src through SHA-256 and, if its digest is not already
// present in the blobs tree, atomically publishes it. It is a no-op on the
// second and subsequent calls for the same bytes.
func (s *Store) CommitBlob(ctx context.Context, src string) (digest.Digest, error) {
	start := time.Now()
	defer func() { metrics.ObserveCommit("blob", start) }()

	d, err := hash.DigestFile(src)
	if err != nil {
		return "", fmt.Errorf("store: digest %s: %w", src, err)
	}

	dst := fanout(blobsDir, d.Encoded())
	if _, err := s.driver.Stat(ctx, dst); err == nil {
		return d, nil
	} else if !isNotFound(err) {
		return "", fmt.Errorf("store: stat blob %s: %w", dst, err)
	}

	f, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := s.atomicCopy(ctx, dst, f); err != nil {
		return "", fmt.Errorf("store: commit blob %s: %w", d, err)
	}

	dcontext.GetLogger(ctx).Debugf("store: committed blob %s", d)
	return d, nil
}

// CommitTree snapshots srcDir (see package merkle), committing every file
// it contains as a blob, then atomically publishes the tree JSON if it is
// not already present. It returns the typed "tree:sha256:<hex>" id and the
// entries of the snapshot.
func (s *Store) CommitTree(ctx context.Context, srcDir string) (string, []merkle.Entry, error) {
	start := time.Now()
	defer func() { metrics.ObserveCommit("tree", start) }()

	entries, err := merkle.Snapshot(ctx, srcDir, func(ctx context.Context, localPath string) (string, error) {
		d, err := s.CommitBlob(ctx, localPath)
		if err != nil {
			return "", err
		}
		return d.String(), nil
	})
	if err != nil {
		return "", nil, fmt.Errorf("store: snapshot %s: %w", srcDir, err)
	}

	treeJSON, err := hash.CanonicalJSON(merkle.Pairs(entries))
	if err != nil {
		return "", nil, err
	}
	treeDigest := hash.DigestBytes(treeJSON)
	typedID := "tree:" + treeDigest.String()

	dst := fanout(treesDir, treeDigest.Encoded())
	if _, err := s.driver.Stat(ctx, dst); err == nil {
		return typedID, entries, nil
	} else if !isNotFound(err) {
		return "", nil, fmt.Errorf("store: stat tree %s: %w", dst, err)
	}

	doc := treeDoc{Entries: entries, Version: 1}
	data, err := marshalJSON(doc, "")
	if err != nil {
		return "", nil, err
	}
	if err := s.atomicPut(ctx, dst, data); err != nil {
		return "", nil, fmt.Errorf("store: write tree %s: %w", typedID, err)
	}

	dcontext.GetLogger(ctx).Debugf("store: committed tree %s (%d entries)", typedID, len(entries))
	return typedID, entries, nil
}

type treeDoc struct {
	Entries []merkle.Entry `json:"entries"`
	Version int            `json:"version"`
}

// ReadTree loads the tree JSON for a typed "tree:sha256:<hex>" id.
func (s *Store) ReadTree(ctx context.Context, treeTypedID string) ([]merkle.Entry, error) {
	p, err := TreePath(treeTypedID)
	if err != nil {
		return nil, err
	}
	data, err := s.driver.GetContent(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("store: read tree %s: %w", treeTypedID, err)
	}
	var doc treeDoc
	if err := unmarshalJSON(data, &doc); err != nil {
		return nil, fmt.Errorf("store: decode tree %s: %w", treeTypedID, err)
	}
	return doc.Entries, nil
}

// AliasSet atomically overwrites the alias named name to point at target.
// Alias names may contain '/' to form nested groups (e.g. "runs/latest").
func (s *Store) AliasSet(ctx context.Context, name, target string) error {
	p := path.Join(aliasesDir, name)
	if err := s.atomicPut(ctx, p, []byte(target+"\n")); err != nil {
		return fmt.Errorf("store: alias set %s: %w", name, err)
	}
	return nil
}

// AliasGet resolves an alias's stored typed id. ok is false if the alias
// does not exist.
func (s *Store) AliasGet(ctx context.Context, name string) (target string, ok bool, err error) {
	p := path.Join(aliasesDir, name)
	data, err := s.driver.GetContent(ctx, p)
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("store: alias get %s: %w", name, err)
	}
	return strings.TrimRight(string(data), "\n"), true, nil
}

// BlobCID derives a CIDv1 (raw codec, SHA-256 multihash) for an existing
// "sha256:<hex>" blob id, for interoperability with IPFS-style tooling.
// It does not change the store's own SHA-256 addressing scheme.
func BlobCID(blobID string) (cid.Cid, error) {
	d, err := digest.Parse(blobID)
	if err != nil {
		return cid.Undef, fmt.Errorf("store: BlobCID: %w", err)
	}
	if d.Algorithm() != digest.SHA256 {
		return cid.Undef, fmt.Errorf("store: BlobCID: unsupported digest algorithm %s", d.Algorithm())
	}
	sum, err := hex.DecodeString(d.Encoded())
	if err != nil {
		return cid.Undef, fmt.Errorf("store: BlobCID: %w", err)
	}
	mhash, err := mh.Encode(sum, mh.SHA2_256)
	if err != nil {
		return cid.Undef, fmt.Errorf("store: BlobCID: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mhash), nil
}

// atomicCopy streams r into dst via a temporary sibling path, fsync-ing
// (to the extent the driver supports it) before renaming into place.
func (s *Store) atomicCopy(ctx context.Context, dst string, r io.Reader) error {
	tmp := fmt.Sprintf("%s.tmp-%d", dst, time.Now().UnixNano())
	w, err := s.driver.Writer(ctx, tmp, false)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Cancel(ctx)
		return err
	}
	if err := w.Commit(ctx); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	if err := s.driver.Move(ctx, tmp, dst); err != nil {
		_ = s.driver.Delete(ctx, tmp)
		return err
	}
	return nil
}

// atomicPut is atomicCopy for an in-memory buffer.
func (s *Store) atomicPut(ctx context.Context, dst string, data []byte) error {
	tmp := fmt.Sprintf("%s.tmp-%d", dst, time.Now().UnixNano())
	if err := s.driver.PutContent(ctx, tmp, data); err != nil {
		return err
	}
	if err := s.driver.Move(ctx, tmp, dst); err != nil {
		_ = s.driver.Delete(ctx, tmp)
		return err
	}
	return nil
}

func isNotFound(err error) bool {
	var nf storagedriver.PathNotFoundError
	return errors.As(err, &nf)
}
