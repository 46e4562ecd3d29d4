// Package ipfsblock implements a storagedriver.StorageDriver backed by an
// IPFS-style content-addressed blockstore, for callers that want the CAS
// store's blobs/trees/manifests tree to live in a blockstore (e.g. behind a
// go-ipfs node) instead of a local filesystem. Each driver path is hashed
// into a CIDv1 key; the block stored under that key is the path's content,
// not an IPFS object of the path's name, so this remains a flat key-value
// backend with the same semantics as the filesystem and inmemory drivers.
package ipfsblock

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	mh "github.com/multiformats/go-multihash"

	storagedriver "github.com/distribution/repro-cas/registry/storage/driver"
	"github.com/distribution/repro-cas/registry/storage/driver/base"
	"github.com/distribution/repro-cas/registry/storage/driver/factory"
)

const driverName = "ipfsblock"

func init() {
	factory.Register(driverName, &ipfsDriverFactory{})
}

// ipfsDriverFactory implements the factory.StorageDriverFactory interface.
type ipfsDriverFactory struct{}

func (*ipfsDriverFactory) Create(ctx context.Context, parameters map[string]interface{}) (storagedriver.StorageDriver, error) {
	return New(), nil
}

type baseEmbed struct {
	base.Base
}

// Driver is a storagedriver.StorageDriver implementation backed by an
// in-process blockstore over a mutex-wrapped map datastore. It is intended
// for local interoperability testing with IPFS tooling; a production
// deployment would point the datastore at a real IPFS node or a durable
// datastore implementation instead of go-datastore's in-memory map.
type Driver struct {
	baseEmbed
}

var _ storagedriver.StorageDriver = &Driver{}

// New constructs a Driver over a fresh in-memory blockstore.
func New() *Driver {
	bs := blockstore.NewBlockstore(dssync.MutexWrap(ds.NewMapDatastore()))
	return &Driver{
		baseEmbed: baseEmbed{
			Base: base.Base{
				StorageDriver: &driver{
					bs:       bs,
					children: map[string]map[string]bool{"/": {}},
					sizes:    map[string]int64{},
					modTimes: map[string]time.Time{},
				},
			},
		},
	}
}

type driver struct {
	bs blockstore.Blockstore

	mu       sync.RWMutex
	children map[string]map[string]bool // dir path -> set of direct child paths
	sizes    map[string]int64           // file path -> size
	modTimes map[string]time.Time       // path -> last write time
}

// pathCID derives a stable CIDv1 (raw codec) key for a driver path. This
// keys the blockstore by path identity, not by the bytes stored there —
// content addressing of the bytes themselves is the CAS store layer's job,
// one level up.
func pathCID(p string) (cid.Cid, error) {
	sum, err := mh.Sum([]byte(p), mh.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

func normalize(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

func (d *driver) Name() string {
	return driverName
}

// linkChild records that child is a direct descendant of every ancestor
// directory up to root, creating the intermediate directory entries in the
// children index as needed.
func (d *driver) linkChild(p string) {
	child := p
	for {
		parent := path.Dir(child)
		if _, ok := d.children[parent]; !ok {
			d.children[parent] = map[string]bool{}
		}
		d.children[parent][child] = true
		if _, ok := d.children[child]; !ok {
			d.children[child] = map[string]bool{}
		}
		if parent == child || parent == "/" {
			if parent != child {
				d.children["/"][parent] = true
			}
			break
		}
		child = parent
	}
}

func (d *driver) unlinkChild(p string) {
	parent := path.Dir(p)
	if set, ok := d.children[parent]; ok {
		delete(set, p)
	}
}

func (d *driver) GetContent(ctx context.Context, p string) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.get(p)
}

func (d *driver) get(p string) ([]byte, error) {
	normalized := normalize(p)
	c, err := pathCID(normalized)
	if err != nil {
		return nil, err
	}
	blk, err := d.bs.Get(context.Background(), c)
	if err != nil {
		if err == blockstore.ErrNotFound {
			return nil, storagedriver.PathNotFoundError{Path: p}
		}
		return nil, err
	}
	return blk.RawData(), nil
}

func (d *driver) PutContent(ctx context.Context, p string, contents []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	normalized := normalize(p)
	c, err := pathCID(normalized)
	if err != nil {
		return err
	}
	if err := d.putBlock(ctx, c, contents); err != nil {
		return err
	}
	d.linkChild(normalized)
	d.sizes[normalized] = int64(len(contents))
	d.modTimes[normalized] = time.Now()
	return nil
}

// putBlock stores contents under c, replacing any block already there. The
// blockstore skips a Put whose key it already holds, so an overwrite
// deletes the old block first.
func (d *driver) putBlock(ctx context.Context, c cid.Cid, contents []byte) error {
	blk, err := blocks.NewBlockWithCid(contents, c)
	if err != nil {
		return err
	}
	if has, err := d.bs.Has(ctx, c); err != nil {
		return err
	} else if has {
		if err := d.bs.DeleteBlock(ctx, c); err != nil {
			return err
		}
	}
	return d.bs.Put(ctx, blk)
}

func (d *driver) Reader(ctx context.Context, p string, offset int64) (io.ReadCloser, error) {
	if offset < 0 {
		return nil, storagedriver.InvalidOffsetError{Path: p, Offset: offset}
	}
	d.mu.RLock()
	contents, err := d.get(p)
	d.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if offset > int64(len(contents)) {
		return nil, storagedriver.InvalidOffsetError{Path: p, Offset: offset}
	}
	return nopCloser{strings.NewReader(string(contents[offset:]))}, nil
}

type nopCloser struct{ io.Reader }

func (nopCloser) Close() error { return nil }

func (d *driver) Writer(ctx context.Context, p string, appendToExisting bool) (storagedriver.FileWriter, error) {
	var buffer []byte
	if appendToExisting {
		d.mu.RLock()
		existing, _ := d.get(p)
		d.mu.RUnlock()
		buffer = append(buffer, existing...)
	}
	return &writer{d: d, path: normalize(p), buffer: buffer}, nil
}

func (d *driver) Stat(ctx context.Context, p string) (storagedriver.FileInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	normalized := normalize(p)
	if size, ok := d.sizes[normalized]; ok {
		return storagedriver.FileInfoInternal{FileInfoFields: storagedriver.FileInfoFields{
			Path:    p,
			Size:    size,
			ModTime: d.modTimes[normalized],
			IsDir:   false,
		}}, nil
	}
	if normalized == "/" || d.isKnownDir(normalized) {
		return storagedriver.FileInfoInternal{FileInfoFields: storagedriver.FileInfoFields{
			Path:  p,
			IsDir: true,
		}}, nil
	}
	return nil, storagedriver.PathNotFoundError{Path: p}
}

func (d *driver) isKnownDir(p string) bool {
	parent := path.Dir(p)
	if set, ok := d.children[parent]; ok {
		return set[p]
	}
	return false
}

func (d *driver) List(ctx context.Context, p string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	normalized := normalize(p)
	set, ok := d.children[normalized]
	if !ok {
		if _, isFile := d.sizes[normalized]; isFile {
			return nil, fmt.Errorf("ipfsblock: not a directory: %s", p)
		}
		return nil, storagedriver.PathNotFoundError{Path: p}
	}

	entries := make([]string, 0, len(set))
	for child := range set {
		entries = append(entries, child)
	}
	sort.Strings(entries)
	return entries, nil
}

func (d *driver) Move(ctx context.Context, sourcePath, destPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	src := normalize(sourcePath)
	dst := normalize(destPath)

	contents, err := d.get(src)
	if err != nil {
		return storagedriver.PathNotFoundError{Path: sourcePath}
	}
	c, err := pathCID(dst)
	if err != nil {
		return err
	}
	if err := d.putBlock(ctx, c, contents); err != nil {
		return err
	}
	d.linkChild(dst)
	d.sizes[dst] = int64(len(contents))
	d.modTimes[dst] = time.Now()

	if err := d.deleteLocked(ctx, src); err != nil {
		return err
	}
	return nil
}

func (d *driver) Delete(ctx context.Context, p string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deleteLocked(ctx, normalize(p))
}

func (d *driver) deleteLocked(ctx context.Context, normalized string) error {
	if _, isFile := d.sizes[normalized]; isFile {
		c, err := pathCID(normalized)
		if err != nil {
			return err
		}
		if err := d.bs.DeleteBlock(ctx, c); err != nil {
			return err
		}
		delete(d.sizes, normalized)
		delete(d.modTimes, normalized)
		d.unlinkChild(normalized)
		return nil
	}

	set, ok := d.children[normalized]
	if !ok {
		return storagedriver.PathNotFoundError{Path: normalized}
	}
	for child := range set {
		if err := d.deleteLocked(ctx, child); err != nil {
			return err
		}
	}
	delete(d.children, normalized)
	d.unlinkChild(normalized)
	return nil
}

func (d *driver) RedirectURL(*http.Request, string) (string, error) {
	return "", nil
}

func (d *driver) Walk(ctx context.Context, p string, f storagedriver.WalkFn, options ...func(*storagedriver.WalkOptions)) error {
	return storagedriver.WalkFallback(ctx, d, p, f, options...)
}

type writer struct {
	d         *driver
	path      string
	buffer    []byte
	closed    bool
	committed bool
	cancelled bool
}

func (w *writer) Write(p []byte) (int, error) {
	if w.closed || w.committed || w.cancelled {
		return 0, fmt.Errorf("ipfsblock: writer already closed")
	}
	w.buffer = append(w.buffer, p...)
	return len(p), nil
}

func (w *writer) Size() int64 {
	return int64(len(w.buffer))
}

func (w *writer) Close() error {
	if w.closed {
		return fmt.Errorf("ipfsblock: writer already closed")
	}
	w.closed = true
	if !w.committed && !w.cancelled {
		return w.flush()
	}
	return nil
}

func (w *writer) Cancel(ctx context.Context) error {
	if w.closed || w.committed {
		return fmt.Errorf("ipfsblock: writer already closed or committed")
	}
	w.cancelled = true
	return nil
}

func (w *writer) Commit(ctx context.Context) error {
	if w.closed || w.committed || w.cancelled {
		return fmt.Errorf("ipfsblock: writer already closed")
	}
	w.committed = true
	return w.flush()
}

func (w *writer) flush() error {
	return w.d.PutContent(context.Background(), w.path, w.buffer)
}
