// Package driver defines the StorageDriver interface used by the CAS store
// to read and write the byte ranges that make up blobs, trees, manifests and
// aliases. A driver knows nothing about digests or content addressing; it
// only moves bytes between a path namespace and the caller.
package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"time"
)

// PathRegexp is the regular expression which all storage driver paths must
// match.
var PathRegexp = regexp.MustCompile(`^(/[A-Za-z0-9._-]+)+$`)

// StorageDriver is the minimal interface a backing store must provide.
// The CAS store is written against this interface only; the filesystem,
// inmemory and ipfsblock drivers implement it.
type StorageDriver interface {
	// Name returns the human-readable name of the driver.
	Name() string

	// GetContent retrieves the content stored at "path" as a []byte.
	GetContent(ctx context.Context, path string) ([]byte, error)

	// PutContent stores the []byte content at a location designated by
	// "path". PutContent must write atomically: a reader that observes the
	// file at its final path must see fully written bytes.
	PutContent(ctx context.Context, path string, content []byte) error

	// Reader retrieves an io.ReadCloser for the content stored at "path"
	// with a given byte offset.
	Reader(ctx context.Context, path string, offset int64) (io.ReadCloser, error)

	// Writer returns a FileWriter which will store the content written to
	// it at "path", replacing any existing content, or appending to it if
	// append is true.
	Writer(ctx context.Context, path string, append bool) (FileWriter, error)

	// Stat retrieves the FileInfo for the given path.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// List returns a list of the objects that are direct descendants of
	// the given path.
	List(ctx context.Context, path string) ([]string, error)

	// Move moves an object stored at sourcePath to destPath, removing the
	// original object.
	Move(ctx context.Context, sourcePath string, destPath string) error

	// Delete recursively deletes all objects stored at "path" and its
	// subpaths.
	Delete(ctx context.Context, path string) error

	// Walk traverses the filesystem rooted at path, calling f on each file
	// and directory.
	Walk(ctx context.Context, path string, f WalkFn, options ...func(*WalkOptions)) error
}

// FileWriter is a file-like writer to one path of the backing store.
// Commit flushes everything written so far to the backing store, and Close
// flushes as well. Cancel discards everything written so far.
type FileWriter interface {
	io.WriteCloser

	// Size returns the number of bytes written to this FileWriter.
	Size() int64

	// Cancel removes any written content from this FileWriter.
	Cancel(ctx context.Context) error

	// Commit flushes all content written to this FileWriter and makes it
	// visible to subsequent calls to Stat and Reader.
	Commit(ctx context.Context) error
}

// FileInfo returns information about a given path. Some fields may be
// empty if the driver cannot provide them.
type FileInfo interface {
	// Path provides the full path of the target of this file info.
	Path() string

	// Size returns current length in bytes of the file. Meaningless if
	// IsDir returns true.
	Size() int64

	// ModTime returns the modification time of the file.
	ModTime() time.Time

	// IsDir returns true if the path is a directory.
	IsDir() bool
}

// FileInfoFields is a fully populated FileInfoInternal, used to
// programmatically construct a FileInfo for drivers that don't otherwise
// have a native type for it.
type FileInfoFields struct {
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// FileInfoInternal implements FileInfo from a set of fields.
type FileInfoInternal struct {
	FileInfoFields
}

var _ FileInfo = FileInfoInternal{}

func (fi FileInfoInternal) Path() string       { return fi.FileInfoFields.Path }
func (fi FileInfoInternal) Size() int64        { return fi.FileInfoFields.Size }
func (fi FileInfoInternal) ModTime() time.Time { return fi.FileInfoFields.ModTime }
func (fi FileInfoInternal) IsDir() bool        { return fi.FileInfoFields.IsDir }

// WalkOptions provides options to the Walk function.
type WalkOptions struct {
	// StartAfterHint instructs Walk to only consider paths lexically after
	// this one. It is a hint: implementations are free to ignore it, but
	// must never skip a path that sorts after the hint.
	StartAfterHint string
}

// WithStartAfterHint returns an option which sets the StartAfterHint field
// of a WalkOptions.
func WithStartAfterHint(hint string) func(*WalkOptions) {
	return func(o *WalkOptions) {
		o.StartAfterHint = hint
	}
}

// PathNotFoundError is returned when operating on a path that does not
// exist.
type PathNotFoundError struct {
	Path       string
	DriverName string
}

func (e PathNotFoundError) Error() string {
	return fmt.Sprintf("%s: path not found: %s", e.DriverName, e.Path)
}

// InvalidPathError is returned when the provided path is malformed.
type InvalidPathError struct {
	Path       string
	DriverName string
}

func (e InvalidPathError) Error() string {
	return fmt.Sprintf("%s: invalid path: %s", e.DriverName, e.Path)
}

// InvalidOffsetError is returned when attempting to read or write from an
// invalid offset.
type InvalidOffsetError struct {
	Path       string
	Offset     int64
	DriverName string
}

func (e InvalidOffsetError) Error() string {
	return fmt.Sprintf("%s: invalid offset for path %s: %d", e.DriverName, e.Path, e.Offset)
}

// Error records an error and the operation and driver that caused it.
type Error struct {
	DriverName string
	Detail     error
}

func (e Error) Error() string {
	return fmt.Sprintf("%s: %s", e.DriverName, e.Detail)
}

// MarshalJSON encodes Error losing the original Detail type, which is
// usually not JSON-serializable on its own.
func (e Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		DriverName string `json:"driver"`
		Detail     string `json:"detail"`
	}{
		DriverName: e.DriverName,
		Detail:     e.Detail.Error(),
	})
}

// Errors collects multiple errors encountered while operating against a
// single driver.
type Errors struct {
	DriverName string
	Errs       []error
}

func (es Errors) Error() string {
	switch len(es.Errs) {
	case 0:
		return fmt.Sprintf("%s: <nil>", es.DriverName)
	case 1:
		return fmt.Sprintf("%s: %s", es.DriverName, es.Errs[0])
	default:
		msg := fmt.Sprintf("%s: errors:\n", es.DriverName)
		for _, err := range es.Errs {
			msg += err.Error() + "\n"
		}
		return msg
	}
}

// MarshalJSON encodes Errors as a driver name plus a list of error
// message strings.
func (es Errors) MarshalJSON() ([]byte, error) {
	details := make([]string, len(es.Errs))
	for i, err := range es.Errs {
		details[i] = err.Error()
	}
	return json.Marshal(struct {
		DriverName string   `json:"driver"`
		Details    []string `json:"details"`
	}{
		DriverName: es.DriverName,
		Details:    details,
	})
}
