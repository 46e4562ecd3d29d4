// Package base provides a base implementation of the storage driver that
// can be used to implement common checks. The goal is to increase the
// amount of code sharing.
//
// The canonical approach to use this class is to embed in the exported
// driver struct such that calls are proxied through this implementation.
// First, declare the internal driver, as follows:
//
//	type driver struct { ... internal ...}
//
// The resulting type should implement StorageDriver such that it can be
// the target of a Base struct. The exported type can then be declared as
// follows:
//
//	type Driver struct {
//		Base
//	}
//
// Because Driver embeds Base, it effectively implements Base. If the
// driver needs to intercept a call before going to base, Driver should
// implement that method. Effectively, Driver can intercept calls coming
// in while base implements the actual logic.
package base

import (
	"context"
	"io"
	"time"

	"github.com/distribution/repro-cas/internal/dcontext"
	storagedriver "github.com/distribution/repro-cas/registry/storage/driver"
)

// Base provides a wrapper around a storagedriver implementation that
// provides common path checking and duration logging.
type Base struct {
	storagedriver.StorageDriver
}

func durationDebugLog(ctx context.Context, startedAt time.Time, methodName string) {
	dcontext.GetLoggerWithField(ctx, "duration", time.Since(startedAt)).Debug("storage.Driver." + methodName)
}

// GetContent wraps GetContent of underlying storage driver.
func (base *Base) GetContent(ctx context.Context, path string) ([]byte, error) {
	if !storagedriver.PathRegexp.MatchString(path) {
		return nil, storagedriver.InvalidPathError{Path: path, DriverName: base.Name()}
	}

	start := time.Now()
	defer func() { durationDebugLog(ctx, start, "GetContent") }()

	return base.StorageDriver.GetContent(ctx, path)
}

// PutContent wraps PutContent of underlying storage driver.
func (base *Base) PutContent(ctx context.Context, path string, content []byte) error {
	if !storagedriver.PathRegexp.MatchString(path) {
		return storagedriver.InvalidPathError{Path: path, DriverName: base.Name()}
	}

	start := time.Now()
	defer func() { durationDebugLog(ctx, start, "PutContent") }()

	return base.StorageDriver.PutContent(ctx, path, content)
}

// Reader wraps Reader of underlying storage driver.
func (base *Base) Reader(ctx context.Context, path string, offset int64) (io.ReadCloser, error) {
	if offset < 0 {
		return nil, storagedriver.InvalidOffsetError{Path: path, Offset: offset, DriverName: base.Name()}
	}

	if !storagedriver.PathRegexp.MatchString(path) {
		return nil, storagedriver.InvalidPathError{Path: path, DriverName: base.Name()}
	}

	start := time.Now()
	defer func() { durationDebugLog(ctx, start, "Reader") }()

	return base.StorageDriver.Reader(ctx, path, offset)
}

// Writer wraps Writer of underlying storage driver.
func (base *Base) Writer(ctx context.Context, path string, append bool) (storagedriver.FileWriter, error) {
	if !storagedriver.PathRegexp.MatchString(path) {
		return nil, storagedriver.InvalidPathError{Path: path, DriverName: base.Name()}
	}

	start := time.Now()
	defer func() { durationDebugLog(ctx, start, "Writer") }()

	return base.StorageDriver.Writer(ctx, path, append)
}

// Stat wraps Stat of underlying storage driver.
func (base *Base) Stat(ctx context.Context, path string) (storagedriver.FileInfo, error) {
	if !storagedriver.PathRegexp.MatchString(path) && path != "/" {
		return nil, storagedriver.InvalidPathError{Path: path, DriverName: base.Name()}
	}

	start := time.Now()
	defer func() { durationDebugLog(ctx, start, "Stat") }()

	return base.StorageDriver.Stat(ctx, path)
}

// List wraps List of underlying storage driver.
func (base *Base) List(ctx context.Context, path string) ([]string, error) {
	if !storagedriver.PathRegexp.MatchString(path) && path != "/" {
		return nil, storagedriver.InvalidPathError{Path: path, DriverName: base.Name()}
	}

	start := time.Now()
	defer func() { durationDebugLog(ctx, start, "List") }()

	return base.StorageDriver.List(ctx, path)
}

// Move wraps Move of underlying storage driver.
func (base *Base) Move(ctx context.Context, sourcePath string, destPath string) error {
	if !storagedriver.PathRegexp.MatchString(sourcePath) {
		return storagedriver.InvalidPathError{Path: sourcePath, DriverName: base.Name()}
	} else if !storagedriver.PathRegexp.MatchString(destPath) {
		return storagedriver.InvalidPathError{Path: destPath, DriverName: base.Name()}
	}

	start := time.Now()
	defer func() { durationDebugLog(ctx, start, "Move") }()

	return base.StorageDriver.Move(ctx, sourcePath, destPath)
}

// Delete wraps Delete of underlying storage driver.
func (base *Base) Delete(ctx context.Context, path string) error {
	if !storagedriver.PathRegexp.MatchString(path) {
		return storagedriver.InvalidPathError{Path: path, DriverName: base.Name()}
	}

	start := time.Now()
	defer func() { durationDebugLog(ctx, start, "Delete") }()

	return base.StorageDriver.Delete(ctx, path)
}

// Walk wraps Walk of underlying storage driver.
func (base *Base) Walk(ctx context.Context, path string, f storagedriver.WalkFn, options ...func(*storagedriver.WalkOptions)) error {
	if !storagedriver.PathRegexp.MatchString(path) && path != "/" {
		return storagedriver.InvalidPathError{Path: path, DriverName: base.Name()}
	}

	start := time.Now()
	defer func() { durationDebugLog(ctx, start, "Walk") }()

	return base.StorageDriver.Walk(ctx, path, f, options...)
}
