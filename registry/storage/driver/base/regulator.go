package base

import (
	"context"
	"fmt"
	"io"

	storagedriver "github.com/distribution/repro-cas/registry/storage/driver"
)

// regulator wraps a StorageDriver and restricts the number of concurrent
// calls made against it, bounding the number of open file descriptors a
// single commit/materialize fan-out can hold at once.
type regulator struct {
	storagedriver.StorageDriver
	limit chan struct{}
}

// NewRegulator wraps the given driver so that at most limit calls are in
// flight against it concurrently. A limit of zero means unlimited.
func NewRegulator(driver storagedriver.StorageDriver, limit uint64) storagedriver.StorageDriver {
	if limit == 0 {
		return driver
	}

	return &regulator{
		StorageDriver: driver,
		limit:         make(chan struct{}, limit),
	}
}

func (r *regulator) enter() func() {
	r.limit <- struct{}{}
	return func() { <-r.limit }
}

func (r *regulator) GetContent(ctx context.Context, path string) ([]byte, error) {
	defer r.enter()()
	return r.StorageDriver.GetContent(ctx, path)
}

func (r *regulator) PutContent(ctx context.Context, path string, content []byte) error {
	defer r.enter()()
	return r.StorageDriver.PutContent(ctx, path, content)
}

func (r *regulator) Reader(ctx context.Context, path string, offset int64) (io.ReadCloser, error) {
	defer r.enter()()
	return r.StorageDriver.Reader(ctx, path, offset)
}

func (r *regulator) Writer(ctx context.Context, path string, append bool) (storagedriver.FileWriter, error) {
	defer r.enter()()
	return r.StorageDriver.Writer(ctx, path, append)
}

func (r *regulator) Stat(ctx context.Context, path string) (storagedriver.FileInfo, error) {
	defer r.enter()()
	return r.StorageDriver.Stat(ctx, path)
}

func (r *regulator) List(ctx context.Context, path string) ([]string, error) {
	defer r.enter()()
	return r.StorageDriver.List(ctx, path)
}

func (r *regulator) Move(ctx context.Context, sourcePath, destPath string) error {
	defer r.enter()()
	return r.StorageDriver.Move(ctx, sourcePath, destPath)
}

func (r *regulator) Delete(ctx context.Context, path string) error {
	defer r.enter()()
	return r.StorageDriver.Delete(ctx, path)
}

// GetLimitFromParameter takes a parameter and converts it to a limit. If
// the parameter is not set (nil), the default limit is used. Limits less
// than min are set to min.
func GetLimitFromParameter(param interface{}, min, def uint64) (uint64, error) {
	limit := def
	if param != nil {
		v, ok := param.(uint64)
		if !ok {
			s := fmt.Sprint(param)
			if _, err := fmt.Sscan(s, &v); err != nil {
				return 0, fmt.Errorf("parameter must be an integer, '%v' invalid", param)
			}
		}

		if v < min {
			v = min
		}
		limit = v
	}

	return limit, nil
}
