//go:build windows

package merkle

import "os"

type inodeKey struct {
	dev, ino uint64
}

// statInodeKey has no portable implementation on Windows via os.FileInfo;
// cycle detection is skipped there rather than attempted unsoundly.
func statInodeKey(info os.FileInfo) (inodeKey, bool) {
	return inodeKey{}, false
}
