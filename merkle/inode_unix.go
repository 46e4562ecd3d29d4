//go:build !windows

package merkle

import (
	"os"
	"syscall"
)

type inodeKey struct {
	dev, ino uint64
}

// statInodeKey extracts a (device, inode) pair from a FileInfo for symlink
// cycle detection. ok is false if the platform's Sys() value doesn't carry
// this information.
func statInodeKey(info os.FileInfo) (inodeKey, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return inodeKey{}, false
	}
	return inodeKey{dev: uint64(st.Dev), ino: st.Ino}, true
}
