package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LinkMethod names the mechanism Materialize actually used.
type LinkMethod string

const (
	LinkSymlink  LinkMethod = "symlink"
	LinkHardlink LinkMethod = "hardlink"
	LinkCopy     LinkMethod = "copy"
)

// localRooted is implemented by storage drivers (the filesystem driver)
// that can hand back an absolute on-disk path for a driver path, enabling
// the symlink/hardlink fast paths. Drivers that can't (inmemory, a remote
// blockstore) fall back to a plain copy through Reader/Writer.
type localRooted interface {
	RootDirectory() string
}

func (s *Store) localPath(driverPath string) (string, bool) {
	lr, ok := s.driver.(localRooted)
	if !ok {
		return "", false
	}
	return filepath.Join(lr.RootDirectory(), driverPath), true
}

// Materialize reconstructs the object named by typedID at dst, preferring
// symlink, then hardlink, then copy, falling through silently on failure.
// If mode is non-empty it overrides the chain and that single mode is
// forced (an error if it fails rather than falling through).
func (s *Store) Materialize(ctx context.Context, typedID, dst string, mode LinkMethod) (LinkMethod, error) {
	switch {
	case len(typedID) > len("blob:") && typedID[:5] == "blob:":
		blobID := typedID[5:]
		p, err := BlobPath(blobID)
		if err != nil {
			return "", err
		}
		return s.materializeOne(ctx, p, dst, mode)

	case len(typedID) > len("tree:") && typedID[:5] == "tree:":
		entries, err := s.ReadTree(ctx, typedID)
		if err != nil {
			return "", err
		}
		if err := os.MkdirAll(dst, 0o777); err != nil {
			return "", err
		}
		var used LinkMethod
		for _, e := range entries {
			p, err := BlobPath(e.Blob)
			if err != nil {
				return "", err
			}
			out := filepath.Join(dst, e.Path)
			if err := os.MkdirAll(filepath.Dir(out), 0o777); err != nil {
				return "", err
			}
			method, err := s.materializeOne(ctx, p, out, mode)
			if err != nil {
				return "", err
			}
			if used == "" {
				used = method
			}
		}
		if used == "" {
			used = LinkCopy
		}
		return used, nil

	default:
		return "", fmt.Errorf("store: cannot materialize id: %s", typedID)
	}
}

// materializeOne links or copies a single blob at driver path srcPath into
// dst. removeExisting mirrors the reference's "simple behavior": if dst
// already exists it is removed first.
func (s *Store) materializeOne(ctx context.Context, srcDriverPath, dst string, mode LinkMethod) (LinkMethod, error) {
	if err := removeExisting(dst); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o777); err != nil {
		return "", err
	}

	srcLocal, haveLocal := s.localPath(srcDriverPath)

	if mode != "" {
		switch mode {
		case LinkSymlink:
			if !haveLocal {
				return "", fmt.Errorf("store: symlink materialization requires a local-rooted backend")
			}
			if err := os.Symlink(srcLocal, dst); err != nil {
				return "", err
			}
			return LinkSymlink, nil
		case LinkHardlink:
			if !haveLocal {
				return "", fmt.Errorf("store: hardlink materialization requires a local-rooted backend")
			}
			if err := os.Link(srcLocal, dst); err != nil {
				return "", err
			}
			return LinkHardlink, nil
		case LinkCopy:
			return LinkCopy, s.copyFromDriver(ctx, srcDriverPath, dst)
		default:
			return "", fmt.Errorf("store: unknown materialization mode %q", mode)
		}
	}

	if haveLocal {
		if err := os.Symlink(srcLocal, dst); err == nil {
			return LinkSymlink, nil
		}
		if err := os.Link(srcLocal, dst); err == nil {
			return LinkHardlink, nil
		}
	}
	return LinkCopy, s.copyFromDriver(ctx, srcDriverPath, dst)
}

func (s *Store) copyFromDriver(ctx context.Context, srcDriverPath, dst string) error {
	r, err := s.driver.Reader(ctx, srcDriverPath, 0)
	if err != nil {
		return err
	}
	defer r.Close()

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return err
	}
	return f.Sync()
}

func removeExisting(dst string) error {
	info, err := os.Lstat(dst)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.IsDir() && info.Mode()&os.ModeSymlink == 0 {
		return os.RemoveAll(dst)
	}
	return os.Remove(dst)
}
