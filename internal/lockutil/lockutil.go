//go:build unix

// Package lockutil provides the root directory mutual-exclusion primitive
// spec.md §5 requires: the graph, distribution and runtime registries are
// process-wide singletons, not safe for concurrent invocation, so every
// mutation is wrapped in an exclusive flock(2) on the data root.
package lockutil

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/containerd/log"
)

// WithDirLock runs fn while holding an exclusive lock on dir.
func WithDirLock(dir string, fn func() error) error {
	dirFile, err := Lock(dir)
	if err != nil {
		return err
	}
	defer func() {
		if err := Unlock(dirFile); err != nil {
			log.L.WithError(err).Errorf("failed to unlock %q", dir)
		}
	}()
	return fn()
}

// Lock opens dir and takes an exclusive flock on it, returning the open file
// so the caller can release it later with Unlock.
func Lock(dir string) (*os.File, error) {
	dirFile, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	if err := flock(dirFile, unix.LOCK_EX); err != nil {
		dirFile.Close()
		return nil, fmt.Errorf("failed to lock %q: %w", dir, err)
	}
	return dirFile, nil
}

// Unlock releases a lock acquired with Lock and closes the underlying file.
func Unlock(locked *os.File) error {
	defer locked.Close()
	return flock(locked, unix.LOCK_UN)
}

func flock(f *os.File, flags int) error {
	fd := int(f.Fd())
	for {
		err := unix.Flock(fd, flags)
		if err == nil || err != unix.EINTR {
			return err
		}
	}
}
