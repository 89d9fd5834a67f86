// Package namestore enforces the uniqueness of the human-readable container
// name spec.md §3 requires (Container.name, "unique human name"), the same
// way the teacher's namestore enforces uniqueness of container/volume/network
// names for nerdctl: one file per acquired name, holding the owning id,
// guarded by an exclusive directory lock so two concurrent invocations can't
// both win the same name.
package namestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/containerd/errdefs"

	"github.com/guillermomolina/oci-graph/internal/lockutil"
)

// ErrNameStore wraps every error this package returns.
var ErrNameStore = errors.New("namestore")

// NameStore reserves and releases unique names for a fixed namespace (e.g.
// "containers").
type NameStore interface {
	Acquire(name, id string) error
	Release(name, id string) error
}

type nameStore struct {
	dir string
}

// New returns a NameStore rooted at dataRoot/names/<namespace>.
func New(dataRoot, namespace string) (NameStore, error) {
	if strings.TrimSpace(namespace) == "" {
		return nil, errors.Join(ErrNameStore, errdefs.ErrInvalidArgument, errors.New("namespace cannot be empty"))
	}
	dir := filepath.Join(dataRoot, "names", namespace)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Join(ErrNameStore, err)
	}
	return &nameStore{dir: dir}, nil
}

func (s *nameStore) Acquire(name, id string) error {
	if err := verifyName(name); err != nil {
		return err
	}
	return lockutil.WithDirLock(s.dir, func() error {
		fileName := filepath.Join(s.dir, name)
		if b, err := os.ReadFile(fileName); err == nil {
			return errors.Join(ErrNameStore, errdefs.ErrAlreadyExists,
				fmt.Errorf("name %q is already used by id %q", name, string(b)))
		}
		return os.WriteFile(fileName, []byte(id), 0o600)
	})
}

func (s *nameStore) Release(name, id string) error {
	if name == "" {
		return nil
	}
	if err := verifyName(name); err != nil {
		return err
	}
	return lockutil.WithDirLock(s.dir, func() error {
		fileName := filepath.Join(s.dir, name)
		b, err := os.ReadFile(fileName)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return errors.Join(ErrNameStore, err)
		}
		if owner := strings.TrimSpace(string(b)); owner != id {
			return errors.Join(ErrNameStore, errdefs.ErrFailedPrecondition,
				fmt.Errorf("name %q is owned by %q, not %q", name, owner, id))
		}
		return os.Remove(fileName)
	})
}

func verifyName(name string) error {
	if name == "" {
		return errors.Join(ErrNameStore, errdefs.ErrInvalidArgument, errors.New("name is empty"))
	}
	if strings.ContainsAny(name, "/:\\") {
		return errors.Join(ErrNameStore, errdefs.ErrInvalidArgument, fmt.Errorf("invalid name %q", name))
	}
	return nil
}
