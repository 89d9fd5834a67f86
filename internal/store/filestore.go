package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/guillermomolina/oci-graph/internal/lockutil"
)

const (
	defaultFilePerm = 0o600
	defaultDirPerm  = 0o700
)

// New returns a filesystem-backed Store rooted at rootPath. Atomicity of Set
// is provided by writing to a sibling temp file and renaming it over the
// destination, which is atomic on the same filesystem on POSIX (and
// best-effort on Windows).
func New(rootPath string, dirPerm, filePerm os.FileMode) (Store, error) {
	if rootPath == "" {
		return nil, errors.Join(ErrInvalidArgument, errors.New("store root path cannot be empty"))
	}
	if dirPerm == 0 {
		dirPerm = defaultDirPerm
	}
	if filePerm == 0 {
		filePerm = defaultFilePerm
	}
	if err := os.MkdirAll(rootPath, dirPerm); err != nil {
		return nil, errors.Join(ErrSystemFailure, err)
	}
	return &fileStore{
		dir:      rootPath,
		dirPerm:  dirPerm,
		filePerm: filePerm,
	}, nil
}

type fileStore struct {
	mutex    sync.RWMutex
	dir      string
	locked   *os.File
	dirPerm  os.FileMode
	filePerm os.FileMode
}

func (fs *fileStore) Lock() error {
	fs.mutex.Lock()
	dirFile, err := lockutil.Lock(fs.dir)
	if err != nil {
		fs.mutex.Unlock()
		return errors.Join(ErrLockFailure, err)
	}
	fs.locked = dirFile
	return nil
}

func (fs *fileStore) Release() error {
	if fs.locked == nil {
		return errors.Join(ErrFaultyImplementation, fmt.Errorf("store %q was not locked", fs.dir))
	}
	defer fs.mutex.Unlock()
	defer func() { fs.locked = nil }()
	if err := lockutil.Unlock(fs.locked); err != nil {
		return errors.Join(ErrLockFailure, err)
	}
	return nil
}

func (fs *fileStore) WithLock(fn func() error) (err error) {
	if err = fs.Lock(); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(fs.Release(), err)
	}()
	return fn()
}

func (fs *fileStore) requireLock() error {
	if fs.locked == nil {
		return errors.Join(ErrFaultyImplementation, errors.New("operation requires the store to be locked"))
	}
	return nil
}

func (fs *fileStore) Get(key ...string) ([]byte, error) {
	if err := fs.requireLock(); err != nil {
		return nil, err
	}
	if err := validateKey(key...); err != nil {
		return nil, err
	}
	path := filepath.Join(append([]string{fs.dir}, key...)...)
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Join(ErrNotFound, fmt.Errorf("%q does not exist", filepath.Join(key...)))
		}
		return nil, errors.Join(ErrSystemFailure, err)
	}
	if st.IsDir() {
		return nil, errors.Join(ErrFaultyImplementation, fmt.Errorf("%q is a directory, not a value", path))
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Join(ErrSystemFailure, err)
	}
	return content, nil
}

func (fs *fileStore) Exists(key ...string) (bool, error) {
	if err := validateKey(key...); err != nil {
		return false, err
	}
	path := filepath.Join(append([]string{fs.dir}, key...)...)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, errors.Join(ErrSystemFailure, err)
	}
	return true, nil
}

func (fs *fileStore) Set(data []byte, key ...string) error {
	if err := fs.requireLock(); err != nil {
		return err
	}
	if err := validateKey(key...); err != nil {
		return err
	}
	fileName := key[len(key)-1]
	parent := fs.dir
	if len(key) > 1 {
		parent = filepath.Join(append([]string{parent}, key[:len(key)-1]...)...)
		if err := os.MkdirAll(parent, fs.dirPerm); err != nil {
			return errors.Join(ErrSystemFailure, err)
		}
	}
	dest := filepath.Join(parent, fileName)
	if st, err := os.Stat(dest); err == nil && st.IsDir() {
		return errors.Join(ErrFaultyImplementation, fmt.Errorf("%q is a directory, cannot overwrite with a value", dest))
	}
	return atomicWrite(parent, fileName, fs.filePerm, data)
}

func (fs *fileStore) List(key ...string) ([]string, error) {
	if err := fs.requireLock(); err != nil {
		return nil, err
	}
	for _, k := range key {
		if err := validateKeyComponent(k); err != nil {
			return nil, err
		}
	}
	path := filepath.Join(append([]string{fs.dir}, key...)...)
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Join(ErrNotFound, err)
		}
		return nil, errors.Join(ErrSystemFailure, err)
	}
	if !st.IsDir() {
		return nil, errors.Join(ErrFaultyImplementation, fmt.Errorf("%q is not a group", path))
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.Join(ErrSystemFailure, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".temp.") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func (fs *fileStore) Delete(key ...string) error {
	if err := fs.requireLock(); err != nil {
		return err
	}
	if err := validateKey(key...); err != nil {
		return err
	}
	path := filepath.Join(append([]string{fs.dir}, key...)...)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errors.Join(ErrNotFound, err)
		}
		return errors.Join(ErrSystemFailure, err)
	}
	if err := os.RemoveAll(path); err != nil {
		return errors.Join(ErrSystemFailure, err)
	}
	return nil
}

func (fs *fileStore) Location(key ...string) (string, error) {
	if err := validateKey(key...); err != nil {
		return "", err
	}
	return filepath.Join(append([]string{fs.dir}, key...)...), nil
}

func validateKeyComponent(component string) error {
	if len(component) > 255 {
		return errors.Join(ErrInvalidArgument, errors.New("identifiers must be shorter than 256 characters"))
	}
	if strings.TrimSpace(component) == "" {
		return errors.Join(ErrInvalidArgument, errors.New("identifier cannot be empty"))
	}
	if strings.ContainsAny(component, "\x00") {
		return errors.Join(ErrInvalidArgument, errors.New("identifier contains a NUL byte"))
	}
	return nil
}

func validateKey(key ...string) error {
	if len(key) == 0 {
		return errors.Join(ErrInvalidArgument, errors.New("a key must be provided"))
	}
	for _, k := range key {
		if err := validateKeyComponent(k); err != nil {
			return err
		}
	}
	return nil
}

func atomicWrite(parent, fileName string, perm os.FileMode, data []byte) error {
	dest := filepath.Join(parent, fileName)
	temp := filepath.Join(parent, ".temp."+fileName)
	if err := os.WriteFile(temp, data, perm); err != nil {
		return errors.Join(ErrSystemFailure, err)
	}
	if err := os.Rename(temp, dest); err != nil {
		return errors.Join(ErrSystemFailure, err)
	}
	return nil
}
