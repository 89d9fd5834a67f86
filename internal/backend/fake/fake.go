// Package fake implements backend.Backend over a plain directory tree
// instead of a real ZFS pool, so the graph driver and everything above it
// can be exercised in unit tests without a ZFS-capable host. Snapshots are
// simulated by copying the dataset's tree aside; clones likewise copy
// rather than share blocks, since only the external behaviour (not
// storage efficiency) is under test here.
package fake

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/guillermomolina/oci-graph/internal/backend"
)

// Backend is a Backend implementation rooted at a single temp directory.
type Backend struct {
	mu   sync.Mutex
	root string

	// datasets maps a dataset name to its working directory.
	datasets map[string]string
	// snapshots maps "dataset@tag" to a frozen copy of the dataset's tree
	// at the time the snapshot was taken.
	snapshots map[string]string
	// mountpoints maps a dataset name to its current mountpoint, distinct
	// from its backing directory so Mount/rename semantics can be tested.
	mountpoints map[string]string
	readonly    map[string]bool
}

// New returns a Backend that stores all of its state under root.
func New(root string) *Backend {
	return &Backend{
		root:        root,
		datasets:    map[string]string{},
		snapshots:   map[string]string{},
		mountpoints: map[string]string{},
		readonly:    map[string]bool{},
	}
}

func (b *Backend) Name() string { return "fake" }

func (b *Backend) datasetDir(name string) string {
	return filepath.Join(b.root, "datasets", strings.ReplaceAll(name, "/", "_"))
}

func (b *Backend) Create(_ context.Context, name, mountpoint, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.datasets[name]; ok {
		return fmt.Errorf("%w: dataset %q already exists", backend.ErrBackend, name)
	}
	dir := b.datasetDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating %q: %v", backend.ErrBackend, name, err)
	}
	b.datasets[name] = dir
	b.mountpoints[name] = firstNonEmpty(mountpoint, dir)
	return nil
}

func (b *Backend) Clone(_ context.Context, name, sourceSnapshot, mountpoint string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	src, ok := b.snapshots[sourceSnapshot]
	if !ok {
		return fmt.Errorf("%w: snapshot %q not found", backend.ErrBackend, sourceSnapshot)
	}
	dir := b.datasetDir(name)
	if err := copyTree(src, dir); err != nil {
		return fmt.Errorf("%w: cloning %q from %q: %v", backend.ErrBackend, name, sourceSnapshot, err)
	}
	b.datasets[name] = dir
	b.mountpoints[name] = firstNonEmpty(mountpoint, dir)
	return nil
}

func (b *Backend) Destroy(_ context.Context, name string, recursive bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	dir, ok := b.datasets[name]
	if !ok {
		return fmt.Errorf("%w: dataset %q not found", backend.ErrBackend, name)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("%w: destroying %q: %v", backend.ErrBackend, name, err)
	}
	delete(b.datasets, name)
	delete(b.mountpoints, name)
	delete(b.readonly, name)
	if recursive {
		prefix := name + "@"
		for snap := range b.snapshots {
			if strings.HasPrefix(snap, prefix) {
				os.RemoveAll(b.snapshots[snap])
				delete(b.snapshots, snap)
			}
		}
	}
	return nil
}

func (b *Backend) Snapshot(_ context.Context, dataset, tag string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	dir, ok := b.datasets[dataset]
	if !ok {
		return fmt.Errorf("%w: dataset %q not found", backend.ErrBackend, dataset)
	}
	snapName := dataset + "@" + tag
	snapDir := filepath.Join(b.root, "snapshots", strings.ReplaceAll(snapName, "/", "_"))
	if err := copyTree(dir, snapDir); err != nil {
		return fmt.Errorf("%w: snapshotting %q: %v", backend.ErrBackend, snapName, err)
	}
	b.snapshots[snapName] = snapDir
	return nil
}

func (b *Backend) Rename(_ context.Context, old, newName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	dir, ok := b.datasets[old]
	if !ok {
		return fmt.Errorf("%w: dataset %q not found", backend.ErrBackend, old)
	}
	delete(b.datasets, old)
	b.datasets[newName] = dir
	if mp, ok := b.mountpoints[old]; ok {
		delete(b.mountpoints, old)
		b.mountpoints[newName] = mp
	}
	if ro, ok := b.readonly[old]; ok {
		delete(b.readonly, old)
		b.readonly[newName] = ro
	}
	for snap, snapDir := range b.snapshots {
		if strings.HasPrefix(snap, old+"@") {
			delete(b.snapshots, snap)
			b.snapshots[newName+strings.TrimPrefix(snap, old)] = snapDir
		}
	}
	return nil
}

func (b *Backend) Set(_ context.Context, dataset string, props backend.Properties) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.datasets[dataset]; !ok {
		return fmt.Errorf("%w: dataset %q not found", backend.ErrBackend, dataset)
	}
	if props.Mountpoint != nil {
		b.mountpoints[dataset] = *props.Mountpoint
	}
	if props.Readonly != nil {
		b.readonly[dataset] = *props.Readonly
	}
	return nil
}

func (b *Backend) Get(_ context.Context, dataset, property string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.datasets[dataset]; !ok {
		return "", fmt.Errorf("%w: dataset %q not found", backend.ErrBackend, dataset)
	}
	switch property {
	case "mountpoint":
		return b.mountpoints[dataset], nil
	case "readonly":
		if b.readonly[dataset] {
			return "on", nil
		}
		return "off", nil
	default:
		return "-", nil
	}
}

func (b *Backend) Mountpoint(ctx context.Context, dataset string) (string, error) {
	return b.Get(ctx, dataset, "mountpoint")
}

func (b *Backend) UsedBytes(_ context.Context, dataset string) (int64, error) {
	b.mu.Lock()
	dir, ok := b.datasets[dataset]
	b.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: dataset %q not found", backend.ErrBackend, dataset)
	}
	var size int64
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: walking %q: %v", backend.ErrBackend, dataset, err)
	}
	return size, nil
}

// Diff compares two previously taken snapshots tree-for-tree. originSnapshot
// may be empty, meaning "diff against nothing".
func (b *Backend) Diff(_ context.Context, finalSnapshot, originSnapshot string) ([]backend.Change, error) {
	b.mu.Lock()
	finalDir, finalOK := b.snapshots[finalSnapshot]
	var originDir string
	originOK := true
	if originSnapshot != "" {
		originDir, originOK = b.snapshots[originSnapshot]
	}
	b.mu.Unlock()
	if !finalOK {
		return nil, fmt.Errorf("%w: snapshot %q not found", backend.ErrBackend, finalSnapshot)
	}
	if !originOK {
		return nil, fmt.Errorf("%w: snapshot %q not found", backend.ErrBackend, originSnapshot)
	}

	finalPaths, err := relPaths(finalDir)
	if err != nil {
		return nil, err
	}
	var originPaths []string
	originSet := map[string]bool{}
	if originDir != "" {
		originPaths, err = relPaths(originDir)
		if err != nil {
			return nil, err
		}
		for _, p := range originPaths {
			originSet[p] = true
		}
	}

	var changes []backend.Change
	for _, p := range finalPaths {
		finalInfo, err := os.Lstat(filepath.Join(finalDir, p))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", backend.ErrBackend, err)
		}
		if !originSet[p] {
			changes = append(changes, backend.Change{Kind: backend.ChangeAdded, Path: p, IsDir: finalInfo.IsDir()})
			continue
		}
		originInfo, err := os.Lstat(filepath.Join(originDir, p))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", backend.ErrBackend, err)
		}
		if !finalInfo.IsDir() && !sameContent(filepath.Join(originDir, p), filepath.Join(finalDir, p)) {
			changes = append(changes, backend.Change{Kind: backend.ChangeModified, Path: p, IsDir: false})
		}
	}
	for _, p := range originPaths {
		if !contains(finalPaths, p) {
			changes = append(changes, backend.Change{Kind: backend.ChangeRemoved, Path: p})
		}
	}
	return changes, nil
}

func relPaths(root string) ([]string, error) {
	var paths []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walking %q: %v", backend.ErrBackend, root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

func sameContent(a, b string) bool {
	fa, err := os.Open(a)
	if err != nil {
		return false
	}
	defer fa.Close()
	fb, err := os.Open(b)
	if err != nil {
		return false
	}
	defer fb.Close()
	bufA, errA := io.ReadAll(fa)
	bufB, errB := io.ReadAll(fb)
	if errA != nil || errB != nil {
		return false
	}
	return string(bufA) == string(bufB)
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode().Perm())
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
