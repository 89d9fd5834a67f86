// Package store provides a concurrency-safe, lightweight, locked JSON/blob
// storage primitive shared by the graph, distribution and runtime registries.
//
// Embedders call Lock/Release (or WithLock) around a unit of work: the graph
// driver, the distribution index and the runtime index each open one Store
// rooted at a different subdirectory of the data root and use it both for
// their single persisted JSON document and for the content-addressed blobs
// that live alongside it (manifests, configs, layer archives, container
// bundles). A Store does not interpret its payloads; callers marshal/
// unmarshal JSON themselves and pass the resulting bytes through Get/Set.
package store

import (
	"errors"

	"github.com/containerd/errdefs"
)

var (
	// ErrInvalidArgument is returned when a key component is empty, too long,
	// or otherwise not a legal path segment on the host filesystem.
	ErrInvalidArgument = errdefs.ErrInvalidArgument
	// ErrNotFound is returned by Get, List or Delete when the key is absent.
	ErrNotFound = errdefs.ErrNotFound
	// ErrSystemFailure wraps unexpected I/O errors from the underlying filesystem.
	ErrSystemFailure = errors.New("store: system failure")
	// ErrLockFailure is returned by Lock/Release when flock(2) itself fails.
	ErrLockFailure = errors.New("store: lock failure")
	// ErrFaultyImplementation indicates a caller bug: an operation against the
	// store without holding its lock, or a key that addresses a directory
	// where a file was expected (or vice versa).
	ErrFaultyImplementation = errors.New("store: caller contract violated")
)

// Store is a directory-rooted, exclusively-lockable key/blob namespace.
type Store interface {
	Locker
	Manager
}

// Manager is the set of operations performable while a Store is locked.
type Manager interface {
	// List returns the names of entries (files or subdirectories) directly
	// under the given group. An empty key list lists the store root.
	List(key ...string) ([]string, error)
	// Exists reports whether key names an existing entry.
	Exists(key ...string) (bool, error)
	// Get returns the raw bytes stored at key.
	Get(key ...string) ([]byte, error)
	// Set atomically writes data to key, creating parent groups as needed.
	Set(data []byte, key ...string) error
	// Delete removes key (file or, recursively, group).
	Delete(key ...string) error
	// Location returns the absolute host path backing key, for callers (the
	// runtime bundle writer, chiefly) that must hand a real path to an
	// external process.
	Location(key ...string) (string, error)
}

// Locker serialises access to a Store across goroutines and OS processes.
type Locker interface {
	Lock() error
	Release() error
	WithLock(fn func() error) error
}
