package graph

import (
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Filesystem is a mutable working tree: either an empty root or a clone of
// a committed Layer's snapshot. Exactly one container may mount it at a
// time.
type Filesystem struct {
	// ID is a diff_id once committed, or a random 256-bit value while the
	// filesystem is still a working tree.
	ID string
	// LayerID is the diff_id of the Layer this filesystem was cloned
	// from; empty for an empty root filesystem.
	LayerID string
	// ContainerID is the id of the container currently mounting this
	// filesystem, empty if unmounted.
	ContainerID string
}

// Layer is an immutable snapshot. The graph registers and looks up layers
// by DiffID; the descriptor's digest (the hash of the compressed blob) only
// names the blob file.
type Layer struct {
	Descriptor ocispec.Descriptor
	// DiffID is the SHA-256 of the uncompressed changeset tar.
	DiffID string
	// Size is the size in bytes of the compressed blob (equal to
	// Descriptor.Size, kept separately because the descriptor is
	// reconstructed from the persisted form on load).
	Size int64
	// FilesystemID is the id of the Filesystem whose snapshot backs this
	// layer (G2: at most one Layer per Filesystem, so this is the
	// layer's unique owner, not a child).
	FilesystemID string
	// Images is the set of image ids referencing this layer.
	Images map[string]struct{}
}

func (l *Layer) hasImage(imageID string) bool {
	_, ok := l.Images[imageID]
	return ok
}

func cloneImageSet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}
