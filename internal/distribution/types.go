package distribution

import (
	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Image is a manifest + config + ordered layer list, addressable by its
// content digest (the manifest's own SHA-256) and by human tags.
type Image struct {
	// ID is the SHA-256 of the serialised manifest.
	ID string
	// Manifest is the OCI manifest this image was built from; its Config
	// and Layers descriptors are the canonical record of what blobs back
	// this image.
	Manifest ocispec.Manifest
	// Config is the OCI image config (architecture, os, rootfs diff-ids,
	// history, default process).
	Config ocispec.Image
	// LayerIDs are the diff_ids of this image's layers, bottom first,
	// parallel to Manifest.Layers and Config.RootFS.DiffIDs.
	LayerIDs []string
	// Tags are the fully-qualified tag strings ("name:tag") currently
	// pointing at this image.
	Tags []string
}

// TopLayerID returns the diff_id of this image's top (last) layer.
func (img *Image) TopLayerID() string {
	if len(img.LayerIDs) == 0 {
		return ""
	}
	return img.LayerIDs[len(img.LayerIDs)-1]
}

func (img *Image) hasTag(tag string) bool {
	for _, t := range img.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (img *Image) removeTag(tag string) {
	out := img.Tags[:0]
	for _, t := range img.Tags {
		if t != tag {
			out = append(out, t)
		}
	}
	img.Tags = out
}

func cloneImage(img *Image) *Image {
	copyOf := *img
	copyOf.LayerIDs = append([]string(nil), img.LayerIDs...)
	copyOf.Tags = append([]string(nil), img.Tags...)
	copyOf.Manifest.Layers = append([]ocispec.Descriptor(nil), img.Manifest.Layers...)
	copyOf.Config.RootFS.DiffIDs = append([]digest.Digest(nil), img.Config.RootFS.DiffIDs...)
	return &copyOf
}
