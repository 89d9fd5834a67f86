// Package distribution implements the persistent image registry: creation
// of manifests/configs in the content-addressed blob store, resolution of
// images by id/short-id/tag, tag bookkeeping, and orchestration of layer
// reference counting through the graph driver.
package distribution

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/containerd/log"
	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/guillermomolina/oci-graph/internal/backend"
	"github.com/guillermomolina/oci-graph/internal/graph"
	"github.com/guillermomolina/oci-graph/internal/idgen"
	"github.com/guillermomolina/oci-graph/internal/store"
)

const (
	distributionDocument = "distribution.json"
	manifestsGroup       = "manifests"
	configsGroup         = "configs"
)

// Distribution is the image registry. Like the graph driver, it is not
// concurrency-safe on its own; callers serialise access with a lock on the
// data root.
type Distribution struct {
	graph  *graph.Driver
	st     store.Store
	images map[string]*Image

	// IsLayerReferencedByContainer, when set, lets the runtime layer veto
	// an image removal whose top layer's filesystem backs a live
	// container — a check the specification places at the caller, not
	// inside the distribution itself.
	IsLayerReferencedByContainer func(layerID string) bool
}

// New opens (creating if absent) the distribution registry rooted at
// dataRoot, backed by g for layer reference counting.
func New(ctx context.Context, dataRoot string, g *graph.Driver) (*Distribution, error) {
	st, err := store.New(dataRoot, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("distribution: opening store at %q: %w", dataRoot, err)
	}
	d := &Distribution{graph: g, st: st, images: map[string]*Image{}}
	if err := d.load(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

type persistedImage struct {
	ID   string   `json:"id"`
	Tags []string `json:"tags,omitempty"`
}

type persistedDistribution struct {
	Images []persistedImage `json:"images"`
}

func (d *Distribution) load(ctx context.Context) error {
	exists, err := d.st.Exists(distributionDocument)
	if err != nil {
		return fmt.Errorf("distribution: checking %q: %w", distributionDocument, err)
	}
	if !exists {
		log.G(ctx).Debug("distribution: no existing distribution.json, starting empty")
		return nil
	}
	var data []byte
	err = d.st.WithLock(func() error {
		data, err = d.st.Get(distributionDocument)
		return err
	})
	if err != nil {
		return fmt.Errorf("distribution: reading %q: %w", distributionDocument, err)
	}
	var doc persistedDistribution
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("distribution: decoding %q: %w", distributionDocument, err)
	}
	for _, pi := range doc.Images {
		img, err := d.loadImage(pi.ID, pi.Tags)
		if err != nil {
			return err
		}
		d.images[img.ID] = img
	}
	return nil
}

func (d *Distribution) loadImage(id string, tags []string) (*Image, error) {
	var manifestBytes []byte
	err := d.st.WithLock(func() error {
		var err error
		manifestBytes, err = d.st.Get(manifestsGroup, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("distribution: reading manifest %q: %w", id, err)
	}
	var manifest ocispec.Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, fmt.Errorf("distribution: decoding manifest %q: %w", id, err)
	}

	var configBytes []byte
	err = d.st.WithLock(func() error {
		var err error
		configBytes, err = d.st.Get(configsGroup, manifest.Config.Digest.Encoded())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("distribution: reading config %q: %w", manifest.Config.Digest.Encoded(), err)
	}
	var config ocispec.Image
	if err := json.Unmarshal(configBytes, &config); err != nil {
		return nil, fmt.Errorf("distribution: decoding config %q: %w", manifest.Config.Digest.Encoded(), err)
	}

	layerIDs := make([]string, len(config.RootFS.DiffIDs))
	for i, diffID := range config.RootFS.DiffIDs {
		layerIDs[i] = diffID.Encoded()
	}

	return &Image{ID: id, Manifest: manifest, Config: config, LayerIDs: layerIDs, Tags: tags}, nil
}

func (d *Distribution) persist(ctx context.Context) error {
	ids := make([]string, 0, len(d.images))
	for id := range d.images {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	doc := persistedDistribution{}
	for _, id := range ids {
		img := d.images[id]
		tags := append([]string(nil), img.Tags...)
		sort.Strings(tags)
		doc.Images = append(doc.Images, persistedImage{ID: id, Tags: tags})
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("distribution: encoding %q: %w", distributionDocument, err)
	}
	if err := d.st.WithLock(func() error {
		return d.st.Set(data, distributionDocument)
	}); err != nil {
		return fmt.Errorf("distribution: writing %q: %w", distributionDocument, err)
	}
	log.G(ctx).Debug("distribution: persisted distribution.json")
	return nil
}

// CreateImage builds a manifest and config from configSkeleton and layers,
// writes both blobs, registers the image, and adds an image reference on
// every layer.
func (d *Distribution) CreateImage(ctx context.Context, configSkeleton ocispec.Image, layers []*graph.Layer) (*Image, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("%w: an image requires at least one layer", ErrInvalidArgument)
	}
	log.G(ctx).Debug("distribution: start create_image")

	config := configSkeleton
	config.Created = timePtr(time.Now().UTC())
	config.RootFS.Type = "layers"
	config.RootFS.DiffIDs = make([]digest.Digest, len(layers))
	manifestLayers := make([]ocispec.Descriptor, len(layers))
	for i, layer := range layers {
		config.RootFS.DiffIDs[i] = digest.NewDigestFromEncoded(digest.SHA256, layer.DiffID)
		manifestLayers[i] = layer.Descriptor
	}

	configBytes, err := canonicalJSON(config)
	if err != nil {
		return nil, fmt.Errorf("distribution: encoding image config: %w", err)
	}
	configID, err := backend.SHA256Reader(bytesReader(configBytes))
	if err != nil {
		return nil, fmt.Errorf("distribution: hashing image config: %w", err)
	}
	if err := d.st.WithLock(func() error {
		return d.st.Set(configBytes, configsGroup, configID)
	}); err != nil {
		return nil, fmt.Errorf("distribution: writing config blob %q: %w", configID, err)
	}
	configDescriptor := ocispec.Descriptor{
		MediaType: ocispec.MediaTypeImageConfig,
		Digest:    digest.NewDigestFromEncoded(digest.SHA256, configID),
		Size:      int64(len(configBytes)),
	}

	manifest := ocispec.Manifest{
		Versioned: manifestVersioned(),
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    configDescriptor,
		Layers:    manifestLayers,
	}
	manifestBytes, err := canonicalJSON(manifest)
	if err != nil {
		return nil, fmt.Errorf("distribution: encoding manifest: %w", err)
	}
	imageID, err := backend.SHA256Reader(bytesReader(manifestBytes))
	if err != nil {
		return nil, fmt.Errorf("distribution: hashing manifest: %w", err)
	}
	if _, ok := d.images[imageID]; ok {
		return nil, fmt.Errorf("%w: %q", ErrImageExists, imageID)
	}
	if err := d.st.WithLock(func() error {
		return d.st.Set(manifestBytes, manifestsGroup, imageID)
	}); err != nil {
		return nil, fmt.Errorf("distribution: writing manifest blob %q: %w", imageID, err)
	}

	layerIDs := make([]string, len(layers))
	for i, layer := range layers {
		if err := d.graph.AddImageReference(ctx, layer.DiffID, imageID); err != nil {
			return nil, err
		}
		layerIDs[i] = layer.DiffID
	}

	img := &Image{ID: imageID, Manifest: manifest, Config: config, LayerIDs: layerIDs}
	d.images[imageID] = img
	if err := d.persist(ctx); err != nil {
		return nil, err
	}
	log.G(ctx).Debugf("distribution: finish create_image %s", imageID)
	return cloneImage(img), nil
}

// GetImage resolves ref against, in order: exact id, short id, exact tag.
func (d *Distribution) GetImage(ref string) (*Image, error) {
	if img, ok := d.images[ref]; ok {
		return cloneImage(img), nil
	}
	if looksLikeShortID(ref) {
		var match *Image
		for _, img := range d.images {
			if idgen.Short(img.ID) == ref {
				if match != nil {
					return nil, fmt.Errorf("%w: short id %q is ambiguous", ErrInvalidArgument, ref)
				}
				match = img
			}
		}
		if match != nil {
			return cloneImage(match), nil
		}
	}
	tag, err := normalizeImageName(ref)
	if err != nil {
		return nil, err
	}
	for _, img := range d.images {
		if img.hasTag(tag) {
			return cloneImage(img), nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrImageUnknown, ref)
}

// RemoveImage resolves ref and removes it: every layer loses this image's
// reference and is opportunistically removed (LayerInUse is swallowed),
// then the manifest and config blobs are deleted.
func (d *Distribution) RemoveImage(ctx context.Context, ref string, force bool) error {
	img, err := d.GetImage(ref)
	if err != nil {
		return err
	}
	if !force && d.IsLayerReferencedByContainer != nil && d.IsLayerReferencedByContainer(img.TopLayerID()) {
		return fmt.Errorf("%w: %q is in use by a container", ErrImageInUse, ref)
	}
	log.G(ctx).Debugf("distribution: start remove_image %s", img.ID)

	for i := len(img.LayerIDs) - 1; i >= 0; i-- {
		layerID := img.LayerIDs[i]
		if err := d.graph.RemoveImageReference(ctx, layerID, img.ID); err != nil {
			return err
		}
		if err := d.graph.RemoveLayer(ctx, layerID); err != nil {
			if !isLayerInUse(err) {
				return err
			}
			log.G(ctx).Debugf("distribution: layer %s still in use, skipping removal", layerID)
		}
	}

	if err := d.st.WithLock(func() error {
		return d.st.Delete(manifestsGroup, img.ID)
	}); err != nil {
		log.G(ctx).WithError(err).Warnf("distribution: removing manifest blob for %s", img.ID)
	}
	if err := d.st.WithLock(func() error {
		return d.st.Delete(configsGroup, img.Manifest.Config.Digest.Encoded())
	}); err != nil {
		log.G(ctx).WithError(err).Warnf("distribution: removing config blob for %s", img.ID)
	}

	delete(d.images, img.ID)
	if err := d.persist(ctx); err != nil {
		return err
	}
	log.G(ctx).Debugf("distribution: finish remove_image %s", img.ID)
	return nil
}

// AddTag normalises tag, steals it from whichever image currently holds
// it (if any), and appends it to ref's image.
func (d *Distribution) AddTag(ctx context.Context, ref, tag string) error {
	img, err := d.GetImage(ref)
	if err != nil {
		return err
	}
	normalized, err := normalizeImageName(tag)
	if err != nil {
		return err
	}
	for _, other := range d.images {
		if other.ID != img.ID && other.hasTag(normalized) {
			other.removeTag(normalized)
		}
	}
	target := d.images[img.ID]
	if !target.hasTag(normalized) {
		target.Tags = append(target.Tags, normalized)
	}
	return d.persist(ctx)
}

// RemoveTag removes tag from ref's image, failing if it isn't present.
func (d *Distribution) RemoveTag(ctx context.Context, ref, tag string) error {
	img, err := d.GetImage(ref)
	if err != nil {
		return err
	}
	normalized, err := normalizeImageName(tag)
	if err != nil {
		return err
	}
	target := d.images[img.ID]
	if !target.hasTag(normalized) {
		return fmt.Errorf("%w: %q", ErrTagUnknown, normalized)
	}
	target.removeTag(normalized)
	return d.persist(ctx)
}

func isLayerInUse(err error) bool {
	return errorsIs(err, graph.ErrLayerInUse)
}

// ListImages returns every registered Image, sorted by id.
func (d *Distribution) ListImages() []*Image {
	ids := make([]string, 0, len(d.images))
	for id := range d.images {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Image, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneImage(d.images[id]))
	}
	return out
}

// Repository groups the tags of a single repository name together with
// the image each currently points at, the way the original's Repository
// type indexed images before distribution.go flattened them into a
// single id-keyed map.
type Repository struct {
	Name   string
	Images []RepositoryTag
}

// RepositoryTag is one tag within a Repository and the image it resolves
// to.
type RepositoryTag struct {
	Tag     string
	ImageID string
}

// Repositories groups every tagged image by repository name, sorted by
// repository name and then by tag, for friendlier listing output than the
// flat id-keyed map this registry stores internally.
func (d *Distribution) Repositories() []Repository {
	byName := map[string][]RepositoryTag{}
	for _, img := range d.images {
		for _, fullTag := range img.Tags {
			name, tag, err := splitImageName(fullTag)
			if err != nil {
				continue
			}
			byName[name] = append(byName[name], RepositoryTag{Tag: tag, ImageID: img.ID})
		}
	}
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Repository, 0, len(names))
	for _, name := range names {
		tags := byName[name]
		sort.Slice(tags, func(i, j int) bool { return tags[i].Tag < tags[j].Tag })
		out = append(out, Repository{Name: name, Images: tags})
	}
	return out
}
