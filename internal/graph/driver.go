// Package graph implements the persistent registry of Filesystems (mutable
// working trees) and Layers (immutable snapshots) that back every image
// and container in this module: the DAG of parent/child relationships,
// mount bindings to containers, and image references on layers, all
// rewritten atomically to a single JSON document after every mutation.
package graph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/containerd/log"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/guillermomolina/oci-graph/internal/backend"
	"github.com/guillermomolina/oci-graph/internal/idgen"
	"github.com/guillermomolina/oci-graph/internal/store"
)

const (
	driverDocument = "driver.json"
	snapshotTag    = "diff"
	layersGroup    = "layers"
)

// Driver is the graph registry. It is not safe for concurrent use from
// multiple goroutines; callers serialize access the way every other
// registry in this module does, with an exclusive lock on the data root.
type Driver struct {
	backend     backend.Backend
	st          store.Store
	dataRoot    string
	zfsRoot     string
	filesystems map[string]*Filesystem
	layers      map[string]*Layer
}

// New opens (creating if absent) the graph driver rooted at dataRoot,
// backed by be, with zfsRoot as the parent dataset every Filesystem and
// Layer dataset is created under.
func New(ctx context.Context, dataRoot, zfsRoot string, be backend.Backend) (*Driver, error) {
	st, err := store.New(dataRoot, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("graph: opening store at %q: %w", dataRoot, err)
	}
	d := &Driver{
		backend:     be,
		st:          st,
		dataRoot:    dataRoot,
		zfsRoot:     zfsRoot,
		filesystems: map[string]*Filesystem{},
		layers:      map[string]*Layer{},
	}
	if err := d.load(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Driver) load(ctx context.Context) error {
	exists, err := d.st.Exists(driverDocument)
	if err != nil {
		return fmt.Errorf("graph: checking %q: %w", driverDocument, err)
	}
	if !exists {
		log.G(ctx).Debug("graph: no existing driver.json, starting empty")
		return nil
	}
	var data []byte
	err = d.st.WithLock(func() error {
		data, err = d.st.Get(driverDocument)
		return err
	})
	if err != nil {
		return fmt.Errorf("graph: reading %q: %w", driverDocument, err)
	}
	return d.unmarshal(data)
}

func (d *Driver) persist(ctx context.Context) error {
	data, err := d.marshal()
	if err != nil {
		return fmt.Errorf("graph: encoding %q: %w", driverDocument, err)
	}
	if err := d.st.WithLock(func() error {
		return d.st.Set(data, driverDocument)
	}); err != nil {
		return fmt.Errorf("graph: writing %q: %w", driverDocument, err)
	}
	log.G(ctx).Debug("graph: persisted driver.json")
	return nil
}

func (d *Driver) datasetName(id string) string {
	return d.zfsRoot + "/" + id
}

func (d *Driver) mountpointFor(id string) string {
	return filepath.Join(d.dataRoot, "filesystems", id)
}

// CreateFilesystem creates a new working tree, empty if parentLayerID is
// empty, otherwise cloned from that layer's snapshot.
func (d *Driver) CreateFilesystem(ctx context.Context, parentLayerID string) (*Filesystem, error) {
	log.G(ctx).Debug("graph: start create_filesystem")
	var parentLayer *Layer
	if parentLayerID != "" {
		l, ok := d.layers[parentLayerID]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrLayerUnknown, parentLayerID)
		}
		parentLayer = l
	}

	id := idgen.GenerateID()
	mountpoint := d.mountpointFor(id)
	if err := os.MkdirAll(mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("graph: creating mountpoint %q: %w", mountpoint, err)
	}

	if parentLayer == nil {
		if err := d.backend.Create(ctx, d.datasetName(id), mountpoint, ""); err != nil {
			return nil, err
		}
	} else {
		sourceSnapshot := d.datasetName(parentLayer.DiffID) + "@" + snapshotTag
		if err := d.backend.Clone(ctx, d.datasetName(id), sourceSnapshot, mountpoint); err != nil {
			return nil, err
		}
	}

	fs := &Filesystem{ID: id, LayerID: parentLayerID}
	d.filesystems[id] = fs
	if err := d.persist(ctx); err != nil {
		return nil, err
	}
	log.G(ctx).Debugf("graph: finish create_filesystem %s", id)
	return fs, nil
}

// MountFilesystem binds fs's dataset mountpoint to path and records
// containerID as its mounting container.
func (d *Driver) MountFilesystem(ctx context.Context, fsID, containerID, path string) error {
	fs, ok := d.filesystems[fsID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrFilesystemUnknown, fsID)
	}
	if fs.ContainerID != "" {
		return fmt.Errorf("%w: filesystem %q is already mounted by %q", ErrFilesystemInUse, fsID, fs.ContainerID)
	}
	log.G(ctx).Debugf("graph: start mount_filesystem %s -> %s", fsID, path)

	oldMountpoint := d.mountpointFor(fsID)
	if err := d.backend.Set(ctx, d.datasetName(fsID), backend.Properties{Mountpoint: &path}); err != nil {
		return err
	}
	if oldMountpoint != path {
		_ = os.Remove(oldMountpoint)
	}

	fs.ContainerID = containerID
	if err := d.persist(ctx); err != nil {
		return err
	}
	log.G(ctx).Debugf("graph: finish mount_filesystem %s", fsID)
	return nil
}

// UnmountFilesystem restores fs's default mountpoint and clears its
// mounting container. If remove is true, the filesystem is destroyed
// afterwards.
func (d *Driver) UnmountFilesystem(ctx context.Context, containerID string, remove bool) error {
	fs, err := d.GetFilesystemByContainerID(containerID)
	if err != nil {
		return err
	}
	log.G(ctx).Debugf("graph: start unmount_filesystem %s", fs.ID)

	defaultMountpoint := d.mountpointFor(fs.ID)
	if err := os.MkdirAll(defaultMountpoint, 0o755); err != nil {
		return fmt.Errorf("graph: recreating mountpoint %q: %w", defaultMountpoint, err)
	}
	if err := d.backend.Set(ctx, d.datasetName(fs.ID), backend.Properties{Mountpoint: &defaultMountpoint}); err != nil {
		return err
	}

	fs.ContainerID = ""
	if err := d.persist(ctx); err != nil {
		return err
	}
	log.G(ctx).Debugf("graph: finish unmount_filesystem %s", fs.ID)

	if remove {
		return d.RemoveFilesystem(ctx, fs.ID)
	}
	return nil
}

// RemoveFilesystem destroys fs's dataset and removes it from the graph.
func (d *Driver) RemoveFilesystem(ctx context.Context, fsID string) error {
	fs, ok := d.filesystems[fsID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrFilesystemUnknown, fsID)
	}
	if fs.ContainerID != "" {
		return fmt.Errorf("%w: filesystem %q is mounted", ErrFilesystemInUse, fsID)
	}
	if d.childLayerOf(fsID) != nil {
		return fmt.Errorf("%w: filesystem %q has a committed layer", ErrFilesystemInUse, fsID)
	}
	log.G(ctx).Debugf("graph: start remove_filesystem %s", fsID)

	if err := d.backend.Destroy(ctx, d.datasetName(fsID), true); err != nil {
		return err
	}
	_ = os.RemoveAll(d.mountpointFor(fsID))

	delete(d.filesystems, fsID)
	if err := d.persist(ctx); err != nil {
		return err
	}
	log.G(ctx).Debugf("graph: finish remove_filesystem %s", fsID)
	return nil
}

// CreateLayer commits fs: snapshots it, builds a whiteout changeset
// relative to its parent layer (or the empty tree), hashes and compresses
// it, and rebinds fs's id to the resulting diff_id.
func (d *Driver) CreateLayer(ctx context.Context, fsID string) (*Layer, error) {
	fs, ok := d.filesystems[fsID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFilesystemUnknown, fsID)
	}
	if d.childLayerOf(fsID) != nil {
		return nil, fmt.Errorf("%w: filesystem %q is already committed", ErrAlreadyExists, fsID)
	}
	log.G(ctx).Debugf("graph: start create_layer %s", fsID)

	dataset := d.datasetName(fsID)
	finalSnapshot := dataset + "@" + snapshotTag
	if err := d.backend.Snapshot(ctx, dataset, snapshotTag); err != nil {
		return nil, err
	}

	var originSnapshot string
	if fs.LayerID != "" {
		parentLayer, ok := d.layers[fs.LayerID]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrLayerUnknown, fs.LayerID)
		}
		originSnapshot = d.datasetName(parentLayer.DiffID) + "@" + snapshotTag
	}

	changes, err := d.backend.Diff(ctx, finalSnapshot, originSnapshot)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp("", "oci-graph-changeset-*.tar")
	if err != nil {
		return nil, fmt.Errorf("graph: creating temp changeset file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath)
	}()

	if err := writeChangesetFromDiff(tmp, changes, d.mountpointFor(fsID)); err != nil {
		return nil, fmt.Errorf("graph: writing changeset: %w", err)
	}
	if _, err := tmp.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("graph: rewinding changeset file: %w", err)
	}

	diffID, err := backend.SHA256Reader(tmp)
	if err != nil {
		return nil, fmt.Errorf("graph: hashing changeset: %w", err)
	}
	if _, err := tmp.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("graph: rewinding changeset file: %w", err)
	}

	compressed, err := os.CreateTemp("", "oci-graph-layer-*.tar.gz")
	if err != nil {
		return nil, fmt.Errorf("graph: creating temp compressed file: %w", err)
	}
	compressedPath := compressed.Name()
	defer func() {
		compressed.Close()
		os.Remove(compressedPath)
	}()
	if err := backend.CompressToGzip(compressed, tmp, true); err != nil {
		return nil, fmt.Errorf("graph: compressing changeset: %w", err)
	}
	if _, err := compressed.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("graph: rewinding compressed file: %w", err)
	}
	layerID, err := backend.SHA256Reader(compressed)
	if err != nil {
		return nil, fmt.Errorf("graph: hashing compressed blob: %w", err)
	}

	if err := d.st.WithLock(func() error {
		exists, err := d.st.Exists(layersGroup, layerID)
		if err != nil {
			return fmt.Errorf("graph: checking layer blob %q: %w", layerID, err)
		}
		if exists {
			return nil
		}
		if _, err := compressed.Seek(0, 0); err != nil {
			return fmt.Errorf("graph: rewinding compressed file: %w", err)
		}
		blob, err := os.ReadFile(compressedPath)
		if err != nil {
			return fmt.Errorf("graph: reading compressed blob: %w", err)
		}
		if err := d.st.Set(blob, layersGroup, layerID); err != nil {
			return fmt.Errorf("graph: storing layer blob %q: %w", layerID, err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	readonly := true
	if err := d.backend.Set(ctx, dataset, backend.Properties{Readonly: &readonly}); err != nil {
		return nil, err
	}
	newDataset := d.datasetName(diffID)
	if err := d.backend.Rename(ctx, dataset, newDataset); err != nil {
		return nil, err
	}

	size, err := fileSize(compressedPath)
	if err != nil {
		return nil, err
	}

	layer := &Layer{
		Descriptor: ocispec.Descriptor{
			MediaType: ocispec.MediaTypeImageLayerGzip,
			Digest:    digest.NewDigestFromEncoded(digest.SHA256, layerID),
			Size:      size,
		},
		DiffID:       diffID,
		Size:         size,
		FilesystemID: diffID,
		Images:       map[string]struct{}{},
	}

	delete(d.filesystems, fsID)
	fs.ID = diffID
	d.filesystems[diffID] = fs
	d.layers[diffID] = layer

	if err := d.persist(ctx); err != nil {
		return nil, err
	}
	log.G(ctx).Debugf("graph: finish create_layer %s -> diff_id=%s layer_id=%s", fsID, diffID, layerID)
	return layer, nil
}

// RemoveLayer destroys layer's backing snapshot and blob, then removes its
// now-orphaned owning Filesystem.
func (d *Driver) RemoveLayer(ctx context.Context, layerID string) error {
	layer, ok := d.layers[layerID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrLayerUnknown, layerID)
	}
	if len(layer.Images) > 0 {
		return fmt.Errorf("%w: layer %q is referenced by %d image(s)", ErrLayerInUse, layerID, len(layer.Images))
	}
	if len(d.childFilesystemsOf(layerID)) > 0 {
		return fmt.Errorf("%w: layer %q has child filesystems", ErrLayerInUse, layerID)
	}
	log.G(ctx).Debugf("graph: start remove_layer %s", layerID)

	dataset := d.datasetName(layer.FilesystemID)
	if err := d.backend.Destroy(ctx, dataset, true); err != nil {
		return err
	}
	if err := d.st.WithLock(func() error {
		return d.st.Delete(layersGroup, layer.Descriptor.Digest.Encoded())
	}); err != nil {
		log.G(ctx).WithError(err).Warnf("graph: removing layer blob for %s", layerID)
	}

	delete(d.layers, layerID)
	delete(d.filesystems, layer.FilesystemID)
	_ = os.RemoveAll(d.mountpointFor(layer.FilesystemID))

	if err := d.persist(ctx); err != nil {
		return err
	}
	log.G(ctx).Debugf("graph: finish remove_layer %s", layerID)
	return nil
}

// AddImageReference records that imageID references layerID.
func (d *Driver) AddImageReference(ctx context.Context, layerID, imageID string) error {
	layer, ok := d.layers[layerID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrLayerUnknown, layerID)
	}
	if layer.hasImage(imageID) {
		return fmt.Errorf("%w: image %q already references layer %q", ErrAlreadyExists, imageID, layerID)
	}
	layer.Images[imageID] = struct{}{}
	return d.persist(ctx)
}

// RemoveImageReference removes imageID's reference to layerID.
func (d *Driver) RemoveImageReference(ctx context.Context, layerID, imageID string) error {
	layer, ok := d.layers[layerID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrLayerUnknown, layerID)
	}
	if !layer.hasImage(imageID) {
		return fmt.Errorf("%w: image %q does not reference layer %q", ErrInvalidArgument, imageID, layerID)
	}
	delete(layer.Images, imageID)
	return d.persist(ctx)
}

// GetFilesystem returns the Filesystem with the given id.
func (d *Driver) GetFilesystem(id string) (*Filesystem, error) {
	fs, ok := d.filesystems[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFilesystemUnknown, id)
	}
	copyOf := *fs
	return &copyOf, nil
}

// GetFilesystemByContainerID returns the Filesystem mounted by containerID.
func (d *Driver) GetFilesystemByContainerID(containerID string) (*Filesystem, error) {
	for _, fs := range d.filesystems {
		if fs.ContainerID == containerID {
			copyOf := *fs
			return &copyOf, nil
		}
	}
	return nil, fmt.Errorf("%w: no filesystem mounted by container %q", ErrFilesystemUnknown, containerID)
}

// GetLayer returns the Layer with the given diff_id.
func (d *Driver) GetLayer(id string) (*Layer, error) {
	layer, ok := d.layers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrLayerUnknown, id)
	}
	return copyLayer(layer), nil
}

// GetLayerByDiffID is an alias of GetLayer: layers are keyed by diff_id.
func (d *Driver) GetLayerByDiffID(diffID string) (*Layer, error) {
	return d.GetLayer(diffID)
}

// LayerBlob returns the compressed changeset blob backing layerID, the same
// bytes CreateLayer stored under the layer's compressed digest. Callers
// that need a layer's content outside this driver (image layout export,
// chiefly) go through this rather than reaching into the store directly.
func (d *Driver) LayerBlob(ctx context.Context, layerID string) ([]byte, error) {
	layer, ok := d.layers[layerID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrLayerUnknown, layerID)
	}
	log.G(ctx).Debugf("graph: reading layer blob %s", layerID)
	var blob []byte
	err := d.st.WithLock(func() error {
		var err error
		blob, err = d.st.Get(layersGroup, layer.Descriptor.Digest.Encoded())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("graph: reading layer blob %q: %w", layerID, err)
	}
	return blob, nil
}

// ListLayers returns every registered Layer, sorted by diff_id.
func (d *Driver) ListLayers() []*Layer {
	ids := make([]string, 0, len(d.layers))
	for id := range d.layers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Layer, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyLayer(d.layers[id]))
	}
	return out
}

// GetChildLayer returns the unique Layer whose Filesystem is fsID, if any.
func (d *Driver) GetChildLayer(fsID string) (*Layer, error) {
	layer := d.childLayerOf(fsID)
	if layer == nil {
		return nil, fmt.Errorf("%w: filesystem %q has no committed layer", ErrLayerUnknown, fsID)
	}
	return copyLayer(layer), nil
}

// GetChildFilesystems returns the Filesystems cloned from layerID.
func (d *Driver) GetChildFilesystems(layerID string) ([]*Filesystem, error) {
	if _, ok := d.layers[layerID]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrLayerUnknown, layerID)
	}
	var out []*Filesystem
	for _, fs := range d.childFilesystemsOf(layerID) {
		copyOf := *fs
		out = append(out, &copyOf)
	}
	return out, nil
}

// MountpointOf returns the current host path backing fsID.
func (d *Driver) MountpointOf(ctx context.Context, fsID string) (string, error) {
	if _, ok := d.filesystems[fsID]; !ok {
		return "", fmt.Errorf("%w: %q", ErrFilesystemUnknown, fsID)
	}
	return d.backend.Mountpoint(ctx, d.datasetName(fsID))
}

// Size returns a disk-usage walk of fsID's mountpoint, the best-effort
// Size() metric. VirtualSize instead sums the backend's "used" dataset
// property across a layer chain.
func (d *Driver) Size(ctx context.Context, fsID string) (int64, error) {
	mountpoint, err := d.MountpointOf(ctx, fsID)
	if err != nil {
		return 0, err
	}
	var total int64
	err = filepath.Walk(mountpoint, func(_ string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("graph: walking mountpoint of %q: %w", fsID, err)
	}
	return total, nil
}

// VirtualSize sums the backend's "used" property for layerID and every
// ancestor layer in its chain.
func (d *Driver) VirtualSize(ctx context.Context, layerID string) (int64, error) {
	var total int64
	for layerID != "" {
		layer, ok := d.layers[layerID]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrLayerUnknown, layerID)
		}
		used, err := d.backend.UsedBytes(ctx, d.datasetName(layer.FilesystemID))
		if err != nil {
			return 0, err
		}
		total += used
		fs, ok := d.filesystems[layer.FilesystemID]
		if !ok {
			break
		}
		layerID = fs.LayerID
	}
	return total, nil
}

func (d *Driver) childLayerOf(fsID string) *Layer {
	for _, layer := range d.layers {
		if layer.FilesystemID == fsID {
			return layer
		}
	}
	return nil
}

func (d *Driver) childFilesystemsOf(layerID string) []*Filesystem {
	var out []*Filesystem
	for _, fs := range d.filesystems {
		if fs.LayerID == layerID {
			out = append(out, fs)
		}
	}
	return out
}

func copyLayer(layer *Layer) *Layer {
	copyOf := *layer
	copyOf.Images = cloneImageSet(layer.Images)
	return &copyOf
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("graph: stat %q: %w", path, err)
	}
	return info.Size(), nil
}
