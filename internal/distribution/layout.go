// Export and Import move images between this registry and an OCI
// image-layout directory: an "oci-layout" marker file, an "index.json"
// naming a single manifest, and the manifest/config/layer blobs themselves
// under blobs/sha256/<digest>. This is not a registry protocol - it never
// speaks to anything beyond the local filesystem - so it is distinct from
// (and unaffected by) this module's decision not to implement registry
// pull/push.
//
// Grounded on oci_api/image/distribution.py (save_image, load_image,
// import_image) and oci_api/image/index.py (save_image, load_image), which
// copy the same three blob kinds to and from a layout directory the same
// way, materializing any layer the destination registry doesn't already
// hold by replaying its changeset onto a fresh filesystem.
package distribution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/containerd/log"
	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/guillermomolina/oci-graph/internal/backend"
	"github.com/guillermomolina/oci-graph/internal/graph"
	"github.com/guillermomolina/oci-graph/internal/tarutil"
)

// Export resolves ref and writes it as a complete OCI image-layout
// directory at destDir, creating destDir's blobs subtree as needed.
func (d *Distribution) Export(ctx context.Context, ref, destDir string) error {
	img, err := d.GetImage(ref)
	if err != nil {
		return err
	}
	log.G(ctx).Debugf("distribution: start export_image %s -> %s", img.ID, destDir)

	blobsDir := filepath.Join(destDir, "blobs", "sha256")
	if err := os.MkdirAll(blobsDir, 0o755); err != nil {
		return fmt.Errorf("distribution: creating %q: %w", blobsDir, err)
	}

	layoutBytes, err := json.Marshal(ocispec.ImageLayout{Version: ocispec.ImageLayoutVersion})
	if err != nil {
		return fmt.Errorf("distribution: encoding %s: %w", ocispec.ImageLayoutFile, err)
	}
	if err := os.WriteFile(filepath.Join(destDir, ocispec.ImageLayoutFile), layoutBytes, 0o644); err != nil {
		return fmt.Errorf("distribution: writing %s: %w", ocispec.ImageLayoutFile, err)
	}

	var manifestBytes []byte
	if err := d.st.WithLock(func() error {
		var err error
		manifestBytes, err = d.st.Get(manifestsGroup, img.ID)
		return err
	}); err != nil {
		return fmt.Errorf("distribution: reading manifest %q: %w", img.ID, err)
	}
	manifestDigest := digest.NewDigestFromEncoded(digest.SHA256, img.ID)
	if err := writeLayoutBlob(blobsDir, manifestDigest, manifestBytes); err != nil {
		return err
	}

	configDigest := img.Manifest.Config.Digest
	var configBytes []byte
	if err := d.st.WithLock(func() error {
		var err error
		configBytes, err = d.st.Get(configsGroup, configDigest.Encoded())
		return err
	}); err != nil {
		return fmt.Errorf("distribution: reading config %q: %w", configDigest, err)
	}
	if err := writeLayoutBlob(blobsDir, configDigest, configBytes); err != nil {
		return err
	}

	for i, layerDesc := range img.Manifest.Layers {
		blob, err := d.graph.LayerBlob(ctx, img.LayerIDs[i])
		if err != nil {
			return fmt.Errorf("distribution: reading layer blob %q: %w", img.LayerIDs[i], err)
		}
		if err := writeLayoutBlob(blobsDir, layerDesc.Digest, blob); err != nil {
			return err
		}
	}

	index := ocispec.Index{
		Versioned: manifestVersioned(),
		MediaType: ocispec.MediaTypeImageIndex,
		Manifests: []ocispec.Descriptor{{
			MediaType:   ocispec.MediaTypeImageManifest,
			Digest:      manifestDigest,
			Size:        int64(len(manifestBytes)),
			Annotations: map[string]string{ocispec.AnnotationRefName: ref},
		}},
	}
	indexBytes, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("distribution: encoding layout index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(destDir, "index.json"), indexBytes, 0o644); err != nil {
		return fmt.Errorf("distribution: writing layout index: %w", err)
	}

	log.G(ctx).Debugf("distribution: finish export_image %s", img.ID)
	return nil
}

// Import reads an OCI image-layout directory at path, materializing every
// layer the graph driver does not already hold and registering the image
// under tag (when non-empty). The layout's own manifest/config bytes and
// image id are preserved verbatim, matching what save_image wrote.
func (d *Distribution) Import(ctx context.Context, path, tag string) (*Image, error) {
	manifestBytes, manifestID, err := readLayoutIndex(path)
	if err != nil {
		return nil, err
	}
	log.G(ctx).Debugf("distribution: start import_image %s -> %s", path, manifestID)

	if existing, ok := d.images[manifestID]; ok {
		if tag != "" {
			if err := d.AddTag(ctx, manifestID, tag); err != nil {
				return nil, err
			}
		}
		return cloneImage(existing), nil
	}

	var manifest ocispec.Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, fmt.Errorf("distribution: decoding layout manifest: %w", err)
	}
	configBytes, err := readLayoutBlob(path, manifest.Config.Digest)
	if err != nil {
		return nil, err
	}
	var config ocispec.Image
	if err := json.Unmarshal(configBytes, &config); err != nil {
		return nil, fmt.Errorf("distribution: decoding layout config: %w", err)
	}
	if len(config.RootFS.DiffIDs) != len(manifest.Layers) {
		return nil, fmt.Errorf("%w: config lists %d layers, manifest lists %d", ErrInvalidArgument, len(config.RootFS.DiffIDs), len(manifest.Layers))
	}

	layerIDs := make([]string, len(config.RootFS.DiffIDs))
	parentLayerID := ""
	for i, diffID := range config.RootFS.DiffIDs {
		id := diffID.Encoded()
		if _, err := d.graph.GetLayer(id); err != nil {
			blob, err := readLayoutBlob(path, manifest.Layers[i].Digest)
			if err != nil {
				return nil, err
			}
			layer, err := d.materializeLayer(ctx, parentLayerID, blob)
			if err != nil {
				return nil, fmt.Errorf("distribution: materializing layer %d: %w", i, err)
			}
			if layer.DiffID != id {
				return nil, fmt.Errorf("%w: layer %d diff id mismatch after import (got %s, want %s)", ErrInvalidArgument, i, layer.DiffID, id)
			}
		}
		if err := d.graph.AddImageReference(ctx, id, manifestID); err != nil {
			return nil, err
		}
		layerIDs[i] = id
		parentLayerID = id
	}

	if err := d.st.WithLock(func() error {
		return d.st.Set(configBytes, configsGroup, manifest.Config.Digest.Encoded())
	}); err != nil {
		return nil, fmt.Errorf("distribution: writing config blob %q: %w", manifest.Config.Digest.Encoded(), err)
	}
	if err := d.st.WithLock(func() error {
		return d.st.Set(manifestBytes, manifestsGroup, manifestID)
	}); err != nil {
		return nil, fmt.Errorf("distribution: writing manifest blob %q: %w", manifestID, err)
	}

	img := &Image{ID: manifestID, Manifest: manifest, Config: config, LayerIDs: layerIDs}
	d.images[manifestID] = img
	if err := d.persist(ctx); err != nil {
		return nil, err
	}
	if tag != "" {
		if err := d.AddTag(ctx, manifestID, tag); err != nil {
			return nil, err
		}
	}
	log.G(ctx).Debugf("distribution: finish import_image %s", manifestID)
	return cloneImage(img), nil
}

// materializeLayer replays a compressed changeset blob onto a fresh
// filesystem cloned from parentLayerID (the empty string for a base layer)
// and commits it, the same create_filesystem -> apply -> create_layer
// sequence a freshly built image goes through.
func (d *Distribution) materializeLayer(ctx context.Context, parentLayerID string, compressedBlob []byte) (*graph.Layer, error) {
	fs, err := d.graph.CreateFilesystem(ctx, parentLayerID)
	if err != nil {
		return nil, err
	}
	mountpoint, err := d.graph.MountpointOf(ctx, fs.ID)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(backend.DecompressGzip(pw, bytes.NewReader(compressedBlob)))
	}()
	if err := tarutil.ApplyChangeset(pr, mountpoint); err != nil {
		return nil, fmt.Errorf("applying layer changeset: %w", err)
	}

	return d.graph.CreateLayer(ctx, fs.ID)
}

func readLayoutIndex(path string) (manifestBytes []byte, manifestID string, err error) {
	layoutFile := filepath.Join(path, ocispec.ImageLayoutFile)
	if _, err := os.Stat(layoutFile); err != nil {
		return nil, "", fmt.Errorf("%w: %q has no %s file", ErrInvalidArgument, path, ocispec.ImageLayoutFile)
	}
	indexBytes, err := os.ReadFile(filepath.Join(path, "index.json"))
	if err != nil {
		return nil, "", fmt.Errorf("distribution: reading layout index: %w", err)
	}
	var index ocispec.Index
	if err := json.Unmarshal(indexBytes, &index); err != nil {
		return nil, "", fmt.Errorf("distribution: decoding layout index: %w", err)
	}
	if len(index.Manifests) != 1 {
		return nil, "", fmt.Errorf("%w: layout index has %d manifests, only one is supported", ErrInvalidArgument, len(index.Manifests))
	}
	desc := index.Manifests[0]
	manifestBytes, err = readLayoutBlob(path, desc.Digest)
	if err != nil {
		return nil, "", err
	}
	return manifestBytes, desc.Digest.Encoded(), nil
}

func readLayoutBlob(layoutPath string, d digest.Digest) ([]byte, error) {
	path := filepath.Join(layoutPath, "blobs", d.Algorithm().String(), d.Encoded())
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("distribution: reading layout blob %q: %w", path, err)
	}
	return data, nil
}

func writeLayoutBlob(blobsDir string, d digest.Digest, data []byte) error {
	if err := os.WriteFile(filepath.Join(blobsDir, d.Encoded()), data, 0o644); err != nil {
		return fmt.Errorf("distribution: writing blob %q: %w", d, err)
	}
	return nil
}
