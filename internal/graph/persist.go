package graph

import (
	"encoding/json"
	"fmt"
	"sort"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// persistedFilesystem and persistedLayer mirror driver.json's nested shape:
// only root filesystems are listed explicitly; everything below a layer is
// nested inside it. The tree is walked by starting from filesystems with no
// parent layer, emitting each one's child layer (if any), and recursing
// into the filesystems cloned from that layer.
type persistedFilesystem struct {
	ID          string          `json:"id"`
	ContainerID string          `json:"container_id,omitempty"`
	Layer       *persistedLayer `json:"layer,omitempty"`
}

type persistedLayer struct {
	Descriptor  ocispec.Descriptor    `json:"descriptor"`
	DiffID      string                `json:"diff_id"`
	Size        int64                 `json:"size"`
	Images      []string              `json:"images,omitempty"`
	Filesystems []persistedFilesystem `json:"filesystems,omitempty"`
}

type persistedDriver struct {
	Type        string                `json:"type"`
	Filesystems []persistedFilesystem `json:"filesystems"`
}

func (d *Driver) marshal() ([]byte, error) {
	var roots []persistedFilesystem
	for _, fs := range d.filesystems {
		if fs.LayerID == "" {
			roots = append(roots, d.filesystemToPersisted(fs))
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].ID < roots[j].ID })
	doc := persistedDriver{Type: d.backend.Name(), Filesystems: roots}
	// Compact separators, no whitespace, matching every other JSON document
	// this module writes.
	return json.Marshal(doc)
}

func (d *Driver) filesystemToPersisted(fs *Filesystem) persistedFilesystem {
	out := persistedFilesystem{ID: fs.ID, ContainerID: fs.ContainerID}
	if layer := d.childLayerOf(fs.ID); layer != nil {
		out.Layer = d.layerToPersisted(layer)
	}
	return out
}

func (d *Driver) layerToPersisted(layer *Layer) *persistedLayer {
	images := make([]string, 0, len(layer.Images))
	for id := range layer.Images {
		images = append(images, id)
	}
	sort.Strings(images)

	out := &persistedLayer{
		Descriptor: layer.Descriptor,
		DiffID:     layer.DiffID,
		Size:       layer.Size,
		Images:     images,
	}
	children := d.childFilesystemsOf(layer.DiffID)
	sort.Slice(children, func(i, j int) bool { return children[i].ID < children[j].ID })
	for _, c := range children {
		out.Filesystems = append(out.Filesystems, d.filesystemToPersisted(c))
	}
	return out
}

func (d *Driver) unmarshal(data []byte) error {
	var doc persistedDriver
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("graph: decoding driver.json: %w", err)
	}
	if doc.Type != "" && doc.Type != d.backend.Name() {
		return fmt.Errorf("graph: driver.json was written by backend %q, opened with %q", doc.Type, d.backend.Name())
	}

	filesystems := map[string]*Filesystem{}
	layers := map[string]*Layer{}
	for _, root := range doc.Filesystems {
		loadFilesystem(root, "", filesystems, layers)
	}
	d.filesystems = filesystems
	d.layers = layers
	return nil
}

func loadFilesystem(pfs persistedFilesystem, parentLayerID string, filesystems map[string]*Filesystem, layers map[string]*Layer) {
	fs := &Filesystem{ID: pfs.ID, ContainerID: pfs.ContainerID, LayerID: parentLayerID}
	filesystems[fs.ID] = fs
	if pfs.Layer == nil {
		return
	}
	images := make(map[string]struct{}, len(pfs.Layer.Images))
	for _, id := range pfs.Layer.Images {
		images[id] = struct{}{}
	}
	layer := &Layer{
		Descriptor:   pfs.Layer.Descriptor,
		DiffID:       pfs.Layer.DiffID,
		Size:         pfs.Layer.Size,
		FilesystemID: fs.ID,
		Images:       images,
	}
	layers[layer.DiffID] = layer
	for _, child := range pfs.Layer.Filesystems {
		loadFilesystem(child, layer.DiffID, filesystems, layers)
	}
}
