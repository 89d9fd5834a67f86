// Package runtime implements the container registry: provisioning a
// writable Filesystem from an image's top layer, writing the OCI bundle
// (config.json) the external runtime consumes, and driving that runtime's
// lifecycle commands (create, start, delete, state).
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/containerd/log"

	"github.com/guillermomolina/oci-graph/internal/distribution"
	"github.com/guillermomolina/oci-graph/internal/graph"
	"github.com/guillermomolina/oci-graph/internal/idgen"
	"github.com/guillermomolina/oci-graph/internal/namestore"
	"github.com/guillermomolina/oci-graph/internal/store"
)

const containersNamespace = "containers"

// Runtime is the container registry. Like the graph driver and the
// distribution registry, it is not concurrency-safe on its own; callers
// serialise access with a lock on the data root.
type Runtime struct {
	st           store.Store
	names        namestore.NameStore
	graph        *graph.Driver
	distribution *distribution.Distribution
	containers   map[string]*Container
	runc         runcClient
}

// New opens (creating if absent) the container registry rooted at
// dataRoot, backed by g and dist for filesystem provisioning and image
// resolution. runtimeBinary is the external OCI runtime executable
// (oci.toml's runtime.binary); an empty value defaults to "runc" on PATH.
func New(ctx context.Context, dataRoot string, g *graph.Driver, dist *distribution.Distribution, runtimeBinary string) (*Runtime, error) {
	st, err := store.New(dataRoot, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("runtime: opening store at %q: %w", dataRoot, err)
	}
	names, err := namestore.New(dataRoot, containersNamespace)
	if err != nil {
		return nil, err
	}
	r := &Runtime{
		st:           st,
		names:        names,
		graph:        g,
		distribution: dist,
		containers:   map[string]*Container{},
		runc:         newExecRunc(runtimeBinary),
	}
	if dist != nil {
		dist.IsLayerReferencedByContainer = r.isLayerReferencedByContainer
	}
	if err := r.load(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runtime) load(ctx context.Context) error {
	exists, err := r.st.Exists(runtimeDocument)
	if err != nil {
		return fmt.Errorf("runtime: checking %q: %w", runtimeDocument, err)
	}
	if !exists {
		log.G(ctx).Debug("runtime: no existing runtime.json, starting empty")
		return nil
	}
	var data []byte
	err = r.st.WithLock(func() error {
		data, err = r.st.Get(runtimeDocument)
		return err
	})
	if err != nil {
		return fmt.Errorf("runtime: reading %q: %w", runtimeDocument, err)
	}
	var doc persistedRuntime
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("runtime: decoding %q: %w", runtimeDocument, err)
	}
	for _, pc := range doc.Containers {
		var recData []byte
		err := r.st.WithLock(func() error {
			var err error
			recData, err = r.st.Get(containersGroup, pc.ID, containerDocFile)
			return err
		})
		if err != nil {
			return fmt.Errorf("runtime: reading container record %q: %w", pc.ID, err)
		}
		c, err := unmarshalContainerRecord(recData)
		if err != nil {
			return err
		}
		r.containers[c.ID] = c
	}
	return nil
}

func (r *Runtime) persistIndex(ctx context.Context) error {
	ids := make([]string, 0, len(r.containers))
	for id := range r.containers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	doc := persistedRuntime{}
	for _, id := range ids {
		c := r.containers[id]
		doc.Containers = append(doc.Containers, persistedContainer{
			ID:         c.ID,
			Name:       c.Name,
			CreateTime: c.CreateTime.UTC().Format(timeLayout),
		})
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("runtime: encoding %q: %w", runtimeDocument, err)
	}
	if err := r.st.WithLock(func() error {
		return r.st.Set(data, runtimeDocument)
	}); err != nil {
		return fmt.Errorf("runtime: writing %q: %w", runtimeDocument, err)
	}
	log.G(ctx).Debug("runtime: persisted runtime.json")
	return nil
}

func (r *Runtime) persistContainer(c *Container) error {
	data, err := marshalContainerRecord(c)
	if err != nil {
		return err
	}
	return r.st.WithLock(func() error {
		return r.st.Set(data, containersGroup, c.ID, containerDocFile)
	})
}

func (r *Runtime) bundleDir(containerID string) (string, error) {
	return r.st.Location(containersGroup, containerID)
}

// CreateContainer resolves imageRef, provisions a writable filesystem from
// its top layer, writes the OCI bundle, registers the container, and hands
// it to the external runtime's "create".
func (r *Runtime) CreateContainer(ctx context.Context, imageRef, name string, command []string, workdir string) (*Container, error) {
	img, err := r.distribution.GetImage(imageRef)
	if err != nil {
		return nil, err
	}
	if img.Config.Architecture != hostArchitecture() || img.Config.OS != hostOS() {
		return nil, fmt.Errorf("%w: image %s/%s does not match host %s/%s",
			ErrIncompatibleImage, img.Config.OS, img.Config.Architecture, hostOS(), hostArchitecture())
	}
	topLayerID := img.TopLayerID()
	if topLayerID == "" {
		return nil, fmt.Errorf("%w: image %q has no layers", ErrInvalidArgument, imageRef)
	}
	log.G(ctx).Debug("runtime: start create_container")

	id, runcID, err := r.allocateContainerID(ctx)
	if err != nil {
		return nil, err
	}

	containerName := name
	if containerName == "" {
		generated, err := r.generateUnusedName(id)
		if err != nil {
			return nil, err
		}
		containerName = generated
	} else if err := r.names.Acquire(containerName, id); err != nil {
		return nil, err
	}

	fs, err := r.graph.CreateFilesystem(ctx, topLayerID)
	if err != nil {
		_ = r.names.Release(containerName, id)
		return nil, err
	}

	bundleDir, err := r.bundleDir(id)
	if err != nil {
		_ = r.graph.RemoveFilesystem(ctx, fs.ID)
		_ = r.names.Release(containerName, id)
		return nil, err
	}
	rootfsDir := filepath.Join(bundleDir, "rootfs")
	if err := r.graph.MountFilesystem(ctx, fs.ID, id, rootfsDir); err != nil {
		_ = r.graph.RemoveFilesystem(ctx, fs.ID)
		_ = r.names.Release(containerName, id)
		return nil, err
	}

	spec := buildBundleSpec(img.Config, runcID, rootfsDir, command, workdir)
	if err := writeBundle(bundleDir, spec); err != nil {
		_ = r.graph.UnmountFilesystem(ctx, id, true)
		_ = r.names.Release(containerName, id)
		return nil, err
	}

	c := &Container{
		ID:           id,
		RuncID:       runcID,
		Name:         containerName,
		CreateTime:   time.Now().UTC(),
		ImageID:      img.ID,
		FilesystemID: fs.ID,
	}
	if err := r.persistContainer(c); err != nil {
		_ = r.graph.UnmountFilesystem(ctx, id, true)
		_ = r.names.Release(containerName, id)
		return nil, err
	}
	r.containers[id] = c
	if err := r.persistIndex(ctx); err != nil {
		return nil, err
	}

	if err := r.runc.Create(ctx, runcID, bundleDir); err != nil {
		return nil, err
	}

	log.G(ctx).Debugf("runtime: finish create_container %s (%s)", id, containerName)
	return cloneContainer(c), nil
}

// allocateContainerID generates a fresh id/short-id pair, guarding against
// the external runtime already knowing about the short id. The original
// implementation stubbed this collision check (runtime/container.py:
// check_runc_id, an unconditional "return True" marked TODO); here it is a
// real query against the runtime's own state.
func (r *Runtime) allocateContainerID(ctx context.Context) (id, runcID string, err error) {
	for attempt := 0; attempt < 10; attempt++ {
		candidateID := idgen.GenerateID()
		candidateRuncID := idgen.Short(candidateID)
		st, err := r.runc.State(ctx, candidateRuncID)
		if err != nil {
			return "", "", err
		}
		if st == nil {
			return candidateID, candidateRuncID, nil
		}
		log.G(ctx).Warnf("runtime: short id %s collides with a live runc container, retrying", candidateRuncID)
	}
	return "", "", fmt.Errorf("%w: could not allocate a collision-free container id", ErrInvalidArgument)
}

func (r *Runtime) generateUnusedName(id string) (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		candidate, err := namestore.GenerateRandomName()
		if err != nil {
			return "", err
		}
		if err := r.names.Acquire(candidate, id); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: could not find an unused auto-generated name", ErrInvalidArgument)
}

// RemoveContainer resolves ref (id, short id, or name), stops it via the
// external runtime if needed, unmounts and destroys its filesystem, and
// deletes its bundle directory.
func (r *Runtime) RemoveContainer(ctx context.Context, ref string) error {
	c, err := r.resolve(ref)
	if err != nil {
		return err
	}
	log.G(ctx).Debugf("runtime: start remove_container %s", c.ID)

	st, err := r.runc.State(ctx, c.RuncID)
	if err != nil {
		return err
	}
	if st != nil && st.Status != "exited" {
		if err := r.runc.Delete(ctx, c.RuncID, st.Status == "running"); err != nil {
			return err
		}
	}

	if err := r.graph.UnmountFilesystem(ctx, c.ID, true); err != nil {
		return err
	}

	bundleDir, err := r.bundleDir(c.ID)
	if err == nil {
		_ = os.RemoveAll(bundleDir)
	}

	delete(r.containers, c.ID)
	if err := r.persistIndex(ctx); err != nil {
		return err
	}
	_ = r.names.Release(c.Name, c.ID)

	log.G(ctx).Debugf("runtime: finish remove_container %s", c.ID)
	return nil
}

// Start starts a created or stopped container via the external runtime.
func (r *Runtime) Start(ctx context.Context, ref string) error {
	c, err := r.resolve(ref)
	if err != nil {
		return err
	}
	st, err := r.runc.State(ctx, c.RuncID)
	if err != nil {
		return err
	}
	if st == nil || (st.Status != "created" && st.Status != "stopped") {
		status := "unknown"
		if st != nil {
			status = st.Status
		}
		return fmt.Errorf("%w: container %q is %q", ErrInvalidState, c.ID, status)
	}
	return r.runc.Start(ctx, c.RuncID)
}

// Status returns the external runtime's status string for ref, or "exited"
// if the runtime has no record of it (it has never been started, or was
// cleaned up after exiting).
func (r *Runtime) Status(ctx context.Context, ref string) (string, error) {
	c, err := r.resolve(ref)
	if err != nil {
		return "", err
	}
	st, err := r.runc.State(ctx, c.RuncID)
	if err != nil {
		return "", err
	}
	if st == nil {
		return "exited", nil
	}
	return st.Status, nil
}

// Exec is not implemented: the specification stubs this operation.
func (r *Runtime) Exec(ctx context.Context, ref, command string, args []string) error {
	return ErrUnsupported
}

// GetContainer resolves ref and returns a copy of the matching Container.
func (r *Runtime) GetContainer(ref string) (*Container, error) {
	c, err := r.resolve(ref)
	if err != nil {
		return nil, err
	}
	return cloneContainer(c), nil
}

// ListContainers returns every registered Container, sorted by id.
func (r *Runtime) ListContainers() []*Container {
	ids := make([]string, 0, len(r.containers))
	for id := range r.containers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Container, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneContainer(r.containers[id]))
	}
	return out
}

func (r *Runtime) resolve(ref string) (*Container, error) {
	if c, ok := r.containers[ref]; ok {
		return c, nil
	}
	var byShortID, byName *Container
	for _, c := range r.containers {
		if idgen.Short(c.ID) == ref {
			byShortID = c
		}
		if c.Name == ref {
			byName = c
		}
	}
	if byShortID != nil {
		return byShortID, nil
	}
	if byName != nil {
		return byName, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrContainerUnknown, ref)
}

func (r *Runtime) isLayerReferencedByContainer(layerID string) bool {
	for _, c := range r.containers {
		fs, err := r.graph.GetFilesystem(c.FilesystemID)
		if err != nil {
			continue
		}
		if fs.LayerID == layerID {
			return true
		}
	}
	return false
}
