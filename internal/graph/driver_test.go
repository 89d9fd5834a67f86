package graph

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/guillermomolina/oci-graph/internal/backend/fake"
)

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	ctx := context.Background()
	be := fake.New(t.TempDir())
	d, err := New(ctx, t.TempDir(), "pool/oci", be)
	assert.NilError(t, err)
	return d
}

func TestCreateFilesystemAndCommit(t *testing.T) {
	ctx := context.Background()
	d := newTestDriver(t)

	fs0, err := d.CreateFilesystem(ctx, "")
	assert.NilError(t, err)

	l0, err := d.CreateLayer(ctx, fs0.ID)
	assert.NilError(t, err)
	assert.Assert(t, l0.DiffID != "")
	assert.Assert(t, l0.Descriptor.Digest.String() != "")

	fs1, err := d.CreateFilesystem(ctx, l0.DiffID)
	assert.NilError(t, err)

	mountpoint, err := d.MountpointOf(ctx, fs1.ID)
	assert.NilError(t, err)
	assert.NilError(t, os.WriteFile(filepath.Join(mountpoint, "a"), []byte("hello\n"), 0o644))

	l1, err := d.CreateLayer(ctx, fs1.ID)
	assert.NilError(t, err)
	assert.Equal(t, l1.FilesystemID, l1.DiffID)

	children, err := d.GetChildFilesystems(l0.DiffID)
	assert.NilError(t, err)
	assert.Equal(t, len(children), 1)
	assert.Equal(t, children[0].ID, l1.DiffID)
}

func TestRemoveLayerProtection(t *testing.T) {
	ctx := context.Background()
	d := newTestDriver(t)

	fs0, err := d.CreateFilesystem(ctx, "")
	assert.NilError(t, err)
	l0, err := d.CreateLayer(ctx, fs0.ID)
	assert.NilError(t, err)

	fs1, err := d.CreateFilesystem(ctx, l0.DiffID)
	assert.NilError(t, err)
	l1, err := d.CreateLayer(ctx, fs1.ID)
	assert.NilError(t, err)

	err = d.RemoveLayer(ctx, l0.DiffID)
	assert.Assert(t, err != nil, "removing a layer with a child filesystem should fail")
	assert.ErrorIs(t, err, ErrLayerInUse)

	assert.NilError(t, d.RemoveLayer(ctx, l1.DiffID))
	assert.NilError(t, d.RemoveLayer(ctx, l0.DiffID))
}

func TestMountUnmountFilesystem(t *testing.T) {
	ctx := context.Background()
	d := newTestDriver(t)

	fs, err := d.CreateFilesystem(ctx, "")
	assert.NilError(t, err)

	rootfs := t.TempDir()
	assert.NilError(t, d.MountFilesystem(ctx, fs.ID, "container-1", rootfs))

	_, err = d.CreateFilesystem(ctx, "")
	assert.NilError(t, err)

	mounted, err := d.GetFilesystemByContainerID("container-1")
	assert.NilError(t, err)
	assert.Equal(t, mounted.ID, fs.ID)

	assert.NilError(t, d.UnmountFilesystem(ctx, "container-1", false))
	_, err = d.GetFilesystemByContainerID("container-1")
	assert.Assert(t, err != nil)
}

func TestImageReferenceBookkeeping(t *testing.T) {
	ctx := context.Background()
	d := newTestDriver(t)

	fs, err := d.CreateFilesystem(ctx, "")
	assert.NilError(t, err)
	l, err := d.CreateLayer(ctx, fs.ID)
	assert.NilError(t, err)

	assert.NilError(t, d.AddImageReference(ctx, l.DiffID, "image-1"))
	err = d.AddImageReference(ctx, l.DiffID, "image-1")
	assert.Assert(t, err != nil, "adding the same image reference twice should fail")
	assert.ErrorIs(t, err, ErrAlreadyExists)

	err = d.RemoveLayer(ctx, l.DiffID)
	assert.Assert(t, err != nil)
	assert.ErrorIs(t, err, ErrLayerInUse)

	assert.NilError(t, d.RemoveImageReference(ctx, l.DiffID, "image-1"))
	assert.NilError(t, d.RemoveLayer(ctx, l.DiffID))
}

func TestPersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	dataRoot := t.TempDir()
	be := fake.New(t.TempDir())

	d, err := New(ctx, dataRoot, "pool/oci", be)
	assert.NilError(t, err)
	fs0, err := d.CreateFilesystem(ctx, "")
	assert.NilError(t, err)
	l0, err := d.CreateLayer(ctx, fs0.ID)
	assert.NilError(t, err)
	assert.NilError(t, d.AddImageReference(ctx, l0.DiffID, "image-1"))

	reloaded, err := New(ctx, dataRoot, "pool/oci", be)
	assert.NilError(t, err)

	layer, err := reloaded.GetLayer(l0.DiffID)
	assert.NilError(t, err)
	assert.Equal(t, layer.Descriptor.Digest, l0.Descriptor.Digest)
	assert.Assert(t, layer.hasImage("image-1"))
}
