package runtime

import (
	"context"
	"testing"

	"gotest.tools/v3/assert"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/guillermomolina/oci-graph/internal/backend/fake"
	"github.com/guillermomolina/oci-graph/internal/distribution"
	"github.com/guillermomolina/oci-graph/internal/graph"
)

func newTestRuntime(t *testing.T) (*graph.Driver, *distribution.Distribution, *Runtime) {
	t.Helper()
	ctx := context.Background()
	be := fake.New(t.TempDir())
	g, err := graph.New(ctx, t.TempDir(), "pool/oci", be)
	assert.NilError(t, err)
	dist, err := distribution.New(ctx, t.TempDir(), g)
	assert.NilError(t, err)
	r, err := New(ctx, t.TempDir(), g, dist, "")
	assert.NilError(t, err)
	r.runc = newFakeRunc()
	return g, dist, r
}

func commitImage(t *testing.T, ctx context.Context, g *graph.Driver, dist *distribution.Distribution, cmd []string) *distribution.Image {
	t.Helper()
	fs, err := g.CreateFilesystem(ctx, "")
	assert.NilError(t, err)
	layer, err := g.CreateLayer(ctx, fs.ID)
	assert.NilError(t, err)
	config := ocispec.Image{Architecture: hostArchitecture(), OS: hostOS()}
	config.Config.Cmd = cmd
	img, err := dist.CreateImage(ctx, config, []*graph.Layer{layer})
	assert.NilError(t, err)
	return img
}

func TestCreateContainerAndResolve(t *testing.T) {
	ctx := context.Background()
	g, dist, r := newTestRuntime(t)
	img := commitImage(t, ctx, g, dist, []string{"/bin/sh"})

	c, err := r.CreateContainer(ctx, img.ID, "", nil, "")
	assert.NilError(t, err)
	assert.Assert(t, c.Name != "")
	assert.Assert(t, c.RuncID == c.ID[:12])

	byID, err := r.GetContainer(c.ID)
	assert.NilError(t, err)
	assert.Equal(t, byID.ID, c.ID)

	byShortID, err := r.GetContainer(c.RuncID)
	assert.NilError(t, err)
	assert.Equal(t, byShortID.ID, c.ID)

	byName, err := r.GetContainer(c.Name)
	assert.NilError(t, err)
	assert.Equal(t, byName.ID, c.ID)
}

func TestCreateContainerExplicitName(t *testing.T) {
	ctx := context.Background()
	g, dist, r := newTestRuntime(t)
	img := commitImage(t, ctx, g, dist, []string{"/bin/true"})

	c, err := r.CreateContainer(ctx, img.ID, "mybox", nil, "")
	assert.NilError(t, err)
	assert.Equal(t, c.Name, "mybox")

	_, err = r.CreateContainer(ctx, img.ID, "mybox", nil, "")
	assert.Assert(t, err != nil, "duplicate container name must be rejected")
}

func TestCreateContainerIncompatibleImage(t *testing.T) {
	ctx := context.Background()
	g, dist, r := newTestRuntime(t)
	fs, err := g.CreateFilesystem(ctx, "")
	assert.NilError(t, err)
	layer, err := g.CreateLayer(ctx, fs.ID)
	assert.NilError(t, err)
	img, err := dist.CreateImage(ctx, ocispec.Image{Architecture: "impossible-arch", OS: "impossible-os"}, []*graph.Layer{layer})
	assert.NilError(t, err)

	_, err = r.CreateContainer(ctx, img.ID, "", nil, "")
	assert.Assert(t, err != nil)
	assert.ErrorIs(t, err, ErrIncompatibleImage)
}

func TestRemoveContainerReleasesResources(t *testing.T) {
	ctx := context.Background()
	g, dist, r := newTestRuntime(t)
	img := commitImage(t, ctx, g, dist, []string{"/bin/sh"})

	c, err := r.CreateContainer(ctx, img.ID, "removable", nil, "")
	assert.NilError(t, err)

	assert.NilError(t, r.RemoveContainer(ctx, c.ID))

	_, err = r.GetContainer(c.ID)
	assert.Assert(t, err != nil)
	assert.ErrorIs(t, err, ErrContainerUnknown)

	// the name must be free again
	second, err := r.CreateContainer(ctx, img.ID, "removable", nil, "")
	assert.NilError(t, err)
	assert.Equal(t, second.Name, "removable")
}

func TestStartRequiresCreatedOrStoppedState(t *testing.T) {
	ctx := context.Background()
	g, dist, r := newTestRuntime(t)
	img := commitImage(t, ctx, g, dist, []string{"/bin/sh"})

	c, err := r.CreateContainer(ctx, img.ID, "", nil, "")
	assert.NilError(t, err)

	assert.NilError(t, r.Start(ctx, c.ID))

	status, err := r.Status(ctx, c.ID)
	assert.NilError(t, err)
	assert.Equal(t, status, "running")

	err = r.Start(ctx, c.ID)
	assert.Assert(t, err != nil, "starting an already-running container must fail")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestExecIsUnsupported(t *testing.T) {
	ctx := context.Background()
	_, _, r := newTestRuntime(t)
	err := r.Exec(ctx, "whatever", "ls", nil)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestRemoveImageBlockedByLiveContainer(t *testing.T) {
	ctx := context.Background()
	g, dist, r := newTestRuntime(t)
	img := commitImage(t, ctx, g, dist, []string{"/bin/sh"})

	_, err := r.CreateContainer(ctx, img.ID, "", nil, "")
	assert.NilError(t, err)

	err = dist.RemoveImage(ctx, img.ID, false)
	assert.Assert(t, err != nil)
	assert.ErrorIs(t, err, distribution.ErrImageInUse)
}
