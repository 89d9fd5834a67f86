package distribution

import (
	"context"
	"testing"

	"gotest.tools/v3/assert"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/guillermomolina/oci-graph/internal/backend/fake"
	"github.com/guillermomolina/oci-graph/internal/graph"
)

func newTestFixture(t *testing.T) (*graph.Driver, *Distribution) {
	t.Helper()
	ctx := context.Background()
	be := fake.New(t.TempDir())
	g, err := graph.New(ctx, t.TempDir(), "pool/oci", be)
	assert.NilError(t, err)
	d, err := New(ctx, t.TempDir(), g)
	assert.NilError(t, err)
	return g, d
}

func commitEmptyLayer(t *testing.T, ctx context.Context, g *graph.Driver, parentLayerID string) *graph.Layer {
	t.Helper()
	fs, err := g.CreateFilesystem(ctx, parentLayerID)
	assert.NilError(t, err)
	layer, err := g.CreateLayer(ctx, fs.ID)
	assert.NilError(t, err)
	return layer
}

func TestCreateImageRequiresLayers(t *testing.T) {
	ctx := context.Background()
	_, d := newTestFixture(t)
	_, err := d.CreateImage(ctx, ocispec.Image{}, nil)
	assert.Assert(t, err != nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCreateImageAndResolve(t *testing.T) {
	ctx := context.Background()
	g, d := newTestFixture(t)
	l0 := commitEmptyLayer(t, ctx, g, "")

	config := ocispec.Image{Architecture: "amd64", OS: "linux"}
	config.Config.Cmd = []string{"/bin/sh"}

	img, err := d.CreateImage(ctx, config, []*graph.Layer{l0})
	assert.NilError(t, err)
	assert.Assert(t, img.ID != "")

	byID, err := d.GetImage(img.ID)
	assert.NilError(t, err)
	assert.Equal(t, byID.ID, img.ID)

	l0Reloaded, err := g.GetLayer(l0.DiffID)
	assert.NilError(t, err)
	_, referenced := l0Reloaded.Images[img.ID]
	assert.Assert(t, referenced)
}

func TestTagReassignment(t *testing.T) {
	ctx := context.Background()
	g, d := newTestFixture(t)
	l0 := commitEmptyLayer(t, ctx, g, "")
	l1 := commitEmptyLayer(t, ctx, g, "")

	img1, err := d.CreateImage(ctx, ocispec.Image{Architecture: "amd64", OS: "linux"}, []*graph.Layer{l0})
	assert.NilError(t, err)
	img2, err := d.CreateImage(ctx, ocispec.Image{Architecture: "amd64", OS: "linux", Config: ocispec.ImageConfig{Cmd: []string{"/bin/true"}}}, []*graph.Layer{l1})
	assert.NilError(t, err)

	assert.NilError(t, d.AddTag(ctx, img1.ID, "x:latest"))
	assert.NilError(t, d.AddTag(ctx, img2.ID, "x:latest"))

	got1, err := d.GetImage(img1.ID)
	assert.NilError(t, err)
	assert.Assert(t, !got1.hasTag("x:latest"))

	got2, err := d.GetImage("x:latest")
	assert.NilError(t, err)
	assert.Equal(t, got2.ID, img2.ID)
}

func TestRemoveImageReleasesLayers(t *testing.T) {
	ctx := context.Background()
	g, d := newTestFixture(t)
	l0 := commitEmptyLayer(t, ctx, g, "")

	img, err := d.CreateImage(ctx, ocispec.Image{Architecture: "amd64", OS: "linux"}, []*graph.Layer{l0})
	assert.NilError(t, err)

	assert.NilError(t, d.RemoveImage(ctx, img.ID, false))

	_, err = g.GetLayer(l0.DiffID)
	assert.Assert(t, err != nil, "layer should be removed once its only image is gone")
}
