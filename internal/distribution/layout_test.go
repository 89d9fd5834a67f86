package distribution

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/guillermomolina/oci-graph/internal/graph"
)

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	g, d := newTestFixture(t)
	l0 := commitEmptyLayer(t, ctx, g, "")

	config := ocispec.Image{Architecture: "amd64", OS: "linux"}
	config.Config.Cmd = []string{"/bin/sh"}
	img, err := d.CreateImage(ctx, config, []*graph.Layer{l0})
	assert.NilError(t, err)
	assert.NilError(t, d.AddTag(ctx, img.ID, "x:latest"))

	layoutDir := t.TempDir()
	assert.NilError(t, d.Export(ctx, "x:latest", layoutDir))

	assert.Assert(t, fileExists(filepath.Join(layoutDir, ocispec.ImageLayoutFile)))
	assert.Assert(t, fileExists(filepath.Join(layoutDir, "index.json")))
	assert.Assert(t, fileExists(filepath.Join(layoutDir, "blobs", "sha256", img.ID)))
	assert.Assert(t, fileExists(filepath.Join(layoutDir, "blobs", "sha256", img.Manifest.Config.Digest.Encoded())))

	_, d2 := newTestFixture(t)
	imported, err := d2.Import(ctx, layoutDir, "y:latest")
	assert.NilError(t, err)
	assert.Equal(t, imported.ID, img.ID)

	byTag, err := d2.GetImage("y:latest")
	assert.NilError(t, err)
	assert.Equal(t, byTag.ID, img.ID)
}

func TestImportRejectsMissingLayout(t *testing.T) {
	ctx := context.Background()
	_, d := newTestFixture(t)
	_, err := d.Import(ctx, t.TempDir(), "x:latest")
	assert.Assert(t, err != nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
