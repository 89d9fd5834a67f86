package fake

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/guillermomolina/oci-graph/internal/backend"
)

func TestCreateCloneSnapshotDiff(t *testing.T) {
	ctx := context.Background()
	b := New(t.TempDir())

	assert.NilError(t, b.Create(ctx, "root", "", ""))
	assert.NilError(t, b.Snapshot(ctx, "root", "diff"))

	assert.NilError(t, b.Clone(ctx, "root/child", "root@diff", ""))
	mp, err := b.Mountpoint(ctx, "root/child")
	assert.NilError(t, err)
	assert.NilError(t, os.WriteFile(filepath.Join(mp, "a"), []byte("hello\n"), 0o644))
	assert.NilError(t, b.Snapshot(ctx, "root/child", "diff"))

	changes, err := b.Diff(ctx, "root/child@diff", "root@diff")
	assert.NilError(t, err)
	assert.Equal(t, len(changes), 1)
	assert.Equal(t, changes[0].Kind, backend.ChangeAdded)
	assert.Equal(t, changes[0].Path, "a")
}

func TestDestroyRemovesDataset(t *testing.T) {
	ctx := context.Background()
	b := New(t.TempDir())
	assert.NilError(t, b.Create(ctx, "root", "", ""))
	assert.NilError(t, b.Destroy(ctx, "root", false))

	_, err := b.Mountpoint(ctx, "root")
	assert.Assert(t, err != nil)
}

func TestRenamePreservesSnapshots(t *testing.T) {
	ctx := context.Background()
	b := New(t.TempDir())
	assert.NilError(t, b.Create(ctx, "root", "", ""))
	assert.NilError(t, b.Snapshot(ctx, "root", "diff"))
	assert.NilError(t, b.Rename(ctx, "root", "moved"))

	_, err := b.Diff(ctx, "moved@diff", "")
	assert.NilError(t, err)
}
