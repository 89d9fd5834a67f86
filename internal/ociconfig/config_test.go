package ociconfig

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

func TestNewDefaults(t *testing.T) {
	cfg := New()
	assert.Equal(t, cfg.Global.Path, "/var/lib/oci")
	assert.Equal(t, cfg.Global.RunPath, "/var/run/oci")
	assert.Equal(t, cfg.Graph.Driver, "zfs")
	assert.Equal(t, cfg.Graph.ZFS.Filesystem, "rpool/oci")
	assert.Equal(t, cfg.Graph.ZFS.Compression, "lz4")
	assert.Equal(t, cfg.Runtime.Binary, "runc")
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	assert.NilError(t, err)
	assert.Equal(t, cfg.Graph.Driver, "zfs")
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oci.toml")
	contents := `
[global]
path = "/srv/oci"

[graph]
driver = "zfs"

[graph.zfs]
filesystem = "tank/oci"
compression = "off"
`
	assert.NilError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	assert.NilError(t, err)
	assert.Equal(t, cfg.Global.Path, "/srv/oci")
	assert.Equal(t, cfg.Global.RunPath, "/var/run/oci")
	assert.Equal(t, cfg.Graph.ZFS.Filesystem, "tank/oci")
	assert.Equal(t, cfg.Graph.ZFS.Compression, "off")
}
