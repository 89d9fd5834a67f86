// Package ociconfig loads the module's static configuration: the data and
// runtime directories shared by every registry, and the graph driver's
// backend-specific settings. See docs/config.md-equivalent: this file is
// the single source of truth for what oci.toml recognises.
package ociconfig

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// ZFSConfig holds the settings specific to the zfs graph backend.
type ZFSConfig struct {
	Filesystem  string `toml:"filesystem"`
	Compression string `toml:"compression"`
}

// GraphConfig selects and configures the graph driver's backend.
type GraphConfig struct {
	Driver string    `toml:"driver"`
	ZFS    ZFSConfig `toml:"zfs"`
}

// RuntimeConfig selects the external OCI runtime executable.
type RuntimeConfig struct {
	Binary string `toml:"binary"`
}

// Config corresponds to oci.toml.
type Config struct {
	Global struct {
		Path    string `toml:"path"`
		RunPath string `toml:"run_path"`
	} `toml:"global"`
	Graph   GraphConfig   `toml:"graph"`
	Runtime RuntimeConfig `toml:"runtime"`
}

// New creates a default Config object statically, without interpolating
// CLI flags, env vars, or a toml file.
func New() *Config {
	c := &Config{}
	c.Global.Path = "/var/lib/oci"
	c.Global.RunPath = "/var/run/oci"
	c.Graph.Driver = "zfs"
	c.Graph.ZFS.Filesystem = "rpool/oci"
	c.Graph.ZFS.Compression = "lz4"
	c.Runtime.Binary = "runc"
	return c
}

// Load reads path, if it exists, over New's defaults. A missing file is
// not an error: the caller runs on defaults alone.
func Load(path string) (*Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("ociconfig: reading %q: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("ociconfig: parsing %q: %w", path, err)
	}
	return cfg, nil
}
