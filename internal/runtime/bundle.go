package runtime

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const bundleConfigFile = "config.json"

// rootfsPath returns the path the runtime-spec "root.path" field should
// carry for a bundle whose filesystem is mounted at mountpoint. Solaris
// hosts nest the actual root one level deeper, under "root", and carry an
// anet stanza; every other host mounts the filesystem directly as root.
func rootfsPath(mountpoint string) string {
	if isSolarisHost() {
		return filepath.Join(mountpoint, "root")
	}
	return mountpoint
}

// buildBundleSpec derives an OCI runtime-spec config.json from an image's
// config, the generated hostname (the container's short id), the mounted
// rootfs path, and optional command/workdir overrides.
func buildBundleSpec(imageConfig ocispec.Image, hostname, mountpoint string, command []string, workdir string) *specs.Spec {
	cfg := imageConfig.Config

	args := command
	if len(args) == 0 {
		args = append(append([]string(nil), cfg.Entrypoint...), cfg.Cmd...)
	}
	if len(args) == 0 {
		args = []string{"/bin/sh"}
	}
	cwd := workdir
	if cwd == "" {
		cwd = cfg.WorkingDir
	}
	if cwd == "" {
		cwd = "/"
	}

	spec := &specs.Spec{
		Version: specs.Version,
		Platform: &specs.Platform{
			OS:   imageConfig.OS,
			Arch: imageConfig.Architecture,
		},
		Hostname: hostname,
		Process: &specs.Process{
			Terminal: true,
			User:     specs.User{UID: 0, GID: 0},
			Args:     args,
			Env:      cfg.Env,
			Cwd:      cwd,
		},
		Root: &specs.Root{
			Path:     rootfsPath(mountpoint),
			Readonly: false,
		},
	}
	if isSolarisHost() {
		spec.Solaris = &specs.Solaris{
			Anet: []specs.Anet{{}},
		}
	}
	return spec
}

// writeBundle writes dir/config.json for spec, creating dir if needed.
func writeBundle(dir string, spec *specs.Spec) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("runtime: creating bundle directory %q: %w", dir, err)
	}
	data, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("runtime: encoding bundle config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, bundleConfigFile), data, 0o644); err != nil {
		return fmt.Errorf("runtime: writing bundle config: %w", err)
	}
	return nil
}
