package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/guillermomolina/oci-graph/internal/backend"
	"github.com/guillermomolina/oci-graph/internal/distribution"
	"github.com/guillermomolina/oci-graph/internal/graph"
	"github.com/guillermomolina/oci-graph/internal/lockutil"
	"github.com/guillermomolina/oci-graph/internal/ociconfig"
	"github.com/guillermomolina/oci-graph/internal/runtime"
)

// environment is every registry this module exposes, opened once per
// invocation under the root directory's exclusive lock.
type environment struct {
	cfg          *ociconfig.Config
	graph        *graph.Driver
	distribution *distribution.Distribution
	runtime      *runtime.Runtime
}

func newRootCommand() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:           "ocictl",
		Short:         "manual operation CLI for the ZFS-backed OCI graph store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "/etc/oci/oci.toml", "path to oci.toml")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	cmd.AddCommand(
		newImagesCommand(&configPath),
		newRmiCommand(&configPath),
		newTagCommand(&configPath),
		newContainersCommand(&configPath),
		newCreateCommand(&configPath),
		newRmCommand(&configPath),
		newStartCommand(&configPath),
		newLayersCommand(&configPath),
		newSaveCommand(&configPath),
		newLoadCommand(&configPath),
	)
	return cmd
}

// withEnvironment loads configuration from *configPath, takes the
// process-level exclusive lock spec §5 calls for on the data root, opens
// every registry under it, and runs fn. The lock is held for fn's entire
// duration: this module's registries are not safe for concurrent use from
// more than one ocictl process.
func withEnvironment(configPath string, fn func(ctx context.Context, env *environment) error) error {
	ctx := context.Background()

	cfg, err := ociconfig.Load(configPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Global.Path, 0o755); err != nil {
		return fmt.Errorf("ocictl: creating data root %q: %w", cfg.Global.Path, err)
	}

	return lockutil.WithDirLock(cfg.Global.Path, func() error {
		var be backend.Backend = backend.NewZFS()

		g, err := graph.New(ctx, filepath.Join(cfg.Global.Path, "graph"), cfg.Graph.ZFS.Filesystem, be)
		if err != nil {
			return err
		}
		dist, err := distribution.New(ctx, filepath.Join(cfg.Global.Path, "distribution"), g)
		if err != nil {
			return err
		}
		rt, err := runtime.New(ctx, filepath.Join(cfg.Global.Path, "containers"), g, dist, cfg.Runtime.Binary)
		if err != nil {
			return err
		}

		env := &environment{cfg: cfg, graph: g, distribution: dist, runtime: rt}
		return fn(ctx, env)
	})
}
