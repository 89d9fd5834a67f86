package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

func newLayersCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:                   "layers",
		Short:                 "List layers",
		Args:                  cobra.NoArgs,
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnvironment(*configPath, func(ctx context.Context, env *environment) error {
				return layersAction(ctx, env)
			})
		},
	}
}

func layersAction(ctx context.Context, env *environment) error {
	w := tabwriter.NewWriter(os.Stdout, 4, 8, 2, ' ', 0)
	fmt.Fprintln(w, "LAYER ID\tSIZE\tIMAGES")
	for _, layer := range env.graph.ListLayers() {
		fmt.Fprintf(w, "%s\t%s\t%d\n", shortID(layer.DiffID), units.HumanSize(float64(layer.Size)), len(layer.Images))
	}
	return w.Flush()
}
