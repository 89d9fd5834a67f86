package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

func newImagesCommand(configPath *string) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:                   "images",
		Short:                 "List images",
		Args:                  cobra.NoArgs,
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnvironment(*configPath, func(ctx context.Context, env *environment) error {
				return imagesAction(ctx, env, quiet)
			})
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only print image ids")
	return cmd
}

func imagesAction(ctx context.Context, env *environment, quiet bool) error {
	images := env.distribution.ListImages()
	if quiet {
		for _, img := range images {
			fmt.Println(img.ID)
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 4, 8, 2, ' ', 0)
	fmt.Fprintln(w, "REPOSITORY\tTAG\tIMAGE ID\tSIZE")
	for _, repo := range env.distribution.Repositories() {
		for _, ref := range repo.Images {
			size, err := env.graph.VirtualSize(ctx, imageTopLayerID(env, ref.ImageID))
			if err != nil {
				size = 0
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", repo.Name, ref.Tag, shortID(ref.ImageID), units.HumanSize(float64(size)))
		}
	}
	return w.Flush()
}

func imageTopLayerID(env *environment, imageID string) string {
	img, err := env.distribution.GetImage(imageID)
	if err != nil {
		return ""
	}
	return img.TopLayerID()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func newRmiCommand(configPath *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:                   "rmi IMAGE",
		Short:                 "Remove an image",
		Args:                  cobra.ExactArgs(1),
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnvironment(*configPath, func(ctx context.Context, env *environment) error {
				return env.distribution.RemoveImage(ctx, args[0], force)
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "remove even if a container uses the image")
	return cmd
}

func newTagCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:                   "tag SOURCE TARGET",
		Short:                 "Tag an image",
		Args:                  cobra.ExactArgs(2),
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnvironment(*configPath, func(ctx context.Context, env *environment) error {
				return env.distribution.AddTag(ctx, args[0], args[1])
			})
		},
	}
}
