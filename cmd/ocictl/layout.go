package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newSaveCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:                   "save IMAGE DESTDIR",
		Short:                 "Export an image to an OCI image-layout directory",
		Args:                  cobra.ExactArgs(2),
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnvironment(*configPath, func(ctx context.Context, env *environment) error {
				return env.distribution.Export(ctx, args[0], args[1])
			})
		},
	}
}

func newLoadCommand(configPath *string) *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:                   "load LAYOUTDIR",
		Short:                 "Import an image from an OCI image-layout directory",
		Args:                  cobra.ExactArgs(1),
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnvironment(*configPath, func(ctx context.Context, env *environment) error {
				img, err := env.distribution.Import(ctx, args[0], tag)
				if err != nil {
					return err
				}
				cmd.Println(img.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "tag to assign the imported image")
	return cmd
}
