package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newContainersCommand(configPath *string) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:                   "ps",
		Short:                 "List containers",
		Args:                  cobra.NoArgs,
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnvironment(*configPath, func(ctx context.Context, env *environment) error {
				return psAction(ctx, env, quiet)
			})
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only print container ids")
	return cmd
}

func psAction(ctx context.Context, env *environment, quiet bool) error {
	containers := env.runtime.ListContainers()
	if quiet {
		for _, c := range containers {
			fmt.Println(c.ID)
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 4, 8, 2, ' ', 0)
	fmt.Fprintln(w, "CONTAINER ID\tIMAGE\tNAME\tSTATUS\tCREATED")
	for _, c := range containers {
		status, err := env.runtime.Status(ctx, c.ID)
		if err != nil {
			status = "unknown"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			c.RuncID, shortID(c.ImageID), c.Name, status, c.CreateTime.Format("2006-01-02T15:04:05Z"))
	}
	return w.Flush()
}

func newCreateCommand(configPath *string) *cobra.Command {
	var name, workdir string
	cmd := &cobra.Command{
		Use:                   "create IMAGE [COMMAND] [ARG...]",
		Short:                 "Create and start a container from an image",
		Args:                  cobra.MinimumNArgs(1),
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnvironment(*configPath, func(ctx context.Context, env *environment) error {
				imageRef := args[0]
				var command []string
				if len(args) > 1 {
					command = args[1:]
				}
				c, err := env.runtime.CreateContainer(ctx, imageRef, name, command, workdir)
				if err != nil {
					return err
				}
				if err := env.runtime.Start(ctx, c.ID); err != nil {
					return err
				}
				fmt.Println(c.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "assign a name to the container")
	cmd.Flags().StringVar(&workdir, "workdir", "", "working directory inside the container")
	return cmd
}

func newStartCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:                   "start CONTAINER",
		Short:                 "Start a created or stopped container",
		Args:                  cobra.ExactArgs(1),
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnvironment(*configPath, func(ctx context.Context, env *environment) error {
				return env.runtime.Start(ctx, args[0])
			})
		},
	}
}

func newRmCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:                   "rm CONTAINER",
		Short:                 "Remove a container",
		Args:                  cobra.ExactArgs(1),
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnvironment(*configPath, func(ctx context.Context, env *environment) error {
				return env.runtime.RemoveContainer(ctx, args[0])
			})
		},
	}
}
