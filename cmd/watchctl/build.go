package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/splax/tweetwatch/internal/docker"
	"github.com/splax/tweetwatch/internal/imagebuild"
	"github.com/splax/tweetwatch/pkg/config"
)

func newBuildCommand(root *rootOptions) *cobra.Command {
	var (
		source string
		req    imagebuild.Request
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the watcher image from a source directory or git URL",
		Example: `  watchctl build --source .
  watchctl build --source https://github.com/splax/tweetwatch.git --tag tweetwatch:dev`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := root.logger(cmd)
			cfg := root.cfg

			client, err := docker.New(cfg.DockerHost)
			if err != nil {
				return err
			}
			defer client.Close()
			if err := client.Ping(cmd.Context()); err != nil {
				return err
			}
			ws, err := imagebuild.NewWorkspace(cfg.Workdir)
			if err != nil {
				return err
			}
			svc := imagebuild.NewService(client, ws, imagebuild.Options{
				Registry:     cfg.Registry,
				BaseImage:    cfg.BaseImage,
				BuilderImage: cfg.BuilderImage,
				GitTimeout:   cfg.GitTimeout,
				BuildTimeout: cfg.BuildTimeout,
				Logger:       log,
			})

			req.Source = source
			result, err := svc.Build(cmd.Context(), req)
			if err != nil {
				if len(result.LogTail) > 0 {
					fmt.Fprintln(cmd.ErrOrStderr(), "last build output:")
					for _, line := range result.LogTail {
						fmt.Fprintln(cmd.ErrOrStderr(), "  "+line)
					}
				}
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "image:          %s\n", result.Image)
			fmt.Fprintf(out, "context digest: %s\n", result.ContextDigest)
			fmt.Fprintf(out, "module:         %s (%d requirements)\n", result.Manifest.Module, len(result.Manifest.Requires))
			fmt.Fprintf(out, "dockerfile:     %s (generated: %t)\n", result.Dockerfile, result.DockerfileGenerated)
			if req.KeepWorkspace {
				fmt.Fprintf(out, "workspace:      %s\n", result.Workspace)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", ".", "source directory or git URL")
	cmd.Flags().StringVar(&req.Tag, "tag", "", "image tag (derived from module and context digest when empty)")
	cmd.Flags().IntVar(&req.Port, "port", root.cfg.Port, "port recorded in the image (ENV PORT, EXPOSE)")
	cmd.Flags().StringVar(&req.AppTarget, "app", config.DefaultAppTarget, "application target started by the image")
	cmd.Flags().BoolVar(&req.KeepWorkspace, "keep-workspace", false, "keep the staged build directory")
	return cmd
}
