package main

import (
	"github.com/spf13/cobra"

	"github.com/splax/tweetwatch/internal/imagebuild"
	"github.com/splax/tweetwatch/pkg/config"
)

func newDockerfileCommand(root *rootOptions) *cobra.Command {
	var (
		source string
		opts   imagebuild.DockerfileOptions
	)
	cmd := &cobra.Command{
		Use:   "dockerfile",
		Short: "Print the Dockerfile build would generate for a source directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := imagebuild.ParseManifest(source)
			if err != nil {
				return err
			}
			buildCtx, err := imagebuild.Collect(source)
			if err != nil {
				return err
			}
			opts.Manifest = manifest
			opts.ContextDigest = buildCtx.Digest()
			opts.BaseImage = root.cfg.BaseImage
			opts.BuilderImage = root.cfg.BuilderImage
			content, err := imagebuild.RenderDockerfile(opts)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(content)
			return err
		},
	}
	cmd.Flags().StringVar(&source, "source", ".", "source directory")
	cmd.Flags().IntVar(&opts.Port, "port", root.cfg.Port, "port recorded in the image")
	cmd.Flags().StringVar(&opts.AppTarget, "app", config.DefaultAppTarget, "application target started by the image")
	return cmd
}
