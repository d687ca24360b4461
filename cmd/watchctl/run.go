package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/splax/tweetwatch/internal/docker"
	"github.com/splax/tweetwatch/internal/imagebuild"
	"github.com/splax/tweetwatch/pkg/config"
)

func newRunCommand(root *rootOptions) *cobra.Command {
	var (
		port int
		req  imagebuild.RunRequest
	)
	cmd := &cobra.Command{
		Use:   "run IMAGE",
		Short: "Run a built image with PORT set and the port published",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := root.logger(cmd)
			if port == 0 {
				resolved, err := config.GetPort("PORT", config.DefaultPort)
				if err != nil {
					return err
				}
				port = resolved
			}

			client, err := docker.New(root.cfg.DockerHost)
			if err != nil {
				return err
			}
			defer client.Close()

			req.Image = args[0]
			req.Port = port
			req.Stdout = cmd.OutOrStdout()
			req.Stderr = cmd.ErrOrStderr()
			code, err := imagebuild.NewRunner(client, log).Run(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("run %s: %w", req.Image, err)
			}
			if code != 0 {
				return &exitError{code: int(code)}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "port passed as PORT and published on the host (defaults to $PORT or 5000)")
	cmd.Flags().StringVar(&req.Name, "name", "", "container name")
	cmd.Flags().StringArrayVarP(&req.Env, "env", "e", nil, "extra environment variables (KEY=VALUE)")
	cmd.Flags().DurationVar(&req.StopTimeout, "stop-timeout", 0, "grace period before the container is killed on interrupt")
	return cmd
}
