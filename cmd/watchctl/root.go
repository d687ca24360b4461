package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/splax/tweetwatch/pkg/config"
	"github.com/splax/tweetwatch/pkg/logger"
)

type rootOptions struct {
	logLevel string
	cfg      config.BuilderConfig
	cfgErr   error
}

func (o *rootOptions) logger(cmd *cobra.Command) *slog.Logger {
	return logger.NewWithWriter(cmd.ErrOrStderr(), "watchctl", logger.ParseLevel(o.logLevel))
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	opts.cfg, opts.cfgErr = config.LoadBuilderConfig()
	cmd := &cobra.Command{
		Use:           "watchctl",
		Short:         "Build and run the tweetwatch container image",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.cfgErr
		},
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.cfg.DockerHost, "docker-host", opts.cfg.DockerHost, "Docker daemon address (defaults to DOCKER_HOST)")

	cmd.AddCommand(
		newBuildCommand(opts),
		newRunCommand(opts),
		newDockerfileCommand(opts),
	)
	return cmd
}
