package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/splax/tweetwatch/internal/app"
	"github.com/splax/tweetwatch/internal/launch"
	"github.com/splax/tweetwatch/pkg/config"
	"github.com/splax/tweetwatch/pkg/logger"
)

func main() {
	cfg, err := config.LoadWatcherConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "watcher: %v\n", err)
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.AppTarget) == "" {
		cfg.AppTarget = config.DefaultAppTarget
	}
	appTarget := flag.String("app", cfg.AppTarget, "application target to serve (module:attr)")
	flag.Parse()

	log := logger.New("watcher", logger.ParseLevel(cfg.LogLevel))

	target, err := launch.ParseTarget(*appTarget)
	if err != nil {
		log.Error("invalid application target", "error", err)
		os.Exit(1)
	}

	registry := launch.NewRegistry()
	if err := app.Register(registry, cfg, log); err != nil {
		log.Error("failed to register application", "error", err)
		os.Exit(1)
	}

	launcher, err := launch.New(launch.Options{
		Target:          target,
		Registry:        registry,
		Port:            cfg.Port,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          log,
	})
	if err != nil {
		log.Error("failed to configure launcher", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting watcher", "target", target.String(), "port", cfg.Port, "env", cfg.Environment)
	if err := launcher.Run(ctx); err != nil {
		log.Error("watcher exited", "error", err, "state", launcher.State().String())
		stop()
		os.Exit(1)
	}
	log.Info("watcher stopped")
}
