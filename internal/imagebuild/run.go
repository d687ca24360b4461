package imagebuild

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-connections/nat"

	"github.com/splax/tweetwatch/internal/docker"
)

const defaultStopTimeout = 10 * time.Second

// ContainerRunner starts a built image and follows it until exit.
type ContainerRunner interface {
	RunContainer(ctx context.Context, name, image string, env []string, ports nat.PortMap) (docker.ContainerInfo, error)
	FollowLogs(ctx context.Context, containerID string, stdout, stderr io.Writer) error
	WaitForStop(ctx context.Context, containerID string) (int64, error)
	StopContainer(ctx context.Context, containerID string, timeout time.Duration) error
	RemoveContainer(ctx context.Context, name string) error
}

// RunRequest describes one container launch.
type RunRequest struct {
	Image       string
	Name        string
	Port        int
	Env         []string
	StopTimeout time.Duration
	Stdout      io.Writer
	Stderr      io.Writer
}

// Runner launches built images the way the hosting platform would: PORT set
// in the environment and the same port published on the host.
type Runner struct {
	docker ContainerRunner
	logger *slog.Logger
}

// NewRunner constructs a Runner.
func NewRunner(runner ContainerRunner, logger *slog.Logger) Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return Runner{docker: runner, logger: logger}
}

// Run starts the container and blocks until it stops, returning its exit
// code. Cancelling ctx stops the container first.
func (r Runner) Run(ctx context.Context, req RunRequest) (int64, error) {
	if strings.TrimSpace(req.Image) == "" {
		return 0, fmt.Errorf("image cannot be empty")
	}
	if req.Port < 1 || req.Port > 65535 {
		return 0, fmt.Errorf("port %d out of range 1-65535", req.Port)
	}
	if req.Name == "" {
		req.Name = "tweetwatch-" + strconv.Itoa(req.Port)
	}
	if req.StopTimeout <= 0 {
		req.StopTimeout = defaultStopTimeout
	}
	_, ports, err := docker.PublishPort(req.Port)
	if err != nil {
		return 0, err
	}
	env := append([]string{"PORT=" + strconv.Itoa(req.Port)}, withoutPort(req.Env)...)
	log := r.logger.With("image", req.Image, "container", req.Name, "port", req.Port)

	if err := r.docker.RemoveContainer(ctx, req.Name); err != nil {
		log.Warn("remove existing container failed", "error", err)
	}
	info, err := r.docker.RunContainer(ctx, req.Name, req.Image, env, ports)
	if err != nil {
		return 0, err
	}
	log.Info("container started", "container_id", info.ID, "ports", info.PortBinding)

	if req.Stdout != nil || req.Stderr != nil {
		stdout, stderr := req.Stdout, req.Stderr
		if stdout == nil {
			stdout = io.Discard
		}
		if stderr == nil {
			stderr = io.Discard
		}
		go func() {
			if err := r.docker.FollowLogs(ctx, info.ID, stdout, stderr); err != nil {
				log.Debug("log stream ended", "error", err)
			}
		}()
	}

	code, err := r.docker.WaitForStop(ctx, info.ID)
	if err == nil {
		log.Info("container exited", "exit_code", code)
		return code, nil
	}
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return code, err
	}

	log.Info("stopping container")
	stopCtx, cancel := context.WithTimeout(context.Background(), req.StopTimeout+5*time.Second)
	defer cancel()
	if err := r.docker.StopContainer(stopCtx, info.ID, req.StopTimeout); err != nil {
		return 0, err
	}
	code, err = r.docker.WaitForStop(stopCtx, info.ID)
	if errors.Is(err, docker.ErrNotFound) {
		return 0, nil
	}
	return code, err
}

func withoutPort(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.HasPrefix(kv, "PORT=") {
			continue
		}
		out = append(out, kv)
	}
	return out
}
