package docker

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// ContainerInfo captures minimal runtime details about a started container.
type ContainerInfo struct {
	ID          string
	PortBinding nat.PortMap
}

// PublishPort maps container port/tcp to the same host port on all interfaces.
func PublishPort(port int) (nat.Port, nat.PortMap, error) {
	p, err := nat.NewPort("tcp", strconv.Itoa(port))
	if err != nil {
		return "", nil, fmt.Errorf("container port: %w", err)
	}
	return p, nat.PortMap{
		p: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: p.Port()}},
	}, nil
}

// RunContainer creates and starts a container exposing the provided port mappings.
// The container is not restarted by the daemon: its exit is final.
func (c *Client) RunContainer(ctx context.Context, name, image string, env []string, ports nat.PortMap) (ContainerInfo, error) {
	if strings.TrimSpace(name) == "" {
		return ContainerInfo{}, fmt.Errorf("container name cannot be empty")
	}
	if strings.TrimSpace(image) == "" {
		return ContainerInfo{}, fmt.Errorf("image name cannot be empty")
	}

	config := &container.Config{
		Image:        image,
		Env:          env,
		ExposedPorts: nat.PortSet{},
	}
	for p := range ports {
		config.ExposedPorts[p] = struct{}{}
	}
	hostCfg := &container.HostConfig{PortBindings: ports}

	r, err := c.inner.ContainerCreate(ctx, config, hostCfg, nil, nil, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return ContainerInfo{}, fmt.Errorf("container create: image %s: %w", image, ErrNotFound)
		}
		return ContainerInfo{}, fmt.Errorf("container create: %w", err)
	}

	if err := c.inner.ContainerStart(ctx, r.ID, container.StartOptions{}); err != nil {
		return ContainerInfo{}, fmt.Errorf("container start: %w", err)
	}

	var inspect types.ContainerJSON
	for attempt := 0; attempt < 10; attempt++ {
		inspect, err = c.inner.ContainerInspect(ctx, r.ID)
		if err != nil {
			return ContainerInfo{}, fmt.Errorf("container inspect: %w", err)
		}
		if len(ports) == 0 || hasHostPort(inspect.NetworkSettings) || attempt == 9 {
			break
		}
		select {
		case <-ctx.Done():
			return ContainerInfo{}, fmt.Errorf("wait for host port: %w", ctx.Err())
		case <-time.After(200 * time.Millisecond):
		}
	}

	bindings := nat.PortMap{}
	if inspect.NetworkSettings != nil && inspect.NetworkSettings.Ports != nil {
		bindings = inspect.NetworkSettings.Ports
	}
	return ContainerInfo{ID: r.ID, PortBinding: bindings}, nil
}

// FollowLogs copies the container's stdout and stderr until it exits or ctx ends.
func (c *Client) FollowLogs(ctx context.Context, containerID string, stdout, stderr io.Writer) error {
	rc, err := c.inner.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return fmt.Errorf("container logs: %w", err)
	}
	defer rc.Close()
	if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil && ctx.Err() == nil {
		return fmt.Errorf("copy container logs: %w", err)
	}
	return nil
}

// StopContainer asks the container to stop, killing it after timeout.
func (c *Client) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	if err := c.inner.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &seconds}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("stop container: %w", err)
	}
	return nil
}

// RemoveContainer removes an existing container if it exists.
func (c *Client) RemoveContainer(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("container name cannot be empty")
	}
	if err := c.inner.ContainerRemove(ctx, name, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// WaitForStop blocks until the container stops and returns the exit code.
func (c *Client) WaitForStop(ctx context.Context, containerID string) (int64, error) {
	if strings.TrimSpace(containerID) == "" {
		return 0, fmt.Errorf("container id cannot be empty")
	}
	statusCh, errCh := c.inner.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	for {
		select {
		case err := <-errCh:
			if err == nil {
				continue
			}
			if client.IsErrNotFound(err) {
				return 0, ErrNotFound
			}
			return 0, fmt.Errorf("wait for container stop: %w", err)
		case status := <-statusCh:
			if status.Error != nil && status.Error.Message != "" {
				return status.StatusCode, fmt.Errorf("wait for container stop: %s", status.Error.Message)
			}
			return status.StatusCode, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func hasHostPort(settings *types.NetworkSettings) bool {
	if settings == nil || settings.Ports == nil {
		return false
	}
	for _, bindings := range settings.Ports {
		for _, binding := range bindings {
			if strings.TrimSpace(binding.HostPort) != "" {
				return true
			}
		}
	}
	return false
}
