package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/archive"
)

// BuildOutputCallback is invoked with incremental build messages.
type BuildOutputCallback func(string)

// BuildOptions describe one image build.
type BuildOptions struct {
	Dir        string
	Dockerfile string
	Tag        string
	Labels     map[string]string
}

// BuildImage creates a Docker image from the provided directory. The image is
// only tagged when the daemon reports no error.
func (c *Client) BuildImage(ctx context.Context, build BuildOptions, onOutput BuildOutputCallback) error {
	if c == nil || c.inner == nil {
		return fmt.Errorf("docker client not initialized")
	}
	if build.Dir == "" {
		return fmt.Errorf("build directory cannot be empty")
	}
	if build.Tag == "" {
		return fmt.Errorf("image tag cannot be empty")
	}
	if build.Dockerfile == "" {
		build.Dockerfile = "Dockerfile"
	}
	buildCtx, err := archive.TarWithOptions(build.Dir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("create build context: %w", err)
	}
	defer buildCtx.Close()

	opts := types.ImageBuildOptions{
		Tags:        []string{build.Tag},
		Dockerfile:  build.Dockerfile,
		Remove:      true,
		ForceRemove: true,
		Labels:      build.Labels,
	}
	resp, err := c.inner.ImageBuild(ctx, buildCtx, opts)
	if err != nil {
		return fmt.Errorf("docker image build: %w", err)
	}
	defer resp.Body.Close()
	return decodeBuildStream(resp.Body, onOutput)
}

func decodeBuildStream(r io.Reader, onOutput BuildOutputCallback) error {
	decoder := json.NewDecoder(r)
	for {
		var msg imageBuildMessage
		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("decode build output: %w", err)
		}

		if errMsg := msg.errorMessage(); errMsg != "" {
			return fmt.Errorf("%w: %s", ErrBuildFailed, errMsg)
		}

		line := msg.render()
		if line != "" && onOutput != nil {
			onOutput(line)
		}
	}
}

type imageBuildMessage struct {
	Stream         string                 `json:"stream"`
	Status         string                 `json:"status"`
	ID             string                 `json:"id"`
	Progress       string                 `json:"progress"`
	ProgressDetail progressDetail         `json:"progressDetail"`
	Error          string                 `json:"error"`
	ErrorDetail    imageBuildErrorDetail  `json:"errorDetail"`
	Aux            map[string]interface{} `json:"aux"`
}

type progressDetail struct {
	Current int64 `json:"current"`
	Total   int64 `json:"total"`
}

type imageBuildErrorDetail struct {
	Message string `json:"message"`
}

func (m imageBuildMessage) errorMessage() string {
	if strings.TrimSpace(m.Error) != "" {
		return strings.TrimSpace(m.Error)
	}
	if strings.TrimSpace(m.ErrorDetail.Message) != "" {
		return strings.TrimSpace(m.ErrorDetail.Message)
	}
	return ""
}

func (m imageBuildMessage) render() string {
	if m.Stream != "" {
		return m.Stream
	}
	if m.Status != "" {
		parts := make([]string, 0, 3)
		if id := strings.TrimSpace(m.ID); id != "" {
			parts = append(parts, id)
		}
		parts = append(parts, strings.TrimSpace(m.Status))
		progress := strings.TrimSpace(m.Progress)
		if progress == "" && (m.ProgressDetail.Current > 0 || m.ProgressDetail.Total > 0) {
			if m.ProgressDetail.Total > 0 {
				progress = fmt.Sprintf("%d/%d", m.ProgressDetail.Current, m.ProgressDetail.Total)
			} else {
				progress = fmt.Sprintf("%d", m.ProgressDetail.Current)
			}
		}
		if progress != "" {
			parts = append(parts, progress)
		}
		return strings.TrimSpace(strings.Join(parts, " "))
	}
	if len(m.Aux) > 0 {
		if id, ok := m.Aux["ID"]; ok {
			return fmt.Sprintf("image id: %v", id)
		}
		if digest, ok := m.Aux["Digest"]; ok {
			return fmt.Sprintf("digest: %v", digest)
		}
	}
	return ""
}
