package config

import (
	"fmt"
	"time"
)

// BuilderConfig holds configuration for the image build and run commands.
type BuilderConfig struct {
	DockerHost   string
	Workdir      string
	GitTimeout   time.Duration
	BuildTimeout time.Duration
	Registry     string
	BaseImage    string
	BuilderImage string
	Port         int
}

// LoadBuilderConfig constructs a BuilderConfig from environment variables.
func LoadBuilderConfig() (BuilderConfig, error) {
	port, err := GetPort("IMAGE_PORT", DefaultPort)
	if err != nil {
		return BuilderConfig{}, fmt.Errorf("load IMAGE_PORT: %w", err)
	}
	return BuilderConfig{
		DockerHost:   GetString("DOCKER_HOST", ""),
		Workdir:      GetString("BUILDER_WORKDIR", "/tmp/tweetwatch"),
		GitTimeout:   GetSeconds("GIT_TIMEOUT_SECONDS", 60),
		BuildTimeout: GetSeconds("BUILD_TIMEOUT_SECONDS", 600),
		Registry:     GetString("DOCKER_REGISTRY", "tweetwatch"),
		BaseImage:    GetString("BASE_IMAGE", "ghcr.io/go-rod/rod:latest"),
		BuilderImage: GetString("BUILDER_IMAGE", "golang:1.24"),
		Port:         port,
	}, nil
}
