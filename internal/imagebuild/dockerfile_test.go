package imagebuild

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/splax/tweetwatch/internal/launch"
)

func defaultDockerfileOptions() DockerfileOptions {
	return DockerfileOptions{
		Port:          5000,
		AppTarget:     "watcher:app",
		ContextDigest: "sha256:abc",
		Manifest:      Manifest{Module: "github.com/example/watcher", HasSum: true},
	}
}

func TestRenderDockerfileIsDeterministic(t *testing.T) {
	first, err := RenderDockerfile(defaultDockerfileOptions())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	second, err := RenderDockerfile(defaultDockerfileOptions())
	if err != nil {
		t.Fatalf("render again: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("expected byte-identical output")
	}
}

func TestRenderDockerfileContents(t *testing.T) {
	out, err := RenderDockerfile(defaultDockerfileOptions())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	dockerfile := string(out)
	for _, want := range []string{
		"FROM golang:1.24 AS builder",
		"COPY go.mod go.sum ./",
		"RUN go mod download",
		"go build -trimpath -o /out/watcher ./cmd/watcher",
		"FROM ghcr.io/go-rod/rod:latest",
		"WORKDIR /app",
		"COPY . /app",
		"ENV PORT=5000",
		"EXPOSE 5000",
		`io.tweetwatch.port="5000"`,
		`io.tweetwatch.app-target="watcher:app"`,
		`io.tweetwatch.context-digest="sha256:abc"`,
		`CMD ["/usr/local/bin/watcher", "--app", "watcher:app"]`,
	} {
		if !strings.Contains(dockerfile, want) {
			t.Fatalf("expected %q in dockerfile:\n%s", want, dockerfile)
		}
	}
	if strings.Index(dockerfile, "RUN go mod download") > strings.Index(dockerfile, "COPY . ./") {
		t.Fatalf("dependencies must be installed before the source is copied")
	}
}

func TestRenderDockerfileWithoutSum(t *testing.T) {
	opts := defaultDockerfileOptions()
	opts.Manifest.HasSum = false
	out, err := RenderDockerfile(opts)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(string(out), "COPY go.mod ./") {
		t.Fatalf("expected go.mod copied alone:\n%s", out)
	}
}

func TestRenderDockerfileValidates(t *testing.T) {
	opts := defaultDockerfileOptions()
	opts.Port = 70000
	if _, err := RenderDockerfile(opts); err == nil {
		t.Fatalf("expected port range error")
	}

	opts = defaultDockerfileOptions()
	opts.AppTarget = "watcher"
	if _, err := RenderDockerfile(opts); !errors.Is(err, launch.ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}
}

func TestEnsureDockerfileGenerates(t *testing.T) {
	dir := sampleTree(t)
	generated, err := EnsureDockerfile(dir, defaultDockerfileOptions())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !generated {
		t.Fatalf("expected dockerfile generation")
	}
	if !strings.Contains(readFile(t, filepath.Join(dir, "Dockerfile")), "EXPOSE 5000") {
		t.Fatalf("expected rendered dockerfile on disk")
	}
}

func TestEnsureDockerfileHonorsExisting(t *testing.T) {
	dir := sampleTree(t)
	writeFile(t, dir, "dockerfile", "FROM scratch\n")

	generated, err := EnsureDockerfile(dir, defaultDockerfileOptions())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if generated {
		t.Fatalf("expected existing dockerfile to be preserved")
	}
	if got := readFile(t, filepath.Join(dir, "dockerfile")); got != "FROM scratch\n" {
		t.Fatalf("existing dockerfile modified: %q", got)
	}
	name, ok, err := ExistingDockerfile(dir)
	if err != nil || !ok || name != "dockerfile" {
		t.Fatalf("unexpected lookup %q %v %v", name, ok, err)
	}
}
