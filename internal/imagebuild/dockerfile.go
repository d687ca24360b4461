package imagebuild

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/splax/tweetwatch/internal/launch"
)

const (
	// DefaultBaseImage bundles Chromium for the scraper.
	DefaultBaseImage = "ghcr.io/go-rod/rod:latest"
	// DefaultBuilderImage compiles the server binary.
	DefaultBuilderImage = "golang:1.24"
	// DefaultPackage is the main package compiled into the image.
	DefaultPackage = "./cmd/watcher"
	// AppDir is the working directory the source tree is copied into.
	AppDir = "/app"

	binaryPath = "/usr/local/bin/watcher"
)

// Image labels written by RenderDockerfile.
const (
	LabelPort          = "io.tweetwatch.port"
	LabelAppTarget     = "io.tweetwatch.app-target"
	LabelContextDigest = "io.tweetwatch.context-digest"
	labelBaseImage     = "org.opencontainers.image.base.name"
	labelTitle         = "org.opencontainers.image.title"
)

// DockerfileOptions parameterise the generated Dockerfile.
type DockerfileOptions struct {
	BaseImage     string
	BuilderImage  string
	Package       string
	Port          int
	AppTarget     string
	ContextDigest string
	Manifest      Manifest
}

func (o DockerfileOptions) withDefaults() DockerfileOptions {
	if strings.TrimSpace(o.BaseImage) == "" {
		o.BaseImage = DefaultBaseImage
	}
	if strings.TrimSpace(o.BuilderImage) == "" {
		o.BuilderImage = DefaultBuilderImage
	}
	if strings.TrimSpace(o.Package) == "" {
		o.Package = DefaultPackage
	}
	return o
}

// RenderDockerfile returns a multi-stage Dockerfile. Equal options always
// render byte-identical output.
func RenderDockerfile(opts DockerfileOptions) ([]byte, error) {
	opts = opts.withDefaults()
	if opts.Port < 1 || opts.Port > 65535 {
		return nil, fmt.Errorf("port %d out of range 1-65535", opts.Port)
	}
	target, err := launch.ParseTarget(opts.AppTarget)
	if err != nil {
		return nil, err
	}
	port := strconv.Itoa(opts.Port)

	manifestFiles := manifestName
	if opts.Manifest.HasSum {
		manifestFiles += " " + sumName
	}

	labels := map[string]string{
		LabelPort:      port,
		LabelAppTarget: target.String(),
		labelBaseImage: opts.BaseImage,
	}
	if opts.Manifest.Module != "" {
		labels[labelTitle] = opts.Manifest.Module
	}
	if opts.ContextDigest != "" {
		labels[LabelContextDigest] = opts.ContextDigest
	}

	var b strings.Builder
	b.WriteString("# syntax=docker/dockerfile:1\n")
	b.WriteString("FROM " + opts.BuilderImage + " AS builder\n")
	b.WriteString("WORKDIR /src\n\n")
	b.WriteString("COPY " + manifestFiles + " ./\n")
	b.WriteString("RUN go mod download && go mod verify\n\n")
	b.WriteString("COPY . ./\n")
	b.WriteString("RUN CGO_ENABLED=0 GOOS=linux go build -trimpath -o /out/watcher " + opts.Package + "\n\n")
	b.WriteString("FROM " + opts.BaseImage + "\n")
	b.WriteString("WORKDIR " + AppDir + "\n")
	b.WriteString("COPY . " + AppDir + "\n")
	b.WriteString("COPY --from=builder /out/watcher " + binaryPath + "\n")
	b.WriteString("ENV PORT=" + port + "\n")
	b.WriteString("EXPOSE " + port + "\n")
	writeLabels(&b, labels)
	b.WriteString(fmt.Sprintf("CMD [%q, \"--app\", %q]\n", binaryPath, target.String()))
	return []byte(b.String()), nil
}

func writeLabels(b *strings.Builder, labels map[string]string) {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteString("LABEL")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(" \\\n     ")
		}
		b.WriteString(fmt.Sprintf(" %s=%q", k, labels[k]))
	}
	b.WriteString("\n")
}

// ExistingDockerfile returns the name of a Dockerfile already present in dir.
func ExistingDockerfile(dir string) (string, bool, error) {
	for _, name := range []string{"Dockerfile", "dockerfile"} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err == nil && !info.IsDir() {
			return name, true, nil
		}
		if err != nil && !os.IsNotExist(err) {
			return "", false, fmt.Errorf("check dockerfile: %w", err)
		}
	}
	return "", false, nil
}

// EnsureDockerfile writes the rendered Dockerfile into dir unless one already
// exists. It reports whether a file was generated.
func EnsureDockerfile(dir string, opts DockerfileOptions) (bool, error) {
	if _, ok, err := ExistingDockerfile(dir); err != nil || ok {
		return false, err
	}
	content, err := RenderDockerfile(opts)
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(filepath.Join(dir, "Dockerfile"), content, 0o644); err != nil {
		return false, fmt.Errorf("write dockerfile: %w", err)
	}
	return true, nil
}
