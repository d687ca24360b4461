package imagebuild

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/splax/tweetwatch/internal/docker"
)

// ErrDependency marks failures caused by the dependency manifest.
var ErrDependency = errors.New("build-time dependency error")

// ImageBuilder builds an image from a staged directory.
type ImageBuilder interface {
	BuildImage(ctx context.Context, build docker.BuildOptions, onOutput docker.BuildOutputCallback) error
}

// Options configure a Service.
type Options struct {
	Registry     string
	BaseImage    string
	BuilderImage string
	Package      string
	GitTimeout   time.Duration
	BuildTimeout time.Duration
	Clone        CloneFunc
	Logger       *slog.Logger
}

// Service stages a source tree and builds the watcher image from it.
type Service struct {
	docker    ImageBuilder
	workspace *Workspace
	opts      Options
	logger    *slog.Logger
}

// NewService constructs a build service.
func NewService(builder ImageBuilder, workspace *Workspace, opts Options) Service {
	if opts.Clone == nil {
		opts.Clone = Clone
	}
	if opts.Registry == "" {
		opts.Registry = "tweetwatch"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return Service{docker: builder, workspace: workspace, opts: opts, logger: logger}
}

// Request describes one build.
type Request struct {
	// Source is a local directory or a git URL.
	Source    string
	Tag       string
	Port      int
	AppTarget string
	// KeepWorkspace leaves the staged directory on disk after the build.
	KeepWorkspace bool
}

// BuildResult describes a finished build. LogTail is populated on failure too.
type BuildResult struct {
	Image               string
	ContextDigest       string
	Manifest            Manifest
	DockerfileGenerated bool
	Dockerfile          string
	Workspace           string
	LogTail             []string
}

// Build stages req.Source, validates its manifest, ensures a Dockerfile and
// builds the image.
func (s Service) Build(ctx context.Context, req Request) (BuildResult, error) {
	var result BuildResult
	source := strings.TrimSpace(req.Source)
	if source == "" {
		return result, fmt.Errorf("build source cannot be empty")
	}
	if s.docker == nil || s.workspace == nil {
		return result, fmt.Errorf("build service not configured")
	}
	buildID := uuid.NewString()
	log := s.logger.With("build_id", buildID, "source", source)

	dir, err := s.workspace.Prepare(buildID)
	if err != nil {
		return result, err
	}
	result.Workspace = dir
	if !req.KeepWorkspace {
		defer func() {
			if err := s.workspace.Cleanup(dir); err != nil {
				log.Warn("workspace cleanup failed", "error", err)
			}
		}()
	}

	if err := s.stage(ctx, source, dir); err != nil {
		return result, err
	}
	if err := ensureBuildContext(dir); err != nil {
		return result, err
	}

	manifest, err := ParseManifest(dir)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrDependency, err)
	}
	result.Manifest = manifest

	buildCtx, err := Collect(dir)
	if err != nil {
		return result, err
	}
	result.ContextDigest = buildCtx.Digest()
	log.Info("build context assembled",
		"files", len(buildCtx.Files),
		"bytes", buildCtx.Size(),
		"digest", result.ContextDigest,
		"module", manifest.Module,
		"requires", len(manifest.Requires),
	)

	dfOpts := DockerfileOptions{
		BaseImage:     s.opts.BaseImage,
		BuilderImage:  s.opts.BuilderImage,
		Package:       s.opts.Package,
		Port:          req.Port,
		AppTarget:     req.AppTarget,
		ContextDigest: result.ContextDigest,
		Manifest:      manifest,
	}
	generated, err := EnsureDockerfile(dir, dfOpts)
	if err != nil {
		return result, err
	}
	result.DockerfileGenerated = generated
	name, _, err := ExistingDockerfile(dir)
	if err != nil {
		return result, err
	}
	result.Dockerfile = name
	if !generated {
		log.Info("using Dockerfile from source tree", "dockerfile", name)
	}

	tag := strings.TrimSpace(req.Tag)
	if tag == "" {
		tag = DefaultTag(s.opts.Registry, manifest.Module, result.ContextDigest)
	}

	buildCtxTimeout := ctx
	if s.opts.BuildTimeout > 0 {
		var cancel context.CancelFunc
		buildCtxTimeout, cancel = context.WithTimeout(ctx, s.opts.BuildTimeout)
		defer cancel()
	}

	aggregator := newBuildLogAggregator(func(msg string) {
		log.Info("docker build output", "line", msg)
	})
	started := time.Now()
	err = s.docker.BuildImage(buildCtxTimeout, docker.BuildOptions{
		Dir:        dir,
		Dockerfile: name,
		Tag:        tag,
		Labels: map[string]string{
			LabelPort:          strconv.Itoa(req.Port),
			LabelAppTarget:     req.AppTarget,
			LabelContextDigest: result.ContextDigest,
		},
	}, func(line string) {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			aggregator.Add(trimmed)
		}
	})
	aggregator.Flush()
	result.LogTail = aggregator.Snapshot(buildLogTail)
	if err != nil {
		log.Error("docker build failed", "error", err, "tail", result.LogTail)
		return result, err
	}
	result.Image = tag
	log.Info("docker image built", "image", tag, "duration", time.Since(started).String())
	return result, nil
}

func (s Service) stage(ctx context.Context, source, dir string) error {
	if !IsGitURL(source) {
		if err := Materialize(source, dir); err != nil {
			return fmt.Errorf("materialize source: %w", err)
		}
		return nil
	}
	cloneCtx := ctx
	if s.opts.GitTimeout > 0 {
		var cancel context.CancelFunc
		cloneCtx, cancel = context.WithTimeout(ctx, s.opts.GitTimeout)
		defer cancel()
	}
	if err := s.opts.Clone(cloneCtx, source, dir); err != nil {
		return err
	}
	// Clone metadata differs between clones of the same commit.
	if err := os.RemoveAll(filepath.Join(dir, ".git")); err != nil {
		return fmt.Errorf("strip clone metadata: %w", err)
	}
	return nil
}

// DefaultTag derives a stable tag from the module path and context digest.
func DefaultTag(registry, module, digest string) string {
	name := path.Base(strings.TrimSpace(module))
	if name == "" || name == "." || name == "/" {
		name = "app"
	}
	name = strings.ToLower(name)
	short := strings.TrimPrefix(digest, "sha256:")
	if len(short) > 12 {
		short = short[:12]
	}
	if short == "" {
		short = "latest"
	}
	if registry == "" {
		return name + ":" + short
	}
	return strings.TrimSuffix(registry, "/") + "/" + name + ":" + short
}
