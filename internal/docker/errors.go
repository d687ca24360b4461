package docker

import "errors"

// ErrNotFound indicates the requested Docker resource was not found.
var ErrNotFound = errors.New("docker: resource not found")

// ErrBuildFailed wraps an error reported by the daemon while building.
var ErrBuildFailed = errors.New("docker: image build failed")
