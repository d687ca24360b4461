package launch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrTargetNotFound indicates no application is registered under the requested target.
	ErrTargetNotFound = errors.New("launch: application target not found")
	// ErrAppInit indicates the application factory failed.
	ErrAppInit = errors.New("launch: application failed to initialise")
	// ErrInvalidTarget indicates a malformed "module:attr" string.
	ErrInvalidTarget = errors.New("launch: invalid application target")
)

// Target identifies an application object by module location and attribute name.
type Target struct {
	Module string
	Attr   string
}

// ParseTarget parses "module:attr".
func ParseTarget(value string) (Target, error) {
	value = strings.TrimSpace(value)
	module, attr, ok := strings.Cut(value, ":")
	module = strings.TrimSpace(module)
	attr = strings.TrimSpace(attr)
	if !ok || module == "" || attr == "" || strings.Contains(attr, ":") {
		return Target{}, fmt.Errorf("%w: %q (expected module:attr)", ErrInvalidTarget, value)
	}
	return Target{Module: module, Attr: attr}, nil
}

func (t Target) String() string {
	return t.Module + ":" + t.Attr
}

// Application is the object served by the launcher.
type Application interface {
	http.Handler
}

// Runner is implemented by applications that own background work. Run must
// return once ctx is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// Factory builds an application. It runs before any listener is opened.
type Factory func(ctx context.Context) (Application, error)

// Registry maps targets to application factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[Target]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Target]Factory)}
}

// Register adds a factory under target. Registering the same target twice is an error.
func (r *Registry) Register(target Target, factory Factory) error {
	if target.Module == "" || target.Attr == "" {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, target.String())
	}
	if factory == nil {
		return fmt.Errorf("nil factory for %s", target)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[target]; exists {
		return fmt.Errorf("target %s already registered", target)
	}
	r.factories[target] = factory
	return nil
}

// Resolve builds the application registered under target.
func (r *Registry) Resolve(ctx context.Context, target Target) (Application, error) {
	r.mu.RLock()
	factory, ok := r.factories[target]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, target)
	}
	app, err := factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrAppInit, target, err)
	}
	if app == nil {
		return nil, fmt.Errorf("%w: %s returned no application", ErrAppInit, target)
	}
	return app, nil
}

// Targets lists registered targets in sorted order.
func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t.String())
	}
	sort.Strings(out)
	return out
}
