// Package launch starts the container's single foreground server process:
// it resolves a named application, binds exactly the configured port and
// serves until the context is cancelled.
package launch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrBind indicates the listener could not be opened on the requested address.
var ErrBind = errors.New("launch: bind failed")

// ErrAlreadyStarted is returned when Run is invoked more than once.
var ErrAlreadyStarted = errors.New("launch: already started")

// State is the launcher lifecycle state.
type State int32

const (
	StateNotStarted State = iota
	StateServing
	StateExited
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NOT_STARTED"
	case StateServing:
		return "SERVING"
	case StateExited:
		return "EXITED"
	default:
		return "UNKNOWN"
	}
}

const (
	defaultHost              = "0.0.0.0"
	defaultShutdownTimeout   = 10 * time.Second
	defaultReadHeaderTimeout = 5 * time.Second
)

// Options configure a Launcher. Port is resolved by the caller once, at startup.
type Options struct {
	Target            Target
	Registry          *Registry
	Host              string
	Port              int
	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration
	Logger            *slog.Logger
}

// Launcher runs one application behind one listener.
type Launcher struct {
	opts    Options
	log     *slog.Logger
	state   atomic.Int32
	started atomic.Bool
	addr    atomic.Pointer[net.TCPAddr]
	ready   chan struct{}
}

// New validates opts and returns a Launcher in the NOT_STARTED state.
func New(opts Options) (*Launcher, error) {
	if opts.Registry == nil {
		return nil, errors.New("launch: registry required")
	}
	if opts.Target.Module == "" || opts.Target.Attr == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, opts.Target.String())
	}
	if opts.Port < 1 || opts.Port > 65535 {
		return nil, fmt.Errorf("launch: port %d out of range 1-65535", opts.Port)
	}
	if opts.Host == "" {
		opts.Host = defaultHost
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	if opts.ReadHeaderTimeout <= 0 {
		opts.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Launcher{
		opts:  opts,
		log:   log.With("target", opts.Target.String()),
		ready: make(chan struct{}),
	}, nil
}

// State reports the current lifecycle state.
func (l *Launcher) State() State {
	return State(l.state.Load())
}

// Addr returns the bound listener address, or nil before SERVING.
func (l *Launcher) Addr() *net.TCPAddr {
	return l.addr.Load()
}

// Ready is closed once the listener is bound and the launcher is SERVING.
func (l *Launcher) Ready() <-chan struct{} {
	return l.ready
}

// Run resolves the application, binds the listener and serves until ctx is
// cancelled or a fatal error occurs. A nil return means a deliberate shutdown.
func (l *Launcher) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer l.state.Store(int32(StateExited))

	app, err := l.opts.Registry.Resolve(ctx, l.opts.Target)
	if err != nil {
		l.log.Error("application resolution failed", "error", err)
		return err
	}
	defer l.closeApp(app)

	addr := net.JoinHostPort(l.opts.Host, strconv.Itoa(l.opts.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		l.log.Error("bind failed", "addr", addr, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrBind, addr, err)
	}
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		l.addr.Store(tcp)
	}

	srv := &http.Server{
		Handler:           app,
		ReadHeaderTimeout: l.opts.ReadHeaderTimeout,
	}

	l.state.Store(int32(StateServing))
	close(l.ready)
	l.log.Info("server listening", "addr", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	if runner, ok := app.(Runner); ok {
		g.Go(func() error {
			if err := runner.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("application runner: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), l.opts.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			l.log.Error("graceful shutdown failed", "error", err)
			_ = srv.Close()
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		l.log.Error("server exited with error", "error", err)
		return err
	}
	l.log.Info("server stopped")
	return nil
}

func (l *Launcher) closeApp(app Application) {
	closer, ok := app.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		l.log.Warn("application close failed", "error", err)
	}
}
