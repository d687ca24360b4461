// Package schedule runs scrape jobs one at a time and sweeps every subscribed
// account on a fixed interval.
package schedule

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/splax/tweetwatch/internal/domain"
)

const (
	defaultCooldown      = 60 * time.Second
	defaultSweepInterval = 5 * time.Minute
	defaultStagger       = 60 * time.Second
	defaultQueueSize     = 128
)

const (
	// SourceManual marks jobs submitted through Enqueue.
	SourceManual = "manual"
	// SourceSweep marks jobs submitted by the periodic sweep.
	SourceSweep = "sweep"
)

var (
	// ErrQueueFull is returned when no more scrape requests can be buffered.
	ErrQueueFull = errors.New("scrape queue is full")
	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("scheduler already running")
)

// Job performs one scrape and reports how many tweets were stored.
type Job func(ctx context.Context, username string) (int, error)

// AccountLister provides the accounts visited by each sweep.
type AccountLister interface {
	ListAccounts(ctx context.Context) ([]domain.Account, error)
}

// Options tune the scheduler. Zero values select the defaults.
type Options struct {
	Cooldown      time.Duration
	SweepInterval time.Duration
	Stagger       time.Duration
	QueueSize     int
	Logger        *slog.Logger
}

type request struct {
	id       string
	username string
	source   string
	queuedAt time.Time
}

// Scheduler owns the single scrape worker.
type Scheduler struct {
	job      Job
	accounts AccountLister
	opts     Options
	log      *slog.Logger
	queue    chan request
	metrics  metrics
	sleep    func(ctx context.Context, d time.Duration) error
	running  atomic.Bool

	mu          sync.Mutex
	sweepCancel context.CancelFunc
	staggers    sync.WaitGroup
}

// New constructs a Scheduler.
func New(job Job, accounts AccountLister, opts Options) *Scheduler {
	if opts.Cooldown <= 0 {
		opts.Cooldown = defaultCooldown
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.Stagger <= 0 {
		opts.Stagger = defaultStagger
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		job:      job,
		accounts: accounts,
		opts:     opts,
		log:      log,
		queue:    make(chan request, opts.QueueSize),
		metrics:  loadMetrics(),
		sleep:    sleepContext,
	}
}

// Enqueue submits a manual scrape for username and returns its job id.
func (s *Scheduler) Enqueue(username string) (string, error) {
	return s.enqueue(username, SourceManual)
}

func (s *Scheduler) enqueue(username, source string) (string, error) {
	req := request{id: uuid.NewString(), username: username, source: source, queuedAt: time.Now()}
	select {
	case s.queue <- req:
		s.metrics.queueSize.Set(float64(len(s.queue)))
		return req.id, nil
	default:
		s.metrics.rejected.Inc()
		return "", ErrQueueFull
	}
}

// Run processes queued jobs and triggers sweeps until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	s.log.Info("scheduler started",
		"sweep_interval", s.opts.SweepInterval.String(),
		"stagger", s.opts.Stagger.String(),
		"cooldown", s.opts.Cooldown.String(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.work(gctx)
		return nil
	})
	g.Go(func() error {
		s.sweepLoop(gctx)
		return nil
	})
	err := g.Wait()

	s.mu.Lock()
	if s.sweepCancel != nil {
		s.sweepCancel()
		s.sweepCancel = nil
	}
	s.mu.Unlock()
	s.staggers.Wait()

	s.log.Info("scheduler stopped")
	return err
}

// Sweep enqueues the first subscribed account immediately and each remaining
// account one stagger interval after the previous. Pending submissions of an
// earlier sweep are abandoned.
func (s *Scheduler) Sweep(ctx context.Context) error {
	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		s.log.Warn("no accounts to scrape")
		return nil
	}

	s.mu.Lock()
	if s.sweepCancel != nil {
		s.sweepCancel()
	}
	sweepCtx, cancel := context.WithCancel(ctx)
	s.sweepCancel = cancel
	s.mu.Unlock()

	s.submit(accounts[0].Username, SourceSweep)
	if len(accounts) == 1 {
		return nil
	}

	rest := make([]string, 0, len(accounts)-1)
	for _, a := range accounts[1:] {
		rest = append(rest, a.Username)
	}
	s.staggers.Add(1)
	go func() {
		defer s.staggers.Done()
		for _, username := range rest {
			if err := s.sleep(sweepCtx, s.opts.Stagger); err != nil {
				return
			}
			s.submit(username, SourceSweep)
		}
	}()
	return nil
}

func (s *Scheduler) submit(username, source string) {
	if _, err := s.enqueue(username, source); err != nil {
		s.log.Warn("scrape request dropped", "username", username, "source", source, "error", err)
	}
}

func (s *Scheduler) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("sweep failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.queue:
			s.metrics.queueSize.Set(float64(len(s.queue)))
			s.execute(ctx, req)
			if err := s.sleep(ctx, s.opts.Cooldown); err != nil {
				return
			}
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, req request) {
	log := s.log.With("username", req.username, "job_id", req.id, "source", req.source)
	log.Info("scraping account", "waited", time.Since(req.queuedAt).String())

	start := time.Now()
	count, err := s.job(ctx, req.username)
	s.metrics.duration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.scrapes.WithLabelValues("error", req.source).Inc()
		log.Error("scrape failed", "error", err)
		return
	}
	s.metrics.scrapes.WithLabelValues("success", req.source).Inc()
	s.metrics.stored.Add(float64(count))
	log.Info("scrape finished", "stored", count, "duration", time.Since(start).String())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
