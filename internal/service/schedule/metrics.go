package schedule

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var scrapeBuckets = []float64{1, 5, 10, 20, 30, 45, 60, 90, 120, 180}

type metrics struct {
	scrapes   *prometheus.CounterVec
	duration  prometheus.Histogram
	stored    prometheus.Counter
	rejected  prometheus.Counter
	queueSize prometheus.Gauge
}

var (
	metricsOnce    sync.Once
	sharedRegistry metrics
)

func loadMetrics() metrics {
	metricsOnce.Do(func() {
		m := metrics{
			scrapes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tweetwatch",
				Subsystem: "scheduler",
				Name:      "scrapes_total",
				Help:      "Scrape jobs executed by outcome and trigger",
			}, []string{"outcome", "source"}),
			duration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "tweetwatch",
				Subsystem: "scheduler",
				Name:      "scrape_duration_seconds",
				Help:      "Wall time spent per scrape job",
				Buckets:   scrapeBuckets,
			}),
			stored: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "tweetwatch",
				Subsystem: "scheduler",
				Name:      "tweets_stored_total",
				Help:      "Tweets newly stored by scrape jobs",
			}),
			rejected: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "tweetwatch",
				Subsystem: "scheduler",
				Name:      "queue_rejections_total",
				Help:      "Scrape requests dropped because the queue was full",
			}),
			queueSize: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "tweetwatch",
				Subsystem: "scheduler",
				Name:      "queue_depth",
				Help:      "Scrape requests waiting for the worker",
			}),
		}
		m.scrapes = register(m.scrapes)
		m.duration = register(m.duration)
		m.stored = register(m.stored)
		m.rejected = register(m.rejected)
		m.queueSize = register(m.queueSize)
		sharedRegistry = m
	})
	return sharedRegistry
}

func register[T prometheus.Collector](c T) T {
	if err := prometheus.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}
