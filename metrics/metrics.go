// Package metrics exposes scheduler activity as Prometheus metrics.
//
// Metrics:
//
//	pagetrans_segments_enqueued_total     segments admitted to the queue
//	pagetrans_dispatches_total            translation requests issued
//	pagetrans_segments_translated_total   successful translations
//	pagetrans_retries_total               failed attempts that were requeued
//	pagetrans_segments_abandoned_total    segments dropped after retries
//	pagetrans_tokens_used_total           tokens reported by the API
//	pagetrans_wait_seconds{reason}        quota waits before a dispatch
//	pagetrans_queue_depth                 segments waiting for dispatch
//	pagetrans_cache_hits_total            segments served from the cache
//
// Useful queries:
//
//	# Abandon rate
//	rate(pagetrans_segments_abandoned_total[5m]) / rate(pagetrans_dispatches_total[5m])
//
//	# Which quota axis is throttling
//	sum by (reason) (rate(pagetrans_wait_seconds_sum[5m]))
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/minios-linux/pagetrans/scheduler"
)

// Collector records scheduler events. It implements scheduler.Recorder.
type Collector struct {
	enqueued   prometheus.Counter
	dispatched prometheus.Counter
	translated prometheus.Counter
	retried    prometheus.Counter
	abandoned  prometheus.Counter
	tokens     prometheus.Counter
	cacheHits  prometheus.Counter
	waits      *prometheus.HistogramVec
	queueDepth prometheus.Gauge

	gatherer prometheus.Gatherer
}

var _ scheduler.Recorder = (*Collector)(nil)

// NewCollector creates a collector registered on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c, err := NewCollectorWith(reg, reg)
	if err != nil {
		// A fresh registry cannot hold conflicting collectors.
		panic(err)
	}
	return c
}

// NewCollectorWith registers the metrics on reg and serves them from g.
func NewCollectorWith(reg prometheus.Registerer, g prometheus.Gatherer) (*Collector, error) {
	c := &Collector{
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagetrans_segments_enqueued_total",
			Help: "Total number of segments admitted to the queue",
		}),
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagetrans_dispatches_total",
			Help: "Total number of translation requests issued",
		}),
		translated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagetrans_segments_translated_total",
			Help: "Total number of segments translated successfully",
		}),
		retried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagetrans_retries_total",
			Help: "Total number of failed attempts that were requeued",
		}),
		abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagetrans_segments_abandoned_total",
			Help: "Total number of segments dropped after exhausting retries",
		}),
		tokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagetrans_tokens_used_total",
			Help: "Total number of tokens reported by the translation API",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagetrans_cache_hits_total",
			Help: "Total number of segments served from the translation cache",
		}),
		waits: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pagetrans_wait_seconds",
			Help:    "Quota waits before a dispatch, by limiting axis",
			Buckets: []float64{0.5, 1, 2, 4, 8, 15, 30, 60, 120, 600, 3600},
		}, []string{"reason"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pagetrans_queue_depth",
			Help: "Current number of segments waiting for dispatch",
		}),
		gatherer: g,
	}

	for _, m := range []prometheus.Collector{
		c.enqueued, c.dispatched, c.translated, c.retried, c.abandoned,
		c.tokens, c.cacheHits, c.waits, c.queueDepth,
	} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) Enqueued()   { c.enqueued.Inc() }
func (c *Collector) Dispatched() { c.dispatched.Inc() }
func (c *Collector) Retried()    { c.retried.Inc() }
func (c *Collector) Abandoned()  { c.abandoned.Inc() }

// CacheHit records a segment answered from the cache without a request.
func (c *Collector) CacheHit() { c.cacheHits.Inc() }

// Succeeded records a successful translation and its token usage.
func (c *Collector) Succeeded(tokens int) {
	c.translated.Inc()
	if tokens > 0 {
		c.tokens.Add(float64(tokens))
	}
}

// Waited records a quota wait.
func (c *Collector) Waited(reason string, d time.Duration) {
	c.waits.WithLabelValues(reason).Observe(d.Seconds())
}

// QueueDepth sets the number of queued segments.
func (c *Collector) QueueDepth(n int) {
	c.queueDepth.Set(float64(n))
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
