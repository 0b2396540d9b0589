package pool

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector on Prometheus metrics.
type PrometheusCollector struct {
	hits        prometheus.Counter
	misses      prometheus.Counter
	evictions   prometheus.Counter
	deaths      prometheus.Counter
	resident    prometheus.Gauge
	acquireWait prometheus.Histogram
}

var _ Collector = (*PrometheusCollector)(nil)

// NewPrometheusCollector creates a collector registered on reg. A nil
// registerer falls back to the default registry.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &PrometheusCollector{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kiln",
			Name:      "pool_hits_total",
			Help:      "Acquires served by a resident worker",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kiln",
			Name:      "pool_misses_total",
			Help:      "Acquires that spawned a new worker",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kiln",
			Name:      "pool_evictions_total",
			Help:      "Workers evicted to make room",
		}),
		deaths: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kiln",
			Name:      "pool_worker_deaths_total",
			Help:      "Workers that died outside of eviction",
		}),
		resident: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kiln",
			Name:      "pool_resident_workers",
			Help:      "Current number of pool slots",
		}),
		acquireWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kiln",
			Name:      "pool_acquire_wait_seconds",
			Help:      "End-to-end Acquire latency, including spawns and lease waits",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}

	reg.MustRegister(c.hits, c.misses, c.evictions, c.deaths, c.resident, c.acquireWait)
	return c
}

func (c *PrometheusCollector) PoolHit() { c.hits.Inc() }

func (c *PrometheusCollector) PoolMiss() { c.misses.Inc() }

func (c *PrometheusCollector) Eviction() { c.evictions.Inc() }

func (c *PrometheusCollector) WorkerDeath() { c.deaths.Inc() }

func (c *PrometheusCollector) SetResident(n int) { c.resident.Set(float64(n)) }

func (c *PrometheusCollector) ObserveAcquireWait(d time.Duration) {
	c.acquireWait.Observe(d.Seconds())
}
