package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// InventoryMetrics records cache and subscription activity for the inventory layer.
type InventoryMetrics struct {
	hits       prometheus.Counter
	misses     prometheus.Counter
	fetches    *prometheus.HistogramVec
	channels   prometheus.Gauge
	pushEvents prometheus.Counter
}

// NewInventoryMetrics registers the inventory metrics on the provided registerer.
func NewInventoryMetrics(reg prometheus.Registerer) *InventoryMetrics {
	if reg == nil {
		return &InventoryMetrics{}
	}
	hits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inventory_cache_hits_total",
		Help: "Inventory reads served from the cache.",
	})
	misses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inventory_cache_misses_total",
		Help: "Inventory reads that required an upstream fetch.",
	})
	fetches := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inventory_fetch_duration_seconds",
		Help:    "Duration of upstream inventory fetches in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	channels := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "inventory_channels_open",
		Help: "Real-time channels currently open, one per subscribed product.",
	})
	pushEvents := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inventory_push_events_total",
		Help: "Change events received from the real-time transport.",
	})
	reg.MustRegister(hits, misses, fetches, channels, pushEvents)
	return &InventoryMetrics{
		hits:       hits,
		misses:     misses,
		fetches:    fetches,
		channels:   channels,
		pushEvents: pushEvents,
	}
}

func (m *InventoryMetrics) CacheHit() {
	if m == nil || m.hits == nil {
		return
	}
	m.hits.Inc()
}

func (m *InventoryMetrics) CacheMiss() {
	if m == nil || m.misses == nil {
		return
	}
	m.misses.Inc()
}

// ObserveFetch records an upstream fetch duration labelled by outcome.
func (m *InventoryMetrics) ObserveFetch(duration time.Duration, err error) {
	if m == nil || m.fetches == nil {
		return
	}
	m.fetches.WithLabelValues(outcomeFor(err)).Observe(duration.Seconds())
}

func (m *InventoryMetrics) ChannelOpened() {
	if m == nil || m.channels == nil {
		return
	}
	m.channels.Inc()
}

func (m *InventoryMetrics) ChannelClosed() {
	if m == nil || m.channels == nil {
		return
	}
	m.channels.Dec()
}

func (m *InventoryMetrics) PushEvent() {
	if m == nil || m.pushEvents == nil {
		return
	}
	m.pushEvents.Inc()
}

func outcomeFor(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
