package metrics

import "github.com/prometheus/client_golang/prometheus"

// CartMetrics records cart mutations and persistence failures.
type CartMetrics struct {
	mutations       *prometheus.CounterVec
	persistFailures prometheus.Counter
}

// NewCartMetrics registers the cart metrics on the provided registerer.
func NewCartMetrics(reg prometheus.Registerer) *CartMetrics {
	if reg == nil {
		return &CartMetrics{}
	}
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_mutations_total",
		Help: "Cart mutations by operation and outcome.",
	}, []string{"op", "outcome"})
	persistFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cart_persist_failures_total",
		Help: "Cart snapshots that could not be written to storage.",
	})
	reg.MustRegister(mutations, persistFailures)
	return &CartMetrics{
		mutations:       mutations,
		persistFailures: persistFailures,
	}
}

// Mutation counts one cart operation. ok reports whether the store accepted it.
func (c *CartMetrics) Mutation(op string, ok bool) {
	if c == nil || c.mutations == nil {
		return
	}
	outcome := OutcomeSuccess
	if !ok {
		outcome = OutcomeFailure
	}
	c.mutations.WithLabelValues(normalizeLabel(op), outcome).Inc()
}

func (c *CartMetrics) PersistFailure() {
	if c == nil || c.persistFailures == nil {
		return
	}
	c.persistFailures.Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
