package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg          *prometheus.Registry
	Saves        prometheus.Counter
	SaveFailures prometheus.Counter
	Coalesced    prometheus.Counter
	SaveLatency  prometheus.Histogram

	// Rehydrations is labelled by result: restored|absent|corrupt|failed.
	Rehydrations *prometheus.CounterVec
	// Transitions is labelled by journal event kind.
	Transitions *prometheus.CounterVec

	StaleResponses   prometheus.Counter
	MalformedItems   prometheus.Counter
	UnreachableState prometheus.Counter
	CartQuantity     prometheus.Gauge
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	saves := prometheus.NewCounter(prometheus.CounterOpts{Name: "cartsync_cart_saves_total"})
	saveFailures := prometheus.NewCounter(prometheus.CounterOpts{Name: "cartsync_cart_save_failures_total"})
	coalesced := prometheus.NewCounter(prometheus.CounterOpts{Name: "cartsync_cart_saves_coalesced_total"})
	saveLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cartsync_cart_save_seconds",
		Buckets: prometheus.DefBuckets,
	})
	rehydrations := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "cartsync_rehydrations_total"}, []string{"result"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "cartsync_session_transitions_total"}, []string{"kind"})
	stale := prometheus.NewCounter(prometheus.CounterOpts{Name: "cartsync_stale_responses_discarded_total"})
	malformed := prometheus.NewCounter(prometheus.CounterOpts{Name: "cartsync_order_items_malformed_total"})
	unreachable := prometheus.NewCounter(prometheus.CounterOpts{Name: "cartsync_orders_delivered_unpaid_total"})
	qty := prometheus.NewGauge(prometheus.GaugeOpts{Name: "cartsync_cart_total_quantity"})

	r.MustRegister(saves, saveFailures, coalesced, saveLatency, rehydrations, transitions, stale, malformed, unreachable, qty)
	return &Registry{
		reg:              r,
		Saves:            saves,
		SaveFailures:     saveFailures,
		Coalesced:        coalesced,
		SaveLatency:      saveLatency,
		Rehydrations:     rehydrations,
		Transitions:      transitions,
		StaleResponses:   stale,
		MalformedItems:   malformed,
		UnreachableState: unreachable,
		CartQuantity:     qty,
	}
}

// Gatherer exposes the underlying registry, mostly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
