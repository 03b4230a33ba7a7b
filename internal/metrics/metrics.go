// Package metrics exposes Prometheus metrics for the promotion pipeline.
//
// A nil *Recorder is valid and records nothing, so components can be built
// without metrics in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sbmasters"

// Recorder owns the registry and all collectors
type Recorder struct {
	registry *prometheus.Registry

	decisions      *prometheus.CounterVec
	reviews        *prometheus.CounterVec
	bridgeCalls    *prometheus.CounterVec
	bridgeLatency  prometheus.Histogram
	roleGrants     *prometheus.CounterVec
	dmAttempts     *prometheus.CounterVec
	notifyFailures *prometheus.CounterVec
	cardPosts      *prometheus.CounterVec
	statsFetches   *prometheus.CounterVec
}

// New creates a Recorder backed by its own registry
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Recorder{
		registry: reg,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_decisions_total",
			Help:      "Requirement evaluations by outcome.",
		}, []string{"outcome"}),
		reviews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_reviews_total",
			Help:      "Reviewer actions on approval cards by action and result.",
		}, []string{"action", "result"}),
		bridgeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_dispatch_total",
			Help:      "Calls to the promotion bridge by result.",
		}, []string{"result"}),
		bridgeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bridge_dispatch_seconds",
			Help:      "Latency of promotion bridge calls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}),
		roleGrants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "role_grants_total",
			Help:      "Role grant attempts by source and result.",
		}, []string{"source", "result"}),
		dmAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dm_attempts_total",
			Help:      "Direct message attempts by result.",
		}, []string{"result"}),
		notifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_failures_total",
			Help:      "Swallowed notification failures by kind.",
		}, []string{"kind"}),
		cardPosts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approval_card_posts_total",
			Help:      "Approval card posts by format (rich, plain, failed).",
		}, []string{"format"}),
		statsFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stats_fetches_total",
			Help:      "Stats provider lookups by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		r.decisions,
		r.reviews,
		r.bridgeCalls,
		r.bridgeLatency,
		r.roleGrants,
		r.dmAttempts,
		r.notifyFailures,
		r.cardPosts,
		r.statsFetches,
	)
	return r
}

func (r *Recorder) Decision(outcome string) {
	if r == nil {
		return
	}
	r.decisions.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Review(action, result string) {
	if r == nil {
		return
	}
	r.reviews.WithLabelValues(action, result).Inc()
}

func (r *Recorder) BridgeCall(ok bool, took time.Duration) {
	if r == nil {
		return
	}
	r.bridgeCalls.WithLabelValues(okLabel(ok)).Inc()
	r.bridgeLatency.Observe(took.Seconds())
}

func (r *Recorder) RoleGrant(source, result string) {
	if r == nil {
		return
	}
	r.roleGrants.WithLabelValues(source, result).Inc()
}

func (r *Recorder) DMAttempt(result string) {
	if r == nil {
		return
	}
	r.dmAttempts.WithLabelValues(result).Inc()
}

func (r *Recorder) NotifyFailure(kind string) {
	if r == nil {
		return
	}
	r.notifyFailures.WithLabelValues(kind).Inc()
}

func (r *Recorder) CardPost(format string) {
	if r == nil {
		return
	}
	r.cardPosts.WithLabelValues(format).Inc()
}

func (r *Recorder) StatsFetch(ok bool) {
	if r == nil {
		return
	}
	r.statsFetches.WithLabelValues(okLabel(ok)).Inc()
}

// Gatherer exposes the registry for tests and custom exporters
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Router serves /metrics and /healthz
func (r *Recorder) Router() http.Handler {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	return router
}

func okLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
