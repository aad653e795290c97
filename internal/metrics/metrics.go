// Package metrics defines and registers the broker's Prometheus
// metrics: connected links, active streams by kind, and routed
// requests. Metrics are package-level variables registered at init, in
// the manner of a global Prometheus registry shared by every package
// that instruments itself.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LinksConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "linkbroker_links_connected",
			Help: "Currently connected links by role",
		},
		[]string{"role"},
	)

	DownstreamsAttached = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "linkbroker_downstreams_attached",
			Help: "Downstream nodes currently attached (connected or within grace window)",
		},
	)

	DownstreamsInGrace = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "linkbroker_downstreams_in_grace",
			Help: "Downstream nodes currently disconnected and within their grace window",
		},
	)

	StreamsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "linkbroker_streams_active",
			Help: "Active streams by kind",
		},
		[]string{"kind"}, // list, subscribe, invoke
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkbroker_requests_total",
			Help: "Total requests routed by method and outcome",
		},
		[]string{"method", "outcome"}, // outcome: ok, closed
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linkbroker_request_duration_seconds",
			Help:    "Time spent routing one inbound request, in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	GraceExpirationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "linkbroker_grace_expirations_total",
			Help: "Total downstream grace windows that expired without a reconnect",
		},
	)

	ReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "linkbroker_reconnects_total",
			Help: "Total downstream reconnects resumed within their grace window",
		},
	)
)

func init() {
	prometheus.MustRegister(
		LinksConnected,
		DownstreamsAttached,
		DownstreamsInGrace,
		StreamsActive,
		RequestsTotal,
		RequestDuration,
		GraceExpirationsTotal,
		ReconnectsTotal,
	)
}

// Handler returns the HTTP handler that exposes the registered metrics
// in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an operation and reports its duration to a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Observer) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram vec.
func (t *Timer) ObserveDurationVec(histogram *prometheus.HistogramVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
