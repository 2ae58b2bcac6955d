// Package observability provides Prometheus metrics for the settlement engine.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the engine exports. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// Monitor
	TicksTotal         *prometheus.CounterVec
	TickDuration       prometheus.Histogram
	SignalsEvaluated   prometheus.Counter
	SignalsClosed      *prometheus.CounterVec
	QuotesUnavailable  prometheus.Counter
	SignalErrors       *prometheus.CounterVec
	LastSuccessfulTick prometheus.Gauge

	// Settlement
	PositionsSettled   *prometheus.CounterVec
	SettlementFailures prometheus.Counter

	// Notifications
	NotificationsQueued    *prometheus.CounterVec
	NotificationsDropped   prometheus.Counter
	NotificationsDelivered *prometheus.CounterVec

	// Prices
	QuotesIngested   prometheus.Counter
	PriceFlushErrors prometheus.Counter
	FeedLatency      *prometheus.HistogramVec

	RateLimited *prometheus.CounterVec
}

// NewMetrics registers all collectors on reg. A nil reg uses the default
// registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "poscal"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		TicksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "ticks_total",
			Help:      "Monitor ticks by outcome",
		}, []string{"status"}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one monitor tick",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		SignalsEvaluated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "signals_evaluated_total",
			Help:      "Signals evaluated against a fresh price",
		}),
		SignalsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "signals_closed_total",
			Help:      "Signals moved to a terminal state by result",
		}, []string{"result"}),
		QuotesUnavailable: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "quotes_unavailable_total",
			Help:      "Instruments skipped because no price was available",
		}),
		SignalErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "signal_errors_total",
			Help:      "Per-signal failures by stage",
		}, []string{"stage"}),
		LastSuccessfulTick: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "last_successful_tick_timestamp",
			Help:      "Unix timestamp of the last completed tick",
		}),

		PositionsSettled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "positions_total",
			Help:      "Positions moved out of open by result",
		}, []string{"result"}),
		SettlementFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "failures_total",
			Help:      "Positions whose settlement transaction failed",
		}),

		NotificationsQueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "queued_total",
			Help:      "Notification events accepted by the emitter",
		}, []string{"type"}),
		NotificationsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "dropped_total",
			Help:      "Notification events dropped because the queue was full",
		}),
		NotificationsDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "delivered_total",
			Help:      "Delivery attempts by sink and status",
		}, []string{"sink", "status"}),

		QuotesIngested: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prices",
			Name:      "quotes_ingested_total",
			Help:      "Quotes written to the price cache",
		}),
		PriceFlushErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prices",
			Name:      "flush_errors_total",
			Help:      "Price cache flushes that failed after retries",
		}),
		FeedLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "prices",
			Name:      "feed_latency_seconds",
			Help:      "Price feed lookup latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"feed"}),

		RateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "rejected_total",
			Help:      "Requests rejected by a window limiter",
		}, []string{"scope"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves a specific registry.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTick(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues(status).Inc()
	if status == "skipped" {
		return
	}
	m.TickDuration.Observe(d.Seconds())
	if status == "ok" {
		m.LastSuccessfulTick.Set(float64(time.Now().Unix()))
	}
}

func (m *Metrics) SignalEvaluated() {
	if m == nil {
		return
	}
	m.SignalsEvaluated.Inc()
}

func (m *Metrics) SignalClosed(result string) {
	if m == nil {
		return
	}
	m.SignalsClosed.WithLabelValues(result).Inc()
}

func (m *Metrics) QuoteUnavailable() {
	if m == nil {
		return
	}
	m.QuotesUnavailable.Inc()
}

func (m *Metrics) SignalError(stage string) {
	if m == nil {
		return
	}
	m.SignalErrors.WithLabelValues(stage).Inc()
}

func (m *Metrics) PositionSettled(result string) {
	if m == nil {
		return
	}
	m.PositionsSettled.WithLabelValues(result).Inc()
}

func (m *Metrics) SettlementFailed() {
	if m == nil {
		return
	}
	m.SettlementFailures.Inc()
}

func (m *Metrics) NotificationQueued(kind string) {
	if m == nil {
		return
	}
	m.NotificationsQueued.WithLabelValues(kind).Inc()
}

func (m *Metrics) NotificationDropped() {
	if m == nil {
		return
	}
	m.NotificationsDropped.Inc()
}

func (m *Metrics) NotificationDelivered(sink, status string) {
	if m == nil {
		return
	}
	m.NotificationsDelivered.WithLabelValues(sink, status).Inc()
}

func (m *Metrics) QuotesWritten(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.QuotesIngested.Add(float64(n))
}

func (m *Metrics) PriceFlushFailed() {
	if m == nil {
		return
	}
	m.PriceFlushErrors.Inc()
}

func (m *Metrics) ObserveFeed(feed string, d time.Duration) {
	if m == nil {
		return
	}
	m.FeedLatency.WithLabelValues(feed).Observe(d.Seconds())
}

func (m *Metrics) Limited(scope string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(scope).Inc()
}
