// Package observability holds the Prometheus instruments for the bot.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the bot.
type Metrics struct {
	BufferedLines prometheus.Gauge
	Flushes       *prometheus.CounterVec
	MessagesSent  prometheus.Counter
	RollOvers     prometheus.Counter
	ToolCalls     *prometheus.CounterVec
	RunDuration   prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		BufferedLines: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffered_lines",
			Help:      "Chat lines currently held in the engagement buffer.",
		}),
		Flushes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Buffer flushes by decision (reply, observe, lull, timeout).",
		}, []string{"decision"}),
		MessagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Chat lines sent by the bot.",
		}),
		RollOvers: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thread_rollovers_total",
			Help:      "Conversation threads abandoned after quota failures.",
		}),
		ToolCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls dispatched by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of completion runs in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		}),
	}
}

func (m *Metrics) ObserveRunDuration(d time.Duration) {
	m.RunDuration.Observe(d.Seconds())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
