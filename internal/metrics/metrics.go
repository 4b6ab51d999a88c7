package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the delivery pipeline.
type Metrics struct {
	CampaignsPromotedTotal prometheus.Counter
	FanoutRecipientsTotal  prometheus.Counter
	SchedulerErrorsTotal   prometheus.Counter

	MessagesSentTotal   prometheus.Counter
	MessagesFailedTotal prometheus.Counter
	BatchSeconds        prometheus.Histogram

	OpensTotal  prometheus.Counter
	ClicksTotal prometheus.Counter

	registry *prometheus.Registry
}

// New creates a Metrics instance with all metrics registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		CampaignsPromotedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "listmill_campaigns_promoted_total",
			Help: "Total number of campaigns promoted from scheduled to sending",
		}),
		FanoutRecipientsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "listmill_fanout_recipients_total",
			Help: "Total number of recipient rows created at fan-out",
		}),
		SchedulerErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "listmill_scheduler_errors_total",
			Help: "Total number of per-campaign scheduling failures",
		}),
		MessagesSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "listmill_messages_sent_total",
			Help: "Total number of successfully submitted messages",
		}),
		MessagesFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "listmill_messages_failed_total",
			Help: "Total number of permanently failed messages",
		}),
		BatchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "listmill_delivery_batch_seconds",
			Help:    "Time spent rendering and submitting one delivery batch",
			Buckets: prometheus.DefBuckets,
		}),
		OpensTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "listmill_opens_recorded_total",
			Help: "Total number of unique opens recorded",
		}),
		ClicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "listmill_clicks_recorded_total",
			Help: "Total number of unique clicks recorded",
		}),
		registry: reg,
	}

	reg.MustRegister(
		m.CampaignsPromotedTotal,
		m.FanoutRecipientsTotal,
		m.SchedulerErrorsTotal,
		m.MessagesSentTotal,
		m.MessagesFailedTotal,
		m.BatchSeconds,
		m.OpensTotal,
		m.ClicksTotal,
		collectors.NewGoCollector(),
	)

	return m
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
