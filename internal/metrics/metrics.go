package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	Claims         prometheus.Counter
	ItemsProcessed *prometheus.CounterVec
	GateDecisions  *prometheus.CounterVec
	ProcessingTime prometheus.Histogram
	SyncRuns       *prometheus.CounterVec
	MessagesSynced prometheus.Counter
	ReapedItems    prometheus.Counter
	QueueItems     *prometheus.GaugeVec
}

// NewMetrics creates new Prometheus metrics registered on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Claims: factory.NewCounter(prometheus.CounterOpts{
			Name: "smart_mail_reply_claims_total",
			Help: "Total number of work items claimed by workers",
		}),
		ItemsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smart_mail_reply_items_processed_total",
			Help: "Total number of work items that reached a terminal status",
		}, []string{"status"}),
		GateDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smart_mail_reply_gate_decisions_total",
			Help: "Reply gate decisions by outcome and reason",
		}, []string{"outcome", "reason"}),
		ProcessingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "smart_mail_reply_processing_duration_seconds",
			Help:    "Time spent processing one work item",
			Buckets: prometheus.DefBuckets,
		}),
		SyncRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smart_mail_reply_sync_runs_total",
			Help: "Mailbox sync runs by provider and result",
		}, []string{"provider", "result"}),
		MessagesSynced: factory.NewCounter(prometheus.CounterOpts{
			Name: "smart_mail_reply_messages_synced_total",
			Help: "Total number of new messages enqueued by mailbox sync",
		}),
		ReapedItems: factory.NewCounter(prometheus.CounterOpts{
			Name: "smart_mail_reply_reaped_items_total",
			Help: "Total number of stale PROCESSING items failed by the reaper",
		}),
		QueueItems: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "smart_mail_reply_queue_items",
			Help: "Number of work items by status",
		}, []string{"status"}),
	}
}
