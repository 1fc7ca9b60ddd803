package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine
type Metrics struct {
	// Ledger metrics
	EventsAppended  *prometheus.CounterVec
	ChainViolations prometheus.Counter
	AppendDuration  prometheus.Histogram

	// Scoring metrics
	ScoreRecomputes prometheus.Counter
	TrustScore      *prometheus.GaugeVec
	StaleScores     prometheus.Gauge

	// Alert metrics
	AlertsCreated  *prometheus.CounterVec
	AlertsResolved prometheus.Counter
	DegradedAlerts prometheus.Gauge

	// Seller metrics
	StrikesRecorded prometheus.Counter
	AutoRejections  prometheus.Counter

	// Hub metrics
	EventsPublished prometheus.Counter
	EventsDelivered prometheus.Counter
	EventsDropped   prometheus.Counter
	Subscribers     prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		EventsAppended: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verity_ledger_events_appended_total",
				Help: "Total provenance events appended, by kind",
			},
			[]string{"kind"},
		),

		ChainViolations: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "verity_ledger_chain_violations_total",
				Help: "Total append attempts rejected for hash chain mismatch",
			},
		),

		AppendDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "verity_ledger_append_duration_seconds",
				Help:    "Latency of ledger appends including lock wait",
				Buckets: prometheus.DefBuckets,
			},
		),

		ScoreRecomputes: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "verity_score_recomputes_total",
				Help: "Total trust score recomputations",
			},
		),

		TrustScore: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "verity_product_trust_score",
				Help: "Current composite trust score per product",
			},
			[]string{"product_id"},
		),

		StaleScores: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "verity_stale_scores",
				Help: "Products whose trust score exceeded the staleness TTL at last sweep",
			},
		),

		AlertsCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verity_alerts_created_total",
				Help: "Total moderation alerts created, by kind and severity",
			},
			[]string{"kind", "severity"},
		),

		AlertsResolved: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "verity_alerts_resolved_total",
				Help: "Total moderation alerts resolved",
			},
		),

		DegradedAlerts: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "verity_degraded_alerts",
				Help: "Alerts with pending auto-action retries",
			},
		),

		StrikesRecorded: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "verity_seller_strikes_total",
				Help: "Total strikes recorded against sellers",
			},
		),

		AutoRejections: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "verity_seller_auto_rejections_total",
				Help: "Sellers auto-rejected for exceeding the strike limit",
			},
		),

		EventsPublished: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "verity_hub_events_published_total",
				Help: "Events published to the broadcast hub",
			},
		),

		EventsDelivered: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "verity_hub_events_delivered_total",
				Help: "Events delivered to subscriber sinks",
			},
		),

		EventsDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "verity_hub_events_dropped_total",
				Help: "Events evicted from full subscriber queues",
			},
		),

		Subscribers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "verity_hub_subscribers",
				Help: "Active hub subscribers",
			},
		),
	}
}
