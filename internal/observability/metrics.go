package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of the ledger.
type Metrics struct {
	// --- Engine ---
	EventsApplied    *prometheus.CounterVec
	ApplyDuration    prometheus.Histogram
	CommitsTotal     prometheus.Counter
	UpdateCycles     *prometheus.CounterVec
	PendingEvents    prometheus.Gauge
	FetchErrors      prometheus.Counter
	ApplyErrors      *prometheus.CounterVec
	LastAppliedBlock prometheus.Gauge
	ChainHeadBlock   prometheus.Gauge
	Accounts         prometheus.Gauge
	OpenOrders       prometheus.Gauge

	// --- Sinks ---
	SinkDrops      *prometheus.CounterVec
	PublishedTotal *prometheus.CounterVec
	PublishErrors  prometheus.Counter
	ProjectionDur  prometheus.Histogram

	// --- Archive ---
	ArchiveEventsWritten prometheus.Counter
	ArchiveErrors        *prometheus.CounterVec
	ArchiveBatchDur      prometheus.Histogram

	// --- Queries ---
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics registers all metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_engine_events_applied_total",
			Help: "Events applied to the account state, by kind.",
		}, []string{"kind"}),
		ApplyDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dex_engine_apply_duration_seconds",
			Help:    "Time to apply one page of events and commit it.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		CommitsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "dex_engine_commits_total",
			Help: "State commits published to readers.",
		}),
		UpdateCycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_engine_update_cycles_total",
			Help: "Live update cycles, by result.",
		}, []string{"result"}),
		PendingEvents: f.NewGauge(prometheus.GaugeOpts{
			Name: "dex_engine_pending_events",
			Help: "Unconfirmed events seen in the last update cycle.",
		}),
		FetchErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "dex_engine_fetch_errors_total",
			Help: "Transient failures while fetching blocks or events.",
		}),
		ApplyErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_engine_apply_errors_total",
			Help: "Fatal failures while applying events, by error class.",
		}, []string{"class"}),
		LastAppliedBlock: f.NewGauge(prometheus.GaugeOpts{
			Name: "dex_engine_last_applied_block",
			Help: "Block number of the last applied event.",
		}),
		ChainHeadBlock: f.NewGauge(prometheus.GaugeOpts{
			Name: "dex_engine_chain_head_block",
			Help: "Latest block reported by the node.",
		}),
		Accounts: f.NewGauge(prometheus.GaugeOpts{
			Name: "dex_state_accounts",
			Help: "Accounts known to the materialized state.",
		}),
		OpenOrders: f.NewGauge(prometheus.GaugeOpts{
			Name: "dex_state_open_orders",
			Help: "Orders neither canceled nor deleted.",
		}),
		SinkDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_sink_drops_total",
			Help: "Commit outputs dropped because a sink was full.",
		}, []string{"sink"}),
		PublishedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_publish_events_total",
			Help: "Events published to NATS, by kind.",
		}, []string{"kind"}),
		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "dex_publish_errors_total",
			Help: "Failed NATS publishes.",
		}),
		ProjectionDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dex_projection_update_duration_seconds",
			Help:    "Time to write one commit to the read model.",
			Buckets: prometheus.DefBuckets,
		}),
		ArchiveEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "dex_archive_events_written_total",
			Help: "Events written to the Postgres archive.",
		}),
		ArchiveErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_archive_errors_total",
			Help: "Archive write failures, by stage.",
		}, []string{"stage"}),
		ArchiveBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dex_archive_batch_duration_seconds",
			Help:    "Time to write one archive batch.",
			Buckets: prometheus.DefBuckets,
		}),
		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dex_query_duration_seconds",
			Help:    "Query latency by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_query_errors_total",
			Help: "Failed queries by operation.",
		}, []string{"op"}),
	}
}
