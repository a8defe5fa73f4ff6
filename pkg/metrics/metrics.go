package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pager metrics
	PagesAllocatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weaver_pages_allocated_total",
			Help: "Total number of pages allocated from the base pager",
		},
	)

	PagesFreedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weaver_pages_freed_total",
			Help: "Total number of pages returned to the base pager's free list",
		},
	)

	PageWouldBlockTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weaver_page_would_block_total",
			Help: "Total number of page handle requests that failed with would-block",
		},
		[]string{"mode"},
	)

	// Buffered pager cache metrics
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weaver_buffer_cache_hits_total",
			Help: "Total number of buffered pager accesses served from the resident image map",
		},
	)

	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weaver_buffer_cache_misses_total",
			Help: "Total number of buffered pager accesses that fetched from the base pager",
		},
	)

	DirtyPagesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "weaver_buffer_dirty_pages",
			Help: "Current number of dirty buffered page images awaiting flush",
		},
	)

	FlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "weaver_buffer_flush_duration_seconds",
			Help:    "Time taken to flush the dirty buffer map to the base pager",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Virtual pager table metrics
	VPagerWalksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weaver_vpager_index_walks_total",
			Help: "Total number of 4-level indirection walks performed",
		},
	)

	VPagerTranslationCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weaver_vpager_translation_cache_hits_total",
			Help: "Total number of logical-to-physical page translations served from the LRU cache",
		},
	)

	// B+Tree metrics
	BTreeSplitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weaver_btree_splits_total",
			Help: "Total number of page splits performed, by page kind",
		},
		[]string{"page_type"},
	)

	BTreeHeight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "weaver_btree_height",
			Help: "Current height of each open B+Tree, by logical root",
		},
		[]string{"root"},
	)

	// Table metrics
	RowsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "weaver_table_rows",
			Help: "Estimated row count per table",
		},
		[]string{"schema", "table"},
	)

	RowOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weaver_table_row_operations_total",
			Help: "Total number of row operations by table and kind",
		},
		[]string{"schema", "table", "op"},
	)

	// Transaction metrics
	TransactionsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weaver_transactions_started_total",
			Help: "Total number of transactions started",
		},
	)

	TransactionsCommittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weaver_transactions_committed_total",
			Help: "Total number of transactions committed",
		},
	)

	TransactionsRolledBackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weaver_transactions_rolled_back_total",
			Help: "Total number of transactions rolled back, including drop-without-commit",
		},
	)

	TransactionsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "weaver_transactions_in_flight",
			Help: "Current number of transactions that have not yet completed",
		},
	)

	// Query execution metrics
	QueriesPlannedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weaver_queries_planned_total",
			Help: "Total number of query plans optimized",
		},
	)

	OptimizerRewritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weaver_optimizer_rewrites_total",
			Help: "Total number of optimizer rewrites applied, by rule",
		},
		[]string{"rule"},
	)

	PlanExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weaver_plan_execution_duration_seconds",
			Help:    "Time taken to drain a plan's row stream to completion, by root plan kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	HashJoinBuildRows = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "weaver_hash_join_build_rows",
			Help:    "Number of rows hashed into the build side of a hash join",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
	)
)

func init() {
	prometheus.MustRegister(
		PagesAllocatedTotal,
		PagesFreedTotal,
		PageWouldBlockTotal,
		CacheHitsTotal,
		CacheMissesTotal,
		DirtyPagesGauge,
		FlushDuration,
		VPagerWalksTotal,
		VPagerTranslationCacheHitsTotal,
		BTreeSplitsTotal,
		BTreeHeight,
		RowsTotal,
		RowOperationsTotal,
		TransactionsStartedTotal,
		TransactionsCommittedTotal,
		TransactionsRolledBackTotal,
		TransactionsInFlight,
		QueriesPlannedTotal,
		OptimizerRewritesTotal,
		PlanExecutionDuration,
		HashJoinBuildRows,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
