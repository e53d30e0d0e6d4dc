// Package metrics declares the Prometheus instrumentation shared by Ena's
// pipeline stages, following the reference corpus's promauto registration
// convention (see pkg/storage/tsdb/block/fetcher.go's FetcherMetrics in
// DESIGN.md). spec.md §7 notes no metrics surface is required; this is
// carried purely as ambient-stack texture, matching the teacher's own
// heavy use of promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every counter/gauge/histogram Ena's components touch. A
// single instance is constructed in cmd/ena and passed to supervisor.New —
// never accessed through a package-level global.
type Metrics struct {
	PollsTotal          *prometheus.CounterVec
	PollFailuresTotal   *prometheus.CounterVec
	ThreadsDeletedTotal *prometheus.CounterVec
	ThreadsBumpedTotal  *prometheus.CounterVec
	ThreadFetchesTotal  *prometheus.CounterVec
	PostsInsertedTotal  *prometheus.CounterVec
	PostsDeletedTotal   *prometheus.CounterVec
	PostsUpdatedTotal   *prometheus.CounterVec
	MediaDownloadsTotal *prometheus.CounterVec
	MediaDedupedTotal   *prometheus.CounterVec
	RateLimiterWaits    *prometheus.HistogramVec
	RetryAttemptsTotal  *prometheus.CounterVec
	DbTxFailuresTotal   *prometheus.CounterVec
}

// New registers and returns a Metrics bundle against reg. Passing nil uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		PollsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ena",
			Name:      "board_polls_total",
			Help:      "Total threads.json polls attempted, by board.",
		}, []string{"board"}),
		PollFailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ena",
			Name:      "board_poll_failures_total",
			Help:      "Total threads.json polls that failed after retries, by board.",
		}, []string{"board"}),
		ThreadsDeletedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ena",
			Name:      "threads_deleted_total",
			Help:      "Threads classified as deleted by the anchor heuristic, by board.",
		}, []string{"board"}),
		ThreadsBumpedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ena",
			Name:      "threads_bumped_off_total",
			Help:      "Threads classified as bumped off, by board.",
		}, []string{"board"}),
		ThreadFetchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ena",
			Name:      "thread_fetches_total",
			Help:      "Thread detail fetches, by board and outcome.",
		}, []string{"board", "outcome"}),
		PostsInsertedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ena",
			Name:      "posts_inserted_total",
			Help:      "Post rows inserted, by board.",
		}, []string{"board"}),
		PostsDeletedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ena",
			Name:      "posts_deleted_total",
			Help:      "Post rows moved to the deleted table, by board.",
		}, []string{"board"}),
		PostsUpdatedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ena",
			Name:      "posts_updated_total",
			Help:      "Post rows updated in place, by board.",
		}, []string{"board"}),
		MediaDownloadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ena",
			Name:      "media_downloads_total",
			Help:      "Media downloads attempted, by board, kind, and outcome.",
		}, []string{"board", "kind", "outcome"}),
		MediaDedupedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ena",
			Name:      "media_deduped_total",
			Help:      "Media downloads coalesced into an in-flight request, by board.",
		}, []string{"board"}),
		RateLimiterWaits: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ena",
			Name:      "rate_limiter_wait_seconds",
			Help:      "Time spent waiting to acquire a rate-limit permit, by class.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"class"}),
		RetryAttemptsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ena",
			Name:      "retry_attempts_total",
			Help:      "Retry attempts made, by operation.",
		}, []string{"op"}),
		DbTxFailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ena",
			Name:      "db_tx_failures_total",
			Help:      "Per-thread transactions that aborted, by board.",
		}, []string{"board"}),
	}
}
