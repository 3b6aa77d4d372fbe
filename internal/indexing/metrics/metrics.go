// Package metrics declares the prometheus series every indexing pipeline
// reports through (spec §8's operational surface). Grounded on the
// teacher's indexing/metrics/metrics.go: same promauto.NewXVec idiom,
// relabelled to the components this spec names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlocksMaterialised counts blocks committed by the materialiser, per
	// chain and source.
	BlocksMaterialised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watcher_blocks_materialised_total",
			Help: "Total number of blocks written by the materialiser",
		},
		[]string{"chain", "source"},
	)

	// ReorgsDetected counts canonicalisation passes that found a
	// competing block at the same height.
	ReorgsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watcher_reorgs_detected_total",
			Help: "Total number of reorg canonicalisation passes triggered",
		},
		[]string{"chain"},
	)

	// ChainTipHeight tracks the highest height observed on the node per
	// chain.
	ChainTipHeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "watcher_chain_tip_height",
			Help: "Latest block height observed on the node",
		},
		[]string{"chain"},
	)

	// IndexedTipHeight tracks the highest height durably stored per
	// chain.
	IndexedTipHeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "watcher_indexed_tip_height",
			Help: "Latest block height durably indexed",
		},
		[]string{"chain"},
	)

	// ArchivePagesProcessed counts object-store pages walked by the
	// backfiller.
	ArchivePagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watcher_archive_pages_processed_total",
			Help: "Total number of archive pages materialised",
		},
		[]string{"chain"},
	)

	// GapsDetected counts contiguous height gaps found by the gap
	// filler, per chain.
	GapsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watcher_gaps_detected_total",
			Help: "Total number of height gaps detected",
		},
		[]string{"chain"},
	)

	// GapFillRetries counts retry attempts made against the node's
	// branch-header endpoint.
	GapFillRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watcher_gap_fill_retries_total",
			Help: "Total number of gap-fill retry attempts",
		},
		[]string{"chain"},
	)

	// StreamEventsReceived counts SSE BlockHeader events received, per
	// chain.
	StreamEventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watcher_stream_events_received_total",
			Help: "Total number of SSE BlockHeader events received",
		},
		[]string{"chain"},
	)

	// StreamDuplicatesDropped counts events dropped by dedup.
	StreamDuplicatesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watcher_stream_duplicates_dropped_total",
			Help: "Total number of duplicate SSE events dropped",
		},
		[]string{"chain"},
	)

	// GuardsRebuilt counts guard rows written per reconciliation pass.
	GuardsRebuilt = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watcher_guards_rebuilt_total",
			Help: "Total number of guard rows written by the reconciler",
		},
	)

	// PublicationsDispatched counts subscription dispatches by topic.
	PublicationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watcher_publications_dispatched_total",
			Help: "Total number of publication bus dispatches",
		},
		[]string{"topic"},
	)
)
