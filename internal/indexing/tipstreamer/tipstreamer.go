// Package tipstreamer implements the Tip Streamer (spec §4.3): consumes
// the node's server-sent-event stream of new blocks at the chain tip.
// Grounded on the teacher's indexing/indexer/pipeline.go daemon-loop shape
// for the Guards Reconciler scheduling side and core/worker/pruner.go's
// ticker idiom for the hourly reconciliation, with de-duplication backed
// by internal/infra/redisx (a TTL'd SET replacing the teacher's
// infra/redis ZSET failed-block queue, generalising
// indexing/filter/memory.go's in-memory-set idiom to a cross-instance
// dedup window per SPEC_FULL.md §3).
package tipstreamer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/watcher/internal/core/domain"
	"github.com/vietddude/watcher/internal/indexing/bus"
	"github.com/vietddude/watcher/internal/indexing/materialiser"
	"github.com/vietddude/watcher/internal/indexing/metrics"
	"github.com/vietddude/watcher/internal/infra/sse"
	"github.com/vietddude/watcher/internal/infra/storage"
)

// dedupTTL is the window a streamed hash is considered a duplicate for
// (spec §4.3: "the set is cleared every 10 minutes").
const dedupTTL = 10 * time.Minute

// Reconciler is the subset of guards.Reconciler the streamer schedules
// (spec §4.3 lifecycle: "once at startup, then every hour").
type Reconciler interface {
	Run(ctx context.Context) error
}

// Deduper is the subset of redisx.Client the streamer needs, narrowed to
// an interface so tests can supply an in-memory fake instead of a real
// Redis connection (teacher convention, storage.UnitOfWorkFactory).
type Deduper interface {
	MarkSeen(ctx context.Context, network string, hash string, ttl time.Duration) (firstSeen bool, err error)
}

// Config configures a TipStreamer instance.
type Config struct {
	Network         domain.Network
	BaseURL         string
	GuardsInterval  time.Duration // default 1h
}

// TipStreamer consumes the node's block-updates SSE stream.
type TipStreamer struct {
	cfg       Config
	stream    *sse.Stream
	dedup     Deduper
	uowFac    storage.UnitOfWorkFactory
	errs      storage.StreamingErrorRepository
	bus       *bus.Bus
	reconcile Reconciler
	log       *slog.Logger
}

// New constructs a TipStreamer.
func New(cfg Config, dedup Deduper, uowFac storage.UnitOfWorkFactory, errs storage.StreamingErrorRepository, b *bus.Bus, reconcile Reconciler, log *slog.Logger) *TipStreamer {
	if cfg.GuardsInterval <= 0 {
		cfg.GuardsInterval = time.Hour
	}
	return &TipStreamer{
		cfg:       cfg,
		stream:    sse.NewStream(cfg.BaseURL, cfg.Network),
		dedup:     dedup,
		uowFac:    uowFac,
		errs:      errs,
		bus:       b,
		reconcile: reconcile,
		log:       log,
	}
}

// Run subscribes to the SSE stream and schedules the Guards Reconciler
// until ctx is cancelled (spec §4.3).
func (ts *TipStreamer) Run(ctx context.Context) error {
	go ts.scheduleGuards(ctx)

	return ts.stream.Subscribe(ctx, func(ev sse.BlockHeaderEvent) {
		ts.handleEvent(ctx, ev)
	}, func(err error) {
		ts.log.Error("sse decode error", "area", "tipstreamer", "kind", "decode", "err", err)
	})
}

func (ts *TipStreamer) handleEvent(ctx context.Context, ev sse.BlockHeaderEvent) {
	chainID := domain.ChainID(ev.Header.ChainID)
	metrics.StreamEventsReceived.WithLabelValues(fmt.Sprint(int(chainID))).Inc()

	firstSeen, err := ts.dedup.MarkSeen(ctx, string(ts.cfg.Network), ev.Header.Hash, dedupTTL)
	if err != nil {
		ts.log.Error("dedup check failed", "area", "tipstreamer", "kind", "dedup", "hash", ev.Header.Hash, "err", err)
		// Fail open: the Materialiser's unique-hash constraint still
		// protects correctness (spec §4.3: "the Materialiser's unique
		// constraint on Block.hash guarantees correctness even across
		// clears").
	} else if !firstSeen {
		metrics.StreamDuplicatesDropped.WithLabelValues(fmt.Sprint(int(chainID))).Inc()
		return
	}

	uow, err := ts.uowFac.NewUnitOfWork(ctx)
	if err != nil {
		ts.log.Error("begin unit of work failed", "area", "tipstreamer", "kind", "persist", "err", err)
		return
	}

	dispatch, err := materialiser.Materialise(ctx, uow, domain.SourceStreaming, ts.cfg.Network, chainID, ev.Envelope)
	if err != nil {
		_ = uow.Rollback()
		ts.recordStreamingError(ctx, ev.Header.Hash, chainID)
		return
	}
	if err := uow.Commit(); err != nil {
		ts.log.Error("commit streamed block failed", "area", "tipstreamer", "kind", "persist", "err", err)
		ts.recordStreamingError(ctx, ev.Header.Hash, chainID)
		return
	}
	if dispatch != nil {
		ts.bus.Publish(*dispatch)
	}
}

func (ts *TipStreamer) recordStreamingError(ctx context.Context, hash string, chainID domain.ChainID) {
	if err := ts.errs.Create(ctx, &domain.StreamingError{Hash: hash, ChainID: chainID}); err != nil {
		ts.log.Error("record streaming error failed", "area", "tipstreamer", "kind", "persist", "err", err)
	}
}

// scheduleGuards runs the Guards Reconciler once immediately, then every
// cfg.GuardsInterval (spec §4.3 lifecycle).
func (ts *TipStreamer) scheduleGuards(ctx context.Context) {
	ts.runGuards(ctx)

	ticker := time.NewTicker(ts.cfg.GuardsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ts.runGuards(ctx)
		}
	}
}

func (ts *TipStreamer) runGuards(ctx context.Context) {
	if err := ts.reconcile.Run(ctx); err != nil {
		ts.log.Error("guards reconciliation failed", "area", "guards", "kind", "reconcile", "err", err)
	}
}
