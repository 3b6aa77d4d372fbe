// Package gapfiller implements the Gap Filler (spec §4.4): periodically
// detects missing height ranges per chain and repairs them via the node's
// HTTP API. Grounded on the teacher's indexing/indexer/pipeline.go ticker
// loop, indexing/backfill/detector.go's gap-scan shape (delegated here to
// the Sync-Status Ledger's NextMissingRange), infra/rpc/routing/retry.go's
// retry policy (reused as internal/infra/retry), and
// indexing/recovery/handler.go's exhaustion-to-error-row pattern.
package gapfiller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/watcher/internal/core/cursor"
	"github.com/vietddude/watcher/internal/core/domain"
	"github.com/vietddude/watcher/internal/indexing/bus"
	"github.com/vietddude/watcher/internal/indexing/materialiser"
	"github.com/vietddude/watcher/internal/indexing/metrics"
	"github.com/vietddude/watcher/internal/infra/node"
	"github.com/vietddude/watcher/internal/infra/redisx"
	"github.com/vietddude/watcher/internal/infra/retry"
	"github.com/vietddude/watcher/internal/infra/storage"
)

// claimTTL bounds how long a chunk claim survives, so a crashed instance's
// claim expires instead of permanently starving the range.
const claimTTL = 30 * time.Second

// HeaderFetcher is the subset of node.Client the Gap Filler needs.
type HeaderFetcher interface {
	TipHeight(ctx context.Context, chainID domain.ChainID) (uint64, error)
	FetchHeaders(ctx context.Context, chainID domain.ChainID, fromHeight, toHeight uint64) ([]node.Envelope, error)
}

// Config configures a GapFiller instance (spec §4.4).
type Config struct {
	Network             domain.Network
	ChainCount          int
	MinHeight           uint64
	TickInterval        time.Duration // default 5s
	FetchIntervalBlocks uint64        // chunk size, SYNC_FETCH_INTERVAL_IN_BLOCKS
	RangesPerTick       int           // limit passed to NextMissingRange
	RetryConfig         retry.Config
}

// GapFiller periodically closes height gaps for every chain.
type GapFiller struct {
	cfg    Config
	node   HeaderFetcher
	uowFac storage.UnitOfWorkFactory
	ledger cursor.Ledger
	errs   storage.SyncErrorRepository
	bus    *bus.Bus
	claims *redisx.Client // work-queue claim lock, spec SPEC_FULL.md §3; nil disables claiming (single instance)
	log    *slog.Logger
}

// New constructs a GapFiller. claims may be nil when only a single
// GapFiller instance runs; when set, it is used to claim a chunk
// (network-wide, via Redis SET NX EX) before fetching it, so multiple
// GapFiller replicas sharing one Sync-Status Ledger don't double-fetch
// the same range (SPEC_FULL.md §3: "the Gap Filler's chunk claim-lock").
func New(cfg Config, node HeaderFetcher, uowFac storage.UnitOfWorkFactory, ledger cursor.Ledger, errs storage.SyncErrorRepository, b *bus.Bus, claims *redisx.Client, log *slog.Logger) *GapFiller {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.RangesPerTick <= 0 {
		cfg.RangesPerTick = 5
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig
	}
	return &GapFiller{cfg: cfg, node: node, uowFac: uowFac, ledger: ledger, errs: errs, bus: b, claims: claims, log: log}
}

// Run ticks every cfg.TickInterval until ctx is cancelled (spec §4.4
// shutdown: "the loop exits at the next tick boundary; in-flight fetches
// are allowed to complete").
func (g *GapFiller) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.tick(ctx)
		}
	}
}

func (g *GapFiller) tick(ctx context.Context) {
	for i := 0; i < g.cfg.ChainCount; i++ {
		if ctx.Err() != nil {
			return
		}
		chainID := domain.ChainID(i)
		if err := g.fillChain(ctx, chainID); err != nil {
			g.log.Error("gap fill chain failed", "area", "gapfiller", "kind", "chain", "chain", i, "err", err)
		}
	}
	g.startRetryErrors(ctx)
}

func (g *GapFiller) fillChain(ctx context.Context, chainID domain.ChainID) error {
	tip, err := g.node.TipHeight(ctx, chainID)
	if err != nil {
		return fmt.Errorf("tip height: %w", err)
	}
	if tip == 0 {
		return nil
	}

	ranges, err := g.ledger.NextMissingRange(ctx, g.cfg.Network, chainID, g.cfg.MinHeight, tip, g.cfg.RangesPerTick)
	if err != nil {
		return fmt.Errorf("next missing range: %w", err)
	}
	if len(ranges) == 0 {
		return nil
	}
	metrics.GapsDetected.WithLabelValues(fmt.Sprint(int(chainID))).Add(float64(len(ranges)))

	for _, r := range ranges {
		g.fillRange(ctx, chainID, r)
	}
	return nil
}

// fillRange splits r into cfg.FetchIntervalBlocks chunks and fetches each
// with bounded retry, recording a SyncError whenever a chunk fails: retries
// exhausted, a fatal fetch error, or a persistence failure (spec §4.4).
func (g *GapFiller) fillRange(ctx context.Context, chainID domain.ChainID, r domain.HeightRange) {
	chunk := g.cfg.FetchIntervalBlocks
	if chunk == 0 {
		chunk = r.ToHeight - r.FromHeight + 1
	}

	for from := r.FromHeight; from <= r.ToHeight; from += chunk {
		to := from + chunk - 1
		if to > r.ToHeight {
			to = r.ToHeight
		}
		if !g.claimChunk(ctx, chainID, from, to) {
			continue
		}
		if err := g.fillGap(ctx, chainID, from, to); err != nil {
			g.log.Warn("gap chunk exhausted retries", "area", "gapfiller", "kind", "exhausted", "chain", int(chainID), "from", from, "to", to, "err", err)
			if cerr := g.recordSyncError(ctx, chainID, from, to); cerr != nil {
				g.log.Error("record sync error failed", "area", "gapfiller", "kind", "persist", "err", cerr)
			}
		}
	}
}

// claimChunk reports whether this instance may work on [from, to]. With no
// claims client configured, every caller is allowed (single-instance
// deployment).
func (g *GapFiller) claimChunk(ctx context.Context, chainID domain.ChainID, from, to uint64) bool {
	if g.claims == nil {
		return true
	}
	key := fmt.Sprintf("gap:%d:%d:%d", chainID, from, to)
	claimed, err := g.claims.MarkSeen(ctx, string(g.cfg.Network), key, claimTTL)
	if err != nil {
		g.log.Warn("claim chunk failed, proceeding unclaimed", "area", "gapfiller", "kind", "claim", "err", err)
		return true
	}
	return claimed
}

func (g *GapFiller) fillGap(ctx context.Context, chainID domain.ChainID, from, to uint64) error {
	var envelopes []node.Envelope
	err := retry.Do(ctx, g.cfg.RetryConfig, func(ctx context.Context) error {
		metrics.GapFillRetries.WithLabelValues(fmt.Sprint(int(chainID))).Inc()
		var err error
		envelopes, err = g.node.FetchHeaders(ctx, chainID, from, to)
		return err
	})
	if err != nil {
		return err
	}

	uow, err := g.uowFac.NewUnitOfWork(ctx)
	if err != nil {
		return fmt.Errorf("begin unit of work: %w", err)
	}

	var dispatches []domain.DispatchInfo
	for _, env := range envelopes {
		d, err := materialiser.Materialise(ctx, uow, domain.SourceAPI, g.cfg.Network, chainID, env)
		if err != nil {
			_ = uow.Rollback()
			return fmt.Errorf("materialise: %w", err)
		}
		if d != nil {
			dispatches = append(dispatches, *d)
		}
	}

	if err := uow.SaveCursor(ctx, &domain.SyncStatus{
		Network:    g.cfg.Network,
		ChainID:    chainID,
		Source:     domain.SourceAPI,
		FromHeight: from,
		ToHeight:   to,
	}); err != nil {
		_ = uow.Rollback()
		return fmt.Errorf("save cursor: %w", err)
	}

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	for _, d := range dispatches {
		g.bus.Publish(d)
	}
	return nil
}

func (g *GapFiller) recordSyncError(ctx context.Context, chainID domain.ChainID, from, to uint64) error {
	return g.errs.Create(ctx, &domain.SyncError{
		Network:    g.cfg.Network,
		ChainID:    chainID,
		FromHeight: from,
		ToHeight:   to,
		Source:     domain.SourceAPI,
	})
}

// startRetryErrors re-runs up to 50 pending SyncErrors per sweep; on
// success the error row is deleted (spec §4.4: "on success the error row is deleted").
func (g *GapFiller) startRetryErrors(ctx context.Context) {
	pending, err := g.errs.ListPending(ctx, g.cfg.Network, 50)
	if err != nil {
		g.log.Error("list pending sync errors failed", "area", "gapfiller", "kind", "retry-sweep", "err", err)
		return
	}
	for _, e := range pending {
		if err := g.fillGap(ctx, e.ChainID, e.FromHeight, e.ToHeight); err != nil {
			continue
		}
		if err := g.errs.Delete(ctx, e.ID); err != nil {
			g.log.Error("delete resolved sync error failed", "area", "gapfiller", "kind", "retry-sweep", "err", err)
		}
	}
}
