package control

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/watcher/internal/core/config"
	"github.com/vietddude/watcher/internal/core/cursor"
	"github.com/vietddude/watcher/internal/core/domain"
	"github.com/vietddude/watcher/internal/indexing/archive"
	"github.com/vietddude/watcher/internal/indexing/bus"
	"github.com/vietddude/watcher/internal/indexing/gapfiller"
	"github.com/vietddude/watcher/internal/indexing/guards"
	"github.com/vietddude/watcher/internal/indexing/tipstreamer"
	"github.com/vietddude/watcher/internal/infra/node"
	"github.com/vietddude/watcher/internal/infra/objectstore"
	"github.com/vietddude/watcher/internal/infra/redisx"
	"github.com/vietddude/watcher/internal/infra/storage"
	"github.com/vietddude/watcher/internal/infra/storage/postgres"
)

// Watcher owns every pipeline and shared client, and drives their
// lifecycle (spec §5: "the four pipelines run as goroutines", teacher
// pattern: control/watcher.go's Start/Stop).
type Watcher struct {
	cfg config.AppConfig
	log *slog.Logger

	db         *postgres.DB
	nodeClient *node.Client
	store      *objectstore.Client
	redis      *redisx.Client
	bus        *bus.Bus
	ledger     cursor.Ledger

	syncErrRepo   storage.SyncErrorRepository
	streamErrRepo storage.StreamingErrorRepository
	balanceRepo   storage.BalanceRepository
	guardRepo     storage.GuardRepository

	archivers  []*archive.Backfiller
	gapFiller  *gapfiller.GapFiller
	streamer   *tipstreamer.TipStreamer
	reconciler *guards.Reconciler
}

// dbAdapter narrows *postgres.DB to storage.UnitOfWorkFactory: the
// pipelines depend on the interface, not the concrete *postgres.DB, so
// tests can supply an in-memory fake (teacher convention,
// storage.UnitOfWorkFactory).
type dbAdapter struct{ db *postgres.DB }

func (a dbAdapter) NewUnitOfWork(ctx context.Context) (storage.UnitOfWork, error) {
	return a.db.NewUnitOfWork(ctx)
}

// NewWatcher constructs every client, repository, and pipeline from cfg,
// running migrations first (teacher pattern: migrations run once at
// startup before any repository is touched).
func NewWatcher(ctx context.Context, cfg config.AppConfig, migrationsDir string, log *slog.Logger) (*Watcher, error) {
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if migrationsDir != "" {
		if err := postgres.Migrate(db, migrationsDir); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	nodeClient := node.New(node.Config{
		BaseURL:            cfg.Node.BaseURL,
		Network:            cfg.Network,
		MaxConcurrency:     cfg.Node.MaxConcurrency,
		RateLimitPerSecond: cfg.Node.RateLimitPerSecond,
	})

	store, err := objectstore.New(ctx, objectstore.Config{
		Bucket:   cfg.Store.Bucket,
		Region:   cfg.Store.Region,
		Endpoint: cfg.Store.Endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	redisClient, err := redisx.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	uowFac := dbAdapter{db: db}
	ledger := cursor.NewLedger(postgres.NewSyncStatusRepo(db))
	syncErrRepo := postgres.NewSyncErrorRepo(db)
	streamErrRepo := postgres.NewStreamingErrorRepo(db)
	balanceRepo := postgres.NewBalanceRepo(db)
	guardRepo := postgres.NewGuardRepo(db)

	publicationBus := bus.New(12) // confirmation depth; spec §4.7 NEW_BLOCKS_FROM_DEPTH

	archivers := make([]*archive.Backfiller, 0, cfg.ChainCount)
	for _, chainID := range domain.AllChains(cfg.ChainCount) {
		_ = chainID
		archivers = append(archivers, archive.New(archive.Config{
			Network:       cfg.Network,
			Prefix:        cfg.Store.Prefix,
			MaxKeys:       cfg.Archive.MaxKeys,
			Concurrency:   cfg.Archive.Concurrency,
			MaxIterations: cfg.Archive.MaxIterations,
		}, store, uowFac, ledger, publicationBus, log))
	}

	gf := gapfiller.New(gapfiller.Config{
		Network:             cfg.Network,
		ChainCount:          cfg.ChainCount,
		MinHeight:           cfg.MinHeight,
		TickInterval:        cfg.GapFiller.TickInterval,
		FetchIntervalBlocks: cfg.GapFiller.FetchIntervalBlocks,
		RangesPerTick:       cfg.GapFiller.RangesPerTick,
	}, nodeClient, uowFac, ledger, syncErrRepo, publicationBus, redisClient, log)

	reconciler := guards.New(guards.Config{
		BatchSize:   cfg.Guards.BatchSize,
		Concurrency: cfg.Guards.Concurrency,
	}, balanceRepo, guardRepo, nodeClient, log)

	streamer := tipstreamer.New(tipstreamer.Config{
		Network:        cfg.Network,
		BaseURL:        cfg.Node.BaseURL,
		GuardsInterval: cfg.Guards.Interval,
	}, redisClient, uowFac, streamErrRepo, publicationBus, reconciler, log)

	return &Watcher{
		cfg:           cfg,
		log:           log,
		db:            db,
		nodeClient:    nodeClient,
		store:         store,
		redis:         redisClient,
		bus:           publicationBus,
		ledger:        ledger,
		syncErrRepo:   syncErrRepo,
		streamErrRepo: streamErrRepo,
		balanceRepo:   balanceRepo,
		guardRepo:     guardRepo,
		archivers:     archivers,
		gapFiller:     gf,
		streamer:      streamer,
		reconciler:    reconciler,
	}, nil
}

// Bus exposes the Publication Bus for subscribers (spec §4.7); the
// GraphQL/HTTP layer that would drain it is out of scope (spec §1) but
// this is the Go API it would call into.
func (w *Watcher) Bus() *bus.Bus { return w.bus }

// Run starts every pipeline and blocks until all of them have returned,
// which for the Gap Filler happens once ctx is cancelled (spec §5: "a
// process-wide shutdown signal settable from SIGINT/SIGTERM"). A pipeline
// that stops with an error is logged and does not stop the others; Run
// always returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i, a := range w.archivers {
		chainID := domain.ChainID(i)
		a := a
		g.Go(func() error {
			if err := a.Run(gctx, chainID); err != nil && gctx.Err() == nil {
				w.log.Error("archive backfiller stopped", "area", "archive", "kind", "fatal", "chain", int(chainID), "err", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := w.gapFiller.Run(gctx); err != nil && gctx.Err() == nil {
			w.log.Error("gap filler stopped", "area", "gapfiller", "kind", "fatal", "err", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := w.streamer.Run(gctx); err != nil && gctx.Err() == nil {
			w.log.Error("tip streamer stopped", "area", "tipstreamer", "kind", "fatal", "err", err)
		}
		return nil
	})

	return g.Wait()
}

// Close releases every shared client.
func (w *Watcher) Close() error {
	var err error
	if e := w.redis.Close(); e != nil {
		err = e
	}
	if e := w.db.Close(); e != nil {
		err = e
	}
	return err
}
