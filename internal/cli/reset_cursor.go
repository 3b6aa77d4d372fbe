package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vietddude/watcher/internal/core/domain"
	"github.com/vietddude/watcher/internal/infra/storage/postgres"
)

var resetCursorSource string

// resetCursorCmd upserts the (network, chain, empty prefix, source)
// sync-status row with the given ToHeight and an empty Key. The Gap Filler
// finds gaps from the stored blocks and does not read this row; the Archive
// Backfiller resumes from the Key of the row under its configured prefix.
var resetCursorCmd = &cobra.Command{
	Use:   "reset-cursor [chain_id] [height]",
	Short: "Overwrite a chain's recorded sync-status height for a pipeline source (as shown by status)",
	Args:  cobra.ExactArgs(2),
	Run:   runResetCursor,
}

func init() {
	resetCursorCmd.Flags().StringVar(&resetCursorSource, "source", string(domain.SourceAPI), "pipeline source to reset (API or ARCHIVE)")
	rootCmd.AddCommand(resetCursorCmd)
}

func runResetCursor(cmd *cobra.Command, args []string) {
	chainIDInt, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Printf("invalid chain id: %v\n", err)
		os.Exit(1)
	}
	height, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fmt.Printf("invalid height: %v\n", err)
		os.Exit(1)
	}
	chainID := domain.ChainID(chainIDInt)

	cfg := loadConfig()

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "area", "cli", "kind", "reset-cursor", "err", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	uow, err := db.NewUnitOfWork(ctx)
	if err != nil {
		slog.Error("failed to begin transaction", "area", "cli", "kind", "reset-cursor", "err", err)
		os.Exit(1)
	}

	err = uow.SaveCursor(ctx, &domain.SyncStatus{
		Network:  cfg.Network,
		ChainID:  chainID,
		Source:   domain.Source(resetCursorSource),
		ToHeight: height,
	})
	if err != nil {
		_ = uow.Rollback()
		slog.Error("failed to reset cursor", "area", "cli", "kind", "reset-cursor", "err", err)
		os.Exit(1)
	}
	if err := uow.Commit(); err != nil {
		slog.Error("failed to commit cursor reset", "area", "cli", "kind", "reset-cursor", "err", err)
		os.Exit(1)
	}

	fmt.Printf("reset chain %d source %s cursor to height %d\n", chainID, resetCursorSource, height)
}
