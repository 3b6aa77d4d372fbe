package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/watcher/internal/core/domain"
	"github.com/vietddude/watcher/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last synced height per chain for each pipeline source",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "area", "cli", "kind", "status", "err", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	repo := postgres.NewSyncStatusRepo(db)
	sources := []domain.Source{domain.SourceArchive, domain.SourceAPI, domain.SourceStreaming}
	rows, err := repo.LastSyncForAllChains(ctx, cfg.Network, sources)
	if err != nil {
		slog.Error("failed to query sync status", "area", "cli", "kind", "status", "err", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "CHAIN\tSOURCE\tHEIGHT")
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%d\n", int(r.ChainID), r.Source, r.ToHeight)
	}
	_ = w.Flush()
}
