// Package cli wires the cobra subcommands for the watcher binary.
// Grounded on the teacher's internal/cli/{root.go,status.go,reset_cursor.go}
// (cobra root + persistent flags + godotenv + stylelog init), with the
// per-chain-family Start/Stop replaced by a single control.Watcher.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/watcher/internal/control"
	"github.com/vietddude/watcher/internal/core/config"
)

var (
	cfgPath       string
	isDebug       bool
	migrationsDir string
)

var rootCmd = &cobra.Command{
	Use:   "watcher",
	Short: "Chainweb indexer",
	Long:  `watcher ingests and reconciles a multi-chain Chainweb network into Postgres.`,
	Run:   runWatcher,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&migrationsDir, "migrations", "migrations", "migrations directory (empty to skip)")
}

func newLogger(cfg *config.AppConfig) *slog.Logger {
	level := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	stylelog.InitDefault(&tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})
	return slog.Default()
}

func loadConfig() *config.AppConfig {
	_ = godotenv.Load()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("failed to load config", "area", "cli", "kind", "config", "err", err)
		os.Exit(1)
	}
	return cfg
}

func runWatcher(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	log := newLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := control.NewWatcher(ctx, *cfg, migrationsDir, log)
	if err != nil {
		log.Error("failed to initialise watcher", "area", "cli", "kind", "init", "err", err)
		os.Exit(1)
	}
	defer func() { _ = app.Close() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- app.Run(ctx) }()

	log.Info("watcher started", "area", "cli", "kind", "start", "config", cfgPath)

	select {
	case sig := <-sigChan:
		log.Info("received signal, shutting down", "area", "cli", "kind", "shutdown", "signal", sig.String())
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			log.Error("watcher stopped unexpectedly", "area", "cli", "kind", "fatal", "err", err)
			os.Exit(1)
		}
	}
}
