package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/jarrod-lowe/inboxd/internal/config"
	"github.com/jarrod-lowe/inboxd/internal/logging"
	"github.com/jarrod-lowe/inboxd/internal/storage"
)

var (
	cfg *config.Config
	log *slog.Logger
	db  *storage.DB
	tp  *sdktrace.TracerProvider
)

var rootCmd = &cobra.Command{
	Use:   "inboxd",
	Short: "inboxd - a delegated-mailbox intelligence engine",
	Long:  "inboxd replicates a mailbox, triages and indexes its contents, maintains a working-memory model of what needs attention, and emits deduplicated triggers for downstream consumers.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		log = logging.New(cfg.LogLevel)

		// no exporter wired; every package's otel.Tracer spans still run
		// through a real SDK provider instead of the global no-op one.
		tp = sdktrace.NewTracerProvider()
		otel.SetTracerProvider(tp)

		db, err = storage.Open(cmd.Context(), cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if db != nil {
			_ = db.Close()
		}
		if tp != nil {
			_ = tp.Shutdown(context.Background())
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("inboxd dev")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx := context.Background()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
