// Package main provides the fileloader batch ingestion service.
//
// Each invocation drains the intake directory once: every loadable file
// is archived, validated, staged, audited, and merged into its target
// table, with failures recorded in the run log and routed to the right
// audience. The process exits zero unless an internal failure could not
// be reported to the operations channel.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/fileloader-io/fileloader/internal/config"
	"github.com/fileloader-io/fileloader/internal/notify"
	"github.com/fileloader-io/fileloader/internal/pipeline"
	"github.com/fileloader-io/fileloader/internal/retry"
	"github.com/fileloader-io/fileloader/internal/source"
	"github.com/fileloader-io/fileloader/internal/storage"
	"github.com/fileloader-io/fileloader/migrations"
)

const name = "fileloader"

// version is stamped at build time: -ldflags "-X main.version=...".
var version = "dev"

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	cfg := config.Load()

	runID := uuid.NewString()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})).With(slog.String("run_id", runID))

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	storageConfig := storage.LoadConfig()

	logger.Info("Starting file loader",
		slog.String("service", name),
		slog.String("version", version),
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.String("intake_dir", cfg.IntakeDir),
		slog.String("archive_dir", cfg.ArchiveDir),
		slog.String("duplicates_dir", cfg.DuplicatesDir),
		slog.Int("batch_size", cfg.BatchSize),
		slog.Int("worker_count", cfg.WorkerCount),
	)

	if err := migrations.Apply(storageConfig); err != nil {
		logger.Error("Failed to apply schema migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	conn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = conn.Close() // Ensure connection closes on normal shutdown
	}()

	store, err := storage.NewStore(conn)
	if err != nil {
		logger.Error("Failed to create store", slog.String("error", err.Error()))

		_ = conn.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	specs := source.BuiltinSpecs()

	if cfg.SourcesFile != "" {
		catalog, err := source.LoadCatalog(cfg.SourcesFile)
		if err != nil {
			logger.Error("Failed to load source catalog",
				slog.String("sources_file", cfg.SourcesFile),
				slog.String("error", err.Error()))

			_ = conn.Close()
			os.Exit(1)
		}

		logger.Info("Loaded source catalog",
			slog.String("sources_file", cfg.SourcesFile),
			slog.Int("sources", len(catalog)))

		specs = append(specs, catalog...)
	}

	registry, err := source.NewRegistry(specs...)
	if err != nil {
		logger.Error("Invalid source configuration", slog.String("error", err.Error()))

		_ = conn.Close()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := store.EnsureTargetTables(ctx, registry.Specs()); err != nil {
		logger.Error("Failed to ensure target tables", slog.String("error", err.Error()))

		_ = conn.Close()
		os.Exit(1)
	}

	for _, dir := range []string{cfg.ArchiveDir, cfg.DuplicatesDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			logger.Error("Failed to create directory",
				slog.String("dir", dir),
				slog.String("error", err.Error()))

			_ = conn.Close()
			os.Exit(1)
		}
	}

	files, err := pipeline.ScanIntake(cfg.IntakeDir)
	if err != nil {
		logger.Error("Failed to scan intake directory", slog.String("error", err.Error()))

		_ = conn.Close()
		os.Exit(1)
	}

	if len(files) == 0 {
		logger.Warn("No loadable files in intake directory", slog.String("intake_dir", cfg.IntakeDir))
		return
	}

	notifyPolicy := retry.New(logger)
	owners := notify.NewEmailNotifier(cfg, notifyPolicy)
	operator := notify.NewSlackNotifier(cfg.SlackWebhookURL, notifyPolicy, cfg.LogLevel)

	pipe := pipeline.New(cfg, registry, store, owners)
	pool := pipeline.NewPool(pipe, cfg.WorkerCount, logger)

	summary := pipeline.Summarize(pool.Process(ctx, files))

	logger.Info("Run complete",
		slog.Int("files", summary.Total),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("duplicates", summary.Duplicates),
		slog.Int("skipped", summary.Skipped),
		slog.Int("owner_failures", len(summary.OwnerFailures)),
		slog.Int("code_failures", len(summary.CodeFailures)),
	)

	if len(summary.CodeFailures) == 0 {
		return
	}

	err = operator.NotifyOperator(ctx, summary.OperatorMessage(), map[string]string{"Run ID": runID})
	if err != nil {
		logger.Error("Failed to notify operations channel", slog.String("error", err.Error()))

		_ = conn.Close()
		os.Exit(1)
	}
}
