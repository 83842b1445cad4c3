package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"es2os/internal/checkpoint"
	"es2os/internal/cluster"
	"es2os/internal/config"
	"es2os/internal/executor"
	"es2os/internal/logger"
	"es2os/internal/metrics"
	"es2os/internal/migrate"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configFile string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "es2os",
	Short: "Incremental migration between Elasticsearch/OpenSearch clusters",
	Long: `A resumable incremental migration driver between two document-store clusters.
It sizes batch windows adaptively, checkpoints progress after every successful
batch, and performs a near-real-time cutover handshake once the remaining gap
is small enough.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runMigration,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")

	// Source flags
	rootCmd.Flags().String("src-endpoint", "", "Source cluster endpoint")
	rootCmd.Flags().String("src-username", "", "Source cluster username")
	rootCmd.Flags().String("src-password", "", "Source cluster password")
	rootCmd.Flags().Bool("src-insecure", false, "Skip TLS verification for source")

	// Target flags
	rootCmd.Flags().String("dst-endpoint", "", "Target cluster endpoint")
	rootCmd.Flags().String("dst-username", "", "Target cluster username")
	rootCmd.Flags().String("dst-password", "", "Target cluster password")
	rootCmd.Flags().Bool("dst-insecure", false, "Skip TLS verification for target")

	// Migration flags
	rootCmd.Flags().String("timestamp-field", "", "Document timestamp field driving the migration (required)")
	rootCmd.Flags().String("index-pattern", "*", "Index pattern to migrate")
	rootCmd.Flags().String("snapshot-repo", "migration_assistant_repo", "Snapshot repository for start-time resolution")
	rootCmd.Flags().String("checkpoint", "./logs/.migration_progress", "Checkpoint location")
	rootCmd.Flags().String("checkpoint-backend", "file", "Checkpoint backend (file/sqlite)")
	rootCmd.Flags().Int("batch-pause", 5, "Pause between successful batches in seconds")

	// Executor flags
	rootCmd.Flags().String("executor-home", "", "Batch sync executor home directory (required)")
	rootCmd.Flags().String("java-home", "", "Java home for the executor")
	rootCmd.Flags().Int("sync-timeout", 3600, "Per-attempt executor timeout in seconds")
	rootCmd.Flags().Int("retries", 3, "Maximum sync attempts per window")

	rootCmd.Flags().String("log-level", "info", "Log level (debug/info/warn/error)")
	rootCmd.Flags().String("log-file", "./logs/migration.log", "Durable migration log file")
	rootCmd.Flags().String("metrics-addr", "", "Address for the /metrics listener (disabled when empty)")
}

func runMigration(cmd *cobra.Command, args []string) error {
	// Load configuration
	var err error
	cfg, err = config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Received shutdown signal, aborting migration...")
		cancel()
	}()

	collector := metrics.New()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := collector.StartServer(cfg.MetricsAddr); err != nil {
				log.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	// Create source and target cluster clients
	source, err := cluster.NewOpenSearchClient(ctx, cluster.Config{
		Endpoint: cfg.Source.Endpoint,
		Username: cfg.Source.Username,
		Password: cfg.Source.Password,
		Insecure: cfg.Source.Insecure,
	}, log.Named("source"))
	if err != nil {
		return fmt.Errorf("failed to create source client: %w", err)
	}

	target, err := cluster.NewOpenSearchClient(ctx, cluster.Config{
		Endpoint: cfg.Target.Endpoint,
		Username: cfg.Target.Username,
		Password: cfg.Target.Password,
		Insecure: cfg.Target.Insecure,
	}, log.Named("target"))
	if err != nil {
		return fmt.Errorf("failed to create target client: %w", err)
	}

	// Create checkpoint store
	store, err := checkpoint.Open(cfg.Migration)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	defer store.Close()

	// Create the batch sync runner
	runner, err := executor.New(executor.Config{
		Home:           cfg.Executor.Home,
		JavaHome:       cfg.Executor.JavaHome,
		SourceEndpoint: cfg.Source.Endpoint,
		TargetEndpoint: cfg.Target.Endpoint,
		IndexPattern:   cfg.Migration.IndexPattern,
		LogPath:        cfg.LogFile,
		Timeout:        time.Duration(cfg.Executor.TimeoutSecs) * time.Second,
		MaxRetries:     cfg.Executor.MaxRetries,
	}, collector, log)
	if err != nil {
		return fmt.Errorf("failed to create sync runner: %w", err)
	}

	controller := migrate.New(source, target, runner, store, collector,
		migrate.NewConsolePrompter(), log, migrate.Options{
			TimestampField: cfg.Migration.TimestampField,
			IndexPattern:   cfg.Migration.IndexPattern,
			SnapshotRepo:   cfg.Migration.SnapshotRepo,
			BatchPause:     time.Duration(cfg.Migration.BatchPauseSecs) * time.Second,
		})

	err = controller.Run(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, migrate.ErrCancelled):
		// Declining the start time is a clean exit, nothing persisted
		log.Info("Migration cancelled by user")
		return nil
	case errors.Is(err, context.Canceled):
		log.Warn("Migration interrupted")
		return err
	default:
		log.Error("Migration failed", zap.Error(err))
		return err
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
