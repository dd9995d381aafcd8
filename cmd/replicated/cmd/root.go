// Package cmd implements the replicated CLI: flag/env-bound
// configuration via viper, and the serve command that wires the store,
// ledger, event bus, metrics exporter, and bucket manager together and
// runs until interrupted.
package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/moisa13/file-copy/internal/config"
	"github.com/moisa13/file-copy/internal/copier"
	"github.com/moisa13/file-copy/internal/eventbus"
	"github.com/moisa13/file-copy/internal/logging"
	"github.com/moisa13/file-copy/internal/manager"
	"github.com/moisa13/file-copy/internal/metrics"
	"github.com/moisa13/file-copy/internal/scheduler"
	"github.com/moisa13/file-copy/internal/store"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "replicated",
	Short: "Managed, resumable file-replication service",
	Long:  "replicated runs a durable, resumable file-replication service: bucketed source-to-destination mirroring backed by a sqlite job queue.",
	RunE:  runServe,
}

// Execute parses flags/env and runs the service. It blocks until the
// process receives SIGINT/SIGTERM or an unrecoverable startup error
// occurs.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	def := config.Default()
	flags := rootCmd.Flags()
	flags.String("database-path", def.DatabasePath, "path to the sqlite database file")
	flags.Int("worker-default-count", def.WorkerDefaultCount, "default worker cap for newly created buckets")
	flags.Int("worker-max-count", def.WorkerMaxCount, "maximum worker cap a bucket may be configured with")
	flags.String("hash-algorithm", string(def.HashAlgorithm), "content hash algorithm: sha256, xxhash64, or xxhash3")
	flags.Int("copy-buffer-size", def.CopyBufferSize, "streaming copy buffer size, in bytes")
	flags.Bool("scan-recursive", def.ScanRecursive, "whether the scanner descends into subdirectories")
	flags.Bool("fast-path-dedup", def.FastPathDedup, "skip hashing for pre-existing same-size destinations")
	flags.Bool("development", def.Development, "enable verbose development logging")
	flags.String("metrics-address", ":9090", "address to serve /metrics on; empty disables it")

	_ = v.BindPFlags(flags)
	v.SetEnvPrefix("REPLICATED")
	v.AutomaticEnv()
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.FromViper(v)
	if err != nil {
		return fmt.Errorf("cmd: load config: %w", err)
	}

	log, err := logging.New(cfg.Development)
	if err != nil {
		return fmt.Errorf("cmd: build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("cmd: open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := store.Init(db); err != nil {
		return fmt.Errorf("cmd: init schema: %w", err)
	}

	st, err := store.New(db, log, cfg.FolderStatsTTL)
	if err != nil {
		return fmt.Errorf("cmd: init store: %w", err)
	}

	bus := eventbus.New(log)
	bus.Start(ctx)
	defer bus.Stop(cfg.GracefulShutdownTimeout)

	schedulerCfg := scheduler.Config{
		ClaimBatchLimit: cfg.ClaimBatchLimit,
		ActiveInterval:  cfg.ActiveInterval,
		IdleInterval:    cfg.IdleInterval,
		ClaimLease:      cfg.ClaimLease,
		Copier: copier.Config{
			Algorithm:  cfg.HashAlgorithm,
			BufferSize: cfg.CopyBufferSize,
		},
	}

	mgr := manager.New(st, bus, log, schedulerCfg, cfg.GracefulShutdownTimeout)
	if err := mgr.LoadExisting(ctx); err != nil {
		return fmt.Errorf("cmd: resume buckets: %w", err)
	}

	metricsAddr := v.GetString("metrics-address")
	var metricsSrv *http.Server
	if metricsAddr != "" {
		exporter := metrics.New(prometheus.DefaultRegisterer, st.LedgerForMetrics())
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go refreshMetricsLoop(ctx, exporter, st)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.System(log, fmt.Sprintf("cmd: metrics server: %v", err))
			}
		}()
	}

	logging.System(log, fmt.Sprintf("replicated starting (db=%s)", cfg.DatabasePath))

	<-ctx.Done()

	logging.System(log, "replicated shutting down")
	mgr.StopAll()

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulShutdownTimeout)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	return nil
}

func refreshMetricsLoop(ctx context.Context, exporter *metrics.Exporter, st *store.Store) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			buckets, err := st.ListBuckets()
			if err != nil {
				continue
			}
			ids := make([]int64, 0, len(buckets))
			for _, b := range buckets {
				ids = append(ids, b.ID)
			}
			exporter.Refresh(ids)
		}
	}
}
