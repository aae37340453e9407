// Package main is the entry point for the MirrorVault daemon. It dispatches
// three subcommands — serve, check, and version — via a simple switch on
// os.Args so the binary's full CLI surface is readable in one place without
// requiring a cobra dependency. serve runs the watcher until SIGINT/SIGTERM;
// check is a one-shot operational smoke test.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mirrorvault/mirrorvault/internal/config"
	"github.com/mirrorvault/mirrorvault/internal/crypto"
	"github.com/mirrorvault/mirrorvault/internal/domain"
	"github.com/mirrorvault/mirrorvault/internal/monitor"
	"github.com/mirrorvault/mirrorvault/internal/storage"
	"github.com/mirrorvault/mirrorvault/internal/syncer"
	"github.com/mirrorvault/mirrorvault/internal/telemetry"
	"github.com/mirrorvault/mirrorvault/internal/version"

	// Storage backends register themselves with the factory.
	_ "github.com/mirrorvault/mirrorvault/internal/storage/azure"
	_ "github.com/mirrorvault/mirrorvault/internal/storage/drive"
	_ "github.com/mirrorvault/mirrorvault/internal/storage/gcs"
	_ "github.com/mirrorvault/mirrorvault/internal/storage/local"
	_ "github.com/mirrorvault/mirrorvault/internal/storage/s3"
)

const appVersion = "0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "serve", "check":
	case "version":
		fmt.Printf("MirrorVault v%s\n", appVersion)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, check, version", command)
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if command == "check" {
		return check(cfg)
	}
	return serve(cfg)
}

// initProviders constructs and connectivity-probes every enrolled backend.
func initProviders(ctx context.Context, cfg *config.Config, mon *monitor.Service) ([]storage.Provider, error) {
	providers, err := storage.NewAll(cfg, mon)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage providers: %w", err)
	}

	for _, p := range providers {
		probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := p.Initialize(probeCtx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize provider %s: %w", p.Name(), err)
		}
		slog.Info("storage provider ready", "provider", p.Name())
	}
	return providers, nil
}

func serve(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mon := monitor.NewService(cfg)

	providers, err := initProviders(ctx, cfg, mon)
	if err != nil {
		return err
	}
	defer func() {
		for _, p := range providers {
			if err := p.Disconnect(); err != nil {
				slog.Error("failed to disconnect provider", "provider", p.Name(), "error", err)
			}
		}
	}()

	store, err := version.OpenStore(cfg.Versioning.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	var enc version.Encryptor
	if cfg.Encryption.Enabled {
		enc = crypto.NewService()
	}

	versions, err := version.NewService(store, providers, enc, cfg, mon)
	if err != nil {
		return err
	}

	sync, err := syncer.NewService(cfg, providers, versions, enc, mon)
	if err != nil {
		return err
	}
	mon.SetObserver(sync)
	mon.Start(ctx)

	if cfg.Sync.Enabled {
		if err := sync.Start(ctx); err != nil {
			return fmt.Errorf("failed to start sync service: %w", err)
		}
	} else {
		slog.Warn("sync is disabled; running in monitoring-only mode")
	}

	// Observability side channel: metrics and health on a dedicated port, off
	// any public ingress path.
	metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		health, err := mon.CheckStorageHealth(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if health.Status == domain.HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
	srv := &http.Server{
		Addr:         metricsAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("starting observability listener", "addr", metricsAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("observability listener error", "error", err)
		}
	}()

	slog.Info("mirrorvault started",
		"version", appVersion,
		"directories", cfg.Sync.Directories,
		"providers", cfg.Sync.Providers,
		"encryption", cfg.Encryption.Enabled)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("observability listener forced to shut down", "error", err)
	}

	if cfg.Sync.Enabled {
		sync.Stop()
	}
	mon.Stop()

	slog.Info("stopped gracefully")
	return nil
}

// check loads the config, probes every enrolled provider, runs one health
// check, and prints the report. Exit status is non-zero when unhealthy.
func check(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	mon := monitor.NewService(cfg)

	providers, err := initProviders(ctx, cfg, mon)
	if err != nil {
		return err
	}
	defer func() {
		for _, p := range providers {
			_ = p.Disconnect()
		}
	}()

	health, err := mon.CheckStorageHealth(ctx)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(health, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if health.Status == domain.HealthStatusUnhealthy {
		return fmt.Errorf("storage health: %s", health.Status)
	}
	return nil
}
