// Package main is the entry point for the groupsink server.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fidde/groupsink/internal/api"
	"github.com/fidde/groupsink/internal/config"
	"github.com/fidde/groupsink/internal/grouping"
	"github.com/fidde/groupsink/internal/grouping/normalize"
	"github.com/fidde/groupsink/internal/receiver"
	"github.com/fidde/groupsink/internal/storage"
	"github.com/fidde/groupsink/internal/storage/archived"
	"github.com/fidde/groupsink/internal/storage/clickhouse"
	"github.com/fidde/groupsink/internal/storage/snapshots"
)

func main() {
	log.Println("Starting groupsink...")

	ctx := context.Background()

	// Load grouping configuration (rules, patterns, strategy)
	groupingCfgID := getEnv("GROUPING_CONFIG", grouping.DefaultConfigID)
	var grouperOpts []grouping.Option
	if path := getEnv("CONFIG_FILE", "config/grouping.yaml"); path != "" {
		fileCfg, err := config.Load(path)
		if err != nil {
			log.Printf("Warning: Failed to load config file %s: %v", path, err)
		} else {
			if fileCfg.GroupingConfig != "" {
				groupingCfgID = fileCfg.GroupingConfig
			}
			if len(fileCfg.Patterns) > 0 {
				grouperOpts = append(grouperOpts, grouping.WithNormalizer(normalize.New(fileCfg.Patterns)))
			}
			if len(fileCfg.Rules) > 0 {
				grouperOpts = append(grouperOpts, grouping.WithRules(fileCfg.Rules))
			}
		}
	}
	grouper := grouping.New(grouping.ConfigByID(groupingCfgID), grouperOpts...)
	log.Printf("Grouping strategy: %s", groupingCfgID)

	// Configure storage from environment
	storageCfg := storage.DefaultConfig()
	storageCfg.Backend = getEnv("STORAGE_BACKEND", storageCfg.Backend)
	storageCfg.SQLitePath = getEnv("SQLITE_PATH", storageCfg.SQLitePath)

	store, err := storage.NewStorage(storageCfg)
	if err != nil {
		log.Fatalf("Failed to create storage: %v", err)
	}

	// Optionally wrap the primary backend with the ClickHouse archive
	if getEnvBool("CLICKHOUSE_ARCHIVE", false) {
		chCfg := clickhouse.DefaultConfig()
		chCfg.Addr = getEnv("CLICKHOUSE_ADDR", chCfg.Addr)

		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))

		archive, err := clickhouse.NewArchive(ctx, chCfg, logger)
		if err != nil {
			log.Fatalf("Failed to create ClickHouse archive: %v", err)
		}
		log.Printf("Archiving events to ClickHouse at %s", chCfg.Addr)
		store = archived.New(store, archive, logger)
	}

	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("Error closing storage: %v", err)
		}
	}()

	// Snapshot store for saving and restoring grouping state
	snapshotCfg := snapshots.DefaultConfig()
	snapshotCfg.SnapshotDir = getEnv("SNAPSHOT_DIR", snapshotCfg.SnapshotDir)
	snapshotStore, err := snapshots.NewWithConfig(snapshotCfg)
	if err != nil {
		log.Printf("Warning: snapshots disabled: %v", err)
		snapshotStore = nil
	}

	ingestor := receiver.NewIngestor(grouper, store)

	// Create receivers (event store endpoint + OTLP logs intake)
	ingestAddr := getEnv("INGEST_ADDR", "0.0.0.0:4318")
	otlpGRPCAddr := getEnv("OTLP_GRPC_ADDR", "0.0.0.0:4317")
	httpReceiver := receiver.NewHTTPReceiver(ingestAddr, ingestor)
	grpcReceiver := receiver.NewGRPCReceiver(otlpGRPCAddr, ingestor)

	// Create REST API server
	apiAddr := getEnv("API_ADDR", "0.0.0.0:8080")
	apiServer := api.NewServer(apiAddr, store, grouper, snapshotStore)

	// Start pprof server for profiling (separate port)
	pprofAddr := getEnv("PPROF_ADDR", "localhost:6060")
	go func() {
		log.Printf("Starting pprof server on http://%s/debug/pprof", pprofAddr)
		if err := http.ListenAndServe(pprofAddr, nil); err != nil {
			log.Printf("pprof server error: %v", err)
		}
	}()

	// Start servers in goroutines
	errChan := make(chan error, 3)

	go func() {
		log.Printf("Starting ingest receiver on %s", ingestAddr)
		if err := httpReceiver.Start(); err != nil {
			errChan <- fmt.Errorf("ingest receiver error: %w", err)
		}
	}()

	go func() {
		log.Printf("Starting OTLP gRPC receiver on %s", otlpGRPCAddr)
		if err := grpcReceiver.Start(); err != nil {
			errChan <- fmt.Errorf("OTLP gRPC receiver error: %w", err)
		}
	}()

	go func() {
		log.Printf("Starting REST API server on %s", apiAddr)
		if err := apiServer.Start(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	// Give servers time to start
	time.Sleep(100 * time.Millisecond)
	log.Println("All servers started successfully")
	log.Println("Ingest endpoints:")
	log.Printf("  - Store: http://%s/api/{project}/store", ingestAddr)
	log.Printf("  - OTLP HTTP: http://%s/v1/logs", ingestAddr)
	log.Printf("  - OTLP gRPC: %s", otlpGRPCAddr)
	log.Println("API endpoints:")
	log.Printf("  - Groups: http://%s/api/v1/groups", apiAddr)
	log.Printf("  - Projects: http://%s/api/v1/projects", apiAddr)
	log.Printf("  - Variants: http://%s/api/v1/grouping/variants", apiAddr)
	log.Printf("  - Health: http://%s/api/v1/health", apiAddr)
	log.Println("Profiling:")
	log.Printf("  - pprof: http://%s/debug/pprof", pprofAddr)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		log.Fatalf("Server error: %v", err)
	case sig := <-sigChan:
		log.Printf("Received signal: %v, shutting down...", sig)
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Println("Shutting down servers...")
	if err := httpReceiver.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down ingest receiver: %v", err)
	}
	if err := grpcReceiver.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down OTLP gRPC receiver: %v", err)
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down API server: %v", err)
	}

	log.Println("Closing storage...")
	if err := store.Close(); err != nil {
		log.Printf("Error closing storage: %v", err)
	}

	log.Println("Shutdown complete")
}

// getEnv gets an environment variable with a default fallback.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default fallback.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
