package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/agent"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/cmd/explorer/handlers"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/device"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/job"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/logger"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the exploration workers",
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := cfg.newLogger()
	log.Info(ctx, "starting server", map[string]interface{}{
		"version": Version,
		"commit":  Commit,
		"date":    BuildDate,
	})

	db, sqlDB, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	log.Info(ctx, "database connected", map[string]interface{}{
		"host":     cfg.Database.Host,
		"port":     cfg.Database.Port,
		"database": cfg.Database.Database,
	})

	blob, err := storage.NewBlobStorage(cfg.storageConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	jobStore := job.NewMySQLStore(db, log)
	if _, err := jobStore.FailStale(ctx, "interrupted by server restart"); err != nil {
		return fmt.Errorf("failed to recover stale jobs: %w", err)
	}

	pools, err := cfg.newPools("", log)
	if err != nil {
		return err
	}
	if len(pools) == 0 {
		log.Warn(ctx, "no device pools enabled; only jobs naming a device_id can run", nil)
	}
	platforms, err := startPools(ctx, pools, log)
	if err != nil {
		return err
	}
	maintainCtx, stopMaintain := context.WithCancel(ctx)
	defer stopMaintain()
	var maintainers sync.WaitGroup
	for _, pool := range pools {
		maintainers.Add(1)
		go func() {
			defer maintainers.Done()
			pool.Maintain(maintainCtx)
		}()
	}

	pipeline := agent.NewPipeline(cfg.agentConfig(), jobStore, pools, blob, log)
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	workers := agent.NewWorkerPool(cfg.Agent.MaxConcurrentWorkers, jobStore, pipeline, log)
	workers.Start(workerCtx)

	auth := handlers.NewTokenAuth(cfg.API.WriteTokenHash, cfg.API.ReadTokenHash, log)
	if !auth.Enabled() {
		log.Warn(ctx, "API authentication disabled; set api.write_token_hash", nil)
	}
	router := handlers.NewRouter(
		handlers.NewHealthHandler(sqlDB),
		handlers.NewExplorationHandler(jobStore, workers, platforms, log),
		handlers.NewDeviceHandler(pools),
		auth,
		log,
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info(ctx, "server listening", map[string]interface{}{
			"address": addr,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info(ctx, "shutting down server", nil)

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server forced to shutdown", map[string]interface{}{
			"error": err.Error(),
		})
	}

	// Running jobs see the cancellation, finish as cancelled and release
	// their devices before the pools are torn down.
	stopWorkers()
	workers.Wait()
	stopMaintain()
	maintainers.Wait()
	shutdownPools(shutdownCtx, pools, log)

	log.Info(ctx, "server stopped", nil)
	return nil
}

// startPools removes leftovers from earlier runs and pre-warms each pool. If
// any pool fails to start, every pool is shut down so no warmed device leaks.
func startPools(ctx context.Context, pools map[hierarchy.Platform]*device.Pool, log logger.Logger) ([]hierarchy.Platform, error) {
	platforms := make([]hierarchy.Platform, 0, len(pools))
	for platform := range pools {
		platforms = append(platforms, platform)
	}
	sort.Slice(platforms, func(i, j int) bool { return platforms[i] < platforms[j] })

	for _, platform := range platforms {
		pool := pools[platform]
		if removed, err := pool.CleanupOrphanedDevices(ctx); err != nil {
			log.Warn(ctx, "orphaned device cleanup failed", map[string]interface{}{
				"platform": string(platform),
				"error":    err.Error(),
			})
		} else if removed > 0 {
			log.Info(ctx, "orphaned devices removed", map[string]interface{}{
				"platform": string(platform),
				"removed":  removed,
			})
		}
		if err := pool.Initialize(ctx); err != nil {
			shutdownPools(ctx, pools, log)
			return nil, fmt.Errorf("failed to initialize %s pool: %w", platform, err)
		}
	}
	return platforms, nil
}
