package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kptv-timeshift/work/buffer"
	"kptv-timeshift/work/cache"
	"kptv-timeshift/work/client"
	"kptv-timeshift/work/config"
	"kptv-timeshift/work/database"
	"kptv-timeshift/work/handlers"
	"kptv-timeshift/work/logger"
	"kptv-timeshift/work/proxy"
	"kptv-timeshift/work/utils"
)

var (
	Version = "v0.1.0" // default version
)

func main() {
	if err := run(); err != nil {
		logger.Error("{main - main} %v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.LoadConfig()
	logger.Configure(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if cfg.Debug {
		logger.SetLogLevel("DEBUG")
	}

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.SeedFile != "" {
		if err := db.SeedFromFile(ctx, cfg.SeedFile); err != nil {
			return fmt.Errorf("failed to import seed %s: %w", cfg.SeedFile, err)
		}
	}

	bufferPool := buffer.NewBufferPool(buffer.ChunkSize)
	httpClient := client.NewHeaderSettingClient(cfg)

	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer workerPool.Release()

	epgCache := cache.NewEPGCache(cfg.EPGCacheDuration, cfg.EPGCacheSize)

	tp := proxy.New(cfg, db, httpClient, bufferPool, workerPool, epgCache)

	// the timeshift matcher must see requests before any other route
	router := mux.NewRouter()
	handlers.RegisterRoutes(router, tp)
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	setupAdminRoutes(router, tp, db)
	router.PathPrefix("/").HandlerFunc(handlers.HandleNotFound())

	logger.Info("{main - run} Starting KPTV Timeshift %s", Version)
	logger.Info("{main - run} Server configuration:")
	logger.Info("{main - run}   - Listen Address: %s", cfg.ListenAddr)
	logger.Info("{main - run}   - Base URL: %s", cfg.BaseURL)
	logger.Info("{main - run}   - Database: %s", cfg.DatabasePath)
	logger.Info("{main - run}   - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("{main - run}   - Relay Chunk Size: %s", utils.FormatBytes(int64(bufferPool.Size())))
	logger.Info("{main - run}   - Upstream Timeout: %s", cfg.UpstreamTimeout)
	logger.Info("{main - run}   - Upstream Rate Limit: %d req/s", cfg.UpstreamRateLimit)
	logger.Info("{main - run}   - EPG Cache: %d entries for %s", cfg.EPGCacheSize, cfg.EPGCacheDuration)
	logger.Info("{main - run}   - Default Timezone: %s", cfg.DefaultTimezone)
	logger.Info("{main - run}   - URL Obfuscation: %v", cfg.ObfuscateUrls)
	if cfg.XMLTVURL != "" {
		logger.Info("{main - run}   - XMLTV Source: %s", utils.LogURL(cfg, cfg.XMLTVURL))
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("{main - run} Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// relays end once their client connections close
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("{main - run} Graceful shutdown incomplete: %v", err)
	}
	return nil
}
