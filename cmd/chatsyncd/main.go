package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatsync/internal/retention"
	"chatsync/pkg/api"
	"chatsync/pkg/banner"
	"chatsync/pkg/client"
	"chatsync/pkg/config"
	"chatsync/pkg/feed"
	"chatsync/pkg/logger"
	"chatsync/pkg/store"
)

// build metadata - set via ldflags during build/release
var (
	version = "dev"
)

func main() {
	_ = godotenv.Load(".env")
	addrVal, dbVal, cfgVal, setFlags := config.ParseCommandFlags()

	cfg, err := config.Load(cfgVal)
	if err != nil {
		if setFlags["config"] {
			log.Fatalf("failed to load config: %v", err)
		}
		// No config file is fine when running on flags and env alone.
		cfg = &config.Config{}
	}
	config.LoadEnvOverrides(cfg)

	// Flags win over config/env when explicitly set.
	addr := cfg.Addr()
	if setFlags["addr"] {
		addr = addrVal
	}
	dbPath := cfg.Storage.DBPath
	if dbPath == "" || setFlags["db"] {
		dbPath = dbVal
	}

	logger.Init(cfg.Logging.Level)

	var feedOpts []feed.Option
	if cfg.Feed.Buffer > 0 {
		feedOpts = append(feedOpts, feed.WithBuffer(cfg.Feed.Buffer))
	}
	hub := feed.NewHub(feedOpts...)

	st, err := store.Open(dbPath, store.WithCommitHook(hub.Publish))
	if err != nil {
		log.Fatalf("failed to open pebble at %s: %v", dbPath, err)
	}

	cl := client.New(st)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cancelRetention, err := retention.Start(ctx, cfg, st)
	if err != nil {
		log.Fatalf("failed to start retention: %v", err)
	}

	var apiOpts []api.Option
	if cfg.RateLimit.RPS > 0 {
		apiOpts = append(apiOpts, api.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}
	srv := api.NewServer(cl, hub, apiOpts...)

	root := http.NewServeMux()
	root.Handle("/metrics", promhttp.Handler())
	root.Handle("/", srv.Handler())

	httpSrv := &http.Server{
		Addr:    addr,
		Handler: root,
	}

	banner.Print(cfg, addr, dbPath, version)
	logger.Info("server_starting", "addr", addr, "db_path", dbPath, "version", version)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown_signal_received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server_failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server_shutdown_error", "error", err)
	}
	cancelRetention()
	hub.Close()
	if err := st.Close(); err != nil {
		logger.Warn("store_close_error", "error", err)
	}
	logger.Info("server_stopped")
	os.Exit(0)
}
