package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tg-shop/internal/config"
	"tg-shop/internal/httpserver"
	"tg-shop/internal/logging"
	"tg-shop/internal/media"
	"tg-shop/internal/metrics"
	"tg-shop/internal/store"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting tg-shop", "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	st, err := store.Open(store.Config{
		Dir:      cfg.DataDir,
		LogLimit: cfg.LogLimit,
	}, logger, metricRegistry)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	ingestor := media.New(st.MediaDir(), media.Config{
		Timeout:      cfg.IngestTimeout,
		MaxBytes:     cfg.IngestMaxBytes,
		MaxImageEdge: cfg.ImageMaxEdge,
		MaxThumbEdge: cfg.ThumbMaxEdge,
		Quality:      cfg.ImageQuality,
	}, logger, metricRegistry)
	st.SetIngestor(ingestor)

	if cfg.AdminToken == "" {
		logger.Warn("admin token not configured, admin routes are open")
	}

	httpSrv := httpserver.New(httpserver.Config{
		Addr:       cfg.HTTPListenAddr,
		AdminToken: cfg.AdminToken,
	}, st, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}
