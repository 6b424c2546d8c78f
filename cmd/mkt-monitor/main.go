package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fangwater/mkt-monitor/internal/config"
	"github.com/fangwater/mkt-monitor/internal/httpx"
	"github.com/fangwater/mkt-monitor/internal/ingest"
	"github.com/fangwater/mkt-monitor/internal/logger"
	"github.com/fangwater/mkt-monitor/internal/store"
	"github.com/fangwater/mkt-monitor/internal/upstream"
	"github.com/fangwater/mkt-monitor/internal/ws"
)

func main() {
	cfg := config.Load()
	log := logger.New("mkt-monitor", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := ws.NewHub(log)
	engine := store.New(hub, cfg.BucketCapacity, cfg.EventLogCapacity, log)
	collector := ingest.NewCollector(engine, log)

	feeds, err := config.LoadFeeds(cfg.FeedsPath)
	if err != nil {
		log.Error("feeds configuration invalid", "error", err)
		os.Exit(1)
	}
	for _, feed := range feeds {
		sub := upstream.NewSubscriber(feed, collector.HandleFeed, log)
		go sub.Run(ctx)
	}

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, engine, limiter, cfg.ProducerToken, cfg.SendBuffer)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("monitor server starting", "addr", cfg.Addr, "feeds", len(feeds))
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("monitor server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
