package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/babylog/internal/auth"
	"github.com/dukerupert/babylog/internal/database"
	"github.com/dukerupert/babylog/internal/metrics"
	"github.com/dukerupert/babylog/internal/middleware"
	"github.com/dukerupert/babylog/internal/server"
	"github.com/dukerupert/babylog/internal/summary"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("port", "", "listen port (env BABYLOG_PORT)")
	v.BindPFlag("port", serveCmd.Flags().Lookup("port"))
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.RequireSecret(); err != nil {
		return err
	}
	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		cache       summary.Cache
		memoryCache *summary.MemoryCache
	)
	if cfg.RedisAddr != "" {
		rc, err := summary.NewRedisCache(ctx, cfg.RedisAddr, cfg.SummaryCacheTTL)
		if err != nil {
			return err
		}
		defer rc.Close()
		cache = rc
		logger.Info("summary cache: redis", "addr", cfg.RedisAddr)
	} else {
		memoryCache = summary.NewMemoryCache(cfg.SummaryCacheTTL, 0)
		cache = memoryCache
	}

	srv := server.New(db, server.Config{
		Tokens:         tokens,
		Metrics:        metrics.New(),
		SummaryCache:   cache,
		IdempotencyTTL: cfg.IdempotencyTTL,
		CORSOrigins:    cfg.CORSOrigins,
		Limits: middleware.Limits{
			Read:   cfg.RateLimitRead,
			Write:  cfg.RateLimitWrite,
			Window: time.Minute,
		},
	}, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background cleanup goroutine
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := srv.EventService().SweepExpired(ctx); err != nil {
					slog.Error("sweep idempotency records", "error", err)
				} else if n > 0 {
					slog.Info("swept expired idempotency records", "count", n)
				}
				srv.RateLimiter().Cleanup()
				if memoryCache != nil {
					memoryCache.Cleanup()
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("babylog starting", "addr", httpServer.Addr, "db", cfg.DBPath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
