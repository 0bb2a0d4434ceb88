// Package main запускает HTTP-сервер сверки бронирований.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/adspace-escrow/internal/config"
	"github.com/mmeshcher/adspace-escrow/internal/gateway"
	"github.com/mmeshcher/adspace-escrow/internal/handler"
	"github.com/mmeshcher/adspace-escrow/internal/middleware"
	"github.com/mmeshcher/adspace-escrow/internal/notify"
	"github.com/mmeshcher/adspace-escrow/internal/reconcile"
	"github.com/mmeshcher/adspace-escrow/internal/repository"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}
	if cfg.CronSecret == "" {
		sugar.Warn("CRON_SECRET is empty, all trigger requests will be rejected")
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	gwCfg := cfg.Gateway()
	gwCfg.Logger = logger.Named("gateway")
	gw := gateway.NewClient(gwCfg)

	sink := notify.NewSink(repo, logger.Named("notify"))

	engine := reconcile.NewEngine(repo, gw, sink, time.Now, logger.Named("reconcile"), cfg.Rules())

	authMiddleware := middleware.NewBearerAuth(cfg.CronSecret, logger)
	h := handler.NewHandler(engine, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting reconciler server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
