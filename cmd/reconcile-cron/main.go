// Package main запускает планировщик, который вызывает сверку по cron-расписанию.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/adspace-escrow/internal/config"
	"github.com/mmeshcher/adspace-escrow/internal/trigger"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.ParseCron()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	client := trigger.NewClient(cfg.TriggerURL, cfg.CronSecret, cfg.Timeout, logger.Named("trigger"))

	if cfg.RunOnce {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()

		report, err := client.Trigger(ctx)
		if err != nil {
			if errors.Is(err, trigger.ErrUnauthorized) {
				sugar.Fatalw("trigger rejected, check CRON_SECRET", "url", cfg.TriggerURL)
			}
			sugar.Fatalw("reconcile trigger failed", "error", err.Error())
		}
		sugar.Infow("reconcile run completed", "run_id", report.RunID, "errors", report.Errors)
		return
	}

	scheduler, err := trigger.NewScheduler(cfg.Schedule, client, cfg.Timeout, logger.Named("scheduler"))
	if err != nil {
		sugar.Fatalw("scheduler initialization error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler.Start()
	sugar.Infow("reconcile scheduler is running", "schedule", cfg.Schedule, "url", cfg.TriggerURL)

	<-ctx.Done()
	sugar.Info("stopping scheduler...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout+5*time.Second)
	defer cancel()

	if err := scheduler.Stop(shutdownCtx); err != nil {
		sugar.Warnw("scheduler stopped before the current run finished", "error", err.Error())
		return
	}
	sugar.Info("scheduler stopped gracefully")
}
