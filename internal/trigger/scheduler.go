package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mmeshcher/adspace-escrow/internal/model"
)

// Runner запускает один прогон сверки.
type Runner interface {
	Trigger(ctx context.Context) (*model.Report, error)
}

// Scheduler запускает сверку по cron-расписанию в UTC. Прогоны не перекрываются.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	timeout time.Duration
	logger  *zap.Logger
}

// NewScheduler регистрирует задачу сверки по расписанию schedule в стандартном cron-формате.
func NewScheduler(schedule string, runner Runner, timeout time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cl := cronLogger{logger.Sugar()}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	s := &Scheduler{
		cron:    c,
		runner:  runner,
		timeout: timeout,
		logger:  logger,
	}

	if _, err := c.AddFunc(schedule, s.RunOnce); err != nil {
		return nil, fmt.Errorf("register reconcile job %q: %w", schedule, err)
	}

	return s, nil
}

// RunOnce выполняет один прогон с таймаутом и логирует результат.
func (s *Scheduler) RunOnce() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	report, err := s.runner.Trigger(ctx)
	if err != nil {
		s.logger.Error("reconcile trigger failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return
	}

	s.logger.Info("reconcile trigger succeeded",
		zap.String("run_id", report.RunID),
		zap.Int("results", len(report.Results)),
		zap.Duration("duration", time.Since(start)),
	)
}

// Start запускает планировщик в фоне.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop останавливает планировщик и ждёт завершения текущего прогона или отмены ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) { l.s.Debugw(msg, keysAndValues...) }
func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
