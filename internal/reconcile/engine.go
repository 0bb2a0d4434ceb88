// Package reconcile реализует сверку жизненного цикла бронирований: автоодобрение монтажа, доплату,
// завершение и отмену бронирований, напоминания о проверках.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/adspace-escrow/internal/gateway"
	"github.com/mmeshcher/adspace-escrow/internal/model"
	"github.com/mmeshcher/adspace-escrow/internal/payout"
	"github.com/mmeshcher/adspace-escrow/internal/repository"
)

// Repository описывает контракт доступа к бронированиям, используемый движком.
type Repository interface {
	GetBooking(ctx context.Context, id string) (*model.Booking, error)

	FindProofPendingBefore(ctx context.Context, cutoff time.Time) ([]model.Booking, error)
	FindProofUploadedBetween(ctx context.Context, from, to time.Time) ([]model.Booking, error)
	FindBalanceDue(ctx context.Context, dueBefore time.Time) ([]model.Booking, error)
	FindBalanceUnpaid(ctx context.Context) ([]model.Booking, error)
	FindActiveEndedBefore(ctx context.Context, now time.Time) ([]model.Booking, error)
	FindConfirmedWithoutProof(ctx context.Context, startedBefore time.Time) ([]model.Booking, error)
	FindAwaitingInstallation(ctx context.Context, startBefore time.Time) ([]model.Booking, error)
	FindActiveWithVerification(ctx context.Context) ([]model.Booking, error)

	ApproveProof(ctx context.Context, id string, a repository.ProofApproval) error
	RecordPayoutError(ctx context.Context, id, msg string) error
	StampBalanceAttempt(ctx context.Context, id string, expectedLast *time.Time, now time.Time) error
	MarkBalancePaid(ctx context.Context, id, chargeID string, paidAt time.Time) error
	RecordBalanceFailure(ctx context.Context, id, msg string, maxAttempts int) (int, error)
	CancelBooking(ctx context.Context, id string, from []model.BookingStatus, reason string) error
	CompleteBooking(ctx context.Context, id string, at time.Time) error
}

// Gateway описывает операции платёжного шлюза.
type Gateway interface {
	CheckAvailableBalance(ctx context.Context, amountCents int64) (gateway.BalanceCheck, error)
	CreateTransfer(ctx context.Context, req gateway.TransferRequest) (string, error)
	CreateCharge(ctx context.Context, req gateway.ChargeRequest) (string, error)
	Refund(ctx context.Context, chargeRef, reason string) (string, error)
}

// Notifier ставит уведомления пользователям в очередь.
type Notifier interface {
	Notify(ctx context.Context, userID string, typ model.NotificationType, title, content, bookingID string)
}

// Engine выполняет один прогон сверки по всем правилам.
type Engine struct {
	repo     Repository
	gateway  Gateway
	notifier Notifier
	calc     *payout.Calculator
	now      func() time.Time
	logger   *zap.Logger
	rules    Rules

	guard AttemptFence
	retry AttemptFence
}

// NewEngine создаёт движок сверки. Все зависимости, включая часы, передаются явно.
func NewEngine(repo Repository, gw Gateway, notifier Notifier, now func() time.Time, logger *zap.Logger, rules Rules) *Engine {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		repo:     repo,
		gateway:  gw,
		notifier: notifier,
		calc:     &payout.Calculator{IntervalDays: rules.VerificationIntervalDays},
		now:      now,
		logger:   logger,
		rules:    rules,
		guard:    AttemptFence{MinInterval: rules.AttemptGuard},
		retry:    AttemptFence{MinInterval: rules.RetryInterval - rules.RetrySlack},
	}
}

type policy struct {
	name  model.Policy
	find  func(ctx context.Context, now time.Time) ([]model.Booking, error)
	apply func(ctx context.Context, b model.Booking, now time.Time) (model.Outcome, error)
}

func (e *Engine) policies() []policy {
	return []policy{
		{name: model.PolicyAutoApproval, find: e.findAutoApproval, apply: e.autoApprove},
		{name: model.PolicyProofReminder, find: e.findProofReminder, apply: e.remindProofReview},
		{name: model.PolicyBalanceCharge, find: e.findBalanceDue, apply: e.chargeBalance},
		{name: model.PolicyBalanceReminder, find: e.findBalanceReminder, apply: e.remindBalance},
		{name: model.PolicyCompletion, find: e.findCompleted, apply: e.completeCampaign},
		{name: model.PolicyNoProofCancellation, find: e.findNoProof, apply: e.cancelWithoutProof},
		{name: model.PolicyVerificationReminder, find: e.findVerificationDue, apply: e.remindVerification},
		{name: model.PolicyInstallationReminder, find: e.findInstallationDue, apply: e.remindInstallation},
		{name: model.PolicyOverdueVerification, find: e.findOverdueVerification, apply: e.escalateOverdue},
	}
}

// Run проходит по всем правилам последовательно и возвращает отчёт.
// Ошибка по одному бронированию попадает в отчёт и не прерывает прогон.
func (e *Engine) Run(ctx context.Context) *model.Report {
	now := e.now().UTC()
	report := model.NewReport(uuid.NewString(), now)
	log := e.logger.With(zap.String("run_id", report.RunID))

	log.Info("reconciliation run", zap.String("state", "STARTED"), zap.Time("now", now))

	for _, p := range e.policies() {
		candidates, err := p.find(ctx, now)
		if err != nil {
			log.Error("failed to load candidates", zap.String("policy", string(p.name)), zap.Error(err))
			report.Record(model.Outcome{Policy: p.name, Action: model.ActionError, Error: err.Error()})
			continue
		}

		for _, b := range candidates {
			out := e.apply(ctx, log, p, b, now)
			report.Record(out)
		}
	}

	log.Info("reconciliation run",
		zap.String("state", "REPORTED"),
		zap.Int("auto_approvals", report.AutoApprovals),
		zap.Int("balance_charges_attempted", report.BalanceChargesAttempted),
		zap.Int("campaigns_completed", report.CampaignsCompleted),
		zap.Int("no_proof_cancellations", report.NoProofCancellations),
		zap.Int("manual_review", report.ManualReview),
		zap.Int("errors", report.Errors),
	)

	return report
}

func (e *Engine) apply(ctx context.Context, log *zap.Logger, p policy, b model.Booking, now time.Time) (out model.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("policy panicked",
				zap.String("policy", string(p.name)),
				zap.String("booking_id", b.ID),
				zap.Any("panic", r),
			)
			out = model.Outcome{
				BookingID: b.ID,
				Policy:    p.name,
				Action:    model.ActionError,
				Error:     fmt.Sprintf("panic: %v", r),
			}
		}
	}()

	var err error
	out, err = p.apply(ctx, b, now)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrStaleBooking), errors.Is(err, repository.ErrBookingNotFound):
			log.Debug("booking changed concurrently, skipped",
				zap.String("policy", string(p.name)),
				zap.String("booking_id", b.ID),
			)
			out = model.Outcome{Action: model.ActionSkipped}
		default:
			log.Error("failed to process booking",
				zap.String("policy", string(p.name)),
				zap.String("booking_id", b.ID),
				zap.Error(err),
			)
			out = model.Outcome{Action: model.ActionError, Error: err.Error()}
		}
	}

	out.BookingID = b.ID
	out.Policy = p.name
	return out
}

func skipped() (model.Outcome, error) {
	return model.Outcome{Action: model.ActionSkipped}, nil
}

func filter(bookings []model.Booking, keep func(b model.Booking) bool) []model.Booking {
	var res []model.Booking
	for _, b := range bookings {
		if keep(b) {
			res = append(res, b)
		}
	}
	return res
}
