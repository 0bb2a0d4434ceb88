package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/adspace-escrow/internal/gateway"
	"github.com/mmeshcher/adspace-escrow/internal/model"
	"github.com/mmeshcher/adspace-escrow/internal/payout"
	"github.com/mmeshcher/adspace-escrow/internal/repository"
	"github.com/mmeshcher/adspace-escrow/internal/validation"
)

const missingPayoutDestination = "owner has no payout destination"

func (e *Engine) findAutoApproval(ctx context.Context, now time.Time) ([]model.Booking, error) {
	return e.repo.FindProofPendingBefore(ctx, now.Add(-e.rules.ProofReviewWindow))
}

// proofReviewExpired: окно проверки истекло строго раньше now.
func (e *Engine) proofReviewExpired(b *model.Booking, now time.Time) bool {
	return b.ProofStatus == model.ProofStatusPending &&
		b.ProofUploadedAt != nil &&
		b.ProofUploadedAt.Before(now.Add(-e.rules.ProofReviewWindow))
}

func (e *Engine) autoApprove(ctx context.Context, scanned model.Booking, now time.Time) (model.Outcome, error) {
	b, err := e.repo.GetBooking(ctx, scanned.ID)
	if err != nil {
		return model.Outcome{}, err
	}

	switch b.Status {
	case model.BookingStatusConfirmed, model.BookingStatusActive:
	case model.BookingStatusPendingApproval, model.BookingStatusApproved, model.BookingStatusPendingBalance,
		model.BookingStatusDisputed:
		// эскроу ещё не собран или идёт спор
		return skipped()
	case model.BookingStatusCompleted, model.BookingStatusCancelled, model.BookingStatusRejected:
		return skipped()
	default:
		return model.Outcome{}, fmt.Errorf("unknown booking status %q", b.Status)
	}

	if !e.proofReviewExpired(b, now) {
		return skipped()
	}

	if !validation.IsPayoutDestination(b.OwnerPayoutAccount) {
		if err := e.repo.RecordPayoutError(ctx, b.ID, missingPayoutDestination); err != nil {
			return model.Outcome{}, err
		}
		e.logger.Warn("auto-approval skipped: no payout destination",
			zap.String("booking_id", b.ID),
			zap.String("owner_id", b.OwnerID),
		)
		return model.Outcome{Action: model.ActionMissingPayoutDestination, Error: missingPayoutDestination}, nil
	}

	plan, err := e.calc.Calculate(b.TotalDays, b.PricePerDayCents, b.InstallationFeeCents)
	if err != nil {
		return model.Outcome{}, fmt.Errorf("calculate payout plan: %w", err)
	}

	guaranteeEnd := now.AddDate(0, 0, e.rules.QualityGuaranteeDays)
	approval := repository.ProofApproval{
		ApprovedAt:          now,
		Schedule:            e.calc.BuildSchedule(now, b.TotalDays, plan),
		QualityGuaranteeEnd: guaranteeEnd,
	}
	total := plan.FirstPayoutTotal()

	check, err := e.gateway.CheckAvailableBalance(ctx, total)
	if err != nil || !check.HasBalance {
		msg := fmt.Sprintf("insufficient platform balance: need %s, available %s",
			payout.FormatCents(total, e.rules.Currency), payout.FormatCents(check.AvailableCents, e.rules.Currency))
		if err != nil {
			msg = fmt.Sprintf("balance check failed: %v", err)
		}
		return e.deferPayout(ctx, b, approval, model.ActionInsufficientBalance, msg, total, guaranteeEnd)
	}

	if plan.InstallationFeeCents > 0 {
		_, err := e.gateway.CreateTransfer(ctx, gateway.TransferRequest{
			AmountCents:    plan.InstallationFeeCents,
			Destination:    b.OwnerPayoutAccount,
			Description:    fmt.Sprintf("Installation fee for booking %s", b.ID),
			Metadata:       transferMetadata(b, PhaseInstallationFee),
			IdempotencyKey: TransferKey(b.ID, PhaseInstallationFee),
		})
		if err != nil {
			msg := fmt.Sprintf("installation fee transfer failed: %v", err)
			return e.deferPayout(ctx, b, approval, model.ActionPayoutPendingReview, msg, total, guaranteeEnd)
		}
		at := now
		approval.InstallationFeeTransferredAt = &at
		approval.TransferAmountCents = plan.InstallationFeeCents
	}

	var transferID string
	if plan.FirstRentalPayoutCents > 0 {
		transferID, err = e.gateway.CreateTransfer(ctx, gateway.TransferRequest{
			AmountCents:    plan.FirstRentalPayoutCents,
			Destination:    b.OwnerPayoutAccount,
			Description:    fmt.Sprintf("First rental payout for booking %s", b.ID),
			Metadata:       transferMetadata(b, PhaseFirstRental),
			IdempotencyKey: TransferKey(b.ID, PhaseFirstRental),
		})
		if err != nil {
			msg := fmt.Sprintf("first rental transfer failed: %v", err)
			return e.deferPayout(ctx, b, approval, model.ActionPayoutPendingReview, msg, total, guaranteeEnd)
		}
	}

	approval.PayoutStatus = model.PayoutStatusPaid
	approval.FirstPayoutProcessed = true
	approval.FirstPayoutAmountCents = plan.FirstRentalPayoutCents
	approval.TransferAmountCents = total
	approval.TransferID = transferID

	// Переводы уже ушли: при повторе ключи идемпотентности не дадут выплатить дважды.
	if err := e.repo.ApproveProof(ctx, b.ID, approval); err != nil {
		return model.Outcome{}, fmt.Errorf("approve proof after payout: %w", err)
	}

	e.notifier.Notify(ctx, b.OwnerID, model.NotificationPayoutSent,
		"Installation approved, payout sent",
		fmt.Sprintf("Your installation proof was approved. %s has been sent to your payout account.",
			payout.FormatCents(total, e.rules.Currency)),
		b.ID,
	)
	e.notifyInstallationLive(ctx, b, guaranteeEnd)

	e.logger.Info("proof auto-approved",
		zap.String("booking_id", b.ID),
		zap.Int64("payout_cents", total),
		zap.String("transfer_id", transferID),
	)

	return model.Outcome{Action: model.ActionAutoApproved, AmountCents: total}, nil
}

// deferPayout одобряет монтаж без выплаты и помечает выплату для ручной сверки.
func (e *Engine) deferPayout(ctx context.Context, b *model.Booking, approval repository.ProofApproval,
	action model.Action, msg string, total int64, guaranteeEnd time.Time) (model.Outcome, error) {
	approval.PayoutStatus = model.PayoutStatusPendingReview
	approval.PayoutError = msg
	approval.FirstPayoutProcessed = false

	if err := e.repo.ApproveProof(ctx, b.ID, approval); err != nil {
		return model.Outcome{}, err
	}

	e.logger.Error("payout requires manual review",
		zap.String("booking_id", b.ID),
		zap.String("campaign_id", b.CampaignID),
		zap.Int64("payout_cents", total),
		zap.String("reason", msg),
	)
	e.notifyInstallationLive(ctx, b, guaranteeEnd)

	return model.Outcome{Action: action, AmountCents: total, Error: msg}, nil
}

func (e *Engine) notifyInstallationLive(ctx context.Context, b *model.Booking, guaranteeEnd time.Time) {
	e.notifier.Notify(ctx, b.AdvertiserID, model.NotificationInstallationLive,
		"Your ad is live",
		fmt.Sprintf("Installation was confirmed. You can report quality issues until %s (%d-day quality guarantee).",
			guaranteeEnd.Format("2006-01-02"), e.rules.QualityGuaranteeDays),
		b.ID,
	)
}

func transferMetadata(b *model.Booking, phase PayoutPhase) map[string]string {
	return map[string]string{
		"booking_id":  b.ID,
		"campaign_id": b.CampaignID,
		"phase":       string(phase),
	}
}

func (e *Engine) findProofReminder(ctx context.Context, now time.Time) ([]model.Booking, error) {
	return e.repo.FindProofUploadedBetween(ctx, now.Add(-e.rules.ProofReminderTo), now.Add(-e.rules.ProofReminderFrom))
}

func (e *Engine) remindProofReview(ctx context.Context, b model.Booking, now time.Time) (model.Outcome, error) {
	if b.ProofStatus != model.ProofStatusPending {
		return skipped()
	}

	e.notifier.Notify(ctx, b.AdvertiserID, model.NotificationProofReviewReminder,
		"Installation proof awaiting review",
		"The space owner uploaded installation proof. It will be approved automatically in about 24 hours unless you review it.",
		b.ID,
	)

	return model.Outcome{Action: model.ActionReminderSent}, nil
}
