package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/adspace-escrow/internal/model"
	"github.com/mmeshcher/adspace-escrow/internal/payout"
)

func (e *Engine) findCompleted(ctx context.Context, now time.Time) ([]model.Booking, error) {
	return e.repo.FindActiveEndedBefore(ctx, now)
}

func (e *Engine) completeCampaign(ctx context.Context, scanned model.Booking, now time.Time) (model.Outcome, error) {
	b, err := e.repo.GetBooking(ctx, scanned.ID)
	if err != nil {
		return model.Outcome{}, err
	}

	switch b.Status {
	case model.BookingStatusActive:
	case model.BookingStatusPendingApproval, model.BookingStatusApproved, model.BookingStatusPendingBalance,
		model.BookingStatusConfirmed, model.BookingStatusDisputed,
		model.BookingStatusCompleted, model.BookingStatusCancelled, model.BookingStatusRejected:
		return skipped()
	default:
		return model.Outcome{}, fmt.Errorf("unknown booking status %q", b.Status)
	}

	if !b.EndDate.Before(now) {
		return skipped()
	}

	if err := e.repo.CompleteBooking(ctx, b.ID, now); err != nil {
		return model.Outcome{}, err
	}

	e.notifier.Notify(ctx, b.OwnerID, model.NotificationCampaignCompleted,
		"Campaign completed",
		fmt.Sprintf("The campaign on your space ended on %s. You can now remove the installation.", b.EndDate.Format("2006-01-02")),
		b.ID,
	)

	return model.Outcome{Action: model.ActionCompleted}, nil
}

func (e *Engine) findNoProof(ctx context.Context, now time.Time) ([]model.Booking, error) {
	return e.repo.FindConfirmedWithoutProof(ctx, now.Add(-e.rules.NoProofGrace))
}

func (e *Engine) cancelWithoutProof(ctx context.Context, scanned model.Booking, now time.Time) (model.Outcome, error) {
	b, err := e.repo.GetBooking(ctx, scanned.ID)
	if err != nil {
		return model.Outcome{}, err
	}

	switch b.Status {
	case model.BookingStatusConfirmed:
	case model.BookingStatusPendingApproval, model.BookingStatusApproved, model.BookingStatusPendingBalance,
		model.BookingStatusActive, model.BookingStatusDisputed,
		model.BookingStatusCompleted, model.BookingStatusCancelled, model.BookingStatusRejected:
		return skipped()
	default:
		return model.Outcome{}, fmt.Errorf("unknown booking status %q", b.Status)
	}

	if b.ProofUploadedAt != nil || b.StartDate.After(now.Add(-e.rules.NoProofGrace)) {
		return skipped()
	}

	graceDays := int(e.rules.NoProofGrace.Hours() / 24)
	reason := fmt.Sprintf("no installation proof within %d days of start date", graceDays)

	if err := e.repo.CancelBooking(ctx, b.ID, []model.BookingStatus{model.BookingStatusConfirmed}, reason); err != nil {
		return model.Outcome{}, err
	}

	out := model.Outcome{Action: model.ActionNoProofCancelled}

	var refundErrs []string
	var refunded int64
	for _, ref := range []struct {
		charge string
		amount int64
	}{
		{charge: b.DepositChargeID, amount: b.TotalAmountCents - b.BalanceAmountCents},
		{charge: b.BalanceChargeID, amount: b.BalanceAmountCents},
	} {
		if ref.charge == "" {
			continue
		}
		if err := e.refund(ctx, ref.charge, reason); err != nil {
			e.logger.Error("refund failed",
				zap.String("booking_id", b.ID),
				zap.String("charge_id", ref.charge),
				zap.Error(err),
			)
			refundErrs = append(refundErrs, fmt.Sprintf("refund %s: %v", ref.charge, err))
			continue
		}
		refunded += ref.amount
	}

	out.AmountCents = refunded
	if len(refundErrs) > 0 {
		out.Error = strings.Join(refundErrs, "; ")
	}

	e.notifier.Notify(ctx, b.OwnerID, model.NotificationBookingCancelled,
		"Booking cancelled",
		fmt.Sprintf("The booking was cancelled because no installation proof was uploaded within %d days of the start date.", graceDays),
		b.ID,
	)
	title := "Booking cancelled and refunded"
	content := fmt.Sprintf("The space owner did not confirm installation. Your booking was cancelled and %s has been refunded.",
		payout.FormatCents(refunded, e.rules.Currency))
	if len(refundErrs) > 0 {
		title = "Booking cancelled"
		content = "The space owner did not confirm installation. Your booking was cancelled and your refund is being processed."
	}
	e.notifier.Notify(ctx, b.AdvertiserID, model.NotificationBookingRefunded, title, content, b.ID)

	return out, nil
}
