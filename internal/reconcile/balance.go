package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/adspace-escrow/internal/gateway"
	"github.com/mmeshcher/adspace-escrow/internal/model"
	"github.com/mmeshcher/adspace-escrow/internal/payout"
	"github.com/mmeshcher/adspace-escrow/internal/validation"
)

func (e *Engine) findBalanceDue(ctx context.Context, now time.Time) ([]model.Booking, error) {
	return e.repo.FindBalanceDue(ctx, now.Add(e.rules.ChargeWindow))
}

func (e *Engine) chargeBalance(ctx context.Context, scanned model.Booking, now time.Time) (model.Outcome, error) {
	b, err := e.repo.GetBooking(ctx, scanned.ID)
	if err != nil {
		return model.Outcome{}, err
	}

	switch b.Status {
	case model.BookingStatusPendingBalance:
	case model.BookingStatusPendingApproval, model.BookingStatusApproved, model.BookingStatusConfirmed,
		model.BookingStatusActive, model.BookingStatusDisputed,
		model.BookingStatusCompleted, model.BookingStatusCancelled, model.BookingStatusRejected:
		// уже обработано другим запуском
		return skipped()
	default:
		return model.Outcome{}, fmt.Errorf("unknown booking status %q", b.Status)
	}

	if b.BalancePaidAt != nil {
		return skipped()
	}
	if !e.guard.Allow(b.LastBalanceChargeAttempt, now) {
		e.logger.Info("balance charge in flight, skipped",
			zap.String("booking_id", b.ID),
			zap.Timep("last_attempt", b.LastBalanceChargeAttempt),
		)
		return skipped()
	}

	if b.BalanceChargeAttempts >= e.rules.MaxChargeAttempts {
		reason := fmt.Sprintf("balance payment failed after %d attempts", b.BalanceChargeAttempts)
		return e.cancelUnpaid(ctx, b, model.ActionBalanceCancelled, reason)
	}

	if !e.retry.Allow(b.LastBalanceChargeAttempt, now) {
		return skipped()
	}

	if !validation.IsCustomerRef(b.AdvertiserCustomerRef) || !validation.IsPaymentMethodRef(b.AdvertiserPaymentMethod) {
		return e.cancelUnpaid(ctx, b, model.ActionMissingPaymentMethod, "no saved payment method for balance payment")
	}

	if b.BalanceDueDate == nil {
		return model.Outcome{}, fmt.Errorf("booking %s has no balance due date", b.ID)
	}

	if err := e.repo.StampBalanceAttempt(ctx, b.ID, b.LastBalanceChargeAttempt, now); err != nil {
		return model.Outcome{}, err
	}

	if b.BalanceAmountCents <= 0 {
		if err := e.repo.MarkBalancePaid(ctx, b.ID, "", now); err != nil {
			return model.Outcome{}, err
		}
		return model.Outcome{Action: model.ActionBalanceCharged}, nil
	}

	chargeID, chargeErr := e.gateway.CreateCharge(ctx, gateway.ChargeRequest{
		AmountCents:      b.BalanceAmountCents,
		CustomerRef:      b.AdvertiserCustomerRef,
		PaymentMethodRef: b.AdvertiserPaymentMethod,
		IdempotencyKey:   BalanceChargeKey(b.ID, *b.BalanceDueDate),
		Metadata: map[string]string{
			"booking_id":  b.ID,
			"campaign_id": b.CampaignID,
			"phase":       string(PhaseBalance),
		},
	})
	if chargeErr != nil {
		attempts, err := e.repo.RecordBalanceFailure(ctx, b.ID, chargeErr.Error(), e.rules.MaxChargeAttempts)
		if err != nil {
			return model.Outcome{}, fmt.Errorf("record balance failure: %w", err)
		}

		e.logger.Warn("balance charge failed",
			zap.String("booking_id", b.ID),
			zap.Int("attempts", attempts),
			zap.Error(chargeErr),
		)

		if attempts == 1 {
			e.notifier.Notify(ctx, b.AdvertiserID, model.NotificationBalancePaymentFailed,
				"Balance payment failed",
				fmt.Sprintf("We could not charge %s for your booking. We will retry automatically; please check your payment method.",
					payout.FormatCents(b.BalanceAmountCents, e.rules.Currency)),
				b.ID,
			)
		}

		return model.Outcome{
			Action:      model.ActionBalanceChargeFailed,
			AmountCents: b.BalanceAmountCents,
			Error:       chargeErr.Error(),
		}, nil
	}

	if err := e.repo.MarkBalancePaid(ctx, b.ID, chargeID, now); err != nil {
		return model.Outcome{}, fmt.Errorf("mark balance paid (charge %s): %w", chargeID, err)
	}

	e.notifier.Notify(ctx, b.AdvertiserID, model.NotificationBalancePaid,
		"Balance payment received",
		fmt.Sprintf("We charged %s. Your booking is confirmed.", payout.FormatCents(b.BalanceAmountCents, e.rules.Currency)),
		b.ID,
	)

	e.logger.Info("balance charged",
		zap.String("booking_id", b.ID),
		zap.String("charge_id", chargeID),
		zap.Int64("amount_cents", b.BalanceAmountCents),
	)

	return model.Outcome{Action: model.ActionBalanceCharged, AmountCents: b.BalanceAmountCents}, nil
}

// cancelUnpaid отменяет бронирование без доплаты и возвращает депозит.
func (e *Engine) cancelUnpaid(ctx context.Context, b *model.Booking, action model.Action, reason string) (model.Outcome, error) {
	if err := e.repo.CancelBooking(ctx, b.ID, []model.BookingStatus{model.BookingStatusPendingBalance}, reason); err != nil {
		return model.Outcome{}, err
	}

	out := model.Outcome{Action: action}
	content := "Your booking was cancelled because the balance payment could not be collected."

	if b.DepositChargeID != "" {
		deposit := b.TotalAmountCents - b.BalanceAmountCents
		if err := e.refund(ctx, b.DepositChargeID, reason); err != nil {
			e.logger.Error("deposit refund failed",
				zap.String("booking_id", b.ID),
				zap.String("charge_id", b.DepositChargeID),
				zap.Error(err),
			)
			out.Error = fmt.Sprintf("deposit refund failed: %v", err)
			content += " Your deposit refund is being processed."
		} else {
			if deposit > 0 {
				out.AmountCents = deposit
				content += fmt.Sprintf(" Your deposit of %s has been refunded.", payout.FormatCents(deposit, e.rules.Currency))
			} else {
				content += " Your deposit has been refunded."
			}
		}
	}

	e.notifier.Notify(ctx, b.AdvertiserID, model.NotificationBookingCancelled, "Booking cancelled", content, b.ID)

	e.logger.Info("booking cancelled for unpaid balance",
		zap.String("booking_id", b.ID),
		zap.String("reason", reason),
	)

	return out, nil
}

// refund возвращает платёж. Ссылки не в формате шлюза до него не доходят.
func (e *Engine) refund(ctx context.Context, chargeRef, reason string) error {
	if !validation.IsChargeRef(chargeRef) {
		return fmt.Errorf("invalid charge reference %q", chargeRef)
	}
	_, err := e.gateway.Refund(ctx, chargeRef, reason)
	return err
}

func (e *Engine) findBalanceReminder(ctx context.Context, now time.Time) ([]model.Booking, error) {
	bookings, err := e.repo.FindBalanceUnpaid(ctx)
	if err != nil {
		return nil, err
	}
	return filter(bookings, func(b model.Booking) bool {
		return b.BalanceDueDate != nil && calendarDaysUntil(now, *b.BalanceDueDate) == e.rules.BalanceReminderDays
	}), nil
}

func (e *Engine) remindBalance(ctx context.Context, b model.Booking, now time.Time) (model.Outcome, error) {
	e.notifier.Notify(ctx, b.AdvertiserID, model.NotificationBalanceReminder,
		"Balance payment due soon",
		fmt.Sprintf("%s will be charged to your saved payment method on %s.",
			payout.FormatCents(b.BalanceAmountCents, e.rules.Currency), b.BalanceDueDate.Format("2006-01-02")),
		b.ID,
	)
	return model.Outcome{Action: model.ActionReminderSent, AmountCents: b.BalanceAmountCents}, nil
}
