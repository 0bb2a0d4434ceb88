package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/adspace-escrow/internal/model"
)

// verificationDue возвращает срок ближайшей проверки: из графика, если он есть, иначе из сохранённого поля.
func verificationDue(b model.Booking) *time.Time {
	if len(b.VerificationSchedule) > 0 {
		return model.NextVerificationDue(b.VerificationSchedule)
	}
	return b.NextVerificationDue
}

func (e *Engine) findVerificationDue(ctx context.Context, now time.Time) ([]model.Booking, error) {
	bookings, err := e.repo.FindActiveWithVerification(ctx)
	if err != nil {
		return nil, err
	}
	return filter(bookings, func(b model.Booking) bool {
		due := verificationDue(b)
		return due != nil && calendarDaysUntil(now, *due) == e.rules.VerificationReminderDays
	}), nil
}

func (e *Engine) remindVerification(ctx context.Context, b model.Booking, now time.Time) (model.Outcome, error) {
	due := verificationDue(b)
	if due == nil {
		return skipped()
	}

	e.notifier.Notify(ctx, b.OwnerID, model.NotificationVerificationDue,
		"Verification photo due soon",
		fmt.Sprintf("Please upload a verification photo by %s to receive your next payout.", due.Format("2006-01-02")),
		b.ID,
	)
	return model.Outcome{Action: model.ActionReminderSent}, nil
}

func (e *Engine) findInstallationDue(ctx context.Context, now time.Time) ([]model.Booking, error) {
	horizon := startOfDay(now).AddDate(0, 0, e.rules.maxInstallationReminderDays()+1)
	bookings, err := e.repo.FindAwaitingInstallation(ctx, horizon)
	if err != nil {
		return nil, err
	}
	return filter(bookings, func(b model.Booking) bool {
		return e.rules.isInstallationReminderDay(calendarDaysUntil(now, b.StartDate))
	}), nil
}

func installationMessage(days int) (string, string) {
	switch {
	case days <= 1:
		return "URGENT: installation due tomorrow",
			"The campaign starts tomorrow. Install the advertisement and upload proof today to avoid cancellation."
	case days <= 3:
		return fmt.Sprintf("Installation due in %d days", days),
			fmt.Sprintf("The campaign starts in %d days. Please schedule the installation now.", days)
	default:
		return "Upcoming installation",
			fmt.Sprintf("The campaign starts in %d days. Get ready to install the advertisement.", days)
	}
}

func (e *Engine) remindInstallation(ctx context.Context, b model.Booking, now time.Time) (model.Outcome, error) {
	days := calendarDaysUntil(now, b.StartDate)
	title, content := installationMessage(days)

	e.notifier.Notify(ctx, b.OwnerID, model.NotificationInstallationReminder, title, content, b.ID)
	return model.Outcome{Action: model.ActionReminderSent}, nil
}

func (e *Engine) findOverdueVerification(ctx context.Context, now time.Time) ([]model.Booking, error) {
	bookings, err := e.repo.FindActiveWithVerification(ctx)
	if err != nil {
		return nil, err
	}
	return filter(bookings, func(b model.Booking) bool {
		due := verificationDue(b)
		return due != nil && due.Before(now)
	}), nil
}

func (e *Engine) escalateOverdue(ctx context.Context, b model.Booking, now time.Time) (model.Outcome, error) {
	due := verificationDue(b)
	if due == nil {
		return skipped()
	}
	days := overdueDays(now, *due)

	e.notifier.Notify(ctx, b.OwnerID, model.NotificationVerificationOverdue,
		"Verification overdue",
		fmt.Sprintf("Your verification photo is %d day(s) overdue. Upload it now to keep receiving payouts.", days),
		b.ID,
	)

	if days > e.rules.OverdueCriticalDays {
		e.logger.Error("verification critically overdue",
			zap.String("severity", "critical"),
			zap.String("booking_id", b.ID),
			zap.String("owner_id", b.OwnerID),
			zap.Int("overdue_days", days),
		)
	}

	return model.Outcome{Action: model.ActionOverdueWarning}, nil
}
