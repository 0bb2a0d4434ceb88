package reconcile

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mmeshcher/adspace-escrow/internal/payout"
)

// Rules содержит окна и пороги правил сверки.
type Rules struct {
	ProofReviewWindow time.Duration
	ProofReminderFrom time.Duration
	ProofReminderTo   time.Duration

	ChargeWindow        time.Duration
	AttemptGuard        time.Duration
	RetryInterval       time.Duration
	RetrySlack          time.Duration
	MaxChargeAttempts   int
	BalanceReminderDays int

	NoProofGrace             time.Duration
	VerificationReminderDays int
	InstallationReminderDays []int
	OverdueCriticalDays      int

	VerificationIntervalDays int
	QualityGuaranteeDays     int
	Currency                 string
}

// DefaultRules возвращает правила по умолчанию.
func DefaultRules() Rules {
	return Rules{
		ProofReviewWindow: 48 * time.Hour,
		ProofReminderFrom: 23 * time.Hour,
		ProofReminderTo:   25 * time.Hour,

		ChargeWindow:        24 * time.Hour,
		AttemptGuard:        30 * time.Second,
		RetryInterval:       24 * time.Hour,
		RetrySlack:          10 * time.Minute,
		MaxChargeAttempts:   3,
		BalanceReminderDays: 2,

		NoProofGrace:             5 * 24 * time.Hour,
		VerificationReminderDays: 3,
		InstallationReminderDays: []int{7, 3, 1},
		OverdueCriticalDays:      7,

		VerificationIntervalDays: payout.DefaultIntervalDays,
		QualityGuaranteeDays:     7,
		Currency:                 "usd",
	}
}

// Validate проверяет согласованность правил.
func (r Rules) Validate() error {
	switch {
	case r.ProofReviewWindow <= 0:
		return errors.New("proof review window must be positive")
	case r.ProofReminderFrom >= r.ProofReminderTo:
		return fmt.Errorf("proof reminder window is empty: %s..%s", r.ProofReminderFrom, r.ProofReminderTo)
	case r.MaxChargeAttempts < 1:
		return errors.New("max charge attempts must be at least 1")
	case r.AttemptGuard < 0 || r.RetrySlack < 0 || r.RetryInterval-r.RetrySlack < r.AttemptGuard:
		return fmt.Errorf("retry interval %s minus slack %s must not be shorter than attempt guard %s",
			r.RetryInterval, r.RetrySlack, r.AttemptGuard)
	case r.VerificationIntervalDays < 1:
		return errors.New("verification interval must be at least 1 day")
	}
	return nil
}

func (r Rules) maxInstallationReminderDays() int {
	longest := 0
	for _, d := range r.InstallationReminderDays {
		if d > longest {
			longest = d
		}
	}
	return longest
}

func (r Rules) isInstallationReminderDay(days int) bool {
	for _, d := range r.InstallationReminderDays {
		if d == days {
			return true
		}
	}
	return false
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// calendarDaysUntil возвращает число календарных дней (UTC) от now до target, отрицательное для прошедших дат.
func calendarDaysUntil(now, target time.Time) int {
	return int(math.Round(startOfDay(target).Sub(startOfDay(now)).Hours() / 24))
}

// overdueDays возвращает просрочку в днях с округлением вверх.
func overdueDays(now, due time.Time) int {
	if !due.Before(now) {
		return 0
	}
	return int(math.Ceil(now.Sub(due).Hours() / 24))
}
