package reconcile

import (
	"fmt"
	"time"
)

// AttemptFence решает, можно ли повторить действие, по времени последней попытки.
type AttemptFence struct {
	MinInterval time.Duration
}

// Allow разрешает попытку, если предыдущей не было или с неё прошло не меньше MinInterval.
// Отметка из будущего считается свежей.
func (f AttemptFence) Allow(last *time.Time, now time.Time) bool {
	if last == nil {
		return true
	}
	return now.Sub(*last) >= f.MinInterval
}

// PayoutPhase обозначает этап выплаты владельцу.
type PayoutPhase string

const (
	PhaseInstallationFee PayoutPhase = "installation_fee"
	PhaseFirstRental     PayoutPhase = "first_rental"
	PhaseBalance         PayoutPhase = "balance"
)

// BalanceChargeKey строит ключ идемпотентности доплаты из идентификатора бронирования и срока оплаты.
func BalanceChargeKey(bookingID string, dueDate time.Time) string {
	return fmt.Sprintf("booking_%s_balance_%d", bookingID, dueDate.Unix())
}

// TransferKey строит ключ идемпотентности перевода владельцу для этапа выплаты.
func TransferKey(bookingID string, phase PayoutPhase) string {
	return fmt.Sprintf("booking_%s_%s", bookingID, phase)
}
