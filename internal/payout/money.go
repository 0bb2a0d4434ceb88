package payout

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatCents переводит сумму в центах в строку вида "12.50 USD".
func FormatCents(cents int64, currency string) string {
	amount := decimal.New(cents, -2).StringFixed(2)
	if currency == "" {
		return amount
	}
	return amount + " " + strings.ToUpper(currency)
}
