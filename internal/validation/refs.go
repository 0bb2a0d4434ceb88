// Package validation содержит проверки идентификаторов платёжного шлюза.
package validation

import (
	"strings"
	"unicode"
)

const (
	payoutAccountPrefix = "acct_"
	customerPrefix      = "cus_"
	paymentMethodPrefix = "pm_"
	chargePrefix        = "pi_"
	legacyChargePrefix  = "ch_"
)

// IsPayoutDestination проверяет идентификатор счёта владельца для переводов.
func IsPayoutDestination(ref string) bool {
	return hasPrefixedID(ref, payoutAccountPrefix)
}

// IsCustomerRef проверяет идентификатор покупателя в шлюзе.
func IsCustomerRef(ref string) bool {
	return hasPrefixedID(ref, customerPrefix)
}

// IsPaymentMethodRef проверяет идентификатор сохранённого способа оплаты.
func IsPaymentMethodRef(ref string) bool {
	return hasPrefixedID(ref, paymentMethodPrefix)
}

// IsChargeRef проверяет ссылку на списание, пригодную для возврата.
func IsChargeRef(ref string) bool {
	return hasPrefixedID(ref, chargePrefix) || hasPrefixedID(ref, legacyChargePrefix)
}

func hasPrefixedID(ref, prefix string) bool {
	if !strings.HasPrefix(ref, prefix) {
		return false
	}

	id := ref[len(prefix):]
	if id == "" {
		return false
	}

	for _, ch := range id {
		if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && ch != '_' {
			return false
		}
	}

	return true
}
