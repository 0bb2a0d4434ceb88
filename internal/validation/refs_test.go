package validation

import "testing"

func TestGatewayRefs(t *testing.T) {
	tests := []struct {
		name  string
		check func(string) bool
		ref   string
		valid bool
	}{
		{
			name:  "payout account",
			check: IsPayoutDestination,
			ref:   "acct_1NvQ2x",
			valid: true,
		},
		{
			name:  "payout account empty id",
			check: IsPayoutDestination,
			ref:   "acct_",
			valid: false,
		},
		{
			name:  "payout account wrong prefix",
			check: IsPayoutDestination,
			ref:   "cus_123",
			valid: false,
		},
		{
			name:  "customer",
			check: IsCustomerRef,
			ref:   "cus_Pq81",
			valid: true,
		},
		{
			name:  "customer with spaces",
			check: IsCustomerRef,
			ref:   "cus_ab cd",
			valid: false,
		},
		{
			name:  "payment method",
			check: IsPaymentMethodRef,
			ref:   "pm_card_visa",
			valid: true,
		},
		{
			name:  "empty payment method",
			check: IsPaymentMethodRef,
			ref:   "",
			valid: false,
		},
		{
			name:  "payment intent charge",
			check: IsChargeRef,
			ref:   "pi_3Mtw",
			valid: true,
		},
		{
			name:  "legacy charge",
			check: IsChargeRef,
			ref:   "ch_1Ab",
			valid: true,
		},
		{
			name:  "not a charge",
			check: IsChargeRef,
			ref:   "re_1Ab",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.check(tt.ref)
			if got != tt.valid {
				t.Fatalf("check(%q) = %v, want %v", tt.ref, got, tt.valid)
			}
		})
	}
}
