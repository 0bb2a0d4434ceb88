package model

import "time"

// Policy определяет правило сверки, породившее результат.
type Policy string

const (
	PolicyAutoApproval         Policy = "auto_approval"
	PolicyProofReminder        Policy = "proof_reminder_24h"
	PolicyBalanceCharge        Policy = "balance_charge"
	PolicyBalanceReminder      Policy = "balance_reminder"
	PolicyCompletion           Policy = "campaign_completion"
	PolicyNoProofCancellation  Policy = "no_proof_cancellation"
	PolicyVerificationReminder Policy = "verification_reminder"
	PolicyInstallationReminder Policy = "installation_reminder"
	PolicyOverdueVerification  Policy = "overdue_verification"
)

// Action описывает действие, выполненное над бронированием.
type Action string

const (
	ActionAutoApproved             Action = "auto_approved"
	ActionPayoutPendingReview      Action = "payout_pending_review"
	ActionInsufficientBalance      Action = "insufficient_balance"
	ActionMissingPayoutDestination Action = "missing_payout_destination"
	ActionReminderSent             Action = "reminder_sent"
	ActionBalanceCharged           Action = "balance_charged"
	ActionBalanceChargeFailed      Action = "balance_charge_failed"
	ActionBalanceCancelled         Action = "balance_cancelled"
	ActionMissingPaymentMethod     Action = "missing_payment_method"
	ActionCompleted                Action = "completed"
	ActionNoProofCancelled         Action = "no_proof_cancelled"
	ActionOverdueWarning           Action = "overdue_warning"
	ActionSkipped                  Action = "skipped"
	ActionError                    Action = "error"
)

// Outcome описывает результат обработки одного бронирования.
type Outcome struct {
	BookingID   string `json:"booking_id"`
	Policy      Policy `json:"policy"`
	Action      Action `json:"action"`
	AmountCents int64  `json:"amount_cents,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Report содержит итоги одного прогона сверки.
type Report struct {
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`

	AutoApprovals           int `json:"auto_approvals"`
	Reminders24h            int `json:"reminders_24h"`
	BalanceChargesAttempted int `json:"balance_charges_attempted"`
	CampaignsCompleted      int `json:"campaigns_completed"`
	NoProofCancellations    int `json:"no_proof_cancellations"`
	VerificationReminders   int `json:"verification_reminders"`
	OverdueWarnings         int `json:"overdue_warnings"`

	BalanceReminders      int `json:"balance_reminders"`
	InstallationReminders int `json:"installation_reminders"`
	BalanceCancellations  int `json:"balance_cancellations"`
	ManualReview          int `json:"manual_review"`
	Skipped               int `json:"skipped"`
	Errors                int `json:"errors"`

	Results []Outcome `json:"results"`
}

// NewReport создаёт пустой отчёт прогона.
func NewReport(runID string, ts time.Time) *Report {
	return &Report{
		RunID:     runID,
		Timestamp: ts,
		Results:   []Outcome{},
	}
}

// Record учитывает результат в счётчиках отчёта. Пропуски только считаются и в список не попадают.
func (r *Report) Record(o Outcome) {
	switch o.Action {
	case ActionSkipped:
		r.Skipped++
		return
	case ActionAutoApproved:
		r.AutoApprovals++
	case ActionPayoutPendingReview, ActionInsufficientBalance:
		r.AutoApprovals++
		r.ManualReview++
	case ActionMissingPayoutDestination:
		r.ManualReview++
	case ActionReminderSent:
		switch o.Policy {
		case PolicyProofReminder:
			r.Reminders24h++
		case PolicyBalanceReminder:
			r.BalanceReminders++
		case PolicyVerificationReminder:
			r.VerificationReminders++
		case PolicyInstallationReminder:
			r.InstallationReminders++
		}
	case ActionBalanceCharged, ActionBalanceChargeFailed:
		r.BalanceChargesAttempted++
	case ActionBalanceCancelled, ActionMissingPaymentMethod:
		r.BalanceCancellations++
	case ActionCompleted:
		r.CampaignsCompleted++
	case ActionNoProofCancelled:
		r.NoProofCancellations++
	case ActionOverdueWarning:
		r.OverdueWarnings++
	case ActionError:
		r.Errors++
	}

	r.Results = append(r.Results, o)
}
