// Package model содержит доменные сущности сервиса сверки бронирований рекламных площадей.
package model

import "time"

// BookingStatus описывает этап жизненного цикла бронирования.
type BookingStatus string

const (
	BookingStatusPendingApproval BookingStatus = "PENDING_APPROVAL"
	BookingStatusApproved        BookingStatus = "APPROVED"
	BookingStatusPendingBalance  BookingStatus = "PENDING_BALANCE"
	BookingStatusConfirmed       BookingStatus = "CONFIRMED"
	BookingStatusActive          BookingStatus = "ACTIVE"
	BookingStatusCompleted       BookingStatus = "COMPLETED"
	BookingStatusDisputed        BookingStatus = "DISPUTED"
	BookingStatusRejected        BookingStatus = "REJECTED"
	BookingStatusCancelled       BookingStatus = "CANCELLED"
)

// Valid сообщает, входит ли статус в известный набор.
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingStatusPendingApproval, BookingStatusApproved, BookingStatusPendingBalance,
		BookingStatusConfirmed, BookingStatusActive, BookingStatusCompleted,
		BookingStatusDisputed, BookingStatusRejected, BookingStatusCancelled:
		return true
	}
	return false
}

// IsTerminal сообщает, что из статуса больше нет переходов.
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingStatusCompleted, BookingStatusCancelled, BookingStatusRejected:
		return true
	}
	return false
}

// ProofStatus описывает состояние подтверждения монтажа. Пустое значение означает, что подтверждение не загружено.
type ProofStatus string

const (
	ProofStatusNone     ProofStatus = ""
	ProofStatusPending  ProofStatus = "PENDING"
	ProofStatusApproved ProofStatus = "APPROVED"
)

// Valid сообщает, входит ли статус подтверждения в известный набор.
func (s ProofStatus) Valid() bool {
	switch s {
	case ProofStatusNone, ProofStatusPending, ProofStatusApproved:
		return true
	}
	return false
}

// PayoutStatus описывает состояние первой выплаты владельцу площади.
type PayoutStatus string

const (
	PayoutStatusNone PayoutStatus = ""
	PayoutStatusPaid PayoutStatus = "PAID"

	// PayoutStatusPendingReview: деньги не ушли, нужна ручная сверка.
	PayoutStatusPendingReview PayoutStatus = "PENDING_REVIEW"
)

// Valid сообщает, входит ли статус выплаты в известный набор.
func (s PayoutStatus) Valid() bool {
	switch s {
	case PayoutStatusNone, PayoutStatusPaid, PayoutStatusPendingReview:
		return true
	}
	return false
}

// VerificationCheckpoint описывает плановую проверку размещения с частичной выплатой.
type VerificationCheckpoint struct {
	DayNumber         int        `json:"day_number"`
	DueDate           time.Time  `json:"due_date"`
	PayoutAmountCents int64      `json:"payout_amount_cents"`
	Completed         bool       `json:"completed"`
	PhotoURL          string     `json:"photo_url,omitempty"`
	SubmittedAt       *time.Time `json:"submitted_at,omitempty"`
	VerifiedAt        *time.Time `json:"verified_at,omitempty"`
}

// NextVerificationDue возвращает срок ближайшей незавершённой проверки или nil, если все проверки пройдены.
func NextVerificationDue(schedule []VerificationCheckpoint) *time.Time {
	var next *time.Time
	for i := range schedule {
		cp := schedule[i]
		if cp.Completed {
			continue
		}
		if next == nil || cp.DueDate.Before(*next) {
			due := cp.DueDate
			next = &due
		}
	}
	return next
}

// Booking описывает бронирование площади вместе с данными кампании, площади и сторон сделки.
type Booking struct {
	ID           string
	CampaignID   string
	SpaceID      string
	AdvertiserID string
	OwnerID      string

	// Реквизиты платёжного шлюза.
	OwnerPayoutAccount      string
	AdvertiserCustomerRef   string
	AdvertiserPaymentMethod string

	Status          BookingStatus
	ProofStatus     ProofStatus
	ProofUploadedAt *time.Time
	ProofApprovedAt *time.Time

	StartDate time.Time
	EndDate   time.Time

	PricePerDayCents     int64
	TotalDays            int
	TotalAmountCents     int64
	InstallationFeeCents int64
	BalanceAmountCents   int64
	BalanceDueDate       *time.Time
	BalancePaidAt        *time.Time
	BalanceChargeID      string

	BalanceChargeAttempts    int
	LastBalanceChargeAttempt *time.Time
	BalanceChargeError       string

	DepositChargeID string

	FirstPayoutProcessed         bool
	FirstPayoutDate              *time.Time
	FirstPayoutAmountCents       int64
	TransferredAt                *time.Time
	TransferAmountCents          int64
	TransferID                   string
	InstallationFeeTransferredAt *time.Time
	PayoutStatus                 PayoutStatus
	PayoutError                  string

	VerificationSchedule []VerificationCheckpoint
	NextVerificationDue  *time.Time
	QualityGuaranteeEnd  *time.Time

	CancellationReason string
	CompletedAt        *time.Time
	UpdatedAt          time.Time
}

// NotificationType определяет вид уведомления для пользователя.
type NotificationType string

const (
	NotificationPayoutSent           NotificationType = "payout_sent"
	NotificationInstallationLive     NotificationType = "installation_live"
	NotificationProofReviewReminder  NotificationType = "proof_review_reminder"
	NotificationBalancePaid          NotificationType = "balance_paid"
	NotificationBalancePaymentFailed NotificationType = "balance_payment_failed"
	NotificationBalanceReminder      NotificationType = "balance_reminder"
	NotificationBookingCancelled     NotificationType = "booking_cancelled"
	NotificationBookingRefunded      NotificationType = "booking_refunded"
	NotificationCampaignCompleted    NotificationType = "campaign_completed"
	NotificationVerificationDue      NotificationType = "verification_due"
	NotificationInstallationReminder NotificationType = "installation_reminder"
	NotificationVerificationOverdue  NotificationType = "verification_overdue"
)

// Notification описывает запрос на уведомление пользователя.
type Notification struct {
	ID        int64
	UserID    string
	Type      NotificationType
	Title     string
	Content   string
	BookingID string
	CreatedAt time.Time
}
