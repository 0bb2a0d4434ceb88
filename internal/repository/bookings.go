package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/adspace-escrow/internal/model"
)

const bookingSelect = `
SELECT b.id::text, b.campaign_id::text, b.space_id::text, c.advertiser_id::text, s.owner_id::text,
       COALESCE(o.payout_account, ''), COALESCE(a.payment_customer_ref, ''), COALESCE(a.payment_method_ref, ''),
       b.status, COALESCE(b.proof_status, ''), b.proof_uploaded_at, b.proof_approved_at,
       b.start_date, b.end_date,
       b.price_per_day, b.total_days, b.total_amount, b.installation_fee,
       b.balance_amount, b.balance_due_date, b.balance_paid_at, COALESCE(b.balance_charge_id, ''),
       b.balance_charge_attempts, b.last_balance_charge_attempt, COALESCE(b.balance_charge_error, ''),
       COALESCE(b.deposit_charge_id, ''),
       b.first_payout_processed, b.first_payout_date, b.first_payout_amount,
       b.transferred_at, b.transfer_amount, COALESCE(b.transfer_id, ''), b.installation_fee_transferred_at,
       COALESCE(b.payout_status, ''), COALESCE(b.payout_error, ''),
       b.verification_schedule, b.next_verification_due, b.quality_guarantee_end,
       COALESCE(b.cancellation_reason, ''), b.completed_at, b.updated_at
FROM bookings b
JOIN campaigns c ON c.id = b.campaign_id
JOIN spaces s ON s.id = b.space_id
JOIN users a ON a.id = c.advertiser_id
JOIN users o ON o.id = s.owner_id`

// ProofApproval содержит поля, которые записываются при одобрении монтажа.
type ProofApproval struct {
	ApprovedAt          time.Time
	Schedule            []model.VerificationCheckpoint
	QualityGuaranteeEnd time.Time

	PayoutStatus                 model.PayoutStatus
	PayoutError                  string
	FirstPayoutProcessed         bool
	FirstPayoutAmountCents       int64
	TransferAmountCents          int64
	TransferID                   string
	InstallationFeeTransferredAt *time.Time
}

func scanBooking(row pgx.Row) (model.Booking, error) {
	var (
		b           model.Booking
		status      string
		proofStatus string
		payout      string
		schedule    []byte
	)

	err := row.Scan(
		&b.ID, &b.CampaignID, &b.SpaceID, &b.AdvertiserID, &b.OwnerID,
		&b.OwnerPayoutAccount, &b.AdvertiserCustomerRef, &b.AdvertiserPaymentMethod,
		&status, &proofStatus, &b.ProofUploadedAt, &b.ProofApprovedAt,
		&b.StartDate, &b.EndDate,
		&b.PricePerDayCents, &b.TotalDays, &b.TotalAmountCents, &b.InstallationFeeCents,
		&b.BalanceAmountCents, &b.BalanceDueDate, &b.BalancePaidAt, &b.BalanceChargeID,
		&b.BalanceChargeAttempts, &b.LastBalanceChargeAttempt, &b.BalanceChargeError,
		&b.DepositChargeID,
		&b.FirstPayoutProcessed, &b.FirstPayoutDate, &b.FirstPayoutAmountCents,
		&b.TransferredAt, &b.TransferAmountCents, &b.TransferID, &b.InstallationFeeTransferredAt,
		&payout, &b.PayoutError,
		&schedule, &b.NextVerificationDue, &b.QualityGuaranteeEnd,
		&b.CancellationReason, &b.CompletedAt, &b.UpdatedAt,
	)
	if err != nil {
		return model.Booking{}, err
	}

	b.Status = model.BookingStatus(status)
	b.ProofStatus = model.ProofStatus(proofStatus)
	b.PayoutStatus = model.PayoutStatus(payout)

	if len(schedule) > 0 {
		if err := json.Unmarshal(schedule, &b.VerificationSchedule); err != nil {
			return model.Booking{}, fmt.Errorf("decode verification schedule: %w", err)
		}
	}

	return b, nil
}

func (r *PostgresRepository) queryBookings(ctx context.Context, where string, args ...any) ([]model.Booking, error) {
	var res []model.Booking

	err := r.withRetry(ctx, func(ctx context.Context) error {
		res = nil

		rows, err := r.pool.Query(ctx, bookingSelect+"\nWHERE "+where, args...)
		if err != nil {
			return fmt.Errorf("select bookings: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			b, err := scanBooking(rows)
			if err != nil {
				return fmt.Errorf("scan booking: %w", err)
			}
			res = append(res, b)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}
		return nil
	})

	return res, err
}

// GetBooking перечитывает бронирование из БД.
func (r *PostgresRepository) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	var b model.Booking

	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		b, err = scanBooking(r.pool.QueryRow(ctx, bookingSelect+"\nWHERE b.id = $1", id))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}

	return &b, nil
}

// FindProofPendingBefore возвращает бронирования с подтверждением на проверке, загруженным раньше cutoff.
func (r *PostgresRepository) FindProofPendingBefore(ctx context.Context, cutoff time.Time) ([]model.Booking, error) {
	return r.queryBookings(ctx,
		`b.proof_status = 'PENDING' AND b.proof_uploaded_at < $1
		 AND b.status NOT IN ('COMPLETED', 'CANCELLED', 'REJECTED')
		 ORDER BY b.proof_uploaded_at`,
		cutoff,
	)
}

// FindProofUploadedBetween возвращает бронирования с подтверждением на проверке, загруженным в интервале [from, to].
func (r *PostgresRepository) FindProofUploadedBetween(ctx context.Context, from, to time.Time) ([]model.Booking, error) {
	return r.queryBookings(ctx,
		`b.proof_status = 'PENDING' AND b.proof_uploaded_at >= $1 AND b.proof_uploaded_at <= $2
		 ORDER BY b.proof_uploaded_at`,
		from, to,
	)
}

// FindBalanceDue возвращает неоплаченные бронирования со сроком доплаты не позже dueBefore.
func (r *PostgresRepository) FindBalanceDue(ctx context.Context, dueBefore time.Time) ([]model.Booking, error) {
	return r.queryBookings(ctx,
		`b.status = 'PENDING_BALANCE' AND b.balance_paid_at IS NULL AND b.balance_due_date <= $1
		 ORDER BY b.balance_due_date`,
		dueBefore,
	)
}

// FindBalanceUnpaid возвращает все бронирования, ожидающие доплаты.
func (r *PostgresRepository) FindBalanceUnpaid(ctx context.Context) ([]model.Booking, error) {
	return r.queryBookings(ctx,
		`b.status = 'PENDING_BALANCE' AND b.balance_paid_at IS NULL AND b.balance_due_date IS NOT NULL
		 ORDER BY b.balance_due_date`,
	)
}

// FindActiveEndedBefore возвращает активные бронирования, чья кампания закончилась.
func (r *PostgresRepository) FindActiveEndedBefore(ctx context.Context, now time.Time) ([]model.Booking, error) {
	return r.queryBookings(ctx,
		`b.status = 'ACTIVE' AND b.end_date < $1 ORDER BY b.end_date`,
		now,
	)
}

// FindConfirmedWithoutProof возвращает оплаченные бронирования без подтверждения монтажа, стартовавшие не позже startedBefore.
func (r *PostgresRepository) FindConfirmedWithoutProof(ctx context.Context, startedBefore time.Time) ([]model.Booking, error) {
	return r.queryBookings(ctx,
		`b.status = 'CONFIRMED' AND b.proof_uploaded_at IS NULL
		 AND (b.balance_paid_at IS NOT NULL OR b.balance_amount = 0)
		 AND b.start_date <= $1
		 ORDER BY b.start_date`,
		startedBefore,
	)
}

// FindAwaitingInstallation возвращает бронирования без подтверждения монтажа со стартом не позже startBefore.
func (r *PostgresRepository) FindAwaitingInstallation(ctx context.Context, startBefore time.Time) ([]model.Booking, error) {
	return r.queryBookings(ctx,
		`b.status IN ('CONFIRMED', 'PENDING_BALANCE') AND b.proof_uploaded_at IS NULL
		 AND b.start_date <= $1
		 ORDER BY b.start_date`,
		startBefore,
	)
}

// FindActiveWithVerification возвращает активные бронирования с незавершёнными проверками.
func (r *PostgresRepository) FindActiveWithVerification(ctx context.Context) ([]model.Booking, error) {
	return r.queryBookings(ctx,
		`b.status = 'ACTIVE' AND b.next_verification_due IS NOT NULL
		 ORDER BY b.next_verification_due`,
	)
}

// exec выполняет обновление и возвращает ErrStaleBooking, если условие не совпало ни с одной строкой.
func (r *PostgresRepository) exec(ctx context.Context, op, sql string, args ...any) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tag, err := r.pool.Exec(ctx, sql, args...)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrStaleBooking
		}
		return nil
	})
}

// ApproveProof одобряет монтаж и переводит бронирование в ACTIVE. Срабатывает только пока подтверждение на проверке.
func (r *PostgresRepository) ApproveProof(ctx context.Context, id string, a ProofApproval) error {
	schedule := a.Schedule
	if schedule == nil {
		schedule = []model.VerificationCheckpoint{}
	}
	scheduleJSON, err := json.Marshal(schedule)
	if err != nil {
		return fmt.Errorf("encode verification schedule: %w", err)
	}

	var (
		firstPayoutDate *time.Time
		transferredAt   *time.Time
	)
	if a.FirstPayoutProcessed {
		at := a.ApprovedAt
		firstPayoutDate = &at
		transferredAt = &at
	}

	return r.exec(ctx, "approve proof",
		`UPDATE bookings SET
		     status = 'ACTIVE',
		     proof_status = 'APPROVED',
		     proof_approved_at = $2,
		     verification_schedule = $3,
		     next_verification_due = $4,
		     quality_guarantee_end = $5,
		     payout_status = NULLIF($6, ''),
		     payout_error = NULLIF($7, ''),
		     first_payout_processed = $8,
		     first_payout_date = $9,
		     first_payout_amount = $10,
		     transferred_at = $11,
		     transfer_amount = $12,
		     transfer_id = NULLIF($13, ''),
		     installation_fee_transferred_at = COALESCE($14, installation_fee_transferred_at),
		     updated_at = now()
		 WHERE id = $1 AND proof_status = 'PENDING' AND status IN ('CONFIRMED', 'ACTIVE')`,
		id, a.ApprovedAt, scheduleJSON, model.NextVerificationDue(schedule), a.QualityGuaranteeEnd,
		string(a.PayoutStatus), a.PayoutError, a.FirstPayoutProcessed, firstPayoutDate,
		a.FirstPayoutAmountCents, transferredAt, a.TransferAmountCents, a.TransferID,
		a.InstallationFeeTransferredAt,
	)
}

// RecordPayoutError сохраняет ошибку выплаты, не меняя статус бронирования.
func (r *PostgresRepository) RecordPayoutError(ctx context.Context, id, msg string) error {
	return r.exec(ctx, "record payout error",
		`UPDATE bookings SET payout_error = $2, updated_at = now()
		 WHERE id = $1 AND status NOT IN ('COMPLETED', 'CANCELLED', 'REJECTED')`,
		id, msg,
	)
}

// StampBalanceAttempt ставит отметку о попытке списания, если её значение не изменилось с момента чтения.
func (r *PostgresRepository) StampBalanceAttempt(ctx context.Context, id string, expectedLast *time.Time, now time.Time) error {
	return r.exec(ctx, "stamp balance attempt",
		`UPDATE bookings SET last_balance_charge_attempt = $3, updated_at = now()
		 WHERE id = $1 AND status = 'PENDING_BALANCE' AND balance_paid_at IS NULL
		   AND last_balance_charge_attempt IS NOT DISTINCT FROM $2`,
		id, expectedLast, now,
	)
}

// MarkBalancePaid фиксирует успешную доплату и подтверждает бронирование.
func (r *PostgresRepository) MarkBalancePaid(ctx context.Context, id, chargeID string, paidAt time.Time) error {
	return r.exec(ctx, "mark balance paid",
		`UPDATE bookings SET
		     status = 'CONFIRMED',
		     balance_paid_at = $3,
		     balance_charge_id = $2,
		     balance_charge_attempts = 0,
		     balance_charge_error = NULL,
		     updated_at = now()
		 WHERE id = $1 AND status = 'PENDING_BALANCE' AND balance_paid_at IS NULL`,
		id, chargeID, paidAt,
	)
}

// RecordBalanceFailure увеличивает счётчик неудачных списаний, не превышая maxAttempts, и возвращает новое значение.
func (r *PostgresRepository) RecordBalanceFailure(ctx context.Context, id, msg string, maxAttempts int) (int, error) {
	var attempts int

	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.pool.QueryRow(ctx,
			`UPDATE bookings SET
			     balance_charge_attempts = balance_charge_attempts + 1,
			     balance_charge_error = $2,
			     updated_at = now()
			 WHERE id = $1 AND status = 'PENDING_BALANCE' AND balance_paid_at IS NULL
			   AND balance_charge_attempts < $3
			 RETURNING balance_charge_attempts`,
			id, msg, maxAttempts,
		).Scan(&attempts)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrStaleBooking
		}
		return 0, fmt.Errorf("record balance failure: %w", err)
	}

	return attempts, nil
}

// CancelBooking отменяет бронирование, если оно находится в одном из статусов from.
func (r *PostgresRepository) CancelBooking(ctx context.Context, id string, from []model.BookingStatus, reason string) error {
	statuses := make([]string, 0, len(from))
	for _, s := range from {
		if s.IsTerminal() {
			continue
		}
		statuses = append(statuses, string(s))
	}

	return r.exec(ctx, "cancel booking",
		`UPDATE bookings SET status = 'CANCELLED', cancellation_reason = $2, updated_at = now()
		 WHERE id = $1 AND status = ANY($3)`,
		id, reason, statuses,
	)
}

// CompleteBooking завершает активное бронирование.
func (r *PostgresRepository) CompleteBooking(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, "complete booking",
		`UPDATE bookings SET status = 'COMPLETED', completed_at = $2, updated_at = now()
		 WHERE id = $1 AND status = 'ACTIVE'`,
		id, at,
	)
}

// InsertNotification сохраняет запрос на уведомление пользователя.
func (r *PostgresRepository) InsertNotification(ctx context.Context, n model.Notification) (int64, error) {
	var id int64

	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.pool.QueryRow(ctx,
			`INSERT INTO notifications (user_id, type, title, content, booking_id)
			 VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid)
			 RETURNING id`,
			n.UserID, string(n.Type), n.Title, n.Content, n.BookingID,
		).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("insert notification: %w", err)
	}

	return id, nil
}
