package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/mmeshcher/adspace-escrow/internal/gateway"
	"github.com/mmeshcher/adspace-escrow/internal/model"
	"github.com/mmeshcher/adspace-escrow/internal/repository"
)

var testNow = time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)

func ptrTime(t time.Time) *time.Time { return &t }

// memRepo повторяет условия SQL-запросов репозитория в памяти.
type memRepo struct {
	mu       sync.Mutex
	bookings map[string]*model.Booking
	order    []string

	findErr     map[string]error
	beforeGet   func(id string)
	beforeStamp func(id string)
}

func newMemRepo(bookings ...model.Booking) *memRepo {
	r := &memRepo{bookings: map[string]*model.Booking{}, findErr: map[string]error{}}
	for _, b := range bookings {
		r.put(b)
	}
	return r
}

func (r *memRepo) put(b model.Booking) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bookings[b.ID]; !ok {
		r.order = append(r.order, b.ID)
	}
	c := b
	r.bookings[b.ID] = &c
}

func (r *memRepo) booking(id string) model.Booking {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.bookings[id]
}

func (r *memRepo) update(id string, fn func(b *model.Booking)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.bookings[id])
}

func (r *memRepo) list(name string, keep func(b *model.Booking) bool) ([]model.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.findErr[name]; err != nil {
		return nil, err
	}
	var res []model.Booking
	for _, id := range r.order {
		b := r.bookings[id]
		if b != nil && keep(b) {
			res = append(res, *b)
		}
	}
	return res, nil
}

func (r *memRepo) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	if r.beforeGet != nil {
		r.beforeGet(id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, repository.ErrBookingNotFound
	}
	c := *b
	return &c, nil
}

func (r *memRepo) FindProofPendingBefore(ctx context.Context, cutoff time.Time) ([]model.Booking, error) {
	return r.list("FindProofPendingBefore", func(b *model.Booking) bool {
		return b.ProofStatus == model.ProofStatusPending && b.ProofUploadedAt != nil &&
			b.ProofUploadedAt.Before(cutoff) && !b.Status.IsTerminal()
	})
}

func (r *memRepo) FindProofUploadedBetween(ctx context.Context, from, to time.Time) ([]model.Booking, error) {
	return r.list("FindProofUploadedBetween", func(b *model.Booking) bool {
		return b.ProofStatus == model.ProofStatusPending && b.ProofUploadedAt != nil &&
			!b.ProofUploadedAt.Before(from) && !b.ProofUploadedAt.After(to)
	})
}

func (r *memRepo) FindBalanceDue(ctx context.Context, dueBefore time.Time) ([]model.Booking, error) {
	return r.list("FindBalanceDue", func(b *model.Booking) bool {
		return b.Status == model.BookingStatusPendingBalance && b.BalancePaidAt == nil &&
			b.BalanceDueDate != nil && !b.BalanceDueDate.After(dueBefore)
	})
}

func (r *memRepo) FindBalanceUnpaid(ctx context.Context) ([]model.Booking, error) {
	return r.list("FindBalanceUnpaid", func(b *model.Booking) bool {
		return b.Status == model.BookingStatusPendingBalance && b.BalancePaidAt == nil && b.BalanceDueDate != nil
	})
}

func (r *memRepo) FindActiveEndedBefore(ctx context.Context, now time.Time) ([]model.Booking, error) {
	return r.list("FindActiveEndedBefore", func(b *model.Booking) bool {
		return b.Status == model.BookingStatusActive && b.EndDate.Before(now)
	})
}

func (r *memRepo) FindConfirmedWithoutProof(ctx context.Context, startedBefore time.Time) ([]model.Booking, error) {
	return r.list("FindConfirmedWithoutProof", func(b *model.Booking) bool {
		return b.Status == model.BookingStatusConfirmed && b.ProofUploadedAt == nil &&
			(b.BalancePaidAt != nil || b.BalanceAmountCents == 0) && !b.StartDate.After(startedBefore)
	})
}

func (r *memRepo) FindAwaitingInstallation(ctx context.Context, startBefore time.Time) ([]model.Booking, error) {
	return r.list("FindAwaitingInstallation", func(b *model.Booking) bool {
		return (b.Status == model.BookingStatusConfirmed || b.Status == model.BookingStatusPendingBalance) &&
			b.ProofUploadedAt == nil && !b.StartDate.After(startBefore)
	})
}

func (r *memRepo) FindActiveWithVerification(ctx context.Context) ([]model.Booking, error) {
	return r.list("FindActiveWithVerification", func(b *model.Booking) bool {
		return b.Status == model.BookingStatusActive && b.NextVerificationDue != nil
	})
}

func (r *memRepo) ApproveProof(ctx context.Context, id string, a repository.ProofApproval) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bookings[id]
	if b == nil || b.ProofStatus != model.ProofStatusPending ||
		(b.Status != model.BookingStatusConfirmed && b.Status != model.BookingStatusActive) {
		return repository.ErrStaleBooking
	}

	at := a.ApprovedAt
	b.Status = model.BookingStatusActive
	b.ProofStatus = model.ProofStatusApproved
	b.ProofApprovedAt = &at
	b.VerificationSchedule = a.Schedule
	b.NextVerificationDue = model.NextVerificationDue(a.Schedule)
	b.QualityGuaranteeEnd = ptrTime(a.QualityGuaranteeEnd)
	b.PayoutStatus = a.PayoutStatus
	b.PayoutError = a.PayoutError
	b.FirstPayoutProcessed = a.FirstPayoutProcessed
	b.FirstPayoutAmountCents = a.FirstPayoutAmountCents
	b.TransferAmountCents = a.TransferAmountCents
	b.TransferID = a.TransferID
	if a.FirstPayoutProcessed {
		b.FirstPayoutDate = &at
		b.TransferredAt = &at
	}
	if a.InstallationFeeTransferredAt != nil {
		b.InstallationFeeTransferredAt = a.InstallationFeeTransferredAt
	}
	return nil
}

func (r *memRepo) RecordPayoutError(ctx context.Context, id, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bookings[id]
	if b == nil || b.Status.IsTerminal() {
		return repository.ErrStaleBooking
	}
	b.PayoutError = msg
	return nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (r *memRepo) StampBalanceAttempt(ctx context.Context, id string, expectedLast *time.Time, now time.Time) error {
	if r.beforeStamp != nil {
		r.beforeStamp(id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bookings[id]
	if b == nil || b.Status != model.BookingStatusPendingBalance || b.BalancePaidAt != nil ||
		!sameTime(b.LastBalanceChargeAttempt, expectedLast) {
		return repository.ErrStaleBooking
	}
	b.LastBalanceChargeAttempt = ptrTime(now)
	return nil
}

func (r *memRepo) MarkBalancePaid(ctx context.Context, id, chargeID string, paidAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bookings[id]
	if b == nil || b.Status != model.BookingStatusPendingBalance || b.BalancePaidAt != nil {
		return repository.ErrStaleBooking
	}
	b.Status = model.BookingStatusConfirmed
	b.BalancePaidAt = ptrTime(paidAt)
	b.BalanceChargeID = chargeID
	b.BalanceChargeAttempts = 0
	b.BalanceChargeError = ""
	return nil
}

func (r *memRepo) RecordBalanceFailure(ctx context.Context, id, msg string, maxAttempts int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bookings[id]
	if b == nil || b.Status != model.BookingStatusPendingBalance || b.BalancePaidAt != nil ||
		b.BalanceChargeAttempts >= maxAttempts {
		return 0, repository.ErrStaleBooking
	}
	b.BalanceChargeAttempts++
	b.BalanceChargeError = msg
	return b.BalanceChargeAttempts, nil
}

func (r *memRepo) CancelBooking(ctx context.Context, id string, from []model.BookingStatus, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bookings[id]
	if b == nil {
		return repository.ErrStaleBooking
	}
	for _, s := range from {
		if !s.IsTerminal() && b.Status == s {
			b.Status = model.BookingStatusCancelled
			b.CancellationReason = reason
			return nil
		}
	}
	return repository.ErrStaleBooking
}

func (r *memRepo) CompleteBooking(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bookings[id]
	if b == nil || b.Status != model.BookingStatusActive {
		return repository.ErrStaleBooking
	}
	b.Status = model.BookingStatusCompleted
	b.CompletedAt = ptrTime(at)
	return nil
}

// fakeGateway записывает все обращения к шлюзу.
type fakeGateway struct {
	mu sync.Mutex

	available   int64
	balanceErr  error
	transferErr map[string]error
	chargeErr   error
	refundErr   error

	balanceChecks []int64
	transfers     []gateway.TransferRequest
	charges       []gateway.ChargeRequest
	refunds       []string

	onCharge func()
}

func newFakeGateway(available int64) *fakeGateway {
	return &fakeGateway{available: available, transferErr: map[string]error{}}
}

func (g *fakeGateway) CheckAvailableBalance(ctx context.Context, amountCents int64) (gateway.BalanceCheck, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balanceChecks = append(g.balanceChecks, amountCents)
	if g.balanceErr != nil {
		return gateway.BalanceCheck{}, g.balanceErr
	}
	return gateway.BalanceCheck{HasBalance: g.available >= amountCents, AvailableCents: g.available}, nil
}

func (g *fakeGateway) CreateTransfer(ctx context.Context, req gateway.TransferRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transfers = append(g.transfers, req)
	if err := g.transferErr[req.Metadata["phase"]]; err != nil {
		return "", err
	}
	g.available -= req.AmountCents
	return fmt.Sprintf("tr_%d", len(g.transfers)), nil
}

func (g *fakeGateway) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (string, error) {
	g.mu.Lock()
	g.charges = append(g.charges, req)
	hook := g.onCharge
	err := g.chargeErr
	n := len(g.charges)
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("pi_charge_%d", n), nil
}

func (g *fakeGateway) Refund(ctx context.Context, chargeRef, reason string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, chargeRef)
	if g.refundErr != nil {
		return "", g.refundErr
	}
	return "re_" + chargeRef, nil
}

type sentNotification struct {
	UserID    string
	Type      model.NotificationType
	Title     string
	Content   string
	BookingID string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *fakeNotifier) Notify(ctx context.Context, userID string, typ model.NotificationType, title, content, bookingID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{UserID: userID, Type: typ, Title: title, Content: content, BookingID: bookingID})
}

func (n *fakeNotifier) ofType(typ model.NotificationType) []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var res []sentNotification
	for _, s := range n.sent {
		if s.Type == typ {
			res = append(res, s)
		}
	}
	return res
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	repo     *memRepo
	gw       *fakeGateway
	notifier *fakeNotifier
	clock    *clock
	engine   *Engine
}

func newHarness(t *testing.T, gw *fakeGateway, bookings ...model.Booking) *harness {
	return newHarnessWithLogger(zaptest.NewLogger(t), gw, bookings...)
}

func newHarnessWithLogger(logger *zap.Logger, gw *fakeGateway, bookings ...model.Booking) *harness {
	h := &harness{
		repo:     newMemRepo(bookings...),
		gw:       gw,
		notifier: &fakeNotifier{},
		clock:    &clock{now: testNow},
	}
	h.engine = NewEngine(h.repo, h.gw, h.notifier, h.clock.Now, logger, DefaultRules())
	return h
}

// confirmedBooking: оплаченное бронирование, кампания 10 дней по 50.00 в день, монтаж 20.00.
func confirmedBooking(id string) model.Booking {
	return model.Booking{
		ID:                      id,
		CampaignID:              "camp-" + id,
		SpaceID:                 "space-" + id,
		AdvertiserID:            "adv-" + id,
		OwnerID:                 "own-" + id,
		OwnerPayoutAccount:      "acct_owner" + id,
		AdvertiserCustomerRef:   "cus_adv" + id,
		AdvertiserPaymentMethod: "pm_card" + id,
		Status:                  model.BookingStatusConfirmed,
		StartDate:               testNow.AddDate(0, 0, -2),
		EndDate:                 testNow.AddDate(0, 0, 8),
		PricePerDayCents:        5000,
		TotalDays:               10,
		TotalAmountCents:        50000,
		InstallationFeeCents:    2000,
		BalanceAmountCents:      40000,
		BalancePaidAt:           ptrTime(testNow.AddDate(0, 0, -10)),
		BalanceChargeID:         "pi_balance" + id,
		DepositChargeID:         "pi_deposit" + id,
	}
}

func proofPendingBooking(id string, uploadedAgo time.Duration) model.Booking {
	b := confirmedBooking(id)
	b.ProofStatus = model.ProofStatusPending
	b.ProofUploadedAt = ptrTime(testNow.Add(-uploadedAgo))
	return b
}

func pendingBalanceBooking(id string) model.Booking {
	b := confirmedBooking(id)
	b.Status = model.BookingStatusPendingBalance
	b.StartDate = testNow.AddDate(0, 0, 10)
	b.EndDate = testNow.AddDate(0, 0, 20)
	b.BalancePaidAt = nil
	b.BalanceChargeID = ""
	b.BalanceDueDate = ptrTime(testNow.Add(-time.Hour))
	return b
}

var errDeclined = errors.New("card declined")
