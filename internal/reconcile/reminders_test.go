package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mmeshcher/adspace-escrow/internal/model"
)

func verifyingBooking(id string, dueInDays int) model.Booking {
	b := activeBooking(id)
	b.NextVerificationDue = ptrTime(testNow.AddDate(0, 0, dueInDays))
	return b
}

func TestVerificationReminder(t *testing.T) {
	h := newHarness(t, newFakeGateway(0),
		verifyingBooking("due", 3),
		verifyingBooking("soon", 2),
		verifyingBooking("later", 4),
	)

	report := h.engine.Run(context.Background())

	sent := h.notifier.ofType(model.NotificationVerificationDue)
	require.Len(t, sent, 1)
	assert.Equal(t, "own-due", sent[0].UserID)
	assert.Contains(t, sent[0].Content, testNow.AddDate(0, 0, 3).Format("2006-01-02"))
	assert.Equal(t, 1, report.VerificationReminders)
	assert.Equal(t, 0, report.OverdueWarnings)
}

func TestDailyRunsRemindOnce(t *testing.T) {
	h := newHarness(t, newFakeGateway(0),
		verifyingBooking("verify", 4),
		proofPendingBooking("proof", 23*time.Hour+30*time.Minute),
	)

	for day := 0; day < 3; day++ {
		h.engine.Run(context.Background())
		h.clock.Advance(24 * time.Hour)
	}

	assert.Len(t, h.notifier.ofType(model.NotificationVerificationDue), 1)
	assert.Len(t, h.notifier.ofType(model.NotificationProofReviewReminder), 1)
}

func TestVerificationReminderUsesSchedule(t *testing.T) {
	booking := activeBooking("b1")
	booking.VerificationSchedule = []model.VerificationCheckpoint{
		{DayNumber: 7, DueDate: testNow.AddDate(0, 0, -1), Completed: true},
		{DayNumber: 14, DueDate: testNow.AddDate(0, 0, 3)},
	}
	// Поле ещё указывает на пройденную проверку.
	booking.NextVerificationDue = ptrTime(testNow.AddDate(0, 0, -1))

	h := newHarness(t, newFakeGateway(0), booking)

	report := h.engine.Run(context.Background())

	assert.Equal(t, 1, report.VerificationReminders)
	assert.Equal(t, 0, report.OverdueWarnings)
}

func TestInstallationReminders(t *testing.T) {
	booking := func(id string, startsIn int) model.Booking {
		b := confirmedBooking(id)
		b.StartDate = testNow.AddDate(0, 0, startsIn)
		b.EndDate = b.StartDate.AddDate(0, 0, 10)
		return b
	}

	h := newHarness(t, newFakeGateway(0),
		booking("week", 7),
		booking("five", 5),
		booking("three", 3),
		booking("one", 1),
	)

	report := h.engine.Run(context.Background())

	sent := h.notifier.ofType(model.NotificationInstallationReminder)
	require.Len(t, sent, 3)

	titles := map[string]string{}
	for _, s := range sent {
		titles[s.BookingID] = s.Title
		assert.Equal(t, "own-"+s.BookingID, s.UserID)
	}
	assert.Equal(t, "Upcoming installation", titles["week"])
	assert.Equal(t, "Installation due in 3 days", titles["three"])
	assert.Equal(t, "URGENT: installation due tomorrow", titles["one"])
	assert.NotContains(t, titles, "five")

	assert.Equal(t, 3, report.InstallationReminders)
}

func TestInstallationReminderSkipsUploadedProof(t *testing.T) {
	booking := proofPendingBooking("b1", 10*time.Hour)
	booking.StartDate = testNow.AddDate(0, 0, 3)
	h := newHarness(t, newFakeGateway(0), booking)

	report := h.engine.Run(context.Background())

	assert.Empty(t, h.notifier.ofType(model.NotificationInstallationReminder))
	assert.Equal(t, 0, report.InstallationReminders)
}

func TestOverdueVerification(t *testing.T) {
	tests := []struct {
		name         string
		dueInDays    int
		wantDays     string
		wantCritical bool
	}{
		{name: "two days overdue", dueInDays: -2, wantDays: "2 day(s)", wantCritical: false},
		{name: "seven days overdue", dueInDays: -7, wantDays: "7 day(s)", wantCritical: false},
		{name: "nine days overdue", dueInDays: -9, wantDays: "9 day(s)", wantCritical: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.InfoLevel)
			h := newHarnessWithLogger(zap.New(core), newFakeGateway(0), verifyingBooking("b1", tt.dueInDays))

			report := h.engine.Run(context.Background())

			sent := h.notifier.ofType(model.NotificationVerificationOverdue)
			require.Len(t, sent, 1)
			assert.Equal(t, "own-b1", sent[0].UserID)
			assert.Contains(t, sent[0].Content, tt.wantDays)
			assert.Equal(t, 1, report.OverdueWarnings)
			assert.Equal(t, model.BookingStatusActive, h.repo.booking("b1").Status)

			critical := logs.FilterMessage("verification critically overdue")
			if tt.wantCritical {
				require.Equal(t, 1, critical.Len())
				entry := critical.All()[0]
				assert.Equal(t, zapcore.ErrorLevel, entry.Level)
				assert.Equal(t, "critical", entry.ContextMap()["severity"])
			} else {
				assert.Zero(t, critical.Len())
			}
		})
	}
}

func TestOverdueWarningRepeatsEveryRun(t *testing.T) {
	h := newHarness(t, newFakeGateway(0), verifyingBooking("b1", -2))

	h.engine.Run(context.Background())
	h.engine.Run(context.Background())

	assert.Len(t, h.notifier.ofType(model.NotificationVerificationOverdue), 2)
}
