package payout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateSumsToTotal(t *testing.T) {
	c := NewCalculator()

	prices := []int64{0, 1, 7, 50, 999, 5000, 12345}
	for days := 1; days <= 120; days++ {
		for _, price := range prices {
			plan, err := c.Calculate(days, price, 2000)
			require.NoError(t, err)

			assert.Equal(t, int64(days)*price, plan.RentalTotal(), "days=%d price=%d", days, price)
			assert.Len(t, plan.CheckpointPayoutsCents, days/7)
			assert.Equal(t, int64(2000), plan.InstallationFeeCents)
			for _, cp := range plan.CheckpointPayoutsCents {
				assert.GreaterOrEqual(t, cp, int64(0))
			}
		}
	}
}

func TestCalculateExample(t *testing.T) {
	c := NewCalculator()

	plan, err := c.Calculate(10, 5000, 2000)
	require.NoError(t, err)

	assert.Equal(t, int64(25000), plan.FirstRentalPayoutCents)
	assert.Equal(t, []int64{25000}, plan.CheckpointPayoutsCents)
	assert.Equal(t, int64(27000), plan.FirstPayoutTotal())
	assert.LessOrEqual(t, plan.FirstRentalPayoutCents, int64(50000))
}

func TestCalculateRemainderGoesToLastCheckpoint(t *testing.T) {
	c := NewCalculator()

	plan, err := c.Calculate(14, 100, 0)
	require.NoError(t, err)

	// 1400 / 3 = 466, остаток 2
	assert.Equal(t, int64(466), plan.FirstRentalPayoutCents)
	assert.Equal(t, []int64{466, 468}, plan.CheckpointPayoutsCents)
}

func TestCalculateShortCampaign(t *testing.T) {
	c := NewCalculator()

	plan, err := c.Calculate(3, 333, 0)
	require.NoError(t, err)

	assert.Equal(t, int64(999), plan.FirstRentalPayoutCents)
	assert.Empty(t, plan.CheckpointPayoutsCents)
}

func TestCalculateInvalidInput(t *testing.T) {
	c := NewCalculator()

	_, err := c.Calculate(0, 100, 0)
	assert.ErrorIs(t, err, ErrInvalidDuration)

	_, err = c.Calculate(5, -1, 0)
	assert.ErrorIs(t, err, ErrNegativeAmount)

	_, err = c.Calculate(5, 1, -1)
	assert.ErrorIs(t, err, ErrNegativeAmount)
}

func TestCheckpointDates(t *testing.T) {
	c := NewCalculator()
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 30)

	dates := c.CheckpointDates(start, 30)
	require.Len(t, dates, 4)

	for i, d := range dates {
		assert.Equal(t, start.AddDate(0, 0, (i+1)*7), d)
		assert.False(t, d.After(end))
	}

	assert.Equal(t, dates, c.CheckpointDates(start, 30), "dates must be deterministic")
	assert.Empty(t, c.CheckpointDates(start, 6))
	assert.Len(t, c.CheckpointDates(start, 7), 1)
}

func TestBuildSchedule(t *testing.T) {
	c := &Calculator{IntervalDays: 5}
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	plan, err := c.Calculate(12, 1000, 500)
	require.NoError(t, err)

	schedule := c.BuildSchedule(start, 12, plan)
	require.Len(t, schedule, 2)

	assert.Equal(t, 5, schedule[0].DayNumber)
	assert.Equal(t, 10, schedule[1].DayNumber)
	assert.Equal(t, start.AddDate(0, 0, 10), schedule[1].DueDate)

	var sum int64
	for _, cp := range schedule {
		assert.False(t, cp.Completed)
		sum += cp.PayoutAmountCents
	}
	assert.Equal(t, int64(12000), plan.FirstRentalPayoutCents+sum)
}

func TestFormatCents(t *testing.T) {
	tests := []struct {
		cents    int64
		currency string
		want     string
	}{
		{cents: 0, currency: "usd", want: "0.00 USD"},
		{cents: 5, currency: "usd", want: "0.05 USD"},
		{cents: 27000, currency: "eur", want: "270.00 EUR"},
		{cents: 123456, currency: "", want: "1234.56"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatCents(tt.cents, tt.currency))
		})
	}
}
