// Package payout рассчитывает график выплат владельцу площади.
package payout

import (
	"errors"
	"fmt"
	"time"

	"github.com/mmeshcher/adspace-escrow/internal/model"
)

// DefaultIntervalDays — шаг между проверками размещения.
const DefaultIntervalDays = 7

var (
	// ErrInvalidDuration возвращается при нулевой или отрицательной длительности кампании.
	ErrInvalidDuration = errors.New("total days must be at least 1")
	// ErrNegativeAmount возвращается при отрицательной цене или стоимости монтажа.
	ErrNegativeAmount = errors.New("amount must not be negative")
)

// Plan содержит суммы выплат в центах.
type Plan struct {
	InstallationFeeCents   int64
	FirstRentalPayoutCents int64
	CheckpointPayoutsCents []int64
}

// RentalTotal возвращает сумму арендных выплат без стоимости монтажа.
func (p Plan) RentalTotal() int64 {
	total := p.FirstRentalPayoutCents
	for _, c := range p.CheckpointPayoutsCents {
		total += c
	}
	return total
}

// FirstPayoutTotal возвращает сумму, уходящую владельцу при одобрении монтажа.
func (p Plan) FirstPayoutTotal() int64 {
	return p.InstallationFeeCents + p.FirstRentalPayoutCents
}

// Calculator рассчитывает выплаты и даты проверок.
type Calculator struct {
	IntervalDays int
}

// NewCalculator создаёт калькулятор с шагом проверок по умолчанию.
func NewCalculator() *Calculator {
	return &Calculator{IntervalDays: DefaultIntervalDays}
}

func (c *Calculator) interval() int {
	if c == nil || c.IntervalDays <= 0 {
		return DefaultIntervalDays
	}
	return c.IntervalDays
}

// CheckpointCount возвращает количество проверок для кампании указанной длительности.
func (c *Calculator) CheckpointCount(totalDays int) int {
	if totalDays < 1 {
		return 0
	}
	return totalDays / c.interval()
}

// Calculate делит арендную сумму на первую выплату и равные выплаты по проверкам.
// Остаток от деления уходит в последнюю выплату, стоимость монтажа передаётся отдельно.
func (c *Calculator) Calculate(totalDays int, pricePerDayCents, installationFeeCents int64) (Plan, error) {
	if totalDays < 1 {
		return Plan{}, ErrInvalidDuration
	}
	if pricePerDayCents < 0 || installationFeeCents < 0 {
		return Plan{}, fmt.Errorf("%w: price %d, fee %d", ErrNegativeAmount, pricePerDayCents, installationFeeCents)
	}

	rental := int64(totalDays) * pricePerDayCents
	n := c.CheckpointCount(totalDays)
	tranches := int64(n + 1)
	share := rental / tranches
	remainder := rental - share*tranches

	plan := Plan{
		InstallationFeeCents:   installationFeeCents,
		FirstRentalPayoutCents: share,
		CheckpointPayoutsCents: make([]int64, n),
	}
	for i := range plan.CheckpointPayoutsCents {
		plan.CheckpointPayoutsCents[i] = share
	}

	if n == 0 {
		plan.FirstRentalPayoutCents += remainder
	} else {
		plan.CheckpointPayoutsCents[n-1] += remainder
	}

	return plan, nil
}

// CheckpointDates возвращает даты проверок с фиксированным шагом, не позже окончания кампании.
func (c *Calculator) CheckpointDates(start time.Time, totalDays int) []time.Time {
	n := c.CheckpointCount(totalDays)
	if n == 0 {
		return nil
	}

	end := start.AddDate(0, 0, totalDays)
	step := c.interval()

	dates := make([]time.Time, 0, n)
	for k := 1; k <= n; k++ {
		d := start.AddDate(0, 0, k*step)
		if d.After(end) {
			break
		}
		dates = append(dates, d)
	}
	return dates
}

// BuildSchedule собирает график проверок из дат и сумм плана.
func (c *Calculator) BuildSchedule(start time.Time, totalDays int, plan Plan) []model.VerificationCheckpoint {
	dates := c.CheckpointDates(start, totalDays)
	step := c.interval()

	schedule := make([]model.VerificationCheckpoint, 0, len(dates))
	for i, d := range dates {
		var amount int64
		if i < len(plan.CheckpointPayoutsCents) {
			amount = plan.CheckpointPayoutsCents[i]
		}
		schedule = append(schedule, model.VerificationCheckpoint{
			DayNumber:         (i + 1) * step,
			DueDate:           d,
			PayoutAmountCents: amount,
		})
	}
	return schedule
}
