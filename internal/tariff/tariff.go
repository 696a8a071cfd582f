// Package tariff turns a stay into an amount due.
package tariff

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type RoundingTarget string

const (
	RoundMinutes RoundingTarget = "minutes"
	RoundAmount  RoundingTarget = "amount"
)

const (
	DefaultBaseAmount       int64 = 500
	DefaultThresholdMinutes int64 = 15
	DefaultPerMinuteRate    int64 = 24
	DefaultRoundingUnit     int64 = 10
)

var ErrInvalidTariff = errors.New("invalid tariff")

// Tariff is a flat minimum up to a threshold plus a per-minute rate beyond it.
type Tariff struct {
	BaseAmount       int64          `json:"base_amount"`
	ThresholdMinutes int64          `json:"threshold_minutes"`
	PerMinuteRate    int64          `json:"per_minute_rate"`
	RoundingTarget   RoundingTarget `json:"rounding_target"`
	RoundingUnit     int64          `json:"rounding_unit"`
}

// Fee is the outcome of pricing one stay.
type Fee struct {
	ElapsedMinutes int64 `json:"elapsed_minutes"`
	BilledMinutes  int64 `json:"billed_minutes"`
	Amount         int64 `json:"amount"`
	// ClockSkew is set when exit preceded entry and elapsed time was clamped to zero.
	ClockSkew bool `json:"clock_skew,omitempty"`
}

func Default() Tariff {
	return Tariff{
		BaseAmount:       DefaultBaseAmount,
		ThresholdMinutes: DefaultThresholdMinutes,
		PerMinuteRate:    DefaultPerMinuteRate,
		RoundingTarget:   RoundAmount,
		RoundingUnit:     DefaultRoundingUnit,
	}
}

func ParseRoundingTarget(s string) (RoundingTarget, error) {
	switch RoundingTarget(strings.ToLower(strings.TrimSpace(s))) {
	case RoundMinutes:
		return RoundMinutes, nil
	case RoundAmount:
		return RoundAmount, nil
	}
	return "", fmt.Errorf("%w: unknown rounding target %q", ErrInvalidTariff, s)
}

func (t Tariff) Validate() error {
	if t.BaseAmount < 0 || t.ThresholdMinutes < 0 || t.PerMinuteRate < 0 {
		return fmt.Errorf("%w: base, threshold and rate must not be negative", ErrInvalidTariff)
	}
	if t.RoundingUnit <= 0 {
		return fmt.Errorf("%w: rounding unit must be positive, got %d", ErrInvalidTariff, t.RoundingUnit)
	}
	if _, err := ParseRoundingTarget(string(t.RoundingTarget)); err != nil {
		return err
	}
	return nil
}

// Compute prices the stay between entry and exit. Elapsed time is floored to
// whole minutes; a stay at or under the threshold always costs the base amount,
// whichever rounding target is configured.
func (t Tariff) Compute(entry, exit time.Time) Fee {
	var fee Fee
	elapsed := int64(exit.Sub(entry) / time.Minute)
	if exit.Before(entry) {
		elapsed = 0
		fee.ClockSkew = true
	}
	fee.ElapsedMinutes = elapsed

	if elapsed <= t.ThresholdMinutes {
		fee.BilledMinutes = elapsed
		fee.Amount = t.BaseAmount
		return fee
	}

	switch t.RoundingTarget {
	case RoundMinutes:
		fee.BilledMinutes = roundHalfUp(elapsed, t.RoundingUnit)
		extra := fee.BilledMinutes - t.ThresholdMinutes
		if extra < 0 {
			extra = 0
		}
		fee.Amount = t.BaseAmount + extra*t.PerMinuteRate
	default:
		fee.BilledMinutes = elapsed
		fee.Amount = roundHalfUp(t.BaseAmount+(elapsed-t.ThresholdMinutes)*t.PerMinuteRate, t.RoundingUnit)
	}

	if fee.Amount < 0 {
		fee.Amount = 0
	}
	return fee
}

// roundHalfUp rounds v to the nearest multiple of unit; a remainder of half the
// unit or more rounds up.
func roundHalfUp(v, unit int64) int64 {
	if unit <= 1 {
		return v
	}
	rem := v % unit
	if rem*2 < unit {
		return v - rem
	}
	return v + unit - rem
}
