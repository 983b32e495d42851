// Package engine holds the pieces shared by every ledger subsystem: the
// error taxonomy, fixed-point arithmetic helpers and the clock.
package engine

import "time"

// PercentScale is the fixed-point denominator for percentages:
// 10000 = 100.00%.
const PercentScale = 10000

// CoinScale is the number of coin minor units per whole coin used for
// explorer amount comparisons (satoshi-style 1e8 on all supported chains).
const CoinScale = 100000000

type Clock interface {
	Now() time.Time
}

type DefaultClock struct{}

func (c *DefaultClock) Now() time.Time {
	return time.Now()
}

// RoundDiv divides a by b rounding half away from zero. b must be positive.
func RoundDiv(a, b int64) int64 {
	if a >= 0 {
		return (a + b/2) / b
	}
	return -((-a + b/2) / b)
}

// ApplyPercentage returns amount scaled by a PercentScale-denominated
// percentage, rounded.
func ApplyPercentage(amount, percentage int64) int64 {
	return RoundDiv(amount*percentage, PercentScale)
}
