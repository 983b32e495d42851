package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShouldRunDailyBeforeSlot(t *testing.T) {
	now := time.Date(2024, 5, 10, 2, 59, 0, 0, time.UTC)
	require.False(t, ShouldRunDaily(time.Time{}, now, 3))
}

func TestShouldRunDailyFirstTimeAfterSlot(t *testing.T) {
	now := time.Date(2024, 5, 10, 3, 0, 0, 0, time.UTC)
	require.True(t, ShouldRunDaily(time.Time{}, now, 3))
}

func TestShouldRunDailyOncePerDay(t *testing.T) {
	slotPassed := time.Date(2024, 5, 10, 3, 1, 0, 0, time.UTC)
	require.True(t, ShouldRunDaily(time.Time{}, slotPassed, 3))

	// a later tick the same day does not fire again
	later := time.Date(2024, 5, 10, 17, 0, 0, 0, time.UTC)
	require.False(t, ShouldRunDaily(slotPassed, later, 3))

	// the next day's slot fires
	nextDay := time.Date(2024, 5, 11, 3, 0, 1, 0, time.UTC)
	require.True(t, ShouldRunDaily(slotPassed, nextDay, 3))
}

func TestShouldRunDailyCatchesUpAfterDowntime(t *testing.T) {
	lastRun := time.Date(2024, 5, 8, 3, 0, 5, 0, time.UTC)
	// scheduler was down for two days, restarts in the evening
	now := time.Date(2024, 5, 10, 20, 0, 0, 0, time.UTC)
	require.True(t, ShouldRunDaily(lastRun, now, 3))
}
