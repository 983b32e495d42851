package engine

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestRoundDiv(t *testing.T) {
	require.Equal(t, int64(2), RoundDiv(4, 2))
	require.Equal(t, int64(3), RoundDiv(5, 2))
	require.Equal(t, int64(2), RoundDiv(7, 3))
	require.Equal(t, int64(0), RoundDiv(0, 10))
	require.Equal(t, int64(-3), RoundDiv(-5, 2))
}

func TestApplyPercentage(t *testing.T) {
	// 5.00% of 50000 minor units
	require.Equal(t, int64(2500), ApplyPercentage(50000, 500))
	// 10.00% of 10000
	require.Equal(t, int64(1000), ApplyPercentage(10000, 1000))
	// 5.00% of 10000
	require.Equal(t, int64(500), ApplyPercentage(10000, 500))
	require.Equal(t, int64(0), ApplyPercentage(0, 500))
}

func TestErrorPredicates(t *testing.T) {
	require.True(t, IsValidation(Validationf("amount %d too small", 1)))
	require.True(t, IsConflict(Conflictf("already completed")))
	require.True(t, IsNotFound(NotFoundf("transfer not found")))
	require.True(t, IsForbidden(Forbiddenf("not allowed")))
	require.True(t, IsTransientScan(TransientScanf("explorer unavailable")))

	require.False(t, IsValidation(Conflictf("x")))
	require.False(t, IsConflict(Validationf("x")))
	require.False(t, IsTransientScan(errors.New("plain")))
}

func TestErrorPredicatesSeeThroughWrapping(t *testing.T) {
	err := errors.Wrap(Validationf("insufficient balance"), "create withdrawal")
	require.True(t, IsValidation(err))
	require.Contains(t, err.Error(), "insufficient balance")
}
