package cycle

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestUntilErrorStopsOnSuccess(t *testing.T) {
	calls := 0
	err := UntilError(func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	}, 0, 5, logrus.New())
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestUntilErrorExhaustsAttempts(t *testing.T) {
	calls := 0
	err := UntilError(func() error {
		calls++
		return errors.New("always")
	}, 0, 4, logrus.New())
	require.EqualError(t, err, "always")
	require.Equal(t, 4, calls)
}

func TestUntilErrorAtLeastOneAttempt(t *testing.T) {
	calls := 0
	err := UntilError(func() error {
		calls++
		return errors.New("boom")
	}, 0, 0, logrus.New())
	require.Error(t, err)
	require.Equal(t, 1, calls)
}
