package configuration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NotEmpty(t, cfg.DB.URL)
	require.Positive(t, cfg.Transfer.MinDepositAmount)
	require.Positive(t, cfg.Transfer.MaxDailyRequests)
	require.Positive(t, cfg.Referral.MaxLevel)
	require.Positive(t, cfg.Scanner.Workers)
	require.Equal(t, int64(2), cfg.Scanner.BTC.MinConfirmations)
	require.True(t, cfg.Scanner.TRON.RequiresFromAddress)
	require.InDelta(t, time.Hour, cfg.Investment.ReplenishDueBuffer, 0)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
log:
  level: warn
transfer:
  mindepositamount: 5000
  lifetime: 3h
referral:
  maxlevel: 3
`)
	require.NoError(t, os.WriteFile(path, content, 0600))

	cfg, err := load(Params{}, path)
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.Log.Level)
	require.Equal(t, int64(5000), cfg.Transfer.MinDepositAmount)
	require.Equal(t, 3*time.Hour, cfg.Transfer.Lifetime)
	require.Equal(t, 3, cfg.Referral.MaxLevel)
	// untouched keys keep defaults
	require.Equal(t, Default().Transfer.MinWithdrawalAmount, cfg.Transfer.MinWithdrawalAmount)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := load(Params{}, "/nonexistent/config.yaml")
	require.Error(t, err)
}

func TestPrintConfigDoesNotPanic(t *testing.T) {
	PrintConfig(logrus.New(), Default())
}
