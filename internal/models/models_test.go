package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTransactionTypeClassification(t *testing.T) {
	income := []TransactionType{TxTypeDeposit, TxTypeIncome, TxTypeReward, TxTypeInternalIn}
	consumption := []TransactionType{TxTypeWithdrawal, TxTypeFine, TxTypeInternalOut}

	for _, typ := range income {
		require.True(t, typ.Known(), typ)
		require.True(t, typ.Income(), typ)
		require.False(t, typ.Consumption(), typ)
	}
	for _, typ := range consumption {
		require.True(t, typ.Known(), typ)
		require.True(t, typ.Consumption(), typ)
		require.False(t, typ.Income(), typ)
	}

	require.False(t, TransactionType("refund").Known())
	require.False(t, TransactionType("").Known())
}

func TestTransferTerminal(t *testing.T) {
	for status, terminal := range map[TransferStatus]bool{
		TransferPending:   false,
		TransferProcessed: false,
		TransferCompleted: true,
		TransferCanceled:  true,
	} {
		tr := &Transfer{Status: status}
		require.Equal(t, terminal, tr.Terminal(), status)
	}
}

func TestTransferExpired(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	tr := &Transfer{EndedAt: now.Add(time.Hour)}
	require.False(t, tr.Expired(now))
	require.True(t, tr.Expired(now.Add(2*time.Hour)))
}

func TestInvestmentOpen(t *testing.T) {
	now := time.Now()
	require.True(t, (&Investment{}).Open())
	require.False(t, (&Investment{CompletedAt: &now}).Open())
	require.False(t, (&Investment{CanceledAt: &now}).Open())
}

func TestNetworkKnown(t *testing.T) {
	require.True(t, NetworkBTC.Known())
	require.True(t, NetworkBSC.Known())
	require.True(t, NetworkTRON.Known())
	require.False(t, Network("eth").Known())
}
