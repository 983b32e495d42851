package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/models"
	"github.com/Vimbi/cryptocurrency-investments-sub000/observability"
)

func newStorage(t *testing.T) *Storage {
	t.Helper()
	return NewStorage(observability.Make("debug", "text"), nil)
}

func TestRecordTransactionRejectsNonPositiveAmount(t *testing.T) {
	s := newStorage(t)
	for _, amount := range []int64{0, -1, -100} {
		_, err := s.RecordTransaction(&models.Transaction{
			UserID: "u1",
			Amount: amount,
			Type:   models.TxTypeDeposit,
		})
		require.True(t, engine.IsValidation(err), "amount %d", amount)
	}
}

func TestRecordTransactionRejectsUnknownType(t *testing.T) {
	s := newStorage(t)
	_, err := s.RecordTransaction(&models.Transaction{
		UserID: "u1",
		Amount: 100,
		Type:   models.TransactionType("refund"),
	})
	require.True(t, engine.IsValidation(err))
}

func TestRecordTransactionRejectsNil(t *testing.T) {
	s := newStorage(t)
	_, err := s.RecordTransaction(nil)
	require.True(t, engine.IsValidation(err))
}

func TestMonthStart(t *testing.T) {
	in := time.Date(2024, 3, 17, 15, 42, 11, 99, time.UTC)
	require.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), MonthStart(in))
	// already the first instant
	first := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, first, MonthStart(first))
}

func TestClassificationPartitionsAllTypes(t *testing.T) {
	seen := make(map[models.TransactionType]bool)
	for _, typ := range incomeTypes() {
		require.True(t, typ.Income())
		seen[typ] = true
	}
	for _, typ := range consumptionTypes() {
		require.True(t, typ.Consumption())
		require.False(t, seen[typ], "type %s classified twice", typ)
		seen[typ] = true
	}
	require.Len(t, seen, 7)
}
