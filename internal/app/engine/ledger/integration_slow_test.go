// +build slowtest

package ledger

import (
	"log"
	"os"
	"testing"
	"time"

	"github.com/go-pg/pg"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/models"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/testutils"
	"github.com/Vimbi/cryptocurrency-investments-sub000/observability"
)

var db *pg.DB

func TestMain(m *testing.M) {
	var cleaner func()
	db, _, cleaner = testutils.SetupDB("../../../../migrations")

	code := m.Run()
	cleaner()
	log.Printf("tests finished")
	os.Exit(code)
}

func truncate(t *testing.T) {
	testutils.TruncateTables(t, db, []interface{}{
		&models.Transaction{},
		&models.AccountStatement{},
		&models.Transfer{},
		&models.NetworkRate{},
		&models.User{},
	})
}

func insertUser(t *testing.T) string {
	id := uuid.NewString()
	require.NoError(t, db.Insert(&models.User{
		ID:        id,
		Role:      models.RoleUser,
		CreatedAt: time.Now(),
	}))
	return id
}

func TestComputeBalanceFromTransactions(t *testing.T) {
	truncate(t)
	userID := insertUser(t)
	store := NewStorage(observability.Make("debug", "text"), db)

	_, err := store.RecordTransaction(&models.Transaction{
		UserID: userID, Amount: 10000, Type: models.TxTypeDeposit,
	})
	require.NoError(t, err)
	_, err = store.RecordTransaction(&models.Transaction{
		UserID: userID, Amount: 3000, Type: models.TxTypeWithdrawal,
	})
	require.NoError(t, err)
	_, err = store.RecordTransaction(&models.Transaction{
		UserID: userID, Amount: 500, Type: models.TxTypeReward,
	})
	require.NoError(t, err)

	balance, err := store.ComputeBalance(userID, BalanceOptions{})
	require.NoError(t, err)
	require.Equal(t, int64(7500), balance)
}

func TestBalanceIgnoresNonCompletedTransferRows(t *testing.T) {
	truncate(t)
	userID := insertUser(t)
	store := NewStorage(observability.Make("debug", "text"), db)

	rateID := uuid.NewString()
	require.NoError(t, db.Insert(&models.NetworkRate{
		ID: rateID, Network: models.NetworkBTC, Rate: 1000000, CreatedAt: time.Now(),
	}))
	now := time.Now()
	canceled := &models.Transfer{
		ID: uuid.NewString(), UserID: userID, Network: models.NetworkBTC,
		Type: models.TransferDeposit, Status: models.TransferCanceled,
		Amount: 5000, CurrencyAmount: 500000, RateID: rateID,
		CreatedAt: now, UpdatedAt: now, EndedAt: now.Add(time.Hour),
	}
	require.NoError(t, db.Insert(canceled))

	// a ledger row linked to a canceled transfer no longer counts
	_, err := store.RecordTransaction(&models.Transaction{
		UserID: userID, Amount: 5000, Type: models.TxTypeDeposit, TransferID: &canceled.ID,
	})
	require.NoError(t, err)
	_, err = store.RecordTransaction(&models.Transaction{
		UserID: userID, Amount: 1000, Type: models.TxTypeDeposit,
	})
	require.NoError(t, err)

	balance, err := store.ComputeBalance(userID, BalanceOptions{})
	require.NoError(t, err)
	require.Equal(t, int64(1000), balance)
}

func TestBalanceSubtractsWithdrawalReserve(t *testing.T) {
	truncate(t)
	userID := insertUser(t)
	store := NewStorage(observability.Make("debug", "text"), db)

	rateID := uuid.NewString()
	require.NoError(t, db.Insert(&models.NetworkRate{
		ID: rateID, Network: models.NetworkBTC, Rate: 1000000, CreatedAt: time.Now(),
	}))
	_, err := store.RecordTransaction(&models.Transaction{
		UserID: userID, Amount: 10000, Type: models.TxTypeDeposit,
	})
	require.NoError(t, err)

	now := time.Now()
	addr := "bc1quserwallet"
	require.NoError(t, db.Insert(&models.Transfer{
		ID: uuid.NewString(), UserID: userID, Network: models.NetworkBTC,
		Type: models.TransferWithdrawal, Status: models.TransferPending,
		Amount: 4000, CurrencyAmount: 400000, RateID: rateID,
		WithdrawalAddress: &addr,
		CreatedAt:         now, UpdatedAt: now, EndedAt: now.Add(time.Hour),
	}))

	withReserve, err := store.ComputeBalance(userID, BalanceOptions{IncludePendingWithdrawals: true})
	require.NoError(t, err)
	require.Equal(t, int64(6000), withReserve)

	withoutReserve, err := store.ComputeBalance(userID, BalanceOptions{})
	require.NoError(t, err)
	require.Equal(t, int64(10000), withoutReserve)
}

func TestSnapshotIsIdempotentAndFeedsBalance(t *testing.T) {
	truncate(t)
	userID := insertUser(t)
	store := NewStorage(observability.Make("debug", "text"), db)

	lastMonth := MonthStart(time.Now()).AddDate(0, -1, 0).Add(24 * time.Hour)
	_, err := store.RecordTransaction(&models.Transaction{
		UserID: userID, Amount: 8000, Type: models.TxTypeDeposit, CreatedAt: lastMonth,
	})
	require.NoError(t, err)

	boundary := MonthStart(time.Now())
	require.NoError(t, store.Snapshot(userID, boundary))
	require.NoError(t, store.Snapshot(userID, boundary))

	count, err := db.Model((*models.AccountStatement)(nil)).
		Where("user_id = ?", userID).Count()
	require.NoError(t, err)
	require.Equal(t, 1, count)

	stmt := &models.AccountStatement{}
	require.NoError(t, db.Model(stmt).Where("user_id = ?", userID).Select())
	require.Equal(t, int64(8000), stmt.ClosingBalance)
	require.Equal(t, int64(8000), stmt.TotalIncome)
	require.Equal(t, int64(0), stmt.TotalConsumption)

	balance, err := store.ComputeBalance(userID, BalanceOptions{})
	require.NoError(t, err)
	require.Equal(t, int64(8000), balance)
}
