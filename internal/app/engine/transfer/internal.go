package transfer

import (
	"context"

	"github.com/go-pg/pg"
	"github.com/go-pg/pg/orm"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine/ledger"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/models"
)

// ValidateInternal runs the request-shape checks shared by code issuance
// and the transaction itself.
func ValidateInternal(fromUserID, toUserID string, amount int64, min, max int64) error {
	if fromUserID == toUserID {
		return engine.Validationf("cannot transfer to yourself")
	}
	if amount <= 0 {
		return engine.Validationf("internal transfer amount must be positive, got %d", amount)
	}
	if amount < min {
		return engine.Validationf("internal transfer amount %d is below the minimum %d", amount, min)
	}
	if max > 0 && amount > max {
		return engine.Validationf("internal transfer amount %d is above the maximum %d", amount, max)
	}
	return nil
}

// SendInternalCode validates the intended transfer and issues a one-time
// code the sender must echo back to commit it.
func (m *Machine) SendInternalCode(ctx context.Context, fromUserID, toUserID string, amount int64) (*models.TransactionCode, error) {
	now := m.clock.Now()
	var issued *models.TransactionCode

	err := ledger.RunSerializable(m.db, func(tx *pg.Tx) error {
		if err := m.validateInternalInTx(tx, fromUserID, toUserID, amount); err != nil {
			return err
		}

		code, err := generateCode()
		if err != nil {
			return err
		}
		issued = &models.TransactionCode{
			ID:        uuid.NewString(),
			UserID:    fromUserID,
			Code:      code,
			ExpiresAt: now.Add(m.internalCfg.CodeLifetime),
			CreatedAt: now,
		}
		return errors.Wrap(tx.Insert(issued), "failed to insert transaction code")
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

// CreateInternalTransaction commits a peer-to-peer transfer as a pair of
// ledger rows: internal_out on the sender, internal_in on the receiver
// pointing back at it. Both legs land in one serializable unit of work.
func (m *Machine) CreateInternalTransaction(ctx context.Context, fromUserID, toUserID string, amount int64, code string) (string, error) {
	now := m.clock.Now()
	var outID string

	err := ledger.RunSerializable(m.db, func(tx *pg.Tx) error {
		if err := m.validateInternalInTx(tx, fromUserID, toUserID, amount); err != nil {
			return err
		}
		oneTime, err := consumeTransactionCode(tx, fromUserID, code, now)
		if err != nil {
			return err
		}

		store := ledger.NewStorage(m.obs, tx)
		outID, err = store.RecordTransaction(&models.Transaction{
			UserID:    fromUserID,
			Amount:    amount,
			Type:      models.TxTypeInternalOut,
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		_, err = store.RecordTransaction(&models.Transaction{
			UserID:              toUserID,
			Amount:              amount,
			Type:                models.TxTypeInternalIn,
			OriginTransactionID: &outID,
			CreatedAt:           now,
		})
		if err != nil {
			return err
		}
		return bindTransactionCode(tx, oneTime.ID, outID)
	})
	if err != nil {
		return "", err
	}

	m.log.WithField("from", fromUserID).WithField("to", toUserID).
		WithField("amount", amount).Infof("internal transfer committed")
	return outID, nil
}

func (m *Machine) validateInternalInTx(tx orm.DB, fromUserID, toUserID string, amount int64) error {
	if err := ValidateInternal(fromUserID, toUserID, amount, m.internalCfg.MinAmount, m.internalCfg.MaxAmount); err != nil {
		return err
	}
	if err := userExists(tx, toUserID); err != nil {
		return err
	}
	balance, err := ledger.NewStorage(m.obs, tx).ComputeBalance(fromUserID, ledger.BalanceOptions{IncludePendingWithdrawals: true})
	if err != nil {
		return err
	}
	if balance < amount {
		return engine.Validationf("insufficient balance: have %d, want %d", balance, amount)
	}
	return nil
}

func userExists(tx orm.DB, userID string) error {
	count, err := tx.Model((*models.User)(nil)).Where("id = ?", userID).Count()
	if err != nil {
		return errors.Wrap(err, "failed to look up user")
	}
	if count == 0 {
		return engine.NotFoundf("user %s not found", userID)
	}
	return nil
}
