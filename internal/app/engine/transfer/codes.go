package transfer

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/go-pg/pg"
	"github.com/go-pg/pg/orm"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/models"
)

const codeDigits = 6

// generateCode draws a uniform six digit code from crypto/rand.
func generateCode() (string, error) {
	bound := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		bound.Mul(bound, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return "", errors.Wrap(err, "failed to draw random code")
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}

// IssueWithdrawalCode creates a fresh one-time code authorizing one
// withdrawal request for the user.
func (m *Machine) IssueWithdrawalCode(db orm.DB, userID string) (*models.TransferCode, error) {
	code, err := generateCode()
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	row := &models.TransferCode{
		ID:        uuid.NewString(),
		UserID:    userID,
		Code:      code,
		ExpiresAt: now.Add(m.cfg.CodeLifetime),
		CreatedAt: now,
	}
	if err := db.Insert(row); err != nil {
		return nil, errors.Wrap(err, "failed to insert transfer code")
	}
	return row, nil
}

// consumeTransferCode finds the newest live unconsumed code matching the
// user. It does not mark it used; bindTransferCode does, by linking the
// created transfer.
func consumeTransferCode(db orm.DB, userID, code string, now time.Time) (*models.TransferCode, error) {
	row := &models.TransferCode{}
	err := db.Model(row).
		Where("user_id = ?", userID).
		Where("code = ?", code).
		Where("transfer_id IS NULL").
		Where("expires_at > ?", now).
		Order("created_at DESC").
		Limit(1).
		Select()
	if err == pg.ErrNoRows {
		return nil, engine.Validationf("confirmation code is invalid or expired")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch transfer code")
	}
	return row, nil
}

func bindTransferCode(db orm.DB, codeID, transferID string) error {
	res, err := db.Model((*models.TransferCode)(nil)).
		Where("id = ?", codeID).
		Where("transfer_id IS NULL").
		Set("transfer_id = ?", transferID).
		Update()
	if err != nil {
		return errors.Wrap(err, "failed to bind transfer code")
	}
	if res.RowsAffected() == 0 {
		return engine.Conflictf("confirmation code was consumed concurrently")
	}
	return nil
}

func consumeTransactionCode(db orm.DB, userID, code string, now time.Time) (*models.TransactionCode, error) {
	row := &models.TransactionCode{}
	err := db.Model(row).
		Where("user_id = ?", userID).
		Where("code = ?", code).
		Where("transaction_id IS NULL").
		Where("expires_at > ?", now).
		Order("created_at DESC").
		Limit(1).
		Select()
	if err == pg.ErrNoRows {
		return nil, engine.Validationf("confirmation code is invalid or expired")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch transaction code")
	}
	return row, nil
}

func bindTransactionCode(db orm.DB, codeID, transactionID string) error {
	res, err := db.Model((*models.TransactionCode)(nil)).
		Where("id = ?", codeID).
		Where("transaction_id IS NULL").
		Set("transaction_id = ?", transactionID).
		Update()
	if err != nil {
		return errors.Wrap(err, "failed to bind transaction code")
	}
	if res.RowsAffected() == 0 {
		return engine.Conflictf("confirmation code was consumed concurrently")
	}
	return nil
}

// SweepExpiredCodes removes expired, never-consumed codes of both kinds
// and returns how many rows went away. Run periodically by the scheduler.
func (m *Machine) SweepExpiredCodes() (int, error) {
	now := m.clock.Now()
	total := 0

	res, err := m.db.Model((*models.TransferCode)(nil)).
		Where("expires_at < ?", now).
		Where("transfer_id IS NULL").
		Delete()
	if err != nil {
		return 0, errors.Wrap(err, "failed to sweep transfer codes")
	}
	total += res.RowsAffected()

	res, err = m.db.Model((*models.TransactionCode)(nil)).
		Where("expires_at < ?", now).
		Where("transaction_id IS NULL").
		Delete()
	if err != nil {
		return total, errors.Wrap(err, "failed to sweep transaction codes")
	}
	total += res.RowsAffected()

	if total > 0 {
		m.log.WithField("count", total).Debugf("swept expired one-time codes")
	}
	return total, nil
}
