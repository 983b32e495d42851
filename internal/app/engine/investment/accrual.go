package investment

import (
	"context"
	"time"

	"github.com/go-pg/pg"
	"github.com/go-pg/pg/orm"
	"github.com/pkg/errors"

	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine/ledger"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine/notify"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/models"
)

// IncomeAccrual writes one day of income for one investment: a sub-ledger
// income row, its paired withdrawal one millisecond later so the money is
// immediately spendable, and the ledger income row. A product with no
// percentage setting for the day accrues nothing.
func (e *Engine) IncomeAccrual(ctx context.Context, investmentID string, snapshotDate time.Time) error {
	day := time.Date(snapshotDate.Year(), snapshotDate.Month(), snapshotDate.Day(), 0, 0, 0, 0, snapshotDate.Location())

	err := e.db.RunInTransaction(func(tx *pg.Tx) error {
		inv, err := getInvestment(tx, investmentID)
		if err != nil {
			return err
		}
		if !inv.Open() {
			return nil
		}

		setting, err := earningsSettingFor(tx, inv.ProductID, day)
		if err != nil {
			return err
		}
		if setting == nil {
			e.log.WithField("investment", investmentID).WithField("date", day).
				Debugf("no earnings setting for the day, skipping accrual")
			return nil
		}

		deposits, err := sumInvestmentTxns(tx, inv.ID, models.InvestmentTxDeposit, snapshotDate)
		if err != nil {
			return err
		}
		income := engine.ApplyPercentage(deposits, setting.Percentage)
		if income <= 0 {
			return nil
		}

		now := e.clock.Now()
		incomeID, err := insertInvestmentTxn(tx, inv.ID, models.InvestmentTxIncome, income, &setting.ID, now)
		if err != nil {
			return err
		}
		if _, err := insertInvestmentTxn(tx, inv.ID, models.InvestmentTxWithdrawal, income, &setting.ID, now.Add(time.Millisecond)); err != nil {
			return err
		}
		_, err = ledger.NewStorage(e.obs, tx).RecordTransaction(&models.Transaction{
			UserID:                  inv.UserID,
			Amount:                  income,
			Type:                    models.TxTypeIncome,
			InvestmentID:            &inv.ID,
			InvestmentTransactionID: &incomeID,
			CreatedAt:               now,
		})
		if err != nil {
			return err
		}

		_, err = tx.Model((*models.Investment)(nil)).
			Where("id = ?", inv.ID).
			Set("income = income + ?, updated_at = ?", income, now).
			Update()
		return errors.Wrap(err, "failed to bump investment income")
	})
	if err != nil {
		return err
	}
	e.accruals.Inc()
	return nil
}

// Complete closes a due investment: the residual position balance flows
// back to the free balance and the position becomes terminal.
func (e *Engine) Complete(ctx context.Context, investmentID string) error {
	now := e.clock.Now()
	var closed *models.Investment

	err := e.db.RunInTransaction(func(tx *pg.Tx) error {
		inv, err := getInvestment(tx, investmentID)
		if err != nil {
			return err
		}
		if !inv.Open() {
			return engine.Conflictf("investment %s is already closed", investmentID)
		}

		deposits, err := sumInvestmentTxns(tx, inv.ID, models.InvestmentTxDeposit, time.Time{})
		if err != nil {
			return err
		}
		paidIncome, err := sumInvestmentTxns(tx, inv.ID, models.InvestmentTxIncome, time.Time{})
		if err != nil {
			return err
		}
		withdrawn, err := sumInvestmentTxns(tx, inv.ID, models.InvestmentTxWithdrawal, time.Time{})
		if err != nil {
			return err
		}

		residual := deposits + paidIncome - withdrawn
		if residual < 0 {
			return errors.Errorf("investment %s has negative residual %d", investmentID, residual)
		}

		if residual > 0 {
			closingID, err := insertInvestmentTxn(tx, inv.ID, models.InvestmentTxWithdrawal, residual, nil, now)
			if err != nil {
				return err
			}
			_, err = ledger.NewStorage(e.obs, tx).RecordTransaction(&models.Transaction{
				UserID:                  inv.UserID,
				Amount:                  residual,
				Type:                    models.TxTypeDeposit,
				InvestmentID:            &inv.ID,
				InvestmentTransactionID: &closingID,
				CreatedAt:               now,
			})
			if err != nil {
				return err
			}
		}

		_, err = tx.Model((*models.Investment)(nil)).
			Where("id = ?", inv.ID).
			Where("completed_at IS NULL").
			Where("canceled_at IS NULL").
			Set("amount = ?, income = ?, completed_at = ?, updated_at = ?", deposits, paidIncome, now, now).
			Update()
		if err != nil {
			return errors.Wrap(err, "failed to mark investment completed")
		}
		inv.CompletedAt = &now
		closed = inv
		return nil
	})
	if err != nil {
		return err
	}

	e.completions.Inc()
	e.notifier.Notify(ctx, notify.Event{
		Type:         notify.EventInvestmentCompleted,
		UserID:       closed.UserID,
		InvestmentID: closed.ID,
		Amount:       closed.Amount,
		OccurredAt:   now,
	})
	return nil
}

// RunIncomeAccrual accrues every investment whose term covers today.
// Failures are isolated per investment so one bad position does not stall
// the batch.
func (e *Engine) RunIncomeAccrual(ctx context.Context, snapshotDate time.Time) error {
	ids, err := e.selectAccruable(snapshotDate)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := e.IncomeAccrual(ctx, id, snapshotDate); err != nil {
			e.log.WithField("investment", id).WithError(err).
				Errorf("income accrual failed, continuing with the batch")
		}
	}
	return nil
}

// RunInvestmentCompletion closes every open investment past its due date.
func (e *Engine) RunInvestmentCompletion(ctx context.Context) error {
	var ids []string
	err := e.db.Model((*models.Investment)(nil)).
		Column("id").
		Where("completed_at IS NULL").
		Where("canceled_at IS NULL").
		Where("due_date < ?", e.clock.Now()).
		Select(&ids)
	if err != nil {
		return errors.Wrap(err, "failed to select due investments")
	}
	for _, id := range ids {
		err := e.Complete(ctx, id)
		if err != nil && !engine.IsConflict(err) {
			e.log.WithField("investment", id).WithError(err).
				Errorf("completion failed, continuing with the batch")
		}
	}
	return nil
}

func (e *Engine) selectAccruable(snapshotDate time.Time) ([]string, error) {
	day := time.Date(snapshotDate.Year(), snapshotDate.Month(), snapshotDate.Day(), 0, 0, 0, 0, snapshotDate.Location())
	var ids []string
	err := e.db.Model((*models.Investment)(nil)).
		Column("id").
		Where("completed_at IS NULL").
		Where("canceled_at IS NULL").
		Where("start_date <= ?", day).
		Where("due_date >= ?", day).
		Select(&ids)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select accruable investments")
	}
	return ids, nil
}

func earningsSettingFor(tx orm.DB, productID string, day time.Time) (*models.ProductEarningsSetting, error) {
	setting := &models.ProductEarningsSetting{}
	err := tx.Model(setting).
		Where("product_id = ?", productID).
		Where("date = ?", day).
		Select()
	if err == pg.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch earnings setting")
	}
	return setting, nil
}
