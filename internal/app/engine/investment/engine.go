// Package investment opens, replenishes, accrues and closes term deposit
// positions, keeping a per-position sub-ledger in sync with the main
// ledger.
package investment

import (
	"context"
	"time"

	"github.com/go-pg/pg"
	"github.com/go-pg/pg/orm"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/Vimbi/cryptocurrency-investments-sub000/configuration"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine/ledger"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine/notify"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine/referral"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/models"
	"github.com/Vimbi/cryptocurrency-investments-sub000/observability"
)

type Engine struct {
	obs      *observability.Observability
	log      *logrus.Logger
	cfg      configuration.Investment
	db       *pg.DB
	clock    engine.Clock
	cascade  *referral.Cascade
	notifier notify.Notifier

	opened      prometheus.Counter
	accruals    prometheus.Counter
	completions prometheus.Counter
}

func NewEngine(
	obs *observability.Observability,
	cfg configuration.Investment,
	db *pg.DB,
	clock engine.Clock,
	cascade *referral.Cascade,
	notifier notify.Notifier,
) *Engine {
	return &Engine{
		obs:      obs,
		log:      obs.Log(),
		cfg:      cfg,
		db:       db,
		clock:    clock,
		cascade:  cascade,
		notifier: notifier,
		opened: obs.Counter(prometheus.CounterOpts{
			Name: "ledger_investments_opened_total",
			Help: "Investments created.",
		}),
		accruals: obs.Counter(prometheus.CounterOpts{
			Name: "ledger_income_accruals_total",
			Help: "Daily income accruals written.",
		}),
		completions: obs.Counter(prometheus.CounterOpts{
			Name: "ledger_investments_closed_total",
			Help: "Investments completed or canceled.",
		}),
	}
}

// Create opens the user's investment. At most one open position per user;
// the principal leaves the free balance through a ledger withdrawal and
// the sponsor chain is rewarded from level 1.
func (e *Engine) Create(ctx context.Context, userID string, amount int64, productID string) (*models.Investment, error) {
	now := e.clock.Now()
	var created *models.Investment

	err := ledger.RunSerializable(e.db, func(tx *pg.Tx) error {
		existing, err := activeInvestment(tx, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			return engine.Conflictf("user %s already has an active investment", userID)
		}

		product, err := getProduct(tx, productID)
		if err != nil {
			return err
		}
		products, err := listProducts(tx)
		if err != nil {
			return err
		}
		if _, err := MatchProduct(products, amount); err != nil {
			return err
		}

		if err := e.checkBalance(tx, userID, amount); err != nil {
			return err
		}

		start, due := TermDates(now, product.TermDays)
		created = &models.Investment{
			ID:        uuid.NewString(),
			UserID:    userID,
			ProductID: product.ID,
			StartDate: start,
			DueDate:   due,
			Amount:    amount,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Insert(created); err != nil {
			return errors.Wrap(err, "failed to insert investment")
		}

		if err := e.recordDeposit(tx, created, amount, now); err != nil {
			return err
		}
		return e.rewardSponsors(tx, userID, created.ID, amount)
	})
	if err != nil {
		return nil, err
	}

	e.opened.Inc()
	return created, nil
}

// Replenish adds principal to the open investment and migrates the tier
// when the cumulative deposits outgrow the stored product.
func (e *Engine) Replenish(ctx context.Context, userID string, amount int64) error {
	now := e.clock.Now()

	return ledger.RunSerializable(e.db, func(tx *pg.Tx) error {
		inv, err := activeInvestment(tx, userID)
		if err != nil {
			return err
		}
		if inv == nil {
			return engine.NotFoundf("user %s has no active investment", userID)
		}
		if inv.DueDate.Before(now.Add(e.cfg.ReplenishDueBuffer)) {
			return engine.Validationf("investment is due within %s, replenishment closed", e.cfg.ReplenishDueBuffer)
		}
		if amount <= 0 {
			return engine.Validationf("replenish amount must be positive, got %d", amount)
		}
		if err := e.checkBalance(tx, userID, amount); err != nil {
			return err
		}

		deposits, err := sumInvestmentTxns(tx, inv.ID, models.InvestmentTxDeposit, time.Time{})
		if err != nil {
			return err
		}
		total := deposits + amount

		products, err := listProducts(tx)
		if err != nil {
			return err
		}
		matched, err := MatchProduct(products, total)
		if err != nil {
			return err
		}

		if err := e.recordDeposit(tx, inv, amount, now); err != nil {
			return err
		}
		if err := e.rewardSponsors(tx, userID, inv.ID, amount); err != nil {
			return err
		}

		q := tx.Model((*models.Investment)(nil)).
			Where("id = ?", inv.ID).
			Set("amount = ?, updated_at = ?", total, now)
		if matched.ID != inv.ProductID {
			q = q.Set("product_id = ?", matched.ID)
			if matched.Prolongs {
				start, due := TermDates(now, matched.TermDays)
				q = q.Set("start_date = ?, due_date = ?", start, due)
			}
		}
		_, err = q.Update()
		return errors.Wrap(err, "failed to update investment")
	})
}

// Cancel closes the open investment early. The user gets deposits minus
// the referral clawback and the already paid income back; paid income on
// the position resets to zero.
func (e *Engine) Cancel(ctx context.Context, userID string) error {
	now := e.clock.Now()

	err := ledger.RunSerializable(e.db, func(tx *pg.Tx) error {
		inv, err := activeInvestment(tx, userID)
		if err != nil {
			return err
		}
		if inv == nil {
			return engine.NotFoundf("user %s has no active investment", userID)
		}

		deposits, err := sumInvestmentTxns(tx, inv.ID, models.InvestmentTxDeposit, time.Time{})
		if err != nil {
			return err
		}
		paidIncome, err := sumInvestmentTxns(tx, inv.ID, models.InvestmentTxIncome, time.Time{})
		if err != nil {
			return err
		}
		maxPercentage, err := e.cascade.MaxTotalPercentage(tx)
		if err != nil {
			return err
		}

		fine := CancelFine(deposits, paidIncome, maxPercentage)
		withdrawal := deposits - fine
		if withdrawal < 0 {
			withdrawal = 0
		}

		if _, err := insertInvestmentTxn(tx, inv.ID, models.InvestmentTxFine, fine, nil, now); err != nil {
			return err
		}
		closingID, err := insertInvestmentTxn(tx, inv.ID, models.InvestmentTxWithdrawal, withdrawal, nil, now.Add(time.Millisecond))
		if err != nil {
			return err
		}
		if withdrawal > 0 {
			_, err = ledger.NewStorage(e.obs, tx).RecordTransaction(&models.Transaction{
				UserID:                  userID,
				Amount:                  withdrawal,
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
			Set("amount = ?, income = 0, fine = ?, canceled_at = ?, updated_at = ?", deposits, fine, now, now).
			Update()
		return errors.Wrap(err, "failed to mark investment canceled")
	})
	if err != nil {
		return err
	}

	e.completions.Inc()
	return nil
}

func (e *Engine) checkBalance(tx orm.DB, userID string, amount int64) error {
	balance, err := ledger.NewStorage(e.obs, tx).ComputeBalance(userID, ledger.BalanceOptions{IncludePendingWithdrawals: true})
	if err != nil {
		return err
	}
	if balance < amount {
		return engine.Validationf("insufficient balance: have %d, want %d", balance, amount)
	}
	return nil
}

// recordDeposit writes the paired sub-ledger deposit and the ledger
// withdrawal that moves the principal out of the free balance.
func (e *Engine) recordDeposit(tx orm.DB, inv *models.Investment, amount int64, now time.Time) error {
	invTxID, err := insertInvestmentTxn(tx, inv.ID, models.InvestmentTxDeposit, amount, nil, now)
	if err != nil {
		return err
	}
	_, err = ledger.NewStorage(e.obs, tx).RecordTransaction(&models.Transaction{
		UserID:                  inv.UserID,
		Amount:                  amount,
		Type:                    models.TxTypeWithdrawal,
		InvestmentID:            &inv.ID,
		InvestmentTransactionID: &invTxID,
		CreatedAt:               now,
	})
	return err
}

func (e *Engine) rewardSponsors(tx orm.DB, userID, investmentID string, amount int64) error {
	user := &models.User{}
	err := tx.Model(user).Where("id = ?", userID).Select()
	if err == pg.ErrNoRows {
		return engine.NotFoundf("user %s not found", userID)
	}
	if err != nil {
		return errors.Wrap(err, "failed to load investor")
	}
	return e.cascade.GiveReward(tx, 1, user.ParentID, investmentID, amount)
}

func activeInvestment(tx orm.DB, userID string) (*models.Investment, error) {
	inv := &models.Investment{}
	err := tx.Model(inv).
		Where("user_id = ?", userID).
		Where("completed_at IS NULL").
		Where("canceled_at IS NULL").
		Select()
	if err == pg.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch active investment")
	}
	return inv, nil
}

func getInvestment(tx orm.DB, investmentID string) (*models.Investment, error) {
	inv := &models.Investment{}
	err := tx.Model(inv).Where("id = ?", investmentID).Select()
	if err == pg.ErrNoRows {
		return nil, engine.NotFoundf("investment %s not found", investmentID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch investment")
	}
	return inv, nil
}

func getProduct(tx orm.DB, productID string) (*models.Product, error) {
	product := &models.Product{}
	err := tx.Model(product).Where("id = ?", productID).Select()
	if err == pg.ErrNoRows {
		return nil, engine.NotFoundf("product %s not found", productID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch product")
	}
	return product, nil
}

func listProducts(tx orm.DB) ([]models.Product, error) {
	var products []models.Product
	if err := tx.Model(&products).Select(); err != nil {
		return nil, errors.Wrap(err, "failed to list products")
	}
	return products, nil
}

// sumInvestmentTxns adds sub-ledger rows of one type; a nonzero asOf
// bounds the sum, inclusive.
func sumInvestmentTxns(tx orm.DB, investmentID string, typ models.InvestmentTxType, asOf time.Time) (int64, error) {
	var sum int64
	q := tx.Model((*models.InvestmentTransaction)(nil)).
		ColumnExpr("coalesce(sum(amount), 0)").
		Where("investment_id = ?", investmentID).
		Where("type = ?", typ)
	if !asOf.IsZero() {
		q = q.Where("created_at <= ?", asOf)
	}
	if err := q.Select(pg.Scan(&sum)); err != nil {
		return 0, errors.Wrap(err, "failed to sum investment transactions")
	}
	return sum, nil
}

func insertInvestmentTxn(tx orm.DB, investmentID string, typ models.InvestmentTxType, amount int64, settingID *string, at time.Time) (string, error) {
	row := &models.InvestmentTransaction{
		ID:                uuid.NewString(),
		InvestmentID:      investmentID,
		Type:              typ,
		Amount:            amount,
		EarningsSettingID: settingID,
		CreatedAt:         at,
	}
	if err := tx.Insert(row); err != nil {
		return "", errors.Wrapf(err, "failed to insert %s investment transaction", typ)
	}
	return row.ID, nil
}
