// Package transfer drives external deposits and withdrawals through the
// pending → processed → {completed, canceled} state machine, and owns the
// one-time codes and internal peer-to-peer transfers.
package transfer

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
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/models"
	"github.com/Vimbi/cryptocurrency-investments-sub000/observability"
)

// ScanEnqueuer hands a transfer to the scanning queue of its network.
// The scan package implements it; the indirection keeps this package free
// of the queue wiring.
type ScanEnqueuer interface {
	EnqueueScan(network models.Network, transferID string)
}

type Machine struct {
	obs         *observability.Observability
	log         *logrus.Logger
	cfg         configuration.Transfer
	internalCfg configuration.InternalTransfer
	db          *pg.DB
	clock       engine.Clock
	notifier    notify.Notifier
	enqueuer    ScanEnqueuer

	completed prometheus.Counter
	canceled  prometheus.Counter
}

func NewMachine(
	obs *observability.Observability,
	cfg configuration.Transfer,
	internalCfg configuration.InternalTransfer,
	db *pg.DB,
	clock engine.Clock,
	notifier notify.Notifier,
) *Machine {
	return &Machine{
		obs:         obs,
		log:         obs.Log(),
		cfg:         cfg,
		internalCfg: internalCfg,
		db:          db,
		clock:       clock,
		notifier:    notifier,
		completed: obs.Counter(prometheus.CounterOpts{
			Name: "ledger_transfers_completed_total",
			Help: "Number of transfers driven to the completed state.",
		}),
		canceled: obs.Counter(prometheus.CounterOpts{
			Name: "ledger_transfers_canceled_total",
			Help: "Number of transfers driven to the canceled state.",
		}),
	}
}

// SetEnqueuer is called once during wiring, after the scan queues exist.
func (m *Machine) SetEnqueuer(e ScanEnqueuer) {
	m.enqueuer = e
}

// CreateDeposit validates the request limits against the current balance
// inside one serializable unit of work and inserts a pending transfer.
// No ledger transaction is written until the transfer completes.
func (m *Machine) CreateDeposit(ctx context.Context, userID string, amount int64, rateID string, fromAddress *string) (*models.Transfer, error) {
	now := m.clock.Now()
	var created *models.Transfer

	err := ledger.RunSerializable(m.db, func(tx *pg.Tx) error {
		if err := m.checkDailyCeiling(tx, userID, now); err != nil {
			return err
		}
		if err := CheckMinAmount(amount, m.cfg.MinDepositAmount, "deposit"); err != nil {
			return err
		}
		rate, err := m.getRate(tx, rateID)
		if err != nil {
			return err
		}

		pendingDeposits, err := m.sumOpenTransfers(tx, userID, models.TransferDeposit)
		if err != nil {
			return err
		}
		balance, err := ledger.NewStorage(m.obs, tx).ComputeBalance(userID, ledger.BalanceOptions{IncludePendingWithdrawals: true})
		if err != nil {
			return err
		}
		invested, err := activeInvestmentAmount(tx, userID)
		if err != nil {
			return err
		}
		if err := CheckDepositCeiling(amount, pendingDeposits, balance, invested, m.cfg.MaxTotalFunds); err != nil {
			return err
		}

		created = &models.Transfer{
			ID:             uuid.NewString(),
			UserID:         userID,
			Network:        rate.Network,
			Type:           models.TransferDeposit,
			Status:         models.TransferPending,
			Amount:         amount,
			CurrencyAmount: engine.RoundDiv(amount*engine.CoinScale, rate.Rate),
			RateID:         rate.ID,
			FromAddress:    fromAddress,
			CreatedAt:      now,
			UpdatedAt:      now,
			EndedAt:        now.Add(m.cfg.Lifetime),
		}
		return errors.Wrap(tx.Insert(created), "failed to insert deposit transfer")
	})
	if err != nil {
		return nil, err
	}

	m.notifier.Notify(ctx, m.event(notify.EventTransferCreated, created))
	return created, nil
}

// CreateWithdrawal consumes a one-time code, checks the balance and
// inserts a pending withdrawal. The amount is reserved immediately: the
// balance computation subtracts in-flight withdrawals.
func (m *Machine) CreateWithdrawal(ctx context.Context, userID string, amount int64, rateID, withdrawalAddress, code string) (*models.Transfer, error) {
	now := m.clock.Now()
	var created *models.Transfer

	err := ledger.RunSerializable(m.db, func(tx *pg.Tx) error {
		oneTime, err := consumeTransferCode(tx, userID, code, now)
		if err != nil {
			return err
		}
		if err := CheckMinAmount(amount, m.cfg.MinWithdrawalAmount, "withdrawal"); err != nil {
			return err
		}
		rate, err := m.getRate(tx, rateID)
		if err != nil {
			return err
		}
		balance, err := ledger.NewStorage(m.obs, tx).ComputeBalance(userID, ledger.BalanceOptions{IncludePendingWithdrawals: true})
		if err != nil {
			return err
		}
		if balance < amount {
			return engine.Validationf("insufficient balance: have %d, want %d", balance, amount)
		}

		created = &models.Transfer{
			ID:                uuid.NewString(),
			UserID:            userID,
			Network:           rate.Network,
			Type:              models.TransferWithdrawal,
			Status:            models.TransferPending,
			Amount:            amount,
			CurrencyAmount:    engine.RoundDiv(amount*engine.CoinScale, rate.Rate),
			RateID:            rate.ID,
			WithdrawalAddress: &withdrawalAddress,
			CreatedAt:         now,
			UpdatedAt:         now,
			EndedAt:           now.Add(m.cfg.Lifetime),
		}
		if err := tx.Insert(created); err != nil {
			return errors.Wrap(err, "failed to insert withdrawal transfer")
		}
		return bindTransferCode(tx, oneTime.ID, created.ID)
	})
	if err != nil {
		return nil, err
	}

	m.notifier.Notify(ctx, m.event(notify.EventWithdrawalRequested, created))
	return created, nil
}

// UpdateTxID records the on-chain hash supplied by the owning user and
// enqueues a scan job. Allowed exactly once, while pending, before expiry.
func (m *Machine) UpdateTxID(ctx context.Context, userID, transferID, txID string) error {
	now := m.clock.Now()
	var network models.Network
	var autoCanceled *models.Transfer

	err := m.db.RunInTransaction(func(tx *pg.Tx) error {
		transfer, err := getTransfer(tx, transferID)
		if err != nil {
			return err
		}
		if transfer.UserID != userID {
			return engine.Forbiddenf("transfer %s does not belong to the requester", transferID)
		}
		if transfer.Status != models.TransferPending {
			return engine.Conflictf("transfer %s is not pending", transferID)
		}
		if transfer.Expired(now) {
			return engine.Validationf("transfer %s has expired", transferID)
		}
		if transfer.TxID != nil {
			return engine.Conflictf("transfer %s already has a txId", transferID)
		}

		duplicate, err := hasEarlierTxIDUse(tx, transfer, txID, transfer.FromAddress)
		if err != nil {
			return err
		}
		if duplicate {
			if _, err := m.cancelInTx(tx, transfer, "txId already used", &txID, now); err != nil {
				return err
			}
			autoCanceled = transfer
			return nil
		}

		res, err := tx.Model((*models.Transfer)(nil)).
			Where("id = ?", transferID).
			Where("status = ?", models.TransferPending).
			Where("tx_id IS NULL").
			Set("tx_id = ?, updated_at = ?", txID, now).
			Update()
		if err != nil {
			return errors.Wrap(err, "failed to set txId")
		}
		if res.RowsAffected() == 0 {
			return engine.Conflictf("transfer %s changed concurrently", transferID)
		}
		network = transfer.Network
		return nil
	})
	if err != nil {
		return err
	}

	if autoCanceled != nil {
		m.notifier.Notify(ctx, m.event(notify.EventTransferCanceled, autoCanceled))
		return engine.Conflictf("txId %s already used", txID)
	}
	if m.enqueuer != nil {
		m.enqueuer.EnqueueScan(network, transferID)
	}
	return nil
}

// Process is the administrative pending → processed transition. A txId
// must exist by the end of it: withdrawals get it now, deposits already
// carry one.
func (m *Machine) Process(ctx context.Context, transferID string, txID *string) error {
	now := m.clock.Now()
	var processed *models.Transfer

	err := m.db.RunInTransaction(func(tx *pg.Tx) error {
		transfer, err := getTransfer(tx, transferID)
		if err != nil {
			return err
		}
		if !AllowedTransition(transfer.Status, models.TransferProcessed) {
			return engine.Conflictf("transfer %s cannot go from %s to %s",
				transferID, transfer.Status, models.TransferProcessed)
		}
		if transfer.TxID == nil && txID == nil {
			return engine.Validationf("transfer %s has no txId", transferID)
		}

		q := tx.Model((*models.Transfer)(nil)).
			Where("id = ?", transferID).
			Where("status = ?", models.TransferPending)
		if txID != nil {
			q = q.Set("status = ?, tx_id = ?, updated_at = ?", models.TransferProcessed, *txID, now)
		} else {
			q = q.Set("status = ?, updated_at = ?", models.TransferProcessed, now)
		}
		res, err := q.Update()
		if err != nil {
			return errors.Wrap(err, "failed to process transfer")
		}
		if res.RowsAffected() == 0 {
			return engine.Conflictf("transfer %s changed concurrently", transferID)
		}
		processed = transfer
		return nil
	})
	if err != nil {
		return err
	}

	m.notifier.Notify(ctx, m.event(notify.EventTransferProcessed, processed))
	return nil
}

// ConfirmDeposit is the terminal administrative completion of a deposit.
func (m *Machine) ConfirmDeposit(ctx context.Context, transferID, adminID string) error {
	return m.confirm(ctx, transferID, adminID, models.TransferDeposit)
}

// ConfirmWithdrawal is the terminal administrative completion of a
// withdrawal.
func (m *Machine) ConfirmWithdrawal(ctx context.Context, transferID, adminID string) error {
	return m.confirm(ctx, transferID, adminID, models.TransferWithdrawal)
}

func (m *Machine) confirm(ctx context.Context, transferID, adminID string, expected models.TransferType) error {
	var completed *models.Transfer
	err := m.db.RunInTransaction(func(tx *pg.Tx) error {
		transfer, err := getTransfer(tx, transferID)
		if err != nil {
			return err
		}
		if transfer.Type != expected {
			return engine.Validationf("transfer %s is not a %s", transferID, expected)
		}
		completed, err = m.CompleteInTx(tx, transferID)
		return err
	})
	if err != nil {
		return err
	}

	m.log.WithField("transfer", transferID).WithField("admin", adminID).
		Infof("transfer confirmed")
	m.notifier.Notify(ctx, m.event(notify.EventTransferCompleted, completed))
	return nil
}

// DuplicateTxID reports whether an earlier non-canceled transfer already
// claimed the transfer's txId for the same source address.
func (m *Machine) DuplicateTxID(db orm.DB, t *models.Transfer) (bool, error) {
	if t.TxID == nil {
		return false, nil
	}
	return hasEarlierTxIDUse(db, t, *t.TxID, t.FromAddress)
}

// HasEarlierOpenFromAddress reports whether an older open transfer
// declared the same source address. Scanning waits for that one to
// settle first so one on-chain payment cannot confirm two transfers.
func (m *Machine) HasEarlierOpenFromAddress(db orm.DB, t *models.Transfer) (bool, error) {
	if t.FromAddress == nil {
		return false, nil
	}
	count, err := db.Model((*models.Transfer)(nil)).
		Where("id <> ?", t.ID).
		Where("from_address = ?", *t.FromAddress).
		Where("status in (?)", pg.In([]models.TransferStatus{models.TransferPending, models.TransferProcessed})).
		Where("created_at < ?", t.CreatedAt).
		Count()
	if err != nil {
		return false, errors.Wrap(err, "failed to check earlier open transfers")
	}
	return count > 0, nil
}

// CompleteInTx finalizes a transfer and writes its ledger transaction
// inside the caller's unit of work. Exactly one ledger row can ever be
// linked to a transfer: a second completion fails with ConflictError.
func (m *Machine) CompleteInTx(tx orm.DB, transferID string) (*models.Transfer, error) {
	transfer, err := getTransfer(tx, transferID)
	if err != nil {
		return nil, err
	}
	if !AllowedTransition(transfer.Status, models.TransferCompleted) {
		return nil, engine.Conflictf("transfer %s cannot go from %s to %s",
			transferID, transfer.Status, models.TransferCompleted)
	}

	linked, err := countLinkedTransactions(tx, transferID)
	if err != nil {
		return nil, err
	}
	if linked > 0 {
		return nil, engine.Conflictf("transfer %s already has a ledger transaction", transferID)
	}

	now := m.clock.Now()
	res, err := tx.Model((*models.Transfer)(nil)).
		Where("id = ?", transferID).
		Where("status in (?)", pg.In([]models.TransferStatus{models.TransferPending, models.TransferProcessed})).
		Set("status = ?, completed_at = ?, updated_at = ?", models.TransferCompleted, now, now).
		Update()
	if err != nil {
		return nil, errors.Wrap(err, "failed to complete transfer")
	}
	if res.RowsAffected() == 0 {
		return nil, engine.Conflictf("transfer %s changed concurrently", transferID)
	}

	txType := models.TxTypeDeposit
	if transfer.Type == models.TransferWithdrawal {
		txType = models.TxTypeWithdrawal
	}
	_, err = ledger.NewStorage(m.obs, tx).RecordTransaction(&models.Transaction{
		UserID:     transfer.UserID,
		Amount:     transfer.Amount,
		Type:       txType,
		TransferID: &transfer.ID,
		CreatedAt:  now,
	})
	if err != nil {
		return nil, err
	}

	transfer.Status = models.TransferCompleted
	transfer.CompletedAt = &now
	m.completed.Inc()
	return transfer, nil
}

// Cancel is the terminal administrative cancellation of a non-terminal
// transfer. No ledger transaction is written.
func (m *Machine) Cancel(ctx context.Context, transferID, note string, txID *string) error {
	now := m.clock.Now()
	var canceled *models.Transfer

	err := m.db.RunInTransaction(func(tx *pg.Tx) error {
		transfer, err := getTransfer(tx, transferID)
		if err != nil {
			return err
		}
		if !AllowedTransition(transfer.Status, models.TransferCanceled) {
			return engine.Conflictf("transfer %s cannot go from %s to %s",
				transferID, transfer.Status, models.TransferCanceled)
		}
		canceled, err = m.cancelInTx(tx, transfer, note, txID, now)
		return err
	})
	if err != nil {
		return err
	}

	m.notifier.Notify(ctx, m.event(notify.EventTransferCanceled, canceled))
	return nil
}

// CancelInTx cancels inside the caller's unit of work; used by the
// scanners when a chain lookup mismatches.
func (m *Machine) CancelInTx(tx orm.DB, transferID, note string) (*models.Transfer, error) {
	transfer, err := getTransfer(tx, transferID)
	if err != nil {
		return nil, err
	}
	if !AllowedTransition(transfer.Status, models.TransferCanceled) {
		return nil, engine.Conflictf("transfer %s cannot go from %s to %s",
			transferID, transfer.Status, models.TransferCanceled)
	}
	return m.cancelInTx(tx, transfer, note, nil, m.clock.Now())
}

func (m *Machine) cancelInTx(tx orm.DB, transfer *models.Transfer, note string, txID *string, now time.Time) (*models.Transfer, error) {
	q := tx.Model((*models.Transfer)(nil)).
		Where("id = ?", transfer.ID).
		Where("status <> ?", models.TransferCanceled)
	if txID != nil {
		q = q.Set("status = ?, note = ?, tx_id = ?, updated_at = ?", models.TransferCanceled, note, *txID, now)
	} else {
		q = q.Set("status = ?, note = ?, updated_at = ?", models.TransferCanceled, note, now)
	}
	res, err := q.Update()
	if err != nil {
		return nil, errors.Wrap(err, "failed to cancel transfer")
	}
	if res.RowsAffected() == 0 {
		return nil, engine.Conflictf("transfer %s changed concurrently", transfer.ID)
	}

	transfer.Status = models.TransferCanceled
	transfer.Note = note
	m.canceled.Inc()
	return transfer, nil
}

// CancelDeposit is the user/admin-initiated cancellation of a deposit,
// including the same-day reopen of a completed one.
func (m *Machine) CancelDeposit(ctx context.Context, transferID string, requester *models.User, note string) error {
	return m.cancelOwned(ctx, transferID, requester, note, models.TransferDeposit)
}

// CancelWithdrawal is the user/admin-initiated cancellation of a
// withdrawal.
func (m *Machine) CancelWithdrawal(ctx context.Context, transferID string, requester *models.User, note string) error {
	return m.cancelOwned(ctx, transferID, requester, note, models.TransferWithdrawal)
}

func (m *Machine) cancelOwned(ctx context.Context, transferID string, requester *models.User, note string, expected models.TransferType) error {
	now := m.clock.Now()
	var canceled *models.Transfer

	err := ledger.RunSerializable(m.db, func(tx *pg.Tx) error {
		transfer, err := getTransfer(tx, transferID)
		if err != nil {
			return err
		}
		if transfer.Type != expected {
			return engine.Validationf("transfer %s is not a %s", transferID, expected)
		}
		if requester.Role == models.RoleUser && transfer.UserID != requester.ID {
			return engine.Forbiddenf("transfer %s does not belong to the requester", transferID)
		}

		folded, err := foldedIntoStatement(tx, transfer)
		if err != nil {
			return err
		}
		if err := CancelGuard(transfer, folded, requester.Role, now); err != nil {
			return err
		}

		canceled, err = m.cancelInTx(tx, transfer, note, nil, now)
		return err
	})
	if err != nil {
		return err
	}

	m.notifier.Notify(ctx, m.event(notify.EventTransferCanceled, canceled))
	return nil
}

func (m *Machine) event(typ notify.EventType, t *models.Transfer) notify.Event {
	return notify.Event{
		Type:       typ,
		UserID:     t.UserID,
		TransferID: t.ID,
		Amount:     t.Amount,
		Note:       t.Note,
		OccurredAt: m.clock.Now(),
	}
}

func (m *Machine) checkDailyCeiling(tx orm.DB, userID string, now time.Time) error {
	count, err := tx.Model((*models.Transfer)(nil)).
		Where("user_id = ?", userID).
		Where("created_at >= ?", DayStart(now)).
		Count()
	if err != nil {
		return errors.Wrap(err, "failed to count daily transfers")
	}
	if count >= m.cfg.MaxDailyRequests {
		return engine.Validationf("daily transfer request limit of %d reached", m.cfg.MaxDailyRequests)
	}
	return nil
}

func (m *Machine) getRate(tx orm.DB, rateID string) (*models.NetworkRate, error) {
	rate := &models.NetworkRate{}
	err := tx.Model(rate).Where("id = ?", rateID).Select()
	if err == pg.ErrNoRows {
		return nil, engine.NotFoundf("network rate %s not found", rateID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch network rate")
	}
	if rate.Rate <= 0 {
		return nil, engine.Validationf("network rate %s is not positive", rateID)
	}
	return rate, nil
}

func (m *Machine) sumOpenTransfers(tx orm.DB, userID string, typ models.TransferType) (int64, error) {
	var sum int64
	err := tx.Model((*models.Transfer)(nil)).
		ColumnExpr("coalesce(sum(amount), 0)").
		Where("user_id = ?", userID).
		Where("type = ?", typ).
		Where("status in (?)", pg.In([]models.TransferStatus{models.TransferPending, models.TransferProcessed})).
		Select(pg.Scan(&sum))
	if err != nil {
		return 0, errors.Wrap(err, "failed to sum open transfers")
	}
	return sum, nil
}

func getTransfer(tx orm.DB, transferID string) (*models.Transfer, error) {
	transfer := &models.Transfer{}
	err := tx.Model(transfer).Where("id = ?", transferID).Select()
	if err == pg.ErrNoRows {
		return nil, engine.NotFoundf("transfer %s not found", transferID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch transfer")
	}
	return transfer, nil
}

func countLinkedTransactions(tx orm.DB, transferID string) (int, error) {
	count, err := tx.Model((*models.Transaction)(nil)).
		Where("transfer_id = ?", transferID).
		Count()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count linked transactions")
	}
	return count, nil
}

// hasEarlierTxIDUse reports whether an earlier, non-canceled transfer
// already claimed the txId (for the same source address when one is set).
func hasEarlierTxIDUse(tx orm.DB, transfer *models.Transfer, txID string, fromAddress *string) (bool, error) {
	q := tx.Model((*models.Transfer)(nil)).
		Where("id <> ?", transfer.ID).
		Where("tx_id = ?", txID).
		Where("status <> ?", models.TransferCanceled).
		Where("created_at < ?", transfer.CreatedAt)
	if fromAddress != nil {
		q = q.Where("from_address = ?", *fromAddress)
	}
	count, err := q.Count()
	if err != nil {
		return false, errors.Wrap(err, "failed to check txId reuse")
	}
	return count > 0, nil
}

// foldedIntoStatement reports whether the transfer's ledger transaction
// has already been folded into a closed account statement.
func foldedIntoStatement(tx orm.DB, transfer *models.Transfer) (bool, error) {
	linked := &models.Transaction{}
	err := tx.Model(linked).Where("transfer_id = ?", transfer.ID).Limit(1).Select()
	if err == pg.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to fetch linked transaction")
	}
	count, err := tx.Model((*models.AccountStatement)(nil)).
		Where("user_id = ?", transfer.UserID).
		Where("date > ?", linked.CreatedAt).
		Count()
	if err != nil {
		return false, errors.Wrap(err, "failed to check statements")
	}
	return count > 0, nil
}

func activeInvestmentAmount(tx orm.DB, userID string) (int64, error) {
	inv := &models.Investment{}
	err := tx.Model(inv).
		Where("user_id = ?", userID).
		Where("completed_at IS NULL").
		Where("canceled_at IS NULL").
		Select()
	if err == pg.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to fetch active investment")
	}
	return inv.Amount, nil
}

// DayStart truncates t to local midnight.
func DayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
