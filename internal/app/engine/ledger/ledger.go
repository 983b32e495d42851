// Package ledger owns the append-only transaction log, balance
// computation and monthly statement snapshots. Nothing outside the
// transfer machine, the investment engine and the referral cascade writes
// ledger rows, and they all do it through this storage inside their own
// unit of work.
package ledger

import (
	"time"

	"github.com/go-pg/pg"
	"github.com/go-pg/pg/orm"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/models"
	"github.com/Vimbi/cryptocurrency-investments-sub000/observability"
)

// RunSerializable opens one atomic unit of work at serializable isolation.
// Every balance read + validation + write sequence must go through it, or
// two concurrent requests can both pass a limit check only one should
// pass.
func RunSerializable(db *pg.DB, fn func(tx *pg.Tx) error) error {
	return db.RunInTransaction(func(tx *pg.Tx) error {
		if _, err := tx.Exec("set transaction isolation level serializable"); err != nil {
			return errors.Wrap(err, "failed to set serializable isolation")
		}
		return fn(tx)
	})
}

type Storage struct {
	log          *logrus.Logger
	errorCounter prometheus.Counter
	recorded     prometheus.Counter
	db           orm.DB
}

func NewStorage(obs *observability.Observability, db orm.DB) *Storage {
	return &Storage{
		log: obs.Log(),
		errorCounter: obs.Counter(prometheus.CounterOpts{
			Name: "ledger_storage_error_counter",
			Help: "",
		}),
		recorded: obs.Counter(prometheus.CounterOpts{
			Name: "ledger_transactions_recorded_total",
			Help: "Number of ledger transactions appended.",
		}),
		db: db,
	}
}

// RecordTransaction appends one immutable ledger row inside the caller's
// transaction scope and returns its id.
func (s *Storage) RecordTransaction(model *models.Transaction) (string, error) {
	if model == nil {
		s.log.Warnf("trying to record nil transaction model")
		return "", engine.Validationf("transaction is required")
	}
	if model.Amount <= 0 {
		return "", engine.Validationf("transaction amount must be positive, got %d", model.Amount)
	}
	if !model.Type.Known() {
		return "", engine.Validationf("unknown transaction type %q", model.Type)
	}
	if model.ID == "" {
		model.ID = uuid.NewString()
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now()
	}

	if err := s.db.Insert(model); err != nil {
		s.errorCounter.Inc()
		return "", errors.Wrapf(err, "failed to insert transaction for user %s", model.UserID)
	}
	s.recorded.Inc()
	return model.ID, nil
}

type BalanceOptions struct {
	// AsOf bounds the computation, exclusive. Zero means no bound.
	AsOf time.Time
	// IncludePendingWithdrawals subtracts the reserve held by in-flight
	// pending/processed withdrawal transfers. Statements are closed
	// without it.
	IncludePendingWithdrawals bool
}

// ComputeBalance derives the spendable balance from the latest statement
// plus the transactions recorded after it. Transfer-linked rows count only
// while their transfer is completed, so a same-day cancellation of a
// completed transfer self-corrects the balance.
func (s *Storage) ComputeBalance(userID string, opts BalanceOptions) (int64, error) {
	var closing int64
	var from time.Time

	stmt := &models.AccountStatement{}
	q := s.db.Model(stmt).
		Where("user_id = ?", userID).
		Order("date DESC").
		Limit(1)
	if !opts.AsOf.IsZero() {
		q = q.Where("date <= ?", opts.AsOf)
	}
	err := q.Select()
	switch err {
	case nil:
		closing = stmt.ClosingBalance
		from = stmt.Date
	case pg.ErrNoRows:
		// no snapshot yet, walk the whole history
	default:
		return 0, errors.Wrap(err, "failed to fetch account statement")
	}

	income, err := s.sumTransactions(userID, incomeTypes(), from, opts.AsOf)
	if err != nil {
		return 0, err
	}
	consumption, err := s.sumTransactions(userID, consumptionTypes(), from, opts.AsOf)
	if err != nil {
		return 0, err
	}

	balance := closing + income - consumption

	if opts.IncludePendingWithdrawals {
		reserve, err := s.pendingWithdrawalReserve(userID, opts.AsOf)
		if err != nil {
			return 0, err
		}
		balance -= reserve
	}
	return balance, nil
}

// Snapshot closes the calendar month ending at boundary for one user.
// Idempotent per (user, month): a second call is a no-op.
func (s *Storage) Snapshot(userID string, boundary time.Time) error {
	boundary = MonthStart(boundary)
	monthFrom := boundary.AddDate(0, -1, 0)

	closing, err := s.ComputeBalance(userID, BalanceOptions{AsOf: boundary})
	if err != nil {
		return errors.Wrap(err, "failed to compute closing balance")
	}
	income, err := s.sumTransactions(userID, incomeTypes(), monthFrom, boundary)
	if err != nil {
		return err
	}
	consumption, err := s.sumTransactions(userID, consumptionTypes(), monthFrom, boundary)
	if err != nil {
		return err
	}

	stmt := &models.AccountStatement{
		ID:               uuid.NewString(),
		UserID:           userID,
		Date:             boundary,
		ClosingBalance:   closing,
		TotalIncome:      income,
		TotalConsumption: consumption,
		CreatedAt:        time.Now(),
	}
	res, err := s.db.Model(stmt).
		OnConflict("(user_id, date) DO NOTHING").
		Insert()
	if err != nil {
		s.errorCounter.Inc()
		return errors.Wrapf(err, "failed to insert account statement for user %s", userID)
	}
	if res.RowsAffected() == 0 {
		s.log.WithField("user", userID).WithField("date", boundary).
			Debugf("statement already exists, skipping")
	}
	return nil
}

// sumTransactions adds up ledger rows of the given types over [from, to).
// Transfer-linked rows are counted only while the transfer is completed.
func (s *Storage) sumTransactions(userID string, types []models.TransactionType, from, to time.Time) (int64, error) {
	var sum int64
	q := s.db.Model((*models.Transaction)(nil)).
		ColumnExpr("coalesce(sum(transaction.amount), 0)").
		Join("LEFT JOIN transfers AS tr ON tr.id = transaction.transfer_id").
		Where("transaction.user_id = ?", userID).
		Where("transaction.type in (?)", pg.In(types)).
		Where("(transaction.transfer_id IS NULL OR tr.status = ?)", models.TransferCompleted)
	if !from.IsZero() {
		q = q.Where("transaction.created_at >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("transaction.created_at < ?", to)
	}
	if err := q.Select(pg.Scan(&sum)); err != nil {
		return 0, errors.Wrap(err, "failed to sum transactions")
	}
	return sum, nil
}

func (s *Storage) pendingWithdrawalReserve(userID string, to time.Time) (int64, error) {
	var sum int64
	q := s.db.Model((*models.Transfer)(nil)).
		ColumnExpr("coalesce(sum(amount), 0)").
		Where("user_id = ?", userID).
		Where("type = ?", models.TransferWithdrawal).
		Where("status in (?)", pg.In([]models.TransferStatus{models.TransferPending, models.TransferProcessed}))
	if !to.IsZero() {
		q = q.Where("created_at < ?", to)
	}
	if err := q.Select(pg.Scan(&sum)); err != nil {
		return 0, errors.Wrap(err, "failed to sum withdrawal reserve")
	}
	return sum, nil
}

func incomeTypes() []models.TransactionType {
	return []models.TransactionType{
		models.TxTypeDeposit,
		models.TxTypeIncome,
		models.TxTypeReward,
		models.TxTypeInternalIn,
	}
}

func consumptionTypes() []models.TransactionType {
	return []models.TransactionType{
		models.TxTypeWithdrawal,
		models.TxTypeFine,
		models.TxTypeInternalOut,
	}
}

// MonthStart truncates t to the first instant of its calendar month.
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
