// Package schedule runs the time-triggered jobs: daily income accrual,
// investment completion and statement snapshots at the configured hour,
// plus the faster code sweep and scan requeue passes. The scheduler
// assumes it is the only instance of its kind; overlapping runs are not
// guarded and deployment must keep a single leader.
package schedule

import (
	"context"
	"time"

	"github.com/go-pg/pg"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/Vimbi/cryptocurrency-investments-sub000/configuration"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine/investment"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine/ledger"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine/transfer"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/models"
	"github.com/Vimbi/cryptocurrency-investments-sub000/observability"
)

type Scheduler struct {
	obs      *observability.Observability
	log      *logrus.Logger
	cfg      configuration.Scheduler
	db       *pg.DB
	clock    engine.Clock
	invest   *investment.Engine
	machine  *transfer.Machine
	enqueuer transfer.ScanEnqueuer

	lastDaily   time.Time
	lastSweep   time.Time
	lastRequeue time.Time

	jobRuns prometheus.Counter
}

func NewScheduler(
	obs *observability.Observability,
	cfg configuration.Scheduler,
	db *pg.DB,
	clock engine.Clock,
	invest *investment.Engine,
	machine *transfer.Machine,
	enqueuer transfer.ScanEnqueuer,
) *Scheduler {
	return &Scheduler{
		obs:      obs,
		log:      obs.Log(),
		cfg:      cfg,
		db:       db,
		clock:    clock,
		invest:   invest,
		machine:  machine,
		enqueuer: enqueuer,
		jobRuns: obs.Counter(prometheus.CounterOpts{
			Name: "ledger_scheduled_job_runs_total",
			Help: "Scheduled job executions.",
		}),
	}
}

// Run ticks until the context is canceled. Each tick checks which jobs
// are due; a failing job logs and waits for its next slot.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.clock.Now()

	if ShouldRunDaily(s.lastDaily, now, s.cfg.AccrualHour) {
		s.lastDaily = now
		s.runDaily(ctx, now)
	}
	if now.Sub(s.lastSweep) >= s.cfg.SweepInterval {
		s.lastSweep = now
		s.runJob("code_sweep", func() error {
			_, err := s.machine.SweepExpiredCodes()
			return err
		})
	}
	if now.Sub(s.lastRequeue) >= s.cfg.RequeueInterval {
		s.lastRequeue = now
		s.runJob("scan_requeue", func() error {
			return s.RequeueScans()
		})
	}
}

func (s *Scheduler) runDaily(ctx context.Context, now time.Time) {
	s.runJob("income_accrual", func() error {
		return s.invest.RunIncomeAccrual(ctx, now)
	})
	s.runJob("investment_completion", func() error {
		return s.invest.RunInvestmentCompletion(ctx)
	})
	s.runJob("statement_snapshots", func() error {
		return s.RunSnapshots(now)
	})
}

func (s *Scheduler) runJob(name string, job func() error) {
	s.jobRuns.Inc()
	if err := job(); err != nil {
		s.log.WithField("job", name).WithError(err).Errorf("scheduled job failed")
		return
	}
	s.log.WithField("job", name).Debugf("scheduled job finished")
}

// RunSnapshots closes last month's statement for every user. Snapshot is
// idempotent per (user, month), so the daily repetition is harmless, and
// a per-user failure does not stop the sweep.
func (s *Scheduler) RunSnapshots(now time.Time) error {
	var userIDs []string
	err := s.db.Model((*models.User)(nil)).Column("id").Select(&userIDs)
	if err != nil {
		return errors.Wrap(err, "failed to list users")
	}

	for _, userID := range userIDs {
		err := s.db.RunInTransaction(func(tx *pg.Tx) error {
			return ledger.NewStorage(s.obs, tx).Snapshot(userID, now)
		})
		if err != nil {
			s.log.WithField("user", userID).WithError(err).
				Errorf("snapshot failed, continuing with the batch")
		}
	}
	return nil
}

// RequeueScans puts every open transfer that already has a txId back on
// its network queue. Covers jobs dropped on a full queue and retries
// after transient explorer failures.
func (s *Scheduler) RequeueScans() error {
	var open []models.Transfer
	err := s.db.Model(&open).
		Column("id", "network").
		Where("status in (?)", pg.In([]models.TransferStatus{models.TransferPending, models.TransferProcessed})).
		Where("tx_id IS NOT NULL").
		Select()
	if err != nil {
		return errors.Wrap(err, "failed to select open transfers")
	}

	for i := range open {
		s.enqueuer.EnqueueScan(open[i].Network, open[i].ID)
	}
	if len(open) > 0 {
		s.log.WithField("count", len(open)).Debugf("requeued open transfers for scanning")
	}
	return nil
}

// ShouldRunDaily reports whether the daily slot at hour has been reached
// since the last run.
func ShouldRunDaily(lastRun, now time.Time, hour int) bool {
	slot := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if now.Before(slot) {
		return false
	}
	return lastRun.Before(slot)
}
