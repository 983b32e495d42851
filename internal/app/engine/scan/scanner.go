package scan

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-pg/pg"
	"github.com/go-pg/pg/orm"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/Vimbi/cryptocurrency-investments-sub000/configuration"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine/transfer"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/models"
	"github.com/Vimbi/cryptocurrency-investments-sub000/observability"
)

// Client fetches one on-chain transaction from a network explorer.
// A nil ChainTx with a nil error means the chain does not know the hash
// yet. Transient explorer trouble comes back as TransientScanError.
type Client interface {
	FetchTransaction(ctx context.Context, txID string) (*ChainTx, error)
}

type Scanner struct {
	log     *logrus.Logger
	cfg     configuration.Chain
	network models.Network
	db      *pg.DB
	machine *transfer.Machine
	client  Client
	queue   *Queue
	clock   engine.Clock

	// completed scans keyed by txId, so a requeued job that already
	// reached a verdict skips the explorer round trip
	settled *lru.Cache

	scanned  prometheus.Counter
	failures prometheus.Counter
}

func NewScanner(
	obs *observability.Observability,
	cfg configuration.Chain,
	network models.Network,
	db *pg.DB,
	machine *transfer.Machine,
	client Client,
	queue *Queue,
	clock engine.Clock,
) (*Scanner, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = 1024
	}
	settled, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create scan cache")
	}
	return &Scanner{
		log:     obs.Log(),
		cfg:     cfg,
		network: network,
		db:      db,
		machine: machine,
		client:  client,
		queue:   queue,
		clock:   clock,
		settled: settled,
		scanned: obs.Counter(prometheus.CounterOpts{
			Name:        "ledger_scans_total",
			Help:        "Scan attempts per network.",
			ConstLabels: prometheus.Labels{"network": string(network)},
		}),
		failures: obs.Counter(prometheus.CounterOpts{
			Name:        "ledger_scan_failures_total",
			Help:        "Scan attempts that hit a transient explorer failure.",
			ConstLabels: prometheus.Labels{"network": string(network)},
		}),
	}, nil
}

// Run drains the queue with the configured number of workers until the
// context is canceled or the queue closes.
func (s *Scanner) Run(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	wg := sync.WaitGroup{}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case transferID, ok := <-s.queue.Jobs():
					if !ok {
						return
					}
					s.scanOne(ctx, transferID)
				}
			}
		}()
	}
	wg.Wait()
}

func (s *Scanner) scanOne(ctx context.Context, transferID string) {
	s.scanned.Inc()
	if err := s.process(ctx, transferID); err != nil {
		if engine.IsTransientScan(err) {
			s.failures.Inc()
			s.log.WithField("transfer", transferID).WithError(err).
				Warnf("transient scan failure, transfer stays open")
			return
		}
		s.log.WithField("transfer", transferID).WithError(err).
			Errorf("scan failed")
	}
}

func (s *Scanner) process(ctx context.Context, transferID string) error {
	target, err := s.loadTransfer(transferID)
	if err != nil {
		return err
	}
	if target == nil {
		return nil
	}

	if target.Expired(s.clock.Now()) {
		return s.db.RunInTransaction(func(tx *pg.Tx) error {
			_, err := s.machine.CancelInTx(tx, transferID, "transfer expired before confirmation")
			return err
		})
	}

	duplicate, err := s.machine.DuplicateTxID(s.db, target)
	if err != nil {
		return err
	}
	if duplicate {
		return s.db.RunInTransaction(func(tx *pg.Tx) error {
			_, err := s.machine.CancelInTx(tx, transferID, "txId already used")
			return err
		})
	}

	if s.cfg.RequiresFromAddress {
		blocked, err := s.machine.HasEarlierOpenFromAddress(s.db, target)
		if err != nil {
			return err
		}
		if blocked {
			// an older transfer from the same address must settle first,
			// otherwise one payment could be claimed for both
			s.log.WithField("transfer", transferID).
				Debugf("deferring scan behind an earlier transfer from the same address")
			return nil
		}
	}

	chainTx, err := s.lookup(ctx, *target.TxID)
	if err != nil {
		recordErr := s.recordAttempt(transferID, err.Error())
		if recordErr != nil {
			s.log.WithError(recordErr).Warnf("failed to record scan attempt")
		}
		return err
	}

	verdict, messages := Evaluate(target, chainTx, s.cfg)
	switch verdict {
	case VerdictComplete:
		s.settled.Add(*target.TxID, chainTx)
		return s.db.RunInTransaction(func(tx *pg.Tx) error {
			_, err := s.machine.CompleteInTx(tx, transferID)
			if engine.IsConflict(err) {
				// someone else won the race, nothing to do
				return nil
			}
			return err
		})
	case VerdictCancel:
		s.settled.Add(*target.TxID, chainTx)
		return s.db.RunInTransaction(func(tx *pg.Tx) error {
			_, err := s.machine.CancelInTx(tx, transferID, strings.Join(messages, "; "))
			if engine.IsConflict(err) {
				return nil
			}
			return err
		})
	default:
		return s.recordAttempt(transferID, strings.Join(messages, "; "))
	}
}

// loadTransfer returns nil without error when the transfer is not
// scannable: gone, terminal, or missing its txId.
func (s *Scanner) loadTransfer(transferID string) (*models.Transfer, error) {
	target := &models.Transfer{}
	err := s.db.Model(target).Where("id = ?", transferID).Select()
	if err == pg.ErrNoRows {
		s.log.WithField("transfer", transferID).Warnf("queued transfer vanished")
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch transfer")
	}
	if target.Terminal() {
		return nil, nil
	}
	if target.TxID == nil {
		s.log.WithField("transfer", transferID).
			Errorf("queued transfer has no txId, dropping the job")
		return nil, nil
	}
	if target.Network != s.network {
		s.log.WithField("transfer", transferID).
			Errorf("transfer belongs to %s, not to this %s worker", target.Network, s.network)
		return nil, nil
	}
	return target, nil
}

func (s *Scanner) lookup(ctx context.Context, txID string) (*ChainTx, error) {
	if cached, ok := s.settled.Get(txID); ok {
		return cached.(*ChainTx), nil
	}
	fetchCtx := ctx
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}
	return s.client.FetchTransaction(fetchCtx, txID)
}

// recordAttempt bumps the retry bookkeeping kept per transfer.
func (s *Scanner) recordAttempt(transferID, message string) error {
	now := s.clock.Now()
	return s.db.RunInTransaction(func(tx *pg.Tx) error {
		return upsertAttempt(tx, transferID, message, now)
	})
}

func upsertAttempt(tx orm.DB, transferID, message string, now time.Time) error {
	info := &models.TransferInfo{
		TransferID: transferID,
		Attempts:   1,
		Messages:   []string{message},
		UpdatedAt:  now,
	}
	_, err := tx.Model(info).
		OnConflict("(transfer_id) DO UPDATE").
		Set("attempts = transfer_infos.attempts + 1").
		Set("messages = array_append(transfer_infos.messages, ?)", message).
		Set("updated_at = ?", now).
		Insert()
	return errors.Wrap(err, "failed to upsert transfer info")
}
