// Package component wires the engine together: storage connectivity, the
// transfer machine, per-network scan queues and workers, the investment
// engine, the scheduler and the read-only HTTP API.
package component

import (
	"context"

	"github.com/go-pg/pg"
	"github.com/sirupsen/logrus"

	"github.com/Vimbi/cryptocurrency-investments-sub000/configuration"
	"github.com/Vimbi/cryptocurrency-investments-sub000/connectivity"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine/investment"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine/notify"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine/referral"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine/scan"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine/schedule"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine/transfer"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/models"
	"github.com/Vimbi/cryptocurrency-investments-sub000/observability"
)

type Manager struct {
	cfg  *configuration.Configuration
	log  *logrus.Logger
	conn *connectivity.Connectivity

	machine   *transfer.Machine
	invest    *investment.Engine
	scheduler *schedule.Scheduler
	scanners  []*scan.Scanner
	queues    map[models.Network]*scan.Queue
	router    *Router

	cancel context.CancelFunc
}

func Prepare(cfg *configuration.Configuration) *Manager {
	obs := observability.Make(cfg.Log.Level, cfg.Log.Format)
	conn := connectivity.Make(cfg, obs)
	db := conn.PG()
	clock := &engine.DefaultClock{}
	notifier := notify.NewLogNotifier(obs)

	machine := transfer.NewMachine(obs, cfg.Transfer, cfg.InternalTransfer, db, clock, notifier)
	cascade := referral.NewCascade(obs, cfg.Referral.MaxLevel)
	invest := investment.NewEngine(obs, cfg.Investment, db, clock, cascade, notifier)

	queues := map[models.Network]*scan.Queue{
		models.NetworkBTC:  scan.NewQueue(obs, models.NetworkBTC, cfg.Scanner.QueueSize),
		models.NetworkBSC:  scan.NewQueue(obs, models.NetworkBSC, cfg.Scanner.QueueSize),
		models.NetworkTRON: scan.NewQueue(obs, models.NetworkTRON, cfg.Scanner.QueueSize),
	}
	enqueuer := &queueEnqueuer{log: obs.Log(), queues: queues}
	machine.SetEnqueuer(enqueuer)

	scanners := prepareScanners(obs, cfg, db, machine, queues, clock)
	scheduler := schedule.NewScheduler(obs, cfg.Scheduler, db, clock, invest, machine, enqueuer)
	router := NewRouter(cfg, obs, db, clock)

	return &Manager{
		cfg:       cfg,
		log:       obs.Log(),
		conn:      conn,
		machine:   machine,
		invest:    invest,
		scheduler: scheduler,
		scanners:  scanners,
		queues:    queues,
		router:    router,
	}
}

func prepareScanners(
	obs *observability.Observability,
	cfg *configuration.Configuration,
	db *pg.DB,
	machine *transfer.Machine,
	queues map[models.Network]*scan.Queue,
	clock engine.Clock,
) []*scan.Scanner {
	log := obs.Log()
	chains := []struct {
		network models.Network
		cfg     configuration.Chain
		client  scan.Client
	}{
		{models.NetworkBTC, cfg.Scanner.BTC, scan.NewBTCClient(obs, cfg.Scanner.BTC)},
		{models.NetworkBSC, cfg.Scanner.BSC, scan.NewBSCClient(obs, cfg.Scanner.BSC)},
		{models.NetworkTRON, cfg.Scanner.TRON, scan.NewTRONClient(obs, cfg.Scanner.TRON)},
	}

	scanners := make([]*scan.Scanner, 0, len(chains))
	for _, chain := range chains {
		scanner, err := scan.NewScanner(obs, chain.cfg, chain.network, db, machine, chain.client, queues[chain.network], clock)
		if err != nil {
			log.WithField("network", chain.network).WithError(err).
				Fatal("failed to prepare scanner")
		}
		scanners = append(scanners, scanner)
	}
	return scanners
}

func (m *Manager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.router.Start()
	for _, scanner := range m.scanners {
		s := scanner
		go s.Run(ctx, m.cfg.Scanner.Workers)
	}
	go m.scheduler.Run(ctx)

	m.log.Info("engine started")
}

func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	for _, queue := range m.queues {
		queue.Close()
	}
	m.router.Stop()
	if err := m.conn.PG().Close(); err != nil {
		m.log.WithError(err).Error("failed to close db connection")
	}
	m.log.Info("engine stopped")
}

// Machine exposes the transfer state machine for outer surfaces.
func (m *Manager) Machine() *transfer.Machine {
	return m.machine
}

// Investments exposes the investment engine for outer surfaces.
func (m *Manager) Investments() *investment.Engine {
	return m.invest
}

// queueEnqueuer routes a scan job to the queue of its network.
type queueEnqueuer struct {
	log    *logrus.Logger
	queues map[models.Network]*scan.Queue
}

func (q *queueEnqueuer) EnqueueScan(network models.Network, transferID string) {
	queue, ok := q.queues[network]
	if !ok {
		q.log.WithField("network", network).WithField("transfer", transferID).
			Warnf("no scan queue for network")
		return
	}
	queue.Enqueue(transferID)
}
