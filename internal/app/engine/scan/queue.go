// Package scan confirms transfers against blockchain explorers. One queue
// and a small worker pool per network; workers fetch the on-chain
// transaction, evaluate it against the transfer and drive the transfer
// machine to completed or canceled.
package scan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/models"
	"github.com/Vimbi/cryptocurrency-investments-sub000/observability"
)

// Queue is a bounded in-process channel of transfer ids awaiting a scan.
// Enqueue never blocks: a full queue drops the job and the periodic
// requeue pass picks the transfer up again.
type Queue struct {
	network models.Network
	jobs    chan string
	log     *logrus.Logger
	dropped prometheus.Counter
}

func NewQueue(obs *observability.Observability, network models.Network, size int) *Queue {
	return &Queue{
		network: network,
		jobs:    make(chan string, size),
		log:     obs.Log(),
		dropped: obs.Counter(prometheus.CounterOpts{
			Name:        "ledger_scan_jobs_dropped_total",
			Help:        "Scan jobs dropped because the queue was full.",
			ConstLabels: prometheus.Labels{"network": string(network)},
		}),
	}
}

func (q *Queue) Enqueue(transferID string) {
	select {
	case q.jobs <- transferID:
	default:
		q.dropped.Inc()
		q.log.WithField("network", q.network).WithField("transfer", transferID).
			Warnf("scan queue is full, dropping job")
	}
}

func (q *Queue) Jobs() <-chan string {
	return q.jobs
}

func (q *Queue) Close() {
	close(q.jobs)
}
