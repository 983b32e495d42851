// Package notify carries the engine's outbound events. The engine only
// produces typed events; message formatting and delivery live elsewhere.
package notify

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/Vimbi/cryptocurrency-investments-sub000/observability"
)

type EventType string

const (
	EventTransferCreated     EventType = "transfer_created"
	EventTransferProcessed   EventType = "transfer_processed"
	EventTransferCompleted   EventType = "transfer_completed"
	EventTransferCanceled    EventType = "transfer_canceled"
	EventWithdrawalRequested EventType = "withdrawal_requested"
	EventInvestmentCompleted EventType = "investment_completed"
)

type Event struct {
	Type         EventType
	UserID       string
	TransferID   string
	InvestmentID string
	Amount       int64
	Note         string
	OccurredAt   time.Time
}

type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// LogNotifier is the default sink: it logs the event and counts it.
// Real delivery is a separate consumer of these events.
type LogNotifier struct {
	log     *logrus.Logger
	emitted prometheus.Counter
}

func NewLogNotifier(obs *observability.Observability) *LogNotifier {
	return &LogNotifier{
		log: obs.Log(),
		emitted: obs.Counter(prometheus.CounterOpts{
			Name: "ledger_notifications_emitted_total",
			Help: "Number of notification events emitted by the engine.",
		}),
	}
}

func (n *LogNotifier) Notify(_ context.Context, event Event) {
	n.emitted.Inc()
	n.log.WithField("event", string(event.Type)).
		WithField("user", event.UserID).
		Infof("notification emitted")
}
