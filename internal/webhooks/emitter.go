package webhooks

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mbd888/txpulse/internal/metrics"
	"github.com/mbd888/txpulse/internal/transactions"
)

// drainTimeout bounds deliveries of already-queued events after shutdown.
const drainTimeout = 5 * time.Second

func newEvent(t EventType, tx transactions.Transaction) Event {
	return Event{
		ID:        "evt_" + uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		Data:      tx,
	}
}

// ObserveIngest queues a high-risk alert for tx. Other levels are ignored.
// It has the dashboard observer signature and never blocks.
func (n *Notifier) ObserveIngest(ctx context.Context, tx transactions.Transaction) {
	if tx.RiskLevel != transactions.RiskHigh {
		return
	}
	n.enqueue(ctx, newEvent(EventHighRisk, tx))
}

// ObserveFraud queues a fraud confirmation for tx.
func (n *Notifier) ObserveFraud(ctx context.Context, tx transactions.Transaction) {
	n.enqueue(ctx, newEvent(EventFraudConfirmed, tx))
}

func (n *Notifier) enqueue(_ context.Context, ev Event) {
	select {
	case n.queue <- ev:
	default:
		n.dropped.Add(1)
		metrics.WebhookDeliveriesTotal.WithLabelValues(resultDropped).Inc()
		n.logger.Warn("webhook queue full, alert dropped",
			"event", ev.Type,
			"transaction_id", ev.Data.ID,
		)
	}
}

// Run delivers queued events one at a time until ctx is done, then makes a
// bounded attempt at whatever is still queued.
func (n *Notifier) Run(ctx context.Context) {
	n.wg.Add(1)
	defer n.wg.Done()

	n.logger.Info("webhook notifier started", "url", n.url, "signed", n.secret != "")
	for {
		select {
		case <-ctx.Done():
			n.drain()
			n.logger.Info("webhook notifier stopped")
			return
		case ev := <-n.queue:
			// Both cases can be ready at once; an event taken after
			// cancellation belongs to the drain.
			if ctx.Err() != nil {
				n.drain(ev)
				n.logger.Info("webhook notifier stopped")
				return
			}
			n.deliverLogged(ctx, ev)
		}
	}
}

// drain delivers pending first, then everything left in the queue, under
// a context detached from the cancelled run context.
func (n *Notifier) drain(pending ...Event) {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for _, ev := range pending {
		n.deliverLogged(ctx, ev)
	}
	for {
		select {
		case ev := <-n.queue:
			n.deliverLogged(ctx, ev)
		default:
			return
		}
	}
}

func (n *Notifier) deliverLogged(ctx context.Context, ev Event) {
	if err := n.Deliver(ctx, ev); err != nil {
		n.logger.Error("webhook delivery failed",
			"event", ev.Type,
			"delivery", ev.ID,
			"transaction_id", ev.Data.ID,
			"error", err,
		)
		return
	}
	n.logger.Debug("webhook delivered", "event", ev.Type, "delivery", ev.ID)
}

// Wait blocks until Run has returned.
func (n *Notifier) Wait() {
	n.wg.Wait()
}
