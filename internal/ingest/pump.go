package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/txpulse/internal/circuitbreaker"
	"github.com/mbd888/txpulse/internal/metrics"
	"github.com/mbd888/txpulse/internal/retry"
	"github.com/mbd888/txpulse/internal/traces"
	"github.com/mbd888/txpulse/internal/transactions"
)

// State of a pumped source.
type State string

const (
	StateIdle        State = "idle"
	StateRunning     State = "running"
	StateRestarting  State = "restarting"
	StateUnavailable State = "unavailable"
	StateExhausted   State = "exhausted"
	StateStopped     State = "stopped"
)

// Status is a point-in-time view of a pump.
type Status struct {
	Source      string     `json:"source"`
	State       State      `json:"state"`
	Ingested    int64      `json:"ingested"`
	Rejected    int64      `json:"rejected"`
	Restarts    int64      `json:"restarts"`
	Failures    int        `json:"consecutive_failures"`
	LastError   string     `json:"last_error,omitempty"`
	LastEventAt *time.Time `json:"last_event_at,omitempty"`
}

// Default supervision settings.
const (
	DefaultFailureThreshold = 3
	DefaultOpenDuration     = 30 * time.Second
)

// DefaultRestartPolicy backs off restarts from 500ms up to 15s.
var DefaultRestartPolicy = retry.Policy{BaseDelay: 500 * time.Millisecond, MaxDelay: 15 * time.Second}

// PumpOption configures a Pump.
type PumpOption func(*Pump)

// WithRestartPolicy overrides restart backoff.
func WithRestartPolicy(p retry.Policy) PumpOption {
	return func(pm *Pump) { pm.policy = p }
}

// WithBreaker overrides the circuit breaker deciding availability.
func WithBreaker(b *circuitbreaker.Breaker) PumpOption {
	return func(pm *Pump) { pm.breaker = b }
}

// WithObserver registers a callback for each accepted transaction.
func WithObserver(o Observer) PumpOption {
	return func(pm *Pump) { pm.observers = append(pm.observers, o) }
}

// Pump supervises a single Source.
type Pump struct {
	source    Source
	sink      Sink
	logger    *slog.Logger
	policy    retry.Policy
	breaker   *circuitbreaker.Breaker
	observers []Observer

	mu      sync.Mutex
	status  Status
	attempt int
}

// NewPump wires source into sink.
func NewPump(source Source, sink Sink, logger *slog.Logger, opts ...PumpOption) *Pump {
	p := &Pump{
		source:  source,
		sink:    sink,
		logger:  logger.With("source", source.Name()),
		policy:  DefaultRestartPolicy,
		breaker: circuitbreaker.New(DefaultFailureThreshold, DefaultOpenDuration),
		status:  Status{Source: source.Name(), State: StateIdle},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run drives the source until ctx is done or the source is exhausted.
// Source failures never escape: they are logged, counted and retried.
func (p *Pump) Run(ctx context.Context) {
	name := p.source.Name()
	defer metrics.IngestSourceUp.WithLabelValues(name).Set(0)

	for {
		if ctx.Err() != nil {
			p.setState(StateStopped)
			return
		}

		if !p.breaker.Allow(name) {
			p.setState(StateUnavailable)
			if retry.Sleep(ctx, p.policy.Delay(p.currentAttempt())) != nil {
				p.setState(StateStopped)
				return
			}
			continue
		}

		p.setState(StateRunning)
		metrics.IngestSourceUp.WithLabelValues(name).Set(1)
		p.logger.Info("ingestion source started")

		err := p.source.Run(ctx, p.emit)
		metrics.IngestSourceUp.WithLabelValues(name).Set(0)

		if ctx.Err() != nil {
			p.setState(StateStopped)
			p.logger.Info("ingestion source stopped")
			return
		}
		if err == nil {
			p.setState(StateExhausted)
			p.logger.Info("ingestion source exhausted")
			return
		}

		p.breaker.RecordFailure(name)
		delay := p.recordFailure(err)
		p.logger.Error("ingestion source failed",
			"error", err,
			"consecutive_failures", p.breaker.Failures(name),
			"retry_in", delay.Round(time.Millisecond),
		)
		if retry.Sleep(ctx, delay) != nil {
			p.setState(StateStopped)
			return
		}
	}
}

// emit forwards one event to the sink. Rejections are dropped so a single
// bad record never stops the stream.
func (p *Pump) emit(ctx context.Context, tx transactions.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, span := traces.StartSpan(ctx, "ingest.emit", traces.Source(p.source.Name()))
	defer span.End()

	stored, err := p.sink.Ingest(ctx, tx)
	if err != nil {
		p.mu.Lock()
		p.status.Rejected++
		p.mu.Unlock()

		switch {
		case errors.Is(err, transactions.ErrDuplicateID):
			p.logger.Warn("dropped duplicate transaction", "transaction_id", tx.ID)
		case errors.Is(err, transactions.ErrInvalidTransaction):
			p.logger.Warn("dropped invalid transaction", "transaction_id", tx.ID, "error", err)
		default:
			traces.RecordError(span, err)
			p.logger.Error("sink rejected transaction", "transaction_id", tx.ID, "error", err)
		}
		return nil
	}

	p.markHealthy()
	for _, o := range p.observers {
		o(ctx, stored)
	}
	return nil
}

// markHealthy records a successful delivery, closing the breaker and
// resetting the restart backoff.
func (p *Pump) markHealthy() {
	now := time.Now().UTC()
	p.mu.Lock()
	p.status.Ingested++
	p.status.LastEventAt = &now
	recovered := p.status.Failures > 0
	p.status.Failures = 0
	p.status.LastError = ""
	p.attempt = 0
	p.mu.Unlock()

	if recovered {
		p.breaker.RecordSuccess(p.source.Name())
		p.logger.Info("ingestion source recovered")
	}
}

func (p *Pump) recordFailure(err error) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.Failures++
	p.status.Restarts++
	p.status.LastError = err.Error()
	if p.breaker.State(p.source.Name()) == circuitbreaker.StateOpen {
		p.status.State = StateUnavailable
	} else {
		p.status.State = StateRestarting
	}
	d := p.policy.Delay(p.attempt)
	p.attempt++
	return d
}

func (p *Pump) currentAttempt() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempt
}

func (p *Pump) setState(s State) {
	p.mu.Lock()
	p.status.State = s
	p.mu.Unlock()
}

// Status returns a copy of the pump's current status.
func (p *Pump) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.status
	if s.LastEventAt != nil {
		t := *s.LastEventAt
		s.LastEventAt = &t
	}
	return s
}

// Err returns ErrAdapterUnavailable while the source's circuit is open and
// nil otherwise. It is suitable as a health check.
func (p *Pump) Err() error {
	st := p.Status()
	if st.State == StateUnavailable {
		return fmt.Errorf("%w: %s: %s", ErrAdapterUnavailable, st.Source, st.LastError)
	}
	return nil
}
