package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mroshb/clan_portal/internal/metrics"
	"github.com/mroshb/clan_portal/internal/models"
	"github.com/mroshb/clan_portal/internal/repositories"
	"github.com/mroshb/clan_portal/pkg/logger"
	"github.com/mroshb/clan_portal/pkg/utils"
)

type Options struct {
	PollInterval    time.Duration
	DeliveryTimeout time.Duration
	Backoff         time.Duration
	MaxBackoff      time.Duration
	MaxAttempts     int
	BatchSize       int
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.DeliveryTimeout <= 0 {
		o.DeliveryTimeout = 10 * time.Second
	}
	if o.Backoff <= 0 {
		o.Backoff = 5 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Minute
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 8
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	return o
}

// Dispatcher is a transactional outbox. Publish writes one row per
// registered sink inside the caller's transaction; the dispatch loop
// delivers due rows with a per-call timeout and exponential backoff until
// MaxAttempts, after which the row is marked failed.
type Dispatcher struct {
	outbox *repositories.OutboxRepository
	opts   Options

	mu    sync.RWMutex
	sinks map[string]Notifier

	kick   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	now func() time.Time
}

func NewDispatcher(outbox *repositories.OutboxRepository, opts Options) *Dispatcher {
	return &Dispatcher{
		outbox: outbox,
		opts:   opts.withDefaults(),
		sinks:  make(map[string]Notifier),
		kick:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RegisterSink adds a named sink. Events published afterwards are delivered
// to it.
func (d *Dispatcher) RegisterSink(name string, n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks[name] = n
}

func (d *Dispatcher) sinkNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.sinks))
	for name := range d.sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Dispatcher) sink(name string) (Notifier, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.sinks[name]
	return n, ok
}

// Publish records e for every sink using outbox, which must be bound to the
// caller's transaction. Nothing is delivered until that transaction commits.
func (d *Dispatcher) Publish(ctx context.Context, outbox *repositories.OutboxRepository, e Event) error {
	if e.Key == "" {
		e.Key = utils.GenerateRandomID(24)
	}
	if err := e.validate(); err != nil {
		return err
	}

	payload, err := e.encode()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	now := d.now()
	names := d.sinkNames()
	rows := make([]models.OutboxEvent, 0, len(names))
	for _, name := range names {
		rows = append(rows, models.OutboxEvent{
			EventKey:      e.Key,
			Sink:          name,
			Kind:          e.Kind,
			Payload:       payload,
			NextAttemptAt: now,
		})
	}
	return outbox.Enqueue(ctx, rows)
}

// Kick asks the dispatch loop to run now instead of waiting for the next tick.
func (d *Dispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// DispatchOnce delivers every currently due event and returns how many were
// delivered.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	lease := d.opts.DeliveryTimeout*2 + time.Second
	events, err := d.outbox.ClaimDue(ctx, d.now(), lease, d.opts.BatchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for i := range events {
		if d.deliver(ctx, &events[i]) {
			delivered++
		}
	}

	if pending, err := d.outbox.CountPending(ctx); err == nil {
		metrics.OutboxPending.Set(float64(pending))
	}
	return delivered, nil
}

func (d *Dispatcher) deliver(ctx context.Context, row *models.OutboxEvent) bool {
	attempts := row.Attempts + 1

	err := d.attempt(ctx, row)
	if err == nil {
		if markErr := d.outbox.MarkDelivered(ctx, row.ID, attempts, d.now()); markErr != nil {
			logger.Error("Failed to mark event delivered", "event_id", row.ID, "error", markErr)
		}
		metrics.OutboxDeliveriesTotal.WithLabelValues(row.Sink, "delivered").Inc()
		return true
	}

	if attempts >= d.opts.MaxAttempts {
		logger.Error("Event delivery failed permanently",
			"event_id", row.ID, "event_key", row.EventKey, "sink", row.Sink,
			"kind", row.Kind, "attempts", attempts, "error", err)
		if markErr := d.outbox.MarkFailed(ctx, row.ID, attempts, d.now(), err.Error()); markErr != nil {
			logger.Error("Failed to mark event failed", "event_id", row.ID, "error", markErr)
		}
		metrics.OutboxDeliveriesTotal.WithLabelValues(row.Sink, "failed").Inc()
		return false
	}

	next := d.now().Add(d.backoff(attempts))
	logger.Warn("Event delivery failed, will retry",
		"event_id", row.ID, "sink", row.Sink, "kind", row.Kind,
		"attempts", attempts, "next_attempt_at", next, "error", err)
	if markErr := d.outbox.MarkRetry(ctx, row.ID, attempts, next, err.Error()); markErr != nil {
		logger.Error("Failed to schedule event retry", "event_id", row.ID, "error", markErr)
	}
	metrics.OutboxDeliveriesTotal.WithLabelValues(row.Sink, "retry").Inc()
	return false
}

func (d *Dispatcher) attempt(ctx context.Context, row *models.OutboxEvent) (err error) {
	n, ok := d.sink(row.Sink)
	if !ok {
		return fmt.Errorf("sink %q is not registered", row.Sink)
	}

	e, err := decodeEvent(row.Payload)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, d.opts.DeliveryTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink %s panicked: %v", row.Sink, r)
		}
	}()
	return Deliver(callCtx, n, e)
}

// backoff doubles from Backoff per attempt, capped at MaxBackoff.
func (d *Dispatcher) backoff(attempts int) time.Duration {
	delay := d.opts.Backoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= d.opts.MaxBackoff {
			return d.opts.MaxBackoff
		}
	}
	return delay
}

// Start runs the dispatch loop until Stop or ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ticker := time.NewTicker(d.opts.PollInterval)
		defer ticker.Stop()

		logger.Info("Outbox dispatcher started", "sinks", d.sinkNames())
		for {
			if _, err := d.DispatchOnce(ctx); err != nil {
				logger.Error("Outbox dispatch failed", "error", err)
			}

			select {
			case <-ctx.Done():
				return
			case <-d.stopCh:
				return
			case <-ticker.C:
			case <-d.kick:
			}
		}
	}()
}

// Stop ends the dispatch loop and waits for the in-flight batch.
func (d *Dispatcher) Stop() {
	d.once.Do(func() { close(d.stopCh) })
	d.wg.Wait()
	logger.Info("Outbox dispatcher stopped")
}
