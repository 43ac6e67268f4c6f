// Package bus implements the durable event bus: an append-only Postgres
// log partitioned by correlation id, delivered at-least-once to
// subscribing workers. NATS Streaming only carries wake-up nudges and
// the fanout of decided domain events; durability lives in the table.
package bus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/stan.go"

	"otabridge/internal/messaging"
	"otabridge/internal/metrics"
	"otabridge/internal/models"
	"otabridge/internal/oerr"
	"otabridge/internal/repository"
)

const nudgeSubject = "otabridge.work"

// AckFunc acknowledges the current delivery
type AckFunc func()

// NackFunc re-enqueues the current delivery after delay; a zero delay
// applies the default backoff.
type NackFunc func(delay time.Duration)

// Handler processes one event and must call exactly one of ack/nack.
// A handler that panics or returns without deciding is treated as nack.
type Handler func(ctx context.Context, e *models.Event, ack AckFunc, nack NackFunc)

type Config struct {
	Partitions      int
	MaxAttempts     int
	HighWaterMark   int
	PollInterval    time.Duration
	DefaultDeadline time.Duration
}

type subscription struct {
	kinds       []string
	handler     Handler
	concurrency int
	maxAttempts int
}

type Bus struct {
	cfg     Config
	busRepo *repository.BusRepository
	dlqRepo *repository.DeadLetterRepository
	nats    *messaging.NATSClient
	metrics *metrics.Metrics

	mu   sync.Mutex
	subs []*subscription

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(cfg Config, busRepo *repository.BusRepository, dlqRepo *repository.DeadLetterRepository,
	nats *messaging.NATSClient, m *metrics.Metrics) *Bus {
	if cfg.Partitions <= 0 {
		cfg.Partitions = 16
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.DefaultDeadline <= 0 {
		cfg.DefaultDeadline = 30 * time.Second
	}
	return &Bus{
		cfg:     cfg,
		busRepo: busRepo,
		dlqRepo: dlqRepo,
		nats:    nats,
		metrics: m,
		stop:    make(chan struct{}),
	}
}

// Partition maps a correlation id to a bus partition
func (b *Bus) Partition(correlationID string) int {
	h := fnv.New32a()
	h.Write([]byte(correlationID))
	return int(h.Sum32() % uint32(b.cfg.Partitions))
}

// Publish durably enqueues an event and returns its id. A fresh
// correlation id is generated when none is supplied. Publish rejects
// with a transient error when the target partition is over the
// high-water mark; callers retry with jitter.
func (b *Bus) Publish(ctx context.Context, kind string, payload interface{}, correlationID string) (string, error) {
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", oerr.Validation("event payload not serializable", err)
	}

	partition := b.Partition(correlationID)
	if b.cfg.HighWaterMark > 0 {
		depth, err := b.busRepo.PartitionDepth(ctx, partition)
		if err != nil {
			return "", oerr.Transient("partition depth check failed", err)
		}
		if depth >= int64(b.cfg.HighWaterMark) {
			return "", oerr.Transient(fmt.Sprintf("partition %d over high-water mark", partition), nil)
		}
	}

	now := time.Now()
	e := &models.Event{
		ID:            uuid.New().String(),
		CorrelationID: correlationID,
		Kind:          kind,
		Payload:       raw,
		Attempts:      0,
		MaxAttempts:   b.cfg.MaxAttempts,
		Partition:     partition,
		VisibleAfter:  now,
		Deadline:      now.Add(b.cfg.DefaultDeadline),
	}

	if err := b.busRepo.Insert(ctx, e); err != nil {
		return "", oerr.Transient("event insert failed", err)
	}

	if b.metrics != nil {
		b.metrics.EventsPublished.WithLabelValues(kind).Inc()
	}
	if b.nats != nil {
		b.nats.Nudge(nudgeSubject)
	}

	slog.Debug("Event published", "event_id", e.ID, "kind", kind, "correlation_id", correlationID, "partition", partition)
	return e.ID, nil
}

// Subscribe registers a handler for the given kinds. Must be called
// before Start.
func (b *Bus) Subscribe(kinds []string, handler Handler, concurrency, maxAttempts int) {
	if concurrency <= 0 {
		concurrency = 1
	}
	if maxAttempts <= 0 {
		maxAttempts = b.cfg.MaxAttempts
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, &subscription{
		kinds:       kinds,
		handler:     handler,
		concurrency: concurrency,
		maxAttempts: maxAttempts,
	})
}

// Start launches the worker goroutines. Workers poll their partitions
// and also wake on NATS nudges.
func (b *Bus) Start(ctx context.Context) error {
	nudge := make(chan struct{}, 1)
	if b.nats != nil {
		// nudge subscription is optional; polling covers missed wakeups
		if _, err := b.nats.Subscribe(nudgeSubject, func(m *stan.Msg) {
			select {
			case nudge <- struct{}{}:
			default:
			}
		}); err != nil {
			slog.Warn("Nudge subscription unavailable, relying on polling", "error", err)
		}
	}

	b.mu.Lock()
	subs := b.subs
	b.mu.Unlock()

	for _, sub := range subs {
		for i := 0; i < sub.concurrency; i++ {
			b.wg.Add(1)
			go b.worker(ctx, sub, i, nudge)
		}
	}

	slog.Info("Bus workers started", "subscriptions", len(subs), "partitions", b.cfg.Partitions)
	return nil
}

// Stop asks workers to finish in-flight events and waits up to grace
func (b *Bus) Stop(grace time.Duration) {
	close(b.stop)
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		slog.Warn("Bus shutdown grace elapsed with workers still in flight")
	}
}

func (b *Bus) worker(ctx context.Context, sub *subscription, seq int, nudge <-chan struct{}) {
	defer b.wg.Done()

	// stagger workers so they do not scan partitions in lockstep
	offset := seq % b.cfg.Partitions

	for {
		select {
		case <-b.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		worked := false
		for i := 0; i < b.cfg.Partitions; i++ {
			partition := (offset + i) % b.cfg.Partitions
			ok, err := b.processOne(ctx, sub, partition)
			if err != nil {
				slog.Error("Bus worker iteration failed", "partition", partition, "error", err)
			}
			if ok {
				worked = true
			}
		}

		if !worked {
			select {
			case <-b.stop:
				return
			case <-ctx.Done():
				return
			case <-nudge:
			case <-time.After(b.cfg.PollInterval):
			}
		}
	}
}

// processOne claims and handles at most one event from a partition
func (b *Bus) processOne(ctx context.Context, sub *subscription, partition int) (bool, error) {
	tx, err := b.busRepo.BeginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback()

	locked, err := b.busRepo.TryPartitionLock(ctx, tx, partition)
	if err != nil {
		return false, fmt.Errorf("partition lock: %w", err)
	}
	if !locked {
		return false, nil
	}

	e, err := b.busRepo.ClaimNext(ctx, tx, partition, sub.kinds)
	if err != nil {
		return false, fmt.Errorf("claim next: %w", err)
	}
	if e == nil {
		return false, nil
	}

	// a deadline that elapsed while queued fails the event without dispatch
	if !e.Deadline.IsZero() && time.Now().After(e.Deadline) {
		if err := b.deadLetter(ctx, tx, e, "deadline elapsed in queue"); err != nil {
			return false, err
		}
		return true, tx.Commit()
	}

	var decided, acked bool
	var nackDelay time.Duration

	ack := func() {
		decided = true
		acked = true
	}
	nack := func(delay time.Duration) {
		decided = true
		acked = false
		nackDelay = delay
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Handler panicked", "event_id", e.ID, "kind", e.Kind, "panic", r)
				decided = false
			}
		}()
		sub.handler(ctx, e, ack, nack)
	}()

	if !decided {
		// treat as nack with default backoff
		acked = false
		nackDelay = 0
	}

	if acked {
		if err := b.busRepo.Delete(ctx, tx, e.ID); err != nil {
			return false, fmt.Errorf("ack delete: %w", err)
		}
		if b.metrics != nil {
			b.metrics.EventsHandled.WithLabelValues(e.Kind, "ack").Inc()
		}
		return true, tx.Commit()
	}

	if e.Attempts+1 >= sub.maxAttempts {
		if err := b.deadLetter(ctx, tx, e, "max attempts exhausted"); err != nil {
			return false, err
		}
		return true, tx.Commit()
	}

	if nackDelay <= 0 {
		nackDelay = defaultBackoff(e.Attempts)
	}
	if err := b.busRepo.Defer(ctx, tx, e.ID, time.Now().Add(nackDelay)); err != nil {
		return false, fmt.Errorf("nack defer: %w", err)
	}
	if b.metrics != nil {
		b.metrics.EventsHandled.WithLabelValues(e.Kind, "nack").Inc()
	}
	return true, tx.Commit()
}

func (b *Bus) deadLetter(ctx context.Context, tx *sql.Tx, e *models.Event, reason string) error {
	d := &models.DeadLetter{
		ID:            uuid.New().String(),
		EventID:       e.ID,
		Kind:          e.Kind,
		CorrelationID: e.CorrelationID,
		Payload:       []byte(e.Payload),
		Attempts:      e.Attempts + 1,
		LastError:     reason,
	}
	if err := b.dlqRepo.Create(ctx, tx, d); err != nil {
		return fmt.Errorf("dead-letter insert: %w", err)
	}
	if err := b.busRepo.Delete(ctx, tx, e.ID); err != nil {
		return fmt.Errorf("dead-letter delete: %w", err)
	}
	if b.metrics != nil {
		b.metrics.DeadLetters.WithLabelValues(e.Kind).Inc()
	}
	slog.Error("Event dead-lettered",
		"event_id", e.ID, "kind", e.Kind, "correlation_id", e.CorrelationID,
		"attempts", d.Attempts, "reason", reason)
	return nil
}

// defaultBackoff is the bus-side fallback when a handler nacks with no
// delay: 1s, 2s, 4s, ... capped at one minute, with up to 25% jitter.
func defaultBackoff(attempt int) time.Duration {
	base := time.Second << uint(attempt)
	if base > time.Minute {
		base = time.Minute
	}
	jitter := time.Duration(rand.Int63n(int64(base) / 4))
	return base + jitter
}
