// Package export ships finished spans and log records to an OTLP collector.
//
// A Batcher owns a bounded queue fed by many producers and drained by one
// background loop. A full queue evicts its oldest entry. Failed sends are
// retried a bounded number of times and then dropped; nothing here ever
// blocks a producer or returns an export failure to application code.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrShutdown is returned by ForceFlush and Shutdown once the batcher has
// been shut down.
var ErrShutdown = errors.New("export: batcher shut down")

// State is the lifecycle phase of a Batcher.
type State int32

const (
	StateOpen     State = iota // accepting, idle
	StateDraining              // a flush is in progress; still accepting
	StateShutDown              // rejects new items, no further export
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	case StateShutDown:
		return "shut_down"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Sender transmits one batch. Implementations must honor ctx.
type Sender[T any] interface {
	Send(ctx context.Context, batch []T) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc[T any] func(ctx context.Context, batch []T) error

// Send implements Sender.
func (f SenderFunc[T]) Send(ctx context.Context, batch []T) error { return f(ctx, batch) }

// NopSender accepts and discards every batch. Used when the collector is not
// configured, so the rest of the pipeline behaves normally. Batches it takes
// are counted as discarded, not exported.
type NopSender[T any] struct{}

// Send implements Sender.
func (NopSender[T]) Send(context.Context, []T) error { return nil }

// Config bounds a Batcher's memory and send behavior.
type Config struct {
	MaxQueue   int           // hard cap on queued items
	BatchSize  int           // items per send; reaching it wakes the loop
	Delay      time.Duration // max time between flushes
	Timeout    time.Duration // per-attempt send timeout
	MaxRetries int           // retries after the first attempt
	Backoff    time.Duration // attempt n waits n*Backoff
}

// DefaultConfig matches the OpenTelemetry batch span processor defaults,
// plus a small retry budget.
var DefaultConfig = Config{
	MaxQueue:   2048,
	BatchSize:  512,
	Delay:      5 * time.Second,
	Timeout:    10 * time.Second,
	MaxRetries: 3,
	Backoff:    500 * time.Millisecond,
}

func (c Config) withDefaults() Config {
	if c.MaxQueue <= 0 {
		c.MaxQueue = DefaultConfig.MaxQueue
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultConfig.BatchSize
	}
	c.BatchSize = min(c.BatchSize, c.MaxQueue)
	if c.Delay <= 0 {
		c.Delay = DefaultConfig.Delay
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultConfig.Timeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultConfig.MaxRetries
	}
	if c.Backoff < 0 {
		c.Backoff = DefaultConfig.Backoff
	}
	return c
}

// Stats is a point-in-time view of a Batcher.
type Stats struct {
	State     State `json:"state"`
	Queued    int   `json:"queued"`
	Exported  int64 `json:"exported"`
	Discarded int64 `json:"discarded"` // accepted while export is disabled
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed"`
}

// Batcher accumulates items and ships them through a Sender when either the
// batch size or the scheduled delay is reached.
type Batcher[T any] struct {
	name   string
	sender Sender[T]
	logger *slog.Logger
	cfg    Config

	mu       sync.Mutex
	queue    ring[T]
	state    State
	flushing int
	closing  bool

	// sendMu keeps the loop and ForceFlush from sending concurrently.
	sendMu sync.Mutex

	exported      atomic.Int64 // items acknowledged by the sender
	discarded     atomic.Int64 // items handed to a NopSender
	dropped       atomic.Int64 // items evicted from a full queue or discarded at shutdown
	failed        atomic.Int64 // batches given up on after retries
	reportedDrops atomic.Int64

	flushCh    chan struct{}
	done       chan struct{}
	cancelLoop context.CancelFunc
	drainCtx   context.Context // guarded by mu; set by Shutdown so the final flush respects its deadline
	drainErr   error           // written by flushLoop before done is closed
}

// NewBatcher creates a batcher named name (used in logs and metrics).
// Call Start to run the background loop.
func NewBatcher[T any](name string, sender Sender[T], cfg Config, logger *slog.Logger) *Batcher[T] {
	if logger == nil {
		logger = slog.Default()
	}
	if sender == nil {
		sender = NopSender[T]{}
	}
	cfg = cfg.withDefaults()
	return &Batcher[T]{
		name:    name,
		sender:  sender,
		logger:  logger,
		cfg:     cfg,
		queue:   newRing[T](cfg.MaxQueue),
		flushCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start begins the background flush loop and registers OTEL metrics.
// Call Shutdown to stop.
func (b *Batcher[T]) Start(ctx context.Context) {
	b.mu.Lock()
	if b.cancelLoop != nil || b.state == StateShutDown || b.closing {
		b.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancelLoop = cancel
	b.mu.Unlock()

	b.registerMetrics()
	go b.flushLoop(loopCtx)
}

// Enqueue adds item to the queue. A full queue evicts its oldest entry and
// counts it as dropped. Returns false only after shutdown.
func (b *Batcher[T]) Enqueue(item T) bool {
	b.mu.Lock()
	if b.state == StateShutDown {
		b.mu.Unlock()
		return false
	}
	evicted := b.queue.push(item)
	n := b.queue.len()
	b.mu.Unlock()

	if evicted {
		b.dropped.Add(1)
	}
	if n >= b.cfg.BatchSize {
		b.signal()
	}
	return true
}

func (b *Batcher[T]) signal() {
	select {
	case b.flushCh <- struct{}{}:
	default:
	}
}

func (b *Batcher[T]) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.Delay)
	defer ticker.Stop()

	// Background sends outlive loop cancellation; Shutdown bounds them
	// through its own context.
	sendCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			drainCtx := b.drainCtx
			b.mu.Unlock()
			if drainCtx != nil {
				b.drainErr = b.drain(drainCtx)
			} else {
				// Parent context cancelled without Shutdown.
				fallbackCtx, cancel := context.WithTimeout(context.Background(), b.cfg.Timeout)
				b.drainErr = b.drain(fallbackCtx)
				cancel()
			}
			close(b.done)
			return
		case <-ticker.C:
			b.flush(sendCtx, false)
		case <-b.flushCh:
			b.flush(sendCtx, true)
			ticker.Reset(b.cfg.Delay)
		}
	}
}

// flush sends one batch, then keeps going while full batches remain. With
// fullOnly set, a partial batch is left for the next tick.
func (b *Batcher[T]) flush(ctx context.Context, fullOnly bool) {
	b.beginFlush()
	defer b.endFlush()

	for {
		b.mu.Lock()
		n := b.queue.len()
		if n == 0 || (fullOnly && n < b.cfg.BatchSize) {
			b.mu.Unlock()
			break
		}
		batch := b.queue.take(b.cfg.BatchSize)
		b.mu.Unlock()

		_ = b.export(ctx, batch)
		fullOnly = true
	}
	b.reportDrops()
}

// drain sends everything queued, batch by batch, until the queue is empty or
// ctx is done. Returns the last send error, or ctx.Err().
func (b *Batcher[T]) drain(ctx context.Context) error {
	b.beginFlush()
	defer b.endFlush()
	defer b.reportDrops()

	var lastErr error
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.mu.Lock()
		batch := b.queue.take(b.cfg.BatchSize)
		b.mu.Unlock()
		if len(batch) == 0 {
			return lastErr
		}
		if err := b.export(ctx, batch); err != nil {
			lastErr = err
		}
	}
}

func (b *Batcher[T]) export(ctx context.Context, batch []T) error {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	start := time.Now()
	attempts, err := withLinearRetry(ctx, b.cfg.MaxRetries, b.cfg.Backoff, func(ctx context.Context) error {
		sendCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
		return b.sender.Send(sendCtx, batch)
	})
	if err != nil {
		b.failed.Add(1)
		b.logger.Warn("export: dropping batch after failed send",
			"exporter", b.name,
			"batch_size", len(batch),
			"attempts", attempts,
			"error", err,
		)
		return fmt.Errorf("export: send %s batch: %w", b.name, err)
	}
	if _, nop := b.sender.(NopSender[T]); nop {
		b.discarded.Add(int64(len(batch)))
		return nil
	}
	b.exported.Add(int64(len(batch)))
	b.logger.Debug("export: batch sent",
		"exporter", b.name,
		"batch_size", len(batch),
		"attempts", attempts,
		"send_duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (b *Batcher[T]) beginFlush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushing++
	if b.state == StateOpen {
		b.state = StateDraining
	}
}

func (b *Batcher[T]) endFlush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushing--
	if b.flushing == 0 && b.state == StateDraining {
		b.state = StateOpen
	}
}

// reportDrops logs evictions that happened since the last report.
func (b *Batcher[T]) reportDrops() {
	total := b.dropped.Load()
	prev := b.reportedDrops.Swap(total)
	if total > prev {
		b.logger.Warn("export: queue full, oldest items dropped",
			"exporter", b.name,
			"dropped", total-prev,
			"dropped_total", total,
		)
	}
}

// ForceFlush synchronously sends everything queued, bounded by ctx.
func (b *Batcher[T]) ForceFlush(ctx context.Context) error {
	b.mu.Lock()
	if b.state == StateShutDown {
		b.mu.Unlock()
		return ErrShutdown
	}
	b.mu.Unlock()
	return b.drain(ctx)
}

// Shutdown stops the background loop, performs a final flush bounded by ctx,
// and moves the batcher to StateShutDown. Items still queued when ctx
// expires are discarded and counted as dropped.
func (b *Batcher[T]) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.state == StateShutDown || b.closing {
		b.mu.Unlock()
		return ErrShutdown
	}
	b.closing = true
	b.drainCtx = ctx
	cancel := b.cancelLoop
	b.mu.Unlock()

	var err error
	if cancel != nil {
		cancel()
		select {
		case <-b.done:
			err = b.drainErr
		case <-ctx.Done():
			b.logger.Warn("export: shutdown timed out waiting for flush loop", "exporter", b.name)
			err = ctx.Err()
		}
	}
	// Items enqueued after the loop stopped on its own, or when it never ran.
	if b.Len() > 0 && ctx.Err() == nil {
		err = b.drain(ctx)
	}

	b.mu.Lock()
	b.state = StateShutDown
	if left := b.queue.len(); left > 0 {
		b.dropped.Add(int64(left))
		b.queue = newRing[T](b.cfg.MaxQueue)
	}
	b.mu.Unlock()
	b.reportDrops()
	return err
}

// Stats returns the current counters.
func (b *Batcher[T]) Stats() Stats {
	b.mu.Lock()
	st := Stats{State: b.state, Queued: b.queue.len()}
	b.mu.Unlock()
	st.Exported = b.exported.Load()
	st.Discarded = b.discarded.Load()
	st.Dropped = b.dropped.Load()
	st.Failed = b.failed.Load()
	return st
}

// Pending returns a copy of the queued items, oldest first.
func (b *Batcher[T]) Pending() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue.items()
}

// Len returns the number of queued items.
func (b *Batcher[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue.len()
}

// Name returns the name given to NewBatcher.
func (b *Batcher[T]) Name() string { return b.name }
