package batching

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/streamweaver-io/streamweaver/internal/events"
)

// Config controls burst coalescing for one session's stream.
type Config struct {
	Enabled       bool
	MaxBatchSize  int
	MaxBatchDelay time.Duration
	// ImmediateTypes bypass batching entirely: any pending batch is flushed
	// first and the event itself follows as a single frame.
	ImmediateTypes []events.Type
}

// DefaultConfig returns batching defaults with the terminal/critical event
// classes marked immediate.
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		MaxBatchSize:  10,
		MaxBatchDelay: 50 * time.Millisecond,
		ImmediateTypes: []events.Type{
			events.TypeWorkflowCompleted,
			events.TypeError,
			events.TypeWorkflowInterruption,
		},
	}
}

// Batcher coalesces one session's event bursts into single SSE frames,
// bounded by batch size and delay. It never mixes sessions. A batch is
// flushed when it fills, when the delay timer fires (handed to the
// OnBatchReady callback), or when an immediate-type event arrives.
type Batcher struct {
	sessionID    string
	cfg          Config
	immediate    map[events.Type]struct{}
	onBatchReady func(string) error
	logger       *zap.Logger

	mu     sync.Mutex
	batch  []events.Event
	timer  *time.Timer // at most one pending flush timer
	closed bool
}

// New creates a batcher for a session. onBatchReady receives timer-driven
// flush payloads; its errors are logged and dropped. The callback is invoked
// with the batcher's lock held, which keeps a timer delivery ordered ahead of
// any concurrently added events; it must not call back into the Batcher.
func New(sessionID string, cfg Config, onBatchReady func(string) error, logger *zap.Logger) *Batcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	immediate := make(map[events.Type]struct{}, len(cfg.ImmediateTypes))
	for _, t := range cfg.ImmediateTypes {
		immediate[t] = struct{}{}
	}
	return &Batcher{
		sessionID:    sessionID,
		cfg:          cfg,
		immediate:    immediate,
		onBatchReady: onBatchReady,
		logger:       logger,
	}
}

// Size returns the number of events in the pending batch.
func (b *Batcher) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batch)
}

// Add feeds an event through the batcher. The return value is "" when the
// event was deferred into the pending batch, otherwise a wire payload: the
// flushed batch, the event's own frame, or (for immediate types with a
// pending batch) their concatenation, batch first.
func (b *Batcher) Add(ev events.Event) string {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ""
	}

	if !b.cfg.Enabled {
		b.mu.Unlock()
		return ev.SSEFormat()
	}

	if _, ok := b.immediate[ev.Type]; ok {
		payload := b.flushLocked()
		b.mu.Unlock()
		return payload + ev.SSEFormat()
	}

	b.batch = append(b.batch, ev)
	if len(b.batch) == 1 {
		b.armTimerLocked()
	}
	if len(b.batch) >= b.cfg.MaxBatchSize {
		payload := b.flushLocked()
		b.mu.Unlock()
		return payload
	}
	b.mu.Unlock()
	return ""
}

// Flush forces out the pending batch, returning its payload ("" if empty).
func (b *Batcher) Flush() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked()
}

// Close flushes the pending batch and refuses further Add calls. It returns
// the final payload, "" if nothing was pending.
func (b *Batcher) Close() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return b.flushLocked()
}

// armTimerLocked starts the delay timer for a freshly started batch. Any
// prior never-fired timer is cancelled first so at most one is pending.
func (b *Batcher) armTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.cfg.MaxBatchDelay, b.timerFlush)
}

// timerFlush empties the expired batch and delivers it in one critical
// section. Releasing the lock between the two would let a size-triggered
// flush in Add reach the sink first and reorder delivery.
func (b *Batcher) timerFlush() {
	b.mu.Lock()
	payload := b.flushLocked()
	if payload == "" || b.onBatchReady == nil {
		b.mu.Unlock()
		return
	}
	err := b.onBatchReady(payload)
	b.mu.Unlock()
	if err != nil {
		b.logger.Error("Batch callback failed",
			zap.String("session_id", b.sessionID),
			zap.Error(err))
	}
}

func (b *Batcher) flushLocked() string {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.batch) == 0 {
		return ""
	}
	batch := b.batch
	b.batch = nil
	return formatBatch(batch)
}

// formatBatch renders a flushed batch: a single event keeps the per-event
// frame, multiple events become one batch frame carrying a JSON array and
// the last event's ID.
func formatBatch(batch []events.Event) string {
	if len(batch) == 1 {
		return batch[0].SSEFormat()
	}
	data, _ := json.Marshal(batch)
	return fmt.Sprintf("id: %s\nevent: batch\ndata: %s\n\n", batch[len(batch)-1].ID, data)
}

// Pool manages one batcher per session.
type Pool struct {
	mu       sync.Mutex
	batchers map[string]*Batcher
	cfg      Config
	logger   *zap.Logger
}

// NewPool creates a pool that hands out batchers with the given default
// config.
func NewPool(cfg Config, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		batchers: make(map[string]*Batcher),
		cfg:      cfg,
		logger:   logger,
	}
}

// GetOrCreate returns the session's batcher, creating it with the pool
// default config and the given callback on first use.
func (p *Pool) GetOrCreate(sessionID string, onBatchReady func(string) error) *Batcher {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.batchers[sessionID]
	if !ok {
		b = New(sessionID, p.cfg, onBatchReady, p.logger)
		p.batchers[sessionID] = b
	}
	return b
}

// Remove closes and removes the session's batcher, returning any final
// payload.
func (p *Pool) Remove(sessionID string) string {
	p.mu.Lock()
	b := p.batchers[sessionID]
	delete(p.batchers, sessionID)
	p.mu.Unlock()
	if b == nil {
		return ""
	}
	return b.Close()
}

// CloseAll closes every batcher in the pool.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.batchers {
		b.Close()
	}
	p.batchers = make(map[string]*Batcher)
}
