package streaming

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/streamweaver-io/streamweaver/internal/backpressure"
	"github.com/streamweaver-io/streamweaver/internal/batching"
	"github.com/streamweaver-io/streamweaver/internal/events"
	"github.com/streamweaver-io/streamweaver/internal/filters"
	"github.com/streamweaver-io/streamweaver/internal/metrics"
	"github.com/streamweaver-io/streamweaver/internal/replay"
	"github.com/streamweaver-io/streamweaver/internal/session"
)

// SupersededMessage is carried by the interruption event injected when a new
// subscriber replaces an existing one.
const SupersededMessage = "Stream has been superseded by a new connection"

// Config controls per-session queue, replay, heartbeat, and batching behavior.
type Config struct {
	QueueSize          int
	BackpressurePolicy backpressure.Policy
	EnableReplay       bool
	EventBufferSize    int
	EnableHeartbeat    bool
	HeartbeatInterval  time.Duration
	// GetTimeout bounds each queue read so a cancelled subscriber is noticed
	// even on an idle stream.
	GetTimeout time.Duration
	Batching   batching.Config
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:          1000,
		BackpressurePolicy: backpressure.DropOldest,
		EnableReplay:       true,
		EventBufferSize:    100,
		EnableHeartbeat:    true,
		HeartbeatInterval:  30 * time.Second,
		GetTimeout:         15 * time.Second,
		Batching:           batching.DefaultConfig(),
	}
}

// heartbeatSuppressThreshold: no heartbeat is enqueued while the queue holds
// more pending events than this.
const heartbeatSuppressThreshold = 5

// subscriber tracks one live stream loop so a superseding subscription can
// supplant it and so scope exit only removes its own state.
type subscriber struct {
	queue  *backpressure.Queue
	cancel context.CancelFunc
}

// Engine produces each session's output sequence by fusing four sources:
// an optional replay prefix, an initial connect event, the live queue drain,
// and periodic heartbeats, projected through an optional filter.
type Engine struct {
	cfg    Config
	store  session.Store
	logger *zap.Logger

	buffers *replay.SessionBuffers

	mu        sync.Mutex
	queues    map[string]*backpressure.Queue
	subs      map[string]*subscriber
	callbacks map[string]func(events.Event) error
}

// NewEngine creates a stream engine over the given session store.
func NewEngine(cfg Config, store session.Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		store:     store,
		logger:    logger,
		buffers:   replay.NewSessionBuffers(cfg.EventBufferSize, logger),
		queues:    make(map[string]*backpressure.Queue),
		subs:      make(map[string]*subscriber),
		callbacks: make(map[string]func(events.Event) error),
	}
}

// QueueStats is a point-in-time snapshot of one session's queue.
type QueueStats struct {
	Exists  bool  `json:"exists"`
	Size    int   `json:"size"`
	MaxSize int   `json:"maxSize"`
	Dropped int64 `json:"dropped"`
	Full    bool  `json:"full"`
}

// Publish records the event in the replay buffer, runs the session callback
// if one is registered, and enqueues onto the session queue (created lazily).
// It reports whether the queue accepted the event; false means a backpressure
// drop. On acceptance the session's last_activity and current_step are
// refreshed.
func (e *Engine) Publish(ctx context.Context, ev events.Event) (bool, error) {
	start := time.Now()
	defer func() { metrics.PublishDuration.Observe(time.Since(start).Seconds()) }()

	if e.cfg.EnableReplay {
		e.buffers.Add(ev.SessionID, ev)
	}

	e.mu.Lock()
	cb := e.callbacks[ev.SessionID]
	q := e.getOrCreateQueueLocked(ev.SessionID)
	e.mu.Unlock()

	if cb != nil {
		if err := cb(ev); err != nil {
			metrics.Errors.WithLabelValues("callback").Inc()
			e.logger.Error("Event callback failed",
				zap.String("session_id", ev.SessionID),
				zap.String("event_type", string(ev.Type)),
				zap.Error(err))
		}
	}

	accepted, err := q.Put(ctx, ev)
	if err != nil {
		return false, err
	}

	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	metrics.QueueDepth.WithLabelValues(ev.SessionID).Set(float64(q.Len()))
	if !accepted {
		metrics.EventsDropped.WithLabelValues(string(e.cfg.BackpressurePolicy)).Inc()
		e.logger.Warn("Event dropped by backpressure",
			zap.String("session_id", ev.SessionID),
			zap.String("event_type", string(ev.Type)))
		return false, nil
	}

	if _, err := e.store.Update(ctx, ev.SessionID, session.Update{
		CurrentStep: session.String(ev.Message),
	}); err != nil {
		e.logger.Warn("Session activity update failed",
			zap.String("session_id", ev.SessionID), zap.Error(err))
	}
	return true, nil
}

// Stream returns the session's wire payload sequence. The channel is closed
// when the stream terminates: after a workflow_completed or
// workflow_interruption event, or when ctx is cancelled. Starting a second
// stream for the same session supersedes the first, which terminates with an
// interruption event.
func (e *Engine) Stream(ctx context.Context, sessionID, lastEventID string, f filters.Filter) <-chan string {
	out := make(chan string, 16)
	streamCtx, cancel := context.WithCancel(ctx)

	go e.run(streamCtx, cancel, out, sessionID, lastEventID, f)
	return out
}

func (e *Engine) run(ctx context.Context, cancel context.CancelFunc, out chan string, sessionID, lastEventID string, f filters.Filter) {
	defer cancel()

	snd := newSender(ctx, out)
	defer snd.close()

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	// 1. Replay prefix.
	replayed := 0
	if lastEventID != "" && e.cfg.EnableReplay {
		for _, ev := range e.buffers.EventsAfter(sessionID, lastEventID) {
			replayed++
			if f == nil || f.Include(ev) {
				snd.send(ev.SSEFormat())
			}
		}
		if replayed > 0 {
			metrics.EventsReplayed.Add(float64(replayed))
			e.logger.Info("Replayed events to subscriber",
				zap.String("session_id", sessionID),
				zap.Int("count", replayed))
		}
	}

	// 2. Install this subscriber, superseding any previous one for the
	// session. The old loop is unblocked by a sentinel interruption event in
	// its own queue and exits on reading it.
	sub := &subscriber{cancel: cancel}
	e.mu.Lock()
	if _, ok := e.subs[sessionID]; ok {
		e.supersedeLocked(sessionID)
	}
	sub.queue = e.getOrCreateQueueLocked(sessionID)
	e.subs[sessionID] = sub
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		if e.subs[sessionID] == sub {
			delete(e.subs, sessionID)
		}
		if e.queues[sessionID] == sub.queue {
			delete(e.queues, sessionID)
		}
		e.mu.Unlock()
		e.logger.Debug("Stream closed", zap.String("session_id", sessionID))
	}()

	// 3. Synthesized connect event when nothing was replayed.
	if replayed == 0 {
		connect := events.New(events.TypeWorkflowStarted, sessionID,
			events.WithMessage("Connected to stream"))
		if f == nil || f.Include(connect) {
			snd.send(connect.SSEFormat())
		}
	}

	// 4. Heartbeats share the session queue so the loop has one source.
	if e.cfg.EnableHeartbeat {
		go e.heartbeat(ctx, sessionID, sub.queue)
	}

	batcher := batching.New(sessionID, e.cfg.Batching, func(payload string) error {
		snd.send(payload)
		return nil
	}, e.logger)
	defer func() {
		if payload := batcher.Close(); payload != "" {
			snd.send(payload)
		}
	}()

	// 5. Live drain.
	for {
		ev, err := sub.queue.Get(ctx, e.cfg.GetTimeout)
		switch {
		case err == nil:
		case errors.Is(err, backpressure.ErrTimeout):
			continue
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return
		default:
			metrics.Errors.WithLabelValues("stream").Inc()
			e.logger.Error("Stream queue error",
				zap.String("session_id", sessionID), zap.Error(err))
			fail := events.New(events.TypeError, sessionID,
				events.WithMessage("Stream error: "+err.Error()),
				events.WithSuccess(false))
			snd.send(fail.SSEFormat())
			continue
		}

		if ev.Type == events.TypeWorkflowCompleted || ev.Type == events.TypeWorkflowInterruption {
			// terminal events bypass batching and filtering so the client
			// always observes a clean end-of-stream
			if payload := batcher.Flush(); payload != "" {
				snd.send(payload)
			}
			snd.send(ev.SSEFormat())
			return
		}

		if f != nil && !f.Include(ev) {
			continue
		}
		if payload := batcher.Add(ev); payload != "" {
			snd.send(payload)
		}
	}
}

// heartbeat enqueues an internal_only heartbeat event on each interval unless
// the queue already has a backlog.
func (e *Engine) heartbeat(ctx context.Context, sessionID string, q *backpressure.Queue) {
	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()

	sequence := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if q.Len() > heartbeatSuppressThreshold {
			continue
		}
		sequence++
		hb := events.New(events.TypeHeartbeat, sessionID,
			events.WithMessage("Heartbeat"),
			events.WithVisibility(events.VisibilityInternalOnly),
			events.WithData(events.HeartbeatData(sequence)))
		if _, err := q.Put(ctx, hb); err != nil {
			return
		}
		metrics.HeartbeatsSent.Inc()
	}
}

// Cancel stops the session's active subscriber, reporting whether one existed.
func (e *Engine) Cancel(sessionID string) bool {
	e.mu.Lock()
	sub := e.subs[sessionID]
	e.mu.Unlock()
	if sub == nil {
		return false
	}
	sub.cancel()
	return true
}

// CleanupQueue removes the session's queue and replay buffer. A sentinel
// interruption event is enqueued first so any reader blocked in Get wakes
// promptly and terminates.
func (e *Engine) CleanupQueue(ctx context.Context, sessionID string) {
	e.mu.Lock()
	e.supersedeLocked(sessionID)
	e.mu.Unlock()

	if e.cfg.EnableReplay {
		if n := e.buffers.ClearSession(sessionID); n > 0 {
			e.logger.Debug("Cleared replay buffer",
				zap.String("session_id", sessionID), zap.Int("events", n))
		}
	}
	metrics.QueueDepth.DeleteLabelValues(sessionID)
}

// supersedeLocked detaches the session's current queue after injecting the
// interruption sentinel, which terminates any reader cleanly. When the
// sentinel cannot be enqueued the old subscriber is cancelled outright so it
// never hangs on a detached queue. Callers hold e.mu.
func (e *Engine) supersedeLocked(sessionID string) {
	q, ok := e.queues[sessionID]
	if !ok {
		return
	}
	delete(e.queues, sessionID)

	interruption := events.New(events.TypeWorkflowInterruption, sessionID,
		events.WithMessage(SupersededMessage),
		events.WithSuccess(false))

	// bounded wait: the sentinel must not wedge the caller when the old
	// queue is full under the Block policy
	putCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if accepted, err := q.Put(putCtx, interruption); err != nil || !accepted {
		e.logger.Warn("Interruption sentinel not enqueued",
			zap.String("session_id", sessionID), zap.Error(err))
		if sub := e.subs[sessionID]; sub != nil {
			sub.cancel()
		}
	}
}

// EnsureQueue pre-creates the session's queue so events published before the
// first subscriber attaches are retained.
func (e *Engine) EnsureQueue(sessionID string) {
	e.mu.Lock()
	e.getOrCreateQueueLocked(sessionID)
	e.mu.Unlock()
}

func (e *Engine) getOrCreateQueueLocked(sessionID string) *backpressure.Queue {
	q, ok := e.queues[sessionID]
	if !ok {
		q = backpressure.New(e.cfg.QueueSize, e.cfg.BackpressurePolicy)
		e.queues[sessionID] = q
		e.logger.Debug("Created event queue", zap.String("session_id", sessionID))
	}
	return q
}

// ReplayEvents returns the session's buffered events newer than lastEventID,
// or nil when the ID is unknown.
func (e *Engine) ReplayEvents(sessionID, lastEventID string) []events.Event {
	if !e.cfg.EnableReplay {
		return nil
	}
	return e.buffers.EventsAfter(sessionID, lastEventID)
}

// RegisterCallback installs a per-session callback invoked synchronously on
// each publish, before enqueue. Errors are logged and do not abort the
// publish.
func (e *Engine) RegisterCallback(sessionID string, cb func(events.Event) error) {
	e.mu.Lock()
	e.callbacks[sessionID] = cb
	e.mu.Unlock()
}

// UnregisterCallback removes the session's publish callback.
func (e *Engine) UnregisterCallback(sessionID string) {
	e.mu.Lock()
	delete(e.callbacks, sessionID)
	e.mu.Unlock()
}

// QueueStats snapshots the session's queue.
func (e *Engine) QueueStats(sessionID string) QueueStats {
	e.mu.Lock()
	q := e.queues[sessionID]
	e.mu.Unlock()
	if q == nil {
		return QueueStats{MaxSize: e.cfg.QueueSize}
	}
	return QueueStats{
		Exists:  true,
		Size:    q.Len(),
		MaxSize: q.MaxSize(),
		Dropped: q.DroppedCount(),
		Full:    q.Full(),
	}
}

// ActiveSubscribers returns the number of sessions with a live stream loop.
func (e *Engine) ActiveSubscribers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// HasSubscriber reports whether the session has a live stream loop.
func (e *Engine) HasSubscriber(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.subs[sessionID]
	return ok
}

// Shutdown cancels every active subscriber.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	subs := make([]*subscriber, 0, len(e.subs))
	for _, sub := range e.subs {
		subs = append(subs, sub)
	}
	e.mu.Unlock()
	for _, sub := range subs {
		sub.cancel()
	}
}

// sender serializes payload delivery onto the output channel across the
// stream loop and the batcher's timer goroutine, and makes channel close safe
// against a concurrent timer flush.
type sender struct {
	ctx context.Context
	out chan string

	mu     sync.Mutex
	closed bool
}

func newSender(ctx context.Context, out chan string) *sender {
	return &sender{ctx: ctx, out: out}
}

func (s *sender) send(payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- payload:
	case <-s.ctx.Done():
	}
}

func (s *sender) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}
