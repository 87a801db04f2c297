package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/streamweaver-io/streamweaver/internal/backpressure"
	"github.com/streamweaver-io/streamweaver/internal/batching"
	"github.com/streamweaver-io/streamweaver/internal/events"
	"github.com/streamweaver-io/streamweaver/internal/filters"
	"github.com/streamweaver-io/streamweaver/internal/metrics"
	"github.com/streamweaver-io/streamweaver/internal/session"
	"github.com/streamweaver-io/streamweaver/internal/streaming"
)

// Config carries every tunable of the service. Zero values are not usable;
// start from DefaultConfig.
type Config struct {
	SessionTimeout       time.Duration       `mapstructure:"session_timeout"`
	MaxConcurrentStreams int                 `mapstructure:"max_concurrent_streams"`
	EnableHeartbeat      bool                `mapstructure:"enable_heartbeat"`
	HeartbeatInterval    time.Duration       `mapstructure:"heartbeat_interval"`
	QueueSize            int                 `mapstructure:"queue_size"`
	BackpressurePolicy   backpressure.Policy `mapstructure:"backpressure_policy"`
	EnableReplay         bool                `mapstructure:"enable_replay"`
	EventBufferSize      int                 `mapstructure:"event_buffer_size"`
	EnableBatching       bool                `mapstructure:"enable_batching"`
	BatchSize            int                 `mapstructure:"batch_size"`
	BatchDelay           time.Duration       `mapstructure:"batch_delay_ms"`
	EnableMetrics        bool                `mapstructure:"enable_metrics"`
	EnableCompression    bool                `mapstructure:"enable_compression"`
	CompressionThreshold int                 `mapstructure:"compression_threshold"`
	SweepInterval        time.Duration       `mapstructure:"sweep_interval"`
}

// DefaultConfig returns the service defaults.
func DefaultConfig() Config {
	return Config{
		SessionTimeout:       3600 * time.Second,
		MaxConcurrentStreams: 1000,
		EnableHeartbeat:      true,
		HeartbeatInterval:    30 * time.Second,
		QueueSize:            1000,
		BackpressurePolicy:   backpressure.DropOldest,
		EnableReplay:         true,
		EventBufferSize:      100,
		EnableBatching:       false,
		BatchSize:            10,
		BatchDelay:           50 * time.Millisecond,
		EnableMetrics:        false,
		EnableCompression:    false,
		CompressionThreshold: 1024,
		SweepInterval:        300 * time.Second,
	}
}

func (c Config) engineConfig() streaming.Config {
	b := batching.DefaultConfig()
	b.Enabled = c.EnableBatching
	b.MaxBatchSize = c.BatchSize
	b.MaxBatchDelay = c.BatchDelay
	return streaming.Config{
		QueueSize:          c.QueueSize,
		BackpressurePolicy: c.BackpressurePolicy,
		EnableReplay:       c.EnableReplay,
		EventBufferSize:    c.EventBufferSize,
		EnableHeartbeat:    c.EnableHeartbeat,
		HeartbeatInterval:  c.HeartbeatInterval,
		GetTimeout:         15 * time.Second,
		Batching:           b,
	}
}

// lifecycle hooks a Store may implement beyond the base contract.
type starter interface{ Start() }
type pinger interface {
	Ping(ctx context.Context) error
}
type closer interface{ Close() error }

// StreamWeaver is the facade tying the session store and the stream engine
// together behind one surface for transports and embedding applications.
type StreamWeaver struct {
	cfg    Config
	store  session.Store
	engine *streaming.Engine
	logger *zap.Logger

	mu          sync.Mutex
	initialized bool
	shutdown    bool
}

// New assembles the service over the given store.
func New(cfg Config, store session.Store, logger *zap.Logger) *StreamWeaver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamWeaver{
		cfg:    cfg,
		store:  store,
		engine: streaming.NewEngine(cfg.engineConfig(), store, logger),
		logger: logger,
	}
}

// Config returns the service configuration.
func (s *StreamWeaver) Config() Config { return s.cfg }

// Engine exposes the stream engine for transport adapters.
func (s *StreamWeaver) Engine() *streaming.Engine { return s.engine }

// Initialize starts the session store (verifying connectivity for remote
// backends and launching the expiry sweeper for local ones). Idempotent
// within a lifecycle.
func (s *StreamWeaver) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}

	if p, ok := s.store.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("initialize session store: %w", err)
		}
	}
	if st, ok := s.store.(starter); ok {
		st.Start()
	}

	s.initialized = true
	s.logger.Info("StreamWeaver initialized",
		zap.Int("max_concurrent_streams", s.cfg.MaxConcurrentStreams),
		zap.Bool("replay", s.cfg.EnableReplay),
		zap.Bool("batching", s.cfg.EnableBatching))
	return nil
}

// RegisterSession creates the session record, overwriting any existing one
// with the same id, and pre-creates its event queue.
func (s *StreamWeaver) RegisterSession(ctx context.Context, sessionID, userRequest string, contextData map[string]any, userID string) (*session.Session, error) {
	sess, err := s.store.Create(ctx, sessionID, userRequest, contextData, userID)
	if err != nil {
		return nil, fmt.Errorf("register session: %w", err)
	}
	s.engine.EnsureQueue(sessionID)
	metrics.SessionsCreated.Inc()
	return sess, nil
}

// GetSession returns the session or session.ErrSessionNotFound.
func (s *StreamWeaver) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	return s.store.Get(ctx, sessionID)
}

// Publish constructs an event and pushes it into the session's stream. The
// returned bool is false when backpressure dropped the event.
func (s *StreamWeaver) Publish(ctx context.Context, sessionID string, eventType events.Type, opts ...events.Option) (bool, error) {
	ev := events.New(eventType, sessionID, opts...)
	return s.engine.Publish(ctx, ev)
}

// Subscribe opens the session's payload stream. Unknown sessions fail with
// session.ErrSessionNotFound. lastEventID resumes from the replay buffer; a
// nil filter delivers everything.
func (s *StreamWeaver) Subscribe(ctx context.Context, sessionID, lastEventID string, f filters.Filter) (<-chan string, error) {
	if _, err := s.store.Get(ctx, sessionID); err != nil {
		return nil, err
	}

	reconnection := "false"
	if lastEventID != "" {
		reconnection = "true"
	}
	metrics.StreamConnections.WithLabelValues(reconnection).Inc()

	s.logger.Info("Subscriber connected",
		zap.String("session_id", sessionID),
		zap.String("reconnection", reconnection))
	return s.engine.Stream(ctx, sessionID, lastEventID, f), nil
}

// RegisterEventCallback installs a per-session hook invoked on each publish
// before enqueue. Callback failures are logged and never abort the publish.
func (s *StreamWeaver) RegisterEventCallback(sessionID string, cb func(events.Event) error) {
	s.engine.RegisterCallback(sessionID, cb)
}

// CheckCapacity reports whether a new session fits under the admission
// ceiling.
func (s *StreamWeaver) CheckCapacity(ctx context.Context) (bool, error) {
	n, err := s.store.ActiveCount(ctx)
	if err != nil {
		return false, fmt.Errorf("check capacity: %w", err)
	}
	return n < s.cfg.MaxConcurrentStreams, nil
}

// CloseStream tears down the session: terminates the active subscriber via
// an interruption event, marks the session completed, removes its queue,
// callback, and replay buffer, and deletes the record. Idempotent.
func (s *StreamWeaver) CloseStream(ctx context.Context, sessionID, reason string) error {
	if _, err := s.store.Update(ctx, sessionID, session.Update{
		Status: session.String(session.StatusCompleted),
	}); err != nil {
		return fmt.Errorf("close stream: %w", err)
	}

	s.engine.CleanupQueue(ctx, sessionID)
	s.engine.UnregisterCallback(sessionID)

	deleted, err := s.store.Delete(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("close stream: %w", err)
	}
	if deleted {
		metrics.SessionsClosed.Inc()
		s.logger.Info("Stream closed",
			zap.String("session_id", sessionID),
			zap.String("reason", reason))
	}
	return nil
}

// CleanupSessionResources drops the session's queue, callback, and replay
// buffer without touching the session record. Used when a workflow hands a
// session back for later reuse.
func (s *StreamWeaver) CleanupSessionResources(ctx context.Context, sessionID string) {
	s.engine.CleanupQueue(ctx, sessionID)
	s.engine.UnregisterCallback(sessionID)
}

// ReplayEvents returns the buffered events newer than lastEventID, nil when
// the ID is unknown.
func (s *StreamWeaver) ReplayEvents(sessionID, lastEventID string) []events.Event {
	return s.engine.ReplayEvents(sessionID, lastEventID)
}

// QueueStats snapshots the session's queue.
func (s *StreamWeaver) QueueStats(sessionID string) streaming.QueueStats {
	return s.engine.QueueStats(sessionID)
}

// Shutdown cancels all subscribers and stops the store. Idempotent.
func (s *StreamWeaver) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	s.engine.Shutdown()
	if c, ok := s.store.(closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("shutdown session store: %w", err)
		}
	}
	s.logger.Info("StreamWeaver shut down")
	return nil
}
