package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryStore is the in-memory reference Store for development and testing.
// A background sweeper deletes sessions whose last activity is older than
// the configured timeout.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	timeout       time.Duration
	sweepInterval time.Duration
	logger        *zap.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// MemoryOption tweaks MemoryStore construction.
type MemoryOption func(*MemoryStore)

// WithSweepInterval overrides the default 300s sweeper interval.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(m *MemoryStore) { m.sweepInterval = d }
}

// NewMemoryStore creates an in-memory store with the given idle timeout.
func NewMemoryStore(timeout time.Duration, logger *zap.Logger, opts ...MemoryOption) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &MemoryStore{
		sessions:      make(map[string]*Session),
		timeout:       timeout,
		sweepInterval: 300 * time.Second,
		logger:        logger,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the expiry sweeper. Call Close to stop it.
func (m *MemoryStore) Start() {
	go m.sweep()
	m.logger.Info("In-memory session store initialized")
}

// Close stops the sweeper. Idempotent.
func (m *MemoryStore) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	return nil
}

func (m *MemoryStore) sweep() {
	defer close(m.done)
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweepExpired()
		}
	}
}

func (m *MemoryStore) sweepExpired() {
	cutoff := nowSeconds() - m.timeout.Seconds()

	m.mu.Lock()
	var expired []string
	for id, s := range m.sessions {
		if s.LastActivity < cutoff {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if len(expired) > 0 {
		m.logger.Info("Cleaned up expired sessions", zap.Int("count", len(expired)))
	}
}

// Create stores a fresh session, overwriting any existing record.
func (m *MemoryStore) Create(ctx context.Context, sessionID, userRequest string, contextData map[string]any, userID string) (*Session, error) {
	if contextData == nil {
		contextData = map[string]any{}
	}
	now := nowSeconds()
	s := &Session{
		SessionID:    sessionID,
		UserRequest:  userRequest,
		Context:      contextData,
		CreatedAt:    now,
		LastActivity: now,
		Status:       StatusActive,
		UserID:       userID,
	}

	m.mu.Lock()
	if _, exists := m.sessions[sessionID]; exists {
		m.logger.Warn("Session already exists, overwriting", zap.String("session_id", sessionID))
	}
	m.sessions[sessionID] = s
	m.mu.Unlock()

	m.logger.Info("Created session", zap.String("session_id", sessionID))
	copied := *s
	return &copied, nil
}

// Get returns a copy of the session or ErrSessionNotFound.
func (m *MemoryStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := *s
	return &copied, nil
}

// Update applies fields and refreshes last_activity; false when missing.
func (m *MemoryStore) Update(ctx context.Context, sessionID string, u Update) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.logger.Debug("Session not found for update", zap.String("session_id", sessionID))
		return false, nil
	}
	u.apply(s)
	return true, nil
}

// Delete removes the session, reporting whether it existed.
func (m *MemoryStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	_, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if ok {
		m.logger.Info("Deleted session", zap.String("session_id", sessionID))
	}
	return ok, nil
}

// ActiveCount returns the number of stored sessions.
func (m *MemoryStore) ActiveCount(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}
