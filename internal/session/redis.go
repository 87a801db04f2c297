package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultKeyPrefix is the namespace for session keys in Redis.
const DefaultKeyPrefix = "streamweaver:session:"

// RedisStore is the Redis-backed Store for multi-process deployments.
// Sessions are stored as JSON values with a native TTL, so idle expiry needs
// no sweeper.
type RedisStore struct {
	client    redis.UniversalClient
	timeout   time.Duration
	keyPrefix string
	logger    *zap.Logger
}

// RedisOption tweaks RedisStore construction.
type RedisOption func(*RedisStore)

// WithKeyPrefix overrides the default session key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisStore) { r.keyPrefix = prefix }
}

// NewRedisStore creates a Redis-backed store with the given idle timeout.
func NewRedisStore(client redis.UniversalClient, timeout time.Duration, logger *zap.Logger, opts ...RedisOption) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &RedisStore{
		client:    client,
		timeout:   timeout,
		keyPrefix: DefaultKeyPrefix,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ping verifies connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	return nil
}

func (r *RedisStore) key(sessionID string) string {
	return r.keyPrefix + sessionID
}

// Create stores a fresh session with the configured TTL, overwriting any
// existing record.
func (r *RedisStore) Create(ctx context.Context, sessionID, userRequest string, contextData map[string]any, userID string) (*Session, error) {
	if contextData == nil {
		contextData = map[string]any{}
	}

	key := r.key(sessionID)
	if exists, err := r.client.Exists(ctx, key).Result(); err == nil && exists > 0 {
		r.logger.Warn("Session already exists, overwriting", zap.String("session_id", sessionID))
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
	if err := r.save(ctx, key, s, r.timeout); err != nil {
		return nil, err
	}

	r.logger.Info("Created session", zap.String("session_id", sessionID))
	return s, nil
}

// Get returns the session or ErrSessionNotFound.
func (r *RedisStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &s, nil
}

// Update applies fields and refreshes last_activity, preserving the key's
// remaining TTL. Missing sessions report a soft false.
func (r *RedisStore) Update(ctx context.Context, sessionID string, u Update) (bool, error) {
	key := r.key(sessionID)
	s, err := r.Get(ctx, sessionID)
	if err == ErrSessionNotFound {
		r.logger.Debug("Session not found for update", zap.String("session_id", sessionID))
		return false, nil
	} else if err != nil {
		return false, err
	}

	u.apply(s)

	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		ttl = r.timeout
	}
	if err := r.save(ctx, key, s, ttl); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the session, reporting whether it existed.
func (r *RedisStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.client.Del(ctx, r.key(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	if n > 0 {
		r.logger.Info("Deleted session", zap.String("session_id", sessionID))
	}
	return n > 0, nil
}

// ActiveCount scans the key namespace and counts sessions.
func (r *RedisStore) ActiveCount(ctx context.Context) (int, error) {
	count := 0
	iter := r.client.Scan(ctx, 0, r.keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scan sessions: %w", err)
	}
	return count, nil
}

// SessionIDs lists all stored session IDs.
func (r *RedisStore) SessionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := r.client.Scan(ctx, 0, r.keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(r.keyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}
	return ids, nil
}

// Extend resets the session's TTL to the given duration (the configured
// timeout when zero), reporting whether the session existed.
func (r *RedisStore) Extend(ctx context.Context, sessionID string, d time.Duration) (bool, error) {
	if d <= 0 {
		d = r.timeout
	}
	ok, err := r.client.Expire(ctx, r.key(sessionID), d).Result()
	if err != nil {
		return false, fmt.Errorf("extend session: %w", err)
	}
	return ok, nil
}

// Close releases the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) save(ctx context.Context, key string, s *Session, ttl time.Duration) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
