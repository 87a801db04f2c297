package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryCreateAndGet(t *testing.T) {
	store := NewMemoryStore(time.Hour, zap.NewNop())
	ctx := context.Background()

	created, err := store.Create(ctx, "sess-1", "summarize the report", map[string]any{"k": "v"}, "user-1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, created.Status)
	assert.Equal(t, "user-1", created.UserID)
	assert.NotZero(t, created.CreatedAt)

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "summarize the report", got.UserRequest)
	assert.Equal(t, map[string]any{"k": "v"}, got.Context)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryCreateOverwrites(t *testing.T) {
	store := NewMemoryStore(time.Hour, zap.NewNop())
	ctx := context.Background()

	_, err := store.Create(ctx, "sess-1", "first", nil, "")
	require.NoError(t, err)
	_, err = store.Create(ctx, "sess-1", "second", nil, "")
	require.NoError(t, err)

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "second", got.UserRequest)

	n, err := store.ActiveCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	store := NewMemoryStore(time.Hour, zap.NewNop())
	ctx := context.Background()

	_, err := store.Create(ctx, "sess-1", "req", nil, "")
	require.NoError(t, err)

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	got.Status = "mangled"

	again, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, again.Status)
}

func TestMemoryUpdate(t *testing.T) {
	store := NewMemoryStore(time.Hour, zap.NewNop())
	ctx := context.Background()

	created, err := store.Create(ctx, "sess-1", "req", nil, "")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	ok, err := store.Update(ctx, "sess-1", Update{
		Status:         String(StatusProcessing),
		CurrentStep:    String("planning"),
		TotalSteps:     Int(4),
		CompletedSteps: Int(1),
	})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)
	assert.Equal(t, "planning", got.CurrentStep)
	assert.Equal(t, 4, got.TotalSteps)
	assert.Equal(t, 1, got.CompletedSteps)
	assert.Greater(t, got.LastActivity, created.LastActivity)

	// missing session is a soft no-op
	ok, err = store.Update(ctx, "missing", Update{Status: String(StatusFailed)})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryDelete(t *testing.T) {
	store := NewMemoryStore(time.Hour, zap.NewNop())
	ctx := context.Background()

	_, err := store.Create(ctx, "sess-1", "req", nil, "")
	require.NoError(t, err)

	ok, err := store.Delete(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Delete(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemorySweeperExpiresIdleSessions(t *testing.T) {
	store := NewMemoryStore(50*time.Millisecond, zap.NewNop(),
		WithSweepInterval(20*time.Millisecond))
	store.Start()
	defer store.Close()

	ctx := context.Background()
	_, err := store.Create(ctx, "sess-1", "req", nil, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		n, err := store.ActiveCount(ctx)
		return err == nil && n == 0
	}, time.Second, 10*time.Millisecond)
}

func TestMemorySweeperKeepsActiveSessions(t *testing.T) {
	store := NewMemoryStore(time.Hour, zap.NewNop(),
		WithSweepInterval(10*time.Millisecond))
	store.Start()
	defer store.Close()

	ctx := context.Background()
	_, err := store.Create(ctx, "sess-1", "req", nil, "")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	n, err := store.ActiveCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryCloseIdempotent(t *testing.T) {
	store := NewMemoryStore(time.Hour, zap.NewNop())
	store.Start()
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}
