package session

import "context"

// Store is the session storage contract. Implementations must treat Create
// as an overwrite of any pre-existing record (emitting a warning), return
// ErrSessionNotFound from Get for unknown IDs, and report Update on a
// missing session as a soft false rather than an error.
type Store interface {
	// Create stores a fresh session record, overwriting any existing one
	// with the same ID.
	Create(ctx context.Context, sessionID, userRequest string, contextData map[string]any, userID string) (*Session, error)
	// Get returns the session or ErrSessionNotFound.
	Get(ctx context.Context, sessionID string) (*Session, error)
	// Update applies the given fields and refreshes last_activity. It
	// reports false when the session does not exist.
	Update(ctx context.Context, sessionID string, u Update) (bool, error)
	// Delete removes the session, reporting whether it existed.
	Delete(ctx context.Context, sessionID string) (bool, error)
	// ActiveCount returns the number of stored sessions.
	ActiveCount(ctx context.Context) (int, error)
}
