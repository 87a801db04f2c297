package replay

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/streamweaver-io/streamweaver/internal/events"
)

func ev(id string) events.Event {
	return events.New(events.TypeStepProgress, "s1", events.WithID(id))
}

func TestRetentionAndOrder(t *testing.T) {
	b := NewBuffer(3)
	for i := 1; i <= 5; i++ {
		b.Add(ev(fmt.Sprintf("e%d", i)))
	}

	// capacity 3, 5 inserts: the 3 most recent remain, in insertion order
	all := b.All()
	require.Len(t, all, 3)
	assert.Equal(t, "e3", all[0].ID)
	assert.Equal(t, "e4", all[1].ID)
	assert.Equal(t, "e5", all[2].ID)
	assert.Equal(t, "e5", b.LatestEventID())
}

func TestEventsAfter(t *testing.T) {
	b := NewBuffer(10)
	for i := 1; i <= 6; i++ {
		b.Add(ev(fmt.Sprintf("e%d", i)))
	}

	after := b.EventsAfter("e2")
	require.Len(t, after, 4)
	for i, want := range []string{"e3", "e4", "e5", "e6"} {
		assert.Equal(t, want, after[i].ID)
	}

	assert.Empty(t, b.EventsAfter("e6"))
	assert.Nil(t, b.EventsAfter("never-seen"))
}

func TestEventsAfterEvictedID(t *testing.T) {
	b := NewBuffer(3)
	for i := 1; i <= 5; i++ {
		b.Add(ev(fmt.Sprintf("e%d", i)))
	}
	// e1 was evicted together with its index entry
	assert.Nil(t, b.EventsAfter("e1"))
}

func TestClearKeepsPositionCounter(t *testing.T) {
	b := NewBuffer(5)
	b.Add(ev("a"))
	b.Add(ev("b"))
	require.Equal(t, 2, b.Clear())
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, "", b.LatestEventID())

	// re-adding an ID seen before the clear must not resurrect old ordering
	b.Add(ev("c"))
	b.Add(ev("d"))
	after := b.EventsAfter("c")
	require.Len(t, after, 1)
	assert.Equal(t, "d", after[0].ID)
}

func TestSessionBuffers(t *testing.T) {
	s := NewSessionBuffers(3, zap.NewNop())

	s.Add("s1", ev("a"))
	s.Add("s1", ev("b"))
	s.Add("s2", ev("x"))

	assert.Equal(t, 2, s.SessionCount())
	assert.Equal(t, "b", s.LatestEventID("s1"))

	after := s.EventsAfter("s1", "a")
	require.Len(t, after, 1)
	assert.Equal(t, "b", after[0].ID)

	assert.Nil(t, s.EventsAfter("missing-session", "a"))

	size, maxSize := s.Stats("s1")
	assert.Equal(t, 2, size)
	assert.Equal(t, 3, maxSize)

	assert.Equal(t, 2, s.ClearSession("s1"))
	assert.Equal(t, 1, s.SessionCount())
	assert.Equal(t, 0, s.ClearSession("s1"))

	size, maxSize = s.Stats("s1")
	assert.Equal(t, 0, size)
	assert.Equal(t, 3, maxSize)
}
