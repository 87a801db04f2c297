package filters

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/streamweaver-io/streamweaver/internal/events"
)

func ev(eventType events.Type, visibility events.Visibility) events.Event {
	return events.New(eventType, "s1", events.WithVisibility(visibility))
}

func TestVisibilityFilter(t *testing.T) {
	f := Visibility(events.VisibilityUserFacing)
	assert.True(t, f.Include(ev(events.TypeStepStarted, events.VisibilityUserFacing)))
	assert.False(t, f.Include(ev(events.TypeStepStarted, events.VisibilityInternalOnly)))
}

func TestTypeFilterIncludeExclude(t *testing.T) {
	include := Type(events.TypeHeartbeat)
	exclude := ExcludeType(events.TypeHeartbeat)

	hb := ev(events.TypeHeartbeat, events.VisibilityInternalOnly)
	step := ev(events.TypeStepStarted, events.VisibilityUserFacing)

	assert.True(t, include.Include(hb))
	assert.False(t, include.Include(step))
	assert.False(t, exclude.Include(hb))
	assert.True(t, exclude.Include(step))
}

func TestTypeFilterOpaqueStrings(t *testing.T) {
	f := Type(events.Type("custom_event"))
	assert.True(t, f.Include(events.New("custom_event", "s1")))
	assert.False(t, f.Include(events.New("other", "s1")))
}

func TestSessionFilter(t *testing.T) {
	f := Session("s1", "s2")
	assert.True(t, f.Include(events.New(events.TypeError, "s1")))
	assert.False(t, f.Include(events.New(events.TypeError, "s3")))
	assert.False(t, ExcludeSession("s1").Include(events.New(events.TypeError, "s1")))
}

func TestComposites(t *testing.T) {
	userFacingStep := And(UserFacing, Type(events.TypeStepStarted))
	assert.True(t, userFacingStep.Include(ev(events.TypeStepStarted, events.VisibilityUserFacing)))
	assert.False(t, userFacingStep.Include(ev(events.TypeStepStarted, events.VisibilityModelOnly)))
	assert.False(t, userFacingStep.Include(ev(events.TypeError, events.VisibilityUserFacing)))

	either := Or(Type(events.TypeError), Type(events.TypeHeartbeat))
	assert.True(t, either.Include(ev(events.TypeError, events.VisibilityUserFacing)))
	assert.True(t, either.Include(ev(events.TypeHeartbeat, events.VisibilityInternalOnly)))
	assert.False(t, either.Include(ev(events.TypeStepStarted, events.VisibilityUserFacing)))
}

func TestCompositionLaws(t *testing.T) {
	samples := []events.Event{
		ev(events.TypeHeartbeat, events.VisibilityInternalOnly),
		ev(events.TypeStepStarted, events.VisibilityUserFacing),
		ev(events.TypeError, events.VisibilityModelOnly),
		ev(events.TypeReasoningChunk, events.VisibilityLiveUIOnly),
	}

	f := Type(events.TypeHeartbeat, events.TypeError)
	g := Visibility(events.VisibilityInternalOnly, events.VisibilityModelOnly)

	for _, sample := range samples {
		// double negation
		assert.Equal(t, f.Include(sample), Not(Not(f)).Include(sample))
		// AND commutes on decision
		assert.Equal(t, And(f, g).Include(sample), And(g, f).Include(sample))
		// exclude == not(include)
		assert.Equal(t,
			ExcludeType(events.TypeHeartbeat, events.TypeError).Include(sample),
			Not(f).Include(sample))
	}
}

func TestShortCircuit(t *testing.T) {
	calls := 0
	counting := Func(func(events.Event) bool {
		calls++
		return true
	})

	And(Func(func(events.Event) bool { return false }), counting).
		Include(ev(events.TypeStepStarted, events.VisibilityUserFacing))
	assert.Equal(t, 0, calls, "AND must stop at first false")

	Or(Func(func(events.Event) bool { return true }), counting).
		Include(ev(events.TypeStepStarted, events.VisibilityUserFacing))
	assert.Equal(t, 0, calls, "OR must stop at first true")
}

func TestPrebuilt(t *testing.T) {
	assert.True(t, LiveUI.Include(ev(events.TypeReasoningChunk, events.VisibilityLiveUIOnly)))
	assert.True(t, LiveUI.Include(ev(events.TypeAgentMessage, events.VisibilityUserFacing)))
	assert.False(t, LiveUI.Include(ev(events.TypeHeartbeat, events.VisibilityInternalOnly)))

	assert.False(t, NoHeartbeat.Include(ev(events.TypeHeartbeat, events.VisibilityInternalOnly)))

	assert.True(t, ProgressOnly.Include(ev(events.TypeWorkflowCompleted, events.VisibilityUserFacing)))
	assert.False(t, ProgressOnly.Include(ev(events.TypeTokenChunk, events.VisibilityLiveUIOnly)))
}

func TestApply(t *testing.T) {
	evs := []events.Event{
		ev(events.TypeHeartbeat, events.VisibilityInternalOnly),
		ev(events.TypeStepStarted, events.VisibilityUserFacing),
	}
	assert.Len(t, Apply(evs, nil), 2)
	got := Apply(evs, NoHeartbeat)
	assert.Len(t, got, 1)
	assert.Equal(t, events.TypeStepStarted, got[0].Type)
}
