package filters

import (
	"github.com/streamweaver-io/streamweaver/internal/events"
)

// Filter is a pure predicate over events. Filters must be side-effect free:
// the same event passed twice yields the same decision.
type Filter interface {
	Include(ev events.Event) bool
}

type visibilityFilter struct {
	set map[events.Visibility]struct{}
}

// Visibility keeps events whose visibility is in the given set.
func Visibility(vis ...events.Visibility) Filter {
	set := make(map[events.Visibility]struct{}, len(vis))
	for _, v := range vis {
		set[v] = struct{}{}
	}
	return visibilityFilter{set: set}
}

func (f visibilityFilter) Include(ev events.Event) bool {
	_, ok := f.set[ev.Visibility]
	return ok
}

type typeFilter struct {
	set     map[events.Type]struct{}
	include bool
}

// Type keeps events whose type is in the given set. Opaque string types
// compare verbatim.
func Type(types ...events.Type) Filter { return newTypeFilter(true, types) }

// ExcludeType drops events whose type is in the given set; equivalent to
// Not(Type(...)).
func ExcludeType(types ...events.Type) Filter { return newTypeFilter(false, types) }

func newTypeFilter(include bool, types []events.Type) Filter {
	set := make(map[events.Type]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return typeFilter{set: set, include: include}
}

func (f typeFilter) Include(ev events.Event) bool {
	_, ok := f.set[ev.Type]
	return ok == f.include
}

type sessionFilter struct {
	set     map[string]struct{}
	include bool
}

// Session keeps events belonging to the given sessions.
func Session(sessionIDs ...string) Filter { return newSessionFilter(true, sessionIDs) }

// ExcludeSession drops events belonging to the given sessions.
func ExcludeSession(sessionIDs ...string) Filter { return newSessionFilter(false, sessionIDs) }

func newSessionFilter(include bool, ids []string) Filter {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return sessionFilter{set: set, include: include}
}

func (f sessionFilter) Include(ev events.Event) bool {
	_, ok := f.set[ev.SessionID]
	return ok == f.include
}

type funcFilter func(events.Event) bool

// Func adapts a predicate function into a Filter.
func Func(predicate func(events.Event) bool) Filter { return funcFilter(predicate) }

func (f funcFilter) Include(ev events.Event) bool { return f(ev) }

type andFilter []Filter

// And keeps events accepted by every child; evaluation short-circuits on the
// first rejection.
func And(children ...Filter) Filter { return andFilter(children) }

func (f andFilter) Include(ev events.Event) bool {
	for _, c := range f {
		if !c.Include(ev) {
			return false
		}
	}
	return true
}

type orFilter []Filter

// Or keeps events accepted by any child; evaluation short-circuits on the
// first acceptance.
func Or(children ...Filter) Filter { return orFilter(children) }

func (f orFilter) Include(ev events.Event) bool {
	for _, c := range f {
		if c.Include(ev) {
			return true
		}
	}
	return false
}

type notFilter struct {
	inner Filter
}

// Not inverts a filter's decision.
func Not(inner Filter) Filter { return notFilter{inner: inner} }

func (f notFilter) Include(ev events.Event) bool { return !f.inner.Include(ev) }

// Pre-built filters for the common projections.
var (
	// UserFacing keeps only user_facing events.
	UserFacing = Visibility(events.VisibilityUserFacing)
	// LiveUI keeps user_facing and live_ui_only events.
	LiveUI = Visibility(events.VisibilityUserFacing, events.VisibilityLiveUIOnly)
	// NoHeartbeat drops heartbeat events.
	NoHeartbeat = ExcludeType(events.TypeHeartbeat)
	// ProgressOnly keeps the workflow/step progress lifecycle events.
	ProgressOnly = Type(
		events.TypeWorkflowStarted,
		events.TypeStepStarted,
		events.TypeStepProgress,
		events.TypeStepCompleted,
		events.TypeWorkflowCompleted,
	)
)

// Apply filters a slice of events; a nil filter includes everything.
func Apply(evs []events.Event, f Filter) []events.Event {
	if f == nil {
		return evs
	}
	out := make([]events.Event, 0, len(evs))
	for _, ev := range evs {
		if f.Include(ev) {
			out = append(out, ev)
		}
	}
	return out
}
