// Package statemachine defines the TaskProxy lifecycle states and legal
// transitions (spec.md §3 TaskState, §4.4).
package statemachine

// State is one of the lifecycle states a TaskProxy may occupy.
type State string

const (
	Waiting      State = "waiting"
	Queued       State = "queued"
	Submitted    State = "submitted"
	Running      State = "running"
	Succeeded    State = "succeeded"
	Failed       State = "failed"
	RetryDelayed State = "retry_delayed"
	Held         State = "held"
)

// legal is the adjacency of admissible (from, to) pairs driven by the
// events in spec.md §4.4's transition table. Operator resets (any -> one of
// waiting/succeeded/failed/held) are handled separately since they are
// directed, not event-driven, and are always admissible.
var legal = map[State]map[State]bool{
	Waiting:      {Queued: true, Submitted: true},
	Queued:       {Submitted: true, Failed: true},
	Submitted:    {Running: true},
	Running:      {Succeeded: true, Failed: true, RetryDelayed: true},
	RetryDelayed: {Waiting: true},
	Succeeded:    {},
	Failed:       {},
	Held:         {},
}

// CanTransition reports whether moving from one state to another is
// admissible under the ordinary event-driven transition table.
func CanTransition(from, to State) bool {
	targets, ok := legal[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminalForRetirement reports whether a state is terminal for the
// purposes of the retirement sweep (spec.md §4.4): succeeded, or failed
// with no retries remaining. The "no retries remaining" half of that
// condition is a property of the proxy (its retry queue), not of the state
// alone, so callers combine this with TaskProxy.Done()/retry-queue state.
func IsTerminalForRetirement(s State) bool {
	return s == Succeeded || s == Failed
}

// Valid reports whether s is one of the eight defined states.
func Valid(s State) bool {
	switch s {
	case Waiting, Queued, Submitted, Running, Succeeded, Failed, RetryDelayed, Held:
		return true
	}
	return false
}
