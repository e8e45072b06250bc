// Package prereq implements the PrerequisiteSet: a set of messages to be
// satisfied by matching outputs of other proxies (spec.md §3, §4.3).
package prereq

import "github.com/taskcycle/metasched/internal/output"

// Set is a mapping message -> satisfied-bit.
type Set struct {
	order   []string
	entries map[string]int
	state   []bool
}

// New returns an empty PrerequisiteSet.
func New() *Set {
	return &Set{entries: make(map[string]int)}
}

// Add registers a prerequisite message, initially unsatisfied.
func (s *Set) Add(message string) {
	if _, ok := s.entries[message]; ok {
		return
	}
	s.entries[message] = len(s.order)
	s.order = append(s.order, message)
	s.state = append(s.state, false)
}

// Remove deletes a prerequisite message, if present.
func (s *Set) Remove(message string) {
	idx, ok := s.entries[message]
	if !ok {
		return
	}
	s.order = append(s.order[:idx], s.order[idx+1:]...)
	s.state = append(s.state[:idx], s.state[idx+1:]...)
	delete(s.entries, message)
	for i := idx; i < len(s.order); i++ {
		s.entries[s.order[i]] = i
	}
}

// Exists reports whether message is a registered prerequisite.
func (s *Set) Exists(message string) bool {
	_, ok := s.entries[message]
	return ok
}

// IsCompleted reports whether message is registered and satisfied. Named to
// mirror OutputSet's vocabulary; "completed" here means "satisfied".
func (s *Set) IsCompleted(message string) bool {
	idx, ok := s.entries[message]
	return ok && s.state[idx]
}

// SetCompleted marks a prerequisite satisfied directly (used by SatisfyMe
// and by restoring a persisted snapshot).
func (s *Set) SetCompleted(message string) {
	if idx, ok := s.entries[message]; ok {
		s.state[idx] = true
	}
}

// Count returns the number of registered prerequisites.
func (s *Set) Count() int { return len(s.order) }

// CountCompleted returns the number of satisfied prerequisites.
func (s *Set) CountCompleted() int {
	n := 0
	for _, c := range s.state {
		if c {
			n++
		}
	}
	return n
}

// AllSatisfied reports whether every prerequisite is satisfied. An empty set
// is vacuously satisfied.
func (s *Set) AllSatisfied() bool {
	for _, c := range s.state {
		if !c {
			return false
		}
	}
	return true
}

// NotFullySatisfied is the disjunction: true iff at least one prerequisite
// remains unsatisfied.
func (s *Set) NotFullySatisfied() bool {
	return !s.AllSatisfied()
}

// SetAllSatisfied flips every bit to true (used on retry-delay expiry).
func (s *Set) SetAllSatisfied() {
	for i := range s.state {
		s.state[i] = true
	}
}

// SetAllUnsatisfied resets every bit to false.
func (s *Set) SetAllUnsatisfied() {
	for i := range s.state {
		s.state[i] = false
	}
}

// SatisfyMe scans other's completed outputs and flips to true each of this
// set's keys that equals one of them. It is idempotent: applying the same
// OutputSet twice yields the same bits (spec.md §8 property 6), since it
// only ever sets bits, never clears them.
//
// Short-circuits immediately when the set is empty (spec.md §9 open
// question: an unconditional no-op on an empty suicide-prerequisite set is
// indistinguishable from scanning zero keys, so no special case is needed
// beyond this early return).
func (s *Set) SatisfyMe(other *output.Set) {
	if len(s.order) == 0 || other == nil {
		return
	}
	for _, msg := range s.order {
		if other.IsCompleted(msg) {
			s.SetCompleted(msg)
		}
	}
}

// Messages returns the registered prerequisites in insertion order.
func (s *Set) Messages() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
