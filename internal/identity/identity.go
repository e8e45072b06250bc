// Package identity defines TaskIdentity, the (name, tag) pair that
// uniquely identifies a task proxy within a run (spec.md §3).
package identity

import (
	"fmt"
	"strings"

	"github.com/taskcycle/metasched/internal/tag"
)

// Identity is the (name, tag) pair. Globally unique within the run.
type Identity struct {
	Name string
	Tag  tag.Tag
}

// New builds an Identity.
func New(name string, t tag.Tag) Identity {
	return Identity{Name: name, Tag: t}
}

// Parse reverses String: "<name>%<tag>" reconstructs an Identity, for
// rebuilding a persisted snapshot's identity string on restart (spec.md §6).
func Parse(s string) (Identity, error) {
	name, tagStr, ok := strings.Cut(s, "%")
	if !ok {
		return Identity{}, fmt.Errorf("identity: parse %q: missing %%", s)
	}
	t, err := tag.Parse(tagStr)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: parse %q: %w", s, err)
	}
	return Identity{Name: name, Tag: t}, nil
}

// String renders "<name>%<tag>", the format used throughout the graph
// grammar and distinguished messages (spec.md §3, §4.7).
func (id Identity) String() string {
	return fmt.Sprintf("%s%%%s", id.Name, id.Tag.String())
}

// StartedMessage is the distinguished "<id> started" message.
func (id Identity) StartedMessage() string { return id.String() + " started" }

// SucceededMessage is the distinguished "<id> succeeded" message.
func (id Identity) SucceededMessage() string { return id.String() + " succeeded" }

// FailedMessage is the distinguished "<id> failed" message.
func (id Identity) FailedMessage() string { return id.String() + " failed" }

// FinishedOutput is the coarse default output used when a prerequisite
// statement names no specific output (spec.md §4.7 step 4):
// "<name>%<CYCLE_TIME> finished".
func (id Identity) FinishedOutput() string {
	return fmt.Sprintf("%s%%%s finished", id.Name, id.Tag.String())
}

// OutputMessage renders the message for a named output, or FinishedOutput
// when label is empty — the general form of spec.md §4.7 step 4's
// prerequisite-message construction for a NAME:OUTPUT graph reference.
func (id Identity) OutputMessage(label string) string {
	if label == "" {
		return id.FinishedOutput()
	}
	return fmt.Sprintf("%s%%%s %s", id.Name, id.Tag.String(), label)
}

// Equal reports whether two identities name the same task at the same tag.
func (id Identity) Equal(other Identity) bool {
	return id.Name == other.Name && id.Tag.Equal(other.Tag)
}
