// Package taskdef implements TaskDef, the compiled per-task template
// (spec.md §3, §4.6) from which TaskProxy instances are materialized.
package taskdef

import (
	"fmt"
	"sort"
	"time"

	"github.com/taskcycle/metasched/internal/hooks"
	"github.com/taskcycle/metasched/internal/identity"
	"github.com/taskcycle/metasched/internal/proxy"
	"github.com/taskcycle/metasched/internal/statemachine"
	"github.com/taskcycle/metasched/internal/tag"
)

// Kind is the TaskDef's type (spec.md §3).
type Kind string

const (
	Free   Kind = "free"
	Tied   Kind = "tied"
	Family Kind = "family"
)

// Modifier is one of the behavioral modifiers a TaskDef may carry.
type Modifier string

const (
	OneOff         Modifier = "oneoff"
	Sequential     Modifier = "sequential"
	Catchup        Modifier = "catchup"
	Contact        Modifier = "contact"
	CatchupContact Modifier = "catchup_contact"
)

// PrereqTemplate names a prerequisite by the task and (optionally) named
// output it refers to, the hours it applies at, and the intercycle hour
// Offset (<=0) carried by a NAME(T-N) graph reference (spec.md §4.7).
type PrereqTemplate struct {
	TaskName string
	Output   string // "" => coarse "finished" default
	Offset   int    // hours, always <= 0
	Hours    map[int]bool
}

// OutputTemplate registers a named output this TaskDef's own proxies
// produce, at the hours it applies.
type OutputTemplate struct {
	Label string
	Hours map[int]bool
}

// TaskDef is the immutable compiled template. Created once during suite
// load by the DependencyCompiler.
type TaskDef struct {
	Name        string
	Description string
	Kind        Kind
	Modifiers   map[Modifier]bool

	ValidHours map[int]bool

	Prerequisites         []PrereqTemplate
	ColdstartPrereqs      []PrereqTemplate
	Outputs               []OutputTemplate

	FamilyMembers []string
	MemberOf      string

	Intercycle    bool
	ContactOffset time.Duration

	NRestartOutputs int

	SubmitMethod string
	Command      string
	PreCommand   string
	PostCommand  string
	Environment  map[string]string
	Directives   map[string]string
	Namespaces   []string

	RetryDelays []float64 // minutes

	Resurrectable bool
	HoldAtStartup bool

	HookScriptPath string
	HookEvents     map[string]bool

	SubmissionTimeout time.Duration
	ExecutionTimeout  time.Duration
	ResetExecTimerOnIncoming bool

	class *proxy.ClassVars
}

// New returns a minimal TaskDef with defaults — used by the compiler when
// a task is referenced only from the graph with no explicit definition
// (spec.md §4.6 invariant: never silently drop an edge).
func New(name string) *TaskDef {
	return &TaskDef{
		Name:       name,
		Kind:       Free,
		Modifiers:  make(map[Modifier]bool),
		ValidHours: make(map[int]bool),
		class:      &proxy.ClassVars{Name: name},
	}
}

// Class returns the shared per-TaskDef class variables (instance count,
// mean-total-elapsed-time) every proxy spawned from this def references.
func (d *TaskDef) Class() *proxy.ClassVars { return d.class }

// HasModifier reports whether m is set.
func (d *TaskDef) HasModifier(m Modifier) bool { return d.Modifiers[m] }

// ValidAtHour reports whether the task runs at the given hour-of-day.
func (d *TaskDef) ValidAtHour(hour int) bool {
	if len(d.ValidHours) == 0 {
		return true
	}
	return d.ValidHours[hour]
}

// Materialize is the get_task_class() factory: given a tag, whether this
// is the startup cycle, and the proxy collaborators, it produces a
// fully-initialized TaskProxy.
func (d *TaskDef) Materialize(t tag.Tag, startup bool, cfg proxy.Config) *proxy.Proxy {
	cfg.Class = d.class
	id := identity.New(d.Name, t)
	p := proxy.New(id, cfg)

	d.class.InstanceCount++

	p.Command = d.Command
	p.PreCommand = d.PreCommand
	p.PostCommand = d.PostCommand
	p.Environment = d.Environment
	p.Directives = d.Directives
	p.Namespaces = d.Namespaces
	p.SubmitMethod = d.SubmitMethod
	p.Resurrectable = d.Resurrectable
	p.SetRetryDelays(d.RetryDelays)
	p.Timeouts(d.SubmissionTimeout, d.ExecutionTimeout, d.ResetExecTimerOnIncoming)
	p.Hooks = proxy.HookConfig{ScriptPath: d.HookScriptPath, Events: hookEventSet(d.HookEvents)}

	hour := t.Time().Hour()
	for _, pt := range d.Prerequisites {
		if t.IsCycling() && !pt.Hours[hour] {
			continue
		}
		p.Prerequisites.Add(prereqMessage(pt, t))
	}
	if startup {
		for _, pt := range d.ColdstartPrereqs {
			if t.IsCycling() && !pt.Hours[hour] {
				continue
			}
			p.Prerequisites.Add(prereqMessage(pt, t))
		}
	}
	for _, ot := range d.Outputs {
		if t.IsCycling() && !ot.Hours[hour] {
			continue
		}
		p.Outputs.Add(id.OutputMessage(ot.Label), false)
	}
	p.Outputs.Add(id.StartedMessage(), false)
	p.Outputs.Add(id.SucceededMessage(), false)

	// sequential: a prerequisite on the previous-cycle instance of the
	// same task having succeeded (spec.md §4.6). The first async instance
	// (seq 0) has no previous instance at all, so it gets none — adding
	// one would be a self-referential prerequisite that can never satisfy.
	if d.HasModifier(Sequential) && (t.IsCycling() || t.Seq() > 0) {
		prevTag := t
		if t.IsCycling() {
			prevTag = t.AddHours(-hoursPerCycle(d))
		} else {
			prevTag = tag.Async(t.Seq() - 1)
		}
		prevID := identity.New(d.Name, prevTag)
		p.Prerequisites.Add(prevID.SucceededMessage())
	}

	if d.HasModifier(OneOff) {
		p.OneOff = true
	}

	if (d.HasModifier(Contact) || d.HasModifier(CatchupContact)) && t.IsCycling() {
		p.ContactAt = t.Time().Add(d.ContactOffset)
	}

	if d.Kind == Tied && d.NRestartOutputs > 0 {
		next := t
		if t.IsCycling() {
			next = t.AddHours(hoursPerCycle(d))
		}
		for i := 1; i <= d.NRestartOutputs; i++ {
			msg := fmt.Sprintf("%s restart files ready for %s", id.String(), next.String())
			p.Outputs.Add(msg, false)
		}
	}

	p.NextTagFn = func(cur tag.Tag) tag.Tag {
		if cur.IsCycling() {
			return nextValidHour(d, cur)
		}
		return cur.NextSeq()
	}

	if startup && d.HoldAtStartup {
		p.State = statemachine.Held
	}

	return p
}

// prereqMessage resolves a PrereqTemplate against the materializing
// proxy's own tag: an Offset<0 shifts the referenced task's tag back
// (the intercycle case), and Output selects the named output or falls
// back to the coarse "finished" default (spec.md §4.7 step 4).
func prereqMessage(pt PrereqTemplate, t tag.Tag) string {
	targetTag := t
	if pt.Offset != 0 && t.IsCycling() {
		targetTag = t.AddHours(pt.Offset)
	}
	return identity.New(pt.TaskName, targetTag).OutputMessage(pt.Output)
}

func hookEventSet(names map[string]bool) map[hooks.Event]bool {
	out := make(map[hooks.Event]bool, len(names))
	for k, v := range names {
		out[hooks.Event(k)] = v
	}
	return out
}

// hoursPerCycle returns the gap, in hours, between consecutive cycles of
// a cycling TaskDef: the minimum spacing between its sorted valid hours,
// wrapping through midnight. A single valid hour (e.g. a daily task at
// {0}) cycles every 24h.
func hoursPerCycle(d *TaskDef) int {
	if len(d.ValidHours) == 0 {
		return 1
	}
	hours := make([]int, 0, len(d.ValidHours))
	for h := range d.ValidHours {
		hours = append(hours, h)
	}
	sort.Ints(hours)
	if len(hours) == 1 {
		return 24
	}
	gap := hours[0] + 24 - hours[len(hours)-1]
	for i := 1; i < len(hours); i++ {
		if step := hours[i] - hours[i-1]; step < gap {
			gap = step
		}
	}
	return gap
}

// nextValidHour advances a cycling tag to the next hour named in the
// TaskDef's valid-hours set, wrapping to the next day if necessary.
func nextValidHour(d *TaskDef, cur tag.Tag) tag.Tag {
	if len(d.ValidHours) == 0 {
		return cur.AddHours(1)
	}
	for i := 1; i <= 24; i++ {
		candidate := cur.AddHours(i)
		if d.ValidHours[candidate.Time().Hour()] {
			return candidate
		}
	}
	return cur.AddHours(24)
}
