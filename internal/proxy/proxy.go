// Package proxy implements TaskProxy, the per-(task-name, cycle-tag)
// lifecycle object (spec.md §3, §4.5). It composes the clock, output,
// prereq, and statemachine packages with timers, a retry queue, and the
// hook/launcher collaborators.
package proxy

import (
	"context"
	"log/slog"
	"time"

	"github.com/taskcycle/metasched/internal/clock"
	"github.com/taskcycle/metasched/internal/coreerr"
	"github.com/taskcycle/metasched/internal/hooks"
	"github.com/taskcycle/metasched/internal/identity"
	"github.com/taskcycle/metasched/internal/launcher"
	"github.com/taskcycle/metasched/internal/message"
	"github.com/taskcycle/metasched/internal/output"
	"github.com/taskcycle/metasched/internal/prereq"
	"github.com/taskcycle/metasched/internal/statemachine"
	"github.com/taskcycle/metasched/internal/tag"
)

// SucceededBeforeOutputsReason is the failure reason text spec.md §4.4
// names verbatim for the succeeded-with-incomplete-outputs transition.
const SucceededBeforeOutputsReason = "succeeded before all outputs were completed"

// NextTagFunc advances a tag to the proxy's successor tag. With none set,
// Spawn increments an async tag and leaves a cycling tag unchanged;
// TaskDef.Materialize supplies one that advances a cycling tag to the next
// valid hour.
type NextTagFunc func(tag.Tag) tag.Tag

// ClassVars holds the per-TaskDef counters spec.md §9 calls "class-level
// counters and class variables": instance count and the mean-total-
// elapsed-time rolling state (§4.5.2). One instance is shared by every
// proxy spawned from the same TaskDef.
type ClassVars struct {
	Name               string
	InstanceCount      int
	elapsedSeconds     []int64
	MeanTotalElapsed    int64
}

// RecordElapsed appends a finish's elapsed seconds and recomputes the
// integer-seconds running mean.
func (c *ClassVars) RecordElapsed(seconds int64) {
	c.elapsedSeconds = append(c.elapsedSeconds, seconds)
	var sum int64
	for _, v := range c.elapsedSeconds {
		sum += v
	}
	c.MeanTotalElapsed = sum / int64(len(c.elapsedSeconds))
}

// HookConfig names the script path and the subset of events a proxy should
// fire hooks for (spec.md §6).
type HookConfig struct {
	ScriptPath string
	Events     map[hooks.Event]bool
}

func (h HookConfig) enabled(e hooks.Event) bool {
	if h.ScriptPath == "" {
		return false
	}
	return h.Events[e]
}

// Proxy is a TaskProxy: the live scheduler-side representation of a task
// at a specific tag.
type Proxy struct {
	Identity identity.Identity
	State    statemachine.State
	spawned  bool

	Prerequisites     *prereq.Set
	SuicidePrereqs    *prereq.Set
	Outputs           *output.Set

	Environment   map[string]string
	Command       string
	PreCommand    string
	PostCommand   string
	Directives    map[string]string
	LogFiles      []string
	Namespaces    []string
	SubmitMethod  string

	SubmittedTime time.Time
	StartedTime   time.Time
	SucceededTime time.Time

	submissionTimerStart time.Time
	executionTimerStart  time.Time
	retryDelayTimerStart time.Time
	submissionTimeout    time.Duration
	executionTimeout     time.Duration
	resetExecTimerOnMsg  bool

	TryNumber        int
	retryDelays      []float64 // minutes, FIFO
	activeRetryDelay float64   // the delay popped for the current retry_delayed period

	LatestMessage         string
	LatestMessagePriority message.Priority

	Hooks HookConfig

	Resurrectable bool
	OneOff        bool

	// ContactAt, when non-zero, gates readiness for contact/catchup_contact
	// tasks on clock >= cycle+offset (spec.md §4.6).
	ContactAt time.Time

	Handle     *launcher.Handle
	NextTagFn  NextTagFunc

	clock    clock.Clock
	class    *ClassVars
	launcher *launcher.ResilientRegistry
	hookRun  hooks.Runner
}

// Config bundles the collaborators and static parameters passed to New.
type Config struct {
	Clock      clock.Clock
	Class      *ClassVars
	Launcher   *launcher.ResilientRegistry
	HookRunner hooks.Runner
	NextTagFn  NextTagFunc
}

// New constructs a fresh TaskProxy in the waiting state with empty
// prerequisite/output/suicide sets. Callers populate those sets and the
// command/environment fields before handing the proxy to the manager.
func New(id identity.Identity, cfg Config) *Proxy {
	return &Proxy{
		Identity:       id,
		State:          statemachine.Waiting,
		Prerequisites:  prereq.New(),
		SuicidePrereqs: prereq.New(),
		Outputs:        output.New(),
		TryNumber:      1,
		clock:          cfg.Clock,
		class:          cfg.Class,
		launcher:       cfg.Launcher,
		hookRun:        cfg.HookRunner,
		NextTagFn:      cfg.NextTagFn,
	}
}

// Spawned reports the monotonic spawned bit. A one-off proxy always reads
// as spawned.
func (p *Proxy) Spawned() bool { return p.spawned || p.OneOff }

// Done reports succeeded && spawned (spec.md §4.5 done()).
func (p *Proxy) Done() bool { return p.State == statemachine.Succeeded && p.Spawned() }

// ReadyToRun reports true iff (state is queued, or waiting with all
// prerequisites satisfied) and no active unexpired retry delay.
func (p *Proxy) ReadyToRun() bool {
	if p.retryDelayActive() {
		return false
	}
	if !p.ContactAt.IsZero() && p.clock.Now().Before(p.ContactAt) {
		return false
	}

	switch p.State {
	case statemachine.Queued:
		return true
	case statemachine.Waiting:
		return p.Prerequisites.AllSatisfied()
	case statemachine.RetryDelayed:
		// retryDelayActive already returned false above, so the delay has
		// elapsed; the manager's tick performs the retry_delayed -> waiting
		// transition itself (spec.md §4.4), but readiness is observable a
		// tick earlier (spec.md §8 property 4).
		return true
	default:
		return false
	}
}

func (p *Proxy) retryDelayActive() bool {
	if p.State != statemachine.RetryDelayed {
		return false
	}
	return p.clock.Now().Sub(p.retryDelayTimerStart) < minutesToDuration(p.activeRetryDelay)
}

// SatisfyMe scans another proxy's completed outputs against this proxy's
// normal and suicide prerequisites.
func (p *Proxy) SatisfyMe(other *Proxy) {
	p.Prerequisites.SatisfyMe(other.Outputs)
	p.SuicidePrereqs.SatisfyMe(other.Outputs)
}

// SuicideTriggered reports whether the suicide prerequisites, if any are
// declared, are now all satisfied — the proxy should request its own
// retirement.
func (p *Proxy) SuicideTriggered() bool {
	return p.SuicidePrereqs.Count() > 0 && p.SuicidePrereqs.AllSatisfied()
}

// Submit constructs a fresh launcher handle and invokes it. On any error it
// sets submit_failed (failed state, not fatal for the suite, fires the
// submission_failed hook); on success it transitions to submitted and
// starts the submission timer.
func (p *Proxy) Submit(ctx context.Context, dryRun bool) error {
	if !statemachine.CanTransition(p.State, statemachine.Submitted) && p.State != statemachine.Queued {
		return &coreerr.IllegalTransition{Identity: p.Identity.String(), From: string(p.State), Event: "submit"}
	}
	params := p.launchParams()
	h, err := p.launcher.Submit(ctx, p.SubmitMethod, dryRun, params)
	if err != nil {
		p.State = statemachine.Failed
		slog.Warn("submission failed", "identity", p.Identity.String(), "error", err)
		p.fireHook(ctx, hooks.SubmissionFailed, err.Error())
		return &coreerr.SubmissionError{Identity: p.Identity.String(), Err: err}
	}
	p.Handle = &h
	p.State = statemachine.Submitted
	p.SubmittedTime = p.clock.Now()
	p.submissionTimerStart = p.clock.Now()
	p.fireHook(ctx, hooks.Submitted, "")
	return nil
}

func (p *Proxy) launchParams() launcher.Params {
	return launcher.Params{
		Identity:      p.Identity.String(),
		PreCommand:    p.PreCommand,
		MainCommand:   p.Command,
		PostCommand:   p.PostCommand,
		TryNumber:     p.TryNumber,
		Environment:   p.Environment,
		Namespaces:    p.Namespaces,
		Directives:    p.Directives,
		LogFiles:      p.LogFiles,
	}
}

// CheckSubmissionTimeout compares now against the submission timer plus
// the configured timeout. On overrun it logs, fires submission_timeout
// once, and nulls the timer to suppress repeats.
func (p *Proxy) CheckSubmissionTimeout(ctx context.Context) {
	if p.submissionTimerStart.IsZero() || p.submissionTimeout <= 0 {
		return
	}
	if p.clock.Now().Sub(p.submissionTimerStart) >= p.submissionTimeout {
		slog.Warn("submission timeout", "identity", p.Identity.String())
		p.fireHook(ctx, hooks.SubmissionTimeout, "")
		p.submissionTimerStart = time.Time{}
	}
}

// CheckExecutionTimeout is the running-phase analogue of
// CheckSubmissionTimeout.
func (p *Proxy) CheckExecutionTimeout(ctx context.Context) {
	if p.executionTimerStart.IsZero() || p.executionTimeout <= 0 {
		return
	}
	if p.clock.Now().Sub(p.executionTimerStart) >= p.executionTimeout {
		slog.Warn("execution timeout", "identity", p.Identity.String())
		p.fireHook(ctx, hooks.ExecutionTimeout, "")
		p.executionTimerStart = time.Time{}
	}
}

func (p *Proxy) fireHook(ctx context.Context, e hooks.Event, detail string) {
	if !p.Hooks.enabled(e) || p.hookRun == nil {
		return
	}
	p.hookRun.Fire(ctx, hooks.Call{
		Event:    e,
		Script:   p.Hooks.ScriptPath,
		Identity: p.Identity.String(),
		Message:  detail,
	})
}

// Spawn produces a successor proxy at NextTagFn(p.Identity.Tag), setting
// p's spawned bit. Fails with AlreadySpawned if called twice. One-off
// proxies (spec.md §4.6 modifier) never spawn — callers must not invoke
// Spawn on a one-off proxy; it returns AlreadySpawned defensively since a
// one-off's "has_spawned" is defined to read as permanently true.
func (p *Proxy) Spawn(cfg Config) (*Proxy, error) {
	if p.spawned || p.OneOff {
		return nil, &coreerr.AlreadySpawned{Identity: p.Identity.String()}
	}
	p.spawned = true
	nextTag := p.Identity.Tag
	if p.NextTagFn != nil {
		nextTag = p.NextTagFn(nextTag)
	} else if !nextTag.IsCycling() {
		nextTag = nextTag.NextSeq()
	}
	successor := New(identity.New(p.Identity.Name, nextTag), cfg)
	return successor, nil
}

// GetStateSummary returns a flat record for external monitors (spec.md
// §4.5 get_state_summary).
func (p *Proxy) GetStateSummary() StateSummary {
	var meanElapsed int64
	if p.class != nil {
		meanElapsed = p.class.MeanTotalElapsed
	}
	var etc time.Time
	if p.State == statemachine.Running && !p.StartedTime.IsZero() && meanElapsed > 0 {
		etc = p.StartedTime.Add(time.Duration(meanElapsed) * time.Second)
	}
	return StateSummary{
		Name:             p.Identity.Name,
		Tag:              p.Identity.Tag.String(),
		State:            p.State,
		OutputCount:      p.Outputs.Count(),
		OutputsCompleted: p.Outputs.CountCompleted(),
		Spawned:          p.Spawned(),
		LatestMessage:    p.LatestMessage,
		Submitted:        p.SubmittedTime,
		Started:          p.StartedTime,
		Succeeded:        p.SucceededTime,
		MeanTotalElapsed: meanElapsed,
		ETC:              etc,
		LogFiles:         p.LogFiles,
	}
}

// StateSummary is the flat, externally-published snapshot of one proxy.
type StateSummary struct {
	Name             string
	Tag              string
	State            statemachine.State
	OutputCount      int
	OutputsCompleted int
	Spawned          bool
	LatestMessage    string
	Submitted        time.Time
	Started          time.Time
	Succeeded        time.Time
	MeanTotalElapsed int64
	// ETC is the estimated time of completion, started time plus the
	// TaskDef class's mean total elapsed time; zero unless running and a
	// mean elapsed estimate is available (spec.md:113).
	ETC      time.Time
	LogFiles []string
}

func minutesToDuration(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}
