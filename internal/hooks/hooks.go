// Package hooks implements the fire-and-forget hook-script collaborator
// of spec.md §6: for each lifecycle event a suite may declare a script
// path, invoked with (event, suite, identity, message) and never awaited.
package hooks

import (
	"context"
	"log/slog"
	"os/exec"
)

// Event is one of the nine hook-dispatch points named in spec.md §6.
type Event string

const (
	Submitted         Event = "submitted"
	Started           Event = "started"
	Succeeded         Event = "succeeded"
	Failed            Event = "failed"
	SubmissionFailed  Event = "submission_failed"
	Warning           Event = "warning"
	Retry             Event = "retry"
	SubmissionTimeout Event = "submission_timeout"
	ExecutionTimeout  Event = "execution_timeout"
)

// Call describes one hook invocation.
type Call struct {
	Event    Event
	Script   string
	Identity string
	Message  string
}

// Runner fires a hook script. The scheduler never awaits it (spec.md §5:
// "the scheduler does not block on hook scripts").
type Runner interface {
	Fire(ctx context.Context, c Call)
}

// ProcessRunner runs the hook script as a detached subprocess, the way the
// teacher's plugin executors shell out with os/exec, but without waiting
// for the result — a hook script could itself try to control the suite and
// would deadlock the scheduler if awaited.
type ProcessRunner struct {
	SuiteName string
}

// Fire launches the script in a new goroutine and returns immediately.
func (r ProcessRunner) Fire(ctx context.Context, c Call) {
	if c.Script == "" {
		return
	}
	go func() {
		cmd := exec.Command(c.Script, string(c.Event), r.SuiteName, c.Identity, c.Message)
		if err := cmd.Run(); err != nil {
			slog.Warn("hook script failed", "event", c.Event, "identity", c.Identity, "error", err)
		}
	}()
}

// NoopRunner discards every hook call; the run command uses it when no task
// declares a hook script path, and tests use it when they don't care about
// hook dispatch.
type NoopRunner struct{}

func (NoopRunner) Fire(context.Context, Call) {}
