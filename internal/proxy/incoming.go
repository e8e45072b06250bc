package proxy

import (
	"context"
	"log/slog"

	"github.com/taskcycle/metasched/internal/hooks"
	"github.com/taskcycle/metasched/internal/message"
	"github.com/taskcycle/metasched/internal/statemachine"
)

// StateChanged is a single global flag raised by any message that mutates
// scheduling-relevant state (spec.md §5, §4.9). The scheduler clears it at
// the start of each tick; a tick may still run on a timer even when unset.
var StateChanged bool

// Incoming is the message-absorption function. Its ordering is strict and
// load-bearing (spec.md §4.5.1): the warning hook fires first, before a
// failed-state drop and before the state-changed flag is raised; the flag
// is raised before every other hook fires.
func (p *Proxy) Incoming(ctx context.Context, priority message.Priority, msg string) {
	// 1. WARNING priority with a hook configured fires the warning hook
	// regardless of what else happens to this message.
	if priority == message.Warning {
		p.fireHook(ctx, hooks.Warning, msg)
	}

	// 2. A failed, non-resurrectable proxy drops every further message.
	if p.State == statemachine.Failed && !p.Resurrectable {
		slog.Info("dropping message to failed proxy", "identity", p.Identity.String(), "message", msg)
		return
	}

	// 3. Restart the execution timer if so configured.
	if p.resetExecTimerOnMsg {
		p.executionTimerStart = p.clock.Now()
	}

	// 4. Record latest message and raise the global state-changed flag.
	p.LatestMessage = msg
	p.LatestMessagePriority = priority
	StateChanged = true

	// 5. The distinguished "started" message transitions to running.
	if msg == p.Identity.StartedMessage() {
		p.State = statemachine.Running
		p.StartedTime = p.clock.Now()
		p.fireHook(ctx, hooks.Started, msg)
	}

	// 6. Anything else arriving while not running is logged but still
	// processed for output matching below.
	if p.State != statemachine.Running {
		slog.Warn("UNEXPECTED MESSAGE", "identity", p.Identity.String(), "message", msg, "state", p.State)
	}

	// 7. The distinguished "failed" message pops the retry queue.
	if msg == p.Identity.FailedMessage() {
		p.handleFailedMessage(ctx)
		return
	}

	// 8/9/10. Output matching.
	p.matchOutput(ctx, priority, msg)
}

// handleFailedMessage implements step 7: pop the next retry delay; if one
// exists, enter retry_delayed and fire the retry hook; otherwise record
// the failed output, transition to failed, and fire the failed hook.
func (p *Proxy) handleFailedMessage(ctx context.Context) {
	if len(p.retryDelays) > 0 {
		p.activeRetryDelay = p.retryDelays[0]
		p.retryDelays = p.retryDelays[1:]
		p.State = statemachine.RetryDelayed
		p.retryDelayTimerStart = p.clock.Now()
		p.TryNumber++
		p.Prerequisites.SetAllSatisfied()
		p.Outputs.SetAllIncomplete()
		p.fireHook(ctx, hooks.Retry, "")
		return
	}
	p.Outputs.Add(p.Identity.FailedMessage(), true)
	p.State = statemachine.Failed
	slog.Error("task failed, no retries remaining", "identity", p.Identity.String())
	p.fireHook(ctx, hooks.Failed, "")
}

// matchOutput implements steps 8-10: an output match completes it (with
// the succeeded-specific bookkeeping of §4.5.2), an already-completed
// match logs UNEXPECTED OUTPUT, and anything else is logged verbatim.
func (p *Proxy) matchOutput(ctx context.Context, priority message.Priority, msg string) {
	if p.Outputs.Exists(msg) {
		if !p.Outputs.IsCompleted(msg) {
			_ = p.Outputs.SetCompleted(msg)
			if msg == p.Identity.SucceededMessage() {
				p.onSucceededMessage(ctx)
			}
			return
		}
		slog.Warn("UNEXPECTED OUTPUT", "identity", p.Identity.String(), "message", msg)
		return
	}
	slog.Log(ctx, priorityLevel(priority), "*"+msg, "identity", p.Identity.String())
}

func (p *Proxy) onSucceededMessage(ctx context.Context) {
	p.SucceededTime = p.clock.Now()
	if p.class != nil && !p.StartedTime.IsZero() {
		p.class.RecordElapsed(int64(p.SucceededTime.Sub(p.StartedTime).Seconds()))
	}
	if p.Outputs.AllCompleted() {
		p.State = statemachine.Succeeded
		p.fireHook(ctx, hooks.Succeeded, "")
		return
	}
	p.State = statemachine.Failed
	slog.Error(SucceededBeforeOutputsReason, "identity", p.Identity.String())
	p.fireHook(ctx, hooks.Failed, SucceededBeforeOutputsReason)
}

func priorityLevel(p message.Priority) slog.Level {
	switch p {
	case message.Debug:
		return slog.LevelDebug
	case message.Warning:
		return slog.LevelWarn
	case message.Critical:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
