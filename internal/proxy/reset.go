package proxy

import (
	"context"

	"github.com/taskcycle/metasched/internal/message"
	"github.com/taskcycle/metasched/internal/statemachine"
)

const normalPriority = message.Normal

// SetRetryDelays installs the FIFO of floating-point minute counts a
// suite declares for this task (spec.md §4.5.3). Call once at proxy
// construction.
func (p *Proxy) SetRetryDelays(minutes []float64) {
	p.retryDelays = append([]float64(nil), minutes...)
}

// MarkSpawned forces the monotonic spawned bit on, for restoring a
// restart-time snapshot that already recorded this proxy as spawned.
func (p *Proxy) MarkSpawned() {
	p.spawned = true
}

// RetriesRemaining reports whether the retry queue still has a delay to
// pop on the next failure.
func (p *Proxy) RetriesRemaining() bool { return len(p.retryDelays) > 0 }

// ExpireRetryDelay performs the retry_delayed -> waiting transition once
// the active delay has elapsed (spec.md §4.4): prerequisites are already
// forced satisfied and outputs already reset incomplete from the failure
// handler, so this only needs to flip the state.
func (p *Proxy) ExpireRetryDelay() {
	if p.State != statemachine.RetryDelayed {
		return
	}
	if p.retryDelayActive() {
		return
	}
	p.State = statemachine.Waiting
}

// ResetStateWaiting is an operator-driven reset to waiting (spec.md §4.4
// "any -> one of waiting/succeeded/failed/held as directed").
func (p *Proxy) ResetStateWaiting() {
	p.State = statemachine.Waiting
	p.Prerequisites.SetAllUnsatisfied()
	p.Outputs.SetAllIncomplete()
}

// ResetStateReady resets to waiting with prerequisites forced satisfied,
// additionally removing any synthetic "failed" output so a later success
// is not flagged as incomplete outputs (spec.md §4.5's documented fix for
// the reset_state_ready behavior).
func (p *Proxy) ResetStateReady() {
	p.State = statemachine.Waiting
	p.Prerequisites.SetAllSatisfied()
	p.Outputs.Remove(p.Identity.FailedMessage())
	p.Outputs.SetAllIncomplete()
}

// ResetStateSucceeded forces the proxy into succeeded with every output
// marked complete.
func (p *Proxy) ResetStateSucceeded() {
	p.State = statemachine.Succeeded
	p.Outputs.SetAllCompleted()
}

// ResetStateFailed forces the proxy into failed, registering the
// synthetic failed output as complete.
func (p *Proxy) ResetStateFailed() {
	p.State = statemachine.Failed
	p.Outputs.Add(p.Identity.FailedMessage(), true)
}

// ResetStateHeld forces the proxy into held. The historical source
// assigned this to an undeclared local rather than to the proxy itself
// (spec.md §9); here it always mutates the receiver.
func (p *Proxy) ResetStateHeld() {
	p.State = statemachine.Held
}

// SetAllInternalOutputsCompleted feeds each registered non-terminal
// output back through Incoming as a completion message, then the
// succeeded message last if it is registered and incomplete, for dummy-run
// simulation of a task that never runs for real.
func (p *Proxy) SetAllInternalOutputsCompleted(ctx context.Context) {
	succeeded := p.Identity.SucceededMessage()
	feedSucceeded := false
	for _, msg := range p.Outputs.Messages() {
		if msg == succeeded {
			feedSucceeded = !p.Outputs.IsCompleted(msg)
			continue
		}
		if msg == p.Identity.FailedMessage() {
			continue
		}
		if p.Outputs.IsCompleted(msg) {
			continue
		}
		p.Incoming(ctx, normalPriority, msg)
	}
	if feedSucceeded {
		p.Incoming(ctx, normalPriority, succeeded)
	}
}
