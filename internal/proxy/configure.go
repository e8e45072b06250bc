package proxy

import "time"

// Timeouts sets the submission/execution timeout durations and whether
// the execution timer restarts on every incoming message (spec.md §4.5,
// §6 per-task timeout configuration). Called once by the TaskDef factory
// when materializing a proxy.
func (p *Proxy) Timeouts(submission, execution time.Duration, resetOnIncoming bool) {
	p.submissionTimeout = submission
	p.executionTimeout = execution
	p.resetExecTimerOnMsg = resetOnIncoming
}
