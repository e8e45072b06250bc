// Package coreerr defines the error taxonomy of spec.md §7, by kind rather
// than by concrete type name, so callers can discriminate with errors.As.
package coreerr

import "fmt"

// SuiteConfigError reports a malformed suite configuration: unknown task,
// illegal modifier, positive intercycle offset, OR-on-right, validation
// failure, or an unrecognised settings key. Fatal at load time.
type SuiteConfigError struct {
	Reason string
	Detail string
}

func (e *SuiteConfigError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("suite config error: %s", e.Reason)
	}
	return fmt.Sprintf("suite config error: %s: %s", e.Reason, e.Detail)
}

// ImportError reports that a job-submission method name could not be
// resolved to a launcher factory, locally or on the user path.
type ImportError struct {
	Method string
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("import error: job submission method %q not found", e.Method)
}

// SubmissionError wraps a launcher exception raised during TaskProxy.Submit.
// Recorded as submit_failed on the proxy; not fatal for the suite.
type SubmissionError struct {
	Identity string
	Err      error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission error for %s: %v", e.Identity, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// AlreadySpawned reports an attempt to spawn a proxy's successor twice.
// Programmer error; fatal.
type AlreadySpawned struct {
	Identity string
}

func (e *AlreadySpawned) Error() string {
	return fmt.Sprintf("%s has already spawned its successor", e.Identity)
}

// IllegalTransition reports a state transition attempted from an
// inadmissible state. Fatal.
type IllegalTransition struct {
	Identity string
	From     string
	Event    string
}

func (e *IllegalTransition) Error() string {
	return fmt.Sprintf("%s: illegal transition on event %q from state %q", e.Identity, e.Event, e.From)
}
