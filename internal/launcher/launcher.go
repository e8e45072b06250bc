// Package launcher implements the job-submission collaborator of spec.md
// §6: given a method name, the core resolves it to a factory and invokes
// the returned launcher's Submit once. The registry is built the way the
// teacher's PluginRegistry resolves a TaskType to a PluginExecutor.
package launcher

import (
	"context"
	"time"

	"github.com/taskcycle/metasched/internal/coreerr"
)

// Params is the fixed parameter vector §6 specifies for a submission call.
type Params struct {
	Identity string

	Script        string
	PreCommand    string
	MainCommand   string
	PostCommand   string
	TryNumber     int
	Environment   map[string]string
	Namespaces    []string
	Directives    map[string]string
	ManualMessage bool

	LogFiles []string
	LogDir   string
	ShareDir string
	WorkDir  string

	Owner                string
	RemoteHost            string
	RemoteInstallPath     string
	RemoteShellTemplate   string
	CommandTemplate       string
	SubmissionShell       string
	MessagingEnabled      bool
}

// Handle is the opaque result of a successful submission: whatever the
// launcher needs later to identify the running job (PID, batch job ID).
type Handle struct {
	ID        string
	Method    string
	Submitted time.Time
}

// Launcher submits one job and returns a handle, or an error wrapped in
// coreerr.SubmissionError by the caller.
type Launcher interface {
	Submit(ctx context.Context, dryRun bool, p Params) (Handle, error)
}

// Factory constructs a fresh Launcher per submission call, mirroring §6's
// "construct a fresh launcher handle, invoke it" wording.
type Factory func() Launcher

// Registry maps a job-submission method name to its Factory, the way the
// teacher's PluginRegistry maps TaskType to PluginExecutor.
type Registry struct {
	factories map[string]Factory
	dummyMode bool
}

// NewRegistry builds a registry with the built-in "dummy" and "background"
// methods registered. dummyMode, when true, makes
// Resolve always hand back the dummy factory regardless of the requested
// method name (the original's dummy-mode hierarchical setting).
func NewRegistry(dummyMode bool) *Registry {
	r := &Registry{factories: make(map[string]Factory), dummyMode: dummyMode}
	r.Register("dummy", func() Launcher { return &DummyLauncher{} })
	r.Register("background", NewLocalShellFactory())
	return r
}

// Register adds or replaces a submission method's factory. Resolve never
// registers anything itself, so an unresolvable method is a structured
// ImportError rather than a dynamic-lookup panic.
func (r *Registry) Register(method string, f Factory) {
	r.factories[method] = f
}

// Resolve looks up the factory for a method name.
func (r *Registry) Resolve(method string) (Factory, error) {
	if r.dummyMode {
		return r.factories["dummy"], nil
	}
	f, ok := r.factories[method]
	if !ok {
		return nil, &coreerr.ImportError{Method: method}
	}
	return f, nil
}
