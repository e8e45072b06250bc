package suiteconfig

import (
	"time"

	"github.com/taskcycle/metasched/internal/graph"
	"github.com/taskcycle/metasched/internal/taskdef"
)

// BuildDefs compiles the graph text into a TaskDef population, registers
// families declared in the settings file's own families section (in
// addition to any "@family" directives inside the graph file itself),
// and then folds each task's hierarchical settings block onto the
// matching TaskDef, applying the suite-wide default submission method
// where a task leaves it unset (spec.md §4.7, §6).
func BuildDefs(s *Settings, graphText string) (graph.Defs, error) {
	defs := graph.Defs{}
	if err := graph.CompileFile(defs, graphText); err != nil {
		return nil, err
	}

	for name, members := range s.Families {
		graph.RegisterFamily(defs, name, members)
	}

	for name, ts := range s.Tasks {
		def, ok := defs[name]
		if !ok {
			def = taskdef.New(name)
			defs[name] = def
		}
		applyTaskSettings(def, ts, s.DefaultSubmitMethod)
	}

	for _, def := range defs {
		if def.SubmitMethod == "" {
			def.SubmitMethod = s.DefaultSubmitMethod
		}
	}

	for _, name := range s.HoldAtStartup {
		if def, ok := defs[name]; ok {
			def.HoldAtStartup = true
		}
	}

	return defs, nil
}

func applyTaskSettings(def *taskdef.TaskDef, ts TaskSettings, defaultMethod string) {
	def.Description = ts.Description
	def.Command = ts.Command
	def.PreCommand = ts.PreCommand
	def.PostCommand = ts.PostCommand
	def.Environment = ts.Environment
	def.Directives = ts.Directives
	def.SubmitMethod = ts.SubmitMethod
	if def.SubmitMethod == "" {
		def.SubmitMethod = defaultMethod
	}
	def.RetryDelays = ts.RetryDelays
	def.Resurrectable = ts.Resurrectable
	def.SubmissionTimeout = time.Duration(ts.SubmissionTimeoutSeconds) * time.Second
	def.ExecutionTimeout = time.Duration(ts.ExecutionTimeoutSeconds) * time.Second
	def.HookScriptPath = ts.HookScriptPath
	def.HookEvents = ts.HookEvents
	def.ContactOffset = time.Duration(ts.ContactOffsetSeconds) * time.Second
	def.NRestartOutputs = ts.NRestartOutputs

	def.Modifiers = make(map[taskdef.Modifier]bool, len(ts.Modifiers))
	for _, m := range ts.Modifiers {
		def.Modifiers[taskdef.Modifier(m)] = true
	}
}
