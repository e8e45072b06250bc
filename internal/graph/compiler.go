package graph

import (
	"github.com/taskcycle/metasched/internal/taskdef"
)

// StatementOptions carries the per-statement decorations spec.md §4.7
// names alongside the hours it is declared for: coldstart (append to the
// right's coldstart-prerequisites instead of its ordinary ones) and model
// coldstart (register as a restart-output on the left instead of a
// right-hand prerequisite).
type StatementOptions struct {
	Hours          []int
	Coldstart      bool
	ModelColdstart bool
}

// Defs is the population the compiler builds up across statements,
// keyed by task name.
type Defs map[string]*taskdef.TaskDef

// ensure returns the TaskDef for name, creating a minimal default one the
// first time a name is seen only as a graph endpoint (spec.md §4.6
// invariant: never silently drop an edge).
func (d Defs) ensure(name string) *taskdef.TaskDef {
	if def, ok := d[name]; ok {
		return def
	}
	def := taskdef.New(name)
	d[name] = def
	return def
}

// Compile parses one graph statement line and folds its edges into defs
// under the given hours/decorations, following spec.md §4.7 steps 1-5.
func Compile(defs Defs, line string, opts StatementOptions) error {
	edges, err := ParseLine(line)
	if err != nil {
		return err
	}
	for _, e := range edges {
		left := defs.ensure(e.Left.Name)
		right := defs.ensure(e.Right.Name)

		if e.Left.OneOff {
			left.Modifiers[taskdef.OneOff] = true
		}
		if e.Right.OneOff {
			right.Modifiers[taskdef.OneOff] = true
		}

		for _, hour := range opts.Hours {
			left.ValidHours[hour] = true
			right.ValidHours[hour] = true

			if e.Left.Output != "" {
				registerOutput(left, e.Left.Output, hour)
			}

			offset := e.Left.Offset
			if offset != 0 {
				left.Intercycle = true
			}

			pt := taskdef.PrereqTemplate{
				TaskName: e.Left.Name,
				Output:   e.Left.Output,
				Offset:   offset,
				Hours:    map[int]bool{hour: true},
			}

			switch {
			case opts.ModelColdstart:
				left.NRestartOutputs++
				left.Kind = taskdef.Tied
			case opts.Coldstart:
				right.ColdstartPrereqs = append(right.ColdstartPrereqs, pt)
			default:
				right.Prerequisites = append(right.Prerequisites, pt)
			}
		}
	}
	return nil
}

func registerOutput(def *taskdef.TaskDef, label string, hour int) {
	for i := range def.Outputs {
		if def.Outputs[i].Label == label {
			def.Outputs[i].Hours[hour] = true
			return
		}
	}
	def.Outputs = append(def.Outputs, taskdef.OutputTemplate{Label: label, Hours: map[int]bool{hour: true}})
}

// RegisterFamily types name as a family TaskDef and folds members into it,
// adding the family's valid hours to every member, defined before or not
// (spec.md §4.7: "the compiler also reads the task families section").
func RegisterFamily(defs Defs, name string, members []string) {
	fam := defs.ensure(name)
	fam.Kind = taskdef.Family
	fam.FamilyMembers = append(fam.FamilyMembers, members...)
	for _, m := range members {
		member := defs.ensure(m)
		member.MemberOf = name
		for h := range fam.ValidHours {
			member.ValidHours[h] = true
		}
	}
}
