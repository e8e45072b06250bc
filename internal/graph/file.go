package graph

import (
	"strconv"
	"strings"

	"github.com/taskcycle/metasched/internal/coreerr"
)

// CompileFile compiles an entire graph file's text into defs. The file is
// a sequence of directive lines and statement lines:
//
//	@hours 0,6,12,18      applies to every statement until the next @hours
//	@coldstart             the next statement's prerequisite goes to ColdstartPrereqs
//	@modelcoldstart        the next statement registers a restart-output instead
//	@family NAME           followed by indented member names, one per line
//	# ...                  comment
//
// This envelope is not part of spec.md's grammar (§4.7 only specifies the
// per-statement BNF); it is the minimal wrapper needed to carry the
// per-statement hour/decoration metadata the compiler requires.
func CompileFile(defs Defs, text string) error {
	lines := strings.Split(text, "\n")

	var hours []int
	var coldstart, modelColdstart bool

	for i := 0; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		switch {
		case strings.HasPrefix(trimmed, "@hours"):
			spec := strings.TrimSpace(strings.TrimPrefix(trimmed, "@hours"))
			parsed, err := parseHours(spec)
			if err != nil {
				return err
			}
			hours = parsed
			coldstart, modelColdstart = false, false
			continue
		case trimmed == "@coldstart":
			coldstart = true
			continue
		case trimmed == "@modelcoldstart":
			modelColdstart = true
			continue
		case strings.HasPrefix(trimmed, "@family"):
			name := strings.TrimSpace(strings.TrimPrefix(trimmed, "@family"))
			if name == "" {
				return &coreerr.SuiteConfigError{Reason: "empty family name", Detail: line}
			}
			var members []string
			for i+1 < len(lines) {
				next := lines[i+1]
				if strings.TrimSpace(next) == "" {
					break
				}
				if next[0] != ' ' && next[0] != '\t' {
					break
				}
				members = append(members, strings.TrimSpace(next))
				i++
			}
			RegisterFamily(defs, name, members)
			continue
		}

		if len(hours) == 0 {
			return &coreerr.SuiteConfigError{Reason: "statement with no @hours in scope", Detail: trimmed}
		}
		opts := StatementOptions{Hours: hours, Coldstart: coldstart, ModelColdstart: modelColdstart}
		if err := Compile(defs, trimmed, opts); err != nil {
			return err
		}
		coldstart, modelColdstart = false, false
	}
	return nil
}

func parseHours(spec string) ([]int, error) {
	parts := strings.Split(spec, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, &coreerr.SuiteConfigError{Reason: "malformed @hours list", Detail: spec}
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, &coreerr.SuiteConfigError{Reason: "empty @hours list", Detail: spec}
	}
	return out, nil
}
