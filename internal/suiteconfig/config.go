// Package suiteconfig loads the suite's hierarchical settings (spec.md
// §6) through spf13/viper, the way firestige-Otus and tyemirov-utils load
// their own service configuration — env-override-aware, YAML-backed. The
// graph grammar itself (§4.7) is not expressible here; it is parsed
// separately by internal/graph.
package suiteconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/taskcycle/metasched/internal/coreerr"
)

// Settings is the top-level hierarchical settings tree (spec.md §6).
type Settings struct {
	DummyMode      bool    `mapstructure:"dummy_mode"`
	DummyClockRate float64 `mapstructure:"dummy_clock_rate"`

	LogDir string `mapstructure:"log_dir"`
	StateDir string `mapstructure:"state_dir"`
	JobLogDir string `mapstructure:"job_log_dir"`

	DefaultSubmitMethod string `mapstructure:"default_submit_method"`

	MaxActiveCycles int `mapstructure:"max_active_cycles"`

	HoldAtStartup []string `mapstructure:"hold_at_startup"`

	Tasks map[string]TaskSettings `mapstructure:"tasks"`

	Families map[string][]string `mapstructure:"families"`

	GraphFile string `mapstructure:"graph_file"`

	Transport TransportSettings `mapstructure:"transport"`
	Store     StoreSettings     `mapstructure:"store"`
}

// TaskSettings is the per-task block of the hierarchical settings.
type TaskSettings struct {
	Description   string            `mapstructure:"description"`
	Owner         string            `mapstructure:"owner"`
	Command       string            `mapstructure:"command"`
	PreCommand    string            `mapstructure:"pre_command"`
	PostCommand   string            `mapstructure:"post_command"`
	Environment   map[string]string `mapstructure:"environment"`
	Directives    map[string]string `mapstructure:"directives"`
	SubmitMethod  string            `mapstructure:"submit_method"`
	RetryDelays   []float64         `mapstructure:"retry_delays"`
	Resurrectable bool              `mapstructure:"resurrectable"`

	SubmissionTimeoutSeconds int `mapstructure:"submission_timeout_seconds"`
	ExecutionTimeoutSeconds  int `mapstructure:"execution_timeout_seconds"`

	Modifiers []string `mapstructure:"modifiers"`

	HookScriptPath string          `mapstructure:"hook_script_path"`
	HookEvents     map[string]bool `mapstructure:"hook_events"`

	ContactOffsetSeconds int `mapstructure:"contact_offset_seconds"`
	NRestartOutputs      int `mapstructure:"n_restart_outputs"`
}

// TransportSettings configures the NATS-backed message transport.
type TransportSettings struct {
	URL          string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// StoreSettings configures the bbolt-backed state dump.
type StoreSettings struct {
	Path string `mapstructure:"path"`
}

// Load reads the suite configuration file at path, with METASCHED_*
// environment overrides, the way firestige-Otus's config loader does.
func Load(path string) (*Settings, error) {
	v := viper.New()

	dir := filepath.Dir(path)
	filename := filepath.Base(path)
	ext := filepath.Ext(filename)
	name := strings.TrimSuffix(filename, ext)

	v.SetConfigName(name)
	v.SetConfigType(strings.TrimPrefix(ext, "."))
	v.AddConfigPath(dir)

	v.SetEnvPrefix("METASCHED")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	applyDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, &coreerr.SuiteConfigError{Reason: "cannot read suite configuration", Detail: err.Error()}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, &coreerr.SuiteConfigError{Reason: "cannot parse suite configuration", Detail: err.Error()}
	}

	resolveDirs(&s)
	return &s, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("dummy_mode", false)
	v.SetDefault("dummy_clock_rate", 1.0)
	v.SetDefault("log_dir", "~/metasched/log")
	v.SetDefault("state_dir", "~/metasched/state")
	v.SetDefault("job_log_dir", "~/metasched/job")
	v.SetDefault("default_submit_method", "background")
	v.SetDefault("max_active_cycles", 0)
	v.SetDefault("transport.subject_prefix", "metasched")
}

// resolveDirs resolves each configured directory relative to the user's
// home unless it is already absolute (spec.md §6).
func resolveDirs(s *Settings) {
	s.LogDir = resolveHome(s.LogDir)
	s.StateDir = resolveHome(s.StateDir)
	s.JobLogDir = resolveHome(s.JobLogDir)
}

func resolveHome(p string) string {
	if !strings.HasPrefix(p, "~") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Validate checks for obviously malformed settings the way the
// DependencyCompiler would reject them at load time (spec.md §4.7).
func (s *Settings) Validate() error {
	if s.GraphFile == "" {
		return &coreerr.SuiteConfigError{Reason: "suite configuration missing graph_file"}
	}
	for name, ts := range s.Tasks {
		for _, mod := range ts.Modifiers {
			if !validModifier(mod) {
				return &coreerr.SuiteConfigError{Reason: "illegal modifier", Detail: fmt.Sprintf("%s: %s", name, mod)}
			}
		}
	}
	return nil
}

func validModifier(m string) bool {
	switch m {
	case "oneoff", "sequential", "catchup", "contact", "catchup_contact":
		return true
	}
	return false
}
