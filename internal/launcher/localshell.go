package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LocalShellLauncher runs a task's pre/main/post command sequence as a
// background local-shell job, the "background" submission method. When
// Params.LogDir is set, output goes through a rotating job log in that
// directory, the way the teacher's per-task logs rotate with lumberjack.
type LocalShellLauncher struct{}

// NewLocalShellFactory returns a Factory producing fresh LocalShellLaunchers.
func NewLocalShellFactory() Factory {
	return func() Launcher { return &LocalShellLauncher{} }
}

func (LocalShellLauncher) Submit(ctx context.Context, dryRun bool, p Params) (Handle, error) {
	id := uuid.NewString()
	if dryRun {
		return Handle{ID: id, Method: "background", Submitted: time.Now().UTC()}, nil
	}

	shell := p.SubmissionShell
	if shell == "" {
		shell = "/bin/sh"
	}
	script := joinNonEmpty(p.PreCommand, p.MainCommand, p.PostCommand)

	var logWriter *lumberjack.Logger
	if p.LogDir != "" {
		if err := os.MkdirAll(p.LogDir, 0o755); err != nil {
			return Handle{}, fmt.Errorf("create log dir: %w", err)
		}
		logWriter = &lumberjack.Logger{
			Filename:   filepath.Join(p.LogDir, p.Identity+".job.log"),
			MaxSize:    10,
			MaxBackups: 3,
			Compress:   true,
		}
		defer logWriter.Close()
	}

	cmd := exec.CommandContext(ctx, shell, "-c", script)
	cmd.Dir = p.WorkDir
	cmd.Env = envSlice(p.Environment)
	if logWriter != nil {
		cmd.Stdout = logWriter
		cmd.Stderr = logWriter
	}

	if err := cmd.Start(); err != nil {
		return Handle{}, fmt.Errorf("start job: %w", err)
	}

	go func() { _ = cmd.Wait() }()

	return Handle{ID: id, Method: "background", Submitted: time.Now().UTC()}, nil
}

func joinNonEmpty(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += p
	}
	return out
}

func envSlice(m map[string]string) []string {
	out := os.Environ()
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}
