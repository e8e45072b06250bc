package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskcycle/metasched/internal/clock"
	"github.com/taskcycle/metasched/internal/hooks"
	"github.com/taskcycle/metasched/internal/identity"
	"github.com/taskcycle/metasched/internal/launcher"
	"github.com/taskcycle/metasched/internal/manager"
	"github.com/taskcycle/metasched/internal/obs"
	"github.com/taskcycle/metasched/internal/proxy"
	"github.com/taskcycle/metasched/internal/store"
	"github.com/taskcycle/metasched/internal/tag"
	"github.com/taskcycle/metasched/internal/transport/natstransport"
)

var suiteName string
var resume bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the scheduler and run until all tasks are done",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSuite(cmd.Context())
	},
}

func init() {
	runCmd.Flags().StringVar(&suiteName, "suite", "suite", "suite name, used in telemetry resource attributes")
	runCmd.Flags().BoolVar(&resume, "resume", false, "restore proxies and class counters from the state store before startup")
}

func runSuite(ctx context.Context) error {
	settings, defs, err := loadSuite(configFile, graphFile)
	if err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	obs.InitLogging(suiteName)

	shutdownTrace := obs.InitTracer(ctx, suiteName)
	defer obs.Flush(context.Background(), shutdownTrace)
	shutdownMetrics, metrics := obs.InitMetrics(ctx, suiteName)
	defer obs.Flush(context.Background(), shutdownMetrics)

	effectiveDryRun := dryRun || settings.DummyMode
	reg := launcher.NewResilientRegistry(launcher.NewRegistry(effectiveDryRun), 3, 500*time.Millisecond)

	var hookRunner hooks.Runner = hooks.NoopRunner{}
	for _, ts := range settings.Tasks {
		if ts.HookScriptPath != "" {
			hookRunner = hooks.ProcessRunner{SuiteName: suiteName}
			break
		}
	}

	var tp *natstransport.Registry
	if settings.Transport.URL != "" {
		tp, err = natstransport.New(settings.Transport.URL, settings.Transport.SubjectPrefix)
		if err != nil {
			return fmt.Errorf("connect transport: %w", err)
		}
		defer tp.Close(context.Background())
	}

	var wallClock clock.Clock = clock.Wall{}

	mgrCfg := manager.Config{
		Defs:            defs,
		Clock:           wallClock,
		Launcher:        reg,
		HookRunner:      hookRunner,
		Metrics:         metrics,
		DryRun:          effectiveDryRun,
		MaxActiveCycles: settings.MaxActiveCycles,
	}
	if tp != nil {
		mgrCfg.Transport = tp
	}
	mgr := manager.New(mgrCfg)

	var st *store.Store
	if settings.Store.Path != "" {
		if err := os.MkdirAll(filepath.Dir(settings.Store.Path), 0o755); err == nil {
			st, err = store.Open(settings.Store.Path)
			if err != nil {
				return fmt.Errorf("open state store: %w", err)
			}
			defer st.Close()
		}
	}

	startTag := tag.Cycling(wallClock.Now())
	restored := make(map[string]bool)
	if resume && st != nil {
		if err := resumeFromStore(ctx, st, mgr, restored); err != nil {
			return fmt.Errorf("resume from state store: %w", err)
		}
	}
	if err := mgr.StartupSkipping(ctx, startTag, restored); err != nil {
		return err
	}

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := mgr.Pump(runCtx, time.Second); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if st != nil {
		persistState(st, mgr)
	}
	return nil
}

// resumeFromStore loads every persisted proxy and class snapshot and
// restores them onto mgr, recording each restored task name in restored so
// the caller's Startup pass skips re-materializing a fresh proxy over it
// (spec.md §6 restart).
func resumeFromStore(ctx context.Context, st *store.Store, mgr *manager.Manager, restored map[string]bool) error {
	snaps, err := st.AllProxies()
	if err != nil {
		return fmt.Errorf("load proxies: %w", err)
	}
	for _, snap := range snaps {
		snap := snap
		id, err := identity.Parse(snap.Identity)
		if err != nil {
			return fmt.Errorf("parse identity %q: %w", snap.Identity, err)
		}
		if err := mgr.RestoreProxy(ctx, id, func(p *proxy.Proxy) { store.Restore(p, snap) }); err != nil {
			return fmt.Errorf("restore %q: %w", snap.Identity, err)
		}
		restored[id.Name] = true
	}

	classes, err := st.AllClasses()
	if err != nil {
		return fmt.Errorf("load classes: %w", err)
	}
	for name, c := range classes {
		mgr.RestoreClass(name, c.InstanceCount, c.MeanTotalElapsed)
	}
	return nil
}

func persistState(st *store.Store, mgr *manager.Manager) {
	for _, p := range mgr.Proxies() {
		_ = st.SaveProxy(store.Snapshot(p))
	}
}
