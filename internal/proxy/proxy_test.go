package proxy_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskcycle/metasched/internal/clock"
	"github.com/taskcycle/metasched/internal/hooks"
	"github.com/taskcycle/metasched/internal/identity"
	"github.com/taskcycle/metasched/internal/launcher"
	"github.com/taskcycle/metasched/internal/proxy"
	"github.com/taskcycle/metasched/internal/statemachine"
	"github.com/taskcycle/metasched/internal/tag"
	msgpkg "github.com/taskcycle/metasched/internal/message"
)

func newTestProxy(t *testing.T, name string, c clock.Clock) *proxy.Proxy {
	t.Helper()
	reg := launcher.NewResilientRegistry(launcher.NewRegistry(true), 1, time.Millisecond)
	cfg := proxy.Config{
		Clock:      c,
		Class:      &proxy.ClassVars{Name: name},
		Launcher:   reg,
		HookRunner: hooks.NoopRunner{},
	}
	id := identity.New(name, tag.Cycling(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	return proxy.New(id, cfg)
}

// S1 (basic dependency): A => B. Feed A "started" then "succeeded"; B's
// prerequisite on A's finished output becomes satisfied.
func TestS1BasicDependency(t *testing.T) {
	sim := clock.NewSimulated(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	a := newTestProxy(t, "A", sim)
	b := newTestProxy(t, "B", sim)

	a.Outputs.Add(a.Identity.StartedMessage(), false)
	a.Outputs.Add(a.Identity.SucceededMessage(), false)
	b.Prerequisites.Add(a.Identity.FinishedOutput())

	ctx := context.Background()
	a.Incoming(ctx, msgpkg.Normal, a.Identity.StartedMessage())
	require.Equal(t, statemachine.Running, a.State)

	a.Incoming(ctx, msgpkg.Normal, a.Identity.SucceededMessage())
	require.Equal(t, statemachine.Succeeded, a.State)

	// "finished" isn't one of A's declared outputs in this minimal test,
	// so simulate the coarse default output directly as the compiler would.
	a.Outputs.Add(a.Identity.FinishedOutput(), false)
	_ = a.Outputs.SetCompleted(a.Identity.FinishedOutput())

	b.SatisfyMe(a)
	require.True(t, b.Prerequisites.AllSatisfied())
}

// S2 (retry): retry delays [0.5, 1.0] minutes; on failure enters
// retry_delayed with try_number bumped and prerequisites forced satisfied.
func TestS2Retry(t *testing.T) {
	sim := clock.NewSimulated(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	x := newTestProxy(t, "X", sim)
	x.SetRetryDelays([]float64{0.5, 1.0})
	x.Prerequisites.Add("dummy")
	x.Prerequisites.SetAllSatisfied()
	x.State = statemachine.Running

	ctx := context.Background()
	x.Incoming(ctx, msgpkg.Normal, x.Identity.FailedMessage())

	require.Equal(t, statemachine.RetryDelayed, x.State)
	require.Equal(t, 2, x.TryNumber)
	require.True(t, x.Prerequisites.AllSatisfied())
	require.True(t, x.RetriesRemaining())

	require.False(t, x.ReadyToRun())
	sim.Advance(30 * time.Second)
	require.True(t, x.ReadyToRun())
}

// S3 (succeeded-before-outputs): task declares O1, O2; started then
// succeeded without completing them transitions to failed.
func TestS3SucceededBeforeOutputs(t *testing.T) {
	sim := clock.NewSimulated(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	y := newTestProxy(t, "Y", sim)
	y.Outputs.Add(y.Identity.StartedMessage(), false)
	y.Outputs.Add(y.Identity.SucceededMessage(), false)
	y.Outputs.Add("O1", false)
	y.Outputs.Add("O2", false)

	ctx := context.Background()
	y.Incoming(ctx, msgpkg.Normal, y.Identity.StartedMessage())
	y.Incoming(ctx, msgpkg.Normal, y.Identity.SucceededMessage())

	require.Equal(t, statemachine.Failed, y.State)
}

func TestSpawnSetsBitAndFailsTwice(t *testing.T) {
	sim := clock.NewSimulated(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	a := newTestProxy(t, "A", sim)
	reg := launcher.NewResilientRegistry(launcher.NewRegistry(true), 1, time.Millisecond)
	cfg := proxy.Config{
		Clock:      sim,
		Class:      &proxy.ClassVars{Name: "A"},
		Launcher:   reg,
		HookRunner: hooks.NoopRunner{},
		NextTagFn:  func(tg tag.Tag) tag.Tag { return tg.AddHours(1) },
	}

	require.False(t, a.Spawned())
	successor, err := a.Spawn(cfg)
	require.NoError(t, err)
	require.True(t, a.Spawned())
	require.Equal(t, "A", successor.Identity.Name)

	_, err = a.Spawn(cfg)
	require.Error(t, err)
}

// GetStateSummary exposes an ETC derived from started time plus the
// TaskDef class's mean total elapsed, only while running.
func TestGetStateSummaryComputesETCWhileRunning(t *testing.T) {
	sim := clock.NewSimulated(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	reg := launcher.NewResilientRegistry(launcher.NewRegistry(true), 1, time.Millisecond)
	class := &proxy.ClassVars{Name: "A"}
	class.RecordElapsed(120)
	cfg := proxy.Config{Clock: sim, Class: class, Launcher: reg, HookRunner: hooks.NoopRunner{}}
	id := identity.New("A", tag.Cycling(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	a := proxy.New(id, cfg)

	require.True(t, a.GetStateSummary().ETC.IsZero(), "no ETC before the proxy is running")

	ctx := context.Background()
	a.Incoming(ctx, msgpkg.Normal, a.Identity.StartedMessage())

	summary := a.GetStateSummary()
	require.False(t, summary.ETC.IsZero())
	require.Equal(t, summary.Started.Add(120*time.Second), summary.ETC)
}
