package cli

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskcycle/metasched/internal/clock"
	"github.com/taskcycle/metasched/internal/graph"
	"github.com/taskcycle/metasched/internal/hooks"
	"github.com/taskcycle/metasched/internal/launcher"
	"github.com/taskcycle/metasched/internal/manager"
	"github.com/taskcycle/metasched/internal/statemachine"
	"github.com/taskcycle/metasched/internal/store"
	"github.com/taskcycle/metasched/internal/tag"
	"github.com/taskcycle/metasched/internal/taskdef"
)

// resumeFromStore restores every persisted proxy onto the manager and
// reports its task name as restored, so a subsequent StartupSkipping pass
// does not overwrite it with a freshly materialized one.
func TestResumeFromStoreRestoresProxiesAndClasses(t *testing.T) {
	db := filepath.Join(t.TempDir(), "state.db")
	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.SaveProxy(store.ProxySnapshot{
		Identity:  "foo%3",
		State:     string(statemachine.Running),
		TryNumber: 2,
		Spawned:   true,
	}))
	require.NoError(t, st.SaveClass("foo", store.ClassSnapshot{InstanceCount: 5, MeanTotalElapsed: 90}))

	d := taskdef.New("foo")
	defs := graph.Defs{"foo": d}
	sim := clock.NewSimulated(time.Now())
	reg := launcher.NewResilientRegistry(launcher.NewRegistry(true), 1, time.Millisecond)
	mgr := manager.New(manager.Config{Defs: defs, Clock: sim, Launcher: reg, HookRunner: hooks.NoopRunner{}})

	restored := make(map[string]bool)
	require.NoError(t, resumeFromStore(context.Background(), st, mgr, restored))
	require.True(t, restored["foo"])
	require.Equal(t, 5, d.Class().InstanceCount)
	require.Equal(t, int64(90), d.Class().MeanTotalElapsed)

	proxies := mgr.Proxies()
	require.Len(t, proxies, 1)
	require.Equal(t, "foo%3", proxies[0].Identity.String())
	require.Equal(t, statemachine.Running, proxies[0].State)
	require.Equal(t, 2, proxies[0].TryNumber)
	require.True(t, proxies[0].Spawned())

	// A second task with no persisted snapshot must still be created by
	// StartupSkipping, since only "foo" was recorded as restored.
	defs["bar"] = taskdef.New("bar")
	require.NoError(t, mgr.StartupSkipping(context.Background(), tag.Async(0), restored))

	var fooCount, barCount int
	for _, p := range mgr.Proxies() {
		switch p.Identity.Name {
		case "foo":
			fooCount++
		case "bar":
			barCount++
		}
	}
	require.Equal(t, 1, fooCount, "StartupSkipping must not duplicate the restored proxy")
	require.Equal(t, 1, barCount, "bar has no persisted snapshot and must still be created fresh")
}
