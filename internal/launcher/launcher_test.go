package launcher_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskcycle/metasched/internal/coreerr"
	"github.com/taskcycle/metasched/internal/launcher"
)

func TestRegistryResolveUnknownMethodIsImportError(t *testing.T) {
	reg := launcher.NewRegistry(false)
	_, err := reg.Resolve("no-such-method")
	var importErr *coreerr.ImportError
	require.ErrorAs(t, err, &importErr)
}

func TestRegistryDummyModeOverridesEveryMethod(t *testing.T) {
	reg := launcher.NewRegistry(true)
	f, err := reg.Resolve("background")
	require.NoError(t, err)
	h, err := f().Submit(context.Background(), false, launcher.Params{})
	require.NoError(t, err)
	require.Equal(t, "dummy", h.Method)
}

func TestRegistryRegisterAddsAMethod(t *testing.T) {
	reg := launcher.NewRegistry(false)
	reg.Register("custom", func() launcher.Launcher { return launcher.DummyLauncher{} })
	f, err := reg.Resolve("custom")
	require.NoError(t, err)
	require.NotNil(t, f)
}

func TestLocalShellLauncherDryRunNeverSpawnsAProcess(t *testing.T) {
	f := launcher.NewLocalShellFactory()
	h, err := f().Submit(context.Background(), true, launcher.Params{Identity: "foo%1", MainCommand: "exit 1"})
	require.NoError(t, err)
	require.Equal(t, "background", h.Method)
	require.NotEmpty(t, h.ID)
}

type failingLauncher struct{ calls *int }

func (f failingLauncher) Submit(context.Context, bool, launcher.Params) (launcher.Handle, error) {
	*f.calls++
	return launcher.Handle{}, errors.New("submission failed")
}

func TestResilientRegistryRetriesUpToAttemptCount(t *testing.T) {
	calls := 0
	reg := launcher.NewRegistry(false)
	reg.Register("flaky", func() launcher.Launcher { return failingLauncher{calls: &calls} })

	resilient := launcher.NewResilientRegistry(reg, 2, time.Millisecond)
	_, err := resilient.Submit(context.Background(), "flaky", false, launcher.Params{})
	require.Error(t, err)
	require.Equal(t, 2, calls, "should retry up to the configured attempt count")
}

func TestResilientRegistryUnresolvedMethodPropagatesError(t *testing.T) {
	reg := launcher.NewRegistry(false)
	resilient := launcher.NewResilientRegistry(reg, 1, time.Millisecond)
	_, err := resilient.Submit(context.Background(), "missing", false, launcher.Params{})
	var importErr *coreerr.ImportError
	require.ErrorAs(t, err, &importErr)
}
