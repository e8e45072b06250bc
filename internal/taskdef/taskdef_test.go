package taskdef_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskcycle/metasched/internal/clock"
	"github.com/taskcycle/metasched/internal/hooks"
	"github.com/taskcycle/metasched/internal/launcher"
	"github.com/taskcycle/metasched/internal/proxy"
	"github.com/taskcycle/metasched/internal/tag"
	"github.com/taskcycle/metasched/internal/taskdef"
)

func testCfg(c clock.Clock) proxy.Config {
	reg := launcher.NewResilientRegistry(launcher.NewRegistry(true), 1, time.Millisecond)
	return proxy.Config{Clock: c, Launcher: reg, HookRunner: hooks.NoopRunner{}}
}

// S4 (intercycle): model(T-6) => model at hours 00,06,12,18; materializing
// model@06 should carry a prerequisite on model%00's finished output.
func TestS4Intercycle(t *testing.T) {
	d := taskdef.New("model")
	d.ValidHours = map[int]bool{0: true, 6: true, 12: true, 18: true}
	d.Prerequisites = []taskdef.PrereqTemplate{
		{TaskName: "model", Offset: -6, Hours: map[int]bool{6: true}},
	}
	d.Intercycle = true

	sim := clock.NewSimulated(time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC))
	tg := tag.Cycling(time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC))
	p := d.Materialize(tg, false, testCfg(sim))

	require.True(t, p.Prerequisites.Exists("model%20260101T00Z finished"))
	require.True(t, d.Intercycle)
}

func TestMaterializeAppliesOneOff(t *testing.T) {
	d := taskdef.New("once")
	d.Modifiers[taskdef.OneOff] = true
	sim := clock.NewSimulated(time.Now())
	p := d.Materialize(tag.Async(0), false, testCfg(sim))
	require.True(t, p.OneOff)
	_, err := p.Spawn(testCfg(sim))
	require.Error(t, err)
}

func TestMaterializeNextTagAdvancesToValidHour(t *testing.T) {
	d := taskdef.New("model")
	d.ValidHours = map[int]bool{0: true, 12: true}
	sim := clock.NewSimulated(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	tg := tag.Cycling(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	p := d.Materialize(tg, true, testCfg(sim))

	successor, err := p.Spawn(testCfg(sim))
	require.NoError(t, err)
	require.Equal(t, 12, successor.Identity.Tag.Time().Hour())
}

// Sequential on a multi-hour cycling task must chain to the previous
// valid hour (here 6h back), not naively 1h back: hoursPerCycle must
// derive the real cycle spacing from ValidHours, not just earliest+1.
func TestSequentialCyclingChainsToThePriorValidHourNotOneHourBack(t *testing.T) {
	d := taskdef.New("chain")
	d.ValidHours = map[int]bool{0: true, 6: true, 12: true, 18: true}
	d.Modifiers[taskdef.Sequential] = true

	sim := clock.NewSimulated(time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC))
	tg := tag.Cycling(time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC))
	p := d.Materialize(tg, false, testCfg(sim))

	require.True(t, p.Prerequisites.Exists("chain%20260101T00Z succeeded"))
	require.False(t, p.Prerequisites.Exists("chain%20260101T05Z succeeded"))
}

// A daily (single-valid-hour) cycling task must chain back a full 24h.
func TestSequentialCyclingWithSingleValidHourChainsBackADay(t *testing.T) {
	d := taskdef.New("daily")
	d.ValidHours = map[int]bool{0: true}
	d.Modifiers[taskdef.Sequential] = true

	sim := clock.NewSimulated(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	tg := tag.Cycling(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	p := d.Materialize(tg, false, testCfg(sim))

	require.True(t, p.Prerequisites.Exists("daily%20260101T00Z succeeded"))
}

func TestColdstartPrereqsOnlyAtStartup(t *testing.T) {
	d := taskdef.New("init")
	d.ColdstartPrereqs = []taskdef.PrereqTemplate{{TaskName: "seed", Hours: map[int]bool{}}}
	sim := clock.NewSimulated(time.Now())

	notStartup := d.Materialize(tag.Async(0), false, testCfg(sim))
	require.False(t, notStartup.Prerequisites.Exists("seed%0 finished"))

	startup := d.Materialize(tag.Async(1), true, testCfg(sim))
	require.True(t, startup.Prerequisites.Exists("seed%1 finished"))
}
