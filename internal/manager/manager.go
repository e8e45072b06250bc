// Package manager implements TaskManager, the scheduling loop that owns
// the live proxy population (spec.md §4.8, §4.9).
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/taskcycle/metasched/internal/clock"
	"github.com/taskcycle/metasched/internal/graph"
	"github.com/taskcycle/metasched/internal/hooks"
	"github.com/taskcycle/metasched/internal/identity"
	"github.com/taskcycle/metasched/internal/launcher"
	"github.com/taskcycle/metasched/internal/message"
	"github.com/taskcycle/metasched/internal/obs"
	"github.com/taskcycle/metasched/internal/proxy"
	"github.com/taskcycle/metasched/internal/statemachine"
	"github.com/taskcycle/metasched/internal/tag"
	"github.com/taskcycle/metasched/internal/taskdef"
	"github.com/taskcycle/metasched/internal/transport"
)

// Config bundles the TaskManager's collaborators.
type Config struct {
	Defs            graph.Defs
	Clock           clock.Clock
	Launcher        *launcher.ResilientRegistry
	HookRunner      hooks.Runner
	Transport       transport.Registry
	Metrics         obs.Metrics
	DryRun          bool
	MaxActiveCycles int // 0 = unbounded
}

// Manager is the TaskManager: it exclusively owns the set of live
// TaskProxy instances (spec.md §3 "Relationships and ownership").
type Manager struct {
	defs       graph.Defs
	clock      clock.Clock
	launcher   *launcher.ResilientRegistry
	hookRunner hooks.Runner
	transport  transport.Registry
	metrics    obs.Metrics
	dryRun     bool
	maxActive  int

	mu      sync.Mutex
	proxies map[identity.Identity]*proxy.Proxy

	lastActiveCount int64 // last value reported on the ActiveProxies gauge
}

// New constructs an empty Manager.
func New(cfg Config) *Manager {
	return &Manager{
		defs:       cfg.Defs,
		clock:      cfg.Clock,
		launcher:   cfg.Launcher,
		hookRunner: cfg.HookRunner,
		transport:  cfg.Transport,
		metrics:    cfg.Metrics,
		dryRun:     cfg.DryRun,
		maxActive:  cfg.MaxActiveCycles,
		proxies:    make(map[identity.Identity]*proxy.Proxy),
	}
}

func (m *Manager) proxyConfig(def *taskdef.TaskDef) proxy.Config {
	return proxy.Config{
		Clock:      m.clock,
		Class:      def.Class(),
		Launcher:   m.launcher,
		HookRunner: m.hookRunner,
	}
}

// Startup builds the initial proxy set at startTag from the TaskDef
// population, filtered by valid-hours, and registers each with the
// transport (spec.md §4.8 "Startup").
func (m *Manager) Startup(ctx context.Context, startTag tag.Tag) error {
	return m.StartupSkipping(ctx, startTag, nil)
}

// StartupSkipping is Startup, but omits any task name present in skip — the
// hook a restart uses to run Startup's valid-hours filtering for task names
// not already covered by a restored snapshot, without re-materializing a
// fresh (state-losing) proxy over one RestoreProxy already installed
// (spec.md §6 restart).
func (m *Manager) StartupSkipping(ctx context.Context, startTag tag.Tag, skip map[string]bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hour := startTag.Time().Hour()
	for name, def := range m.defs {
		if def.Kind == taskdef.Family {
			continue
		}
		if skip[name] {
			continue
		}
		if startTag.IsCycling() && !def.ValidAtHour(hour) {
			continue
		}
		p := def.Materialize(startTag, true, m.proxyConfig(def))
		m.proxies[p.Identity] = p
		if m.transport != nil {
			if err := m.transport.Register(p.Identity); err != nil {
				return err
			}
		}
		slog.Info("proxy created", "identity", p.Identity.String(), "task", name)
	}
	return nil
}

// RestoreProxy re-materializes id's TaskDef instance at id's own tag (not
// through Startup's single-startTag pass) and hands it to apply before
// inserting it into the live population — the hook a caller uses to layer
// a persisted store.ProxySnapshot onto a freshly materialized proxy
// without this package importing the store package (spec.md §6 restart).
func (m *Manager) RestoreProxy(ctx context.Context, id identity.Identity, apply func(*proxy.Proxy)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	def, ok := m.defs[id.Name]
	if !ok {
		return fmt.Errorf("manager: restore: unknown task %q", id.Name)
	}
	p := def.Materialize(id.Tag, false, m.proxyConfig(def))
	apply(p)
	m.proxies[p.Identity] = p
	if m.transport != nil {
		if err := m.transport.Register(p.Identity); err != nil {
			return err
		}
	}
	slog.Info("proxy restored", "identity", p.Identity.String())
	return nil
}

// RestoreClass applies a persisted class-level counter snapshot onto
// name's TaskDef, if defined (spec.md §9 "class-level counters").
func (m *Manager) RestoreClass(name string, instanceCount int, meanTotalElapsed int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.defs[name]
	if !ok {
		return
	}
	def.Class().InstanceCount = instanceCount
	def.Class().MeanTotalElapsed = meanTotalElapsed
}

// Incoming routes one external message to its addressed proxy, then runs
// a scheduling tick (spec.md §4.9 event pump).
func (m *Manager) Incoming(ctx context.Context, id identity.Identity, priority message.Priority, msg string) error {
	m.mu.Lock()
	p, ok := m.proxies[id]
	m.mu.Unlock()
	if !ok {
		slog.Warn("message addressed to unknown identity", "identity", id.String())
		return nil
	}
	p.Incoming(ctx, priority, msg)
	return m.Tick(ctx)
}

// Tick runs one scheduling pass (spec.md §4.8 "Scheduling tick"). It
// clears the global state-changed flag first (spec.md §4.9) — a tick may
// run on a bare timer even when nothing changed.
func (m *Manager) Tick(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	proxy.StateChanged = false

	for _, p := range m.proxies {
		p.CheckSubmissionTimeout(ctx)
		p.CheckExecutionTimeout(ctx)
		p.ExpireRetryDelay()
	}

	m.satisfactionPass()
	m.launchPass(ctx)
	m.dryRunStartPass(ctx)
	m.spawnPass()
	m.dryRunFinishPass(ctx)
	m.retirementSweep()
	m.publishSummary()

	if len(m.proxies) == 0 {
		slog.Info("ALL TASKS DONE")
	}
	return nil
}

// satisfactionPass is the O(N^2)-over-proxies, O(edges)-over-messages
// fixed-point-free pass of spec.md §4.8 step 2: outputs are monotonic
// within a tick, so a single sweep suffices.
func (m *Manager) satisfactionPass() {
	for _, p := range m.proxies {
		for _, q := range m.proxies {
			if p == q {
				continue
			}
			p.SatisfyMe(q)
		}
		if m.metrics.SatisfactionPasses != nil {
			m.metrics.SatisfactionPasses.Add(context.Background(), 1)
		}
	}
}

// launchPass submits every proxy that has just become ready (spec.md
// §4.8 step 3), deferring launch — but not creation — for any proxy whose
// cycling tag falls outside the oldest maxActive active tags (SPEC_FULL
// "suite-wide max active cycle points": spawning beyond the bound defers
// the successor's launch until an older cycle retires).
func (m *Manager) launchPass(ctx context.Context) {
	runahead := m.runaheadBoundary()
	for _, p := range m.proxies {
		if !p.ReadyToRun() {
			continue
		}
		if runahead.bounded && p.Identity.Tag.IsCycling() && runahead.cutoff.Before(p.Identity.Tag) {
			continue
		}
		if err := p.Submit(ctx, m.dryRun); err != nil {
			slog.Warn("submission failed", "identity", p.Identity.String(), "error", err)
			if m.metrics.JobsFailed != nil {
				m.metrics.JobsFailed.Add(ctx, 1)
			}
			continue
		}
		if m.metrics.JobsSubmitted != nil {
			m.metrics.JobsSubmitted.Add(ctx, 1)
		}
	}
}

// dryRunStartPass simulates a job actually starting, in dummy-run mode
// (spec.md SUPPLEMENTED FEATURES "dummy-run mode"): it feeds the
// "started" message to every just-submitted proxy, transitioning it to
// running before spawnPass runs, so spawnPass still sees the running
// window a successor is spawned from.
func (m *Manager) dryRunStartPass(ctx context.Context) {
	if !m.dryRun {
		return
	}
	for _, p := range m.proxies {
		if p.State == statemachine.Submitted {
			p.Incoming(ctx, message.Normal, p.Identity.StartedMessage())
		}
	}
}

// dryRunFinishPass completes every running proxy's remaining outputs in
// dummy-run mode. It runs after spawnPass so the successor has already
// been created from the running window dryRunStartPass opened up.
func (m *Manager) dryRunFinishPass(ctx context.Context) {
	if !m.dryRun {
		return
	}
	for _, p := range m.proxies {
		if p.State == statemachine.Running {
			p.SetAllInternalOutputsCompleted(ctx)
		}
	}
}

// spawnPass spawns a successor for every running, not-yet-spawned proxy
// (spec.md §4.8 step 4, "spawn-on-submit discipline"). Spawning on every
// tick a proxy is running (rather than only the tick it first enters
// running) is safe because Spawn is a monotonic, idempotently-guarded
// bit flip.
func (m *Manager) spawnPass() {
	var fresh []*proxy.Proxy
	for _, p := range m.proxies {
		if p.State != statemachine.Running || p.Spawned() || p.OneOff {
			continue
		}
		def, hasDef := m.defs[p.Identity.Name]
		cfg := proxy.Config{Clock: m.clock, Launcher: m.launcher, HookRunner: m.hookRunner, NextTagFn: p.NextTagFn}
		if hasDef {
			cfg.Class = def.Class()
		}
		bare, err := p.Spawn(cfg)
		if err != nil {
			continue
		}
		// Spawn only fixes the successor's identity/tag (and the spawned
		// bit on p); re-materialize through the TaskDef so the successor
		// carries its full prerequisite/output/command template, the way
		// get_task_class() would for any non-startup cycle.
		successor := bare
		if hasDef {
			successor = def.Materialize(bare.Identity.Tag, false, cfg)
		}
		fresh = append(fresh, successor)
	}
	for _, s := range fresh {
		m.proxies[s.Identity] = s
		if m.transport != nil {
			_ = m.transport.Register(s.Identity)
		}
		if m.metrics.ProxiesSpawned != nil {
			m.metrics.ProxiesSpawned.Add(context.Background(), 1)
		}
		slog.Info("proxy spawned", "identity", s.Identity.String())
	}
}

// retirementSweep deletes every proxy that is both terminal and strictly
// older than the cutoff tag, unless its outputs could still satisfy some
// live proxy's unsatisfied prerequisite (spec.md §4.8 step 5, §8 property
// 3). Computing eligibility via the could-satisfy relation directly,
// rather than via tag comparison alone, subsumes the feeder push-back
// rule: a live proxy at a later tag with an unsatisfied prerequisite
// naming an older finished proxy's output keeps that proxy alive without
// any feeder-specific bookkeeping.
//
// A proxy whose suicide prerequisites are all satisfied requests its own
// retirement regardless of state or cutoff (spec.md §4.2: "when all
// satisfied, the proxy requests its own retirement"), but the
// could-satisfy guard still applies — a suicided proxy's own outputs may
// still be needed by another live proxy.
func (m *Manager) retirementSweep() {
	cutoff, hasCutoff := m.minRunningTag()

	var toRetire []identity.Identity
	for id, p := range m.proxies {
		suicide := p.SuicideTriggered()
		if !terminal(p) && !suicide {
			continue
		}
		if !suicide && hasCutoff && !p.Identity.Tag.Before(cutoff) {
			continue
		}
		if m.outputsStillNeeded(p) {
			continue
		}
		toRetire = append(toRetire, id)
	}

	for _, id := range toRetire {
		p := m.proxies[id]
		delete(m.proxies, id)
		if m.transport != nil {
			_ = m.transport.Unregister(id)
		}
		if m.metrics.ProxiesRetired != nil {
			m.metrics.ProxiesRetired.Add(context.Background(), 1)
		}
		slog.Info("proxy retired", "identity", p.Identity.String())
	}
}

func terminal(p *proxy.Proxy) bool {
	switch {
	case p.State == statemachine.Succeeded:
		return true
	case p.State == statemachine.Failed && !p.RetriesRemaining():
		return true
	default:
		return false
	}
}

// runaheadBoundary is the result of scanning the live cycling tags for the
// suite's max-active-cycles bound.
type runaheadBoundary struct {
	bounded bool
	cutoff  tag.Tag // the newest tag still allowed to launch
}

// runaheadBoundary computes the newest of the oldest maxActive distinct
// cycling tags currently present in the population. A cycling-tagged proxy
// younger than this cutoff has its launch deferred, not its creation —
// the proxy still exists, satisfies prerequisites, and spawns, it just
// doesn't submit until an older cycle retires and frees a slot.
func (m *Manager) runaheadBoundary() runaheadBoundary {
	if m.maxActive <= 0 {
		return runaheadBoundary{}
	}
	seen := map[tag.Tag]bool{}
	var tags []tag.Tag
	for _, p := range m.proxies {
		if !p.Identity.Tag.IsCycling() || seen[p.Identity.Tag] {
			continue
		}
		seen[p.Identity.Tag] = true
		tags = append(tags, p.Identity.Tag)
	}
	if len(tags) <= m.maxActive {
		return runaheadBoundary{}
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Before(tags[j]) })
	return runaheadBoundary{bounded: true, cutoff: tags[m.maxActive-1]}
}

func (m *Manager) minRunningTag() (tag.Tag, bool) {
	var min tag.Tag
	found := false
	for _, p := range m.proxies {
		if p.State != statemachine.Running {
			continue
		}
		if !found || p.Identity.Tag.Before(min) {
			min = p.Identity.Tag
			found = true
		}
	}
	return min, found
}

// outputsStillNeeded reports whether any other live proxy has an
// unsatisfied prerequisite naming one of p's output messages.
func (m *Manager) outputsStillNeeded(p *proxy.Proxy) bool {
	for _, msg := range p.Outputs.Messages() {
		for otherID, other := range m.proxies {
			if otherID == p.Identity {
				continue
			}
			if other.Prerequisites.Exists(msg) && !other.Prerequisites.IsCompleted(msg) {
				return true
			}
		}
	}
	return false
}

// publishSummary aggregates each proxy's GetStateSummary for the monitor
// endpoint (spec.md §4.8 step 6). The concrete publish transport is out
// of scope; here it updates the active-proxies gauge and logs at DEBUG.
func (m *Manager) publishSummary() {
	if m.metrics.ActiveProxies != nil {
		current := int64(len(m.proxies))
		m.metrics.ActiveProxies.Add(context.Background(), current-m.lastActiveCount)
		m.lastActiveCount = current
	}
	for _, p := range m.proxies {
		s := p.GetStateSummary()
		slog.Debug("state summary", "identity", s.Name+"%"+s.Tag, "state", s.State)
	}
}

// Proxies returns a snapshot slice of the live population, for the store
// and CLI layers.
func (m *Manager) Proxies() []*proxy.Proxy {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*proxy.Proxy, 0, len(m.proxies))
	for _, p := range m.proxies {
		out = append(out, p)
	}
	return out
}

// Empty reports whether the live proxy set is empty (spec.md §4.8
// "Shutdown").
func (m *Manager) Empty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.proxies) == 0
}

// Pump is the cooperative event loop of spec.md §4.9: it blocks on either
// a transport delivery or a bounded timer, applies the message (if any),
// then runs one tick, until ctx is cancelled or the population empties.
func (m *Manager) Pump(ctx context.Context, tickInterval time.Duration) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	var deliveries <-chan transport.Delivery
	if m.transport != nil {
		deliveries = m.transport.Deliveries()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				deliveries = nil
				continue
			}
			if err := m.Incoming(ctx, d.Identity, d.Priority, d.Message); err != nil {
				return err
			}
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				return err
			}
		}
		if m.Empty() {
			return nil
		}
	}
}
