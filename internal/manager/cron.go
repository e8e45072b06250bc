package manager

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// CronPump runs the event pump the way the teacher's Scheduler drives
// periodic work: a seconds-precision cron entry fires a tick on a fixed
// wall-clock cadence (timeout/retry checks, spec.md §4.9's "bounded
// timer"), while Incoming still drives ticks synchronously off message
// delivery. Prefer this over Pump's plain ticker when the deployment
// wants its heartbeat expressed as a cron spec (e.g. "run a tick every
// 10 seconds" as "*/10 * * * * *") rather than a raw duration.
type CronPump struct {
	m       *Manager
	c       *cron.Cron
	stopped chan struct{}
}

// NewCronPump builds a pump whose heartbeat tick fires on heartbeatSpec
// (standard 6-field cron, seconds first).
func NewCronPump(m *Manager, heartbeatSpec string) (*CronPump, error) {
	c := cron.New(cron.WithSeconds())
	p := &CronPump{m: m, c: c, stopped: make(chan struct{})}
	_, err := c.AddFunc(heartbeatSpec, func() {
		if err := m.Tick(context.Background()); err != nil {
			slog.Error("cron tick failed", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Run starts the cron heartbeat and drains transport deliveries until ctx
// is cancelled or, after a delivery, the population is found empty.
// Without a transport, or once the deliveries channel closes, it returns
// only when ctx is cancelled; an empty population does not end it.
func (p *CronPump) Run(ctx context.Context) error {
	p.c.Start()
	defer p.c.Stop()

	if p.m.transport == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-p.m.transport.Deliveries():
			if !ok {
				<-ctx.Done()
				return ctx.Err()
			}
			if err := p.m.Incoming(ctx, d.Identity, d.Priority, d.Message); err != nil {
				return err
			}
		}
		if p.m.Empty() {
			return nil
		}
	}
}
