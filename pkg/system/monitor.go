package system

import (
	"context"
	"time"

	"quickswitch/internal/util"
	"quickswitch/pkg/window"
)

// Monitor pings the display server periodically and fires the grant and
// revoke callbacks on transitions. A revoked connection is not an error
// state: the daemon goes inert and the monitor keeps probing so capture is
// reinstalled as soon as the server is reachable again.
type Monitor struct {
	sys      window.System
	interval time.Duration
	logger   *util.Logger

	onGrant  func()
	onRevoke func()
}

func NewMonitor(sys window.System, interval time.Duration, onGrant, onRevoke func(), logger *util.Logger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		sys:      sys,
		interval: interval,
		logger:   logger,
		onGrant:  onGrant,
		onRevoke: onRevoke,
	}
}

// Run blocks until the context is cancelled. The first probe runs
// immediately so startup does not wait a full interval.
func (m *Monitor) Run(ctx context.Context) {
	available := m.probe(ctx, false)
	tick := time.NewTicker(m.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			available = m.probeTransition(ctx, available)
		}
	}
}

func (m *Monitor) probeTransition(ctx context.Context, wasAvailable bool) bool {
	available := m.probe(ctx, wasAvailable)
	if available == wasAvailable {
		return available
	}
	if available {
		m.logger.Infof("display server reachable again")
		if m.onGrant != nil {
			m.onGrant()
		}
	} else {
		m.logger.Warnf("display server unreachable, going inert")
		if m.onRevoke != nil {
			m.onRevoke()
		}
	}
	return available
}

func (m *Monitor) probe(ctx context.Context, quiet bool) bool {
	err := m.sys.Ping(ctx)
	if err != nil && !quiet {
		m.logger.Debugf("ping failed: %v", err)
	}
	return err == nil
}
