// Package watcher keeps the recency trackers in sync with reality: it seeds
// them from the current stacking order at startup and bumps them on every
// focus change, whether the switcher caused it or the user clicked.
package watcher

import (
	"context"
	"time"

	"quickswitch/internal/recency"
	"quickswitch/internal/util"
	"quickswitch/pkg/window"
)

// ErrorSink persists failures worth surfacing later.
type ErrorSink interface {
	LogError(component, msg string)
}

type Service struct {
	sys    window.System
	apps   *recency.Tracker[window.ProcessID]
	wins   *recency.Tracker[window.WindowID]
	sink   ErrorSink
	logger *util.Logger

	// onFocus lets the switcher refresh a live session when focus moves
	// under it.
	onFocus func()

	// pollInterval drives the fallback when the event subscription is
	// unavailable.
	pollInterval time.Duration
}

func NewService(sys window.System, apps *recency.Tracker[window.ProcessID], wins *recency.Tracker[window.WindowID], sink ErrorSink, onFocus func(), logger *util.Logger) *Service {
	return &Service{
		sys:          sys,
		apps:         apps,
		wins:         wins,
		sink:         sink,
		logger:       logger,
		onFocus:      onFocus,
		pollInterval: time.Second,
	}
}

// Run seeds the trackers and then follows focus changes until the context is
// cancelled. Subscription failures degrade to polling instead of erroring
// out: ordering quality drops, correctness does not.
func (s *Service) Run(ctx context.Context) error {
	s.seed(ctx)

	changes, err := s.sys.WatchActive(ctx)
	if err != nil {
		s.logger.Warnf("focus subscription unavailable, polling instead: %v", err)
		s.sink.LogError("watcher", err.Error())
		return s.poll(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change, ok := <-changes:
			if !ok {
				s.logger.Warnf("focus stream closed, polling instead")
				return s.poll(ctx)
			}
			s.bump(change)
		}
	}
}

// seed initializes both trackers from the stacking order so the first
// session after startup already cycles in a plausible order. Seeding is a
// one-shot: once a real focus change lands, these entries only persist
// behind it.
func (s *Service) seed(ctx context.Context) {
	infos, err := s.sys.OnScreen(ctx)
	if err != nil {
		s.logger.Warnf("recency seed failed: %v", err)
		// Mark both trackers seeded anyway so sessions do not wait on a
		// snapshot that will never come.
		s.apps.Seed(nil)
		s.wins.Seed(nil)
		return
	}
	pids := make([]window.ProcessID, 0, len(infos))
	ids := make([]window.WindowID, 0, len(infos))
	for _, info := range infos {
		if info.Shell {
			continue
		}
		ids = append(ids, info.Window)
		if info.Process != 0 {
			pids = append(pids, info.Process)
		}
	}
	s.apps.Seed(pids)
	s.wins.Seed(ids)
	s.logger.Debugf("seeded recency with %d windows across %d entries", len(ids), len(pids))
}

func (s *Service) bump(change window.FocusChange) {
	if change.Window != 0 {
		s.wins.Bump(change.Window)
	}
	if change.Process != 0 {
		s.apps.Bump(change.Process)
	}
	if s.onFocus != nil {
		s.onFocus()
	}
}

// poll is the degraded path: sample the active window on a timer and
// synthesize focus changes from transitions.
func (s *Service) poll(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	var last window.WindowID
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			id, pid, ok := s.sys.ActiveWindow(ctx)
			if !ok || id == last {
				continue
			}
			last = id
			s.bump(window.FocusChange{Window: id, Process: pid})
		}
	}
}
