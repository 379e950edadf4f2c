// Package enumerate builds the candidate list for one switcher invocation:
// query the window system, drop noise, classify visibility tiers from the
// placement preferences, and hand the result to the matching recency tracker
// for final ordering.
package enumerate

import (
	"context"
	"os"

	"quickswitch/internal/recency"
	"quickswitch/internal/util"
	"quickswitch/pkg/window"
)

// PrefSource supplies the current placement preferences.
type PrefSource interface {
	Placements() window.Placements
}

// Service produces ordered, tier-grouped candidate lists. It never returns an
// error: any window-system failure yields an empty list.
type Service struct {
	sys     window.System
	prefs   PrefSource
	apps    *recency.Tracker[window.ProcessID]
	wins    *recency.Tracker[window.WindowID]
	logger  *util.Logger
	selfPID window.ProcessID
}

func NewService(sys window.System, prefs PrefSource, apps *recency.Tracker[window.ProcessID], wins *recency.Tracker[window.WindowID], logger *util.Logger) *Service {
	return &Service{
		sys:     sys,
		prefs:   prefs,
		apps:    apps,
		wins:    wins,
		logger:  logger,
		selfPID: window.ProcessID(os.Getpid()),
	}
}

// Candidates enumerates for the given mode. fast skips the supplementary
// introspection pass over off-screen windows so the first paint is quick; a
// full pass should follow through the normal refresh path.
func (s *Service) Candidates(ctx context.Context, mode window.Mode, fast bool) []window.Candidate {
	onScreen, err := s.sys.OnScreen(ctx)
	if err != nil {
		s.logger.Debugf("enumerate: on-screen query failed: %v", err)
		return nil
	}

	activeWin, activePID, haveActive := s.sys.ActiveWindow(ctx)

	seen := make(map[window.WindowID]struct{}, len(onScreen))
	var eligible []window.Info
	for _, info := range onScreen {
		if _, dup := seen[info.Window]; dup {
			continue
		}
		seen[info.Window] = struct{}{}
		if !s.keep(info) {
			continue
		}
		eligible = append(eligible, info)
	}

	prefs := s.prefs.Placements()
	supplementary := !fast && (prefs.HiddenApps != window.PlaceExclude ||
		prefs.MinimizedWindows != window.PlaceExclude ||
		prefs.WindowlessApps != window.PlaceExclude)
	var offScreen []window.Info
	if supplementary {
		all, err := s.sys.AllWindows(ctx)
		if err != nil {
			s.logger.Debugf("enumerate: full window query failed: %v", err)
		}
		for _, info := range all {
			if _, dup := seen[info.Window]; dup {
				continue
			}
			seen[info.Window] = struct{}{}
			if !s.keepOffScreen(info) {
				continue
			}
			if info.Hidden && prefs.HiddenApps == window.PlaceExclude && info.Process != activePID {
				continue
			}
			if info.Minimized && prefs.MinimizedWindows == window.PlaceExclude && info.Process != activePID {
				continue
			}
			offScreen = append(offScreen, info)
		}
	}

	var list []window.Candidate
	switch mode {
	case window.ModeWindows:
		list = s.windowCandidates(eligible, offScreen, activeWin, haveActive, prefs)
	default:
		list = s.appCandidates(eligible, offScreen, activePID, haveActive, prefs)
	}

	s.pruneTrackers(ctx, eligible, offScreen)
	return s.order(ctx, mode, list)
}

// keep is the noise filter for on-screen windows.
func (s *Service) keep(info window.Info) bool {
	if info.OverrideRedirect || info.Shell {
		return false
	}
	if info.Process == s.selfPID {
		return false
	}
	if info.Opacity < opacityEpsilon {
		return false
	}
	if info.Width < minUsableSize || info.Height < minUsableSize {
		return false
	}
	return true
}

// keepOffScreen relaxes the size and opacity checks: hidden and minimized
// windows commonly report degenerate geometry.
func (s *Service) keepOffScreen(info window.Info) bool {
	if info.OverrideRedirect || info.Shell {
		return false
	}
	if info.Process == s.selfPID {
		return false
	}
	return true
}

const (
	opacityEpsilon = 0.05
	minUsableSize  = 50
)

func (s *Service) windowCandidates(eligible, offScreen []window.Info, active window.WindowID, haveActive bool, prefs window.Placements) []window.Candidate {
	out := make([]window.Candidate, 0, len(eligible)+len(offScreen))
	add := func(info window.Info) {
		frontmost := haveActive && info.Window == active
		tier, keep := classify(info.Hidden, info.Minimized, false, frontmost, prefs)
		if !keep {
			return
		}
		out = append(out, window.Candidate{
			Kind:      window.KindWindow,
			Window:    info.Window,
			Process:   info.Process,
			AppName:   info.AppName,
			Title:     info.Title,
			Tier:      tier,
			Frontmost: frontmost,
			Hidden:    info.Hidden,
			Minimized: info.Minimized,
		})
	}
	for _, info := range eligible {
		add(info)
	}
	for _, info := range offScreen {
		add(info)
	}
	return out
}

func (s *Service) appCandidates(eligible, offScreen []window.Info, activePID window.ProcessID, haveActive bool, prefs window.Placements) []window.Candidate {
	type agg struct {
		c       window.Candidate
		visible int
	}
	byPID := make(map[window.ProcessID]*agg)
	var pidOrder []window.ProcessID
	merge := func(info window.Info, visible bool) {
		if info.Process == 0 {
			return
		}
		a, ok := byPID[info.Process]
		if !ok {
			a = &agg{c: window.Candidate{
				Kind:    window.KindApp,
				Window:  info.Window,
				Process: info.Process,
				AppName: info.AppName,
				Title:   info.Title,
				Hidden:  true,
			}}
			byPID[info.Process] = a
			pidOrder = append(pidOrder, info.Process)
		}
		a.c.WindowCount++
		if visible {
			a.visible++
		}
		// An app is hidden only if every window of it is.
		if !info.Hidden {
			a.c.Hidden = false
		}
	}
	for _, info := range eligible {
		merge(info, true)
	}
	for _, info := range offScreen {
		merge(info, false)
	}

	out := make([]window.Candidate, 0, len(pidOrder))
	for _, pid := range pidOrder {
		a := byPID[pid]
		a.c.Frontmost = haveActive && pid == activePID
		windowless := a.visible == 0 && !a.c.Hidden && !a.c.Minimized
		tier, keep := classify(a.c.Hidden, false, windowless, a.c.Frontmost, prefs)
		if !keep {
			continue
		}
		a.c.Tier = tier
		out = append(out, a.c)
	}
	return out
}

// classify combines the candidate's state flags with the matching placement
// preference. The frontmost candidate is never dropped: the user's current
// focus must remain selectable.
func classify(hidden, minimized, windowless, frontmost bool, prefs window.Placements) (window.Tier, bool) {
	if frontmost {
		return window.TierNormal, true
	}
	pick := func(p window.Placement) (window.Tier, bool) {
		switch p {
		case window.PlaceExclude:
			return window.TierNormal, false
		case window.PlaceAtEnd:
			return window.TierAtEnd, true
		default:
			return window.TierNormal, true
		}
	}
	if hidden {
		return pick(prefs.HiddenApps)
	}
	if minimized {
		return pick(prefs.MinimizedWindows)
	}
	if windowless {
		return pick(prefs.WindowlessApps)
	}
	return window.TierNormal, true
}

func (s *Service) pruneTrackers(ctx context.Context, eligible, offScreen []window.Info) {
	winValid := make(map[window.WindowID]struct{}, len(eligible)+len(offScreen))
	pidValid := make(map[window.ProcessID]struct{}, len(eligible)+len(offScreen))
	for _, set := range [][]window.Info{eligible, offScreen} {
		for _, info := range set {
			winValid[info.Window] = struct{}{}
			if info.Process != 0 {
				pidValid[info.Process] = struct{}{}
			}
		}
	}
	s.wins.Prune(winValid)
	s.apps.Prune(pidValid)
}

// order hands the candidate set to the matching tracker and stable-partitions
// the result into the normal tier followed by the atEnd tier.
func (s *Service) order(ctx context.Context, mode window.Mode, list []window.Candidate) []window.Candidate {
	if len(list) == 0 {
		return list
	}
	var ordered []window.Candidate
	if mode == window.ModeWindows {
		items := make([]recency.Item[window.WindowID], len(list))
		for i, c := range list {
			items[i] = recency.Item[window.WindowID]{ID: c.Window, Name: c.AppName + " " + c.Title, Pos: i}
		}
		sorted := s.wins.Order(ctx, items, recency.OrderConfig[window.WindowID]{
			Phases: []recency.Phase[window.WindowID]{s.sys.StackingOrder, s.sys.FullOrder},
		})
		ordered = make([]window.Candidate, len(sorted))
		for i, it := range sorted {
			ordered[i] = list[it.Pos]
		}
	} else {
		items := make([]recency.Item[window.ProcessID], len(list))
		for i, c := range list {
			items[i] = recency.Item[window.ProcessID]{ID: c.Process, Name: c.AppName, Frontmost: c.Frontmost, Pos: i}
		}
		sorted := s.apps.Order(ctx, items, recency.OrderConfig[window.ProcessID]{
			FrontmostFirst: true,
			Phases: []recency.Phase[window.ProcessID]{
				s.pidPhase(s.sys.StackingOrder),
				s.pidPhase(s.sys.FullOrder),
			},
		})
		ordered = make([]window.Candidate, len(sorted))
		for i, it := range sorted {
			ordered[i] = list[it.Pos]
		}
	}
	return GroupTiers(ordered)
}

// pidPhase adapts a window-id z-order query into a process-id phase by
// resolving owners and deduplicating in encounter order.
func (s *Service) pidPhase(q func(ctx context.Context) ([]window.WindowID, bool)) recency.Phase[window.ProcessID] {
	return func(ctx context.Context) ([]window.ProcessID, bool) {
		ids, ok := q(ctx)
		if !ok {
			return nil, false
		}
		all, err := s.sys.AllWindows(ctx)
		if err != nil {
			return nil, false
		}
		owner := make(map[window.WindowID]window.ProcessID, len(all))
		for _, info := range all {
			owner[info.Window] = info.Process
		}
		seen := make(map[window.ProcessID]struct{}, len(ids))
		var pids []window.ProcessID
		for _, id := range ids {
			pid, ok := owner[id]
			if !ok || pid == 0 {
				continue
			}
			if _, dup := seen[pid]; dup {
				continue
			}
			seen[pid] = struct{}{}
			pids = append(pids, pid)
		}
		return pids, true
	}
}

// GroupTiers stable-partitions an ordered list into normal then atEnd,
// preserving relative order within each tier.
func GroupTiers(ordered []window.Candidate) []window.Candidate {
	out := make([]window.Candidate, 0, len(ordered))
	for _, c := range ordered {
		if c.Tier == window.TierNormal {
			out = append(out, c)
		}
	}
	for _, c := range ordered {
		if c.Tier == window.TierAtEnd {
			out = append(out, c)
		}
	}
	return out
}
