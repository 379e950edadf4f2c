package enumerate

import (
	"context"
	"errors"
	"testing"

	"quickswitch/internal/recency"
	"quickswitch/internal/util"
	"quickswitch/pkg/window"
)

type fakeSystem struct {
	onScreen  []window.Info
	all       []window.Info
	active    window.WindowID
	activePID window.ProcessID
	fail      bool
}

func (f *fakeSystem) OnScreen(context.Context) ([]window.Info, error) {
	if f.fail {
		return nil, errors.New("display gone")
	}
	return f.onScreen, nil
}

func (f *fakeSystem) AllWindows(context.Context) ([]window.Info, error) {
	if f.fail {
		return nil, errors.New("display gone")
	}
	return f.all, nil
}

func (f *fakeSystem) ActiveWindow(context.Context) (window.WindowID, window.ProcessID, bool) {
	return f.active, f.activePID, f.active != 0
}

func (f *fakeSystem) StackingOrder(context.Context) ([]window.WindowID, bool) {
	ids := make([]window.WindowID, 0, len(f.onScreen))
	for _, info := range f.onScreen {
		ids = append(ids, info.Window)
	}
	return ids, true
}

func (f *fakeSystem) FullOrder(context.Context) ([]window.WindowID, bool) {
	ids := make([]window.WindowID, 0, len(f.all))
	for _, info := range f.all {
		ids = append(ids, info.Window)
	}
	return ids, true
}

func (f *fakeSystem) RaiseWindow(context.Context, window.WindowID) error { return nil }
func (f *fakeSystem) RaiseProcess(context.Context, window.ProcessID, window.WindowID) error {
	return nil
}
func (f *fakeSystem) WatchActive(context.Context) (<-chan window.FocusChange, error) {
	return nil, errors.New("not supported")
}
func (f *fakeSystem) Ping(context.Context) error { return nil }
func (f *fakeSystem) Close() error               { return nil }

type fakePrefs struct{ p window.Placements }

func (f fakePrefs) Placements() window.Placements { return f.p }

func usable(id window.WindowID, pid window.ProcessID, app, title string) window.Info {
	return window.Info{
		Window: id, Process: pid, AppName: app, Title: title,
		Opacity: 1, Width: 800, Height: 600,
	}
}

func newTestService(sys window.System, prefs window.Placements) (*Service, *recency.Tracker[window.ProcessID], *recency.Tracker[window.WindowID]) {
	apps := recency.New[window.ProcessID]()
	wins := recency.New[window.WindowID]()
	logger := util.NewLogger(util.LevelError)
	return NewService(sys, fakePrefs{prefs}, apps, wins, logger), apps, wins
}

func TestQueryFailureYieldsEmptyList(t *testing.T) {
	svc, _, _ := newTestService(&fakeSystem{fail: true}, window.Placements{})
	got := svc.Candidates(context.Background(), window.ModeWindows, false)
	if len(got) != 0 {
		t.Fatalf("expected empty list on query failure, got %d candidates", len(got))
	}
}

func TestNoiseFilter(t *testing.T) {
	tests := []struct {
		name string
		info window.Info
		want bool
	}{
		{"usable", usable(1, 100, "editor", "main.go"), true},
		{"override redirect", window.Info{Window: 2, Process: 100, OverrideRedirect: true, Opacity: 1, Width: 800, Height: 600}, false},
		{"transparent", window.Info{Window: 3, Process: 100, Opacity: 0.01, Width: 800, Height: 600}, false},
		{"tiny", window.Info{Window: 4, Process: 100, Opacity: 1, Width: 20, Height: 20}, false},
		{"shell", window.Info{Window: 5, Process: 100, Shell: true, Opacity: 1, Width: 800, Height: 600}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sys := &fakeSystem{onScreen: []window.Info{tt.info}}
			svc, _, _ := newTestService(sys, window.Placements{})
			got := svc.Candidates(context.Background(), window.ModeWindows, true)
			if (len(got) == 1) != tt.want {
				t.Errorf("kept=%v, want %v", len(got) == 1, tt.want)
			}
		})
	}
}

func TestFastPassSkipsOffScreenWindows(t *testing.T) {
	sys := &fakeSystem{
		onScreen: []window.Info{usable(1, 100, "editor", "a")},
		all: []window.Info{
			usable(1, 100, "editor", "a"),
			{Window: 2, Process: 200, AppName: "mail", Hidden: true},
		},
	}
	svc, _, _ := newTestService(sys, window.Placements{})
	if got := svc.Candidates(context.Background(), window.ModeWindows, true); len(got) != 1 {
		t.Fatalf("fast pass: got %d candidates, want 1", len(got))
	}
	if got := svc.Candidates(context.Background(), window.ModeWindows, false); len(got) != 2 {
		t.Fatalf("full pass: got %d candidates, want 2", len(got))
	}
}

func TestExcludedCategoriesAreDropped(t *testing.T) {
	sys := &fakeSystem{
		onScreen: []window.Info{usable(1, 100, "editor", "a")},
		all: []window.Info{
			usable(1, 100, "editor", "a"),
			{Window: 2, Process: 200, AppName: "mail", Hidden: true},
			{Window: 3, Process: 300, AppName: "chat", Minimized: true},
		},
	}
	prefs := window.Placements{
		HiddenApps:       window.PlaceExclude,
		MinimizedWindows: window.PlaceAtEnd,
	}
	svc, _, _ := newTestService(sys, prefs)
	got := svc.Candidates(context.Background(), window.ModeWindows, false)
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2 (hidden excluded)", len(got))
	}
	for _, c := range got {
		if c.Window == 2 {
			t.Error("hidden window survived exclude placement")
		}
		if c.Window == 3 && c.Tier != window.TierAtEnd {
			t.Errorf("minimized window tier = %v, want atEnd", c.Tier)
		}
	}
}

func TestFrontmostIsNeverDropped(t *testing.T) {
	sys := &fakeSystem{
		onScreen: []window.Info{
			usable(1, 100, "editor", "a"),
			usable(2, 200, "mail", "inbox"),
		},
		all: []window.Info{
			usable(1, 100, "editor", "a"),
			usable(2, 200, "mail", "inbox"),
			{Window: 3, Process: 200, AppName: "mail", Hidden: true},
		},
		active:    2,
		activePID: 200,
	}
	onScreen := sys.onScreen
	for i := range onScreen {
		if onScreen[i].Window == 2 {
			onScreen[i].Hidden = true
		}
	}
	prefs := window.Placements{HiddenApps: window.PlaceExclude}
	svc, _, _ := newTestService(sys, prefs)
	got := svc.Candidates(context.Background(), window.ModeWindows, false)
	found := false
	for _, c := range got {
		if c.Window == 2 {
			found = true
			if c.Tier != window.TierNormal {
				t.Errorf("frontmost tier = %v, want normal", c.Tier)
			}
		}
	}
	if !found {
		t.Fatal("frontmost window was dropped by exclude placement")
	}
}

func TestAppModeAggregatesByProcess(t *testing.T) {
	sys := &fakeSystem{
		onScreen: []window.Info{
			usable(1, 100, "editor", "a"),
			usable(2, 100, "editor", "b"),
			usable(3, 200, "mail", "inbox"),
		},
		all: []window.Info{
			usable(1, 100, "editor", "a"),
			usable(2, 100, "editor", "b"),
			usable(3, 200, "mail", "inbox"),
		},
	}
	svc, _, _ := newTestService(sys, window.Placements{})
	got := svc.Candidates(context.Background(), window.ModeApps, false)
	if len(got) != 2 {
		t.Fatalf("got %d app candidates, want 2", len(got))
	}
	counts := map[window.ProcessID]int{}
	for _, c := range got {
		if c.Kind != window.KindApp {
			t.Errorf("candidate kind = %v, want app", c.Kind)
		}
		counts[c.Process] = c.WindowCount
	}
	if counts[100] != 2 || counts[200] != 1 {
		t.Errorf("window counts = %v, want 100:2 200:1", counts)
	}
}

func TestDeduplicatesAcrossPasses(t *testing.T) {
	shared := usable(7, 700, "editor", "dup")
	sys := &fakeSystem{
		onScreen: []window.Info{shared, shared},
		all:      []window.Info{shared},
	}
	svc, _, _ := newTestService(sys, window.Placements{})
	got := svc.Candidates(context.Background(), window.ModeWindows, false)
	if len(got) != 1 {
		t.Fatalf("got %d candidates, want 1 after de-dup", len(got))
	}
}

func TestRecencyOrderingDrivesResult(t *testing.T) {
	sys := &fakeSystem{
		onScreen: []window.Info{
			usable(1, 100, "editor", "a"),
			usable(2, 200, "mail", "b"),
			usable(3, 300, "chat", "c"),
		},
		all: []window.Info{
			usable(1, 100, "editor", "a"),
			usable(2, 200, "mail", "b"),
			usable(3, 300, "chat", "c"),
		},
	}
	svc, _, wins := newTestService(sys, window.Placements{})
	wins.Bump(3)
	wins.Bump(2) // recency: 2, 3
	got := svc.Candidates(context.Background(), window.ModeWindows, false)
	want := []window.WindowID{2, 3, 1}
	for i, c := range got {
		if c.Window != want[i] {
			t.Fatalf("order[%d] = %d, want %d", i, c.Window, want[i])
		}
	}
}

func TestTierGroupingIsStable(t *testing.T) {
	ordered := []window.Candidate{
		{Window: 1, Tier: window.TierAtEnd},
		{Window: 2, Tier: window.TierNormal},
		{Window: 3, Tier: window.TierAtEnd},
		{Window: 4, Tier: window.TierNormal},
	}
	got := GroupTiers(ordered)
	want := []window.WindowID{2, 4, 1, 3}
	for i, c := range got {
		if c.Window != want[i] {
			t.Fatalf("grouped[%d] = %d, want %d", i, c.Window, want[i])
		}
	}
}
