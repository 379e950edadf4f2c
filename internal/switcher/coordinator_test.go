package switcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"quickswitch/internal/recency"
	"quickswitch/internal/util"
	"quickswitch/pkg/window"
)

type fakeEnum struct {
	mu      sync.Mutex
	current []window.Candidate
	calls   int
	gate    chan struct{} // when non-nil, each call waits for one token
}

func (f *fakeEnum) Candidates(ctx context.Context, mode window.Mode, fast bool) []window.Candidate {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make([]window.Candidate, len(f.current))
	copy(out, f.current)
	return out
}

func (f *fakeEnum) set(list []window.Candidate) {
	f.mu.Lock()
	f.current = list
	f.mu.Unlock()
}

type raise struct {
	kind window.Kind
	win  window.WindowID
	pid  window.ProcessID
}

type fakeFocus struct {
	mu     sync.Mutex
	raises []raise
}

func (f *fakeFocus) RaiseWindow(ctx context.Context, id window.WindowID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raises = append(f.raises, raise{kind: window.KindWindow, win: id})
	return nil
}

func (f *fakeFocus) RaiseProcess(ctx context.Context, pid window.ProcessID, preferred window.WindowID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raises = append(f.raises, raise{kind: window.KindApp, pid: pid, win: preferred})
	return nil
}

func (f *fakeFocus) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.raises)
}

func (f *fakeFocus) last() (raise, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.raises) == 0 {
		return raise{}, false
	}
	return f.raises[len(f.raises)-1], true
}

type fakeRenderer struct {
	mu      sync.Mutex
	shows   int
	hides   int
	visible bool
}

func (f *fakeRenderer) Show(list []window.Candidate, selected int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shows++
	f.visible = true
}

func (f *fakeRenderer) Update(list []window.Candidate, selected int) {}

func (f *fakeRenderer) Hide() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hides++
	f.visible = false
}

func (f *fakeRenderer) shown() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shows > 0
}

type fakeDetectors struct {
	mu      sync.Mutex
	started []uint64
	stops   int
}

func (f *fakeDetectors) StartReleaseDetectors(gen uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, gen)
}

func (f *fakeDetectors) StopReleaseDetectors() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

type fakePolicy struct {
	mode  window.Mode
	delay time.Duration
}

func (f fakePolicy) Mode() window.Mode          { return f.mode }
func (f fakePolicy) RevealDelay() time.Duration { return f.delay }

type fixture struct {
	coord    *Coordinator
	enum     *fakeEnum
	focus    *fakeFocus
	renderer *fakeRenderer
	det      *fakeDetectors
	cancel   context.CancelFunc
}

func newFixture(t *testing.T, policy fakePolicy, timing Timing) *fixture {
	t.Helper()
	enum := &fakeEnum{}
	focus := &fakeFocus{}
	renderer := &fakeRenderer{}
	det := &fakeDetectors{}
	apps := recency.New[window.ProcessID]()
	wins := recency.New[window.WindowID]()
	apps.Seed(nil)
	wins.Seed(nil)
	logger := util.NewLogger(util.LevelError)
	coord := New(enum, focus, renderer, det, policy, timing, apps, wins, logger)
	ctx, cancel := context.WithCancel(context.Background())
	coord.startWorkers(ctx)
	t.Cleanup(cancel)
	return &fixture{coord: coord, enum: enum, focus: focus, renderer: renderer, det: det, cancel: cancel}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never met: %s", what)
}

func candidates(n int) []window.Candidate {
	out := make([]window.Candidate, n)
	for i := range out {
		out[i] = window.Candidate{
			Kind:    window.KindWindow,
			Window:  window.WindowID(i + 1),
			Process: window.ProcessID(100 + i),
			AppName: string(rune('a' + i)),
		}
	}
	return out
}

func TestDefaultPreselection(t *testing.T) {
	fx := newFixture(t, fakePolicy{mode: window.ModeWindows, delay: 5 * time.Millisecond}, Timing{})
	fx.enum.set(candidates(4))
	fx.coord.Activate(window.Next)
	eventually(t, "selection lands on index 1", func() bool {
		_, _, sel := fx.coord.Snapshot()
		return sel == 1
	})
}

func TestSingleCandidatePreselectsZero(t *testing.T) {
	fx := newFixture(t, fakePolicy{mode: window.ModeWindows, delay: 5 * time.Millisecond}, Timing{})
	fx.enum.set(candidates(1))
	fx.coord.Activate(window.Next)
	eventually(t, "selection lands on index 0", func() bool {
		_, list, sel := fx.coord.Snapshot()
		return len(list) == 1 && sel == 0
	})
}

func TestPendingCycleOffsetAppliedToLateList(t *testing.T) {
	fx := newFixture(t, fakePolicy{mode: window.ModeWindows, delay: 50 * time.Millisecond}, Timing{FallbackReveal: time.Second})
	gate := make(chan struct{})
	fx.enum.gate = gate
	fx.enum.set(candidates(5))

	fx.coord.Activate(window.Next) // creates the session
	time.Sleep(10 * time.Millisecond)
	fx.coord.Activate(window.Next) // queued: +1
	fx.coord.Activate(window.Next) // queued: +1

	fx.coord.mu.Lock()
	offset := fx.coord.sess.pendingOffset
	fx.coord.mu.Unlock()
	if offset != 2 {
		t.Fatalf("pending offset = %d, want 2", offset)
	}

	close(gate)
	eventually(t, "selected = (1+2) mod 5 = 3", func() bool {
		_, _, sel := fx.coord.Snapshot()
		return sel == 3
	})
}

func TestDeferredCommitBeforeReveal(t *testing.T) {
	fx := newFixture(t, fakePolicy{mode: window.ModeWindows, delay: 500 * time.Millisecond}, Timing{FallbackReveal: 2 * time.Second})
	fx.enum.set(nil) // empty initial enumeration

	fx.coord.Activate(window.Next)
	eventually(t, "empty refresh applied", func() bool {
		fx.coord.mu.Lock()
		defer fx.coord.mu.Unlock()
		return fx.coord.haveList
	})

	fx.enum.set(candidates(3))
	fx.coord.Commit()

	eventually(t, "focus issued for index 1", func() bool {
		r, ok := fx.focus.last()
		return ok && r.win == 2
	})
	if fx.renderer.shown() {
		t.Error("overlay became visible during deferred commit")
	}
	_, _, state := fx.coord.Snapshot()
	_ = state
	if st, _, _ := fx.coord.Snapshot(); st != StateIdle {
		t.Errorf("state = %v, want idle", st)
	}
}

func TestCommitWithNoCandidatesIsNoop(t *testing.T) {
	fx := newFixture(t, fakePolicy{mode: window.ModeWindows, delay: 10 * time.Millisecond}, Timing{})
	fx.enum.set(nil)
	fx.coord.Activate(window.Next)
	fx.coord.Commit()
	eventually(t, "session resolves to idle", func() bool {
		st, _, _ := fx.coord.Snapshot()
		return st == StateIdle
	})
	time.Sleep(20 * time.Millisecond)
	if fx.focus.count() != 0 {
		t.Errorf("focus actions = %d, want 0", fx.focus.count())
	}
}

func TestCommitIsIdempotent(t *testing.T) {
	fx := newFixture(t, fakePolicy{mode: window.ModeWindows, delay: time.Millisecond}, Timing{})
	fx.enum.set(candidates(3))
	fx.coord.Activate(window.Next)
	eventually(t, "overlay visible", fx.renderer.shown)

	fx.coord.Commit()
	fx.coord.Commit()
	fx.coord.Commit()
	eventually(t, "one focus action dispatched", func() bool {
		return fx.focus.count() == 1
	})
	time.Sleep(30 * time.Millisecond)
	if fx.focus.count() != 1 {
		t.Errorf("focus actions = %d, want exactly 1", fx.focus.count())
	}
}

func TestCycleWrapsBothDirections(t *testing.T) {
	fx := newFixture(t, fakePolicy{mode: window.ModeWindows, delay: time.Millisecond}, Timing{})
	fx.enum.set(candidates(3))
	fx.coord.Activate(window.Next)
	eventually(t, "overlay visible", fx.renderer.shown)

	// Selected starts at 1. Two Next presses wrap past the end.
	fx.coord.Activate(window.Next)
	fx.coord.Activate(window.Next)
	if _, _, sel := fx.coord.Snapshot(); sel != 0 {
		t.Fatalf("selected = %d, want 0 after wrapping forward", sel)
	}
	fx.coord.Activate(window.Previous)
	if _, _, sel := fx.coord.Snapshot(); sel != 2 {
		t.Fatalf("selected = %d, want 2 after wrapping backward", sel)
	}
}

func TestSelectionContinuityByIdentity(t *testing.T) {
	fx := newFixture(t, fakePolicy{mode: window.ModeWindows, delay: time.Millisecond}, Timing{})
	list := candidates(4)
	fx.enum.set(list)
	fx.coord.Activate(window.Next)
	eventually(t, "overlay visible", fx.renderer.shown)

	fx.coord.Activate(window.Next) // select index 2, window id 3
	shuffled := []window.Candidate{list[3], list[0], list[2], list[1]}
	fx.enum.set(shuffled)
	fx.coord.NotifyExternalChange()

	eventually(t, "selection follows identity to new index", func() bool {
		_, cur, sel := fx.coord.Snapshot()
		return sel >= 0 && sel < len(cur) && cur[sel].Window == 3
	})

	fx.coord.Commit()
	eventually(t, "commit resolves the tracked identity", func() bool {
		r, ok := fx.focus.last()
		return ok && r.win == 3
	})
}

func TestSelectionClampsWhenIdentityDisappears(t *testing.T) {
	fx := newFixture(t, fakePolicy{mode: window.ModeWindows, delay: time.Millisecond}, Timing{})
	list := candidates(4)
	fx.enum.set(list)
	fx.coord.Activate(window.Next)
	eventually(t, "overlay visible", fx.renderer.shown)

	fx.coord.Activate(window.Next)
	fx.coord.Activate(window.Next) // selected index 3
	fx.enum.set(candidates(2))     // selected identity gone, list shrank
	fx.coord.NotifyExternalChange()

	eventually(t, "index clamps to new count - 1", func() bool {
		_, cur, sel := fx.coord.Snapshot()
		return len(cur) == 2 && sel == 1
	})
}

func TestCancelWhileVisible(t *testing.T) {
	fx := newFixture(t, fakePolicy{mode: window.ModeWindows, delay: time.Millisecond}, Timing{})
	fx.enum.set(candidates(3))
	fx.coord.Activate(window.Next)
	eventually(t, "overlay visible", fx.renderer.shown)

	fx.coord.Cancel()
	if st, _, _ := fx.coord.Snapshot(); st != StateIdle {
		t.Errorf("state = %v, want idle", st)
	}
	fx.renderer.mu.Lock()
	visible := fx.renderer.visible
	fx.renderer.mu.Unlock()
	if visible {
		t.Error("overlay still visible after cancel")
	}
	time.Sleep(30 * time.Millisecond)
	if fx.focus.count() != 0 {
		t.Errorf("focus actions after cancel = %d, want 0", fx.focus.count())
	}
}

func TestStaleTimerFromSupersededSessionIsIgnored(t *testing.T) {
	fx := newFixture(t, fakePolicy{mode: window.ModeWindows, delay: time.Millisecond}, Timing{})
	fx.enum.set(candidates(2))
	fx.coord.Activate(window.Next)
	eventually(t, "overlay visible", fx.renderer.shown)

	fx.coord.mu.Lock()
	oldGen := fx.coord.sess.gen
	fx.coord.mu.Unlock()

	fx.coord.Cancel()
	fx.coord.Activate(window.Next)

	// A reveal callback from the dead session must be a no-op.
	fx.coord.reveal(oldGen)
	fx.coord.mu.Lock()
	gen := fx.coord.sess.gen
	fx.coord.mu.Unlock()
	if gen == oldGen {
		t.Fatal("new session reused the old generation token")
	}
}

func TestDetectorsStartOnRevealAndStopOnCommit(t *testing.T) {
	fx := newFixture(t, fakePolicy{mode: window.ModeWindows, delay: time.Millisecond}, Timing{})
	fx.enum.set(candidates(2))
	fx.coord.Activate(window.Next)
	eventually(t, "detectors started", func() bool {
		fx.det.mu.Lock()
		defer fx.det.mu.Unlock()
		return len(fx.det.started) == 1
	})
	fx.coord.Commit()
	eventually(t, "detectors stopped", func() bool {
		fx.det.mu.Lock()
		defer fx.det.mu.Unlock()
		return fx.det.stops > 0
	})
}

func TestSeedWaitIsBounded(t *testing.T) {
	enum := &fakeEnum{}
	enum.set(candidates(3))
	focus := &fakeFocus{}
	renderer := &fakeRenderer{}
	det := &fakeDetectors{}
	// Neither tracker ever seeds: both waits must run into the timeout.
	apps := recency.New[window.ProcessID]()
	wins := recency.New[window.WindowID]()
	logger := util.NewLogger(util.LevelError)
	coord := New(enum, focus, renderer, det,
		fakePolicy{mode: window.ModeWindows, delay: time.Millisecond},
		Timing{SeedTimeout: 20 * time.Millisecond, FallbackReveal: time.Second},
		apps, wins, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coord.startWorkers(ctx)

	coord.Activate(window.Next)
	eventually(t, "refresh requested despite unseeded trackers", func() bool {
		_, _, sel := coord.Snapshot()
		return sel == 1
	})
}

func TestRevealAnchoredToActivation(t *testing.T) {
	fx := newFixture(t, fakePolicy{mode: window.ModeWindows, delay: 60 * time.Millisecond}, Timing{FallbackReveal: 2 * time.Second})
	gate := make(chan struct{})
	fx.enum.gate = gate
	fx.enum.set(candidates(3))

	fx.coord.Activate(window.Next)
	// Hold enumeration past the reveal delay. The deadline is measured from
	// activation, so once the list lands the overlay must appear at once.
	time.Sleep(100 * time.Millisecond)
	close(gate)

	released := time.Now()
	eventually(t, "overlay visible", fx.renderer.shown)
	if waited := time.Since(released); waited > 50*time.Millisecond {
		t.Errorf("reveal lagged the late list by %v, want the delay anchored to activation", waited)
	}
}

func TestFallbackRevealForcesVisibility(t *testing.T) {
	fx := newFixture(t, fakePolicy{mode: window.ModeWindows, delay: 10 * time.Millisecond}, Timing{FallbackReveal: 30 * time.Millisecond})
	gate := make(chan struct{})
	fx.enum.gate = gate
	defer close(gate)
	fx.enum.set(candidates(2))

	fx.coord.Activate(window.Next)
	eventually(t, "overlay forced visible with enumeration stalled", fx.renderer.shown)
	if st, list, _ := fx.coord.Snapshot(); st != StateVisible || len(list) != 0 {
		t.Errorf("state = %v with %d candidates, want visible with no list yet", st, len(list))
	}
}

func TestAppModeCommitRaisesProcess(t *testing.T) {
	fx := newFixture(t, fakePolicy{mode: window.ModeApps, delay: time.Millisecond}, Timing{})
	fx.enum.set([]window.Candidate{
		{Kind: window.KindApp, Process: 100, Window: 10, AppName: "editor"},
		{Kind: window.KindApp, Process: 200, Window: 20, AppName: "mail"},
	})
	fx.coord.Activate(window.Next)
	eventually(t, "overlay visible", fx.renderer.shown)
	fx.coord.Commit()
	eventually(t, "process raise dispatched", func() bool {
		r, ok := fx.focus.last()
		return ok && r.kind == window.KindApp && r.pid == 200
	})
}
