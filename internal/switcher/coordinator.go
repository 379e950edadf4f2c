// Package switcher implements the activation state machine: it consumes the
// interceptor's activate/commit/cancel signals, drives enumeration and the
// recency trackers, and hands the resolved target to the focus executor.
package switcher

import (
	"context"
	"sync"
	"time"

	"quickswitch/internal/recency"
	"quickswitch/internal/util"
	"quickswitch/pkg/window"
)

// State is the coordinator's activation state.
type State int

const (
	StateIdle State = iota
	StatePendingOpen
	StateVisible
)

func (s State) String() string {
	switch s {
	case StatePendingOpen:
		return "pending-open"
	case StateVisible:
		return "visible"
	}
	return "idle"
}

// Enumerator produces candidate lists. Implemented by enumerate.Service.
type Enumerator interface {
	Candidates(ctx context.Context, mode window.Mode, fast bool) []window.Candidate
}

// FocusExecutor raises the committed target. Failures are logged, never fatal.
type FocusExecutor interface {
	RaiseWindow(ctx context.Context, id window.WindowID) error
	RaiseProcess(ctx context.Context, pid window.ProcessID, preferred window.WindowID) error
}

// Renderer is the external overlay. Show/Update receive the ordered list and
// the selected index (-1 when selection is undefined).
type Renderer interface {
	Show(list []window.Candidate, selected int)
	Update(list []window.Candidate, selected int)
	Hide()
}

// ReleaseDetectors starts and stops the modifier-release fallback detectors
// for a session generation. Implemented by input.Interceptor.
type ReleaseDetectors interface {
	StartReleaseDetectors(gen uint64)
	StopReleaseDetectors()
}

// Policy supplies the user-tunable knobs read per activation.
type Policy interface {
	Mode() window.Mode
	RevealDelay() time.Duration
}

// Timing holds the fixed delays. They are configuration, not invariants.
type Timing struct {
	FallbackReveal time.Duration
	SeedTimeout    time.Duration
}

// session is the transient per-activation state. It exists only between the
// first activate and the matching commit or cancel.
type session struct {
	gen            uint64
	start          time.Time
	mode           window.Mode
	pendingOffset  int
	hadList        bool
	visible        bool
	committed      bool
	deferredCommit bool
	revealTimer    *time.Timer
	fallbackTimer  *time.Timer
}

type enumRequest struct {
	seq  uint64
	gen  uint64
	mode window.Mode
	fast bool
}

type focusTarget struct {
	kind    window.Kind
	win     window.WindowID
	pid     window.ProcessID
	appName string
}

// Coordinator is the activation state machine. All state transitions happen
// under mu; every timer callback and async result re-checks the session
// generation before applying any effect.
type Coordinator struct {
	enum      Enumerator
	focus     FocusExecutor
	renderer  Renderer
	detectors ReleaseDetectors
	policy    Policy
	timing    Timing
	apps      *recency.Tracker[window.ProcessID]
	wins      *recency.Tracker[window.WindowID]
	logger    *util.Logger

	mu       sync.Mutex
	state    State
	sess     *session
	list     []window.Candidate
	haveList bool
	selected int
	genSeq   uint64
	seq      uint64 // last requested refresh

	runCtx  context.Context
	enumCh  chan enumRequest
	focusCh chan focusTarget
	wg      sync.WaitGroup
}

func New(enum Enumerator, focus FocusExecutor, renderer Renderer, detectors ReleaseDetectors, policy Policy, timing Timing, apps *recency.Tracker[window.ProcessID], wins *recency.Tracker[window.WindowID], logger *util.Logger) *Coordinator {
	if timing.FallbackReveal <= 0 {
		timing.FallbackReveal = 300 * time.Millisecond
	}
	if timing.SeedTimeout <= 0 {
		timing.SeedTimeout = 500 * time.Millisecond
	}
	return &Coordinator{
		enum:      enum,
		focus:     focus,
		renderer:  renderer,
		detectors: detectors,
		policy:    policy,
		timing:    timing,
		apps:      apps,
		wins:      wins,
		logger:    logger,
		selected:  -1,
		enumCh:    make(chan enumRequest, 16),
		focusCh:   make(chan focusTarget, 16),
	}
}

// Bind attaches or replaces the backend-facing collaborators. Used when the
// display server connection is (re)established after construction.
func (c *Coordinator) Bind(enum Enumerator, focus FocusExecutor, detectors ReleaseDetectors) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enum = enum
	c.focus = focus
	if detectors != nil {
		c.detectors = detectors
	}
}

// Run consumes interceptor events until the context is cancelled. Enumeration
// and focus activation run on their own goroutines so a slow enumeration
// never delays a commit and a slow raise never delays the next hotkey press.
func (c *Coordinator) Run(ctx context.Context, events <-chan window.Event) error {
	c.startWorkers(ctx)
	for {
		select {
		case <-ctx.Done():
			c.Cancel()
			c.wg.Wait()
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				c.Cancel()
				c.wg.Wait()
				return nil
			}
			c.dispatch(ev)
		}
	}
}

func (c *Coordinator) startWorkers(ctx context.Context) {
	c.runCtx = ctx
	c.wg.Add(2)
	go c.enumWorker(ctx)
	go c.focusWorker(ctx)
}

func (c *Coordinator) dispatch(ev window.Event) {
	switch ev.Kind {
	case window.EventActivate:
		c.Activate(ev.Direction)
	case window.EventCommit:
		c.Commit()
	case window.EventCancel:
		c.Cancel()
	}
}

// Activate handles one hotkey press (or an overlay cycle request).
func (c *Coordinator) Activate(dir window.Direction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateIdle:
		c.beginSessionLocked()
	case StatePendingOpen:
		if c.haveList && len(c.list) > 0 {
			c.cycleLocked(dir)
		} else if c.sess != nil {
			c.sess.pendingOffset += delta(dir)
		}
	case StateVisible:
		c.cycleLocked(dir)
		c.renderer.Update(c.snapshotLocked())
	}
}

func delta(dir window.Direction) int {
	if dir == window.Previous {
		return -1
	}
	return 1
}

func (c *Coordinator) beginSessionLocked() {
	c.genSeq++
	sess := &session{
		gen:   c.genSeq,
		start: time.Now(),
		mode:  c.policy.Mode(),
	}
	c.sess = sess
	c.state = StatePendingOpen
	c.list = nil
	c.haveList = false
	c.selected = -1

	gen := sess.gen
	// Unconditional fallback reveal: if seeding or enumeration stalls, show
	// whatever is available.
	sess.fallbackTimer = time.AfterFunc(c.timing.FallbackReveal, func() {
		c.reveal(gen)
	})

	go c.openSession(gen, sess.mode)
	c.logger.Debugf("session %d: activated (mode=%s)", gen, sess.mode)
}

// openSession performs the asynchronous part of activation: wait for the
// one-time recency seeding (bounded), then request the fast refresh.
func (c *Coordinator) openSession(gen uint64, mode window.Mode) {
	deadline := time.NewTimer(c.timing.SeedTimeout)
	defer deadline.Stop()
seedWait:
	for _, seeded := range []<-chan struct{}{c.apps.Seeded(), c.wins.Seeded()} {
		select {
		case <-seeded:
		case <-deadline.C:
			// The drained timer will not fire again; stop waiting for the
			// remaining tracker too.
			c.logger.Warnf("session %d: seeding timed out, proceeding with partial order", gen)
			break seedWait
		case <-c.done():
			return
		}
	}

	c.mu.Lock()
	if c.sess == nil || c.sess.gen != gen {
		c.mu.Unlock()
		return
	}
	c.requestRefreshLocked(mode, true)
	c.mu.Unlock()
}

func (c *Coordinator) done() <-chan struct{} {
	if c.runCtx != nil {
		return c.runCtx.Done()
	}
	return nil
}

// requestRefreshLocked enqueues an enumeration with a fresh sequence number.
func (c *Coordinator) requestRefreshLocked(mode window.Mode, fast bool) {
	c.seq++
	req := enumRequest{seq: c.seq, gen: c.sess.gen, mode: mode, fast: fast}
	select {
	case c.enumCh <- req:
	default:
		// Queue full: the worker is far behind and every queued request is
		// already stale relative to this one.
		go func() {
			select {
			case c.enumCh <- req:
			case <-c.done():
			}
		}()
	}
}

func (c *Coordinator) enumWorker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.enumCh:
			c.mu.Lock()
			enum := c.enum
			c.mu.Unlock()
			if enum == nil {
				continue
			}
			list := enum.Candidates(ctx, req.mode, req.fast)
			c.applyRefresh(req, list)
		}
	}
}

// applyRefresh installs one enumeration result, subject to the stale-result
// discard rule and the selection continuity policy.
func (c *Coordinator) applyRefresh(req enumRequest, list []window.Candidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.sess.gen != req.gen {
		return
	}
	if req.seq != c.seq {
		// A newer refresh has been requested since; discard.
		return
	}

	prevSelected := c.selected
	var prevID window.Identity
	hadSelection := c.haveList && prevSelected >= 0 && prevSelected < len(c.list)
	if hadSelection {
		prevID = c.list[prevSelected].Identity()
	}

	// The default preselection applies to the first non-empty list the
	// session sees; empty results keep the selection undefined.
	firstList := !c.sess.hadList
	c.list = list
	c.haveList = true
	if len(list) > 0 {
		c.sess.hadList = true
	}

	switch {
	case len(list) == 0:
		c.selected = -1
	case firstList:
		c.selected = 0
		if len(list) > 1 {
			c.selected = 1
		}
		if off := c.sess.pendingOffset; off != 0 {
			c.selected = mod(c.selected+off, len(list))
			c.sess.pendingOffset = 0
		}
	case hadSelection:
		c.selected = c.findByIdentity(prevID, prevSelected)
	default:
		c.selected = clamp(prevSelected, len(list))
	}

	if c.sess.deferredCommit {
		c.finishCommitLocked()
		return
	}

	if firstList && !c.sess.visible {
		c.scheduleRevealLocked()
	}
	if c.state == StateVisible {
		c.renderer.Update(c.snapshotLocked())
	}
	if req.fast {
		// Background full refresh refines tiering without disturbing the
		// settled selection.
		c.requestRefreshLocked(c.sess.mode, false)
	}
}

func (c *Coordinator) findByIdentity(id window.Identity, prevIndex int) int {
	for i, cand := range c.list {
		if cand.Identity() == id {
			return i
		}
	}
	return clamp(prevIndex, len(c.list))
}

func clamp(i, n int) int {
	if n == 0 {
		return -1
	}
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func mod(i, n int) int {
	return ((i % n) + n) % n
}

// scheduleRevealLocked arms the reveal timer against the activation start
// time, not against now, so slow enumeration never adds visible delay.
func (c *Coordinator) scheduleRevealLocked() {
	sess := c.sess
	gen := sess.gen
	remaining := time.Until(sess.start.Add(c.policy.RevealDelay()))
	if remaining < 0 {
		remaining = 0
	}
	if sess.revealTimer != nil {
		sess.revealTimer.Stop()
	}
	sess.revealTimer = time.AfterFunc(remaining, func() {
		c.reveal(gen)
	})
}

// reveal transitions PendingOpen to Visible for the given generation. Stale
// generations are a silent no-op.
func (c *Coordinator) reveal(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.sess.gen != gen || c.state != StatePendingOpen {
		return
	}
	c.stopTimersLocked()
	c.state = StateVisible
	c.sess.visible = true
	c.renderer.Show(c.snapshotLocked())
	c.detectors.StartReleaseDetectors(gen)
	c.logger.Debugf("session %d: visible (%d candidates)", gen, len(c.list))
}

func (c *Coordinator) cycleLocked(dir window.Direction) {
	n := len(c.list)
	if n == 0 || c.selected < 0 {
		return
	}
	c.selected = mod(c.selected+delta(dir), n)
}

// Commit resolves the selection and hands it to the focus worker. A session
// that never became visible with no list yet defers until a refresh lands.
func (c *Coordinator) Commit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.sess.committed {
		return
	}
	if c.sess.deferredCommit {
		// A deferred commit is already waiting on its refresh.
		return
	}
	if !c.sess.visible && (!c.haveList || len(c.list) == 0) {
		c.sess.deferredCommit = true
		c.requestRefreshLocked(c.sess.mode, true)
		c.logger.Debugf("session %d: commit deferred until refresh", c.sess.gen)
		return
	}
	c.finishCommitLocked()
}

func (c *Coordinator) finishCommitLocked() {
	sess := c.sess
	sess.committed = true
	c.stopTimersLocked()
	c.detectors.StopReleaseDetectors()
	if sess.visible {
		c.renderer.Hide()
	}

	if c.selected >= 0 && c.selected < len(c.list) {
		cand := c.list[c.selected]
		t := focusTarget{kind: cand.Kind, win: cand.Window, pid: cand.Process, appName: cand.AppName}
		select {
		case c.focusCh <- t:
		default:
			c.logger.Warnf("focus queue full, dropping raise for %s", cand.AppName)
		}
		c.logger.Debugf("session %d: committed %s (index %d)", sess.gen, cand.AppName, c.selected)
	} else {
		c.logger.Debugf("session %d: committed with no selection", sess.gen)
	}

	c.sess = nil
	c.state = StateIdle
	c.list = nil
	c.haveList = false
	c.selected = -1
}

// Cancel discards the session without any focus action.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return
	}
	gen := c.sess.gen
	c.stopTimersLocked()
	c.detectors.StopReleaseDetectors()
	if c.sess.visible {
		c.renderer.Hide()
	}
	c.sess = nil
	c.state = StateIdle
	c.list = nil
	c.haveList = false
	c.selected = -1
	c.logger.Debugf("session %d: cancelled", gen)
}

func (c *Coordinator) stopTimersLocked() {
	if c.sess == nil {
		return
	}
	if c.sess.revealTimer != nil {
		c.sess.revealTimer.Stop()
		c.sess.revealTimer = nil
	}
	if c.sess.fallbackTimer != nil {
		c.sess.fallbackTimer.Stop()
		c.sess.fallbackTimer = nil
	}
}

func (c *Coordinator) focusWorker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-c.focusCh:
			c.mu.Lock()
			focus := c.focus
			c.mu.Unlock()
			if focus == nil {
				continue
			}
			var err error
			if t.kind == window.KindApp {
				err = focus.RaiseProcess(ctx, t.pid, t.win)
			} else {
				err = focus.RaiseWindow(ctx, t.win)
			}
			if err != nil {
				c.logger.Errorf("raise %s failed: %v", t.appName, err)
				continue
			}
			// The raised target is now the most recent in both spaces.
			if t.pid != 0 {
				c.apps.Bump(t.pid)
			}
			if t.win != 0 {
				c.wins.Bump(t.win)
			}
		}
	}
}

// NotifyExternalChange re-enters the continuity-preserving refresh path when
// the outside world changed (focus moved, preferences edited). Without a live
// session there is nothing to refresh.
func (c *Coordinator) NotifyExternalChange() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return
	}
	c.requestRefreshLocked(c.sess.mode, false)
}

// Snapshot reports the coordinator's current state for status surfaces.
func (c *Coordinator) Snapshot() (State, []window.Candidate, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list, selected := c.snapshotLocked()
	return c.state, list, selected
}

func (c *Coordinator) snapshotLocked() ([]window.Candidate, int) {
	list := make([]window.Candidate, len(c.list))
	copy(list, c.list)
	return list, c.selected
}
