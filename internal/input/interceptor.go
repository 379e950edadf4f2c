// Package input owns global hotkey interception. It layers two capture tiers
// (a low-level X grab, then a portable hotkey registration) behind one event
// stream, and backs the primary release path with two independent fallback
// detectors, because modifier-release events are not reliably delivered.
package input

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"quickswitch/internal/util"
	"quickswitch/pkg/window"
)

// ErrNoCapture reports that no capture tier could be installed. The caller
// treats this as capability-missing: report once, stay inert, retry on grant.
var ErrNoCapture = errors.New("no input capture tier available")

// Config tunes the release detectors.
type Config struct {
	// PollInterval is the sampling period of both detectors.
	PollInterval time.Duration
	// Quorum is how long the modifier must be observed continuously released
	// before the watchdog commits. Rejects transient or bouncy readings.
	Quorum time.Duration
}

// Interceptor multiplexes the active capture tier and the release detectors
// into a single event stream. The capture path never blocks: events are
// dropped rather than queued without bound.
type Interceptor struct {
	tiers   []window.Hook
	sampler window.ModifierSampler
	cfg     Config
	logger  *util.Logger

	events chan window.Event

	mu         sync.Mutex
	active     window.Hook
	running    bool
	failLogged bool

	// Release-detector state for the live session.
	sessGen   uint64
	committed bool
	stop      chan struct{}
}

func New(tiers []window.Hook, sampler window.ModifierSampler, cfg Config, logger *util.Logger) *Interceptor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Millisecond
	}
	if cfg.Quorum <= 0 {
		cfg.Quorum = 250 * time.Millisecond
	}
	return &Interceptor{
		tiers:   tiers,
		sampler: sampler,
		cfg:     cfg,
		logger:  logger,
		events:  make(chan window.Event, 32),
	}
}

// Events is the merged signal stream consumed by the coordinator.
func (i *Interceptor) Events() <-chan window.Event {
	return i.events
}

// Start installs the first capture tier that accepts. The lower tier is tried
// first because it can suppress the host switcher even in contexts where the
// portable registration cannot.
func (i *Interceptor) Start() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.running {
		return nil
	}
	for idx, tier := range i.tiers {
		if err := tier.Start(); err != nil {
			i.logger.Debugf("capture tier %d refused: %v", idx, err)
			continue
		}
		i.active = tier
		i.running = true
		i.failLogged = false
		go i.pump(tier)
		i.logger.Infof("input capture installed (tier %d)", idx)
		return nil
	}
	// Repeated install failures are reported once, not per attempt.
	if !i.failLogged {
		i.failLogged = true
		i.logger.Errorf("input capture unavailable: all tiers refused")
	}
	return ErrNoCapture
}

// pump forwards the active tier's events. A closed tier channel means the
// host disabled the hook: cancel any in-flight session (its state is now
// unverifiable) and reinstall immediately.
func (i *Interceptor) pump(tier window.Hook) {
	for ev := range tier.Events() {
		if ev.Kind == window.EventCommit {
			if !i.tryCommit() {
				continue
			}
		}
		i.emit(ev)
	}

	i.mu.Lock()
	stillActive := i.running && i.active == tier
	if stillActive {
		i.running = false
		i.active = nil
	}
	i.mu.Unlock()
	if !stillActive {
		return
	}
	i.emit(window.Event{Kind: window.EventCancel})
	i.logger.Warnf("capture tier dropped by host, reinstalling")
	if err := i.Start(); err != nil {
		i.logger.Debugf("reinstall failed: %v", err)
	}
}

// emit never blocks the capture path.
func (i *Interceptor) emit(ev window.Event) {
	select {
	case i.events <- ev:
	default:
		i.logger.Warnf("event queue full, dropping %s", ev.Kind)
	}
}

// Stop removes the active hook and cancels the release detectors.
func (i *Interceptor) Stop() {
	i.mu.Lock()
	active := i.active
	i.running = false
	i.active = nil
	i.stopDetectorsLocked()
	i.mu.Unlock()
	if active != nil {
		active.Stop()
	}
}

// StartReleaseDetectors arms the poller and the quorum watchdog for the given
// session generation. Called by the coordinator when the overlay is revealed.
func (i *Interceptor) StartReleaseDetectors(gen uint64) {
	if i.sampler == nil {
		return
	}
	i.mu.Lock()
	i.stopDetectorsLocked()
	i.sessGen = gen
	i.committed = false
	stop := make(chan struct{})
	i.stop = stop
	i.mu.Unlock()

	go i.poller(gen, stop)
	go i.watchdog(gen, stop)
}

// StopReleaseDetectors cancels both detectors and tells the active tier the
// session is over. Idempotent.
func (i *Interceptor) StopReleaseDetectors() {
	i.mu.Lock()
	i.stopDetectorsLocked()
	active := i.active
	i.mu.Unlock()
	if ender, ok := active.(window.SessionEnder); ok {
		ender.EndSession()
	}
}

func (i *Interceptor) stopDetectorsLocked() {
	if i.stop != nil {
		close(i.stop)
		i.stop = nil
	}
	i.committed = true
}

// tryCommit is the once-latch shared by every commit path: the hook's own
// release event, the poller, and the watchdog. The first caller wins; every
// later path for the same session is silently dropped.
func (i *Interceptor) tryCommit() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stop == nil {
		// No detectors armed: before reveal the hook's event path is the
		// only commit source, so pass it through.
		return true
	}
	if i.committed {
		return false
	}
	i.committed = true
	close(i.stop)
	i.stop = nil
	return true
}

func (i *Interceptor) detectorCommit(gen uint64) {
	i.mu.Lock()
	if i.sessGen != gen || i.committed {
		i.mu.Unlock()
		return
	}
	i.committed = true
	if i.stop != nil {
		close(i.stop)
		i.stop = nil
	}
	i.mu.Unlock()
	i.emit(window.Event{Kind: window.EventCommit})
}

// poller commits the first time a direct hardware sample observes the
// modifier released.
func (i *Interceptor) poller(gen uint64, stop <-chan struct{}) {
	tick := time.NewTicker(i.cfg.PollInterval)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			held, err := i.sampler.ModifierHeld()
			if err != nil {
				continue
			}
			if !held {
				i.detectorCommit(gen)
				return
			}
		}
	}
}

// watchdog commits only after the modifier has been observed released for the
// full quorum duration without interruption.
func (i *Interceptor) watchdog(gen uint64, stop <-chan struct{}) {
	tick := time.NewTicker(i.cfg.PollInterval)
	defer tick.Stop()
	var releasedSince time.Time
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			held, err := i.sampler.ModifierHeld()
			if err != nil || held {
				releasedSince = time.Time{}
				continue
			}
			if releasedSince.IsZero() {
				releasedSince = time.Now()
				continue
			}
			if time.Since(releasedSince) >= i.cfg.Quorum {
				i.detectorCommit(gen)
				return
			}
		}
	}
}
