// Package hotkeyd is the portable fallback capture tier, built on a plain
// hotkey registration instead of a low-level grab. It sees its own
// combination only, so it cannot suppress a host switcher bound to the same
// keys; it exists for environments where the grab tier is refused.
package hotkeyd

import (
	"sync"

	"github.com/pkg/errors"
	"golang.design/x/hotkey"

	"quickswitch/internal/util"
	"quickswitch/pkg/window"
)

// keyTab is the X11 keycode for Tab, which is what the hotkey library takes
// on Linux.
const keyTab = hotkey.Key(23)

// Hook registers Alt+Tab and Alt+Shift+Tab and translates keydown/keyup
// pairs into activate and commit signals.
type Hook struct {
	logger *util.Logger

	mu      sync.Mutex
	next    *hotkey.Hotkey
	prev    *hotkey.Hotkey
	events  chan window.Event
	done    chan struct{}
	started bool
}

func New(logger *util.Logger) *Hook {
	return &Hook{logger: logger}
}

func (h *Hook) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return nil
	}
	next := hotkey.New([]hotkey.Modifier{hotkey.Mod1}, keyTab)
	if err := next.Register(); err != nil {
		return errors.Wrap(err, "register hotkey")
	}
	prev := hotkey.New([]hotkey.Modifier{hotkey.Mod1, hotkey.ModShift}, keyTab)
	if err := prev.Register(); err != nil {
		next.Unregister()
		return errors.Wrap(err, "register shift hotkey")
	}
	h.next, h.prev = next, prev
	h.events = make(chan window.Event, 16)
	h.done = make(chan struct{})
	h.started = true
	go h.loop(next, prev, h.events, h.done)
	return nil
}

func (h *Hook) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started {
		return
	}
	h.started = false
	close(h.done)
	h.next.Unregister()
	h.prev.Unregister()
}

func (h *Hook) Events() <-chan window.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.events
}

// loop turns registration events into the abstract signal stream. Keyup of
// either combination is treated as a commit; the release detectors cover the
// common case where the modifier outlives the registered key.
func (h *Hook) loop(next, prev *hotkey.Hotkey, events chan window.Event, done chan struct{}) {
	defer close(events)
	for {
		select {
		case <-done:
			return
		case <-next.Keydown():
			h.send(events, window.Event{Kind: window.EventActivate, Direction: window.Next})
		case <-prev.Keydown():
			h.send(events, window.Event{Kind: window.EventActivate, Direction: window.Previous})
		case <-next.Keyup():
			h.send(events, window.Event{Kind: window.EventCommit})
		case <-prev.Keyup():
			h.send(events, window.Event{Kind: window.EventCommit})
		}
	}
}

func (h *Hook) send(events chan window.Event, ev window.Event) {
	select {
	case events <- ev:
	default:
	}
}
