package x11

import (
	"sync"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
	"github.com/pkg/errors"

	"quickswitch/internal/util"
	"quickswitch/pkg/window"
)

// ignoreMasks are the lock modifiers a grab must tolerate: none, CapsLock,
// NumLock, and both together.
var ignoreMasks = []uint16{
	0,
	xproto.ModMaskLock,
	xproto.ModMask2,
	xproto.ModMaskLock | xproto.ModMask2,
}

// Hook is the preferred capture tier: a passive key grab on Alt+Tab and
// Alt+Shift+Tab, escalated to a full keyboard grab while a session runs so
// the modifier release is delivered to us and not to the focused client.
type Hook struct {
	client *Client
	logger *util.Logger

	mu      sync.Mutex
	conn    *xgb.Conn
	root    xproto.Window
	events  chan window.Event
	grabbed bool
	stopped bool
}

// NewHook builds the grab tier. The shared client supplies keycode lookups;
// event delivery runs on the hook's own connection.
func NewHook(client *Client, logger *util.Logger) *Hook {
	return &Hook{client: client, logger: logger}
}

// Start installs the passive grabs and launches the event loop. An error
// means another client already owns the combination and the caller should
// fall back to the next tier.
func (h *Hook) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != nil {
		return nil
	}
	conn, err := xgb.NewConn()
	if err != nil {
		return errors.Wrap(err, "hook connection")
	}
	root := xproto.Setup(conn).DefaultScreen(conn).Root

	if err := h.installGrabs(conn, root); err != nil {
		conn.Close()
		return err
	}

	h.conn = conn
	h.root = root
	h.stopped = false
	h.grabbed = false
	h.events = make(chan window.Event, 16)
	go h.loop(conn, h.events)
	return nil
}

func (h *Hook) installGrabs(conn *xgb.Conn, root xproto.Window) error {
	h.client.mu.Lock()
	tabs := append([]xproto.Keycode(nil), h.client.tabKeys...)
	h.client.mu.Unlock()
	for _, kc := range tabs {
		for _, base := range []uint16{xproto.ModMask1, xproto.ModMask1 | xproto.ModMaskShift} {
			for _, ignore := range ignoreMasks {
				err := xproto.GrabKeyChecked(conn, true, root, base|ignore, kc,
					xproto.GrabModeAsync, xproto.GrabModeAsync).Check()
				if err != nil {
					h.ungrabAll(conn, root)
					return errors.Wrap(err, "grab key")
				}
			}
		}
	}
	return nil
}

func (h *Hook) ungrabAll(conn *xgb.Conn, root xproto.Window) {
	xproto.UngrabKey(conn, xproto.GrabAny, root, xproto.ModMaskAny)
}

// Stop removes the grabs and closes the connection. The event loop notices
// the dead connection and closes the stream.
func (h *Hook) Stop() {
	h.mu.Lock()
	conn := h.conn
	root := h.root
	h.stopped = true
	h.conn = nil
	h.mu.Unlock()
	if conn == nil {
		return
	}
	h.ungrabAll(conn, root)
	xproto.UngrabKeyboard(conn, xproto.TimeCurrentTime)
	conn.Close()
}

func (h *Hook) Events() <-chan window.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.events
}

// EndSession drops the session keyboard grab. Called for every commit and
// cancel path, including the ones decided by the release detectors rather
// than our own event loop.
func (h *Hook) EndSession() {
	h.mu.Lock()
	conn := h.conn
	grabbed := h.grabbed
	h.grabbed = false
	h.mu.Unlock()
	if conn != nil && grabbed {
		xproto.UngrabKeyboard(conn, xproto.TimeCurrentTime)
	}
}

// grabSession takes the full keyboard grab at activation time so modifier
// releases reach us during the session.
func (h *Hook) grabSession(conn *xgb.Conn, t xproto.Timestamp) {
	h.mu.Lock()
	if h.grabbed {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	reply, err := xproto.GrabKeyboard(conn, true, h.root, t,
		xproto.GrabModeAsync, xproto.GrabModeAsync).Reply()
	if err != nil || reply.Status != xproto.GrabStatusSuccess {
		// The passive grab still delivers Tab presses; the release
		// detectors cover the commit.
		h.logger.Debugf("keyboard grab unavailable, relying on release detectors")
		return
	}
	h.mu.Lock()
	h.grabbed = true
	h.mu.Unlock()
}

func (h *Hook) loop(conn *xgb.Conn, events chan window.Event) {
	defer close(events)
	for {
		ev, xerr := conn.WaitForEvent()
		if ev == nil && xerr == nil {
			// Connection closed, either by Stop or by the server.
			return
		}
		if xerr != nil {
			h.logger.Debugf("hook event error: %v", xerr)
			continue
		}
		switch e := ev.(type) {
		case xproto.KeyPressEvent:
			if !h.client.isTab(e.Detail) || e.State&xproto.ModMask1 == 0 {
				continue
			}
			dir := window.Next
			if e.State&xproto.ModMaskShift != 0 {
				dir = window.Previous
			}
			h.grabSession(conn, e.Time)
			h.send(events, window.Event{Kind: window.EventActivate, Direction: dir})
		case xproto.KeyReleaseEvent:
			if h.client.commitOnRelease(e.Detail, e.State) {
				h.send(events, window.Event{Kind: window.EventCommit})
				h.EndSession()
			}
		case xproto.MappingNotifyEvent:
			if err := h.client.resolveKeycodes(); err != nil {
				h.logger.Warnf("keyboard remap: %v", err)
			}
		}
	}
}

func (h *Hook) send(events chan window.Event, ev window.Event) {
	select {
	case events <- ev:
	default:
	}
}
