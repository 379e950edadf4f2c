// Package x11 implements the window-system queries and the low-level input
// hook on top of the X protocol. It talks to the server directly through xgb;
// no external helper binaries are involved.
package x11

import (
	"encoding/binary"
	"sync"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
	"github.com/pkg/errors"

	"quickswitch/internal/util"
)

const (
	keysymTab  = 0xff09
	keysymAltL = 0xffe9
	keysymAltR = 0xffea
)

var atomNames = []string{
	"_NET_CLIENT_LIST",
	"_NET_CLIENT_LIST_STACKING",
	"_NET_ACTIVE_WINDOW",
	"_NET_WM_NAME",
	"_NET_WM_PID",
	"_NET_WM_STATE",
	"_NET_WM_STATE_HIDDEN",
	"_NET_WM_WINDOW_TYPE",
	"_NET_WM_WINDOW_TYPE_DOCK",
	"_NET_WM_WINDOW_TYPE_DESKTOP",
	"_NET_WM_WINDOW_TYPE_NOTIFICATION",
	"_NET_WM_WINDOW_TYPE_TOOLBAR",
	"_NET_WM_WINDOW_OPACITY",
	"WM_NAME",
	"WM_CLASS",
	"WM_STATE",
	"UTF8_STRING",
}

// Client owns one X connection used for queries and focus actions. The input
// hook runs on its own connection (see Hook) so a blocked event loop can
// never stall enumeration.
type Client struct {
	conn   *xgb.Conn
	root   xproto.Window
	atoms  map[string]xproto.Atom
	logger *util.Logger

	mu      sync.Mutex
	tabKeys []xproto.Keycode
	altKeys []xproto.Keycode
}

// Connect opens a connection to the display server and interns the atoms the
// switcher needs.
func Connect(logger *util.Logger) (*Client, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, errors.Wrap(err, "connect to display server")
	}
	setup := xproto.Setup(conn)
	c := &Client{
		conn:   conn,
		root:   setup.DefaultScreen(conn).Root,
		atoms:  make(map[string]xproto.Atom, len(atomNames)),
		logger: logger,
	}
	for _, name := range atomNames {
		reply, err := xproto.InternAtom(conn, false, uint16(len(name)), name).Reply()
		if err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "intern atom %s", name)
		}
		c.atoms[name] = reply.Atom
	}
	if err := c.resolveKeycodes(); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) Close() error {
	c.conn.Close()
	return nil
}

// resolveKeycodes maps the keysyms we care about to the hardware keycodes of
// the current keyboard mapping. Re-run on MappingNotify.
func (c *Client) resolveKeycodes() error {
	setup := xproto.Setup(c.conn)
	first := setup.MinKeycode
	count := byte(setup.MaxKeycode - setup.MinKeycode + 1)
	reply, err := xproto.GetKeyboardMapping(c.conn, first, count).Reply()
	if err != nil {
		return errors.Wrap(err, "keyboard mapping")
	}
	per := int(reply.KeysymsPerKeycode)
	var tab, alt []xproto.Keycode
	for i := 0; i < int(count); i++ {
		kc := xproto.Keycode(int(first) + i)
		for col := 0; col < per; col++ {
			idx := i*per + col
			if idx >= len(reply.Keysyms) {
				break
			}
			switch uint32(reply.Keysyms[idx]) {
			case keysymTab:
				tab = append(tab, kc)
			case keysymAltL, keysymAltR:
				alt = append(alt, kc)
			}
		}
	}
	if len(tab) == 0 || len(alt) == 0 {
		return errors.New("keyboard mapping lacks Tab or Alt keycodes")
	}
	c.mu.Lock()
	c.tabKeys, c.altKeys = tab, alt
	c.mu.Unlock()
	return nil
}

func (c *Client) isTab(kc xproto.Keycode) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.tabKeys {
		if k == kc {
			return true
		}
	}
	return false
}

func (c *Client) isAlt(kc xproto.Keycode) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.altKeys {
		if k == kc {
			return true
		}
	}
	return false
}

// commitOnRelease reports whether a key release ends the session: the
// modifier itself, or Tab released while the modifier is no longer held.
func (c *Client) commitOnRelease(kc xproto.Keycode, state uint16) bool {
	if c.isAlt(kc) {
		return true
	}
	return c.isTab(kc) && state&xproto.ModMask1 == 0
}

// ModifierHeld samples the keyboard bitmap directly, bypassing event
// delivery. Used by the release poller and the quorum watchdog.
func (c *Client) ModifierHeld() (bool, error) {
	reply, err := xproto.QueryKeymap(c.conn).Reply()
	if err != nil {
		return false, errors.Wrap(err, "query keymap")
	}
	c.mu.Lock()
	alt := append([]xproto.Keycode(nil), c.altKeys...)
	c.mu.Unlock()
	for _, kc := range alt {
		if reply.Keys[kc>>3]&(1<<(kc&7)) != 0 {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) property(win xproto.Window, prop, typ xproto.Atom, length uint32) ([]byte, error) {
	reply, err := xproto.GetProperty(c.conn, false, win, prop, typ, 0, length).Reply()
	if err != nil {
		return nil, err
	}
	return reply.Value, nil
}

func (c *Client) windowProperty(win xproto.Window, name string) []byte {
	data, err := c.property(win, c.atoms[name], xproto.GetPropertyTypeAny, 256)
	if err != nil {
		return nil
	}
	return data
}

func (c *Client) cardinal(win xproto.Window, name string) (uint32, bool) {
	data, err := c.property(win, c.atoms[name], xproto.AtomCardinal, 1)
	if err != nil || len(data) < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(data), true
}

func (c *Client) windowList(win xproto.Window, name string) ([]xproto.Window, error) {
	data, err := c.property(win, c.atoms[name], xproto.AtomWindow, 1024)
	if err != nil {
		return nil, err
	}
	out := make([]xproto.Window, 0, len(data)/4)
	for i := 0; i+4 <= len(data); i += 4 {
		out = append(out, xproto.Window(binary.LittleEndian.Uint32(data[i:])))
	}
	return out, nil
}

func (c *Client) atomList(win xproto.Window, name string) []xproto.Atom {
	data, err := c.property(win, c.atoms[name], xproto.AtomAtom, 64)
	if err != nil {
		return nil
	}
	out := make([]xproto.Atom, 0, len(data)/4)
	for i := 0; i+4 <= len(data); i += 4 {
		out = append(out, xproto.Atom(binary.LittleEndian.Uint32(data[i:])))
	}
	return out
}
