package x11

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"strings"

	"github.com/jezek/xgb/xproto"
	"github.com/pkg/errors"

	"quickswitch/pkg/window"
)

// iconicState is the WM_STATE value for minimized windows.
const iconicState = 3

// shellClasses are WM_CLASS names that belong to desktop shell components.
// Windows owned by these never appear in the candidate list.
var shellClasses = map[string]bool{
	"polybar":       true,
	"plank":         true,
	"xfce4-panel":   true,
	"lxpanel":       true,
	"mate-panel":    true,
	"gnome-shell":   true,
	"plasmashell":   true,
	"dunst":         true,
	"xfce4-notifyd": true,
}

// OnScreen returns mapped, viewable windows topmost first, derived from the
// window manager's stacking list.
func (c *Client) OnScreen(ctx context.Context) ([]window.Info, error) {
	ids, err := c.windowList(c.root, "_NET_CLIENT_LIST_STACKING")
	if err != nil || len(ids) == 0 {
		ids, err = c.windowList(c.root, "_NET_CLIENT_LIST")
		if err != nil {
			return nil, errors.Wrap(err, "client list")
		}
	}
	// EWMH stacking lists are bottom-to-top.
	out := make([]window.Info, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, ok := c.describe(ids[i])
		if !ok || info.Hidden || info.Minimized {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// AllWindows returns every client window the window manager tracks, whether
// or not it is currently mapped.
func (c *Client) AllWindows(ctx context.Context) ([]window.Info, error) {
	ids, err := c.windowList(c.root, "_NET_CLIENT_LIST")
	if err != nil {
		return nil, errors.Wrap(err, "client list")
	}
	out := make([]window.Info, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if info, ok := c.describe(id); ok {
			out = append(out, info)
		}
	}
	return out, nil
}

// describe builds the raw record for one window. Windows that vanish between
// the list query and the property reads are reported as absent, not as
// errors.
func (c *Client) describe(id xproto.Window) (window.Info, bool) {
	attrs, err := xproto.GetWindowAttributes(c.conn, id).Reply()
	if err != nil {
		return window.Info{}, false
	}
	info := window.Info{
		Window:           window.WindowID(id),
		Opacity:          1,
		OverrideRedirect: attrs.OverrideRedirect,
	}
	if geom, err := xproto.GetGeometry(c.conn, xproto.Drawable(id)).Reply(); err == nil {
		info.Width = int(geom.Width)
		info.Height = int(geom.Height)
	}
	if pid, ok := c.cardinal(id, "_NET_WM_PID"); ok {
		info.Process = window.ProcessID(pid)
	}
	info.AppName = c.appName(id)
	info.Title = c.title(id)
	if raw, ok := c.cardinal(id, "_NET_WM_WINDOW_OPACITY"); ok {
		info.Opacity = float64(raw) / float64(^uint32(0))
	}

	for _, a := range c.atomList(id, "_NET_WM_STATE") {
		if a == c.atoms["_NET_WM_STATE_HIDDEN"] {
			info.Minimized = true
		}
	}
	if data := c.windowProperty(id, "WM_STATE"); len(data) >= 4 {
		if binary.LittleEndian.Uint32(data) == iconicState {
			info.Minimized = true
		}
	}
	if attrs.MapState != xproto.MapStateViewable && !info.Minimized {
		info.Hidden = true
	}

	info.Shell = c.isShell(id, info.AppName)
	if info.Process == window.ProcessID(os.Getpid()) {
		info.Shell = true
	}
	return info, true
}

func (c *Client) isShell(id xproto.Window, appName string) bool {
	for _, a := range c.atomList(id, "_NET_WM_WINDOW_TYPE") {
		switch a {
		case c.atoms["_NET_WM_WINDOW_TYPE_DOCK"],
			c.atoms["_NET_WM_WINDOW_TYPE_DESKTOP"],
			c.atoms["_NET_WM_WINDOW_TYPE_NOTIFICATION"],
			c.atoms["_NET_WM_WINDOW_TYPE_TOOLBAR"]:
			return true
		}
	}
	return shellClasses[strings.ToLower(appName)]
}

// appName prefers the WM_CLASS class name (the second null-terminated field),
// falling back to the instance name.
func (c *Client) appName(id xproto.Window) string {
	data := c.windowProperty(id, "WM_CLASS")
	if len(data) == 0 {
		return ""
	}
	parts := bytes.Split(data, []byte{0})
	if len(parts) >= 2 && len(parts[1]) > 0 {
		return string(parts[1])
	}
	return string(parts[0])
}

func (c *Client) title(id xproto.Window) string {
	if data, err := c.property(id, c.atoms["_NET_WM_NAME"], c.atoms["UTF8_STRING"], 256); err == nil && len(data) > 0 {
		return string(data)
	}
	if data := c.windowProperty(id, "WM_NAME"); len(data) > 0 {
		return string(data)
	}
	return ""
}

// ActiveWindow reports the focused window per the window manager.
func (c *Client) ActiveWindow(ctx context.Context) (window.WindowID, window.ProcessID, bool) {
	ids, err := c.windowList(c.root, "_NET_ACTIVE_WINDOW")
	if err != nil || len(ids) == 0 || ids[0] == 0 {
		return 0, 0, false
	}
	pid, _ := c.cardinal(ids[0], "_NET_WM_PID")
	return window.WindowID(ids[0]), window.ProcessID(pid), true
}

// StackingOrder returns on-screen window ids topmost first.
func (c *Client) StackingOrder(ctx context.Context) ([]window.WindowID, bool) {
	ids, err := c.windowList(c.root, "_NET_CLIENT_LIST_STACKING")
	if err != nil || len(ids) == 0 {
		return nil, false
	}
	out := make([]window.WindowID, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, window.WindowID(ids[i]))
	}
	return out, true
}

// FullOrder returns all known window ids in the window manager's own order,
// oldest first. Used as the low-confidence ordering phase for windows that
// have never been focused while the switcher was running.
func (c *Client) FullOrder(ctx context.Context) ([]window.WindowID, bool) {
	ids, err := c.windowList(c.root, "_NET_CLIENT_LIST")
	if err != nil || len(ids) == 0 {
		return nil, false
	}
	out := make([]window.WindowID, 0, len(ids))
	for _, id := range ids {
		out = append(out, window.WindowID(id))
	}
	return out, true
}

// RaiseWindow maps, raises and focuses a window. The EWMH activation message
// is tried first so the window manager applies its own focus policy; the raw
// protocol fallback covers window managers that ignore it.
func (c *Client) RaiseWindow(ctx context.Context, id window.WindowID) error {
	win := xproto.Window(id)
	if err := xproto.MapWindowChecked(c.conn, win).Check(); err != nil {
		return errors.Wrap(err, "map window")
	}
	if err := c.sendActiveMessage(win); err == nil {
		return nil
	}
	if err := xproto.ConfigureWindowChecked(c.conn, win,
		xproto.ConfigWindowStackMode, []uint32{xproto.StackModeAbove}).Check(); err != nil {
		return errors.Wrap(err, "raise window")
	}
	if err := xproto.SetInputFocusChecked(c.conn,
		xproto.InputFocusPointerRoot, win, xproto.TimeCurrentTime).Check(); err != nil {
		return errors.Wrap(err, "focus window")
	}
	return nil
}

func (c *Client) sendActiveMessage(win xproto.Window) error {
	ev := xproto.ClientMessageEvent{
		Format: 32,
		Window: win,
		Type:   c.atoms["_NET_ACTIVE_WINDOW"],
		Data: xproto.ClientMessageDataUnionData32New([]uint32{
			2, // source: pager/direct user action
			uint32(xproto.TimeCurrentTime),
			0, 0, 0,
		}),
	}
	mask := uint32(xproto.EventMaskSubstructureRedirect | xproto.EventMaskSubstructureNotify)
	return xproto.SendEventChecked(c.conn, false, c.root, mask, string(ev.Bytes())).Check()
}

// RaiseProcess raises the preferred window when given one, otherwise the
// process's topmost known window.
func (c *Client) RaiseProcess(ctx context.Context, pid window.ProcessID, preferred window.WindowID) error {
	if preferred != 0 {
		return c.RaiseWindow(ctx, preferred)
	}
	wins, err := c.AllWindows(ctx)
	if err != nil {
		return err
	}
	for _, w := range wins {
		if w.Process == pid && !w.Shell {
			return c.RaiseWindow(ctx, w.Window)
		}
	}
	return errors.Errorf("no window for pid %d", pid)
}

// Ping issues a cheap round trip to verify the connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := xproto.GetInputFocus(c.conn).Reply(); err != nil {
		return errors.Wrap(err, "display server unreachable")
	}
	return nil
}
