package x11

import (
	"context"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
	"github.com/pkg/errors"

	"quickswitch/pkg/window"
)

// WatchActive streams focus changes by listening for _NET_ACTIVE_WINDOW
// updates on the root window. It runs on its own connection so the blocking
// event wait never interferes with queries on the main one.
func (c *Client) WatchActive(ctx context.Context) (<-chan window.FocusChange, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, errors.Wrap(err, "watch connection")
	}
	root := xproto.Setup(conn).DefaultScreen(conn).Root
	if err := xproto.ChangeWindowAttributesChecked(conn, root,
		xproto.CwEventMask, []uint32{xproto.EventMaskPropertyChange}).Check(); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "subscribe to root properties")
	}

	out := make(chan window.FocusChange, 8)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(out)
		activeAtom := c.atoms["_NET_ACTIVE_WINDOW"]
		var last window.WindowID
		for {
			ev, xerr := conn.WaitForEvent()
			if ev == nil && xerr == nil {
				return
			}
			if xerr != nil {
				c.logger.Debugf("watch event error: %v", xerr)
				continue
			}
			prop, ok := ev.(xproto.PropertyNotifyEvent)
			if !ok || prop.Atom != activeAtom {
				continue
			}
			id, pid, found := c.ActiveWindow(ctx)
			if !found || id == last {
				continue
			}
			last = id
			select {
			case out <- window.FocusChange{Window: id, Process: pid}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
