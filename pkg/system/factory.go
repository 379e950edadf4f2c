// Package system picks the window-system backend for the current session and
// watches whether the capability it needs stays available.
package system

import (
	"os"

	"github.com/pkg/errors"

	"quickswitch/internal/util"
	"quickswitch/pkg/integrations/x11"
	"quickswitch/pkg/window"
)

// ErrUnsupported reports that the current session has no backend the
// switcher can drive. Callers stay inert and retry rather than exiting.
var ErrUnsupported = errors.New("no supported display server found")

// DetectDisplayServer inspects the session environment.
func DetectDisplayServer() string {
	sessionType := os.Getenv("XDG_SESSION_TYPE")
	waylandDisplay := os.Getenv("WAYLAND_DISPLAY")
	x11Display := os.Getenv("DISPLAY")

	if sessionType == "wayland" || waylandDisplay != "" {
		return "wayland"
	}

	if sessionType == "x11" || x11Display != "" {
		return "x11"
	}

	return "unknown"
}

// New connects the backend for the detected display server. The second
// return value samples the modifier key's hardware state and is nil when the
// backend cannot provide one.
func New(logger *util.Logger) (window.System, window.ModifierSampler, error) {
	server := DetectDisplayServer()
	switch server {
	case "x11":
		client, err := x11.Connect(logger)
		if err != nil {
			return nil, nil, err
		}
		return client, client, nil
	case "wayland":
		// Compositors do not expose global key grabs or client lists to
		// ordinary clients, so there is nothing to drive here.
		return nil, nil, errors.Wrap(ErrUnsupported, "wayland session")
	default:
		return nil, nil, errors.Wrapf(ErrUnsupported, "session type %q", server)
	}
}
