package system

import (
	"os"
	"testing"
)

func TestDetectDisplayServer(t *testing.T) {
	tests := []struct {
		name           string
		sessionType    string
		waylandDisplay string
		x11Display     string
		expected       string
	}{
		{
			name:        "wayland session",
			sessionType: "wayland",
			expected:    "wayland",
		},
		{
			name:        "x11 session",
			sessionType: "x11",
			x11Display:  ":0",
			expected:    "x11",
		},
		{
			name:           "wayland display only",
			waylandDisplay: "wayland-1",
			expected:       "wayland",
		},
		{
			name:       "x11 display only",
			x11Display: ":1",
			expected:   "x11",
		},
		{
			name:     "nothing set",
			expected: "unknown",
		},
	}

	origSessionType := os.Getenv("XDG_SESSION_TYPE")
	origWaylandDisplay := os.Getenv("WAYLAND_DISPLAY")
	origX11Display := os.Getenv("DISPLAY")
	defer func() {
		os.Setenv("XDG_SESSION_TYPE", origSessionType)
		os.Setenv("WAYLAND_DISPLAY", origWaylandDisplay)
		os.Setenv("DISPLAY", origX11Display)
	}()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Setenv("XDG_SESSION_TYPE", tt.sessionType)
			os.Setenv("WAYLAND_DISPLAY", tt.waylandDisplay)
			os.Setenv("DISPLAY", tt.x11Display)

			if got := DetectDisplayServer(); got != tt.expected {
				t.Errorf("DetectDisplayServer() = %q, want %q", got, tt.expected)
			}
		})
	}
}
