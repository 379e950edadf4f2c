package prefs

import (
	"testing"
	"time"

	"quickswitch/pkg/window"
)

func TestParsePlacement(t *testing.T) {
	tests := []struct {
		value    string
		fallback window.Placement
		expected window.Placement
	}{
		{"normal", window.PlaceAtEnd, window.PlaceNormal},
		{"at_end", window.PlaceNormal, window.PlaceAtEnd},
		{"exclude", window.PlaceNormal, window.PlaceExclude},
		{"bogus", window.PlaceAtEnd, window.PlaceAtEnd},
		{"", window.PlaceExclude, window.PlaceExclude},
	}
	for _, tt := range tests {
		if got := parsePlacement(tt.value, tt.fallback); got != tt.expected {
			t.Errorf("parsePlacement(%q) = %v, want %v", tt.value, got, tt.expected)
		}
	}
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	if s.Mode != window.ModeApps {
		t.Errorf("default mode = %q, want %q", s.Mode, window.ModeApps)
	}
	if s.RevealDelay <= 0 || s.RevealDelay > time.Second {
		t.Errorf("default reveal delay out of range: %v", s.RevealDelay)
	}
	if s.Placements.WindowlessApps != window.PlaceAtEnd {
		t.Error("windowless apps should default to the trailing group")
	}
	if s.Placements.HiddenApps != window.PlaceNormal || s.Placements.MinimizedWindows != window.PlaceNormal {
		t.Error("hidden and minimized should default to the normal group")
	}
}
