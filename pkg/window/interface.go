package window

import "context"

// WindowID is an X11 window identifier.
type WindowID uint32

// ProcessID is the pid owning one or more windows.
type ProcessID int

// Kind distinguishes per-window candidates from per-application aggregates.
type Kind int

const (
	KindWindow Kind = iota
	KindApp
)

// Mode selects what the switcher cycles through.
type Mode string

const (
	ModeApps    Mode = "apps"
	ModeWindows Mode = "windows"
)

// Tier is a presentation grouping. It never influences recency; it only
// decides whether a candidate is shown in the main group or appended after it.
type Tier int

const (
	TierNormal Tier = iota
	TierAtEnd
)

// Placement is a user preference for a category of candidates.
type Placement int

const (
	PlaceNormal Placement = iota
	PlaceAtEnd
	PlaceExclude
)

// Placements holds the three placement preferences read from the store.
type Placements struct {
	HiddenApps       Placement
	MinimizedWindows Placement
	WindowlessApps   Placement
}

// Identity is what makes two candidates "the same" across enumeration passes,
// regardless of metadata changes.
type Identity struct {
	Kind    Kind
	Window  WindowID
	Process ProcessID
}

// Candidate is one selectable entry. Candidates are rebuilt from scratch on
// every enumeration pass and are never stored.
type Candidate struct {
	Kind        Kind
	Window      WindowID
	Process     ProcessID
	AppName     string
	Title       string
	Tier        Tier
	WindowCount int
	Frontmost   bool
	Hidden      bool
	Minimized   bool
}

// Identity returns the candidate's identity. For app candidates only the
// process matters; for window candidates only the window id.
func (c Candidate) Identity() Identity {
	if c.Kind == KindApp {
		return Identity{Kind: KindApp, Process: c.Process}
	}
	return Identity{Kind: KindWindow, Window: c.Window}
}

// Info is a raw window record as reported by the window system, before
// filtering and tiering.
type Info struct {
	Window           WindowID
	Process          ProcessID
	AppName          string
	Title            string
	OverrideRedirect bool
	Opacity          float64 // 0..1, 1 = opaque
	Width            int
	Height           int
	Hidden           bool
	Minimized        bool
	Shell            bool // dock, desktop, notification layer, ...
}

// FocusChange reports that a different window became active.
type FocusChange struct {
	Window  WindowID
	Process ProcessID
}

// System abstracts the window-system queries the switcher needs. All queries
// are best effort: an implementation returns an error when the display server
// is unreachable, and callers treat that as "no candidates", never as fatal.
type System interface {
	// OnScreen returns the currently mapped, visible windows in stacking
	// order, topmost first.
	OnScreen(ctx context.Context) ([]Info, error)

	// AllWindows returns every client window the window manager knows about,
	// including hidden and minimized ones.
	AllWindows(ctx context.Context) ([]Info, error)

	// ActiveWindow returns the window holding input focus, if any.
	ActiveWindow(ctx context.Context) (WindowID, ProcessID, bool)

	// StackingOrder returns on-screen window ids topmost first. The boolean
	// reports whether the query produced a usable answer at all.
	StackingOrder(ctx context.Context) ([]WindowID, bool)

	// FullOrder returns all known window ids, including off-screen entries,
	// in the window manager's own (roughly age-based) order.
	FullOrder(ctx context.Context) ([]WindowID, bool)

	// RaiseWindow brings a window to the foreground.
	RaiseWindow(ctx context.Context, id WindowID) error

	// RaiseProcess brings a process's preferred window to the foreground.
	RaiseProcess(ctx context.Context, pid ProcessID, preferred WindowID) error

	// WatchActive streams focus changes until the context is cancelled.
	WatchActive(ctx context.Context) (<-chan FocusChange, error)

	// Ping verifies the connection to the display server is still usable.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close() error
}

// ModifierSampler samples the current hardware state of the switcher's
// modifier key, bypassing event delivery entirely.
type ModifierSampler interface {
	ModifierHeld() (bool, error)
}

// Direction is a cycle direction.
type Direction int

const (
	Next Direction = iota
	Previous
)

// EventKind identifies one of the three abstract interceptor signals.
type EventKind int

const (
	EventActivate EventKind = iota
	EventCommit
	EventCancel
)

func (k EventKind) String() string {
	switch k {
	case EventActivate:
		return "activate"
	case EventCommit:
		return "commit"
	case EventCancel:
		return "cancel"
	}
	return "unknown"
}

// Event is a single interceptor signal. Direction is meaningful only for
// EventActivate.
type Event struct {
	Kind      EventKind
	Direction Direction
}

// Hook is one capture tier for the global hotkey. Start installs the hook and
// Events streams signals until Stop. A closed Events channel means the hook
// died and the caller should reinstall or fall back to another tier.
type Hook interface {
	Start() error
	Stop()
	Events() <-chan Event
}

// SessionEnder is implemented by hooks that hold extra capture state for the
// duration of a switching session, such as a full keyboard grab. The
// interceptor calls EndSession whenever a session commits or cancels, no
// matter which detection path decided it.
type SessionEnder interface {
	EndSession()
}
