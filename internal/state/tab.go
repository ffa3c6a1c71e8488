package state

import "path/filepath"

// LandingPath is the reserved non-filesystem path a fresh tab opens on.
const LandingPath = "xplor://home"

// LandingTitle is the display title for the landing path.
const LandingTitle = "Home"

// Tab is a navigable unit owned by exactly one window at a time.
//
// Invariants maintained by the Coordinator: History is never empty,
// 0 <= HistoryIndex < len(History), and Path == History[HistoryIndex].
type Tab struct {
	ID           string
	Path         string
	Title        string
	History      []string
	HistoryIndex int
	WindowID     string
}

// TitleFor derives a tab title from a path: the last path segment, or the
// landing title for the reserved landing path.
func TitleFor(path string) string {
	if path == LandingPath {
		return LandingTitle
	}
	title := filepath.Base(path)
	if title == "" || title == "/" || title == "." {
		return path
	}
	return title
}

// clone returns a value copy with its own history slice, so callers can hold
// snapshots without aliasing registry state.
func (t *Tab) clone() Tab {
	c := *t
	c.History = make([]string, len(t.History))
	copy(c.History, t.History)
	return c
}
