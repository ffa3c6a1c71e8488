// Package state holds the canonical tab/window registry. A single Coordinator
// instance is constructed at host startup and passed to every consumer; all
// mutation goes through it, and every mutation re-broadcasts per-window
// filtered views so no window ever observes another window's tabs.
package state

import (
	"fmt"
	"sync"

	"github.com/xplor-dev/xplor/internal/debug"
)

// Coordinator is the single-writer registry of tabs and windows.
type Coordinator struct {
	mu              sync.Mutex
	tabs            []*Tab
	activeTabID     string
	activePerWindow map[string]string
	windows         map[string]Surface
	windowOrder     []string
	tabSeq          int

	// set during a mutation, drained by the post-unlock flush
	pendingClose []Surface
}

// NewCoordinator creates an empty registry.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		activePerWindow: make(map[string]string),
		windows:         make(map[string]Surface),
	}
}

// RegisterWindow adds a window surface to the registry and pushes its
// (possibly empty) filtered view.
func (c *Coordinator) RegisterWindow(s Surface) {
	c.mu.Lock()
	id := s.ID()
	if _, ok := c.windows[id]; !ok {
		c.windowOrder = append(c.windowOrder, id)
	}
	c.windows[id] = s
	debug.Log(debug.STATE, "window registered: %s", id)
	c.finish()
}

// UnregisterWindow removes a window whose surface was destroyed. All tabs it
// owns are removed from the registry and its active pointer is cleared.
func (c *Coordinator) UnregisterWindow(windowID string) {
	c.mu.Lock()
	delete(c.windows, windowID)
	for i, id := range c.windowOrder {
		if id == windowID {
			c.windowOrder = append(c.windowOrder[:i], c.windowOrder[i+1:]...)
			break
		}
	}
	c.removeTabsForWindowLocked(windowID)
	debug.Log(debug.STATE, "window unregistered: %s", windowID)
	c.finish()
}

// Windows returns the registered surfaces in registration order.
func (c *Coordinator) Windows() []Surface {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Surface, 0, len(c.windowOrder))
	for _, id := range c.windowOrder {
		out = append(out, c.windows[id])
	}
	return out
}

// SurfaceFor returns the surface handle for a window id.
func (c *Coordinator) SurfaceFor(windowID string) (Surface, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.windows[windowID]
	return s, ok
}

// CreateTab builds a tab, binds it to windowID if given, and makes it active
// both globally and for that window. An empty path opens the landing view.
func (c *Coordinator) CreateTab(path, windowID string) Tab {
	c.mu.Lock()
	if path == "" {
		path = LandingPath
	}
	c.tabSeq++
	t := &Tab{
		ID:           fmt.Sprintf("tab-%d", c.tabSeq),
		Path:         path,
		Title:        TitleFor(path),
		History:      []string{path},
		HistoryIndex: 0,
		WindowID:     windowID,
	}
	c.tabs = append(c.tabs, t)
	c.activeTabID = t.ID
	if windowID != "" {
		c.activePerWindow[windowID] = t.ID
	}
	out := t.clone()
	debug.Log(debug.STATE, "tab created: %s path=%q window=%s", t.ID, path, windowID)
	c.finish()
	return out
}

// CloseTab removes a tab. Closing the last tab owned by a window is refused;
// the caller must reset that tab instead. Reports whether the tab was closed.
func (c *Coordinator) CloseTab(id string) bool {
	c.mu.Lock()
	t := c.findLocked(id)
	if t == nil {
		c.mu.Unlock()
		return false
	}
	if t.WindowID != "" && len(c.tabsForWindowLocked(t.WindowID)) <= 1 {
		debug.Log(debug.STATE, "refusing to close last tab %s of window %s", id, t.WindowID)
		c.mu.Unlock()
		return false
	}
	c.removeLocked(id, false)
	c.finish()
	return true
}

// SetActiveTab sets both the per-window active pointer and the global
// fallback pointer.
func (c *Coordinator) SetActiveTab(id string) bool {
	c.mu.Lock()
	t := c.findLocked(id)
	if t == nil {
		c.mu.Unlock()
		return false
	}
	c.activeTabID = id
	if t.WindowID != "" {
		c.activePerWindow[t.WindowID] = id
	}
	c.finish()
	return true
}

// NavigateTab appends a path to the tab's history, discarding any forward
// branch past the current index first (browser-history semantics).
func (c *Coordinator) NavigateTab(id, path string) bool {
	c.mu.Lock()
	t := c.findLocked(id)
	if t == nil {
		c.mu.Unlock()
		return false
	}
	t.History = append(t.History[:t.HistoryIndex+1], path)
	t.HistoryIndex = len(t.History) - 1
	t.Path = path
	t.Title = TitleFor(path)
	c.finish()
	return true
}

// GoBackTab steps the tab one entry back in its history.
func (c *Coordinator) GoBackTab(id string) bool {
	c.mu.Lock()
	t := c.findLocked(id)
	if t == nil || t.HistoryIndex <= 0 {
		c.mu.Unlock()
		return false
	}
	t.HistoryIndex--
	t.Path = t.History[t.HistoryIndex]
	t.Title = TitleFor(t.Path)
	c.finish()
	return true
}

// GoForwardTab steps the tab one entry forward in its history.
func (c *Coordinator) GoForwardTab(id string) bool {
	c.mu.Lock()
	t := c.findLocked(id)
	if t == nil || t.HistoryIndex >= len(t.History)-1 {
		c.mu.Unlock()
		return false
	}
	t.HistoryIndex++
	t.Path = t.History[t.HistoryIndex]
	t.Title = TitleFor(t.Path)
	c.finish()
	return true
}

// AddTab inserts an externally built tab (typically transferred tab data)
// into the registry bound to windowID, making it active there. A missing or
// colliding id gets a fresh one, so seeding a brand-new window from
// transferred data never collides.
func (c *Coordinator) AddTab(t Tab, windowID string) Tab {
	c.mu.Lock()
	if len(t.History) == 0 {
		t.History = []string{t.Path}
		t.HistoryIndex = 0
	}
	if t.HistoryIndex < 0 || t.HistoryIndex >= len(t.History) {
		t.HistoryIndex = len(t.History) - 1
	}
	t.Path = t.History[t.HistoryIndex]
	if t.Title == "" {
		t.Title = TitleFor(t.Path)
	}
	if t.ID == "" || c.findLocked(t.ID) != nil {
		c.tabSeq++
		t.ID = fmt.Sprintf("tab-%d", c.tabSeq)
	}
	t.WindowID = windowID
	nt := t.clone()
	c.tabs = append(c.tabs, &nt)
	c.activeTabID = nt.ID
	if windowID != "" {
		c.activePerWindow[windowID] = nt.ID
	}
	out := nt.clone()
	debug.Log(debug.STATE, "tab added: %s window=%s", nt.ID, windowID)
	c.finish()
	return out
}

// RemoveTab removes a tab unconditionally, even as the last tab of its
// window; used by the transfer protocol. If the removal leaves a registered
// window with zero tabs, the coordinator signals that window to close.
func (c *Coordinator) RemoveTab(id string) (Tab, bool) {
	c.mu.Lock()
	t := c.findLocked(id)
	if t == nil {
		c.mu.Unlock()
		return Tab{}, false
	}
	out := t.clone()
	c.removeLocked(id, true)
	c.finish()
	return out, true
}

// TransferTab reassigns ownership of a tab to another registered window,
// fixing up both source and target active pointers atomically. Returns false
// when the tab or the target window does not exist.
func (c *Coordinator) TransferTab(tabID, targetWindowID string) bool {
	c.mu.Lock()
	t := c.findLocked(tabID)
	if t == nil {
		c.mu.Unlock()
		return false
	}
	if _, ok := c.windows[targetWindowID]; !ok {
		c.mu.Unlock()
		return false
	}
	source := t.WindowID
	if source == targetWindowID {
		c.mu.Unlock()
		return false
	}
	pos := c.positionInWindowLocked(tabID, source)
	t.WindowID = targetWindowID
	c.activePerWindow[targetWindowID] = tabID
	c.activeTabID = tabID
	c.fixupSourceLocked(source, tabID, pos)
	debug.Log(debug.STATE, "tab %s transferred %s -> %s", tabID, source, targetWindowID)
	c.finish()
	return true
}

// RemoveTabsForWindow bulk-removes every tab owned by a window. Invoked when
// the window surface is destroyed, so no close signal is emitted.
func (c *Coordinator) RemoveTabsForWindow(windowID string) {
	c.mu.Lock()
	c.removeTabsForWindowLocked(windowID)
	c.finish()
}

// GetTabsForWindow returns copies of the tabs owned by a window, in order.
func (c *Coordinator) GetTabsForWindow(windowID string) []Tab {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Tab
	for _, t := range c.tabs {
		if t.WindowID == windowID {
			out = append(out, t.clone())
		}
	}
	return out
}

// GetActiveTabForWindow returns the window's active tab: the per-window
// pointer when it refers to an owned tab, otherwise the first owned tab.
func (c *Coordinator) GetActiveTabForWindow(windowID string) (Tab, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.activePerWindow[windowID]; ok {
		if t := c.findLocked(id); t != nil && t.WindowID == windowID {
			return t.clone(), true
		}
	}
	for _, t := range c.tabs {
		if t.WindowID == windowID {
			return t.clone(), true
		}
	}
	return Tab{}, false
}

// GetTab returns a copy of the tab with the given id.
func (c *Coordinator) GetTab(id string) (Tab, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t := c.findLocked(id); t != nil {
		return t.clone(), true
	}
	return Tab{}, false
}

// ActiveTabID returns the global fallback active pointer.
func (c *Coordinator) ActiveTabID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeTabID
}

func (c *Coordinator) findLocked(id string) *Tab {
	for _, t := range c.tabs {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (c *Coordinator) tabsForWindowLocked(windowID string) []*Tab {
	var out []*Tab
	for _, t := range c.tabs {
		if t.WindowID == windowID {
			out = append(out, t)
		}
	}
	return out
}

// positionInWindowLocked returns the tab's index within its window's tab
// order, or -1.
func (c *Coordinator) positionInWindowLocked(tabID, windowID string) int {
	pos := -1
	for _, t := range c.tabs {
		if t.WindowID != windowID {
			continue
		}
		pos++
		if t.ID == tabID {
			return pos
		}
	}
	return -1
}

// removeLocked deletes a tab and repairs active pointers. signalClose
// controls whether an emptied, still-registered window is told to close.
func (c *Coordinator) removeLocked(id string, signalClose bool) {
	t := c.findLocked(id)
	if t == nil {
		return
	}
	pos := c.positionInWindowLocked(id, t.WindowID)
	windowID := t.WindowID
	for i, cand := range c.tabs {
		if cand.ID == id {
			c.tabs = append(c.tabs[:i], c.tabs[i+1:]...)
			break
		}
	}
	if windowID != "" {
		c.fixupSourceLocked(windowID, id, pos)
		if !signalClose {
			return
		}
		if len(c.tabsForWindowLocked(windowID)) == 0 {
			if s, ok := c.windows[windowID]; ok {
				c.pendingClose = append(c.pendingClose, s)
			}
		}
		return
	}
	if c.activeTabID == id {
		c.activeTabID = ""
		if len(c.tabs) > 0 {
			c.activeTabID = c.tabs[0].ID
		}
	}
}

// fixupSourceLocked repairs a window's active pointer after the tab at
// position pos left it: the preceding tab in window order (clamped to the
// first) becomes active, or the entry is cleared when no tabs remain. The
// global pointer follows when it referred to the departed tab.
func (c *Coordinator) fixupSourceLocked(windowID, departedID string, pos int) {
	if windowID == "" {
		return
	}
	remaining := c.tabsForWindowLocked(windowID)
	if c.activePerWindow[windowID] != departedID {
		if len(remaining) == 0 {
			delete(c.activePerWindow, windowID)
		}
		if c.activeTabID == departedID && len(remaining) > 0 {
			c.activeTabID = c.activePerWindow[windowID]
		}
		return
	}
	if len(remaining) == 0 {
		delete(c.activePerWindow, windowID)
		if c.activeTabID == departedID {
			c.activeTabID = ""
			if len(c.tabs) > 0 {
				c.activeTabID = c.tabs[0].ID
			}
		}
		return
	}
	idx := pos - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(remaining) {
		idx = len(remaining) - 1
	}
	c.activePerWindow[windowID] = remaining[idx].ID
	if c.activeTabID == departedID {
		c.activeTabID = remaining[idx].ID
	}
}

func (c *Coordinator) removeTabsForWindowLocked(windowID string) {
	if windowID == "" {
		return
	}
	kept := c.tabs[:0]
	removedActive := false
	for _, t := range c.tabs {
		if t.WindowID == windowID {
			if t.ID == c.activeTabID {
				removedActive = true
			}
			continue
		}
		kept = append(kept, t)
	}
	c.tabs = kept
	delete(c.activePerWindow, windowID)
	if removedActive {
		c.activeTabID = ""
		if len(c.tabs) > 0 {
			c.activeTabID = c.tabs[0].ID
		}
	}
}

// viewLocked computes the filtered view for one window.
func (c *Coordinator) viewLocked(windowID string) View {
	var v View
	for _, t := range c.tabs {
		if t.WindowID == windowID {
			v.Tabs = append(v.Tabs, t.clone())
		}
	}
	if id, ok := c.activePerWindow[windowID]; ok {
		for _, t := range v.Tabs {
			if t.ID == id {
				v.ActiveTabID = id
				break
			}
		}
	}
	if v.ActiveTabID == "" && len(v.Tabs) > 0 {
		v.ActiveTabID = v.Tabs[0].ID
	}
	return v
}

type statePush struct {
	surface Surface
	view    View
}

// finish recomputes every window's filtered view, releases the lock, then
// delivers pushes and close signals. Delivery happens outside the lock so a
// surface callback can safely re-enter the coordinator.
func (c *Coordinator) finish() {
	pushes := make([]statePush, 0, len(c.windowOrder))
	for _, id := range c.windowOrder {
		pushes = append(pushes, statePush{surface: c.windows[id], view: c.viewLocked(id)})
	}
	closes := c.pendingClose
	c.pendingClose = nil
	c.mu.Unlock()

	for _, p := range pushes {
		p.surface.PushState(p.view)
	}
	for _, s := range closes {
		debug.Log(debug.STATE, "window %s emptied, signalling close", s.ID())
		s.CloseWindow()
	}
}
