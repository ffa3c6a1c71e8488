// Package app glues one window to the rest of the core: it issues directory
// loads and searches through the operation tracker, applies their results
// and incoming filesystem events only behind the check-before-apply test,
// and keeps the backend watch/subscription aligned with the displayed path.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/xplor-dev/xplor/internal/bridge"
	"github.com/xplor-dev/xplor/internal/debug"
	"github.com/xplor-dev/xplor/internal/ops"
	"github.com/xplor-dev/xplor/internal/protocol"
	"github.com/xplor-dev/xplor/internal/state"
)

// ErrInvalidTransfer reports a move or copy whose destination is one of the
// sources or a descendant of one; refused before any request is issued.
var ErrInvalidTransfer = errors.New("destination is the source or inside it")

// Backend is the slice of the message bridge the session uses.
// *bridge.Bridge satisfies it.
type Backend interface {
	Call(ctx context.Context, action string, params map[string]any) (json.RawMessage, error)
	Notify(action string, params map[string]any) error
	Subscribe(topic string) error
	Unsubscribe(topic string) error
}

// Session drives one window's displayed listing.
type Session struct {
	windowID string
	backend  Backend
	coord    *state.Coordinator
	tracker  *ops.Tracker
	onUpdate func()

	mu       sync.Mutex
	listPath string // path the current entries belong to
	entries  []protocol.Entry
	searchQ  string // non-empty while showing search results
	errMsg   string
	watching string // path currently watched and subscribed

	listOpts     bool // ordering/filtering configured
	showDotfiles bool
	sortAsc      bool
}

// NewSession creates a session for a window. The caller registers
// (*Session).HandleEvent as a bridge listener and onUpdate is invoked after
// every applied change, typically to invalidate the window.
func NewSession(windowID string, backend Backend, coord *state.Coordinator, tracker *ops.Tracker, onUpdate func()) *Session {
	if onUpdate == nil {
		onUpdate = func() {}
	}
	return &Session{
		windowID: windowID,
		backend:  backend,
		coord:    coord,
		tracker:  tracker,
		onUpdate: onUpdate,
	}
}

// WindowID returns the owning window's id.
func (s *Session) WindowID() string { return s.windowID }

// SetListOptions configures dotfile visibility and name ordering applied to
// every installed listing. Without it listings keep the backend's order.
func (s *Session) SetListOptions(showDotfiles, sortAscending bool) {
	s.mu.Lock()
	s.listOpts = true
	s.showDotfiles = showDotfiles
	s.sortAsc = sortAscending
	s.mu.Unlock()
}

// OpenTab creates a tab in this window and loads its path. An empty path
// opens the landing view.
func (s *Session) OpenTab(path string) state.Tab {
	tab := s.coord.CreateTab(path, s.windowID)
	s.load(tab.Path)
	return tab
}

// AdoptTab seeds this window with transferred tab data.
func (s *Session) AdoptTab(tab state.Tab) state.Tab {
	added := s.coord.AddTab(tab, s.windowID)
	s.load(added.Path)
	return added
}

// ActivateTab makes a tab active and loads its path.
func (s *Session) ActivateTab(id string) {
	if !s.coord.SetActiveTab(id) {
		return
	}
	if tab, ok := s.coord.GetTab(id); ok {
		s.load(tab.Path)
	}
}

// Navigate points a tab at a new path, truncating forward history, and
// loads it.
func (s *Session) Navigate(tabID, path string) {
	if !s.coord.NavigateTab(tabID, path) {
		return
	}
	s.load(path)
}

// GoBack steps a tab back in its history and loads the resulting path.
func (s *Session) GoBack(tabID string) {
	if !s.coord.GoBackTab(tabID) {
		return
	}
	if tab, ok := s.coord.GetTab(tabID); ok {
		s.load(tab.Path)
	}
}

// GoForward steps a tab forward in its history and loads the resulting path.
func (s *Session) GoForward(tabID string) {
	if !s.coord.GoForwardTab(tabID) {
		return
	}
	if tab, ok := s.coord.GetTab(tabID); ok {
		s.load(tab.Path)
	}
}

// CloseTab closes a tab. The last tab of a window cannot be closed; it is
// reset to the landing view instead.
func (s *Session) CloseTab(id string) {
	if !s.coord.CloseTab(id) {
		if tab, ok := s.coord.GetTab(id); ok && tab.WindowID == s.windowID {
			s.Navigate(id, state.LandingPath)
		}
		return
	}
	if active, ok := s.coord.GetActiveTabForWindow(s.windowID); ok {
		s.load(active.Path)
	}
}

// LoadActive loads the active tab's path when it is not already displayed.
// Safe to call from broadcast delivery: loading never mutates the registry,
// so there is no feedback into another broadcast.
func (s *Session) LoadActive() {
	active, ok := s.coord.GetActiveTabForWindow(s.windowID)
	if !ok {
		return
	}
	s.mu.Lock()
	current := s.listPath
	s.mu.Unlock()
	if current == active.Path {
		return
	}
	s.load(active.Path)
}

// Refresh reloads the active tab's path.
func (s *Session) Refresh() {
	if active, ok := s.coord.GetActiveTabForWindow(s.windowID); ok {
		s.load(active.Path)
	}
}

// Search replaces the listing with search results for the displayed path.
// An empty query restores the directory listing.
func (s *Session) Search(query string) {
	if query == "" {
		s.mu.Lock()
		s.searchQ = ""
		s.mu.Unlock()
		s.Refresh()
		return
	}
	s.mu.Lock()
	path := s.listPath
	s.searchQ = query
	s.mu.Unlock()
	if path == "" || path == state.LandingPath {
		return
	}

	tok, ok := s.tracker.Begin(ops.ClassSearch, s.windowID)
	if !ok {
		return
	}
	go func() {
		data, err := s.backend.Call(context.Background(), protocol.ActionFSSearch, map[string]any{
			"path":         path,
			"query":        query,
			"recursive":    true,
			"operation_id": tok.OperationID,
		})
		defer s.tracker.Finish(tok)
		if !s.tracker.ShouldApply(tok) {
			return
		}
		s.applyListing(path, data, err)
	}()
}

// load issues a directory load for path under the dir-load class,
// superseding any in-flight load for this window.
func (s *Session) load(path string) {
	s.mu.Lock()
	s.searchQ = ""
	s.mu.Unlock()

	if path == state.LandingPath {
		s.loadDrives()
		return
	}

	tok, ok := s.tracker.Begin(ops.ClassDirLoad, s.windowID)
	if !ok {
		return
	}
	debug.Log(debug.APP, "load %q op=%s window=%s", path, tok.OperationID, s.windowID)
	go func() {
		data, err := s.backend.Call(context.Background(), protocol.ActionFSList, map[string]any{
			"path":         path,
			"operation_id": tok.OperationID,
		})
		defer s.tracker.Finish(tok)
		if !s.tracker.ShouldApply(tok) {
			debug.Log(debug.APP, "discarding stale load of %q", path)
			return
		}
		s.applyListing(path, data, err)
		s.rewatch(path)
	}()
}

// loadDrives fills the landing view with the mounted volumes.
func (s *Session) loadDrives() {
	tok, ok := s.tracker.Begin(ops.ClassDirLoad, s.windowID)
	if !ok {
		return
	}
	go func() {
		data, err := s.backend.Call(context.Background(), protocol.ActionFSDrives, nil)
		defer s.tracker.Finish(tok)
		if !s.tracker.ShouldApply(tok) {
			return
		}
		if err != nil {
			s.applyListing(state.LandingPath, nil, err)
			return
		}
		var drives []protocol.Drive
		if err := json.Unmarshal(data, &drives); err != nil {
			s.applyListing(state.LandingPath, nil, err)
			return
		}
		entries := make([]protocol.Entry, 0, len(drives))
		for _, d := range drives {
			name := d.Label
			if name == "" {
				name = d.Path
			}
			entries = append(entries, protocol.Entry{Name: name, Path: d.Path, IsDir: true})
		}
		s.setEntries(state.LandingPath, entries, "")
		s.rewatch(state.LandingPath)
	}()
}

// applyListing decodes and installs a listing response, or records its
// error. Backend-reported cancellation is a silent discard, not a failure.
func (s *Session) applyListing(path string, data json.RawMessage, err error) {
	if err != nil {
		if isCancelled(err) {
			return
		}
		s.setEntries(path, nil, err.Error())
		return
	}
	var entries []protocol.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.setEntries(path, nil, fmt.Sprintf("decode listing: %v", err))
		return
	}
	s.setEntries(path, entries, "")
}

func (s *Session) setEntries(path string, entries []protocol.Entry, errMsg string) {
	s.mu.Lock()
	s.listPath = path
	s.entries = s.prepareLocked(entries)
	s.errMsg = errMsg
	s.mu.Unlock()
	s.onUpdate()
}

// prepareLocked applies the configured dotfile filter and ordering:
// directories first, then case-insensitive names in the configured
// direction. Entries added incrementally by change events keep arrival
// order until the next full listing.
func (s *Session) prepareLocked(entries []protocol.Entry) []protocol.Entry {
	if !s.listOpts {
		return entries
	}
	kept := entries[:0]
	for _, e := range entries {
		if !s.showDotfiles && strings.HasPrefix(e.Name, ".") {
			continue
		}
		kept = append(kept, e)
	}
	asc := s.sortAsc
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].IsDir != kept[j].IsDir {
			return kept[i].IsDir
		}
		a, b := strings.ToLower(kept[i].Name), strings.ToLower(kept[j].Name)
		if asc {
			return a < b
		}
		return a > b
	})
	return kept
}

// rewatch aligns the backend watch and the event subscription with the
// displayed path. The landing view watches nothing.
func (s *Session) rewatch(path string) {
	s.mu.Lock()
	old := s.watching
	if old == path {
		s.mu.Unlock()
		return
	}
	s.watching = path
	s.mu.Unlock()

	if old != "" && old != state.LandingPath {
		s.backend.Unsubscribe(old)
		s.backend.Notify(protocol.ActionFSUnwatch, map[string]any{"path": old})
	}
	if path != "" && path != state.LandingPath {
		s.backend.Subscribe(path)
		s.backend.Notify(protocol.ActionFSWatch, map[string]any{"path": path})
	}
}

// HandleEvent applies one published filesystem event. Events for paths no
// longer displayed are dropped; an overflow forces a full reload of the
// displayed directory instead of incremental deltas.
func (s *Session) HandleEvent(evt protocol.Event) {
	if evt.Type != protocol.EventFSChanged {
		return
	}
	var change protocol.FSChange
	if err := json.Unmarshal(evt.Data, &change); err != nil {
		return
	}

	s.mu.Lock()
	dir := s.listPath
	searching := s.searchQ != ""
	s.mu.Unlock()
	if dir == "" || dir == state.LandingPath || searching {
		return
	}

	if change.EventType == protocol.FSOverflow {
		if evt.Path == dir || filepath.Dir(evt.Path) == dir || isUnder(dir, evt.Path) {
			debug.Log(debug.APP, "overflow for %q, reloading", dir)
			s.load(dir)
		}
		return
	}
	if filepath.Dir(evt.Path) != dir && !(change.EventType == protocol.FSRenamed && filepath.Dir(change.OldPath) == dir) {
		return
	}

	switch change.EventType {
	case protocol.FSDeleted:
		s.removeEntry(dir, evt.Path)
	case protocol.FSRenamed:
		s.removeEntry(dir, change.OldPath)
		if filepath.Dir(evt.Path) == dir {
			s.refreshEntry(dir, evt.Path)
		}
	case protocol.FSCreated, protocol.FSModified:
		s.refreshEntry(dir, evt.Path)
	}
}

func (s *Session) removeEntry(dir, path string) {
	s.mu.Lock()
	if s.listPath != dir {
		s.mu.Unlock()
		return
	}
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.Path != path {
			kept = append(kept, e)
		}
	}
	s.entries = kept
	s.mu.Unlock()
	s.onUpdate()
}

// refreshEntry stats one path and upserts it into the listing. The apply is
// guarded by re-checking that dir is still displayed when the info returns.
func (s *Session) refreshEntry(dir, path string) {
	go func() {
		data, err := s.backend.Call(context.Background(), protocol.ActionFSInfo, map[string]any{"path": path})
		if err != nil {
			// The path may be gone again already; the delete event will
			// follow and remove it.
			return
		}
		var entry protocol.Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			return
		}
		s.mu.Lock()
		if s.listPath != dir {
			s.mu.Unlock()
			return
		}
		if s.listOpts && !s.showDotfiles && strings.HasPrefix(entry.Name, ".") {
			s.mu.Unlock()
			return
		}
		replaced := false
		for i, e := range s.entries {
			if e.Path == entry.Path {
				s.entries[i] = entry
				replaced = true
				break
			}
		}
		if !replaced {
			s.entries = append(s.entries, entry)
		}
		s.mu.Unlock()
		s.onUpdate()
	}()
}

// MoveFiles asks the backend to move sources into destDir, refusing locally
// when the destination is a source or inside one.
func (s *Session) MoveFiles(sources []string, destDir string) error {
	if err := ValidateDestination(sources, destDir); err != nil {
		return err
	}
	_, err := s.backend.Call(context.Background(), protocol.ActionFSMove, map[string]any{
		"sources":     sources,
		"destination": destDir,
	})
	if err != nil {
		return err
	}
	s.Refresh()
	return nil
}

// CopyFiles asks the backend to copy sources into destDir, with the same
// local destination validation as MoveFiles.
func (s *Session) CopyFiles(sources []string, destDir string) error {
	if err := ValidateDestination(sources, destDir); err != nil {
		return err
	}
	_, err := s.backend.Call(context.Background(), protocol.ActionFSCopy, map[string]any{
		"sources":     sources,
		"destination": destDir,
	})
	if err != nil {
		return err
	}
	s.Refresh()
	return nil
}

// Teardown cancels this window's in-flight operations and releases its
// watch. Called when the surface is destroyed.
func (s *Session) Teardown() {
	s.tracker.CancelAll(s.windowID)
	s.mu.Lock()
	old := s.watching
	s.watching = ""
	s.mu.Unlock()
	if old != "" && old != state.LandingPath {
		s.backend.Unsubscribe(old)
		s.backend.Notify(protocol.ActionFSUnwatch, map[string]any{"path": old})
	}
}

// Entries returns a snapshot of the displayed listing.
func (s *Session) Entries() []protocol.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Path returns the path the displayed listing belongs to.
func (s *Session) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listPath
}

// ErrMsg returns the last surfaced error, empty when none.
func (s *Session) ErrMsg() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// ValidateDestination refuses a destination directory equal to any source or
// nested inside one.
func ValidateDestination(sources []string, destDir string) error {
	dest := filepath.Clean(destDir)
	for _, src := range sources {
		src = filepath.Clean(src)
		if dest == src || isUnder(dest, src) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransfer, src, dest)
		}
	}
	return nil
}

// isUnder reports whether path is strictly inside dir.
func isUnder(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// isCancelled reports a backend-side cooperative cancellation, which is an
// expected race outcome and never surfaced.
func isCancelled(err error) bool {
	var be *bridge.BackendError
	return errors.As(err, &be) && be.Code == protocol.CodeCancelled
}
