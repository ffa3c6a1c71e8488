package ui

import (
	"image"
	"sync"
	"time"

	gioapp "gioui.org/app"
	"gioui.org/io/system"
	"gioui.org/op"
	"gioui.org/unit"

	xapp "github.com/xplor-dev/xplor/internal/app"
	"github.com/xplor-dev/xplor/internal/debug"
	"github.com/xplor-dev/xplor/internal/ops"
	"github.com/xplor-dev/xplor/internal/state"
	"github.com/xplor-dev/xplor/internal/transfer"
)

// Options carries per-window display settings from the config layer.
type Options struct {
	NewTabPath    string
	ShowDotfiles  bool
	SortAscending bool
}

// Window is one Gio window registered as a surface with the coordinator.
type Window struct {
	id    string
	win   *gioapp.Window
	rend  *Renderer
	coord *state.Coordinator
	sess  *xapp.Session
	drag  *transfer.Drag

	newTabPath string
	cleanup    func()

	mu         sync.Mutex
	view       state.View
	drop       bool
	lastActive string
}

// NewWindow creates a window, its session, and wires tab-strip input into
// the shared drag machine. The caller registers it with the coordinator and
// runs the event loop.
func NewWindow(id string, coord *state.Coordinator, backend xapp.Backend, tracker *ops.Tracker, drag *transfer.Drag, opts Options) *Window {
	w := &Window{
		id:         id,
		win:        new(gioapp.Window),
		rend:       NewRenderer(),
		coord:      coord,
		drag:       drag,
		newTabPath: opts.NewTabPath,
	}
	w.win.Option(gioapp.Title("xplor"), gioapp.Size(unit.Dp(900), unit.Dp(600)))
	w.sess = xapp.NewSession(id, backend, coord, tracker, w.win.Invalidate)
	w.sess.SetListOptions(opts.ShowDotfiles, opts.SortAscending)

	w.rend.OnTabPress = func(tabID string, pos image.Point, btn transfer.Button) {
		drag.Press(id, tabID, pos, btn)
	}
	w.rend.OnTabMove = func(pos image.Point) {
		drag.Move(pos, time.Now())
		if drag.Dragging() {
			w.win.Invalidate()
		}
	}
	w.rend.OnTabRelease = func(pos image.Point) {
		outcome := drag.Release(pos)
		debug.Log(debug.UI, "drag outcome: %d (window %s)", outcome, id)
		w.win.Invalidate()
	}
	return w
}

// Session exposes the window's session for initial tab seeding.
func (w *Window) Session() *xapp.Session { return w.sess }

// SetCleanup registers a function run once when the window is destroyed,
// after its session tears down. Used to unregister the session's bridge
// listener.
func (w *Window) SetCleanup(fn func()) { w.cleanup = fn }

// ID implements state.Surface.
func (w *Window) ID() string { return w.id }

// PushState implements state.Surface. When the active tab changed it brings
// the listing in line; loading never mutates the registry, so there is no
// broadcast feedback loop.
func (w *Window) PushState(v state.View) {
	w.mu.Lock()
	w.view = v
	activeChanged := v.ActiveTabID != w.lastActive
	w.lastActive = v.ActiveTabID
	w.mu.Unlock()

	if activeChanged {
		w.sess.LoadActive()
	}
	w.win.Invalidate()
}

// Rect implements state.Surface. Gio does not expose the window's screen
// origin, so the rectangle is unknown and drops cannot be hit-tested onto
// this window yet.
// TODO: capture the native handle from app.ViewEvent (X11/Win32/Cocoa) and
// query the origin there.
func (w *Window) Rect() (image.Rectangle, bool) {
	return image.Rectangle{}, false
}

// ShowDropIndicator implements state.Surface.
func (w *Window) ShowDropIndicator(show bool) {
	w.mu.Lock()
	w.drop = show
	w.mu.Unlock()
	w.win.Invalidate()
}

// Focus implements state.Surface.
func (w *Window) Focus() {
	w.win.Perform(system.ActionRaise)
}

// CloseWindow implements state.Surface. Invoked by the coordinator when the
// window's last tab moved elsewhere.
func (w *Window) CloseWindow() {
	w.win.Perform(system.ActionClose)
}

// Run drives the window's event loop until it is destroyed.
func (w *Window) Run() error {
	var ops op.Ops
	for {
		switch e := w.win.Event().(type) {
		case gioapp.DestroyEvent:
			w.sess.Teardown()
			if w.cleanup != nil {
				w.cleanup()
			}
			// UnregisterWindow also removes every tab the window owned.
			w.coord.UnregisterWindow(w.id)
			return e.Err
		case gioapp.FrameEvent:
			gtx := gioapp.NewContext(&ops, e)
			st := w.frameState()
			evt := w.rend.Layout(gtx, &st)
			w.handleUIEvent(evt)
			e.Frame(gtx.Ops)
		}
	}
}

// frameState snapshots everything the renderer needs for one frame.
func (w *Window) frameState() ViewState {
	w.mu.Lock()
	view := w.view
	drop := w.drop
	w.mu.Unlock()

	st := ViewState{
		Path:          w.sess.Path(),
		Entries:       w.sess.Entries(),
		ErrMsg:        w.sess.ErrMsg(),
		DropIndicator: drop,
	}
	if st.Path == state.LandingPath {
		st.Path = ""
	}
	for _, tab := range view.Tabs {
		st.Tabs = append(st.Tabs, TabItem{
			ID:     tab.ID,
			Title:  tab.Title,
			Active: tab.ID == view.ActiveTabID,
		})
		if tab.ID == view.ActiveTabID {
			st.CanBack = tab.HistoryIndex > 0
			st.CanForward = tab.HistoryIndex < len(tab.History)-1
		}
	}
	return st
}

func (w *Window) handleUIEvent(evt UIEvent) {
	w.mu.Lock()
	activeID := w.view.ActiveTabID
	w.mu.Unlock()

	switch evt.Action {
	case ActionNavigate:
		if activeID != "" {
			w.sess.Navigate(activeID, evt.Path)
		}
	case ActionBack:
		if activeID != "" {
			w.sess.GoBack(activeID)
		}
	case ActionForward:
		if activeID != "" {
			w.sess.GoForward(activeID)
		}
	case ActionNewTab:
		w.sess.OpenTab(w.newTabPath)
	case ActionCloseTab:
		w.sess.CloseTab(evt.TabID)
	case ActionSearch:
		w.sess.Search(evt.Query)
	}
}
