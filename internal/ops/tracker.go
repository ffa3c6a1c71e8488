// Package ops implements the cancellation discipline for asynchronous units
// of work issued through the bridge. Every operation carries a token bound to
// the consumer identity captured when it started; its result may be applied
// only if the token survives a staleness check at completion time.
package ops

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/xplor-dev/xplor/internal/debug"
	"github.com/xplor-dev/xplor/internal/state"
)

// Class distinguishes kinds of cancellable work. Starting a new unit of a
// class supersedes the previous unit of the same class for the same window.
type Class string

const (
	ClassDirLoad Class = "dir-load"
	ClassSearch  Class = "search"
	ClassInfo    Class = "info"
)

// Token is the cancellation handle for one in-flight unit of work. It pins
// the consumer identity (tab and window) captured at start.
type Token struct {
	OperationID string
	Class       Class
	TabID       string
	WindowID    string

	cancelled atomic.Bool
}

// Cancel marks the token superseded. A superseded token's eventual result
// must never be applied.
func (t *Token) Cancel() { t.cancelled.Store(true) }

// Cancelled reports whether the token was superseded.
func (t *Token) Cancelled() bool { return t.cancelled.Load() }

type key struct {
	windowID string
	class    Class
}

// Tracker hands out tokens and performs the check-before-apply test against
// the live registry. cancelFn, when set, sends the best-effort backend cancel
// for a superseded operation id; its own failure is ignored, so it returns
// nothing.
type Tracker struct {
	reg      *state.Coordinator
	cancelFn func(operationID string)

	mu      sync.Mutex
	current map[key]*Token
}

// NewTracker creates a tracker bound to the registry.
func NewTracker(reg *state.Coordinator, cancelFn func(operationID string)) *Tracker {
	return &Tracker{
		reg:      reg,
		cancelFn: cancelFn,
		current:  make(map[key]*Token),
	}
}

// Begin starts a new unit of work of the given class for a window. It
// captures the window's current active tab as the consumer identity,
// supersedes any prior unit of the same class (cancelling it locally and
// telling the backend), and returns a fresh token carrying a new backend
// operation id. The supersede happens synchronously before the new token
// exists, so a superseded token is guaranteed stale before its replacement's
// request is even sent. ok is false when the window has no active tab.
func (t *Tracker) Begin(class Class, windowID string) (tok *Token, ok bool) {
	active, ok := t.reg.GetActiveTabForWindow(windowID)
	if !ok {
		return nil, false
	}

	t.mu.Lock()
	k := key{windowID: windowID, class: class}
	if prev := t.current[k]; prev != nil {
		prev.Cancel()
		debug.Log(debug.OPS, "superseding %s op %s (window %s)", class, prev.OperationID, windowID)
		if t.cancelFn != nil && prev.OperationID != "" {
			t.cancelFn(prev.OperationID)
		}
	}
	tok = &Token{
		OperationID: uuid.NewString(),
		Class:       class,
		TabID:       active.ID,
		WindowID:    windowID,
	}
	t.current[k] = tok
	t.mu.Unlock()
	return tok, true
}

// ShouldApply is the check-before-apply test: the token must not be
// cancelled, and the consumer identity captured at start must still be the
// window's current active tab. A false result is an expected race outcome,
// not an error; the caller discards the result silently.
func (t *Tracker) ShouldApply(tok *Token) bool {
	if tok == nil || tok.Cancelled() {
		return false
	}
	active, ok := t.reg.GetActiveTabForWindow(tok.WindowID)
	if !ok || active.ID != tok.TabID {
		debug.Log(debug.OPS, "stale %s op %s: consumer moved on", tok.Class, tok.OperationID)
		return false
	}
	return true
}

// Finish releases the tracker slot if tok is still the current unit for its
// class. Call it after the result was applied or discarded.
func (t *Tracker) Finish(tok *Token) {
	if tok == nil {
		return
	}
	t.mu.Lock()
	k := key{windowID: tok.WindowID, class: tok.Class}
	if t.current[k] == tok {
		delete(t.current, k)
	}
	t.mu.Unlock()
}

// CancelAll supersedes every in-flight unit for a window. Called when the
// window's surface unmounts.
func (t *Tracker) CancelAll(windowID string) {
	t.mu.Lock()
	for k, tok := range t.current {
		if k.windowID != windowID {
			continue
		}
		tok.Cancel()
		if t.cancelFn != nil && tok.OperationID != "" {
			t.cancelFn(tok.OperationID)
		}
		delete(t.current, k)
	}
	t.mu.Unlock()
}
