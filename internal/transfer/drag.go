// Package transfer implements the cross-window drag-and-drop tab transfer
// flow: a per-drag state machine that distinguishes clicks from drags,
// hit-tests other windows' tab strips while dragging, and resolves the drop
// into a transfer, a tear-off into a new window, or a cancellation.
package transfer

import (
	"image"
	"time"

	"github.com/xplor-dev/xplor/internal/debug"
	"github.com/xplor-dev/xplor/internal/state"
)

// Button identifies the pressed pointer button.
type Button int

const (
	ButtonLeft Button = iota
	ButtonMiddle
	ButtonRight
)

// Outcome is the terminal result of a press/release cycle.
type Outcome int

const (
	// OutcomeNone: nothing to do (drag still in progress, or press ignored).
	OutcomeNone Outcome = iota
	// OutcomeActivate: plain click below the movement threshold.
	OutcomeActivate
	// OutcomeTransferred: tab moved to another window's strip.
	OutcomeTransferred
	// OutcomeNewWindow: tab torn off into a fresh window.
	OutcomeNewWindow
	// OutcomeCancelled: drag ended with no state change.
	OutcomeCancelled
)

// Registry is the slice of the coordinator the drag machine needs.
// *state.Coordinator satisfies it.
type Registry interface {
	Windows() []state.Surface
	GetTabsForWindow(windowID string) []state.Tab
	SetActiveTab(id string) bool
	TransferTab(tabID, targetWindowID string) bool
	RemoveTab(id string) (state.Tab, bool)
}

// Spawner opens a fresh window seeded with transferred tab data, positioned
// near the drop point.
type Spawner func(tab state.Tab, at image.Point)

// Config holds the tunables of the drag machine.
type Config struct {
	// Threshold is the movement in px, in either axis, past which a press
	// becomes a drag instead of a click.
	Threshold int
	// StripHeight is the height in px of the tab-bar strip at the top of a
	// window rectangle that accepts drops.
	StripHeight int
	// PollInterval rate-limits rectangle sweeps across other windows while
	// dragging.
	PollInterval time.Duration
}

// DefaultConfig mirrors the stock tunables.
func DefaultConfig() Config {
	return Config{Threshold: 10, StripHeight: 36, PollInterval: 50 * time.Millisecond}
}

type phase int

const (
	phaseIdle phase = iota
	phaseCandidate
	phaseDragging
)

// Drag is the state machine for one in-progress tab drag. It is driven from
// the owning window's input handler: Press, zero or more Moves, then Release
// or Abort.
type Drag struct {
	cfg   Config
	reg   Registry
	spawn Spawner

	phase    phase
	tabID    string
	sourceID string
	start    image.Point
	lastPoll time.Time
	hover    state.Surface
}

// New creates an idle drag machine.
func New(cfg Config, reg Registry, spawn Spawner) *Drag {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 10
	}
	if cfg.StripHeight <= 0 {
		cfg.StripHeight = 36
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	return &Drag{cfg: cfg, reg: reg, spawn: spawn}
}

// Dragging reports whether the movement threshold has been exceeded.
func (d *Drag) Dragging() bool { return d.phase == phaseDragging }

// Press arms the machine for a tab under the pointer. Only left-button
// presses enter the machine; middle-button close is a distinct immediate
// action handled by the caller and must not start a drag.
func (d *Drag) Press(windowID, tabID string, screen image.Point, button Button) {
	if button != ButtonLeft || d.phase != phaseIdle {
		return
	}
	d.phase = phaseCandidate
	d.tabID = tabID
	d.sourceID = windowID
	d.start = screen
	d.hover = nil
	d.lastPoll = time.Time{}
}

// Move feeds pointer motion. Past the threshold the machine enters Dragging
// and begins rate-limited hit tests of other windows' tab strips, toggling
// drop indicators as the match changes.
func (d *Drag) Move(screen image.Point, now time.Time) {
	switch d.phase {
	case phaseCandidate:
		dx, dy := screen.X-d.start.X, screen.Y-d.start.Y
		if abs(dx) >= d.cfg.Threshold || abs(dy) >= d.cfg.Threshold {
			d.phase = phaseDragging
			debug.Log(debug.TRANSFER, "drag started: tab=%s source=%s", d.tabID, d.sourceID)
		}
	case phaseDragging:
		if now.Sub(d.lastPoll) < d.cfg.PollInterval {
			return
		}
		d.lastPoll = now
		d.updateIndicator(d.stripHit(screen))
	}
}

// Release resolves the drag. Below threshold it is a plain activation click.
// Otherwise: a drop on another window's strip transfers the tab there; a
// drop outside every known window tears the tab off into a new window when
// the source owns more than one tab; anything else cancels. A source window
// that cannot report its own rectangle never tears off: the pointer cannot
// be proven outside it, and a release over a window must cancel, not spawn.
func (d *Drag) Release(screen image.Point) Outcome {
	defer d.reset()

	switch d.phase {
	case phaseIdle:
		return OutcomeNone
	case phaseCandidate:
		d.reg.SetActiveTab(d.tabID)
		return OutcomeActivate
	}

	if target := d.stripHit(screen); target != nil {
		if !d.reg.TransferTab(d.tabID, target.ID()) {
			// Drop window vanished between sweep and release.
			debug.Log(debug.TRANSFER, "invalid transfer: tab=%s target=%s", d.tabID, target.ID())
			return OutcomeCancelled
		}
		target.Focus()
		debug.Log(debug.TRANSFER, "tab %s dropped on window %s", d.tabID, target.ID())
		return OutcomeTransferred
	}

	if d.sourceRectKnown() && d.outsideAllWindows(screen) && len(d.reg.GetTabsForWindow(d.sourceID)) > 1 {
		tab, ok := d.reg.RemoveTab(d.tabID)
		if !ok {
			return OutcomeCancelled
		}
		if d.spawn != nil {
			d.spawn(tab, screen)
		}
		debug.Log(debug.TRANSFER, "tab %s torn off at %v", tab.ID, screen)
		return OutcomeNewWindow
	}

	return OutcomeCancelled
}

// Abort cancels an in-progress drag with no state change, e.g. when the
// source window is destroyed mid-drag.
func (d *Drag) Abort() {
	d.reset()
}

// stripHit returns the first other window whose tab-bar strip contains the
// pointer, or nil.
func (d *Drag) stripHit(screen image.Point) state.Surface {
	for _, s := range d.reg.Windows() {
		if s.ID() == d.sourceID {
			continue
		}
		r, ok := s.Rect()
		if !ok {
			continue
		}
		strip := image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+d.cfg.StripHeight)
		if screen.In(strip) {
			return s
		}
	}
	return nil
}

// sourceRectKnown reports whether the source window can report its own
// rectangle. outsideAllWindows skips windows with unknown rectangles, so
// without the source rect a pointer released over the source itself would
// look outside everything.
func (d *Drag) sourceRectKnown() bool {
	for _, s := range d.reg.Windows() {
		if s.ID() == d.sourceID {
			_, ok := s.Rect()
			return ok
		}
	}
	return false
}

// outsideAllWindows reports whether the pointer is outside the full
// rectangle of every window with a known position.
func (d *Drag) outsideAllWindows(screen image.Point) bool {
	for _, s := range d.reg.Windows() {
		r, ok := s.Rect()
		if !ok {
			continue
		}
		if screen.In(r) {
			return false
		}
	}
	return true
}

// updateIndicator moves the drop overlay to the newly matched window. It is
// idempotent: re-matching the same window changes nothing.
func (d *Drag) updateIndicator(match state.Surface) {
	if d.hover == match {
		return
	}
	if d.hover != nil {
		d.hover.ShowDropIndicator(false)
	}
	if match != nil {
		match.ShowDropIndicator(true)
	}
	d.hover = match
}

// reset clears the machine and any visible indicator, regardless of how the
// drag ended.
func (d *Drag) reset() {
	d.updateIndicator(nil)
	d.phase = phaseIdle
	d.tabID = ""
	d.sourceID = ""
	d.hover = nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
