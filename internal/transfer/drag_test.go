package transfer

import (
	"image"
	"testing"
	"time"

	"github.com/xplor-dev/xplor/internal/state"
)

// testSurface has a known screen rectangle so drops can be hit-tested.
type testSurface struct {
	id        string
	rect      image.Rectangle
	hasRect   bool
	indicator bool
	focused   int
	closed    int
}

func (s *testSurface) ID() string                    { return s.id }
func (s *testSurface) PushState(state.View)          {}
func (s *testSurface) Rect() (image.Rectangle, bool) { return s.rect, s.hasRect }
func (s *testSurface) ShowDropIndicator(show bool)   { s.indicator = show }
func (s *testSurface) Focus()                        { s.focused++ }
func (s *testSurface) CloseWindow()                  { s.closed++ }

type harness struct {
	coord   *state.Coordinator
	drag    *Drag
	spawned []state.Tab
	source  *testSurface
	target  *testSurface
}

// newHarness builds two side-by-side 400x300 windows and a drag machine.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		coord:  state.NewCoordinator(),
		source: &testSurface{id: "w1", rect: image.Rect(0, 0, 400, 300), hasRect: true},
		target: &testSurface{id: "w2", rect: image.Rect(500, 0, 900, 300), hasRect: true},
	}
	h.coord.RegisterWindow(h.source)
	h.coord.RegisterWindow(h.target)
	h.drag = New(DefaultConfig(), h.coord, func(tab state.Tab, at image.Point) {
		h.spawned = append(h.spawned, tab)
	})
	return h
}

func (h *harness) pressAndDragTo(tabID string, to image.Point) {
	h.drag.Press("w1", tabID, image.Pt(50, 10), ButtonLeft)
	now := time.Now()
	h.drag.Move(image.Pt(70, 10), now) // past threshold
	h.drag.Move(to, now.Add(100*time.Millisecond))
}

func TestClickWithoutMovementActivates(t *testing.T) {
	h := newHarness(t)
	t1 := h.coord.CreateTab("/a", "w1")
	t2 := h.coord.CreateTab("/b", "w1")
	_ = t2

	h.drag.Press("w1", t1.ID, image.Pt(50, 10), ButtonLeft)
	h.drag.Move(image.Pt(53, 12), time.Now()) // below threshold
	if h.drag.Dragging() {
		t.Fatal("movement below threshold must not start a drag")
	}
	if got := h.drag.Release(image.Pt(53, 12)); got != OutcomeActivate {
		t.Fatalf("outcome: got %d, want OutcomeActivate", got)
	}
	active, _ := h.coord.GetActiveTabForWindow("w1")
	if active.ID != t1.ID {
		t.Errorf("clicked tab not activated: active=%s", active.ID)
	}
}

func TestMiddlePressNeverArmsTheMachine(t *testing.T) {
	h := newHarness(t)
	t1 := h.coord.CreateTab("/a", "w1")

	h.drag.Press("w1", t1.ID, image.Pt(50, 10), ButtonMiddle)
	h.drag.Move(image.Pt(200, 10), time.Now())
	if h.drag.Dragging() {
		t.Error("middle press must not start a drag")
	}
	if got := h.drag.Release(image.Pt(200, 10)); got != OutcomeNone {
		t.Errorf("outcome: got %d, want OutcomeNone", got)
	}
}

func TestDropOnTargetStripTransfers(t *testing.T) {
	h := newHarness(t)
	t1 := h.coord.CreateTab("/a", "w1")
	h.coord.CreateTab("/b", "w1")
	h.coord.CreateTab("/c", "w2")

	drop := image.Pt(600, 20) // inside w2's strip
	h.pressAndDragTo(t1.ID, drop)
	if !h.target.indicator {
		t.Error("hovering the target strip must show its drop indicator")
	}

	if got := h.drag.Release(drop); got != OutcomeTransferred {
		t.Fatalf("outcome: got %d, want OutcomeTransferred", got)
	}
	tab, _ := h.coord.GetTab(t1.ID)
	if tab.WindowID != "w2" {
		t.Errorf("tab owner: got %s, want w2", tab.WindowID)
	}
	if h.target.focused != 1 {
		t.Error("target window must be focused after the drop")
	}
	if h.target.indicator {
		t.Error("indicator must be cleared after the drag ends")
	}
}

func TestDropBelowStripCancels(t *testing.T) {
	h := newHarness(t)
	t1 := h.coord.CreateTab("/a", "w1")
	h.coord.CreateTab("/b", "w1")
	h.coord.CreateTab("/c", "w2")

	drop := image.Pt(600, 200) // inside w2 but below the strip
	h.pressAndDragTo(t1.ID, drop)
	if got := h.drag.Release(drop); got != OutcomeCancelled {
		t.Fatalf("outcome: got %d, want OutcomeCancelled", got)
	}
	tab, _ := h.coord.GetTab(t1.ID)
	if tab.WindowID != "w1" {
		t.Error("cancelled drag must not move the tab")
	}
}

func TestDropOutsideTearsOffMultiTabSource(t *testing.T) {
	h := newHarness(t)
	t1 := h.coord.CreateTab("/a", "w1")
	h.coord.CreateTab("/b", "w1")

	drop := image.Pt(1200, 600) // outside both windows
	h.pressAndDragTo(t1.ID, drop)
	if got := h.drag.Release(drop); got != OutcomeNewWindow {
		t.Fatalf("outcome: got %d, want OutcomeNewWindow", got)
	}
	if len(h.spawned) != 1 || h.spawned[0].Path != "/a" {
		t.Fatalf("spawned tabs: %+v", h.spawned)
	}
	if _, ok := h.coord.GetTab(t1.ID); ok {
		t.Error("torn-off tab must be removed from the registry pending adoption")
	}
}

func TestDropOutsideWithSingleTabCancels(t *testing.T) {
	h := newHarness(t)
	t1 := h.coord.CreateTab("/a", "w1")

	drop := image.Pt(1200, 600)
	h.pressAndDragTo(t1.ID, drop)
	if got := h.drag.Release(drop); got != OutcomeCancelled {
		t.Fatalf("outcome: got %d, want OutcomeCancelled", got)
	}
	if len(h.spawned) != 0 {
		t.Error("single-tab source must not tear off")
	}
	if _, ok := h.coord.GetTab(t1.ID); !ok {
		t.Error("tab must survive a cancelled tear-off")
	}
}

func TestUnknownSourceRectNeverTearsOff(t *testing.T) {
	h := newHarness(t)
	h.source.hasRect = false
	h.target.hasRect = false
	t1 := h.coord.CreateTab("/a", "w1")
	h.coord.CreateTab("/b", "w1")

	// An in-window drag; with no rects known the pointer cannot be proven
	// outside the source, so the release must cancel instead of spawning.
	drop := image.Pt(200, 150)
	h.pressAndDragTo(t1.ID, drop)
	if got := h.drag.Release(drop); got != OutcomeCancelled {
		t.Fatalf("outcome: got %d, want OutcomeCancelled", got)
	}
	if len(h.spawned) != 0 {
		t.Error("release over a rect-less source window spawned a new one")
	}
	tab, ok := h.coord.GetTab(t1.ID)
	if !ok || tab.WindowID != "w1" {
		t.Error("tab must stay with the source")
	}
}

func TestVanishedTargetCancels(t *testing.T) {
	h := newHarness(t)
	t1 := h.coord.CreateTab("/a", "w1")
	h.coord.CreateTab("/b", "w1")
	h.coord.CreateTab("/c", "w2")

	drop := image.Pt(600, 20)
	h.pressAndDragTo(t1.ID, drop)

	// The target window goes away between the hover sweep and the release.
	h.coord.UnregisterWindow("w2")
	if got := h.drag.Release(drop); got != OutcomeCancelled {
		t.Fatalf("outcome: got %d, want OutcomeCancelled", got)
	}
	tab, _ := h.coord.GetTab(t1.ID)
	if tab.WindowID != "w1" {
		t.Error("tab must stay with the source when the target vanished")
	}
}

func TestIndicatorClearedWhenLeavingStrip(t *testing.T) {
	h := newHarness(t)
	t1 := h.coord.CreateTab("/a", "w1")
	h.coord.CreateTab("/c", "w2")

	h.drag.Press("w1", t1.ID, image.Pt(50, 10), ButtonLeft)
	now := time.Now()
	h.drag.Move(image.Pt(70, 10), now)
	h.drag.Move(image.Pt(600, 20), now.Add(100*time.Millisecond))
	if !h.target.indicator {
		t.Fatal("indicator should be on over the strip")
	}
	h.drag.Move(image.Pt(600, 200), now.Add(200*time.Millisecond))
	if h.target.indicator {
		t.Error("indicator must turn off when the pointer leaves the strip")
	}
	h.drag.Abort()
}

func TestMoveSweepsAreRateLimited(t *testing.T) {
	h := newHarness(t)
	t1 := h.coord.CreateTab("/a", "w1")
	h.coord.CreateTab("/c", "w2")

	h.drag.Press("w1", t1.ID, image.Pt(50, 10), ButtonLeft)
	now := time.Now()
	h.drag.Move(image.Pt(70, 10), now)
	h.drag.Move(image.Pt(600, 20), now.Add(100*time.Millisecond))
	if !h.target.indicator {
		t.Fatal("indicator should be on after a settled sweep")
	}

	// A move inside the poll interval must not re-sweep.
	h.drag.Move(image.Pt(600, 200), now.Add(110*time.Millisecond))
	if !h.target.indicator {
		t.Error("sweep ran inside the poll interval")
	}
	h.drag.Abort()
	if h.target.indicator {
		t.Error("abort must clear the indicator")
	}
}
