package ops

import (
	"image"
	"testing"

	"github.com/xplor-dev/xplor/internal/state"
)

type nullSurface struct{ id string }

func (n *nullSurface) ID() string                    { return n.id }
func (n *nullSurface) PushState(state.View)          {}
func (n *nullSurface) Rect() (image.Rectangle, bool) { return image.Rectangle{}, false }
func (n *nullSurface) ShowDropIndicator(bool)        {}
func (n *nullSurface) Focus()                        {}
func (n *nullSurface) CloseWindow()                  {}

func setup(t *testing.T) (*state.Coordinator, *Tracker, *[]string) {
	t.Helper()
	coord := state.NewCoordinator()
	coord.RegisterWindow(&nullSurface{id: "w1"})
	var cancelled []string
	tracker := NewTracker(coord, func(operationID string) {
		cancelled = append(cancelled, operationID)
	})
	return coord, tracker, &cancelled
}

func TestBeginRequiresActiveTab(t *testing.T) {
	_, tracker, _ := setup(t)
	if _, ok := tracker.Begin(ClassDirLoad, "w1"); ok {
		t.Error("Begin must fail for a window with no tabs")
	}
}

func TestSupersedeCancelsPrevious(t *testing.T) {
	coord, tracker, cancelled := setup(t)
	coord.CreateTab("/a", "w1")

	first, ok := tracker.Begin(ClassDirLoad, "w1")
	if !ok {
		t.Fatal("Begin failed")
	}
	second, ok := tracker.Begin(ClassDirLoad, "w1")
	if !ok {
		t.Fatal("second Begin failed")
	}

	if !first.Cancelled() {
		t.Error("superseded token must be cancelled before the new one exists")
	}
	if tracker.ShouldApply(first) {
		t.Error("superseded token must not pass the apply check")
	}
	if !tracker.ShouldApply(second) {
		t.Error("current token must pass the apply check")
	}
	if len(*cancelled) != 1 || (*cancelled)[0] != first.OperationID {
		t.Errorf("backend cancel: got %v, want [%s]", *cancelled, first.OperationID)
	}
}

func TestClassesDoNotSupersedeEachOther(t *testing.T) {
	coord, tracker, _ := setup(t)
	coord.CreateTab("/a", "w1")

	load, _ := tracker.Begin(ClassDirLoad, "w1")
	search, _ := tracker.Begin(ClassSearch, "w1")
	if load.Cancelled() {
		t.Error("a search must not supersede a dir load")
	}
	if !tracker.ShouldApply(load) || !tracker.ShouldApply(search) {
		t.Error("both classes should be applicable concurrently")
	}
}

func TestConsumerMovedOn(t *testing.T) {
	coord, tracker, _ := setup(t)
	t1 := coord.CreateTab("/a", "w1")
	tok, _ := tracker.Begin(ClassDirLoad, "w1")

	// The user switches tabs while the load is in flight.
	coord.CreateTab("/b", "w1")
	if tracker.ShouldApply(tok) {
		t.Error("token bound to a no-longer-active tab must be stale")
	}

	coord.SetActiveTab(t1.ID)
	if !tracker.ShouldApply(tok) {
		t.Error("token becomes applicable again when its tab regains focus")
	}
}

func TestFinishReleasesSlot(t *testing.T) {
	coord, tracker, cancelled := setup(t)
	coord.CreateTab("/a", "w1")

	tok, _ := tracker.Begin(ClassDirLoad, "w1")
	tracker.Finish(tok)

	// A later Begin must not cancel the finished token's id again.
	tracker.Begin(ClassDirLoad, "w1")
	if len(*cancelled) != 0 {
		t.Errorf("finished token cancelled: %v", *cancelled)
	}
}

func TestCancelAll(t *testing.T) {
	coord, tracker, cancelled := setup(t)
	coord.CreateTab("/a", "w1")

	load, _ := tracker.Begin(ClassDirLoad, "w1")
	search, _ := tracker.Begin(ClassSearch, "w1")
	tracker.CancelAll("w1")

	if !load.Cancelled() || !search.Cancelled() {
		t.Error("CancelAll must cancel every class")
	}
	if len(*cancelled) != 2 {
		t.Errorf("backend cancels: got %d, want 2", len(*cancelled))
	}
}

func TestTokenIDsAreUnique(t *testing.T) {
	coord, tracker, _ := setup(t)
	coord.CreateTab("/a", "w1")

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		tok, _ := tracker.Begin(ClassDirLoad, "w1")
		if seen[tok.OperationID] {
			t.Fatalf("duplicate operation id %s", tok.OperationID)
		}
		seen[tok.OperationID] = true
	}
}
