package app

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/xplor-dev/xplor/internal/ops"
	"github.com/xplor-dev/xplor/internal/protocol"
	"github.com/xplor-dev/xplor/internal/state"
)

type nullSurface struct{ id string }

func (n *nullSurface) ID() string                    { return n.id }
func (n *nullSurface) PushState(state.View)          {}
func (n *nullSurface) Rect() (image.Rectangle, bool) { return image.Rectangle{}, false }
func (n *nullSurface) ShowDropIndicator(bool)        {}
func (n *nullSurface) Focus()                        {}
func (n *nullSurface) CloseWindow()                  {}

type recordedCall struct {
	action string
	params map[string]any
}

// fakeBackend answers calls through a test-provided handler and records all
// traffic.
type fakeBackend struct {
	mu       sync.Mutex
	handler  func(action string, params map[string]any) (json.RawMessage, error)
	calls    []recordedCall
	notifies []recordedCall
	subs     []string
	unsubs   []string
}

func (f *fakeBackend) Call(ctx context.Context, action string, params map[string]any) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{action: action, params: params})
	handler := f.handler
	f.mu.Unlock()
	if handler == nil {
		return json.RawMessage(`[]`), nil
	}
	return handler(action, params)
}

func (f *fakeBackend) Notify(action string, params map[string]any) error {
	f.mu.Lock()
	f.notifies = append(f.notifies, recordedCall{action: action, params: params})
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) Subscribe(topic string) error {
	f.mu.Lock()
	f.subs = append(f.subs, topic)
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) Unsubscribe(topic string) error {
	f.mu.Lock()
	f.unsubs = append(f.unsubs, topic)
	f.mu.Unlock()
	return nil
}

func entriesJSON(t *testing.T, names ...string) json.RawMessage {
	t.Helper()
	var entries []protocol.Entry
	for _, n := range names {
		entries = append(entries, protocol.Entry{Name: n, Path: "/" + n})
	}
	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

type sessionHarness struct {
	coord   *state.Coordinator
	backend *fakeBackend
	sess    *Session
	updates chan struct{}
}

func newSessionHarness(t *testing.T) *sessionHarness {
	t.Helper()
	h := &sessionHarness{
		coord:   state.NewCoordinator(),
		backend: &fakeBackend{},
		updates: make(chan struct{}, 64),
	}
	h.coord.RegisterWindow(&nullSurface{id: "w1"})
	tracker := ops.NewTracker(h.coord, func(operationID string) {
		h.backend.Notify(protocol.ActionCancel, map[string]any{"operation_id": operationID})
	})
	h.sess = NewSession("w1", h.backend, h.coord, tracker, func() {
		h.updates <- struct{}{}
	})
	return h
}

func (h *sessionHarness) waitUpdate(t *testing.T) {
	t.Helper()
	select {
	case <-h.updates:
	case <-time.After(2 * time.Second):
		t.Fatal("no update arrived")
	}
}

func TestStaleDirLoadIsDiscarded(t *testing.T) {
	h := newSessionHarness(t)

	gates := map[string]chan struct{}{
		"/p1": make(chan struct{}),
		"/p2": make(chan struct{}),
	}
	h.backend.handler = func(action string, params map[string]any) (json.RawMessage, error) {
		if action != protocol.ActionFSList {
			return json.RawMessage(`[]`), nil
		}
		path, _ := params["path"].(string)
		<-gates[path]
		return entriesJSON(t, filepath.Base(path)+"-entry"), nil
	}

	tab := h.sess.OpenTab("/p1")
	h.sess.Navigate(tab.ID, "/p2")

	// The fast second load lands first.
	close(gates["/p2"])
	h.waitUpdate(t)

	// The slow first load lands after; its token was superseded, so the
	// listing must still show /p2.
	close(gates["/p1"])
	time.Sleep(100 * time.Millisecond)

	if got := h.sess.Path(); got != "/p2" {
		t.Errorf("displayed path: got %q, want /p2", got)
	}
	entries := h.sess.Entries()
	if len(entries) != 1 || entries[0].Name != "p2-entry" {
		t.Errorf("entries: %+v, stale load applied", entries)
	}

	// The superseded operation was also cancelled toward the backend.
	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	cancels := 0
	for _, n := range h.backend.notifies {
		if n.action == protocol.ActionCancel {
			cancels++
		}
	}
	if cancels != 1 {
		t.Errorf("backend cancels: got %d, want 1", cancels)
	}
}

func TestNavigateRewiresWatchAndSubscription(t *testing.T) {
	h := newSessionHarness(t)
	h.backend.handler = func(action string, params map[string]any) (json.RawMessage, error) {
		return entriesJSON(t), nil
	}

	tab := h.sess.OpenTab("/p1")
	h.waitUpdate(t)
	// The watch rewire runs after the update callback; give it a beat.
	time.Sleep(50 * time.Millisecond)
	h.sess.Navigate(tab.ID, "/p2")
	h.waitUpdate(t)
	time.Sleep(50 * time.Millisecond)

	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	if len(h.backend.subs) != 2 || h.backend.subs[0] != "/p1" || h.backend.subs[1] != "/p2" {
		t.Errorf("subscriptions: %v", h.backend.subs)
	}
	if len(h.backend.unsubs) != 1 || h.backend.unsubs[0] != "/p1" {
		t.Errorf("unsubscriptions: %v", h.backend.unsubs)
	}
	var watches, unwatches []string
	for _, n := range h.backend.notifies {
		switch n.action {
		case protocol.ActionFSWatch:
			watches = append(watches, n.params["path"].(string))
		case protocol.ActionFSUnwatch:
			unwatches = append(unwatches, n.params["path"].(string))
		}
	}
	if len(watches) != 2 || len(unwatches) != 1 {
		t.Errorf("watch traffic: watches=%v unwatches=%v", watches, unwatches)
	}
}

func TestLandingLoadsDrives(t *testing.T) {
	h := newSessionHarness(t)
	h.backend.handler = func(action string, params map[string]any) (json.RawMessage, error) {
		if action != protocol.ActionFSDrives {
			t.Errorf("landing issued %s, want fs.drives", action)
		}
		return json.Marshal([]protocol.Drive{{Path: "/", Label: "Root"}})
	}

	h.sess.OpenTab("")
	h.waitUpdate(t)

	entries := h.sess.Entries()
	if len(entries) != 1 || entries[0].Name != "Root" || !entries[0].IsDir {
		t.Errorf("landing entries: %+v", entries)
	}
	if h.sess.Path() != state.LandingPath {
		t.Errorf("landing path: %q", h.sess.Path())
	}
}

func TestCloseLastTabResetsToLanding(t *testing.T) {
	h := newSessionHarness(t)
	h.backend.handler = func(action string, params map[string]any) (json.RawMessage, error) {
		if action == protocol.ActionFSDrives {
			return json.Marshal([]protocol.Drive{{Path: "/", Label: "Root"}})
		}
		return entriesJSON(t), nil
	}

	tab := h.sess.OpenTab("/p1")
	h.waitUpdate(t)

	h.sess.CloseTab(tab.ID)
	h.waitUpdate(t)

	got, ok := h.coord.GetTab(tab.ID)
	if !ok {
		t.Fatal("sole tab must survive a close as a reset")
	}
	if got.Path != state.LandingPath {
		t.Errorf("reset tab path: got %q, want landing", got.Path)
	}
}

func TestChangeEventsApplyDeltas(t *testing.T) {
	h := newSessionHarness(t)
	h.backend.handler = func(action string, params map[string]any) (json.RawMessage, error) {
		switch action {
		case protocol.ActionFSList:
			return json.Marshal([]protocol.Entry{
				{Name: "a.txt", Path: "/p1/a.txt"},
				{Name: "b.txt", Path: "/p1/b.txt"},
			})
		case protocol.ActionFSInfo:
			path := params["path"].(string)
			return json.Marshal(protocol.Entry{Name: filepath.Base(path), Path: path, Size: 42})
		}
		return nil, errors.New("unexpected action " + action)
	}

	h.sess.OpenTab("/p1")
	h.waitUpdate(t)

	event := func(eventType, path, oldPath string) protocol.Event {
		data, _ := json.Marshal(protocol.FSChange{EventType: eventType, OldPath: oldPath})
		return protocol.Event{Type: protocol.EventFSChanged, Path: path, Data: data}
	}

	h.sess.HandleEvent(event(protocol.FSDeleted, "/p1/a.txt", ""))
	h.waitUpdate(t)
	if entries := h.sess.Entries(); len(entries) != 1 || entries[0].Name != "b.txt" {
		t.Fatalf("after delete: %+v", entries)
	}

	h.sess.HandleEvent(event(protocol.FSCreated, "/p1/c.txt", ""))
	h.waitUpdate(t)
	entries := h.sess.Entries()
	if len(entries) != 2 || entries[1].Name != "c.txt" || entries[1].Size != 42 {
		t.Fatalf("after create: %+v", entries)
	}

	h.sess.HandleEvent(event(protocol.FSRenamed, "/p1/d.txt", "/p1/b.txt"))
	h.waitUpdate(t) // removal of b.txt
	h.waitUpdate(t) // upsert of d.txt
	names := map[string]bool{}
	for _, e := range h.sess.Entries() {
		names[e.Name] = true
	}
	if names["b.txt"] || !names["d.txt"] || !names["c.txt"] {
		t.Fatalf("after rename: %+v", h.sess.Entries())
	}

	// Events for other directories are not ours.
	before := len(h.sess.Entries())
	h.sess.HandleEvent(event(protocol.FSDeleted, "/elsewhere/x.txt", ""))
	if len(h.sess.Entries()) != before {
		t.Error("foreign-directory event mutated the listing")
	}
}

func TestOverflowReloadsWholeDirectory(t *testing.T) {
	h := newSessionHarness(t)
	var mu sync.Mutex
	lists := 0
	h.backend.handler = func(action string, params map[string]any) (json.RawMessage, error) {
		if action == protocol.ActionFSList {
			mu.Lock()
			lists++
			mu.Unlock()
		}
		return entriesJSON(t, "x"), nil
	}

	h.sess.OpenTab("/p1")
	h.waitUpdate(t)

	data, _ := json.Marshal(protocol.FSChange{EventType: protocol.FSOverflow})
	h.sess.HandleEvent(protocol.Event{Type: protocol.EventFSChanged, Path: "/p1", Data: data})
	h.waitUpdate(t)

	mu.Lock()
	defer mu.Unlock()
	if lists != 2 {
		t.Errorf("list calls: got %d, want 2 (initial + overflow reload)", lists)
	}
}

func TestListOptionsFilterAndSort(t *testing.T) {
	h := newSessionHarness(t)
	h.backend.handler = func(action string, params map[string]any) (json.RawMessage, error) {
		return json.Marshal([]protocol.Entry{
			{Name: "zeta.txt", Path: "/p1/zeta.txt"},
			{Name: ".hidden", Path: "/p1/.hidden"},
			{Name: "Alpha", Path: "/p1/Alpha", IsDir: true},
			{Name: "beta.txt", Path: "/p1/beta.txt"},
		})
	}

	h.sess.SetListOptions(false, true)
	h.sess.OpenTab("/p1")
	h.waitUpdate(t)

	got := h.sess.Entries()
	want := []string{"Alpha", "beta.txt", "zeta.txt"}
	if len(got) != len(want) {
		t.Fatalf("entries: %+v, want names %v", got, want)
	}
	for i, name := range want {
		if got[i].Name != name {
			t.Errorf("entries[%d]: got %q, want %q", i, got[i].Name, name)
		}
	}

	h.sess.SetListOptions(true, false)
	h.sess.Refresh()
	h.waitUpdate(t)
	got = h.sess.Entries()
	// Directories still lead; files in reverse name order, dotfiles shown.
	want = []string{"Alpha", "zeta.txt", "beta.txt", ".hidden"}
	for i, name := range want {
		if got[i].Name != name {
			t.Errorf("descending entries[%d]: got %q, want %q", i, got[i].Name, name)
		}
	}
}

func TestValidateDestination(t *testing.T) {
	cases := []struct {
		sources []string
		dest    string
		wantErr bool
	}{
		{[]string{"/a/b"}, "/a/c", false},
		{[]string{"/a/b"}, "/a/b", true},
		{[]string{"/a/b"}, "/a/b/c", true},
		{[]string{"/a/b"}, "/a/b/c/d", true},
		{[]string{"/a/bc"}, "/a/b", false},
		{[]string{"/a/b", "/a/c"}, "/a/c/x", true},
	}
	for _, tc := range cases {
		err := ValidateDestination(tc.sources, tc.dest)
		if tc.wantErr && !errors.Is(err, ErrInvalidTransfer) {
			t.Errorf("ValidateDestination(%v, %q): got %v, want ErrInvalidTransfer", tc.sources, tc.dest, err)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("ValidateDestination(%v, %q): unexpected %v", tc.sources, tc.dest, err)
		}
	}
}

func TestMoveFilesRefusedLocally(t *testing.T) {
	h := newSessionHarness(t)
	err := h.sess.MoveFiles([]string{"/a/b"}, "/a/b/inner")
	if !errors.Is(err, ErrInvalidTransfer) {
		t.Fatalf("MoveFiles: got %v, want ErrInvalidTransfer", err)
	}
	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	for _, c := range h.backend.calls {
		if c.action == protocol.ActionFSMove {
			t.Error("refused move must not reach the backend")
		}
	}
}
