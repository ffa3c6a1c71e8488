package backend

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"pkt.systems/pslog"

	"github.com/xplor-dev/xplor/internal/protocol"
)

// maxPendingChanges caps the debounce queue. Past it the burst is collapsed
// into a single overflow event and the consumer reloads.
const maxPendingChanges = 256

type pendingChange struct {
	path      string
	eventType string
	oldPath   string
}

// Watcher turns raw fsnotify events into published fs.changed events. Paths
// are reference counted: two clients watching the same directory share one
// kernel watch.
type Watcher struct {
	log      pslog.Logger
	publish  func(protocol.Event)
	debounce time.Duration

	fsw  *fsnotify.Watcher
	done chan struct{}

	mu       sync.Mutex
	refs     map[string]int
	pending  []pendingChange
	lastSeen time.Time
	overflow bool
}

// NewWatcher creates and starts the watch service. publish receives each
// debounced event batch.
func NewWatcher(log pslog.Logger, debounce time.Duration, publish func(protocol.Event)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	w := &Watcher{
		log:      log,
		publish:  publish,
		debounce: debounce,
		fsw:      fsw,
		done:     make(chan struct{}),
		refs:     make(map[string]int),
	}
	go w.run()
	return w, nil
}

// Watch adds a directory watch, or bumps its reference count.
func (w *Watcher) Watch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.refs[path] > 0 {
		w.refs[path]++
		return nil
	}
	if err := w.fsw.Add(path); err != nil {
		return err
	}
	w.refs[path] = 1
	w.log.Debug("watching", "path", path)
	return nil
}

// Unwatch drops one reference; the kernel watch goes away with the last one.
// The path may already be gone, so removal errors are not surfaced.
func (w *Watcher) Unwatch(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.refs[path] == 0 {
		return
	}
	w.refs[path]--
	if w.refs[path] > 0 {
		return
	}
	delete(w.refs, path)
	if err := w.fsw.Remove(path); err != nil {
		w.log.Debug("unwatch", "path", path, "err", err)
	}
}

// Close stops the service.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) run() {
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.enqueue(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "err", err)
			w.mu.Lock()
			w.overflow = true
			w.lastSeen = time.Now()
			w.mu.Unlock()

		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) enqueue(event fsnotify.Event) {
	var eventType string
	switch {
	case event.Has(fsnotify.Create):
		eventType = protocol.FSCreated
	case event.Has(fsnotify.Remove):
		eventType = protocol.FSDeleted
	case event.Has(fsnotify.Rename):
		// fsnotify reports only the departing name. The arrival shows up as
		// a separate Create; flush pairs them when both land in one batch.
		eventType = protocol.FSDeleted
	case event.Has(fsnotify.Write), event.Has(fsnotify.Chmod):
		eventType = protocol.FSModified
	default:
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastSeen = time.Now()
	if w.overflow {
		return
	}
	if len(w.pending) >= maxPendingChanges {
		w.log.Warn("change queue overflow", "pending", len(w.pending))
		w.overflow = true
		w.pending = nil
		return
	}

	// Coalesce repeats of the same change.
	for _, p := range w.pending {
		if p.path == event.Name && p.eventType == eventType {
			return
		}
	}
	w.pending = append(w.pending, pendingChange{path: event.Name, eventType: eventType})
}

// flush publishes the queued batch once it has sat quiet for the debounce
// interval.
func (w *Watcher) flush() {
	w.mu.Lock()
	if (!w.overflow && len(w.pending) == 0) || time.Since(w.lastSeen) < w.debounce {
		w.mu.Unlock()
		return
	}
	batch := w.pending
	overflow := w.overflow
	w.pending = nil
	w.overflow = false
	roots := make([]string, 0, len(w.refs))
	for p := range w.refs {
		roots = append(roots, p)
	}
	w.mu.Unlock()

	if overflow {
		for _, root := range roots {
			w.emit(root, protocol.FSChange{EventType: protocol.FSOverflow})
		}
		return
	}

	for _, change := range pairRenames(batch) {
		w.emit(change.path, protocol.FSChange{EventType: change.eventType, OldPath: change.oldPath})
	}
}

// pairRenames merges a delete followed by a create in the same directory
// into one renamed change. A plain move shows up exactly like that, and the
// consumer handles renamed with fewer round trips than delete plus create.
func pairRenames(batch []pendingChange) []pendingChange {
	out := make([]pendingChange, 0, len(batch))
	used := make([]bool, len(batch))
	for i, c := range batch {
		if used[i] {
			continue
		}
		if c.eventType == protocol.FSDeleted {
			for j := i + 1; j < len(batch); j++ {
				if used[j] {
					continue
				}
				n := batch[j]
				if n.eventType == protocol.FSCreated && filepath.Dir(n.path) == filepath.Dir(c.path) {
					out = append(out, pendingChange{path: n.path, eventType: protocol.FSRenamed, oldPath: c.path})
					used[i], used[j] = true, true
					break
				}
			}
			if used[i] {
				continue
			}
		}
		used[i] = true
		out = append(out, c)
	}
	return out
}

func (w *Watcher) emit(path string, change protocol.FSChange) {
	data, err := json.Marshal(change)
	if err != nil {
		return
	}
	w.publish(protocol.Event{
		Type:      protocol.EventFSChanged,
		Path:      path,
		Data:      data,
		Timestamp: protocol.Now(),
	})
}
