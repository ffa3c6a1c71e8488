// Package bridge owns the two asynchronous channels to the xplord backend
// process: an id-correlated request/response channel and a topic-filtered
// publish/subscribe event channel. Responses are matched to callers by id,
// never by arrival order.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xplor-dev/xplor/internal/debug"
	"github.com/xplor-dev/xplor/internal/protocol"
)

// DefaultTimeout is the per-request deadline when none is configured.
const DefaultTimeout = 30 * time.Second

var (
	// ErrTimeout reports that no response arrived within the deadline. The
	// request is abandoned, not retried.
	ErrTimeout = errors.New("request timed out")

	// ErrConnectionClosed reports a severed channel. All pending requests
	// are rejected with it, and the bridge is unusable until the process
	// restarts; there is no reconnection.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrNotConnected reports a call before Connect succeeded.
	ErrNotConnected = errors.New("bridge not connected")
)

// BackendError is an application-level failure reported by the backend in a
// success:false response. It is surfaced to the caller verbatim.
type BackendError struct {
	Code    string
	Message string
	Details any
}

func (e *BackendError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Listener receives decoded events. Listeners run synchronously on the event
// channel's read loop, in registration order.
type Listener func(protocol.Event)

type callResult struct {
	data json.RawMessage
	err  error
}

type pendingCall struct {
	done  chan callResult
	timer *time.Timer
}

// Bridge is the client end of both channels. Connection has exactly two
// states, disconnected then connected, transitioning once at startup.
type Bridge struct {
	timeout time.Duration

	mu        sync.Mutex
	reqConn   net.Conn
	evtConn   net.Conn
	pending   map[string]*pendingCall
	connected bool
	closed    bool

	reqWriteMu sync.Mutex
	evtWriteMu sync.Mutex

	subMu       sync.Mutex
	topics      map[string]bool
	listeners   []listenerEntry
	listenerSeq int
}

type listenerEntry struct {
	id int
	fn Listener
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithTimeout overrides the default per-request deadline.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.timeout = d }
}

// New creates an unconnected bridge.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		timeout: DefaultTimeout,
		pending: make(map[string]*pendingCall),
		topics:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Connect dials the request/response and event endpoints and starts the read
// loops. It may be called once.
func (b *Bridge) Connect(reqAddr, evtAddr string) error {
	reqConn, err := net.Dial("tcp", reqAddr)
	if err != nil {
		return fmt.Errorf("dial request channel %s: %w", reqAddr, err)
	}
	evtConn, err := net.Dial("tcp", evtAddr)
	if err != nil {
		reqConn.Close()
		return fmt.Errorf("dial event channel %s: %w", evtAddr, err)
	}
	b.start(reqConn, evtConn)
	debug.Log(debug.BRIDGE, "connected: req=%s evt=%s", reqAddr, evtAddr)
	return nil
}

// start attaches live connections. Split from Connect so tests can drive the
// bridge over in-memory pipes.
func (b *Bridge) start(reqConn, evtConn net.Conn) {
	b.mu.Lock()
	b.reqConn = reqConn
	b.evtConn = evtConn
	b.connected = true
	b.mu.Unlock()
	go b.readResponses()
	go b.readEvents()
}

// Connected reports whether the startup transition has happened and the
// channels are still up.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected && !b.closed
}

// Call sends a request and blocks until its response, the per-request
// timeout, context cancellation, or disconnection. The returned data is the
// raw response payload.
func (b *Bridge) Call(ctx context.Context, action string, params map[string]any) (json.RawMessage, error) {
	id := uuid.NewString()
	pc := &pendingCall{done: make(chan callResult, 1)}

	b.mu.Lock()
	if !b.connected || b.closed {
		wasClosed := b.closed
		b.mu.Unlock()
		if wasClosed {
			return nil, ErrConnectionClosed
		}
		return nil, ErrNotConnected
	}
	b.pending[id] = pc
	conn := b.reqConn
	b.mu.Unlock()

	pc.timer = time.AfterFunc(b.timeout, func() {
		b.resolve(id, callResult{err: ErrTimeout})
	})

	req := protocol.Request{ID: id, Action: action, Params: params}
	b.reqWriteMu.Lock()
	err := protocol.WriteFrame(conn, req)
	b.reqWriteMu.Unlock()
	if err != nil {
		b.resolve(id, callResult{err: fmt.Errorf("send %s: %w", action, err)})
	} else {
		debug.Log(debug.BRIDGE_FRAME, "sent %s id=%s", action, id)
	}

	select {
	case res := <-pc.done:
		return res.data, res.err
	case <-ctx.Done():
		b.resolve(id, callResult{err: ctx.Err()})
		res := <-pc.done
		return res.data, res.err
	}
}

// Notify sends a request without registering interest in the response; the
// backend's reply (matched by no pending entry) is dropped. Used for
// best-effort cancellation, where the cancel's own failure is ignored.
func (b *Bridge) Notify(action string, params map[string]any) error {
	b.mu.Lock()
	if !b.connected || b.closed {
		b.mu.Unlock()
		return ErrNotConnected
	}
	conn := b.reqConn
	b.mu.Unlock()

	req := protocol.Request{ID: uuid.NewString(), Action: action, Params: params}
	b.reqWriteMu.Lock()
	defer b.reqWriteMu.Unlock()
	return protocol.WriteFrame(conn, req)
}

// Subscribe registers interest in a topic. Subscribing an already-subscribed
// topic is a no-op: a topic is either subscribed or not, delivery is never
// duplicated.
func (b *Bridge) Subscribe(topic string) error {
	b.subMu.Lock()
	if b.topics[topic] {
		b.subMu.Unlock()
		return nil
	}
	b.topics[topic] = true
	b.subMu.Unlock()
	return b.sendControl(protocol.SubOpSubscribe, topic)
}

// Unsubscribe removes interest in a topic. Unsubscribing twice is a no-op.
func (b *Bridge) Unsubscribe(topic string) error {
	b.subMu.Lock()
	if !b.topics[topic] {
		b.subMu.Unlock()
		return nil
	}
	delete(b.topics, topic)
	b.subMu.Unlock()
	return b.sendControl(protocol.SubOpUnsubscribe, topic)
}

// AddListener registers an event listener and returns a function that
// removes it again; a destroyed window must unregister or its handler keeps
// receiving events for the life of the process. Listeners are invoked in
// registration order; one listener panicking does not prevent delivery to
// the rest.
func (b *Bridge) AddListener(fn Listener) (remove func()) {
	b.subMu.Lock()
	b.listenerSeq++
	id := b.listenerSeq
	b.listeners = append(b.listeners, listenerEntry{id: id, fn: fn})
	b.subMu.Unlock()
	return func() {
		b.subMu.Lock()
		for i, e := range b.listeners {
			if e.id == id {
				b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
				break
			}
		}
		b.subMu.Unlock()
	}
}

// Close severs both channels and rejects every pending request.
func (b *Bridge) Close() error {
	b.fail(ErrConnectionClosed)
	return nil
}

func (b *Bridge) sendControl(op, topic string) error {
	b.mu.Lock()
	if !b.connected || b.closed {
		b.mu.Unlock()
		return ErrNotConnected
	}
	conn := b.evtConn
	b.mu.Unlock()

	b.evtWriteMu.Lock()
	defer b.evtWriteMu.Unlock()
	return protocol.WriteFrame(conn, protocol.SubControl{Op: op, Topic: topic})
}

// resolve completes a pending call exactly once and evicts it.
func (b *Bridge) resolve(id string, res callResult) {
	b.mu.Lock()
	pc, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	if pc.timer != nil {
		pc.timer.Stop()
	}
	pc.done <- res
}

// fail rejects every pending request with err and marks the bridge dead.
func (b *Bridge) fail(err error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.connected = false
	stale := b.pending
	b.pending = make(map[string]*pendingCall)
	reqConn, evtConn := b.reqConn, b.evtConn
	b.mu.Unlock()

	if reqConn != nil {
		reqConn.Close()
	}
	if evtConn != nil {
		evtConn.Close()
	}
	for id, pc := range stale {
		if pc.timer != nil {
			pc.timer.Stop()
		}
		pc.done <- callResult{err: err}
		debug.Log(debug.BRIDGE, "rejected pending %s: %v", id, err)
	}
}

func (b *Bridge) readResponses() {
	b.mu.Lock()
	conn := b.reqConn
	b.mu.Unlock()
	for {
		var resp protocol.Response
		if err := protocol.ReadFrame(conn, &resp); err != nil {
			b.fail(ErrConnectionClosed)
			return
		}
		debug.Log(debug.BRIDGE_FRAME, "response id=%s success=%v", resp.ID, resp.Success)
		if !resp.Success {
			be := &BackendError{Code: protocol.CodeUnknown, Message: "backend failure"}
			if resp.Error != nil {
				be = &BackendError{Code: resp.Error.Code, Message: resp.Error.Message, Details: resp.Error.Details}
			}
			b.resolve(resp.ID, callResult{err: be})
			continue
		}
		b.resolve(resp.ID, callResult{data: resp.Data})
	}
}

func (b *Bridge) readEvents() {
	b.mu.Lock()
	conn := b.evtConn
	b.mu.Unlock()
	for {
		var evt protocol.Event
		if err := protocol.ReadFrame(conn, &evt); err != nil {
			b.fail(ErrConnectionClosed)
			return
		}
		debug.Log(debug.BRIDGE_FRAME, "event %s path=%q", evt.Type, evt.Path)
		b.dispatch(evt)
	}
}

// dispatch fans an event out to every listener in registration order.
func (b *Bridge) dispatch(evt protocol.Event) {
	b.subMu.Lock()
	listeners := make([]Listener, 0, len(b.listeners))
	for _, e := range b.listeners {
		listeners = append(listeners, e.fn)
	}
	b.subMu.Unlock()
	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					debug.Log(debug.BRIDGE, "listener panic: %v", r)
				}
			}()
			fn(evt)
		}()
	}
}
