// Package backend implements xplord, the filesystem daemon behind the
// browser frontend. It serves id-correlated requests on one TCP listener and
// publishes topic-filtered filesystem events on another; every request is
// handled on its own goroutine so a slow walk never blocks the channel.
package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/xplor-dev/xplor/internal/protocol"
)

// Config holds the daemon's tunables.
type Config struct {
	RequestAddr   string
	EventAddr     string
	ThemeDBPath   string
	WatchDebounce time.Duration
	SearchDepth   int
}

// Server is the daemon.
type Server struct {
	log     pslog.Logger
	cfg     Config
	cancels *cancelRegistry
	watcher *Watcher
	themes  *ThemeStore

	reqLn net.Listener
	evtLn net.Listener

	mu     sync.Mutex
	subs   map[*subscriber]bool
	closed bool
	wg     sync.WaitGroup
}

// subscriber is one connected event channel with its topic set.
type subscriber struct {
	conn    net.Conn
	writeMu sync.Mutex

	mu     sync.Mutex
	topics map[string]bool
}

// matches reports whether the subscriber wants events for path. Topics are
// prefixes: subscribing a directory covers everything beneath it.
func (s *subscriber) matches(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for t := range s.topics {
		if strings.HasPrefix(path, t) {
			return true
		}
	}
	return false
}

// NewServer creates a server; Listen and Serve bring it up.
func NewServer(log pslog.Logger, cfg Config) *Server {
	if cfg.SearchDepth <= 0 {
		cfg.SearchDepth = 8
	}
	return &Server{
		log:     log,
		cfg:     cfg,
		cancels: newCancelRegistry(),
		subs:    make(map[*subscriber]bool),
	}
}

// Listen binds both listeners and opens the theme store.
func (s *Server) Listen() error {
	reqLn, err := net.Listen("tcp", s.cfg.RequestAddr)
	if err != nil {
		return fmt.Errorf("listen request channel %s: %w", s.cfg.RequestAddr, err)
	}
	evtLn, err := net.Listen("tcp", s.cfg.EventAddr)
	if err != nil {
		reqLn.Close()
		return fmt.Errorf("listen event channel %s: %w", s.cfg.EventAddr, err)
	}

	themes, err := OpenThemeStore(s.cfg.ThemeDBPath)
	if err != nil {
		reqLn.Close()
		evtLn.Close()
		return fmt.Errorf("open theme store: %w", err)
	}
	watcher, err := NewWatcher(s.log, s.cfg.WatchDebounce, s.publish)
	if err != nil {
		themes.Close()
		reqLn.Close()
		evtLn.Close()
		return fmt.Errorf("start watcher: %w", err)
	}

	s.reqLn = reqLn
	s.evtLn = evtLn
	s.themes = themes
	s.watcher = watcher
	s.log.Info("listening", "req", reqLn.Addr().String(), "evt", evtLn.Addr().String())
	return nil
}

// Serve accepts connections on both listeners until the context ends.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() { errCh <- s.acceptLoop(ctx, s.reqLn, s.serveRequestConn) }()
	go func() { errCh <- s.acceptLoop(ctx, s.evtLn, s.serveEventConn) }()

	select {
	case <-ctx.Done():
		s.Close()
		<-errCh
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		s.Close()
		<-errCh
		return err
	}
}

// Close shuts down listeners, connections, the watcher and the theme store.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := make([]*subscriber, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	if s.reqLn != nil {
		s.reqLn.Close()
	}
	if s.evtLn != nil {
		s.evtLn.Close()
	}
	for _, sub := range subs {
		sub.conn.Close()
	}
	if s.watcher != nil {
		s.watcher.Close()
	}
	if s.themes != nil {
		s.themes.Close()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, handle func(net.Conn)) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			handle(conn)
		}()
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// serveRequestConn reads request frames and dispatches each on its own
// goroutine. Response writes share one per-connection mutex so frames never
// interleave.
func (s *Server) serveRequestConn(conn net.Conn) {
	defer conn.Close()
	log := s.log.With("remote", conn.RemoteAddr().String())
	log.Info("request channel connected")

	var writeMu sync.Mutex
	var handlers sync.WaitGroup
	for {
		var req protocol.Request
		if err := protocol.ReadFrame(conn, &req); err != nil {
			log.Info("request channel closed", "err", err)
			break
		}
		handlers.Add(1)
		go func(req protocol.Request) {
			defer handlers.Done()
			resp := s.handle(req)
			writeMu.Lock()
			err := protocol.WriteFrame(conn, resp)
			writeMu.Unlock()
			if err != nil {
				log.Debug("response write failed", "id", req.ID, "err", err)
			}
		}(req)
	}
	handlers.Wait()
}

// serveEventConn registers the connection as a subscriber and reads
// subscription control frames until it drops.
func (s *Server) serveEventConn(conn net.Conn) {
	defer conn.Close()
	sub := &subscriber{conn: conn, topics: make(map[string]bool)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.subs[sub] = true
	s.mu.Unlock()

	log := s.log.With("remote", conn.RemoteAddr().String())
	log.Info("event channel connected")

	for {
		var ctl protocol.SubControl
		if err := protocol.ReadFrame(conn, &ctl); err != nil {
			break
		}
		sub.mu.Lock()
		switch ctl.Op {
		case protocol.SubOpSubscribe:
			sub.topics[ctl.Topic] = true
		case protocol.SubOpUnsubscribe:
			delete(sub.topics, ctl.Topic)
		}
		sub.mu.Unlock()
	}

	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
	log.Info("event channel closed")
}

// publish fans an event out to every subscriber whose topic set matches its
// path. A failed write drops the frame, not the subscriber; the read side
// notices a dead connection.
func (s *Server) publish(evt protocol.Event) {
	s.mu.Lock()
	subs := make([]*subscriber, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		if !sub.matches(evt.Path) {
			continue
		}
		sub.writeMu.Lock()
		if err := protocol.WriteFrame(sub.conn, evt); err != nil {
			s.log.Debug("event write failed", "path", evt.Path, "err", err)
		}
		sub.writeMu.Unlock()
	}
}

// handle executes one request and builds its response.
func (s *Server) handle(req protocol.Request) protocol.Response {
	started := time.Now()
	data, err := s.dispatch(req)
	if err != nil {
		info := classify(err)
		s.log.Warn("request failed", "action", req.Action, "code", info.Code, "err", err)
		return protocol.Response{ID: req.ID, Success: false, Error: info}
	}
	s.log.Debug("request served", "action", req.Action, "took", time.Since(started))
	return protocol.Response{ID: req.ID, Success: true, Data: data}
}

func (s *Server) dispatch(req protocol.Request) (json.RawMessage, error) {
	p := params(req.Params)

	switch req.Action {
	case protocol.ActionFSList:
		ctx, release := s.cancels.register(context.Background(), p.str("operation_id"))
		defer release()
		entries, err := List(ctx, p.str("path"))
		if err != nil {
			return nil, err
		}
		return marshal(entries)

	case protocol.ActionFSInfo:
		entry, err := Info(p.str("path"))
		if err != nil {
			return nil, err
		}
		return marshal(entry)

	case protocol.ActionFSCopy:
		ctx, release := s.cancels.register(context.Background(), p.str("operation_id"))
		defer release()
		return nil, Copy(ctx, p.strs("sources"), p.str("destination"))

	case protocol.ActionFSMove:
		ctx, release := s.cancels.register(context.Background(), p.str("operation_id"))
		defer release()
		return nil, Move(ctx, p.strs("sources"), p.str("destination"))

	case protocol.ActionFSDelete:
		return nil, Delete(p.strs("paths"))

	case protocol.ActionFSRename:
		dest, err := Rename(p.str("path"), p.str("newName"))
		if err != nil {
			return nil, err
		}
		return marshal(map[string]string{"path": dest})

	case protocol.ActionFSMkdir:
		return nil, Mkdir(p.str("path"))

	case protocol.ActionFSWriteFile:
		content, err := base64.StdEncoding.DecodeString(p.str("content"))
		if err != nil {
			return nil, &opError{code: protocol.CodeInvalidRequest, msg: "content is not valid base64"}
		}
		return nil, WriteFile(p.str("path"), content)

	case protocol.ActionFSFolderSize:
		ctx, release := s.cancels.register(context.Background(), p.str("operation_id"))
		defer release()
		size, err := FolderSize(ctx, p.str("path"))
		if err != nil {
			return nil, err
		}
		return marshal(map[string]int64{"size": size})

	case protocol.ActionFSDrives:
		drives, err := Drives()
		if err != nil {
			return nil, err
		}
		return marshal(drives)

	case protocol.ActionFSWatch:
		return nil, s.watcher.Watch(p.str("path"))

	case protocol.ActionFSUnwatch:
		s.watcher.Unwatch(p.str("path"))
		return nil, nil

	case protocol.ActionFSSearch:
		ctx, release := s.cancels.register(context.Background(), p.str("operation_id"))
		defer release()
		entries, err := Search(ctx, p.str("path"), p.str("query"), p.boolean("recursive"), s.cfg.SearchDepth)
		if err != nil {
			return nil, err
		}
		return marshal(entries)

	case protocol.ActionThemeList:
		themes, err := s.themes.List()
		if err != nil {
			return nil, err
		}
		return marshal(themes)

	case protocol.ActionThemeGet:
		theme, err := s.themes.Get(p.str("id"))
		if err != nil {
			return nil, err
		}
		return marshal(theme)

	case protocol.ActionThemeSave:
		var theme protocol.Theme
		if err := p.decode("theme", &theme); err != nil {
			return nil, err
		}
		return nil, s.themes.Save(theme)

	case protocol.ActionThemeDelete:
		return nil, s.themes.Delete(p.str("id"))

	case protocol.ActionCancel:
		s.cancels.cancel(p.str("operation_id"))
		return nil, nil

	default:
		return nil, &opError{code: protocol.CodeInvalidRequest, msg: "unknown action: " + req.Action}
	}
}

// classify maps an operation error to its wire error info.
func classify(err error) *protocol.ErrorInfo {
	var oe *opError
	if errors.As(err, &oe) {
		return &protocol.ErrorInfo{Code: oe.code, Message: oe.msg}
	}
	code := protocol.CodeOperationFailed
	switch {
	case errors.Is(err, context.Canceled):
		code = protocol.CodeCancelled
	case errors.Is(err, fs.ErrNotExist):
		code = protocol.CodePathNotFound
	case errors.Is(err, fs.ErrPermission):
		code = protocol.CodeAccessDenied
	case errors.Is(err, fs.ErrExist):
		code = protocol.CodeFileExists
	case errors.Is(err, ErrThemeNotFound):
		code = protocol.CodePathNotFound
	case strings.Contains(err.Error(), "not empty"):
		code = protocol.CodeDirectoryNotEmpty
	case strings.Contains(err.Error(), "no space left"):
		code = protocol.CodeDiskFull
	}
	return &protocol.ErrorInfo{Code: code, Message: err.Error()}
}

func marshal(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// params wraps the loosely typed request parameter map.
type params map[string]any

func (p params) str(key string) string {
	v, _ := p[key].(string)
	return v
}

func (p params) boolean(key string) bool {
	v, _ := p[key].(bool)
	return v
}

func (p params) strs(key string) []string {
	raw, ok := p[key].([]any)
	if !ok {
		if s, ok := p[key].(string); ok && s != "" {
			return []string{s}
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// decode remarshals a nested parameter into a typed value.
func (p params) decode(key string, v any) error {
	raw, ok := p[key]
	if !ok {
		return &opError{code: protocol.CodeInvalidRequest, msg: "missing parameter: " + key}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &opError{code: protocol.CodeInvalidRequest, msg: "invalid parameter: " + key}
	}
	return nil
}
