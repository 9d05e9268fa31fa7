// Package server accepts client connections on an authenticated localhost
// channel, routes their requests to the worker pool and the driver registry,
// and tracks session membership for the progress broadcaster.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/filebro/backend/config"
	"github.com/filebro/backend/core"
	"github.com/filebro/backend/drivers"
)

const (
	handshakeTimeout = 5 * time.Second
	navigateTimeout  = 30 * time.Second
)

// Server is the client session manager: one accept loop, one reader
// goroutine per connected client.
type Server struct {
	settings    *config.Settings
	pool        *core.Pool
	registry    *core.Registry
	broadcaster *core.Broadcaster
	drivers     *drivers.Registry
	logger      *slog.Logger
	authKey     []byte

	listener net.Listener
	port     int

	mu       sync.Mutex
	sessions map[string]*session

	watcher *dirWatcher

	wg       sync.WaitGroup
	closed   atomic.Bool
	stopOnce sync.Once
	stopReq  chan struct{}
}

func New(
	settings *config.Settings,
	pool *core.Pool,
	registry *core.Registry,
	broadcaster *core.Broadcaster,
	driverRegistry *drivers.Registry,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		settings:    settings,
		pool:        pool,
		registry:    registry,
		broadcaster: broadcaster,
		drivers:     driverRegistry,
		logger:      logger,
		authKey:     []byte(settings.AuthKey()),
		sessions:    make(map[string]*session),
		stopReq:     make(chan struct{}),
	}
}

// Listen scans the configured port range for a free port and binds it. The
// bound port is written back to settings so clients can find the backend
// after a restart. Failing the whole range is fatal to the caller.
func (s *Server) Listen() error {
	host := s.settings.Host()
	from := s.settings.Port()
	to := from + s.settings.PortRange()
	if from == 0 {
		// Port 0 delegates the choice to the OS; used by tests.
		to = 1
	}
	if to <= from {
		to = from + 1
	}

	var lastErr error
	for port := from; port < to; port++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
		if err != nil {
			lastErr = err
			continue
		}
		s.listener = ln
		s.port = ln.Addr().(*net.TCPAddr).Port
		if err := s.settings.SetPort(s.port); err != nil {
			s.logger.Warn("could not persist listen port", "error", err)
		}
		s.logger.Info("listening for clients", "addr", ln.Addr().String())
		return nil
	}

	return fmt.Errorf("no free port between %d and %d: %w", from, to-1, lastErr)
}

// Port returns the bound port; valid after Listen.
func (s *Server) Port() int { return s.port }

// Start launches the accept loop. Listen must have succeeded first.
func (s *Server) Start() error {
	if s.listener == nil {
		return errors.New("server has no listener, call Listen first")
	}

	w, err := newDirWatcher(s.logger)
	if err != nil {
		return fmt.Errorf("start directory watcher: %w", err)
	}
	s.watcher = w

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// ShutdownRequested fires when a client asks the whole backend to stop.
func (s *Server) ShutdownRequested() <-chan struct{} { return s.stopReq }

// Shutdown notifies every active session, closes all connections and stops
// the accept loop. Idempotent.
func (s *Server) Shutdown() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	targets := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		targets = append(targets, sess)
	}
	s.mu.Unlock()

	for _, sess := range targets {
		if err := sess.send(Message{Type: TypeShutdown}); err != nil {
			s.logger.Debug("shutdown notice not delivered", "sessionID", sess.ID(), "error", err)
		}
		sess.deactivate()
	}

	s.listener.Close()
	s.wg.Wait()

	if s.watcher != nil {
		s.watcher.Close()
	}
	s.logger.Info("session manager stopped")
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// serveConn authenticates the connection, registers the session and runs its
// reader until disconnect.
func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()

	dec := json.NewDecoder(conn)

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var hello Message
	if err := dec.Decode(&hello); err != nil {
		s.logger.Warn("handshake failed", "remote", conn.RemoteAddr().String(), "error", err)
		conn.Close()
		return
	}
	if hello.Type != TypeHello || subtle.ConstantTimeCompare([]byte(hello.Key), s.authKey) != 1 {
		s.logger.Warn("client rejected", "remote", conn.RemoteAddr().String())
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	sess := newSession(conn)
	if err := sess.send(Message{Type: TypeWelcome, SessionID: sess.ID()}); err != nil {
		conn.Close()
		return
	}

	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	count := len(s.sessions)
	s.mu.Unlock()
	s.broadcaster.Attach(sess)

	s.logger.Info("client connected", "sessionID", sess.ID(), "sessions", count)

	s.readLoop(sess, dec)
	s.cleanup(sess)
}

// readLoop blocks on the connection and dispatches messages until the client
// disconnects, sends link_down, or the server closes the connection during
// shutdown.
func (s *Server) readLoop(sess *session, dec *json.Decoder) {
	for {
		var msg Message
		if err := dec.Decode(&msg); err != nil {
			if !s.closed.Load() && !errors.Is(err, net.ErrClosed) {
				s.logger.Info("client disconnected", "sessionID", sess.ID(), "error", err)
			}
			return
		}
		if !s.dispatch(sess, msg) {
			return
		}
	}
}

// dispatch routes one inbound message; it reports false when the session
// should be torn down.
func (s *Server) dispatch(sess *session, msg Message) bool {
	switch msg.Type {
	case TypeSubmitTask:
		s.handleSubmit(sess, msg)
	case TypeGetStatus:
		s.handleStatus(sess, msg)
	case TypeGetStats:
		s.reply(sess, Message{Type: TypeStats, Data: s.statsPayload()})
	case TypeNavigate:
		s.handleNavigate(sess, msg)
	case TypeShutdown:
		s.logger.Info("shutdown requested by client", "sessionID", sess.ID())
		s.stopOnce.Do(func() { close(s.stopReq) })
	case TypeLinkDown:
		s.logger.Info("client link down", "sessionID", sess.ID())
		return false
	default:
		s.logger.Warn("unknown message type", "sessionID", sess.ID(), "type", msg.Type)
		s.reply(sess, Message{Type: TypeError, Error: fmt.Sprintf("unknown message type %q", msg.Type)})
	}
	return true
}

func (s *Server) handleSubmit(sess *session, msg Message) {
	call := core.Call{Args: msg.Args, Kwargs: msg.Kwargs}
	if err := s.pool.Submit(msg.TaskID, msg.Function, call); err != nil {
		s.reply(sess, Message{Type: TypeError, TaskID: msg.TaskID, Error: err.Error()})
		return
	}
	s.reply(sess, Message{Type: TypeAck, TaskID: msg.TaskID})
}

func (s *Server) handleStatus(sess *session, msg Message) {
	if msg.TaskID == "" {
		s.reply(sess, Message{Type: TypeStatus, Data: s.registry.All()})
		return
	}

	rec, ok := s.registry.Get(msg.TaskID)
	if !ok {
		s.reply(sess, Message{Type: TypeError, TaskID: msg.TaskID, Error: fmt.Sprintf("unknown task %q", msg.TaskID)})
		return
	}
	s.reply(sess, Message{Type: TypeStatus, TaskID: msg.TaskID, Data: rec})
}

// handleNavigate resolves the path through the driver registry. Replies go
// to the originating session only, never broadcast.
func (s *Server) handleNavigate(sess *session, msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), navigateTimeout)
	defer cancel()

	listing, err := s.drivers.Lookup(ctx, msg.Path)
	switch {
	case errors.Is(err, drivers.ErrAuthRequired):
		s.reply(sess, Message{Type: TypeAuthNeeded, Path: msg.Path})
		return
	case err != nil:
		s.reply(sess, Message{Type: TypeError, Path: msg.Path, Error: err.Error()})
		return
	}

	if err := s.settings.RecordVisit(msg.Path); err != nil {
		s.logger.Warn("could not record visit", "path", msg.Path, "error", err)
	}
	if dir, ok := drivers.LocalPath(listing); ok {
		s.watcher.Watch(sess, dir)
	}

	s.reply(sess, Message{
		Type:    TypeResults,
		Path:    msg.Path,
		Files:   listing.Files,
		Dirs:    listing.Dirs,
		Details: listing.Details,
	})
}

func (s *Server) statsPayload() map[string]any {
	return map[string]any{
		"pool":   s.pool.Stats(),
		"recent": s.registry.RecentTerminal(10),
	}
}

func (s *Server) reply(sess *session, msg Message) {
	if err := sess.send(msg); err != nil {
		s.logger.Warn("reply not delivered", "sessionID", sess.ID(), "type", msg.Type, "error", err)
		sess.deactivate()
	}
}

// cleanup releases everything a session holds: broadcaster membership, its
// directory watch, the session-set entry and the connection itself.
func (s *Server) cleanup(sess *session) {
	s.broadcaster.Detach(sess.ID())
	if s.watcher != nil {
		s.watcher.Drop(sess.ID())
	}

	s.mu.Lock()
	delete(s.sessions, sess.ID())
	count := len(s.sessions)
	s.mu.Unlock()

	sess.deactivate()
	s.logger.Info("session removed", "sessionID", sess.ID(), "sessions", count)
}
