package server

import (
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/filebro/backend/core"
)

// sendTimeout bounds every write so one stuck client cannot wedge the
// broadcaster; an expired deadline is treated as a disconnect.
const sendTimeout = 5 * time.Second

// session is one client's live connection plus its reader state. It
// implements core.Sink so the broadcaster can push progress events to it.
type session struct {
	id          string
	conn        net.Conn
	connectedAt time.Time

	writeMu sync.Mutex
	enc     *json.Encoder

	active atomic.Bool
}

func newSession(conn net.Conn) *session {
	s := &session{
		id:          uuid.NewString(),
		conn:        conn,
		connectedAt: time.Now(),
		enc:         json.NewEncoder(conn),
	}
	s.active.Store(true)
	return s
}

func (s *session) ID() string { return s.id }

// send writes one message under the write lock with a bounded deadline.
func (s *session) send(msg Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(sendTimeout)); err != nil {
		return err
	}
	return s.enc.Encode(msg)
}

// SendProgress implements core.Sink. A failed send deactivates the session;
// the reader notices the closed connection and finishes cleanup.
func (s *session) SendProgress(u core.ProgressUpdate) error {
	if !s.active.Load() {
		return net.ErrClosed
	}
	if err := s.send(Message{Type: TypeProgress, Data: u}); err != nil {
		s.deactivate()
		return err
	}
	return nil
}

func (s *session) deactivate() {
	if s.active.CompareAndSwap(true, false) {
		s.conn.Close()
	}
}
