package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

// stream holds the bookkeeping shared by websocket-backed sessions: one
// writer at a time, a single reader goroutine delivering events, and
// close-once semantics.
type stream struct {
	name    string
	handler Handler

	writeMu sync.Mutex

	mu        sync.Mutex
	closed    bool
	openOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

func newStream(name string, h Handler) *stream {
	return &stream{name: name, handler: h, done: make(chan struct{})}
}

func (s *stream) emit(ev Event) {
	if s.handler != nil {
		s.handler(ev)
	}
}

func (s *stream) opened() {
	s.openOnce.Do(func() { s.emit(Opened{}) })
}

func (s *stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stream) markClosed() bool {
	first := false
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		first = true
	})
	return first
}

// readFailed turns a read error into the terminal event for the session.
func (s *stream) readFailed(err error) {
	switch {
	case s.isClosed():
		s.emit(Closed{Reason: "closed by client"})
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		var ce *websocket.CloseError
		errors.As(err, &ce)
		reason := ce.Text
		if reason == "" {
			reason = "closed by server"
		}
		s.emit(Closed{Reason: reason})
	default:
		s.emit(Errored{Err: &Error{Transport: s.name, Op: "receive", Err: err}})
	}
}

// send serializes writes and, when conn is set, applies ctx's deadline to it.
func (s *stream) send(ctx context.Context, conn *websocket.Conn, write func() error) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if conn != nil {
		deadline, _ := ctx.Deadline()
		conn.SetWriteDeadline(deadline)
	}
	if err := write(); err != nil {
		return &Error{Transport: s.name, Op: "send", Err: err}
	}
	return nil
}
