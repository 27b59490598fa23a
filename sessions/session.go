// Package sessions layers a per-connection state machine on top of a
// transport connection. A session moves Disconnected -> Connecting ->
// Connected -> Disconnecting -> Disconnected, with Error reachable from any
// non-terminal state; Connect and Disconnect are idempotent so callers
// never have to guard against double transitions.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edgemcp/device-server-go/transport"
)

// State is the session lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidState is returned by operations that are not legal in
	// the session's current state.
	ErrInvalidState = errors.New("sessions: operation not valid in current state")

	// ErrInboxFull is returned by Deliver when the session's bounded
	// inbox cannot take another message.
	ErrInboxFull = errors.New("sessions: inbox full")
)

// DefaultInboxDepth bounds the undelivered inbound messages a session
// buffers before Deliver starts failing.
const DefaultInboxDepth = 16

// Session is one connection's protocol state. Create with New.
type Session struct {
	id   string
	conn transport.ConnID
	tr   transport.Transport

	mu    sync.Mutex
	state State
	err   error

	inbox chan []byte

	connectedAt      time.Time
	messagesSent     uint64
	messagesReceived uint64
}

// New builds a session bound to one connection of tr. The session starts
// Disconnected.
func New(tr transport.Transport, conn transport.ConnID) *Session {
	return &Session{
		id:    uuid.NewString(),
		conn:  conn,
		tr:    tr,
		state: StateDisconnected,
		inbox: make(chan []byte, DefaultInboxDepth),
	}
}

// ID returns the session's public identifier.
func (s *Session) ID() string { return s.id }

// Conn returns the transport connection id this session is bound to.
func (s *Session) Conn() transport.ConnID { return s.conn }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure recorded by Fail, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Connect transitions the session to Connected. Connecting an already
// connected (or mid-connect) session is a no-op. A session in Error must be
// disconnected first.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateConnected, StateConnecting:
		return nil
	case StateDisconnecting:
		return fmt.Errorf("%w: connect while disconnecting", ErrInvalidState)
	case StateError:
		return fmt.Errorf("%w: connect from error state (disconnect first)", ErrInvalidState)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = StateConnecting
	s.connectedAt = time.Now()
	s.state = StateConnected
	return nil
}

// Disconnect transitions the session to Disconnected, releasing the inbox.
// Disconnecting an already disconnected session is a no-op. Error is
// cleared by a disconnect.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return nil
	}
	s.state = StateDisconnecting
	s.drainInboxLocked()
	s.err = nil
	s.state = StateDisconnected
	return nil
}

// Fail moves the session into Error, recording err. No-op on a
// disconnected session.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return
	}
	s.state = StateError
	s.err = err
}

// SendMessage sends payload over the underlying transport. Legal only in
// Connected.
func (s *Session) SendMessage(payload []byte) error {
	s.mu.Lock()
	if s.state != StateConnected {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: send in state %s", ErrInvalidState, state)
	}
	s.mu.Unlock()

	if err := s.tr.Send(s.conn, payload); err != nil {
		return err
	}
	s.mu.Lock()
	s.messagesSent++
	s.mu.Unlock()
	return nil
}

// Deliver pushes one inbound payload into the session's inbox. Called by
// the transport glue. Fails on a full inbox rather than blocking a read
// loop.
func (s *Session) Deliver(payload []byte) error {
	s.mu.Lock()
	if s.state != StateConnected {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: deliver in state %s", ErrInvalidState, state)
	}
	s.messagesReceived++
	s.mu.Unlock()

	select {
	case s.inbox <- payload:
		return nil
	default:
		return ErrInboxFull
	}
}

// ReceiveMessage waits up to timeout for an inbound payload. No data
// within the timeout is a normal outcome, reported as ok=false with a nil
// error; errors are reserved for sessions in an invalid state.
func (s *Session) ReceiveMessage(timeout time.Duration) (payload []byte, ok bool, err error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != StateConnected {
		return nil, false, fmt.Errorf("%w: receive in state %s", ErrInvalidState, state)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case p := <-s.inbox:
		return p, true, nil
	case <-timer.C:
		return nil, false, nil
	}
}

// Counters returns the messages sent and received over this session's
// lifetime together with the connect timestamp.
func (s *Session) Counters() (sent, received uint64, connectedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messagesSent, s.messagesReceived, s.connectedAt
}

func (s *Session) drainInboxLocked() {
	for {
		select {
		case <-s.inbox:
		default:
			return
		}
	}
}
