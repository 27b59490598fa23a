package sessions

import (
	"context"
	"fmt"
	"sync"

	"github.com/edgemcp/device-server-go/transport"
)

// Manager tracks the live sessions of one server, keyed by transport and
// connection id. Transports allocate connection ids independently, so the
// key includes both.
type Manager struct {
	mu    sync.Mutex
	byKey map[key]*Session
}

type key struct {
	tr   transport.Transport
	conn transport.ConnID
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{byKey: make(map[key]*Session)}
}

// Open creates and connects a session for conn on tr. Opening an already
// tracked connection returns the existing session.
func (m *Manager) Open(ctx context.Context, tr transport.Transport, conn transport.ConnID) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.byKey[key{tr, conn}]; ok {
		m.mu.Unlock()
		return s, nil
	}
	s := New(tr, conn)
	m.byKey[key{tr, conn}] = s
	m.mu.Unlock()

	if err := s.Connect(ctx); err != nil {
		m.Close(tr, conn)
		return nil, fmt.Errorf("sessions: connect %d: %w", conn, err)
	}
	return s, nil
}

// Get returns the session for conn on tr, or nil.
func (m *Manager) Get(tr transport.Transport, conn transport.ConnID) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byKey[key{tr, conn}]
}

// Close disconnects and forgets the session for conn on tr. Closing an
// unknown connection is a no-op.
func (m *Manager) Close(tr transport.Transport, conn transport.ConnID) {
	m.mu.Lock()
	s, ok := m.byKey[key{tr, conn}]
	if ok {
		delete(m.byKey, key{tr, conn})
	}
	m.mu.Unlock()
	if ok {
		_ = s.Disconnect()
	}
}

// CloseAll disconnects and forgets every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.byKey))
	for _, s := range m.byKey {
		all = append(all, s)
	}
	m.byKey = make(map[key]*Session)
	m.mu.Unlock()
	for _, s := range all {
		_ = s.Disconnect()
	}
}

// Len returns the number of tracked sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byKey)
}

// Each calls fn for every tracked session.
func (m *Manager) Each(fn func(*Session)) {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.byKey))
	for _, s := range m.byKey {
		all = append(all, s)
	}
	m.mu.Unlock()
	for _, s := range all {
		fn(s)
	}
}
