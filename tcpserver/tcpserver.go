// Package tcpserver implements the multi-client TCP listener transport.
// Messages are newline-delimited JSON-RPC text; the byte-stream framing
// codec is deliberately not applied here, which the Framed method reports
// so callers never assume one wire format across transports.
//
// The connection table has a fixed capacity. A connection arriving while
// the table is full is accepted and immediately closed, so the peer sees a
// deterministic refusal instead of a hanging SYN queue.
package tcpserver

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/edgemcp/device-server-go/transport"
)

// Option configures the Transport.
type Option func(*newConfig)

type newConfig struct {
	logger *slog.Logger
}

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

type client struct {
	id   transport.ConnID
	conn net.Conn

	connectedAt      time.Time
	messagesReceived uint64
	messagesSent     uint64
	bytesReceived    uint64
	bytesSent        uint64
}

// ConnInfo is a snapshot of one live connection's bookkeeping.
type ConnInfo struct {
	ID               transport.ConnID
	RemoteAddr       string
	ConnectedAt      time.Time
	MessagesReceived uint64
	MessagesSent     uint64
	BytesReceived    uint64
	BytesSent        uint64
}

// Transport is the TCP listener transport. Create with New; the zero value
// is not usable.
type Transport struct {
	cfg transport.TCPConfig
	log *slog.Logger

	onMessage transport.MessageFunc
	onEvent   transport.EventFunc

	mu      *transport.TimedMutex
	running bool
	ln      net.Listener
	table   []*client
	nextID  transport.ConnID
	stats   transport.Stats

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a TCP listener transport from cfg. The config is validated
// and defaults filled.
func New(cfg *transport.TCPConfig, opts ...Option) (*Transport, error) {
	if cfg == nil {
		return nil, fmt.Errorf("tcpserver: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	nc := &newConfig{}
	for _, o := range opts {
		o(nc)
	}
	if nc.logger == nil {
		nc.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Transport{
		cfg:    *cfg,
		log:    nc.logger,
		mu:     transport.NewTimedMutex(),
		nextID: 1,
	}, nil
}

// OnMessage installs the inbound payload callback. Must be called before
// Start.
func (t *Transport) OnMessage(fn transport.MessageFunc) { t.onMessage = fn }

// OnEvent installs the lifecycle event callback. Must be called before
// Start.
func (t *Transport) OnEvent(fn transport.EventFunc) { t.onEvent = fn }

// Framed reports false: this transport is newline-delimited.
func (t *Transport) Framed() bool { return false }

// Addr returns the bound listen address, useful when the config requested
// an ephemeral port.
func (t *Transport) Addr() net.Addr {
	if err := t.mu.Lock(transport.DefaultLockTimeout); err != nil {
		return nil
	}
	defer t.mu.Unlock()
	if t.ln == nil {
		return nil
	}
	return t.ln.Addr()
}

// Start binds the listener and launches the acceptor.
func (t *Transport) Start(ctx context.Context) error {
	if err := t.mu.Lock(transport.DefaultLockTimeout); err != nil {
		return err
	}
	defer t.mu.Unlock()
	if t.running {
		return transport.ErrAlreadyRunning
	}

	ln, err := net.Listen("tcp", t.cfg.Addr)
	if err != nil {
		return fmt.Errorf("tcpserver: listen %s: %w", t.cfg.Addr, err)
	}
	t.ln = ln
	t.running = true
	t.table = make([]*client, t.cfg.MaxClients)
	t.stop = make(chan struct{})

	t.wg.Add(1)
	go t.acceptLoop(ctx)

	t.log.InfoContext(ctx, "tcp transport started",
		slog.String("addr", ln.Addr().String()),
		slog.Int("max_clients", t.cfg.MaxClients))
	return nil
}

// Stop closes the listener and every live connection. Stopping a stopped
// transport is a no-op.
func (t *Transport) Stop() error {
	if err := t.mu.Lock(transport.DefaultLockTimeout); err != nil {
		return err
	}
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	close(t.stop)
	_ = t.ln.Close()
	for i, c := range t.table {
		if c != nil {
			_ = c.conn.Close()
			t.table[i] = nil
		}
	}
	t.stats.ActiveConnections = 0
	t.mu.Unlock()

	t.wg.Wait()
	t.log.Info("tcp transport stopped")
	return nil
}

// Send writes payload plus a trailing newline to one connection. The write
// is synchronous under the table lock, bounded by the write timeout.
func (t *Transport) Send(conn transport.ConnID, payload []byte) error {
	if len(payload) > t.cfg.MaxLineBytes {
		return fmt.Errorf("%w: %d bytes (max %d)", transport.ErrPayloadTooLarge, len(payload), t.cfg.MaxLineBytes)
	}
	if err := t.mu.Lock(transport.DefaultLockTimeout); err != nil {
		return err
	}
	defer t.mu.Unlock()
	if !t.running {
		return transport.ErrNotRunning
	}
	c := t.lookupLocked(conn)
	if c == nil {
		return fmt.Errorf("%w: %d", transport.ErrUnknownConnection, conn)
	}
	if err := t.writeLocked(c, payload); err != nil {
		t.stats.Errors++
		return err
	}
	return nil
}

// Broadcast writes payload to every live connection. A failed write counts
// an error and moves on.
func (t *Transport) Broadcast(payload []byte) error {
	if len(payload) > t.cfg.MaxLineBytes {
		return fmt.Errorf("%w: %d bytes (max %d)", transport.ErrPayloadTooLarge, len(payload), t.cfg.MaxLineBytes)
	}
	if err := t.mu.Lock(transport.DefaultLockTimeout); err != nil {
		return err
	}
	defer t.mu.Unlock()
	if !t.running {
		return transport.ErrNotRunning
	}
	var firstErr error
	for _, c := range t.table {
		if c == nil {
			continue
		}
		if err := t.writeLocked(c, payload); err != nil {
			t.stats.Errors++
			if firstErr == nil {
				firstErr = fmt.Errorf("conn %d: %w", c.id, err)
			}
		}
	}
	return firstErr
}

// Stats returns a snapshot of the counters.
func (t *Transport) Stats() transport.Stats {
	if err := t.mu.Lock(transport.DefaultLockTimeout); err != nil {
		return transport.Stats{}
	}
	defer t.mu.Unlock()
	return t.stats
}

// ResetStats zeroes the counters. The active connection count is
// recomputed from the table.
func (t *Transport) ResetStats() {
	if err := t.mu.Lock(transport.DefaultLockTimeout); err != nil {
		return
	}
	defer t.mu.Unlock()
	t.stats = transport.Stats{ActiveConnections: t.countLocked()}
}

// Connections returns per-connection snapshots for the live table.
func (t *Transport) Connections() []ConnInfo {
	if err := t.mu.Lock(transport.DefaultLockTimeout); err != nil {
		return nil
	}
	defer t.mu.Unlock()
	out := make([]ConnInfo, 0, len(t.table))
	for _, c := range t.table {
		if c == nil {
			continue
		}
		out = append(out, ConnInfo{
			ID:               c.id,
			RemoteAddr:       c.conn.RemoteAddr().String(),
			ConnectedAt:      c.connectedAt,
			MessagesReceived: c.messagesReceived,
			MessagesSent:     c.messagesSent,
			BytesReceived:    c.bytesReceived,
			BytesSent:        c.bytesSent,
		})
	}
	return out
}

func (t *Transport) acceptLoop(ctx context.Context) {
	defer t.wg.Done()
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			select {
			case <-t.stop:
			default:
				t.log.Warn("accept failed", slog.String("error", err.Error()))
			}
			return
		}
		t.admit(ctx, conn)
	}
}

func (t *Transport) admit(ctx context.Context, conn net.Conn) {
	if err := t.mu.Lock(transport.DefaultLockTimeout); err != nil {
		_ = conn.Close()
		return
	}
	slot := -1
	for i, c := range t.table {
		if c == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		t.stats.Errors++
		t.mu.Unlock()
		_ = conn.Close()
		t.log.Warn("connection refused, table full",
			slog.String("remote", conn.RemoteAddr().String()),
			slog.Int("max_clients", t.cfg.MaxClients))
		t.emit(transport.Event{Kind: transport.EventError, Err: fmt.Errorf("tcpserver: table full, refused %s", conn.RemoteAddr())})
		return
	}

	c := &client{id: t.nextID, conn: conn, connectedAt: time.Now()}
	t.nextID++
	t.table[slot] = c
	t.stats.ActiveConnections = t.countLocked()
	t.mu.Unlock()

	t.log.InfoContext(ctx, "client connected",
		slog.Uint64("conn", uint64(c.id)),
		slog.String("remote", conn.RemoteAddr().String()))
	t.emit(transport.Event{Kind: transport.EventConnected, Conn: c.id})

	t.wg.Add(1)
	go t.readClient(ctx, c)
}

func (t *Transport) readClient(ctx context.Context, c *client) {
	defer t.wg.Done()
	defer t.cleanup(c.id)

	sc := bufio.NewScanner(c.conn)
	sc.Buffer(make([]byte, 0, 1024), t.cfg.MaxLineBytes)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		payload := make([]byte, len(line))
		copy(payload, line)

		if err := t.mu.Lock(transport.DefaultLockTimeout); err == nil {
			c.messagesReceived++
			c.bytesReceived += uint64(len(payload))
			t.stats.MessagesReceived++
			t.stats.BytesReceived += uint64(len(payload))
			t.mu.Unlock()
		}
		if t.onMessage != nil {
			t.onMessage(ctx, c.id, payload)
		}
	}
	if err := sc.Err(); err != nil {
		select {
		case <-t.stop:
		default:
			t.log.Warn("client read failed",
				slog.Uint64("conn", uint64(c.id)),
				slog.String("error", err.Error()))
			if lockErr := t.mu.Lock(transport.DefaultLockTimeout); lockErr == nil {
				t.stats.Errors++
				t.mu.Unlock()
			}
		}
	}
}

// cleanup removes one connection from the table. Safe to call more than
// once for the same id; a missing slot is a no-op.
func (t *Transport) cleanup(id transport.ConnID) {
	if err := t.mu.Lock(transport.DefaultLockTimeout); err != nil {
		return
	}
	var removed *client
	for i, c := range t.table {
		if c != nil && c.id == id {
			removed = c
			t.table[i] = nil
			break
		}
	}
	if removed != nil {
		_ = removed.conn.Close()
		t.stats.ActiveConnections = t.countLocked()
	}
	t.mu.Unlock()

	if removed != nil {
		t.log.Info("client disconnected", slog.Uint64("conn", uint64(id)))
		t.emit(transport.Event{Kind: transport.EventDisconnected, Conn: id})
	}
}

func (t *Transport) writeLocked(c *client, payload []byte) error {
	line := make([]byte, 0, len(payload)+1)
	line = append(line, payload...)
	line = append(line, '\n')

	_ = c.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	n, err := c.conn.Write(line)
	if err != nil {
		return fmt.Errorf("tcpserver: write to conn %d: %w", c.id, err)
	}
	c.messagesSent++
	c.bytesSent += uint64(n)
	t.stats.MessagesSent++
	t.stats.BytesSent += uint64(n)
	return nil
}

func (t *Transport) lookupLocked(id transport.ConnID) *client {
	for _, c := range t.table {
		if c != nil && c.id == id {
			return c
		}
	}
	return nil
}

func (t *Transport) countLocked() int {
	n := 0
	for _, c := range t.table {
		if c != nil {
			n++
		}
	}
	return n
}

func (t *Transport) emit(ev transport.Event) {
	if t.onEvent != nil {
		t.onEvent(ev)
	}
}
