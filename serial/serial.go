// Package serial implements the framed point-to-point stream transport. It
// drives any io.ReadWriter (a UART device file, a PTY, an in-memory pipe)
// and applies the framing codec in both directions, so the peer sees one
// JSON-RPC envelope per frame.
//
// A serial link has exactly one peer; the transport exposes it as
// connection id 1.
package serial

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/edgemcp/device-server-go/framing"
	"github.com/edgemcp/device-server-go/transport"
)

// ConnID is the single connection id a serial transport ever reports.
const ConnID transport.ConnID = 1

const readChunkSize = 512

// Option configures the Transport.
type Option func(*newConfig)

type newConfig struct {
	logger *slog.Logger
}

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// Transport is the framed serial transport. Create with New; the zero value
// is not usable.
type Transport struct {
	rw  io.ReadWriter
	cfg transport.SerialConfig
	log *slog.Logger

	onMessage transport.MessageFunc
	onEvent   transport.EventFunc

	mu      *transport.TimedMutex
	running bool
	stats   transport.Stats

	txq  chan []byte
	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a serial transport over rw. The config is validated and
// defaults filled; a nil config gets all defaults.
func New(rw io.ReadWriter, cfg *transport.SerialConfig, opts ...Option) (*Transport, error) {
	if rw == nil {
		return nil, fmt.Errorf("serial: rw is required")
	}
	if cfg == nil {
		cfg = &transport.SerialConfig{}
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
		rw:  rw,
		cfg: *cfg,
		log: nc.logger,
		mu:  transport.NewTimedMutex(),
	}, nil
}

// OnMessage installs the inbound payload callback. Must be called before
// Start.
func (t *Transport) OnMessage(fn transport.MessageFunc) { t.onMessage = fn }

// OnEvent installs the lifecycle event callback. Must be called before
// Start.
func (t *Transport) OnEvent(fn transport.EventFunc) { t.onEvent = fn }

// Framed reports true: the serial stream has no inherent message
// boundaries, so every payload travels inside a frame.
func (t *Transport) Framed() bool { return true }

// Start launches the read and write loops. The peer is considered
// connected as soon as the transport is up.
func (t *Transport) Start(ctx context.Context) error {
	if err := t.mu.Lock(transport.DefaultLockTimeout); err != nil {
		return err
	}
	if t.running {
		t.mu.Unlock()
		return transport.ErrAlreadyRunning
	}
	t.running = true
	t.stats.ActiveConnections = 1
	t.txq = make(chan []byte, t.cfg.QueueDepth)
	t.stop = make(chan struct{})
	t.mu.Unlock()

	t.wg.Add(2)
	go t.readLoop(ctx)
	go t.writeLoop()

	t.log.InfoContext(ctx, "serial transport started",
		slog.Int("max_payload", t.cfg.MaxPayload),
		slog.Int("queue_depth", t.cfg.QueueDepth))
	t.emit(transport.Event{Kind: transport.EventConnected, Conn: ConnID})
	return nil
}

// Stop shuts the transport down. Stopping a stopped transport is a no-op.
func (t *Transport) Stop() error {
	if err := t.mu.Lock(transport.DefaultLockTimeout); err != nil {
		return err
	}
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	t.stats.ActiveConnections = 0
	close(t.stop)
	t.mu.Unlock()

	// Unblock the read loop if the underlying stream supports closing.
	if c, ok := t.rw.(io.Closer); ok {
		_ = c.Close()
	}
	t.wg.Wait()

	t.log.Info("serial transport stopped")
	t.emit(transport.Event{Kind: transport.EventDisconnected, Conn: ConnID})
	return nil
}

// Send frames payload and queues it for the write loop, blocking at most
// the configured send timeout.
func (t *Transport) Send(conn transport.ConnID, payload []byte) error {
	if conn != ConnID {
		return fmt.Errorf("%w: %d", transport.ErrUnknownConnection, conn)
	}
	if len(payload) > t.cfg.MaxPayload {
		return fmt.Errorf("%w: %d bytes (max %d)", transport.ErrPayloadTooLarge, len(payload), t.cfg.MaxPayload)
	}

	if err := t.mu.Lock(transport.DefaultLockTimeout); err != nil {
		return err
	}
	if !t.running {
		t.mu.Unlock()
		return transport.ErrNotRunning
	}
	txq, stop := t.txq, t.stop
	t.mu.Unlock()

	framed, err := framing.Encode(payload)
	if err != nil {
		return err
	}

	timer := time.NewTimer(t.cfg.SendTimeout)
	defer timer.Stop()
	select {
	case txq <- framed:
		return nil
	case <-stop:
		return transport.ErrNotRunning
	case <-timer.C:
		t.countError()
		return transport.ErrSendTimeout
	}
}

// Broadcast sends to the single peer.
func (t *Transport) Broadcast(payload []byte) error {
	return t.Send(ConnID, payload)
}

// Stats returns a snapshot of the counters.
func (t *Transport) Stats() transport.Stats {
	if err := t.mu.Lock(transport.DefaultLockTimeout); err != nil {
		return transport.Stats{}
	}
	defer t.mu.Unlock()
	return t.stats
}

// ResetStats zeroes the counters, keeping the connection count accurate.
func (t *Transport) ResetStats() {
	if err := t.mu.Lock(transport.DefaultLockTimeout); err != nil {
		return
	}
	defer t.mu.Unlock()
	active := t.stats.ActiveConnections
	t.stats = transport.Stats{ActiveConnections: active}
}

func (t *Transport) readLoop(ctx context.Context) {
	defer t.wg.Done()

	dec := framing.NewDecoder(t.cfg.MaxPayload)
	buf := make([]byte, readChunkSize)
	for {
		n, err := t.rw.Read(buf)
		if n > 0 {
			t.consume(ctx, dec, buf[:n])
		}
		if err != nil {
			select {
			case <-t.stop:
				// Shutdown in progress, the error is expected.
			default:
				if err != io.EOF {
					t.log.Warn("serial read failed", slog.String("error", err.Error()))
					t.countError()
				}
				t.emit(transport.Event{Kind: transport.EventError, Conn: ConnID, Err: err})
			}
			return
		}
		select {
		case <-t.stop:
			return
		default:
		}
	}
}

func (t *Transport) consume(ctx context.Context, dec *framing.Decoder, chunk []byte) {
	if err := t.mu.Lock(transport.DefaultLockTimeout); err == nil {
		t.stats.BytesReceived += uint64(len(chunk))
		t.mu.Unlock()
	}
	err := dec.Decode(chunk, func(payload []byte) {
		if err := t.mu.Lock(transport.DefaultLockTimeout); err == nil {
			t.stats.MessagesReceived++
			t.mu.Unlock()
		}
		if t.onMessage != nil {
			t.onMessage(ctx, ConnID, payload)
		}
	})
	if err != nil {
		t.log.Warn("frame decode failed", slog.String("error", err.Error()))
		t.countError()
	}
}

func (t *Transport) writeLoop() {
	defer t.wg.Done()
	for {
		select {
		case framed := <-t.txq:
			n, err := t.rw.Write(framed)
			if err != nil {
				t.log.Warn("serial write failed", slog.String("error", err.Error()))
				t.countError()
				t.emit(transport.Event{Kind: transport.EventError, Conn: ConnID, Err: err})
				continue
			}
			if err := t.mu.Lock(transport.DefaultLockTimeout); err == nil {
				t.stats.MessagesSent++
				t.stats.BytesSent += uint64(n)
				t.mu.Unlock()
			}
		case <-t.stop:
			return
		}
	}
}

func (t *Transport) countError() {
	if err := t.mu.Lock(transport.DefaultLockTimeout); err != nil {
		return
	}
	t.stats.Errors++
	t.mu.Unlock()
}

func (t *Transport) emit(ev transport.Event) {
	if t.onEvent != nil {
		t.onEvent(ev)
	}
}
