// Package transport defines the contract shared by every channel the server
// can listen on: a framed point-to-point stream (serial) and a newline
// delimited multi-client TCP listener. A Transport owns its buffers, its
// read/write goroutines, and its per-connection backpressure; the layers
// above only see connection ids and payload bytes.
package transport

import (
	"context"
	"errors"
	"time"
)

// ConnID identifies a live connection within one transport. Serial
// transports have exactly one connection; listeners assign ids from a
// monotonically increasing counter that is never reused within a run.
type ConnID uint64

// Reused across both transports. No blocking call in a transport may wait
// longer than the relevant bound.
const (
	// DefaultLockTimeout bounds every acquisition of a transport's
	// internal lock. Failure to acquire is a transient error, not a
	// deadlock.
	DefaultLockTimeout = 100 * time.Millisecond

	// DefaultSendTimeout bounds how long Send may block on a full
	// outbound queue before failing.
	DefaultSendTimeout = 1 * time.Second

	// DefaultMaxPayload bounds a single inbound message.
	DefaultMaxPayload = 4096
)

var (
	// ErrNotRunning is returned by operations that require a started
	// transport.
	ErrNotRunning = errors.New("transport: not running")

	// ErrAlreadyRunning is returned by Start on a running transport.
	ErrAlreadyRunning = errors.New("transport: already running")

	// ErrUnknownConnection is returned by Send for a connection id that
	// is not (or no longer) in the table.
	ErrUnknownConnection = errors.New("transport: unknown connection")

	// ErrSendTimeout is returned when an outbound queue stays full for
	// the whole send timeout. The message is not dropped silently.
	ErrSendTimeout = errors.New("transport: send timed out")

	// ErrPayloadTooLarge is returned for payloads exceeding the
	// configured maximum.
	ErrPayloadTooLarge = errors.New("transport: payload too large")
)

// EventKind tags a connection lifecycle event.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event describes a connection coming up, going down, or failing.
type Event struct {
	Kind EventKind
	Conn ConnID
	Err  error
}

// MessageFunc receives one complete inbound payload. The slice is owned by
// the callee; transports never reuse it after delivery.
type MessageFunc func(ctx context.Context, conn ConnID, payload []byte)

// EventFunc receives connection lifecycle events.
type EventFunc func(ev Event)

// Stats is a point-in-time snapshot of a transport's counters. All counters
// are monotonic between resets.
type Stats struct {
	MessagesReceived  uint64
	MessagesSent      uint64
	BytesReceived     uint64
	BytesSent         uint64
	Errors            uint64
	ActiveConnections int
}

// Transport is the channel abstraction the server drives. Implementations
// must make Stop idempotent and must bound every blocking call.
type Transport interface {
	// Start brings the transport up. The context bounds startup only,
	// not the transport's lifetime; use Stop to shut down.
	Start(ctx context.Context) error

	// Stop shuts the transport down, closing every connection. Stopping
	// a stopped transport is a no-op.
	Stop() error

	// Send delivers payload to one connection, blocking at most the
	// configured send timeout.
	Send(conn ConnID, payload []byte) error

	// Broadcast delivers payload to every live connection. Per
	// connection failures are counted, not fatal.
	Broadcast(payload []byte) error

	// OnMessage installs the inbound payload callback. Must be called
	// before Start.
	OnMessage(fn MessageFunc)

	// OnEvent installs the lifecycle event callback. Must be called
	// before Start.
	OnEvent(fn EventFunc)

	// Stats returns a snapshot of the transport's counters.
	Stats() Stats

	// ResetStats zeroes the counters. Active connection counts are
	// recomputed, not zeroed.
	ResetStats()

	// Framed reports whether this transport applies the byte-stream
	// framing codec. Serial streams do; the TCP listener deliberately
	// uses newline-delimited text instead. Callers must consult this
	// flag rather than assume one wire format.
	Framed() bool
}
