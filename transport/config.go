package transport

import (
	"fmt"
	"time"
)

// Config is the tagged per-kind transport configuration. It is a sealed
// interface: exactly SerialConfig and TCPConfig implement it, so a
// mis-matched kind/field combination cannot be expressed.
type Config interface {
	// Validate checks invariants and fills defaults in place where the
	// zero value has a documented default.
	Validate() error

	isTransportConfig()
}

// SerialConfig configures the framed point-to-point stream transport.
type SerialConfig struct {
	// MaxPayload bounds a single decoded frame payload. Defaults to
	// DefaultMaxPayload.
	MaxPayload int `yaml:"max_payload"`

	// QueueDepth is the outbound queue capacity. Defaults to 8.
	QueueDepth int `yaml:"queue_depth"`

	// SendTimeout bounds Send on a full outbound queue. Defaults to
	// DefaultSendTimeout.
	SendTimeout time.Duration `yaml:"send_timeout"`
}

func (c *SerialConfig) Validate() error {
	if c.MaxPayload == 0 {
		c.MaxPayload = DefaultMaxPayload
	}
	if c.MaxPayload < 0 {
		return fmt.Errorf("serial: max_payload must be positive, got %d", c.MaxPayload)
	}
	if c.QueueDepth == 0 {
		c.QueueDepth = 8
	}
	if c.QueueDepth < 0 {
		return fmt.Errorf("serial: queue_depth must be positive, got %d", c.QueueDepth)
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	return nil
}

func (*SerialConfig) isTransportConfig() {}

// TCPConfig configures the newline-delimited multi-client listener.
type TCPConfig struct {
	// Addr is the listen address, e.g. ":8848".
	Addr string `yaml:"addr"`

	// MaxClients is the fixed connection table size. A connection
	// arriving while the table is full is accepted and immediately
	// closed. Defaults to 4.
	MaxClients int `yaml:"max_clients"`

	// MaxLineBytes bounds a single inbound line. Defaults to
	// DefaultMaxPayload.
	MaxLineBytes int `yaml:"max_line_bytes"`

	// WriteTimeout bounds a single socket write. Defaults to
	// DefaultSendTimeout.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

func (c *TCPConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("tcp: addr is required")
	}
	if c.MaxClients == 0 {
		c.MaxClients = 4
	}
	if c.MaxClients < 0 {
		return fmt.Errorf("tcp: max_clients must be positive, got %d", c.MaxClients)
	}
	if c.MaxLineBytes == 0 {
		c.MaxLineBytes = DefaultMaxPayload
	}
	if c.MaxLineBytes < 0 {
		return fmt.Errorf("tcp: max_line_bytes must be positive, got %d", c.MaxLineBytes)
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultSendTimeout
	}
	return nil
}

func (*TCPConfig) isTransportConfig() {}
