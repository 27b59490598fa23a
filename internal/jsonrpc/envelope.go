package jsonrpc

import (
	"sync/atomic"
	"time"
)

var envelopeSeq atomic.Uint64

// Envelope wraps a raw wire payload with bookkeeping the transports and the
// server share: a process-wide monotonic sequence number, the receive (or
// build) timestamp, and an additive checksum over the payload bytes.
//
// The checksum is a corruption heuristic, not an integrity guarantee. A
// mismatch marks the envelope invalid; callers decide whether to act on it.
type Envelope struct {
	Raw       []byte
	Seq       uint64
	Timestamp time.Time

	checksum uint16
}

// NewEnvelope wraps raw in an Envelope, assigning the next sequence number
// and computing the checksum. The payload is referenced, not copied.
func NewEnvelope(raw []byte) *Envelope {
	return &Envelope{
		Raw:       raw,
		Seq:       envelopeSeq.Add(1),
		Timestamp: time.Now(),
		checksum:  Checksum(raw),
	}
}

// Checksum returns the sum of the byte values of b modulo 2^16.
func Checksum(b []byte) uint16 {
	var sum uint16
	for _, c := range b {
		sum += uint16(c)
	}
	return sum
}

// Checksum returns the checksum recorded when the envelope was built.
func (e *Envelope) Checksum() uint16 { return e.checksum }

// Valid recomputes the checksum over the current payload and reports whether
// it still matches the recorded one.
func (e *Envelope) Valid() bool {
	return Checksum(e.Raw) == e.checksum
}
