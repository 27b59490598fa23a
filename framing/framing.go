// Package framing implements the byte-stream framing codec used by
// point-to-point transports that have no inherent message boundaries.
//
// A frame is a start marker, the escaped payload, and an end marker. Any
// payload byte equal to one of the three markers is escaped by emitting the
// escape marker followed by the byte XORed with EscapeXOR. Decoding exactly
// inverts encoding, so Decode(Encode(x)) == x for every non-empty payload x.
package framing

import (
	"errors"
	"fmt"
)

// Wire marker bytes. These are fixed protocol constants shared with every
// peer implementation.
const (
	StartMarker byte = 0x7E
	EndMarker   byte = 0x7F
	EscapeChar  byte = 0x7D
	EscapeXOR   byte = 0x20
)

// DefaultMaxPayload bounds the decoder's accumulator when no explicit
// capacity is configured.
const DefaultMaxPayload = 4096

var (
	// ErrEmptyPayload is returned by Encode for zero-length input. A frame
	// requires at least one payload byte; empty frames are likewise dropped
	// by the decoder.
	ErrEmptyPayload = errors.New("framing: empty payload")

	// ErrBufferOverrun is reported by the decoder when an in-frame payload
	// exceeds the configured capacity. The partial frame is discarded and
	// the decoder returns to idle.
	ErrBufferOverrun = errors.New("framing: frame exceeds buffer capacity")
)

// EncodedSize returns the worst-case encoded size for a payload of n bytes:
// every byte escaped plus the two markers.
func EncodedSize(n int) int { return 2*n + 2 }

// Encode frames payload into a freshly allocated buffer.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	out := make([]byte, 0, EncodedSize(len(payload)))
	out = append(out, StartMarker)
	for _, b := range payload {
		if b == StartMarker || b == EndMarker || b == EscapeChar {
			out = append(out, EscapeChar, b^EscapeXOR)
		} else {
			out = append(out, b)
		}
	}
	out = append(out, EndMarker)
	return out, nil
}

// AppendEncode frames payload and appends the result to dst, returning the
// extended slice. It never fails for non-empty payloads.
func AppendEncode(dst, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return dst, ErrEmptyPayload
	}
	dst = append(dst, StartMarker)
	for _, b := range payload {
		if b == StartMarker || b == EndMarker || b == EscapeChar {
			dst = append(dst, EscapeChar, b^EscapeXOR)
		} else {
			dst = append(dst, b)
		}
	}
	return append(dst, EndMarker), nil
}

type decodeState int

const (
	stateIdle decodeState = iota
	stateInFrame
	stateEscapePending
)

// Decoder is an incremental frame decoder. One Decoder holds the partial
// frame cursor for exactly one connection; it is not safe for concurrent
// use.
type Decoder struct {
	state decodeState
	buf   []byte
	max   int
}

// NewDecoder returns a Decoder that accepts payloads up to maxPayload bytes.
// A non-positive maxPayload selects DefaultMaxPayload.
func NewDecoder(maxPayload int) *Decoder {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Decoder{
		buf: make([]byte, 0, maxPayload),
		max: maxPayload,
	}
}

// Reset discards any partial frame and returns the decoder to idle.
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.buf = d.buf[:0]
}

// Feed advances the decoder by one byte. It returns a completed payload
// (copied, safe to retain) when the byte closed a frame, nil when more input
// is needed, or an error when the frame overran the configured capacity.
//
// Bytes observed outside a frame are discarded silently: that is the
// resynchronization behavior, not an error. An end marker closing an empty
// frame is likewise dropped.
func (d *Decoder) Feed(b byte) ([]byte, error) {
	switch d.state {
	case stateEscapePending:
		d.state = stateInFrame
		return nil, d.accumulate(b ^ EscapeXOR)

	case stateInFrame:
		switch b {
		case StartMarker:
			// Desync recovery: a fresh start marker abandons the
			// partial frame.
			d.buf = d.buf[:0]
			return nil, nil
		case EndMarker:
			d.state = stateIdle
			if len(d.buf) == 0 {
				return nil, nil
			}
			payload := make([]byte, len(d.buf))
			copy(payload, d.buf)
			d.buf = d.buf[:0]
			return payload, nil
		case EscapeChar:
			d.state = stateEscapePending
			return nil, nil
		default:
			return nil, d.accumulate(b)
		}

	default: // stateIdle
		if b == StartMarker {
			d.state = stateInFrame
			d.buf = d.buf[:0]
		}
		return nil, nil
	}
}

// Decode runs Feed over an entire chunk, invoking emit for every completed
// payload. Overruns are counted, the partial frame dropped, and decoding
// continues with the remaining bytes; the last overrun is returned after the
// chunk is consumed.
func (d *Decoder) Decode(chunk []byte, emit func(payload []byte)) error {
	var lastErr error
	for _, b := range chunk {
		payload, err := d.Feed(b)
		if err != nil {
			lastErr = err
			continue
		}
		if payload != nil {
			emit(payload)
		}
	}
	return lastErr
}

func (d *Decoder) accumulate(b byte) error {
	if len(d.buf) >= d.max {
		d.Reset()
		return fmt.Errorf("%w (max %d bytes)", ErrBufferOverrun, d.max)
	}
	d.buf = append(d.buf, b)
	return nil
}
