package transport

import (
	"errors"
	"time"
)

// ErrLockTimeout is returned when the transport's internal lock cannot be
// acquired within the bound. Callers treat it as a transient failure.
var ErrLockTimeout = errors.New("transport: lock acquisition timed out")

// TimedMutex is a mutex whose Lock takes a deadline. It guards a
// transport's connection table, counters, and id allocator; the bounded
// acquisition keeps a wedged holder from propagating an unbounded wait to
// every caller.
type TimedMutex struct {
	ch chan struct{}
}

// NewTimedMutex returns an unlocked TimedMutex.
func NewTimedMutex() *TimedMutex {
	m := &TimedMutex{ch: make(chan struct{}, 1)}
	m.ch <- struct{}{}
	return m
}

// Lock acquires the mutex, waiting at most timeout. A non-positive timeout
// means a single non-blocking attempt.
func (m *TimedMutex) Lock(timeout time.Duration) error {
	if timeout <= 0 {
		select {
		case <-m.ch:
			return nil
		default:
			return ErrLockTimeout
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-m.ch:
		return nil
	case <-t.C:
		return ErrLockTimeout
	}
}

// Unlock releases the mutex. Unlocking an unlocked TimedMutex panics.
func (m *TimedMutex) Unlock() {
	select {
	case m.ch <- struct{}{}:
	default:
		panic("transport: unlock of unlocked TimedMutex")
	}
}
