package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/edgemcp/device-server-go/transport"
)

// fakeTransport records sends and nothing else.
type fakeTransport struct {
	sent    [][]byte
	sendErr error
}

func (f *fakeTransport) Start(ctx context.Context) error { return nil }
func (f *fakeTransport) Stop() error                     { return nil }
func (f *fakeTransport) Send(conn transport.ConnID, payload []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, payload)
	return nil
}
func (f *fakeTransport) Broadcast(payload []byte) error      { return f.Send(0, payload) }
func (f *fakeTransport) OnMessage(fn transport.MessageFunc)  {}
func (f *fakeTransport) OnEvent(fn transport.EventFunc)      {}
func (f *fakeTransport) Stats() transport.Stats              { return transport.Stats{} }
func (f *fakeTransport) ResetStats()                         {}
func (f *fakeTransport) Framed() bool                        { return false }

func TestConnectIsIdempotent(t *testing.T) {
	s := New(&fakeTransport{}, 1)
	if s.State() != StateDisconnected {
		t.Fatalf("initial state = %s, want disconnected", s.State())
	}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}
	if s.State() != StateConnected {
		t.Fatalf("state = %s, want connected", s.State())
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	s := New(&fakeTransport{}, 1)
	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect on fresh session failed: %v", err)
	}
	s.Connect(context.Background())
	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if err := s.Disconnect(); err != nil {
		t.Fatalf("second Disconnect failed: %v", err)
	}
	if s.State() != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", s.State())
	}
}

func TestSendRequiresConnected(t *testing.T) {
	ft := &fakeTransport{}
	s := New(ft, 1)

	if err := s.SendMessage([]byte("x")); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("SendMessage while disconnected = %v, want ErrInvalidState", err)
	}

	s.Connect(context.Background())
	if err := s.SendMessage([]byte("hello")); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(ft.sent) != 1 || string(ft.sent[0]) != "hello" {
		t.Fatalf("transport saw %q", ft.sent)
	}
	sent, _, _ := s.Counters()
	if sent != 1 {
		t.Fatalf("sent counter = %d, want 1", sent)
	}
}

func TestReceiveTimeoutIsNotAnError(t *testing.T) {
	s := New(&fakeTransport{}, 1)
	s.Connect(context.Background())

	payload, ok, err := s.ReceiveMessage(20 * time.Millisecond)
	if err != nil {
		t.Fatalf("ReceiveMessage returned error on timeout: %v", err)
	}
	if ok || payload != nil {
		t.Fatalf("ReceiveMessage = (%q, %v), want (nil, false)", payload, ok)
	}
}

func TestDeliverThenReceive(t *testing.T) {
	s := New(&fakeTransport{}, 1)
	s.Connect(context.Background())

	if err := s.Deliver([]byte("inbound")); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	payload, ok, err := s.ReceiveMessage(time.Second)
	if err != nil || !ok {
		t.Fatalf("ReceiveMessage = (%v, %v), want delivery", ok, err)
	}
	if string(payload) != "inbound" {
		t.Fatalf("payload = %q", payload)
	}
	_, received, _ := s.Counters()
	if received != 1 {
		t.Fatalf("received counter = %d, want 1", received)
	}
}

func TestDeliverFailsOnFullInbox(t *testing.T) {
	s := New(&fakeTransport{}, 1)
	s.Connect(context.Background())

	for i := 0; i < DefaultInboxDepth; i++ {
		if err := s.Deliver([]byte("m")); err != nil {
			t.Fatalf("Deliver %d failed: %v", i, err)
		}
	}
	if err := s.Deliver([]byte("overflow")); !errors.Is(err, ErrInboxFull) {
		t.Fatalf("Deliver on full inbox = %v, want ErrInboxFull", err)
	}
}

func TestFailMovesToErrorState(t *testing.T) {
	s := New(&fakeTransport{}, 1)
	s.Connect(context.Background())

	cause := errors.New("link lost")
	s.Fail(cause)
	if s.State() != StateError {
		t.Fatalf("state = %s, want error", s.State())
	}
	if !errors.Is(s.Err(), cause) {
		t.Fatalf("Err() = %v, want recorded cause", s.Err())
	}
	if err := s.Connect(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Connect from error = %v, want ErrInvalidState", err)
	}

	// Disconnect clears the error and allows a fresh connect.
	s.Disconnect()
	if s.Err() != nil {
		t.Fatalf("Err() after disconnect = %v, want nil", s.Err())
	}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect after recovery failed: %v", err)
	}
}

func TestManagerLifecycle(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager()

	s, err := m.Open(context.Background(), ft, 1)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if s.State() != StateConnected {
		t.Fatalf("opened session state = %s, want connected", s.State())
	}

	again, err := m.Open(context.Background(), ft, 1)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if again != s {
		t.Fatal("Open created a duplicate session for the same connection")
	}
	if m.Len() != 1 {
		t.Fatalf("Len = %d, want 1", m.Len())
	}

	m.Close(ft, 1)
	if s.State() != StateDisconnected {
		t.Fatalf("closed session state = %s, want disconnected", s.State())
	}
	if m.Get(ft, 1) != nil {
		t.Fatal("closed session still tracked")
	}
	m.Close(ft, 1)
}
