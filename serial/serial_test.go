package serial

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/edgemcp/device-server-go/framing"
	"github.com/edgemcp/device-server-go/transport"
)

func startPair(t *testing.T, cfg *transport.SerialConfig) (*Transport, net.Conn, chan []byte) {
	t.Helper()
	local, peer := net.Pipe()

	tr, err := New(local, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	received := make(chan []byte, 16)
	tr.OnMessage(func(ctx context.Context, conn transport.ConnID, payload []byte) {
		if conn != ConnID {
			t.Errorf("message on conn %d, want %d", conn, ConnID)
		}
		received <- payload
	})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		tr.Stop()
		peer.Close()
	})
	return tr, peer, received
}

func TestReceiveFramedMessage(t *testing.T) {
	tr, peer, received := startPair(t, nil)

	payload := []byte(`{"jsonrpc":"2.0","method":"ping","id":1}`)
	framed, err := framing.Encode(payload)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := peer.Write(framed); err != nil {
		t.Fatalf("peer write failed: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != string(payload) {
			t.Fatalf("received %q, want %q", got, payload)
		}
	case <-time.After(time.Second):
		t.Fatal("message never delivered")
	}

	stats := tr.Stats()
	if stats.MessagesReceived != 1 {
		t.Fatalf("MessagesReceived = %d, want 1", stats.MessagesReceived)
	}
	if stats.ActiveConnections != 1 {
		t.Fatalf("ActiveConnections = %d, want 1", stats.ActiveConnections)
	}
}

func TestSendFramesOutbound(t *testing.T) {
	tr, peer, _ := startPair(t, nil)

	payload := []byte(`{"jsonrpc":"2.0","id":1,"result":"pong"}`)
	go func() {
		if err := tr.Send(ConnID, payload); err != nil {
			t.Errorf("Send failed: %v", err)
		}
	}()

	dec := framing.NewDecoder(transport.DefaultMaxPayload)
	buf := make([]byte, 256)
	deadline := time.Now().Add(time.Second)
	for {
		peer.SetReadDeadline(deadline)
		n, err := peer.Read(buf)
		if err != nil {
			t.Fatalf("peer read failed: %v", err)
		}
		var got []byte
		for _, b := range buf[:n] {
			p, err := dec.Feed(b)
			if err != nil {
				t.Fatalf("Feed failed: %v", err)
			}
			if p != nil {
				got = p
			}
		}
		if got != nil {
			if string(got) != string(payload) {
				t.Fatalf("peer decoded %q, want %q", got, payload)
			}
			return
		}
	}
}

func TestSendValidation(t *testing.T) {
	tr, _, _ := startPair(t, nil)

	if err := tr.Send(99, []byte("x")); !errors.Is(err, transport.ErrUnknownConnection) {
		t.Fatalf("Send(99) = %v, want ErrUnknownConnection", err)
	}
	big := make([]byte, transport.DefaultMaxPayload+1)
	if err := tr.Send(ConnID, big); !errors.Is(err, transport.ErrPayloadTooLarge) {
		t.Fatalf("oversized Send = %v, want ErrPayloadTooLarge", err)
	}
}

func TestSendTimesOutWhenQueueFull(t *testing.T) {
	// The peer never reads, so the write loop blocks on the pipe and the
	// one-slot queue stays full.
	cfg := &transport.SerialConfig{QueueDepth: 1, SendTimeout: 30 * time.Millisecond}
	tr, _, _ := startPair(t, cfg)

	tr.Send(ConnID, []byte("first"))
	tr.Send(ConnID, []byte("second"))
	if err := tr.Send(ConnID, []byte("third")); !errors.Is(err, transport.ErrSendTimeout) {
		t.Fatalf("Send on full queue = %v, want ErrSendTimeout", err)
	}
	if tr.Stats().Errors == 0 {
		t.Fatal("send timeout not counted as an error")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	tr, _, _ := startPair(t, nil)

	if err := tr.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := tr.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
	if got := tr.Stats().ActiveConnections; got != 0 {
		t.Fatalf("ActiveConnections after stop = %d, want 0", got)
	}
	if err := tr.Send(ConnID, []byte("x")); !errors.Is(err, transport.ErrNotRunning) {
		t.Fatalf("Send after stop = %v, want ErrNotRunning", err)
	}
}

func TestResetStats(t *testing.T) {
	tr, peer, received := startPair(t, nil)

	framed, _ := framing.Encode([]byte(`{"jsonrpc":"2.0","method":"ping"}`))
	peer.Write(framed)
	<-received

	tr.ResetStats()
	stats := tr.Stats()
	if stats.MessagesReceived != 0 || stats.BytesReceived != 0 {
		t.Fatalf("counters not reset: %+v", stats)
	}
	if stats.ActiveConnections != 1 {
		t.Fatalf("ActiveConnections = %d, want 1 after reset", stats.ActiveConnections)
	}
}
