package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/shaunagostinho/autopulse/internal/can"
)

// startServer binds a server on an ephemeral port and runs its accept
// loop for the duration of the test.
func startServer(t *testing.T) *Server {
	t.Helper()
	srv := NewServer("127.0.0.1:0")
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(func() { srv.Close() })
	go srv.Run(ctx)
	return srv
}

func dialClient(t *testing.T, srv *Server) *Client {
	t.Helper()
	c, err := Dial(srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func waitClientCount(t *testing.T, srv *Server, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for srv.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("client count: got %d want %d", srv.ClientCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func recvFrame(t *testing.T, c *Client) can.Frame {
	t.Helper()
	select {
	case f, ok := <-c.Frames():
		if !ok {
			t.Fatal("frame channel closed")
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return can.Frame{}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	srv := startServer(t)

	a := dialClient(t, srv)
	b := dialClient(t, srv)
	c := dialClient(t, srv)
	waitClientCount(t, srv, 3)

	f := can.New(can.ResponseID, []byte{0x03, 0x41, 0x0D, 0x37})
	srv.Broadcast(f)

	for name, cl := range map[string]*Client{"a": a, "b": b, "c": c} {
		if got := recvFrame(t, cl); got != f {
			t.Fatalf("%s: got %+v want %+v", name, got, f)
		}
	}
}

func TestClientSendReachesRequestQueue(t *testing.T) {
	srv := startServer(t)
	c := dialClient(t, srv)
	waitClientCount(t, srv, 1)

	f := can.New(can.RequestID, []byte{0x02, 0x01, 0x0C})
	if err := c.Send(f); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case got := <-srv.Requests():
		if got != f {
			t.Fatalf("request: got %+v want %+v", got, f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request never arrived")
	}
}

func TestDisconnectDoesNotDisturbOthers(t *testing.T) {
	srv := startServer(t)

	a := dialClient(t, srv)
	b := dialClient(t, srv)
	waitClientCount(t, srv, 2)

	a.Close()
	waitClientCount(t, srv, 1)

	f := can.New(can.ResponseID, []byte{0x01, 0x44})
	srv.Broadcast(f)

	if got := recvFrame(t, b); got != f {
		t.Fatalf("surviving client: got %+v want %+v", got, f)
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	srv := startServer(t)
	c := dialClient(t, srv)
	c.Close()

	if err := c.Send(can.New(0x123, nil)); err == nil {
		t.Fatal("send on closed client succeeded")
	}

	// The frame channel drains and closes.
	select {
	case _, ok := <-c.Frames():
		if ok {
			t.Fatal("unexpected frame after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame channel never closed")
	}
}

func TestDialRefusedAfterRetries(t *testing.T) {
	if testing.Short() {
		t.Skip("takes multiple retry delays")
	}
	// Nothing listens here; all attempts must fail.
	_, err := Dial("127.0.0.1:1")
	if err == nil {
		t.Fatal("dial to dead port succeeded")
	}
}
