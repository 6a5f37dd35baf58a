package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pixil98/go-testutil"
)

type fakePeer struct {
	id string

	mu     sync.Mutex
	frames []string
	closed bool
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Deliver(data []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.frames = append(p.frames, string(data))
	return true
}

func (p *fakePeer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePeer) received() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.frames...)
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func startFabric(t *testing.T) *NatsFabric {
	t.Helper()

	ns, err := NewNatsServer(WithPort(-1), WithStartTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("creating nats server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ns.Start(ctx) }()

	connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
	defer connectCancel()
	conn, err := ns.Connect(connectCtx)
	if err != nil {
		cancel()
		t.Fatalf("connecting to nats: %v", err)
	}

	f := NewNatsFabric(conn)
	t.Cleanup(func() {
		f.Close()
		conn.Close()
		cancel()
		if err := <-done; err != nil {
			t.Errorf("nats server: %v", err)
		}
	})
	return f
}

// flush waits for every publish so far to round-trip through the server and
// then gives the pumps a moment to deliver.
func (f *NatsFabric) flush(t *testing.T) {
	t.Helper()
	if err := f.conn.FlushTimeout(2 * time.Second); err != nil {
		t.Fatalf("flushing nats: %v", err)
	}
}

func waitForFrames(t *testing.T, p *fakePeer, n int) []string {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		got := p.received()
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("peer %s got %d frames, want %d", p.id, len(got), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNatsFabric_SendAndBroadcast(t *testing.T) {
	f := startFabric(t)
	a, b, c := &fakePeer{id: "a"}, &fakePeer{id: "b"}, &fakePeer{id: "c"}
	for _, p := range []*fakePeer{a, b, c} {
		if err := f.Register(p); err != nil {
			t.Fatalf("registering %s: %v", p.id, err)
		}
	}

	for _, id := range []string{"a", "b"} {
		if err := f.Join("scenario:42", id); err != nil {
			t.Fatalf("joining %s: %v", id, err)
		}
	}
	if err := f.Send("b", []byte("state")); err != nil {
		t.Fatalf("sending: %v", err)
	}
	if err := f.Broadcast("scenario:42", "a", []byte("edit-1")); err != nil {
		t.Fatalf("broadcasting: %v", err)
	}
	if err := f.Broadcast("scenario:42", "a", []byte("edit-2")); err != nil {
		t.Fatalf("broadcasting: %v", err)
	}
	f.flush(t)

	testutil.AssertEqual(t, "b", waitForFrames(t, b, 3), []string{"state", "edit-1", "edit-2"})

	// a sent both edits and c never joined.
	if err := f.Send("a", []byte("marker")); err != nil {
		t.Fatalf("sending: %v", err)
	}
	f.flush(t)
	testutil.AssertEqual(t, "a", waitForFrames(t, a, 1), []string{"marker"})
	testutil.AssertEqual(t, "c", c.received(), []string{})
}

func TestNatsFabric_LeaveAndUnregister(t *testing.T) {
	f := startFabric(t)
	a, b := &fakePeer{id: "a"}, &fakePeer{id: "b"}
	_ = f.Register(a)
	_ = f.Register(b)
	_ = f.Join("r", "a")
	_ = f.Join("r", "b")

	f.Leave("r", "b")
	f.flush(t)
	_ = f.Broadcast("r", "", []byte("one"))
	f.flush(t)
	testutil.AssertEqual(t, "a", waitForFrames(t, a, 1), []string{"one"})

	_ = f.Send("b", []byte("marker"))
	f.flush(t)
	testutil.AssertEqual(t, "b", waitForFrames(t, b, 1), []string{"marker"})

	f.Unregister("a")
	testutil.AssertEqual(t, "a closed", a.isClosed(), true)

	err := f.Join("r", "a")
	testutil.AssertErrorContains(t, err, "unknown connection")
}
