package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/syncroom/internal/transport"
	"github.com/haasonsaas/syncroom/pkg/protocol"
)

// fakeConn is an in-memory transport.Conn. Tests push inbound frames with
// push and observe outbound frames through nextMessage/nextRaw.
type fakeConn struct {
	inbound  chan []byte
	outbound chan []byte
	done     chan struct{}

	mu          sync.Mutex
	closed      bool
	terminated  bool
	closeCode   int
	closeReason string
	notReady    bool
	sendErr     error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound:  make(chan []byte, 16),
		outbound: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
}

func (f *fakeConn) Receive() ([]byte, error) {
	select {
	case data := <-f.inbound:
		return data, nil
	case <-f.done:
		return nil, transport.ErrConnClosed
	}
}

func (f *fakeConn) Send(data []byte) error {
	f.mu.Lock()
	sendErr := f.sendErr
	closed := f.closed
	f.mu.Unlock()
	if sendErr != nil {
		return sendErr
	}
	if closed {
		return transport.ErrConnClosed
	}
	select {
	case f.outbound <- data:
		return nil
	default:
		return transport.ErrSendBufferFull
	}
}

func (f *fakeConn) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.closeCode = code
	f.closeReason = reason
	close(f.done)
	return nil
}

func (f *fakeConn) Terminate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.terminated = true
	close(f.done)
	return nil
}

func (f *fakeConn) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed && !f.notReady
}

func (f *fakeConn) RemoteAddr() string { return "fake:1" }

// push delivers a raw frame as if the client had sent it.
func (f *fakeConn) push(data []byte) { f.inbound <- data }

// setSendErr forces every Send to fail with err.
func (f *fakeConn) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

// setNotReady makes Ready report false while leaving the channel open.
func (f *fakeConn) setNotReady(v bool) {
	f.mu.Lock()
	f.notReady = v
	f.mu.Unlock()
}

func (f *fakeConn) wasTerminated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminated
}

func (f *fakeConn) closedWith() (int, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode, f.closeReason
}

// nextRaw waits for the next outbound frame.
func (f *fakeConn) nextRaw(t *testing.T) []byte {
	t.Helper()
	select {
	case data := <-f.outbound:
		return data
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for outbound frame")
		return nil
	}
}

// nextMessage waits for the next outbound frame and decodes it.
func (f *fakeConn) nextMessage(t *testing.T) *protocol.Message {
	t.Helper()
	msg, err := protocol.Decode(f.nextRaw(t))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return msg
}

// expectSilence fails the test if any frame arrives within d.
func (f *fakeConn) expectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case data := <-f.outbound:
		t.Fatalf("expected no outbound frame, got %s", data)
	case <-time.After(d):
	}
}

// fakeAcceptor hands pre-built fake connections to the hub's accept loop.
type fakeAcceptor struct {
	conns chan transport.Conn
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

func newFakeAcceptor() *fakeAcceptor {
	return &fakeAcceptor{
		conns: make(chan transport.Conn, 16),
		done:  make(chan struct{}),
	}
}

func (a *fakeAcceptor) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case c := <-a.conns:
		return c, nil
	case <-a.done:
		return nil, transport.ErrAcceptorClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *fakeAcceptor) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.closed {
		a.closed = true
		close(a.done)
	}
	return nil
}

func (a *fakeAcceptor) Addr() string { return "fake:0" }

func (a *fakeAcceptor) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// dial registers a new fake connection with the acceptor.
func (a *fakeAcceptor) dial() *fakeConn {
	fc := newFakeConn()
	a.conns <- fc
	return fc
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
