// Package transport abstracts the bidirectional message channel between the
// hub and an editor client. The hub depends only on the Conn and Acceptor
// interfaces here; the gorilla/websocket implementation lives alongside and
// the HTTP plane in internal/server produces it.
package transport

import (
	"context"
	"errors"
)

// Close status codes sent to clients (RFC 6455 registry values).
const (
	// CloseNormal signals a graceful teardown, used during server shutdown.
	CloseNormal = 1000
	// CloseCapacity signals an admission rejection; the client may retry
	// against a less loaded server later.
	CloseCapacity = 1013
)

var (
	// ErrConnClosed reports an operation on a connection that has already
	// been closed or terminated.
	ErrConnClosed = errors.New("transport: connection closed")

	// ErrSendBufferFull reports a dropped outbound message. Fan-out never
	// blocks on a slow recipient; the message is skipped instead.
	ErrSendBufferFull = errors.New("transport: send buffer full")

	// ErrAcceptorClosed unblocks Accept once the acceptor shuts down.
	ErrAcceptorClosed = errors.New("transport: acceptor closed")
)

// Conn is one client's bidirectional message channel. Send is safe for
// concurrent use and never blocks on the peer.
type Conn interface {
	// Receive blocks until the next text message arrives. Once the
	// connection is done it returns ErrConnClosed (local teardown) or the
	// underlying read error (peer went away); no messages follow either.
	Receive() ([]byte, error)

	// Send enqueues data for delivery. It returns ErrSendBufferFull when
	// the peer is not draining its queue, ErrConnClosed after teardown.
	Send(data []byte) error

	// Close performs a graceful close handshake with the given status code
	// and reason, then tears the connection down. Idempotent.
	Close(code int, reason string) error

	// Terminate tears the connection down immediately without a close
	// handshake, for peers presumed unreachable. Idempotent.
	Terminate() error

	// Ready reports whether the connection still accepts outbound sends.
	Ready() bool

	// RemoteAddr returns the peer address for logging.
	RemoteAddr() string
}

// Acceptor yields admitted transports. Implementations own the listener;
// the hub owns each connection after Accept returns it.
type Acceptor interface {
	// Accept blocks until the next connection arrives, ctx is cancelled,
	// or the acceptor closes (ErrAcceptorClosed).
	Accept(ctx context.Context) (Conn, error)

	// Close stops accepting and releases the listener, returning only once
	// the listener has confirmed shutdown. Pending Accept calls unblock
	// with ErrAcceptorClosed.
	Close(ctx context.Context) error

	// Addr reports the bound listen address.
	Addr() string
}
