// Package transport opens router connections and adapts them to the
// non-blocking, poll-driven handle the session pump works with.
package transport

import (
	"context"
	"errors"

	"github.com/omochice/imclink/internal/config"
)

var (
	// ErrHandshakeRejected is reported when the router refuses the handshake.
	ErrHandshakeRejected = errors.New("router rejected handshake")
	// ErrClosed is reported by a handle that has been closed locally.
	ErrClosed = errors.New("connection closed")
)

// Conn is a router connection owned by exactly one session. Every method
// returns immediately.
type Conn interface {
	// Handshaken reports whether the router accepted the handshake.
	Handshaken() bool
	// Err returns a non-nil error once the handle is no longer usable.
	Err() error
	// Readable reports whether Read has data or an error to return.
	Readable() bool
	// Read returns buffered bytes, iox.ErrWouldBlock when there are none, or
	// the error that ended the connection (io.EOF when the router hung up).
	Read(p []byte) (int, error)
	// Writable reports whether Write may accept bytes.
	Writable() bool
	// Write queues p for sending. It may accept fewer bytes than offered and
	// returns iox.ErrWouldBlock when it cannot take any.
	Write(p []byte) (int, error)
	// Close releases the connection. It is safe to call more than once.
	Close() error
}

// Transport establishes router connections.
type Transport interface {
	Connect(ctx context.Context, cfg *config.Config) (Conn, error)
}

// Wire is a bidirectional chunked stream underneath a Link. Read blocks until
// a chunk arrives; Write sends a whole chunk.
type Wire interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
	RemoteAddr() string
}
