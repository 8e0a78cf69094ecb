// Package tcp dials routers over plain TCP.
package tcp

import (
	"context"
	"net"
	"time"
)

const readBufferSize = 4096

// expired is a deadline in the past; setting it wakes a blocked Read or Write.
var expired = time.Unix(1, 0)

// Conn is a transport.Wire over a TCP connection whose blocking calls return
// as soon as their context is done.
type Conn struct {
	conn net.Conn
}

// NewConn wraps a net.Conn.
func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn}
}

// Read returns whatever bytes are available, which may be part of a line or
// several. A cancelled ctx interrupts the read and is reported as ctx.Err().
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	buf := make([]byte, readBufferSize)
	var n int
	err := c.bound(ctx, c.conn.SetReadDeadline, func() (err error) {
		n, err = c.conn.Read(buf)
		return err
	})
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Write sends data in full or fails.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	return c.bound(ctx, c.conn.SetWriteDeadline, func() error {
		_, err := c.conn.Write(data)
		return err
	})
}

// bound runs op and expires its deadline once ctx is done. The deadline is
// cleared again afterwards so the connection stays usable with a fresh ctx.
func (c *Conn) bound(ctx context.Context, setDeadline func(time.Time) error, op func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tripped := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = setDeadline(expired)
		close(tripped)
	})

	err := op()
	if stop() {
		return err
	}

	<-tripped
	_ = setDeadline(time.Time{})
	if err != nil {
		return ctx.Err()
	}
	return nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the router's address.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
