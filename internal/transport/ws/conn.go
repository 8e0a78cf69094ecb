// Package ws dials routers that sit behind a WebSocket endpoint. Each text
// message carries one or more protocol lines.
package ws

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const closeTimeout = time.Second

// Conn adapts a client-side gobwas/ws connection to transport.Wire.
type Conn struct {
	conn   net.Conn
	reader io.Reader
	mu     sync.Mutex
}

// NewConn wraps conn. br is the reader returned by the dialer, if any; it may
// already hold frames the router sent right after the upgrade.
func NewConn(conn net.Conn, br *bufio.Reader) *Conn {
	c := &Conn{conn: conn, reader: conn}
	if br != nil {
		c.reader = br
	}
	return c
}

// Read implements transport.Wire.
// Returns the payload of the next data message. Control frames are answered
// in place.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	rw := struct {
		io.Reader
		io.Writer
	}{c.reader, lockedWriter{c}}

	for {
		data, op, err := wsutil.ReadServerData(rw)
		if err != nil {
			return nil, err
		}
		if op == ws.OpText || op == ws.OpBinary {
			return data, nil
		}
	}
}

// Write implements transport.Wire.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsutil.WriteClientText(c.conn, data)
}

// Close implements transport.Wire.
func (c *Conn) Close() error {
	// Unblocks a writer stuck on a dead peer so the close frame can go out.
	_ = c.conn.SetWriteDeadline(time.Now().Add(closeTimeout))
	c.mu.Lock()
	_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, nil)
	c.mu.Unlock()
	return c.conn.Close()
}

// RemoteAddr implements transport.Wire.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

type lockedWriter struct {
	c *Conn
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	return w.c.conn.Write(p)
}
