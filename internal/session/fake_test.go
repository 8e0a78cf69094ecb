package session_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"code.hybscloud.com/iox"

	"github.com/omochice/imclink/internal/config"
	"github.com/omochice/imclink/internal/transport"
)

var errRefused = errors.New("connection refused")

// fakeConn is a scripted transport.Conn.
type fakeConn struct {
	handshaken bool
	err        error
	chunks     [][]byte
	readErr    error
	blocked    bool
	writeErr   error
	written    strings.Builder
	closed     int
}

func handshaken(chunks ...string) *fakeConn {
	c := &fakeConn{handshaken: true}
	c.feed(chunks...)
	return c
}

func (c *fakeConn) feed(chunks ...string) {
	for _, s := range chunks {
		c.chunks = append(c.chunks, []byte(s))
	}
}

func (c *fakeConn) Handshaken() bool { return c.handshaken }
func (c *fakeConn) Err() error       { return c.err }
func (c *fakeConn) Readable() bool   { return len(c.chunks) > 0 || c.readErr != nil }
func (c *fakeConn) Writable() bool   { return c.handshaken && !c.blocked }

func (c *fakeConn) Read(p []byte) (int, error) {
	if len(c.chunks) > 0 {
		n := copy(p, c.chunks[0])
		c.chunks[0] = c.chunks[0][n:]
		if len(c.chunks[0]) == 0 {
			c.chunks = c.chunks[1:]
		}
		return n, nil
	}
	if c.readErr != nil {
		return 0, c.readErr
	}
	return 0, iox.ErrWouldBlock
}

func (c *fakeConn) Write(p []byte) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	if c.blocked {
		return 0, iox.ErrWouldBlock
	}
	c.written.Write(p)
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.closed++
	return nil
}

// fakeTransport hands out scripted connections in order and fails once they
// run out.
type fakeTransport struct {
	next  []*fakeConn
	calls int
	sha   []bool
}

func (t *fakeTransport) Connect(ctx context.Context, cfg *config.Config) (transport.Conn, error) {
	t.calls++
	t.sha = append(t.sha, cfg.SHA256)
	if len(t.next) == 0 {
		return nil, errRefused
	}
	c := t.next[0]
	t.next = t.next[1:]
	return c, nil
}

type fakeWriter struct {
	saved []bool
}

func (w *fakeWriter) SetSHA256(enabled bool) error {
	w.saved = append(w.saved, enabled)
	return nil
}

var fixedNow = time.Unix(1_700_000_000, 0)

func clock() time.Time { return fixedNow }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.LocalName = "MyMud"
	cfg.ServerAddr = "router.example"
	cfg.ServerPort = 5000
	cfg.ClientPwd = "clientpw"
	cfg.ServerPwd = "serverpw"
	cfg.UcachePath = filepath.Join(dir, "ucache.dat")
	cfg.HistoryPath = filepath.Join(dir, "history.bin")
	return cfg
}
