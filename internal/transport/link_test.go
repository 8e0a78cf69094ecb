package transport_test

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"code.hybscloud.com/iox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/omochice/imclink/internal/transport"
	"github.com/omochice/imclink/internal/transport/tcp"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// openLink connects a Link to the router end of a pipe. The router end has
// already consumed the opening handshake line, which is returned.
func openLink(t *testing.T, sha bool) (*transport.Link, net.Conn, *bufio.Reader, string) {
	t.Helper()
	router, client := net.Pipe()
	t.Cleanup(func() { router.Close() })

	reader := bufio.NewReader(router)
	first := make(chan string, 1)
	go func() {
		line, _ := reader.ReadString('\n')
		first <- line
	}()

	link, err := transport.Open(context.Background(), tcp.NewConn(client), transport.NewHandshake(testConfig(sha)), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { link.Close() })

	return link, router, reader, <-first
}

func readAll(t *testing.T, link *transport.Link) string {
	t.Helper()
	var sb strings.Builder
	buf := make([]byte, 8)
	for link.Readable() {
		n, err := link.Read(buf)
		if err != nil {
			break
		}
		sb.Write(buf[:n])
	}
	return sb.String()
}

func TestLink_HandshakeThenData(t *testing.T) {
	link, router, _, first := openLink(t, false)
	assert.Equal(t, "PW MyMud clientpw version=2 autosetup serverpw\n", first)
	assert.False(t, link.Handshaken())
	assert.False(t, link.Writable())

	go router.Write([]byte("PW Router serverpw version=2 TestNet\ntell a@b MyMud :hi\n"))

	require.Eventually(t, link.Handshaken, waitFor, tick)
	assert.Equal(t, "Router", link.Router())

	var got string
	require.Eventually(t, func() bool {
		got += readAll(t, link)
		return got == "tell a@b MyMud :hi\n"
	}, waitFor, tick)
}

func TestLink_SHA256Handshake(t *testing.T) {
	link, router, reader, first := openLink(t, true)
	assert.Equal(t, "SHA256-AUTH-INIT MyMud\n", first)

	go router.Write([]byte("SHA256-AUTH-REQ nonce\n"))
	resp, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, resp, transport.Digest("nonce", "clientpw", "serverpw"))

	go router.Write([]byte("PW Router serverpw version=2 TestNet\n"))
	require.Eventually(t, link.Handshaken, waitFor, tick)
}

func TestLink_WriteBeforeHandshake(t *testing.T) {
	link, _, _, _ := openLink(t, false)
	_, err := link.Write([]byte("tell x\n"))
	assert.ErrorIs(t, err, iox.ErrWouldBlock)
}

func TestLink_Write(t *testing.T) {
	link, router, reader, _ := openLink(t, false)
	go router.Write([]byte("PW Router serverpw version=2 TestNet\n"))
	require.Eventually(t, link.Writable, waitFor, tick)

	n, err := link.Write([]byte("keepalive-request MyMud *@* :ping\n"))
	require.NoError(t, err)
	assert.Equal(t, 34, n)

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "keepalive-request MyMud *@* :ping\n", line)
}

func TestLink_ReadWouldBlock(t *testing.T) {
	link, router, _, _ := openLink(t, false)
	go router.Write([]byte("PW Router serverpw version=2 TestNet\n"))
	require.Eventually(t, link.Handshaken, waitFor, tick)

	assert.False(t, link.Readable())
	_, err := link.Read(make([]byte, 16))
	assert.ErrorIs(t, err, iox.ErrWouldBlock)
}

func TestLink_PeerHangup(t *testing.T) {
	link, router, _, _ := openLink(t, false)
	go func() {
		router.Write([]byte("PW Router serverpw version=2 TestNet\n"))
		router.Close()
	}()

	require.Eventually(t, func() bool { return link.Err() != nil }, waitFor, tick)
	assert.True(t, link.Readable())
	_, err := link.Read(make([]byte, 16))
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, link.Writable())
}

func TestLink_Rejected(t *testing.T) {
	link, router, _, _ := openLink(t, false)
	go router.Write([]byte("Closing link: bad password\n"))

	require.Eventually(t, func() bool { return link.Err() != nil }, waitFor, tick)
	assert.ErrorIs(t, link.Err(), transport.ErrHandshakeRejected)
	assert.False(t, link.Handshaken())
}

func TestLink_CloseIsIdempotent(t *testing.T) {
	link, _, _, _ := openLink(t, false)
	link.Close()
	link.Close()
	assert.ErrorIs(t, link.Err(), transport.ErrClosed)
	_, err := link.Write([]byte("x\n"))
	assert.ErrorIs(t, err, transport.ErrClosed)
}
