package tcp_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/imclink/internal/config"
	"github.com/omochice/imclink/internal/routertest"
	"github.com/omochice/imclink/internal/transport/tcp"
)

func routerConfig(r *routertest.Router, sha bool) *config.Config {
	cfg := config.Default()
	cfg.LocalName = "MyMud"
	cfg.ServerAddr = r.Host()
	cfg.ServerPort = r.Port()
	cfg.ClientPwd = r.ClientPwd
	cfg.ServerPwd = r.ServerPwd
	cfg.SHA256 = sha
	return cfg
}

func startRouter(t *testing.T) *routertest.Router {
	t.Helper()
	r := routertest.New(routertest.TCP)
	require.NoError(t, r.Start())
	t.Cleanup(r.Stop)
	return r
}

func TestTransport_Connect(t *testing.T) {
	for _, sha := range []bool{false, true} {
		r := startRouter(t)
		conn, err := tcp.New(nil).Connect(context.Background(), routerConfig(r, sha))
		require.NoError(t, err)

		require.Eventually(t, conn.Handshaken, 2*time.Second, 5*time.Millisecond)

		_, err = conn.Write([]byte("tell MyMud bob@Other :hello\n"))
		require.NoError(t, err)
		select {
		case line := <-r.Lines():
			assert.Equal(t, "tell MyMud bob@Other :hello", line)
		case <-time.After(2 * time.Second):
			t.Fatal("router did not receive the line")
		}
		conn.Close()
	}
}

func TestTransport_ConnectRefused(t *testing.T) {
	r := startRouter(t)
	cfg := routerConfig(r, false)
	r.Stop()

	_, err := tcp.New(nil).Connect(context.Background(), cfg)
	assert.Error(t, err)
}

func TestTransport_SHA256Rejected(t *testing.T) {
	r := routertest.New(routertest.TCP)
	r.RejectSHA256 = true
	require.NoError(t, r.Start())
	t.Cleanup(r.Stop)

	conn, err := tcp.New(nil).Connect(context.Background(), routerConfig(r, true))
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return conn.Err() != nil }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, conn.Handshaken())
}
