package session_test

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/omochice/imclink/internal/config"
	"github.com/omochice/imclink/internal/reconnect"
	"github.com/omochice/imclink/internal/session"
	"github.com/omochice/imclink/internal/transport"
	"github.com/omochice/imclink/internal/ucache"
	"github.com/omochice/imclink/pkg/protocol"
)

type harness struct {
	s         *session.Session
	transport *fakeTransport
	writer    *fakeWriter
	messages  []protocol.Frame
}

func newHarness(t *testing.T, cfg *config.Config, conns ...*fakeConn) *harness {
	t.Helper()
	h := &harness{
		transport: &fakeTransport{next: conns},
		writer:    &fakeWriter{},
	}
	s, err := session.New(cfg, session.Options{
		Transport: h.transport,
		Writer:    h.writer,
		Logger:    zaptest.NewLogger(t),
		Now:       clock,
		Version:   "test-1",
		OnMessage: func(f protocol.Frame) { h.messages = append(h.messages, f) },
	})
	require.NoError(t, err)
	h.s = s
	return h
}

func (h *harness) pump(n int) {
	for i := 0; i < n; i++ {
		h.s.Pump(context.Background())
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.LocalName = ""
	_, err := session.New(cfg, session.Options{Transport: &fakeTransport{}})

	var fe *config.FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "local_name", fe.Field)
	assert.ErrorIs(t, err, config.ErrMissingField)
}

func TestNew_RequiresTransport(t *testing.T) {
	_, err := session.New(testConfig(t), session.Options{})
	assert.ErrorIs(t, err, session.ErrNoTransport)
}

func TestPump_ConnectsThenSendsKeepalive(t *testing.T) {
	conn := handshaken()
	h := newHarness(t, testConfig(t), conn)

	h.pump(1)
	assert.Equal(t, 1, h.transport.calls)
	assert.False(t, h.s.Snapshot().Connected)

	h.pump(1)
	snap := h.s.Snapshot()
	assert.True(t, snap.Connected)
	assert.Equal(t, reconnect.Connected, snap.State)
	assert.Equal(t, int64(2), snap.LastKeepalive)

	h.pump(59) // tick 61
	assert.Equal(t, 0, h.s.Snapshot().Queued)

	h.pump(1) // tick 62
	snap = h.s.Snapshot()
	assert.Equal(t, 1, snap.Queued)
	assert.Equal(t, int64(62), snap.LastKeepalive)
	assert.Empty(t, conn.written.String())

	h.pump(1)
	assert.Equal(t, "keepalive-request MyMud *@* :ping\n", conn.written.String())
	assert.Equal(t, 1, h.transport.calls)
}

func TestPump_WaitsForHandshake(t *testing.T) {
	conn := &fakeConn{}
	conn.feed("tell bob@Other MyMud :hi\n")
	h := newHarness(t, testConfig(t), conn)

	h.pump(5)
	assert.False(t, h.s.Snapshot().Connected)
	assert.Empty(t, h.messages)
	assert.Len(t, conn.chunks, 1)

	conn.handshaken = true
	h.pump(1)
	assert.True(t, h.s.Snapshot().Connected)
	require.Len(t, h.messages, 1)
	assert.Equal(t, "hi", h.messages[0].Message)
}

func TestPump_DecodesFramesSplitAcrossReads(t *testing.T) {
	conn := handshaken("tell bob@Other MyMud :Hello ", "world\n")
	h := newHarness(t, testConfig(t), conn)

	h.pump(2)

	require.Len(t, h.messages, 1)
	assert.Equal(t, protocol.TypeTell, h.messages[0].Type)
	assert.Equal(t, "bob@Other", h.messages[0].Source)
	assert.Equal(t, "Hello world", h.messages[0].Message)

	e, ok := h.s.User("BOB@other")
	require.True(t, ok)
	assert.Equal(t, fixedNow.Unix(), e.Time)
}

func TestPump_IgnoresUnknownAndMalformedFrames(t *testing.T) {
	conn := handshaken("who-reply a b :c\n", "\r\n", ":orphan\n", "tell x@y MyMud :ok\n")
	h := newHarness(t, testConfig(t), conn)

	h.pump(2)

	require.Len(t, h.messages, 1)
	assert.Equal(t, "ok", h.messages[0].Message)
	assert.Equal(t, 1, h.s.Snapshot().Dropped)
}

func TestPump_DropsBannedSources(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bans = []string{"EvilMud", "troll@Other"}
	conn := handshaken(
		"tell anyone@evilmud MyMud :spam\n",
		"tell troll@Other MyMud :spam\n",
		"tell friend@Other MyMud :hello\n",
	)
	h := newHarness(t, cfg, conn)

	h.pump(2)

	require.Len(t, h.messages, 1)
	assert.Equal(t, "friend@Other", h.messages[0].Source)
	_, ok := h.s.User("troll@Other")
	assert.False(t, ok)
}

func TestPump_AnswersKeepaliveRequests(t *testing.T) {
	conn := handshaken("keepalive-request *@Other *@* :\n", "keepalive-request *@MyMud *@* :\n")
	h := newHarness(t, testConfig(t), conn)

	h.pump(2)

	assert.Equal(t, "is-alive MyMud *@* :versionid=test-1\n", conn.written.String())
}

func TestPump_RecordsSubscribedChannelHistory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Channels = []config.Channel{{Name: "Server02:ichat", Local: "ichat"}}
	conn := handshaken(
		"ice-msg-b bob@Other Server02:ichat :hello all\n",
		"ice-msg-b bob@Other Server02:other :elsewhere\n",
	)
	h := newHarness(t, cfg, conn)

	h.pump(2)

	lines := h.s.History("server02:ICHAT")
	require.Len(t, lines, 1)
	assert.Equal(t, "hello all", lines[0].Text)
	assert.Equal(t, "bob@Other", lines[0].Source)
	assert.Empty(t, h.s.History("Server02:other"))
	assert.Len(t, h.messages, 2)
}

func TestPump_UserCacheFrameSetsSex(t *testing.T) {
	conn := handshaken("user-cache bob@Other * :gender=1\n", "user-cache amy@Other * :nothing\n")
	h := newHarness(t, testConfig(t), conn)

	h.pump(2)

	e, ok := h.s.User("bob@Other")
	require.True(t, ok)
	assert.Equal(t, 1, e.Sex)
	e, ok = h.s.User("amy@Other")
	require.True(t, ok)
	assert.Equal(t, ucache.UnknownSex, e.Sex)
}

func TestPump_ReadFailureAbortsWriteAndReconnects(t *testing.T) {
	first := handshaken()
	second := handshaken()
	h := newHarness(t, testConfig(t), first, second)

	h.pump(2)
	require.True(t, h.s.Snapshot().Connected)

	h.s.Send(protocol.NewFrame(protocol.TypeTell, "me@MyMud", "bob@Other", "are you there"))
	first.readErr = io.EOF
	h.pump(1)

	assert.Empty(t, first.written.String())
	assert.Equal(t, 1, first.closed)
	assert.Equal(t, 2, h.transport.calls)
	assert.Equal(t, 1, h.s.Snapshot().Queued)
	assert.False(t, h.s.Snapshot().Connected)

	h.pump(1)
	assert.Equal(t, "tell me@MyMud bob@Other :are you there\n", second.written.String())
	assert.Equal(t, 0, h.s.Snapshot().Queued)
}

func TestPump_ZeroLengthReadIsDisconnect(t *testing.T) {
	conn := handshaken()
	h := newHarness(t, testConfig(t), conn)
	h.pump(2)

	conn.chunks = [][]byte{{}}
	h.pump(1)

	assert.Equal(t, 1, conn.closed)
	assert.False(t, h.s.Snapshot().Connected)
}

func TestPump_WriteErrorKeepsQueue(t *testing.T) {
	conn := handshaken()
	h := newHarness(t, testConfig(t), conn)
	h.pump(2)

	h.s.Send(protocol.Keepalive("MyMud"))
	conn.writeErr = errors.New("broken pipe")
	h.pump(1)

	assert.Equal(t, 1, conn.closed)
	assert.Equal(t, 1, h.s.Snapshot().Queued)
}

func TestPump_BlockedSinkKeepsQueue(t *testing.T) {
	conn := handshaken()
	conn.blocked = true
	h := newHarness(t, testConfig(t), conn)
	h.pump(2)

	h.s.Send(protocol.Keepalive("MyMud"))
	h.pump(3)
	assert.Equal(t, 1, h.s.Snapshot().Queued)
	assert.Zero(t, conn.closed)

	conn.blocked = false
	h.pump(1)
	assert.Equal(t, 0, h.s.Snapshot().Queued)
}

func TestPump_DowngradesAfterThreeFailures(t *testing.T) {
	cfg := testConfig(t)
	cfg.SHA256 = true
	h := newHarness(t, cfg)

	h.pump(2)
	assert.Equal(t, 2, h.s.Snapshot().Attempts)
	assert.Empty(t, h.writer.saved)

	h.pump(1)
	snap := h.s.Snapshot()
	assert.Equal(t, 0, snap.Attempts)
	assert.False(t, snap.SHA256)
	assert.NotEqual(t, reconnect.Abandoned, snap.State)
	require.Len(t, h.writer.saved, 1)
	assert.Equal(t, []bool{false}, h.writer.saved)

	h.pump(1)
	assert.Equal(t, []bool{true, true, true, false}, h.transport.sha)
}

func TestPump_HandshakeRejectionCountsAsFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.SHA256 = true
	rejected := func() *fakeConn { return &fakeConn{err: transport.ErrHandshakeRejected} }
	accepted := handshaken()
	h := newHarness(t, cfg, rejected(), rejected(), rejected(), accepted)

	// Each attempt takes a tick to connect and a tick to observe the rejection.
	h.pump(6)
	assert.False(t, h.s.Snapshot().SHA256)
	require.Len(t, h.writer.saved, 1)

	h.pump(2)
	assert.True(t, h.s.Snapshot().Connected)
	assert.Equal(t, []bool{true, true, true, false}, h.transport.sha)
}

func TestPump_AbandonsWithoutDowngrade(t *testing.T) {
	cfg := testConfig(t)
	cfg.SHA256 = false
	h := newHarness(t, cfg)

	h.pump(3)
	assert.Equal(t, reconnect.Abandoned, h.s.Snapshot().State)
	assert.Equal(t, 3, h.transport.calls)

	h.pump(50)
	assert.Equal(t, 3, h.transport.calls)
	assert.ErrorIs(t, h.s.Connect(context.Background()), session.ErrAbandoned)
	assert.Empty(t, h.writer.saved)

	h.s.Reset()
	h.pump(1)
	assert.Equal(t, 4, h.transport.calls)
}

func TestPump_AutoConnectDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutoConnect = false
	conn := handshaken()
	h := newHarness(t, cfg, conn, handshaken())

	h.pump(10)
	assert.Equal(t, 0, h.transport.calls)

	require.NoError(t, h.s.Connect(context.Background()))
	h.pump(1)
	assert.True(t, h.s.Snapshot().Connected)

	conn.readErr = io.EOF
	h.pump(10)
	assert.Equal(t, 1, h.transport.calls)
	assert.False(t, h.s.Snapshot().Connected)
}

func TestPump_RefreshesCacheOnSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.CacheRefreshTicks = 5

	f, err := os.Create(cfg.UcachePath)
	require.NoError(t, err)
	require.NoError(t, ucache.Write(f, []ucache.Entry{
		{Name: "fresh@Other", Sex: 0, Time: fixedNow.Add(-time.Hour).Unix()},
		{Name: "stale@Other", Sex: 1, Time: fixedNow.Add(-31 * 24 * time.Hour).Unix()},
	}))
	require.NoError(t, f.Close())

	h := newHarness(t, cfg, handshaken())
	assert.Equal(t, 2, h.s.Snapshot().Users)

	h.pump(4)
	assert.Equal(t, 2, h.s.Snapshot().Users)

	h.pump(1)
	snap := h.s.Snapshot()
	assert.Equal(t, 1, snap.Users)
	assert.Equal(t, int64(10), snap.NextRefresh)

	data, err := os.ReadFile(cfg.UcachePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Name fresh@Other")
	assert.NotContains(t, string(data), "stale@Other")
}

func TestSession_ClosePersistsState(t *testing.T) {
	cfg := testConfig(t)
	cfg.Channels = []config.Channel{{Name: "Server02:ichat"}}
	conn := handshaken("ice-msg-b bob@Other Server02:ichat :hi\n")
	h := newHarness(t, cfg, conn)
	h.pump(2)

	require.NoError(t, h.s.Close())
	assert.Equal(t, 1, conn.closed)

	reloaded := newHarness(t, cfg)
	_, ok := reloaded.s.User("bob@Other")
	assert.True(t, ok)
	lines := reloaded.s.History("Server02:ichat")
	require.Len(t, lines, 1)
	assert.Equal(t, "hi", lines[0].Text)
}

func TestSession_SendWhileDisconnectedIsQueued(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutoConnect = false
	h := newHarness(t, cfg)

	h.s.Send(protocol.NewFrame(protocol.TypeTell, "a@MyMud", "b@Other", "one"))
	h.s.Send(protocol.NewFrame(protocol.TypeTell, "a@MyMud", "b@Other", "two"))
	h.pump(3)
	assert.Equal(t, 2, h.s.Snapshot().Queued)
	assert.Equal(t, "MyMud", h.s.Config().LocalName)
}
