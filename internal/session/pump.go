package session

import (
	"context"
	"errors"
	"io"

	"code.hybscloud.com/iox"
	"go.uber.org/zap"

	"github.com/omochice/imclink/internal/reconnect"
	"github.com/omochice/imclink/pkg/protocol"
)

// maxReadsPerTick bounds how long one Pump may spend draining a busy router.
const maxReadsPerTick = 64

// Pump advances the session by one tick. It never blocks and never returns
// transport errors; a lost connection is handed to the reconnection policy.
func (s *Session) Pump(ctx context.Context) {
	s.tick++

	if s.conn == nil {
		if s.cfg.AutoConnect {
			s.retry(ctx)
		}
		return
	}

	if !s.conn.Handshaken() {
		if err := s.conn.Err(); err != nil {
			s.drop()
			s.failed(err)
		}
		return
	}
	if !s.connected {
		s.established()
	}

	if s.tick >= s.nextRefresh {
		s.userStore.Refresh(s.users, s.now())
		s.nextRefresh = s.tick + int64(s.cfg.CacheRefreshTicks)
	}

	if err := s.read(); err != nil {
		s.handleDisconnect(ctx, err)
		return
	}

	if s.conn.Writable() {
		if _, err := s.outbox.Flush(s.conn); err != nil {
			s.handleDisconnect(ctx, err)
			return
		}
	}

	if s.tick-s.lastKeepalive >= int64(s.cfg.KeepaliveTicks) {
		s.Send(protocol.Keepalive(s.cfg.LocalName))
		s.lastKeepalive = s.tick
	}
}

func (s *Session) read() error {
	for i := 0; i < maxReadsPerTick && s.conn.Readable(); i++ {
		n, err := s.conn.Read(s.readBuf)
		if n > 0 {
			for _, f := range s.decoder.Write(s.readBuf[:n]) {
				s.receive(f)
			}
		}
		if err != nil {
			if errors.Is(err, iox.ErrWouldBlock) {
				return nil
			}
			return err
		}
		if n == 0 {
			return io.EOF
		}
	}
	return nil
}

func (s *Session) receive(f protocol.Frame) {
	if f.Source != "" && s.cfg.Banned(f.Source) {
		s.log.Debug("dropped frame from banned source", zap.String("type", f.Type), zap.String("source", f.Source))
		return
	}
	s.table.Dispatch(f)
}

func (s *Session) established() {
	s.connected = true
	s.policy.Succeeded()
	s.outbox.Rewind()
	s.lastKeepalive = s.tick
	s.log.Info("connected to router", zap.Int("queued", s.outbox.Len()))
}

// handleDisconnect closes the current handle and, unless auto-connect is off
// or the policy has given up, makes one reconnection attempt.
func (s *Session) handleDisconnect(ctx context.Context, reason error) {
	s.disconnect(reason)
	s.retry(ctx)
}

func (s *Session) disconnect(reason error) {
	if s.conn != nil && reason != nil {
		s.log.Warn("lost connection to router", zap.Error(reason))
	}
	s.drop()
	s.policy.Disconnect()
}

// drop closes and clears the handle without touching the policy.
func (s *Session) drop() {
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.log.Debug("close connection", zap.Error(err))
		}
		s.conn = nil
	}
	s.connected = false
	s.decoder.Reset()
}

func (s *Session) retry(ctx context.Context) {
	if !s.policy.ShouldRetry(s.cfg.AutoConnect) {
		return
	}
	conn, err := s.transport.Connect(ctx, s.cfg.Clone())
	if err != nil {
		s.failed(err)
		return
	}
	s.conn = conn
}

// failed records a connection attempt that did not reach the handshaken state.
func (s *Session) failed(err error) {
	switch s.policy.Failed(s.cfg.SHA256) {
	case reconnect.Retry:
		s.log.Warn("connection attempt failed",
			zap.Int("attempt", s.policy.Attempts()), zap.Error(err))
	case reconnect.Downgrade:
		s.cfg.SHA256 = false
		s.log.Warn("disabling SHA-256 authentication after repeated failures", zap.Error(err))
		if s.writer != nil {
			if werr := s.writer.SetSHA256(false); werr != nil {
				s.log.Error("failed to save configuration", zap.Error(werr))
			}
		}
	case reconnect.Abandon:
		s.log.Error("giving up on router connection", zap.Error(err))
	}
}
