// Package session holds the router client: the connection handle, the outgoing
// queue, the user cache and the schedule that drives them, all advanced one
// step per host tick by Pump.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/omochice/imclink/internal/config"
	"github.com/omochice/imclink/internal/dispatch"
	"github.com/omochice/imclink/internal/history"
	"github.com/omochice/imclink/internal/outbox"
	"github.com/omochice/imclink/internal/reconnect"
	"github.com/omochice/imclink/internal/transport"
	"github.com/omochice/imclink/internal/ucache"
	"github.com/omochice/imclink/pkg/protocol"
)

// DefaultVersion is announced in is-alive replies when Options.Version is empty.
const DefaultVersion = "imclink-1.0"

const readBufferSize = 4096

var (
	// ErrNoTransport is returned by New when Options.Transport is nil.
	ErrNoTransport = errors.New("session: no transport")
	// ErrAbandoned is returned by Connect once reconnection has been given up.
	ErrAbandoned = errors.New("session: reconnection abandoned")
)

// ConfigWriter persists configuration changes made by the session. Only the
// changed setting is written, so values taken from the environment stay out
// of the stored file.
type ConfigWriter interface {
	SetSHA256(enabled bool) error
}

// Options carries the collaborators of a Session.
type Options struct {
	Transport transport.Transport
	// Writer records that the reconnection policy dropped SHA-256
	// authentication. It may be nil.
	Writer  ConfigWriter
	Logger  *zap.Logger
	Now     func() time.Time
	Version string
	// OnMessage is called for every channel message and tell.
	OnMessage func(f protocol.Frame)
}

// Session is the router client. It is not safe for concurrent use; the host
// calls Pump from a single tick loop.
type Session struct {
	cfg       *config.Config
	transport transport.Transport
	writer    ConfigWriter
	log       *zap.Logger
	now       func() time.Time
	version   string
	onMessage func(protocol.Frame)

	conn      transport.Conn
	connected bool
	decoder   protocol.Decoder
	outbox    outbox.Queue
	policy    reconnect.Policy
	table     *dispatch.Table
	readBuf   []byte

	users        *ucache.Cache
	userStore    *ucache.Store
	history      *history.Log
	historyStore *history.Store

	tick          int64
	lastKeepalive int64
	nextRefresh   int64
}

// New validates cfg and builds a Session. Persisted user cache and channel
// history are loaded; failing to read them is logged, not returned.
func New(cfg *config.Config, opts Options) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("session: %w", config.ErrUnreadable)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if opts.Transport == nil {
		return nil, ErrNoTransport
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	version := opts.Version
	if version == "" {
		version = DefaultVersion
	}

	s := &Session{
		cfg:          cfg.Clone(),
		transport:    opts.Transport,
		writer:       opts.Writer,
		log:          log.With(zap.String("local", cfg.LocalName)),
		now:          now,
		version:      version,
		onMessage:    opts.OnMessage,
		readBuf:      make([]byte, readBufferSize),
		users:        ucache.New(),
		userStore:    ucache.NewStore(cfg.UcachePath, log),
		history:      history.New(cfg.HistoryLength),
		historyStore: history.NewStore(cfg.HistoryPath, log),
		nextRefresh:  int64(cfg.CacheRefreshTicks),
	}
	s.table = dispatch.New(s.log, s.routes()...)

	if n, err := s.userStore.Load(s.users); err != nil {
		s.log.Warn("failed to load ucache", zap.String("path", cfg.UcachePath), zap.Error(err))
	} else if n > 0 {
		s.log.Info("ucache loaded", zap.Int("entries", n))
	}
	if err := s.historyStore.Load(s.history); err != nil {
		s.log.Warn("failed to load history", zap.String("path", cfg.HistoryPath), zap.Error(err))
	}

	return s, nil
}

// Config returns a copy of the configuration in effect, including any
// downgrade applied by the reconnection policy.
func (s *Session) Config() *config.Config {
	return s.cfg.Clone()
}

// Connect opens a connection regardless of auto_connect. It is a no-op while a
// connection exists.
func (s *Session) Connect(ctx context.Context) error {
	if s.conn != nil {
		return nil
	}
	if s.policy.Abandoned() {
		return ErrAbandoned
	}
	conn, err := s.transport.Connect(ctx, s.cfg.Clone())
	if err != nil {
		return fmt.Errorf("connect to router: %w", err)
	}
	s.conn = conn
	return nil
}

// Send queues f for the router. Frames queued while disconnected are sent once
// a connection is established.
func (s *Session) Send(f protocol.Frame) {
	s.outbox.Enqueue(protocol.Encode(f))
}

// Reset closes the connection and clears the reconnection state, including
// abandonment. Queue, cache and counters are kept.
func (s *Session) Reset() {
	s.disconnect(nil)
	s.policy.Reset()
}

// Close tears the connection down and writes the user cache and channel
// history to disk.
func (s *Session) Close() error {
	s.disconnect(nil)

	var errs []error
	if err := s.userStore.Save(s.users); err != nil {
		errs = append(errs, err)
	}
	if err := s.historyStore.Save(s.history); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// User returns the cached entry for a remote identity.
func (s *Session) User(name string) (ucache.Entry, bool) {
	return s.users.Lookup(name)
}

// History returns the remembered lines of a channel, oldest first.
func (s *Session) History(channel string) []history.Line {
	return s.history.Lines(channel)
}

// Snapshot is a read-only view of session state.
type Snapshot struct {
	State         reconnect.State
	Connected     bool
	Attempts      int
	Tick          int64
	LastKeepalive int64
	NextRefresh   int64
	Queued        int
	Users         int
	Dropped       int
	SHA256        bool
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		State:         s.policy.State(),
		Connected:     s.connected,
		Attempts:      s.policy.Attempts(),
		Tick:          s.tick,
		LastKeepalive: s.lastKeepalive,
		NextRefresh:   s.nextRefresh,
		Queued:        s.outbox.Len(),
		Users:         s.users.Len(),
		Dropped:       s.table.Dropped(),
		SHA256:        s.cfg.SHA256,
	}
}
