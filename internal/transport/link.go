package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
	"go.uber.org/zap"
)

const queueCapacity = 64

// Link turns a blocking Wire into a Conn. A reader goroutine runs the
// handshake and then forwards chunks to an inbox; a writer goroutine drains
// the outbox. Read, Write and the readiness probes are meant for one caller,
// the session pump, and never block.
type Link struct {
	wire Wire
	hs   *Handshake
	log  *zap.Logger

	inbox  lfq.SPSC[[]byte]
	outbox lfq.SPSC[[]byte]
	wake   chan struct{}
	done   chan struct{}

	handshaken atomix.Uint32
	closed     atomix.Uint32
	queued     atomix.Uint32
	consumed   uint32
	pending    []byte

	mu  sync.Mutex
	err error

	closeOnce sync.Once
	closeErr  error
}

var _ Conn = (*Link)(nil)

// Open sends the opening handshake line on wire and starts the link.
func Open(ctx context.Context, wire Wire, hs *Handshake, log *zap.Logger) (*Link, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := wire.Write(ctx, []byte(hs.Start())); err != nil {
		wire.Close()
		return nil, err
	}

	l := &Link{
		wire: wire,
		hs:   hs,
		log:  log.With(zap.String("remote", wire.RemoteAddr())),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	l.inbox.Init(queueCapacity)
	l.outbox.Init(queueCapacity)

	go l.readLoop()
	go l.writeLoop()
	return l, nil
}

// Router returns the router name once the handshake has completed.
func (l *Link) Router() string {
	if !l.Handshaken() {
		return ""
	}
	return l.hs.Router()
}

// Handshaken implements Conn.
func (l *Link) Handshaken() bool {
	return l.handshaken.Load() != 0
}

// Err implements Conn.
func (l *Link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Readable implements Conn.
func (l *Link) Readable() bool {
	return len(l.pending) > 0 || l.queued.Load() != l.consumed || l.Err() != nil
}

// Read implements Conn.
func (l *Link) Read(p []byte) (int, error) {
	if len(l.pending) == 0 {
		chunk, err := l.inbox.Dequeue()
		if err != nil {
			ferr := l.Err()
			if ferr == nil {
				return 0, iox.ErrWouldBlock
			}
			// The reader may have queued its last chunk just before failing.
			if chunk, err = l.inbox.Dequeue(); err != nil {
				return 0, ferr
			}
		}
		l.consumed++
		l.pending = chunk
	}
	n := copy(p, l.pending)
	l.pending = l.pending[n:]
	return n, nil
}

// Writable implements Conn.
func (l *Link) Writable() bool {
	return l.Handshaken() && l.Err() == nil
}

// Write implements Conn.
func (l *Link) Write(p []byte) (int, error) {
	if err := l.Err(); err != nil {
		return 0, err
	}
	if !l.Handshaken() || len(p) == 0 {
		return 0, iox.ErrWouldBlock
	}
	chunk := bytes.Clone(p)
	if err := l.outbox.Enqueue(&chunk); err != nil {
		return 0, iox.ErrWouldBlock
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return len(p), nil
}

// Close implements Conn.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.closed.Add(1)
		l.fail(ErrClosed)
		close(l.done)
		l.closeErr = l.wire.Close()
	})
	return l.closeErr
}

func (l *Link) fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	l.err = err
	if l.closed.Load() == 0 {
		l.log.Debug("connection failed", zap.Error(err))
	}
}

func (l *Link) readLoop() {
	ctx := context.Background()
	var acc []byte
	for {
		data, err := l.wire.Read(ctx)
		if err != nil {
			l.fail(err)
			return
		}
		if !l.Handshaken() {
			acc = append(acc, data...)
			data, err = l.handshake(ctx, &acc)
			if err != nil {
				l.fail(err)
				return
			}
		}
		if len(data) > 0 && !l.deliver(data) {
			return
		}
	}
}

// handshake consumes complete lines from acc. Once the router accepts, the
// bytes that followed the accept line are returned for delivery.
func (l *Link) handshake(ctx context.Context, acc *[]byte) ([]byte, error) {
	for {
		i := bytes.IndexByte(*acc, '\n')
		if i < 0 {
			return nil, nil
		}
		line := strings.TrimRight(string((*acc)[:i]), "\r")
		*acc = (*acc)[i+1:]

		reply, done, err := l.hs.Next(line)
		if err != nil {
			return nil, err
		}
		if reply != "" {
			if err := l.wire.Write(ctx, []byte(reply)); err != nil {
				return nil, err
			}
		}
		if done {
			l.log.Info("router accepted handshake",
				zap.String("router", l.hs.Router()),
				zap.String("network", l.hs.Network()))
			l.handshaken.Add(1)
			rest := *acc
			*acc = nil
			return rest, nil
		}
	}
}

func (l *Link) deliver(chunk []byte) bool {
	var bo iox.Backoff
	for {
		if err := l.inbox.Enqueue(&chunk); err == nil {
			l.queued.Add(1)
			return true
		}
		if l.closed.Load() != 0 {
			return false
		}
		bo.Wait()
	}
}

func (l *Link) writeLoop() {
	ctx := context.Background()
	for {
		select {
		case <-l.done:
			return
		case <-l.wake:
		}
		for {
			chunk, err := l.outbox.Dequeue()
			if err != nil {
				break
			}
			if err := l.wire.Write(ctx, chunk); err != nil {
				l.fail(err)
				return
			}
		}
	}
}
