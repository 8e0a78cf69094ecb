package tcp

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"go.uber.org/zap"

	"github.com/omochice/imclink/internal/config"
	"github.com/omochice/imclink/internal/transport"
)

// Transport connects to routers over TCP.
type Transport struct {
	log *zap.Logger
}

var (
	_ transport.Transport = (*Transport)(nil)
	_ transport.Wire      = (*Conn)(nil)
)

// New creates a TCP transport.
func New(log *zap.Logger) *Transport {
	if log == nil {
		log = zap.NewNop()
	}
	return &Transport{log: log}
}

// Connect implements transport.Transport.
func (t *Transport) Connect(ctx context.Context, cfg *config.Config) (transport.Conn, error) {
	address := net.JoinHostPort(cfg.ServerAddr, strconv.Itoa(cfg.ServerPort))
	d := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to router: %w", err)
	}

	t.log.Debug("dialed router", zap.String("address", address), zap.Bool("sha256", cfg.SHA256))

	link, err := transport.Open(ctx, NewConn(conn), transport.NewHandshake(cfg), t.log)
	if err != nil {
		return nil, fmt.Errorf("failed to send handshake: %w", err)
	}
	return link, nil
}
