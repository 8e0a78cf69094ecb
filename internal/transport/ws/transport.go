package ws

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/omochice/imclink/internal/config"
	"github.com/omochice/imclink/internal/transport"
)

// Transport connects to routers through a WebSocket upgrade.
type Transport struct {
	log *zap.Logger
}

var (
	_ transport.Transport = (*Transport)(nil)
	_ transport.Wire      = (*Conn)(nil)
)

// New creates a WebSocket transport.
func New(log *zap.Logger) *Transport {
	if log == nil {
		log = zap.NewNop()
	}
	return &Transport{log: log}
}

// URL returns the endpoint dialed for cfg.
func URL(cfg *config.Config) string {
	path := cfg.WSPath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "ws://" + net.JoinHostPort(cfg.ServerAddr, strconv.Itoa(cfg.ServerPort)) + path
}

// Connect implements transport.Transport.
func (t *Transport) Connect(ctx context.Context, cfg *config.Config) (transport.Conn, error) {
	url := URL(cfg)
	d := ws.Dialer{Timeout: cfg.DialTimeout}
	conn, br, _, err := d.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to router: %w", err)
	}

	t.log.Debug("dialed router", zap.String("url", url), zap.Bool("sha256", cfg.SHA256))

	link, err := transport.Open(ctx, NewConn(conn, br), transport.NewHandshake(cfg), t.log)
	if err != nil {
		return nil, fmt.Errorf("failed to send handshake: %w", err)
	}
	return link, nil
}
