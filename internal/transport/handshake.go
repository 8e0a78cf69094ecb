package transport

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/omochice/imclink/internal/config"
)

const protocolVersion = "version=2"

type handshakeState int

const (
	awaitChallenge handshakeState = iota
	awaitAccept
	accepted
)

// Handshake drives the client side of the router login exchange.
type Handshake struct {
	local     string
	clientPwd string
	serverPwd string
	sha256    bool

	state   handshakeState
	router  string
	network string
}

// NewHandshake prepares a handshake for cfg.
func NewHandshake(cfg *config.Config) *Handshake {
	return &Handshake{
		local:     cfg.LocalName,
		clientPwd: cfg.ClientPwd,
		serverPwd: cfg.ServerPwd,
		sha256:    cfg.SHA256,
	}
}

// Start returns the opening line.
func (h *Handshake) Start() string {
	if h.sha256 {
		h.state = awaitChallenge
		return fmt.Sprintf("SHA256-AUTH-INIT %s\n", h.local)
	}
	h.state = awaitAccept
	return fmt.Sprintf("PW %s %s %s autosetup %s\n", h.local, h.clientPwd, protocolVersion, h.serverPwd)
}

// Next consumes one line from the router. It returns the line to send back,
// if any, and whether the router has accepted us.
func (h *Handshake) Next(line string) (string, bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", false, nil
	}

	switch h.state {
	case awaitChallenge:
		if fields[0] == "SHA256-AUTH-REQ" && len(fields) >= 2 {
			h.state = awaitAccept
			return fmt.Sprintf("SHA256-AUTH-RESP %s %s %s SHA256\n",
				h.local, Digest(fields[1], h.clientPwd, h.serverPwd), protocolVersion), false, nil
		}
		return "", false, fmt.Errorf("%w: %s", ErrHandshakeRejected, line)
	case awaitAccept:
		if fields[0] != "PW" || len(fields) < 3 {
			return "", false, fmt.Errorf("%w: %s", ErrHandshakeRejected, line)
		}
		if fields[2] != h.serverPwd {
			return "", false, fmt.Errorf("%w: router %s sent a wrong password", ErrHandshakeRejected, fields[1])
		}
		h.router = fields[1]
		if len(fields) >= 5 {
			h.network = fields[4]
		}
		h.state = accepted
		return "", true, nil
	default:
		return "", true, nil
	}
}

// Router returns the router name announced in the accept line.
func (h *Handshake) Router() string {
	return h.router
}

// Network returns the network name announced in the accept line.
func (h *Handshake) Network() string {
	return h.network
}

// Digest is the SHA-256 challenge response, hex encoded.
func Digest(challenge, clientPwd, serverPwd string) string {
	sum := sha256.Sum256([]byte(challenge + clientPwd + serverPwd))
	return hex.EncodeToString(sum[:])
}
