// Package routertest provides an in-process router for tests. It speaks the
// server side of the login handshake over TCP or WebSocket and records every
// line a client sends afterwards.
package routertest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/omochice/imclink/internal/transport"
)

// Challenge is the nonce sent to clients using SHA-256 authentication.
const Challenge = "4f1c2e"

// Mode selects how clients reach the router.
type Mode int

const (
	TCP Mode = iota
	WebSocket
)

// Router is a minimal router. Configure the exported fields before Start.
type Router struct {
	Name      string
	Network   string
	ClientPwd string
	ServerPwd string
	// RejectSHA256 makes the router refuse SHA256-AUTH-INIT, like an old
	// router without hashed authentication.
	RejectSHA256 bool

	mode     Mode
	listener net.Listener
	server   *http.Server
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu     sync.Mutex
	conns  map[lineConn]struct{}
	peers  map[*peer]struct{}
	logins []string

	lines chan string
}

// New creates a router reachable in the given mode.
func New(mode Mode) *Router {
	return &Router{
		Name:      "Router",
		Network:   "TestNet",
		ClientPwd: "clientpw",
		ServerPwd: "serverpw",
		mode:      mode,
		quit:      make(chan struct{}),
		conns:     make(map[lineConn]struct{}),
		peers:     make(map[*peer]struct{}),
		lines:     make(chan string, 256),
	}
}

// Start listens on a loopback port and serves clients in the background.
func (r *Router) Start() error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to start router: %w", err)
	}
	r.listener = listener

	if r.mode == WebSocket {
		mux := http.NewServeMux()
		mux.HandleFunc("/", r.handleWebSocket)
		r.server = &http.Server{Handler: mux}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.server.Serve(listener)
		}()
		return nil
	}

	r.wg.Add(1)
	go r.acceptLoop()
	return nil
}

// Stop closes the listener and every client. It may be called more than once.
func (r *Router) Stop() {
	r.stopOnce.Do(func() {
		close(r.quit)
		if r.server != nil {
			r.server.Shutdown(context.Background())
		} else if r.listener != nil {
			r.listener.Close()
		}
		r.mu.Lock()
		for c := range r.conns {
			c.Close()
		}
		r.mu.Unlock()
		r.wg.Wait()
	})
}

// Host returns the listening host.
func (r *Router) Host() string {
	host, _, _ := net.SplitHostPort(r.listener.Addr().String())
	return host
}

// Port returns the listening port.
func (r *Router) Port() int {
	_, port, _ := net.SplitHostPort(r.listener.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// Lines delivers every line clients send after logging in.
func (r *Router) Lines() <-chan string {
	return r.lines
}

// Logins returns the first line of every handshake seen so far.
func (r *Router) Logins() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.logins...)
}

// Clients returns the number of logged-in clients.
func (r *Router) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Send writes line to every logged-in client.
func (r *Router) Send(line string) {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for p := range r.peers {
		p.conn.WriteLine(line)
	}
}

// DropClients hangs up on every client.
func (r *Router) DropClients() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for p := range r.peers {
		p.conn.Close()
		delete(r.peers, p)
	}
}

func (r *Router) acceptLoop() {
	defer r.wg.Done()
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			select {
			case <-r.quit:
				return
			default:
				if errors.Is(err, net.ErrClosed) {
					return
				}
				continue
			}
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.serve(newTCPConn(conn))
		}()
	}
}

func (r *Router) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(req, w)
	if err != nil {
		return
	}
	r.serve(newWSConn(conn))
}

type peer struct {
	conn lineConn
}

func (r *Router) serve(conn lineConn) {
	r.mu.Lock()
	r.conns[conn] = struct{}{}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.conns, conn)
		r.mu.Unlock()
		conn.Close()
	}()

	first, err := conn.ReadLine()
	if err != nil {
		return
	}
	r.mu.Lock()
	r.logins = append(r.logins, first)
	r.mu.Unlock()

	if !r.login(conn, first) {
		return
	}

	p := &peer{conn: conn}
	r.mu.Lock()
	r.peers[p] = struct{}{}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.peers, p)
		r.mu.Unlock()
	}()

	for {
		line, err := conn.ReadLine()
		if err != nil {
			return
		}
		select {
		case r.lines <- line:
		case <-r.quit:
			return
		}
	}
}

func (r *Router) login(conn lineConn, first string) bool {
	fields := strings.Fields(first)
	if len(fields) < 2 {
		conn.WriteLine("Closing link: bad handshake\n")
		return false
	}

	switch fields[0] {
	case "SHA256-AUTH-INIT":
		if r.RejectSHA256 {
			conn.WriteLine("Unknown command SHA256-AUTH-INIT\n")
			return false
		}
		conn.WriteLine("SHA256-AUTH-REQ " + Challenge + "\n")
		resp, err := conn.ReadLine()
		if err != nil {
			return false
		}
		rf := strings.Fields(resp)
		if len(rf) < 3 || rf[0] != "SHA256-AUTH-RESP" ||
			rf[2] != transport.Digest(Challenge, r.ClientPwd, r.ServerPwd) {
			conn.WriteLine("Closing link: bad digest\n")
			return false
		}
	case "PW":
		if len(fields) < 3 || fields[2] != r.ClientPwd {
			conn.WriteLine("Closing link: bad password\n")
			return false
		}
	default:
		conn.WriteLine("Closing link: bad handshake\n")
		return false
	}

	return conn.WriteLine(fmt.Sprintf("PW %s %s version=2 %s\n", r.Name, r.ServerPwd, r.Network)) == nil
}

type lineConn interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	Close() error
}

type tcpConn struct {
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex
}

func newTCPConn(conn net.Conn) *tcpConn {
	return &tcpConn{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *tcpConn) ReadLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *tcpConn) WriteLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.conn.Write([]byte(line))
	return err
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

type wsConn struct {
	conn net.Conn
	buf  string
	mu   sync.Mutex
}

func newWSConn(conn net.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) ReadLine() (string, error) {
	for {
		if i := strings.IndexByte(c.buf, '\n'); i >= 0 {
			line := c.buf[:i]
			c.buf = c.buf[i+1:]
			return strings.TrimRight(line, "\r"), nil
		}
		data, err := wsutil.ReadClientText(c.conn)
		if err != nil {
			return "", err
		}
		c.buf += string(data)
	}
}

func (c *wsConn) WriteLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsutil.WriteServerText(c.conn, []byte(line))
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	_ = wsutil.WriteServerMessage(c.conn, ws.OpClose, nil)
	c.mu.Unlock()
	return c.conn.Close()
}
