package peer

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/aeolun/peerchat/pkg/portalloc"
	"github.com/aeolun/peerchat/pkg/protocol"
)

// Node is one peer: the registry session, the periodic heartbeat sender,
// and after login the inbound chat server. The console front-end drives it.
type Node struct {
	config Config
	alloc  *portalloc.Allocator
	ui     UI
	clk    clock.Clock

	// mu serializes registry command round trips and login state changes.
	mu           sync.Mutex
	registryConn net.Conn
	registrySC   *bufio.Scanner
	udpConn      net.Conn

	username string
	chatPort int
	roomPort int
	server   *Server

	helloStop chan struct{}
	helloWG   sync.WaitGroup
}

// NewNode connects to the registry and returns a node ready for account
// commands. Login is a separate step.
func NewNode(config Config, alloc *portalloc.Allocator, ui UI) (*Node, error) {
	conn, err := net.Dial("tcp", config.RegistryTCPAddr())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to registry: %w", err)
	}

	udpConn, err := net.Dial("udp", config.RegistryUDPAddr())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open heartbeat socket: %w", err)
	}

	return &Node{
		config:       config,
		alloc:        alloc,
		ui:           ui,
		clk:          clock.New(),
		registryConn: conn,
		registrySC:   protocol.NewLineScanner(conn),
		udpConn:      udpConn,
	}, nil
}

// SetClock replaces the heartbeat clock. Call before Login.
func (n *Node) SetClock(clk clock.Clock) {
	n.clk = clk
}

// Username returns the logged-in username, empty before login.
func (n *Node) Username() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.username
}

// LoggedIn reports whether the node has an authenticated session.
func (n *Node) LoggedIn() bool {
	return n.Username() != ""
}

// Server returns the inbound chat server, nil before login.
func (n *Node) Server() *Server {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.server
}

// roundTrip sends one command line on the registry connection and returns
// the single response line. Callers hold n.mu.
func (n *Node) roundTrip(line string) (string, error) {
	if err := protocol.WriteLine(n.registryConn, line); err != nil {
		return "", fmt.Errorf("failed to send to registry: %w", err)
	}
	if !n.registrySC.Scan() {
		return "", fmt.Errorf("registry closed connection: %w", scanErr(n.registrySC))
	}
	return protocol.TrimLine(n.registrySC.Text()), nil
}

// CreateAccount registers a new account. The registry's answer is returned
// verbatim so the front-end can phrase it.
func (n *Node) CreateAccount(username, password string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.roundTrip(protocol.FormatJoin(username, password))
}

// Login authenticates, leases the node's chat and room ports, starts the
// inbound server and the heartbeat sender. The registry's negative answers
// come back as the response string with a nil error; transport problems as
// errors.
func (n *Node) Login(username, password string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.username != "" {
		return "", ErrAlreadyLoggedIn
	}

	chatPort, err := n.alloc.Lease(portalloc.LoginPool)
	if err != nil {
		return "", fmt.Errorf("failed to lease chat port: %w", err)
	}
	roomPort, err := n.alloc.Lease(portalloc.RoomPool)
	if err != nil {
		n.alloc.Release(portalloc.LoginPool, chatPort)
		return "", fmt.Errorf("failed to lease room port: %w", err)
	}

	resp, err := n.roundTrip(protocol.FormatLogin(username, password, chatPort))
	if err != nil || resp != protocol.RespLoginSuccess {
		n.alloc.Release(portalloc.LoginPool, chatPort)
		n.alloc.Release(portalloc.RoomPool, roomPort)
		return resp, err
	}

	server, err := NewServer(username, "", chatPort, roomPort, n.ui)
	if err != nil {
		// The registry thinks we are online now; undo that.
		n.roundTrip(protocol.FormatLogout(username))
		n.alloc.Release(portalloc.LoginPool, chatPort)
		n.alloc.Release(portalloc.RoomPool, roomPort)
		return "", fmt.Errorf("failed to start peer server: %w", err)
	}
	server.Start()

	n.username = username
	n.chatPort = chatPort
	n.roomPort = roomPort
	n.server = server

	n.helloStop = make(chan struct{})
	n.helloWG.Add(1)
	go n.helloLoop(username, n.helloStop)

	return resp, nil
}

// helloLoop sends the UDP liveness signal every HelloInterval until stopped.
// The first HELLO goes out immediately so the session's timer is reset well
// before the registry's timeout.
func (n *Node) helloLoop(username string, stop chan struct{}) {
	defer n.helloWG.Done()

	ticker := n.clk.Ticker(n.config.HelloInterval)
	defer ticker.Stop()

	hello := []byte(protocol.FormatHello(username))
	if _, err := n.udpConn.Write(hello); err != nil {
		debugLog.Printf("Heartbeat send failed: %v", err)
	}

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := n.udpConn.Write(hello); err != nil {
				debugLog.Printf("Heartbeat send failed: %v", err)
			}
		}
	}
}

// Logout deregisters from the registry and tears down the session: the
// heartbeat sender stops, the inbound server shuts down, and the leased
// ports return to their pools. The registry connection is replaced with a
// fresh one, since the registry closes its side after a LOGOUT.
func (n *Node) Logout() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.username == "" {
		return ErrNotLoggedIn
	}

	// LOGOUT has no response; the registry closes the session server-side.
	sendErr := protocol.WriteLine(n.registryConn, protocol.FormatLogout(n.username))

	close(n.helloStop)
	n.helloWG.Wait()

	n.server.Stop()
	n.alloc.Release(portalloc.LoginPool, n.chatPort)
	n.alloc.Release(portalloc.RoomPool, n.roomPort)

	n.username = ""
	n.chatPort = 0
	n.roomPort = 0
	n.server = nil

	reconnErr := n.reconnect()

	if sendErr != nil {
		return fmt.Errorf("failed to send logout: %w", sendErr)
	}
	return reconnErr
}

// reconnect dials a fresh registry connection to replace a dead one.
// Callers hold n.mu.
func (n *Node) reconnect() error {
	conn, err := net.Dial("tcp", n.config.RegistryTCPAddr())
	if err != nil {
		return fmt.Errorf("failed to reconnect to registry: %w", err)
	}
	n.registryConn.Close()
	n.registryConn = conn
	n.registrySC = protocol.NewLineScanner(conn)
	return nil
}

// Search asks the registry for a user's chat address.
func (n *Node) Search(username string) (ip string, port int, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	resp, err := n.roundTrip(protocol.FormatSearch(username))
	if err != nil {
		return "", 0, err
	}

	switch {
	case strings.HasPrefix(resp, protocol.RespSearchSuccess+" "):
		return protocol.ParsePeerAddr(strings.TrimPrefix(resp, protocol.RespSearchSuccess+" "))
	case resp == protocol.RespSearchNotFound:
		return "", 0, fmt.Errorf("%s: %w", username, ErrUserNotFound)
	case resp == protocol.RespSearchNotOnline:
		return "", 0, fmt.Errorf("%s: %w", username, ErrUserNotOnline)
	default:
		return "", 0, fmt.Errorf("unexpected search response %q", resp)
	}
}

// OnlineUsers fetches the directory of online peers.
func (n *Node) OnlineUsers() ([]protocol.OnlineUser, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	resp, err := n.roundTrip(protocol.FormatOnlineUsers())
	if err != nil {
		return nil, err
	}
	return protocol.DecodeOnlineUsers(resp)
}

// CreateRoom registers a new room ID with the registry.
func (n *Node) CreateRoom(roomID string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.roundTrip(protocol.FormatCreateRoom(roomID))
}

// StartChat looks the target user up and runs the requester half of the
// chat handshake.
func (n *Node) StartChat(username string) (*ChatSession, error) {
	if !n.LoggedIn() {
		return nil, ErrNotLoggedIn
	}

	ip, port, err := n.Search(username)
	if err != nil {
		return nil, err
	}

	srv := n.Server()
	return RequestChat(ip, port, srv.ChatPort(), n.Username(), srv.Handshake())
}

// AcceptIncoming answers a pending chat request with OK and dials back to
// the requester, returning the live session.
func (n *Node) AcceptIncoming() (*ChatSession, error) {
	srv := n.Server()
	if srv == nil {
		return nil, ErrNotLoggedIn
	}

	ip, port, err := srv.AcceptChat()
	if err != nil {
		return nil, err
	}
	return AcceptorChat(ip, port, srv.Handshake())
}

// RejectIncoming declines a pending chat request.
func (n *Node) RejectIncoming() error {
	srv := n.Server()
	if srv == nil {
		return ErrNotLoggedIn
	}
	return srv.RejectChat()
}

// JoinRoom opens a room session on this node's leased room port.
func (n *Node) JoinRoom(roomID string) (*RoomSession, error) {
	if !n.LoggedIn() {
		return nil, ErrNotLoggedIn
	}

	srv := n.Server()
	return JoinRoom(n.config.RegistryTCPAddr(), roomID, n.Username(),
		srv.RoomPort(), n.config.RegistryHost, srv.Handshake(), n.ui)
}

// Close tears the node down, logging out first if needed.
func (n *Node) Close() error {
	if n.LoggedIn() {
		n.Logout()
	}
	n.udpConn.Close()
	return n.registryConn.Close()
}
