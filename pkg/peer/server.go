package peer

import (
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"

	"github.com/aeolun/peerchat/pkg/protocol"
)

var (
	errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
)

// EnableDebugLogging turns on debug output.
func EnableDebugLogging() {
	debugLog.SetOutput(os.Stderr)
}

// connEvent is one unit of input delivered to the run loop: a parsed
// message from conn, or a terminal read error.
type connEvent struct {
	conn net.Conn
	ip   string
	msg  protocol.PeerMessage
	err  error
}

// Server is the inbound half of a peer node: a TCP listener for direct
// chat and a UDP socket for room broadcasts, both on leased ports.
//
// All handshake transitions run on a single goroutine (the run loop);
// per-connection reader goroutines only parse lines and forward them as
// events. The handshake state itself is lock-guarded because the client
// send loop reads and resets it too.
type Server struct {
	username string
	host     string

	hs *Handshake
	ui UI

	listener net.Listener
	udpConn  *net.UDPConn

	// Open inbound connections, so Stop can unblock their readers.
	connMu sync.Mutex
	conns  map[net.Conn]struct{}

	events   chan connEvent
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewServer creates a peer server for the given user. host is the interface
// to bind on; chatPort and roomPort are the leased TCP and UDP ports.
func NewServer(username, host string, chatPort, roomPort int, ui UI) (*Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, chatPort))
	if err != nil {
		return nil, fmt.Errorf("failed to bind chat port: %w", err)
	}

	udpAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, roomPort))
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to resolve room address: %w", err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to bind room port: %w", err)
	}

	return &Server{
		username: username,
		host:     host,
		hs:       NewHandshake(),
		ui:       ui,
		listener: listener,
		udpConn:  udpConn,
		conns:    make(map[net.Conn]struct{}),
		events:   make(chan connEvent, 16),
		shutdown: make(chan struct{}),
	}, nil
}

// Handshake exposes the shared handshake state.
func (s *Server) Handshake() *Handshake {
	return s.hs
}

// ChatPort returns the bound TCP chat port.
func (s *Server) ChatPort() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// RoomPort returns the bound UDP room port.
func (s *Server) RoomPort() int {
	return s.udpConn.LocalAddr().(*net.UDPAddr).Port
}

// Start launches the accept loop, the run loop and the room reader.
func (s *Server) Start() {
	s.wg.Add(3)
	go s.acceptLoop()
	go s.run()
	go s.roomLoop()
	debugLog.Printf("Peer server for %s listening on chat %d / room %d",
		s.username, s.ChatPort(), s.RoomPort())
}

// Stop shuts the server down and waits for its goroutines.
func (s *Server) Stop() {
	close(s.shutdown)
	s.listener.Close()
	s.udpConn.Close()
	s.hs.Reset()

	s.connMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.conns = make(map[net.Conn]struct{})
	s.connMu.Unlock()

	s.wg.Wait()
}

func (s *Server) trackConn(conn net.Conn) {
	s.connMu.Lock()
	s.conns[conn] = struct{}{}
	s.connMu.Unlock()
}

// closeConn closes an inbound connection and forgets it.
func (s *Server) closeConn(conn net.Conn) {
	conn.Close()
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				errorLog.Printf("Accept error: %v", err)
				continue
			}
		}

		// A room session owns the peer for its duration; direct chat
		// connections are turned away.
		if s.hs.InRoomMode() {
			protocol.WriteLine(conn, protocol.WordBusy)
			conn.Close()
			continue
		}

		ip, _, err := net.SplitHostPort(conn.RemoteAddr().String())
		if err != nil {
			conn.Close()
			continue
		}

		if s.hs.BindConn(conn, ip) {
			debugLog.Printf("Peer connected from %s", conn.RemoteAddr())
		}

		s.trackConn(conn)
		s.wg.Add(1)
		go s.readLoop(conn, ip)
	}
}

// readLoop parses lines from one connection and forwards them to the run
// loop. It performs no state transitions itself.
func (s *Server) readLoop(conn net.Conn, ip string) {
	defer s.wg.Done()

	sc := protocol.NewLineScanner(conn)
	for sc.Scan() {
		line := protocol.TrimLine(sc.Text())
		if line == "" {
			continue
		}
		msg, err := protocol.ParsePeerMessage(line)
		if err != nil {
			debugLog.Printf("Dropping malformed peer line from %s: %v", ip, err)
			continue
		}
		select {
		case s.events <- connEvent{conn: conn, ip: ip, msg: msg}:
		case <-s.shutdown:
			return
		}
	}

	select {
	case s.events <- connEvent{conn: conn, ip: ip, err: io.EOF}:
	case <-s.shutdown:
	}
}

// run is the single owner of handshake transitions.
func (s *Server) run() {
	defer s.wg.Done()

	for {
		select {
		case <-s.shutdown:
			return
		case ev := <-s.events:
			s.handleEvent(ev)
		}
	}
}

func (s *Server) handleEvent(ev connEvent) {
	current := s.hs.PeerConn()

	if ev.err != nil {
		if ev.conn == current {
			// The bound connection is gone; unbind it so later peers can
			// connect again. Only an interrupted handshake or chat
			// warrants a notice.
			engaged := s.hs.State() != StateIdle
			s.hs.Reset()
			s.closeConn(ev.conn)
			if engaged {
				s.ui.ChatEnded(true)
			}
			return
		}
		s.closeConn(ev.conn)
		return
	}

	// Traffic from anyone but the connected peer while engaged gets BUSY
	// and is dropped.
	if ev.conn != current {
		if st := s.hs.State(); st == StateRequested || st == StateChatting {
			protocol.WriteLine(ev.conn, protocol.WordBusy)
			s.closeConn(ev.conn)
			return
		}
		// An unengaged stray connection; nothing to route it to.
		s.closeConn(ev.conn)
		return
	}

	switch msg := ev.msg.(type) {
	case protocol.ChatRequest:
		if s.hs.RequestReceived(msg.Port, msg.Username) {
			s.ui.IncomingRequest(msg.Username)
		} else {
			protocol.WriteLine(ev.conn, protocol.WordBusy)
		}

	case protocol.Accept:
		// The acceptor dialed back and confirmed; chat is on.
		s.hs.Engaged(msg.Username)

	case protocol.Reject:
		s.hs.Reset()
		s.closeConn(ev.conn)

	case protocol.Busy:
		s.hs.Reset()
		s.closeConn(ev.conn)

	case protocol.Quit:
		if s.hs.InRoomMode() {
			s.hs.LeaveRoomMode()
			return
		}
		s.hs.Reset()
		s.closeConn(ev.conn)
		if msg.Notice {
			s.ui.ChatEnded(false)
		}

	case protocol.Text:
		s.ui.ChatMessage(s.hs.Partner(), msg.Body)
	}
}

// roomLoop drains the UDP room socket and surfaces datagrams while room
// mode is on. Datagrams outside a room session are discarded.
func (s *Server) roomLoop() {
	defer s.wg.Done()

	buf := make([]byte, protocol.MaxLineSize)
	for {
		n, _, err := s.udpConn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				errorLog.Printf("Room socket read error: %v", err)
				continue
			}
		}
		if !s.hs.InRoomMode() {
			continue
		}
		s.ui.RoomMessage(protocol.TrimLine(string(buf[:n])))
	}
}

// AcceptChat answers a pending request with OK, carrying this user's name,
// and moves the handshake to Chatting. It returns the requester's chat
// address so the caller can dial back and start the send loop.
func (s *Server) AcceptChat() (ip string, port int, err error) {
	if s.hs.State() != StateRequested {
		return "", 0, ErrNoPendingRequest
	}
	conn := s.hs.PeerConn()
	if conn == nil {
		return "", 0, ErrNoPendingRequest
	}
	if err := protocol.WriteLine(conn, protocol.FormatAccept(s.username)); err != nil {
		s.hs.Reset()
		s.closeConn(conn)
		return "", 0, fmt.Errorf("failed to send accept: %w", err)
	}
	s.hs.Engaged("")
	ip, port = s.hs.PeerAddr()
	return ip, port, nil
}

// RejectChat answers a pending request with REJECT and resets the handshake.
func (s *Server) RejectChat() error {
	if s.hs.State() != StateRequested {
		return ErrNoPendingRequest
	}
	conn := s.hs.Reset()
	if conn == nil {
		return ErrNoPendingRequest
	}
	err := protocol.WriteLine(conn, protocol.WordReject)
	s.closeConn(conn)
	if err != nil {
		return fmt.Errorf("failed to send reject: %w", err)
	}
	return nil
}
