package registry

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aeolun/peerchat/pkg/directory"
	"github.com/aeolun/peerchat/pkg/protocol"
)

var (
	errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
)

// Server is the registry: it owns the TCP command listener and the UDP
// heartbeat socket, and fans accepted connections out to per-session
// goroutines.
type Server struct {
	store    directory.Store
	sessions *SessionManager
	config   Config
	clk      clock.Clock
	metrics  *Metrics

	// roomMu guards read-modify-write cycles on room peer sets across
	// sessions. The store serializes individual statements, but JOINROOM
	// needs its read and replace to be atomic against other sessions.
	roomMu sync.Mutex

	listener   net.Listener
	udpConn    *net.UDPConn
	metricsSrv *http.Server
	shutdown   chan struct{}
	wg         sync.WaitGroup
}

// NewServer creates a registry over the given directory store. Any online
// entries left over from a previous run are cleared: nobody can be online
// before the registry starts.
func NewServer(store directory.Store, config Config, metrics *Metrics) (*Server, error) {
	if err := store.ClearOnline(); err != nil {
		return nil, fmt.Errorf("failed to clear stale online entries: %w", err)
	}

	return &Server{
		store:    store,
		sessions: NewSessionManager(metrics),
		config:   config,
		clk:      clock.New(),
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}, nil
}

// EnableDebugLogging turns on per-command debug output.
func (s *Server) EnableDebugLogging() {
	debugLog.SetOutput(os.Stderr)
}

// SetClock replaces the wall clock driving heartbeat timers. Tests install a
// mock clock here before Start.
func (s *Server) SetClock(clk clock.Clock) {
	s.clk = clk
}

// Start binds the TCP and UDP sockets and begins accepting traffic.
func (s *Server) Start() error {
	tcpAddr := fmt.Sprintf("%s:%d", s.config.Host, s.config.TCPPort)
	listener, err := net.Listen("tcp", tcpAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", tcpAddr, err)
	}
	s.listener = listener
	log.Printf("Registry TCP listening on %s", listener.Addr())

	udpAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.config.Host, s.config.UDPPort))
	if err != nil {
		listener.Close()
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		listener.Close()
		return fmt.Errorf("failed to bind UDP socket: %w", err)
	}
	s.udpConn = udpConn
	log.Printf("Registry UDP listening on %s", udpConn.LocalAddr())

	if s.config.MetricsPort > 0 {
		s.startMetricsListener()
	}

	s.wg.Add(1)
	go s.acceptLoop()

	s.wg.Add(1)
	go s.heartbeatLoop()

	return nil
}

// TCPAddr returns the bound TCP address. Valid after Start.
func (s *Server) TCPAddr() net.Addr {
	return s.listener.Addr()
}

// UDPAddr returns the bound UDP address. Valid after Start.
func (s *Server) UDPAddr() net.Addr {
	return s.udpConn.LocalAddr()
}

// Stop gracefully stops the registry.
func (s *Server) Stop() error {
	close(s.shutdown)

	if s.listener != nil {
		s.listener.Close()
	}
	if s.udpConn != nil {
		s.udpConn.Close()
	}
	if s.metricsSrv != nil {
		s.metricsSrv.Close()
	}

	s.wg.Wait()
	s.sessions.CloseAll()
	return s.store.Close()
}

func (s *Server) startMetricsListener() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s.metricsSrv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.config.Host, s.config.MetricsPort),
		Handler: mux,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Printf("Metrics listening on %s", s.metricsSrv.Addr)
		if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorLog.Printf("Metrics listener failed: %v", err)
		}
	}()
}

// acceptLoop accepts incoming TCP connections.
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

		// MaxUsers caps authenticated sessions; turn connections away
		// once the cap is reached rather than queueing them.
		if s.config.MaxUsers > 0 && s.sessions.Count() >= s.config.MaxUsers {
			debugLog.Printf("Turning away %s: %d sessions at capacity", conn.RemoteAddr(), s.config.MaxUsers)
			conn.Close()
			continue
		}

		go s.handleConnection(conn)
	}
}

// heartbeatLoop drains the UDP socket and routes HELLO datagrams to the
// matching session's supervisor. Datagrams for unknown or offline usernames
// are discarded without a response.
func (s *Server) heartbeatLoop() {
	defer s.wg.Done()

	buf := make([]byte, protocol.MaxLineSize)
	for {
		n, addr, err := s.udpConn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				errorLog.Printf("UDP read error: %v", err)
				continue
			}
		}

		cmd, err := protocol.ParseCommand(protocol.TrimLine(string(buf[:n])))
		if err != nil {
			debugLog.Printf("Discarding malformed datagram from %s: %v", addr, err)
			continue
		}

		hello, ok := cmd.(protocol.Hello)
		if !ok {
			debugLog.Printf("Discarding non-HELLO datagram from %s", addr)
			continue
		}

		if sess, ok := s.sessions.Get(hello.Username); ok {
			sess.heartbeat.Reset()
			s.metrics.RecordHeartbeat()
			debugLog.Printf("Heartbeat from %s (%s)", hello.Username, addr)
		}
	}
}

// handleConnection runs one registry session until the peer disconnects or
// logs out.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	host, portStr, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		errorLog.Printf("Failed to parse remote address %q: %v", conn.RemoteAddr(), err)
		return
	}

	sess := &Session{
		conn: conn,
		ip:   host,
	}
	fmt.Sscanf(portStr, "%d", &sess.port)

	log.Printf("New connection from %s:%d", sess.ip, sess.port)

	scanner := protocol.NewLineScanner(conn)
	for scanner.Scan() {
		line := protocol.TrimLine(scanner.Text())
		if line == "" {
			continue
		}

		debugLog.Printf("Received from %s:%d -> %s", sess.ip, sess.port, line)

		cmd, err := protocol.ParseCommand(line)
		if err != nil {
			// Protocol violation: log and keep the connection open.
			errorLog.Printf("Session %s:%d sent malformed command: %v", sess.ip, sess.port, err)
			continue
		}

		done, err := s.dispatch(sess, cmd)
		if err != nil {
			errorLog.Printf("Session %s:%d error: %v", sess.ip, sess.port, err)
			break
		}
		if done {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		debugLog.Printf("Session %s:%d read error: %v", sess.ip, sess.port, err)
	}

	// Empty read: the peer disconnected mid-session. An authenticated
	// session is treated as an implicit logout.
	if sess.username != "" {
		log.Printf("Session %s:%d (%s) disconnected, deregistering", sess.ip, sess.port, sess.username)
		s.deregister(sess.username)
	}
}

// deregister removes the user from the directory and the session map, stops
// the heartbeat, and closes the socket. Every removal is idempotent, so the
// explicit-logout, disconnect, and heartbeat-expiry paths can all run it
// without coordinating.
func (s *Server) deregister(username string) {
	if sess := s.sessions.Remove(username); sess != nil {
		sess.heartbeat.Stop()
		sess.conn.Close()
	}

	if err := s.store.SetOffline(username); err != nil {
		errorLog.Printf("Failed to remove online entry for %s: %v", username, err)
	}
}

// send writes one response line to the session.
func (s *Server) send(sess *Session, response string) error {
	debugLog.Printf("Send to %s:%d -> %s", sess.ip, sess.port, response)
	return protocol.WriteLine(sess.conn, response)
}
