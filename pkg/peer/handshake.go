package peer

import (
	"net"
	"sync"
)

// HandshakeState tracks where a direct chat stands.
type HandshakeState int

const (
	// StateIdle means no chat is in progress and incoming requests are accepted.
	StateIdle HandshakeState = iota
	// StateRequested means a CHAT-REQUEST arrived and awaits the user's answer.
	StateRequested
	// StateChatting means an accepted chat is active.
	StateChatting
)

func (s HandshakeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequested:
		return "requested"
	case StateChatting:
		return "chatting"
	default:
		return "unknown"
	}
}

// Handshake is the chat handshake state shared between the PeerServer run
// loop and the client send loop. Both sides read and advance it, so every
// transition happens under the mutex.
type Handshake struct {
	mu sync.Mutex

	state    HandshakeState
	roomMode bool

	// Connected peer, valid in Requested and Chatting.
	peerConn net.Conn
	peerIP   string
	peerPort int
	partner  string
}

// NewHandshake returns an idle handshake.
func NewHandshake() *Handshake {
	return &Handshake{state: StateIdle}
}

// State returns the current handshake state.
func (h *Handshake) State() HandshakeState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Partner returns the username of the peer on the other end, empty when idle.
func (h *Handshake) Partner() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.partner
}

// PeerAddr returns the connected peer's advertised chat address.
func (h *Handshake) PeerAddr() (ip string, port int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.peerIP, h.peerPort
}

// PeerConn returns the connection bound to the current chat, nil when idle.
func (h *Handshake) PeerConn() net.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.peerConn
}

// BindConn records conn as the candidate chat connection if none is bound
// yet. Reports whether the bind happened.
func (h *Handshake) BindConn(conn net.Conn, ip string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.peerConn != nil {
		return false
	}
	h.peerConn = conn
	h.peerIP = ip
	return true
}

// RequestReceived moves Idle to Requested, recording the requester's
// advertised port and username. Returns false if the handshake was not idle.
func (h *Handshake) RequestReceived(port int, username string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateIdle {
		return false
	}
	h.state = StateRequested
	h.peerPort = port
	h.partner = username
	return true
}

// Engaged moves to Chatting. partner overrides the recorded name when
// non-empty (the OK line may carry the acceptor's username).
func (h *Handshake) Engaged(partner string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = StateChatting
	if partner != "" {
		h.partner = partner
	}
}

// Chatting reports whether an accepted chat is active.
func (h *Handshake) Chatting() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == StateChatting
}

// Reset drops the connected peer and returns to Idle. The bound connection,
// if any, is returned so the caller can close it.
func (h *Handshake) Reset() net.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn := h.peerConn
	h.state = StateIdle
	h.peerConn = nil
	h.peerIP = ""
	h.peerPort = 0
	h.partner = ""
	return conn
}

// EnterRoomMode disables direct-chat handling on the TCP path for the
// duration of a room session.
func (h *Handshake) EnterRoomMode() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roomMode = true
}

// LeaveRoomMode re-enables direct-chat handling.
func (h *Handshake) LeaveRoomMode() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roomMode = false
}

// InRoomMode reports whether a room session is active.
func (h *Handshake) InRoomMode() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.roomMode
}
