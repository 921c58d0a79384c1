package peer

import (
	"bufio"
	"fmt"
	"net"

	"github.com/aeolun/peerchat/pkg/protocol"
)

// ChatSession is the outbound half of a direct chat: a connection to the
// other peer's chat port that this node's typed lines are written to.
type ChatSession struct {
	conn net.Conn
	sc   *bufio.Scanner
	hs   *Handshake

	// endedHere is set when this side sent the quit marker, so teardown
	// skips the best-effort quit notice.
	endedHere bool
}

// RequestChat dials the target peer's chat port and runs the request half
// of the handshake: send CHAT-REQUEST, wait for the single response line.
// On OK the returned session is live and the shared handshake is moved to
// Chatting with the acceptor's name. REJECT and BUSY map to ErrPeerRejected
// and ErrPeerBusy.
func RequestChat(ip string, port int, myChatPort int, username string, hs *Handshake) (*ChatSession, error) {
	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", ip, port))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to peer: %w", err)
	}

	if err := protocol.WriteLine(conn, protocol.FormatChatRequest(myChatPort, username)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send chat request: %w", err)
	}

	sc := protocol.NewLineScanner(conn)
	if !sc.Scan() {
		conn.Close()
		return nil, fmt.Errorf("peer closed connection before answering: %w", scanErr(sc))
	}

	msg, err := protocol.ParsePeerMessage(protocol.TrimLine(sc.Text()))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("malformed handshake response: %w", err)
	}

	switch m := msg.(type) {
	case protocol.Accept:
		hs.Engaged(m.Username)
		return &ChatSession{conn: conn, sc: sc, hs: hs}, nil
	case protocol.Reject:
		// Echo the rejection so the other server resets too.
		protocol.WriteLine(conn, protocol.WordReject)
		conn.Close()
		return nil, ErrPeerRejected
	case protocol.Busy:
		conn.Close()
		return nil, ErrPeerBusy
	default:
		conn.Close()
		return nil, fmt.Errorf("unexpected handshake response %T", msg)
	}
}

// AcceptorChat dials back to the requester's chat port after this side
// accepted. It confirms with a bare OK and returns a live session; the
// handshake was already moved to Chatting by the accept.
func AcceptorChat(ip string, port int, hs *Handshake) (*ChatSession, error) {
	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", ip, port))
	if err != nil {
		return nil, fmt.Errorf("failed to connect back to requester: %w", err)
	}
	if err := protocol.WriteLine(conn, protocol.WordOK); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to confirm chat: %w", err)
	}
	return &ChatSession{conn: conn, sc: protocol.NewLineScanner(conn), hs: hs}, nil
}

// Send transmits one typed line. The quit marker ends the chat on this
// side: the handshake resets and the session reports it is done.
func (c *ChatSession) Send(line string) (done bool, err error) {
	if !c.hs.Chatting() {
		// The other side already ended the chat; nothing to send to.
		return true, nil
	}
	if err := protocol.WriteLine(c.conn, line); err != nil {
		return true, fmt.Errorf("failed to send message: %w", err)
	}
	if line == protocol.QuitMarker {
		c.endedHere = true
		if conn := c.hs.Reset(); conn != nil {
			conn.Close()
		}
		return true, nil
	}
	return false, nil
}

// Close tears the session down. If the chat ended on the other side, a
// best-effort ending-side quit notice is sent first so the remote server
// resets without showing a quit prompt.
func (c *ChatSession) Close() error {
	if !c.endedHere {
		protocol.WriteLine(c.conn, protocol.QuitEndingSide)
	}
	return c.conn.Close()
}
