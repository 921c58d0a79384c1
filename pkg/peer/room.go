package peer

import (
	"bufio"
	"fmt"
	"net"

	"github.com/aeolun/peerchat/pkg/protocol"
)

// RoomSession is an active room chat: its own registry connection for
// membership refreshes, and a UDP socket fanning typed lines out to every
// other member's room port.
type RoomSession struct {
	roomID   string
	username string
	ownPort  int
	peerHost string

	registryConn net.Conn
	registrySC   *bufio.Scanner
	udpConn      *net.UDPConn

	hs *Handshake
	ui UI

	peers []int
}

// JoinRoom opens a room session: a fresh registry connection, an initial
// membership fetch, room mode on the handshake, and a join announcement to
// the current members.
func JoinRoom(registryAddr, roomID, username string, ownRoomPort int, peerHost string, hs *Handshake, ui UI) (*RoomSession, error) {
	conn, err := net.Dial("tcp", registryAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to registry: %w", err)
	}

	udpConn, err := net.ListenUDP("udp", nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open room send socket: %w", err)
	}

	r := &RoomSession{
		roomID:       roomID,
		username:     username,
		ownPort:      ownRoomPort,
		peerHost:     peerHost,
		registryConn: conn,
		registrySC:   protocol.NewLineScanner(conn),
		udpConn:      udpConn,
		hs:           hs,
		ui:           ui,
	}

	if err := r.join(); err != nil {
		r.closeSockets()
		return nil, err
	}

	hs.EnterRoomMode()
	r.announce(fmt.Sprintf("%s joined the room", username))
	return r, nil
}

// join registers this peer's room port with the registry and records the
// resulting membership.
func (r *RoomSession) join() error {
	line, err := r.roundTrip(protocol.FormatJoinRoom(r.roomID, r.ownPort))
	if err != nil {
		return err
	}
	if line == protocol.RespRoomNotFound {
		return ErrRoomNotFound
	}
	status, ports, err := protocol.ParsePortList(line)
	if err != nil {
		return fmt.Errorf("malformed membership response: %w", err)
	}
	if status != protocol.RespRoomSuccess {
		return fmt.Errorf("unexpected join response %q", status)
	}
	r.peers = ports
	return nil
}

// Refresh re-fetches the room's membership from the registry. Membership is
// refreshed once per input round, so the staleness window is one message.
func (r *RoomSession) Refresh() error {
	line, err := r.roundTrip(protocol.FormatUpdateRoom(r.roomID))
	if err != nil {
		return err
	}
	_, ports, err := protocol.ParsePortList(line)
	if err != nil {
		return fmt.Errorf("malformed membership response: %w", err)
	}
	r.peers = ports
	return nil
}

// Peers returns the membership from the latest refresh.
func (r *RoomSession) Peers() []int {
	return r.peers
}

// Send refreshes membership and broadcasts one typed line to every member
// except this peer.
func (r *RoomSession) Send(body string) error {
	if err := r.Refresh(); err != nil {
		return err
	}
	r.announce(fmt.Sprintf("%s: %s", r.username, body))
	return nil
}

// Leave deregisters this peer's port, broadcasts a departure notice to the
// remaining members, and tears the session down.
func (r *RoomSession) Leave() error {
	line, err := r.roundTrip(protocol.FormatExitRoom(r.roomID, r.ownPort))
	if err != nil {
		r.closeSockets()
		r.hs.LeaveRoomMode()
		return err
	}
	if line == protocol.RespRoomExitOK {
		if refreshErr := r.Refresh(); refreshErr == nil {
			r.announce(fmt.Sprintf("%s Disconnected", r.username))
		}
	}
	r.closeSockets()
	r.hs.LeaveRoomMode()
	return nil
}

// announce fans one formatted line out by UDP to every member port except
// this peer's own.
func (r *RoomSession) announce(body string) {
	for _, port := range r.peers {
		if port == r.ownPort {
			continue
		}
		addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", r.peerHost, port))
		if err != nil {
			continue
		}
		if _, err := r.udpConn.WriteToUDP([]byte(body+"\n"), addr); err != nil {
			debugLog.Printf("Room broadcast to port %d failed: %v", port, err)
		}
	}
}

func (r *RoomSession) roundTrip(line string) (string, error) {
	if err := protocol.WriteLine(r.registryConn, line); err != nil {
		return "", fmt.Errorf("failed to send to registry: %w", err)
	}
	if !r.registrySC.Scan() {
		return "", fmt.Errorf("registry closed connection: %w", scanErr(r.registrySC))
	}
	return protocol.TrimLine(r.registrySC.Text()), nil
}

func (r *RoomSession) closeSockets() {
	r.registryConn.Close()
	r.udpConn.Close()
}
