package registry

import (
	"errors"
	"fmt"
	"log"

	"github.com/aeolun/peerchat/pkg/directory"
	"github.com/aeolun/peerchat/pkg/protocol"
)

// dispatch routes one parsed command to its handler. It returns done=true
// when the session should end (logout), and a non-nil error only for
// transport-level failures that terminate the session.
func (s *Server) dispatch(sess *Session, cmd protocol.Command) (done bool, err error) {
	switch c := cmd.(type) {
	case protocol.Join:
		s.metrics.RecordCommand("JOIN")
		return false, s.handleJoin(sess, c)
	case protocol.Login:
		s.metrics.RecordCommand("LOGIN")
		return false, s.handleLogin(sess, c)
	case protocol.Logout:
		s.metrics.RecordCommand("LOGOUT")
		return true, s.handleLogout(sess, c)
	case protocol.Search:
		s.metrics.RecordCommand("SEARCH")
		return false, s.handleSearch(sess, c)
	case protocol.OnlineUsers:
		s.metrics.RecordCommand("ONLINE_USERS")
		return false, s.handleOnlineUsers(sess)
	case protocol.CreateRoom:
		s.metrics.RecordCommand("CREATE")
		return false, s.handleCreateRoom(sess, c)
	case protocol.JoinRoom:
		s.metrics.RecordCommand("JOINROOM")
		return false, s.handleJoinRoom(sess, c)
	case protocol.UpdateRoom:
		s.metrics.RecordCommand("UPDATE")
		return false, s.handleUpdateRoom(sess, c)
	case protocol.ExitRoom:
		s.metrics.RecordCommand("EXIT")
		return false, s.handleExitRoom(sess, c)
	default:
		// HELLO belongs on the UDP socket; anything else unknown was
		// already rejected by the parser.
		debugLog.Printf("Ignoring unexpected command %T on TCP from %s:%d", cmd, sess.ip, sess.port)
		return false, nil
	}
}

func (s *Server) handleJoin(sess *Session, cmd protocol.Join) error {
	exists, err := s.store.AccountExists(cmd.Username)
	if err != nil {
		return fmt.Errorf("account lookup failed: %w", err)
	}
	if exists {
		return s.send(sess, protocol.RespJoinExist)
	}

	if err := s.store.RegisterAccount(cmd.Username, cmd.Password); err != nil {
		if errors.Is(err, directory.ErrAccountExists) {
			// Lost a race with a concurrent JOIN for the same name.
			return s.send(sess, protocol.RespJoinExist)
		}
		return fmt.Errorf("account registration failed: %w", err)
	}

	return s.send(sess, protocol.RespJoinSuccess)
}

func (s *Server) handleLogin(sess *Session, cmd protocol.Login) error {
	exists, err := s.store.AccountExists(cmd.Username)
	if err != nil {
		return fmt.Errorf("account lookup failed: %w", err)
	}
	if !exists {
		return s.send(sess, protocol.RespLoginNotExist)
	}

	online, err := s.store.IsOnline(cmd.Username)
	if err != nil {
		return fmt.Errorf("online lookup failed: %w", err)
	}
	if online {
		return s.send(sess, protocol.RespLoginOnline)
	}

	ok, err := s.store.VerifyPassword(cmd.Username, cmd.Password)
	if err != nil {
		return fmt.Errorf("password verification failed: %w", err)
	}
	if !ok {
		return s.send(sess, protocol.RespLoginWrongPass)
	}

	// The session map is the authority during the race window: exactly one
	// of two concurrent logins claims the username.
	username := cmd.Username
	sess.heartbeat = NewHeartbeatSupervisor(s.clk, s.config.HeartbeatTimeout, func() {
		log.Printf("Heartbeat timeout for %s, deregistering", username)
		s.metrics.RecordHeartbeatExpiry()
		s.deregister(username)
	})

	if !s.sessions.Register(username, sess) {
		sess.heartbeat.Stop()
		sess.heartbeat = nil
		return s.send(sess, protocol.RespLoginOnline)
	}
	sess.username = username

	if err := s.store.SetOnline(username, sess.ip, cmd.Port); err != nil {
		s.sessions.Remove(username)
		sess.heartbeat.Stop()
		sess.heartbeat = nil
		sess.username = ""
		return fmt.Errorf("failed to record online entry: %w", err)
	}

	s.metrics.RecordLogin()
	log.Printf("%s logged in from %s (chat port %d)", username, sess.ip, cmd.Port)
	return s.send(sess, protocol.RespLoginSuccess)
}

// handleLogout ends the session. An authenticated session is fully
// deregistered; an unauthenticated one just closes. No response payload is
// sent either way.
func (s *Server) handleLogout(sess *Session, cmd protocol.Logout) error {
	if sess.username != "" {
		log.Printf("%s logged out from %s:%d", sess.username, sess.ip, sess.port)
		s.deregister(sess.username)
		sess.username = ""
	} else if cmd.Username != "" {
		debugLog.Printf("Unauthenticated LOGOUT for %s from %s:%d ignored", cmd.Username, sess.ip, sess.port)
	}
	return nil
}

func (s *Server) handleSearch(sess *Session, cmd protocol.Search) error {
	exists, err := s.store.AccountExists(cmd.Username)
	if err != nil {
		return fmt.Errorf("account lookup failed: %w", err)
	}
	if !exists {
		return s.send(sess, protocol.RespSearchNotFound)
	}

	ip, port, err := s.store.PeerAddr(cmd.Username)
	if err != nil {
		if errors.Is(err, directory.ErrNotOnline) {
			return s.send(sess, protocol.RespSearchNotOnline)
		}
		return fmt.Errorf("peer address lookup failed: %w", err)
	}

	return s.send(sess, protocol.FormatSearchSuccess(ip, port))
}

func (s *Server) handleOnlineUsers(sess *Session) error {
	entries, err := s.store.ListOnline()
	if err != nil {
		return fmt.Errorf("online listing failed: %w", err)
	}

	users := make([]protocol.OnlineUser, len(entries))
	for i, e := range entries {
		users[i] = protocol.OnlineUser{Username: e.Username, IP: e.IP, Port: e.Port}
	}

	line, err := protocol.EncodeOnlineUsers(users)
	if err != nil {
		return fmt.Errorf("failed to encode online listing: %w", err)
	}
	return s.send(sess, line)
}

func (s *Server) handleCreateRoom(sess *Session, cmd protocol.CreateRoom) error {
	exists, err := s.store.RoomExists(cmd.RoomID)
	if err != nil {
		return fmt.Errorf("room lookup failed: %w", err)
	}
	if exists {
		return s.send(sess, protocol.RespRoomExist)
	}

	if err := s.store.CreateRoom(cmd.RoomID); err != nil {
		if errors.Is(err, directory.ErrRoomExists) {
			return s.send(sess, protocol.RespRoomExist)
		}
		return fmt.Errorf("room creation failed: %w", err)
	}

	log.Printf("Room %s created by %s:%d", cmd.RoomID, sess.ip, sess.port)
	return s.send(sess, protocol.RespRoomCreated)
}

func (s *Server) handleJoinRoom(sess *Session, cmd protocol.JoinRoom) error {
	s.roomMu.Lock()
	defer s.roomMu.Unlock()

	ports, err := s.store.RoomPeers(cmd.RoomID)
	if err != nil {
		if errors.Is(err, directory.ErrRoomNotFound) {
			return s.send(sess, protocol.RespRoomNotFound)
		}
		return fmt.Errorf("room peer lookup failed: %w", err)
	}

	// Add the port if it is not already a member.
	member := false
	for _, p := range ports {
		if p == cmd.Port {
			member = true
			break
		}
	}
	if !member {
		ports = append(ports, cmd.Port)
		if err := s.store.SetRoomPeers(cmd.RoomID, ports); err != nil {
			return fmt.Errorf("room peer update failed: %w", err)
		}
	}

	return s.send(sess, protocol.FormatPortList(protocol.RespRoomSuccess, ports))
}

func (s *Server) handleUpdateRoom(sess *Session, cmd protocol.UpdateRoom) error {
	ports, err := s.store.RoomPeers(cmd.RoomID)
	if err != nil {
		if errors.Is(err, directory.ErrRoomNotFound) {
			// UPDATE has no failure response; an unknown room reads as an
			// empty peer set.
			ports = nil
		} else {
			return fmt.Errorf("room peer lookup failed: %w", err)
		}
	}

	return s.send(sess, protocol.FormatPortList(protocol.RespRoomUpdated, ports))
}

func (s *Server) handleExitRoom(sess *Session, cmd protocol.ExitRoom) error {
	s.roomMu.Lock()
	defer s.roomMu.Unlock()

	if err := s.store.RemoveRoomPeer(cmd.RoomID, cmd.Port); err != nil {
		return fmt.Errorf("room peer removal failed: %w", err)
	}

	return s.send(sess, protocol.RespRoomExitOK)
}
