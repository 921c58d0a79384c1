package registry

import (
	"net"
	"sync"
)

// Session represents one accepted TCP connection to the registry. Username
// stays empty until the peer authenticates; once authenticated the session
// owns exactly one heartbeat supervisor and is registered in the session map
// under its username.
type Session struct {
	conn net.Conn
	ip   string
	port int

	username  string
	heartbeat *HeartbeatSupervisor
}

// SessionManager maps authenticated usernames to their live sessions. All
// mutations happen under one mutex so concurrent logins, logouts, and
// heartbeat expiries never lose updates.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	metrics  *Metrics
}

// NewSessionManager creates an empty session map.
func NewSessionManager(metrics *Metrics) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
		metrics:  metrics,
	}
}

// Register claims the username for the session. Exactly one of two
// concurrent registrations for the same username succeeds.
func (sm *SessionManager) Register(username string, sess *Session) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, taken := sm.sessions[username]; taken {
		return false
	}
	sm.sessions[username] = sess
	sm.metrics.RecordActiveSessions(len(sm.sessions))
	return true
}

// Get returns the session registered under username, if any.
func (sm *SessionManager) Get(username string) (*Session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sess, ok := sm.sessions[username]
	return sess, ok
}

// Remove unregisters the username and returns its session. Removing an
// absent username returns nil; logout and heartbeat expiry can both take
// this path without coordinating.
func (sm *SessionManager) Remove(username string) *Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sess, ok := sm.sessions[username]
	if !ok {
		return nil
	}
	delete(sm.sessions, username)
	sm.metrics.RecordActiveSessions(len(sm.sessions))
	return sess
}

// Count returns the number of authenticated sessions.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// CloseAll stops every session's heartbeat and closes its connection.
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for username, sess := range sm.sessions {
		sess.heartbeat.Stop()
		sess.conn.Close()
		delete(sm.sessions, username)
	}
	sm.metrics.RecordActiveSessions(0)
}
