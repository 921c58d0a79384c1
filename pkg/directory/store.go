// Package directory holds the registry's persistent state: accounts, the
// online-peer directory, and room membership. The Store interface is the
// narrow CRUD contract the registry consumes; SQLiteStore is the shipped
// implementation.
package directory

import "errors"

var (
	// ErrAccountExists indicates a JOIN for a username that is already taken.
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountNotFound indicates the username has no account.
	ErrAccountNotFound = errors.New("account not found")
	// ErrNotOnline indicates the username has no online entry.
	ErrNotOnline = errors.New("user is not online")
	// ErrRoomExists indicates a CREATE for a room ID that is already taken.
	ErrRoomExists = errors.New("room already exists")
	// ErrRoomNotFound indicates the room ID is not registered.
	ErrRoomNotFound = errors.New("room not found")
)

// OnlineEntry is one row of the online-peer directory.
type OnlineEntry struct {
	Username string
	IP       string
	Port     int
}

// Store is the directory contract consumed by the registry. Implementations
// must make every mutation an atomic read-modify-write; the registry calls
// these from concurrent sessions.
type Store interface {
	// Accounts
	AccountExists(username string) (bool, error)
	RegisterAccount(username, password string) error
	VerifyPassword(username, password string) (bool, error)

	// Online directory
	IsOnline(username string) (bool, error)
	SetOnline(username, ip string, port int) error
	// SetOffline removes the online entry. Removing an absent entry is a
	// no-op so heartbeat expiry and explicit logout can race safely.
	SetOffline(username string) error
	// ClearOnline drops every online entry (registry restart recovery).
	ClearOnline() error
	PeerAddr(username string) (ip string, port int, err error)
	ListOnline() ([]OnlineEntry, error)

	// Rooms
	RoomExists(roomID string) (bool, error)
	CreateRoom(roomID string) error
	RoomPeers(roomID string) ([]int, error)
	SetRoomPeers(roomID string, ports []int) error
	// RemoveRoomPeer drops one port from the room's peer set. Removing an
	// absent port is a no-op.
	RemoveRoomPeer(roomID string, port int) error

	Close() error
}
