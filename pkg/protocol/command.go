// Package protocol defines the line-oriented wire grammar spoken between
// peers and the registry: whitespace-delimited UTF-8 commands, one per line,
// plus the fixed response vocabulary.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrEmptyLine      = errors.New("empty command line")
	ErrUnknownCommand = errors.New("unknown command")
	ErrBadArity       = errors.New("wrong number of fields for command")
	ErrBadPort        = errors.New("port field is not a valid port number")
)

// Command is a parsed registry command. Concrete types carry the fields;
// handlers switch on the type instead of indexing into raw strings.
type Command interface {
	command()
}

// Join requests creation of a new account.
type Join struct {
	Username string
	Password string
}

// Login authenticates an account and registers the peer's chat port.
type Login struct {
	Username string
	Password string
	Port     int
}

// Logout ends the session. Username is empty when the client sent a bare
// LOGOUT before authenticating.
type Logout struct {
	Username string
}

// Search looks up another user's chat address.
type Search struct {
	Username string
}

// OnlineUsers requests the full online directory.
type OnlineUsers struct{}

// CreateRoom registers a new room ID.
type CreateRoom struct {
	RoomID string
}

// JoinRoom adds the sender's room port to a room's peer set.
type JoinRoom struct {
	RoomID string
	Port   int
}

// UpdateRoom reads a room's current peer set.
type UpdateRoom struct {
	RoomID string
}

// ExitRoom removes the sender's room port from a room's peer set.
type ExitRoom struct {
	RoomID string
	Port   int
}

// Hello is the UDP liveness signal from a logged-in peer.
type Hello struct {
	Username string
}

func (Join) command()        {}
func (Login) command()       {}
func (Logout) command()      {}
func (Search) command()      {}
func (OnlineUsers) command() {}
func (CreateRoom) command()  {}
func (JoinRoom) command()    {}
func (UpdateRoom) command()  {}
func (ExitRoom) command()    {}
func (Hello) command()       {}

// ParseCommand parses one command line into a typed value. Field counts are
// validated here so handlers never see a short slice.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, ErrEmptyLine
	}

	name, args := fields[0], fields[1:]
	switch name {
	case "JOIN":
		if len(args) != 2 {
			return nil, arityError(name, 2, len(args))
		}
		return Join{Username: args[0], Password: args[1]}, nil

	case "LOGIN":
		if len(args) != 3 {
			return nil, arityError(name, 3, len(args))
		}
		port, err := parsePort(args[2])
		if err != nil {
			return nil, err
		}
		return Login{Username: args[0], Password: args[1], Port: port}, nil

	case "LOGOUT":
		// LOGOUT user for an authenticated logout, bare LOGOUT otherwise.
		switch len(args) {
		case 0:
			return Logout{}, nil
		case 1:
			return Logout{Username: args[0]}, nil
		default:
			return nil, arityError(name, 1, len(args))
		}

	case "SEARCH":
		if len(args) != 1 {
			return nil, arityError(name, 1, len(args))
		}
		return Search{Username: args[0]}, nil

	case "ONLINE_USERS":
		if len(args) != 0 {
			return nil, arityError(name, 0, len(args))
		}
		return OnlineUsers{}, nil

	case "CREATE":
		if len(args) != 1 {
			return nil, arityError(name, 1, len(args))
		}
		return CreateRoom{RoomID: args[0]}, nil

	case "JOINROOM":
		if len(args) != 2 {
			return nil, arityError(name, 2, len(args))
		}
		port, err := parsePort(args[1])
		if err != nil {
			return nil, err
		}
		return JoinRoom{RoomID: args[0], Port: port}, nil

	case "UPDATE":
		if len(args) != 1 {
			return nil, arityError(name, 1, len(args))
		}
		return UpdateRoom{RoomID: args[0]}, nil

	case "EXIT":
		if len(args) != 2 {
			return nil, arityError(name, 2, len(args))
		}
		port, err := parsePort(args[1])
		if err != nil {
			return nil, err
		}
		return ExitRoom{RoomID: args[0], Port: port}, nil

	case "HELLO":
		if len(args) != 1 {
			return nil, arityError(name, 1, len(args))
		}
		return Hello{Username: args[0]}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
}

func arityError(name string, want, got int) error {
	return fmt.Errorf("%w: %s wants %d fields, got %d", ErrBadArity, name, want, got)
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w: %q", ErrBadPort, s)
	}
	return port, nil
}

// Command strings for the client side. Kept as formatters so both ends agree
// on field order.

func FormatJoin(username, password string) string {
	return "JOIN " + username + " " + password
}

func FormatLogin(username, password string, port int) string {
	return fmt.Sprintf("LOGIN %s %s %d", username, password, port)
}

func FormatLogout(username string) string {
	if username == "" {
		return "LOGOUT"
	}
	return "LOGOUT " + username
}

func FormatSearch(username string) string {
	return "SEARCH " + username
}

func FormatOnlineUsers() string {
	return "ONLINE_USERS"
}

func FormatCreateRoom(roomID string) string {
	return "CREATE " + roomID
}

func FormatJoinRoom(roomID string, port int) string {
	return fmt.Sprintf("JOINROOM %s %d", roomID, port)
}

func FormatUpdateRoom(roomID string) string {
	return "UPDATE " + roomID
}

func FormatExitRoom(roomID string, port int) string {
	return fmt.Sprintf("EXIT %s %d", roomID, port)
}

func FormatHello(username string) string {
	return "HELLO " + username
}
