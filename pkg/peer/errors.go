package peer

import (
	"bufio"
	"errors"
	"io"
)

var (
	// ErrNoPendingRequest means accept/reject was called with no chat
	// request waiting.
	ErrNoPendingRequest = errors.New("no pending chat request")

	// ErrPeerRejected means the remote user declined the chat request.
	ErrPeerRejected = errors.New("chat request rejected")

	// ErrPeerBusy means the remote peer is already in a chat.
	ErrPeerBusy = errors.New("peer is busy")

	// ErrNotLoggedIn means an operation requiring a session ran before
	// login.
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrAlreadyLoggedIn means login was attempted twice on one node.
	ErrAlreadyLoggedIn = errors.New("already logged in")

	// ErrRoomNotFound means the registry does not know the room.
	ErrRoomNotFound = errors.New("room not found")

	// ErrUserNotFound means no account exists for the searched username.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserNotOnline means the account exists but has no live session.
	ErrUserNotOnline = errors.New("user not online")
)

// scanErr reports why a scanner stopped. A clean close leaves Err nil, so
// io.EOF is substituted to keep the wrapped chain meaningful.
func scanErr(sc *bufio.Scanner) error {
	if err := sc.Err(); err != nil {
		return err
	}
	return io.EOF
}
