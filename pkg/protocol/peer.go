package protocol

import (
	"strconv"
	"strings"
)

// Peer-to-peer control words exchanged on the direct chat connection.
const (
	WordChatRequest = "CHAT-REQUEST"
	WordOK          = "OK"
	WordReject      = "REJECT"
	WordBusy        = "BUSY"

	// QuitMarker ends a chat. QuitEndingSide is appended by the side that
	// typed it so the other end knows the chat was ended deliberately.
	QuitMarker     = ":q"
	QuitEndingSide = ":q ending-side"
)

// PeerMessage is a parsed message on the peer-to-peer chat path.
type PeerMessage interface {
	peerMessage()
}

// ChatRequest opens the handshake: the requester announces its listening
// port and username.
type ChatRequest struct {
	Port     int
	Username string
}

// Accept is the OK response. Username is empty when a bare OK was sent.
type Accept struct {
	Username string
}

// Reject declines a chat request.
type Reject struct{}

// Busy tells a third peer the target is already in a handshake or chat.
type Busy struct{}

// Quit is the chat-ending marker. Notice is true for the bare marker, which
// means the remote user typed the quit and a notice should be shown; the
// ending-side suffix marks a silent teardown acknowledgement.
type Quit struct {
	Notice bool
}

// Text is any other non-empty payload: a chat line to display.
type Text struct {
	Body string
}

func (ChatRequest) peerMessage() {}
func (Accept) peerMessage()      {}
func (Reject) peerMessage()      {}
func (Busy) peerMessage()        {}
func (Quit) peerMessage()        {}
func (Text) peerMessage()        {}

// ParsePeerMessage classifies one line received on a peer chat connection.
// Free-form chat text never fails to parse; only a malformed CHAT-REQUEST
// does.
func ParsePeerMessage(line string) (PeerMessage, error) {
	switch {
	case strings.HasPrefix(line, WordChatRequest):
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, arityError(WordChatRequest, 2, len(fields)-1)
		}
		port, err := parsePort(fields[1])
		if err != nil {
			return nil, err
		}
		return ChatRequest{Port: port, Username: fields[2]}, nil

	case strings.HasPrefix(line, QuitMarker):
		return Quit{Notice: len(line) == len(QuitMarker)}, nil

	case line == WordReject:
		return Reject{}, nil

	case line == WordBusy:
		return Busy{}, nil
	}

	if fields := strings.Fields(line); len(fields) > 0 && fields[0] == WordOK {
		acc := Accept{}
		if len(fields) > 1 {
			acc.Username = fields[1]
		}
		return acc, nil
	}

	return Text{Body: line}, nil
}

// FormatChatRequest builds the handshake opener.
func FormatChatRequest(port int, username string) string {
	return WordChatRequest + " " + strconv.Itoa(port) + " " + username
}

// FormatAccept builds the OK response carrying the acceptor's name.
func FormatAccept(username string) string {
	if username == "" {
		return WordOK
	}
	return WordOK + " " + username
}
