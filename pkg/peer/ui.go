package peer

import (
	"fmt"
	"io"
)

// UI is the surface the peer node renders events to. The console front-end
// in cmd/peer implements it; tests substitute a recorder.
type UI interface {
	// Infof shows a status line (connections, logins, room joins).
	Infof(format string, args ...interface{})
	// ChatMessage shows one chat line from the named partner.
	ChatMessage(from, body string)
	// RoomMessage shows one pre-formatted room broadcast line.
	RoomMessage(body string)
	// IncomingRequest prompts for OK/REJECT on an incoming chat request.
	IncomingRequest(from string)
	// ChatEnded tells the user the chat is over. abrupt is true when the
	// other side disconnected without a quit marker.
	ChatEnded(abrupt bool)
}

// WriterUI renders events as plain lines to an io.Writer.
type WriterUI struct {
	W io.Writer
}

func (u WriterUI) Infof(format string, args ...interface{}) {
	fmt.Fprintf(u.W, format+"\n", args...)
}

func (u WriterUI) ChatMessage(from, body string) {
	fmt.Fprintf(u.W, "%s: %s\n", from, body)
}

func (u WriterUI) RoomMessage(body string) {
	fmt.Fprintln(u.W, body)
}

func (u WriterUI) IncomingRequest(from string) {
	fmt.Fprintf(u.W, "Incoming chat request from %s\n", from)
	fmt.Fprintln(u.W, "Enter OK to accept or REJECT to reject:")
}

func (u WriterUI) ChatEnded(abrupt bool) {
	if abrupt {
		fmt.Fprintln(u.W, "User you're chatting with suddenly ended the chat")
	} else {
		fmt.Fprintln(u.W, "User you're chatting with ended the chat")
	}
}
