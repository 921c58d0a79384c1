package peer

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aeolun/peerchat/pkg/protocol"
)

func initPeerTestLoggers() {
	errorLog.SetOutput(io.Discard)
	debugLog.SetOutput(io.Discard)
}

// recorderUI captures rendered events for assertions.
type recorderUI struct {
	mu       sync.Mutex
	chat     []string // "from: body"
	room     []string
	requests []string
	ended    []bool
	info     []string
}

func (u *recorderUI) Infof(format string, args ...interface{}) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.info = append(u.info, fmt.Sprintf(format, args...))
}

func (u *recorderUI) ChatMessage(from, body string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.chat = append(u.chat, from+": "+body)
}

func (u *recorderUI) RoomMessage(body string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.room = append(u.room, body)
}

func (u *recorderUI) IncomingRequest(from string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.requests = append(u.requests, from)
}

func (u *recorderUI) ChatEnded(abrupt bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.ended = append(u.ended, abrupt)
}

func (u *recorderUI) lastChat() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.chat) == 0 {
		return ""
	}
	return u.chat[len(u.chat)-1]
}

func (u *recorderUI) lastRoom() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.room) == 0 {
		return ""
	}
	return u.room[len(u.room)-1]
}

func (u *recorderUI) requestCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.requests)
}

func (u *recorderUI) endedCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.ended)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func startPeerServer(t *testing.T, username string) (*Server, *recorderUI) {
	t.Helper()
	initPeerTestLoggers()

	ui := &recorderUI{}
	srv, err := NewServer(username, "127.0.0.1", 0, 0, ui)
	if err != nil {
		t.Fatalf("Failed to create peer server: %v", err)
	}
	srv.Start()
	t.Cleanup(func() { srv.Stop() })
	return srv, ui
}

func TestDirectChatHandshake(t *testing.T) {
	alice, aliceUI := startPeerServer(t, "alice")
	bob, bobUI := startPeerServer(t, "bob")

	// bob requests a chat with alice; the call blocks until she answers
	type result struct {
		sess *ChatSession
		err  error
	}
	bobDone := make(chan result, 1)
	go func() {
		sess, err := RequestChat("127.0.0.1", alice.ChatPort(), bob.ChatPort(), "bob", bob.Handshake())
		bobDone <- result{sess, err}
	}()

	waitFor(t, "alice to see the request", func() bool {
		return alice.Handshake().State() == StateRequested
	})
	if aliceUI.requestCount() != 1 {
		t.Errorf("Request prompt count = %d, want 1", aliceUI.requestCount())
	}
	if alice.Handshake().Partner() != "bob" {
		t.Errorf("Pending partner = %q, want bob", alice.Handshake().Partner())
	}

	// A third peer gets BUSY during the pending request
	if _, err := RequestChat("127.0.0.1", alice.ChatPort(), 9999, "carol", NewHandshake()); err != ErrPeerBusy {
		t.Errorf("Third peer request error = %v, want ErrPeerBusy", err)
	}

	// alice accepts and dials back
	ip, port, err := alice.AcceptChat()
	if err != nil {
		t.Fatalf("AcceptChat failed: %v", err)
	}
	if port != bob.ChatPort() {
		t.Errorf("Dial-back port = %d, want %d", port, bob.ChatPort())
	}
	aliceSess, err := AcceptorChat(ip, port, alice.Handshake())
	if err != nil {
		t.Fatalf("AcceptorChat failed: %v", err)
	}

	br := <-bobDone
	if br.err != nil {
		t.Fatalf("RequestChat failed: %v", br.err)
	}
	bobSess := br.sess

	if bob.Handshake().Partner() != "alice" {
		t.Errorf("bob's partner = %q, want alice", bob.Handshake().Partner())
	}
	waitFor(t, "bob's server to enter chatting", func() bool {
		return bob.Handshake().Chatting()
	})
	if !alice.Handshake().Chatting() {
		t.Error("alice not chatting after accept")
	}

	// Messages flow both ways
	if _, err := bobSess.Send("hey alice"); err != nil {
		t.Fatalf("bob send failed: %v", err)
	}
	waitFor(t, "alice to see bob's message", func() bool {
		return aliceUI.lastChat() == "bob: hey alice"
	})

	if _, err := aliceSess.Send("hey bob"); err != nil {
		t.Fatalf("alice send failed: %v", err)
	}
	waitFor(t, "bob to see alice's message", func() bool {
		return bobUI.lastChat() == "alice: hey bob"
	})

	// bob quits; both sides return to idle and alice sees the notice
	done, err := bobSess.Send(protocol.QuitMarker)
	if err != nil {
		t.Fatalf("bob quit failed: %v", err)
	}
	if !done {
		t.Error("Send of quit marker did not end the session")
	}
	bobSess.Close()

	waitFor(t, "alice to return to idle", func() bool {
		return alice.Handshake().State() == StateIdle
	})
	waitFor(t, "alice's ended notice", func() bool {
		return aliceUI.endedCount() == 1
	})
	if bob.Handshake().State() != StateIdle {
		t.Errorf("bob's state = %v, want idle", bob.Handshake().State())
	}
	aliceSess.Close()
}

func TestRejectedChatRequest(t *testing.T) {
	alice, _ := startPeerServer(t, "alice")
	bob, _ := startPeerServer(t, "bob")

	bobDone := make(chan error, 1)
	go func() {
		_, err := RequestChat("127.0.0.1", alice.ChatPort(), bob.ChatPort(), "bob", bob.Handshake())
		bobDone <- err
	}()

	waitFor(t, "alice to see the request", func() bool {
		return alice.Handshake().State() == StateRequested
	})

	if err := alice.RejectChat(); err != nil {
		t.Fatalf("RejectChat failed: %v", err)
	}

	if err := <-bobDone; err != ErrPeerRejected {
		t.Fatalf("RequestChat error = %v, want ErrPeerRejected", err)
	}
	if alice.Handshake().State() != StateIdle {
		t.Errorf("alice's state after reject = %v, want idle", alice.Handshake().State())
	}
}

func TestAbruptDisconnectMidChat(t *testing.T) {
	alice, aliceUI := startPeerServer(t, "alice")

	// Raw requester that vanishes after the handshake
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", alice.ChatPort()))
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	if err := protocol.WriteLine(conn, protocol.FormatChatRequest(9998, "ghost")); err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}

	waitFor(t, "alice to see the request", func() bool {
		return alice.Handshake().State() == StateRequested
	})

	conn.Close()

	waitFor(t, "alice to reset after the disconnect", func() bool {
		return alice.Handshake().State() == StateIdle
	})
	waitFor(t, "abrupt-end notice", func() bool {
		return aliceUI.endedCount() == 1
	})
	aliceUI.mu.Lock()
	abrupt := aliceUI.ended[0]
	aliceUI.mu.Unlock()
	if !abrupt {
		t.Error("Disconnect was not surfaced as abrupt")
	}
}

func TestIdleDisconnectReleasesBind(t *testing.T) {
	alice, aliceUI := startPeerServer(t, "alice")
	bob, _ := startPeerServer(t, "bob")

	// A peer connects and vanishes without ever sending a request
	ghost, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", alice.ChatPort()))
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	waitFor(t, "the connection to bind", func() bool {
		return alice.Handshake().PeerConn() != nil
	})
	ghost.Close()

	waitFor(t, "the bind to release", func() bool {
		return alice.Handshake().PeerConn() == nil
	})
	if aliceUI.endedCount() != 0 {
		t.Errorf("Ended notices after idle disconnect = %d, want 0", aliceUI.endedCount())
	}

	// A later request still reaches alice
	bobDone := make(chan error, 1)
	go func() {
		_, err := RequestChat("127.0.0.1", alice.ChatPort(), bob.ChatPort(), "bob", bob.Handshake())
		bobDone <- err
	}()
	waitFor(t, "alice to see the request", func() bool {
		return alice.Handshake().State() == StateRequested
	})
	if alice.Handshake().Partner() != "bob" {
		t.Errorf("Pending partner = %q, want bob", alice.Handshake().Partner())
	}

	if err := alice.RejectChat(); err != nil {
		t.Fatalf("RejectChat failed: %v", err)
	}
	if err := <-bobDone; err != ErrPeerRejected {
		t.Fatalf("RequestChat error = %v, want ErrPeerRejected", err)
	}
}

func TestRequestChatPeerClosesWithoutAnswer(t *testing.T) {
	initPeerTestLoggers()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		// Swallow the request line, then hang up without answering
		protocol.NewLineScanner(conn).Scan()
		conn.Close()
	}()

	_, err = RequestChat("127.0.0.1", ln.Addr().(*net.TCPAddr).Port, 9997, "bob", NewHandshake())
	if err == nil {
		t.Fatal("RequestChat succeeded against a hung-up peer")
	}
	if !errors.Is(err, io.EOF) {
		t.Errorf("RequestChat error = %v, want io.EOF in the chain", err)
	}
}

func TestRoomModeTurnsAwayChatRequests(t *testing.T) {
	alice, _ := startPeerServer(t, "alice")
	alice.Handshake().EnterRoomMode()

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", alice.ChatPort()))
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()

	sc := protocol.NewLineScanner(conn)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if !sc.Scan() {
		t.Fatalf("No response from room-mode server: %v", sc.Err())
	}
	if got := protocol.TrimLine(sc.Text()); got != protocol.WordBusy {
		t.Errorf("Room-mode response = %q, want BUSY", got)
	}
}

func TestRoomBroadcastDelivery(t *testing.T) {
	alice, aliceUI := startPeerServer(t, "alice")
	alice.Handshake().EnterRoomMode()

	conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", alice.RoomPort()))
	if err != nil {
		t.Fatalf("Failed to dial room port: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("bob: hello room\n")); err != nil {
		t.Fatalf("Failed to send datagram: %v", err)
	}

	waitFor(t, "room message delivery", func() bool {
		return strings.Contains(aliceUI.lastRoom(), "bob: hello room")
	})
}
