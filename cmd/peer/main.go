package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/aeolun/peerchat/pkg/peer"
	"github.com/aeolun/peerchat/pkg/portalloc"
	"github.com/aeolun/peerchat/pkg/protocol"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

const menu = `Choose:
  1: Create account
  2: Login
  3: Logout
  4: Search
  5: Show online users
  6: Start a chat
  7: Create chatroom
  8: Join a room
  OK/REJECT: answer an incoming chat request
  CANCEL: quit`

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	configPath := flag.String("config", "~/.peerchat/peer.toml", "Path to config file")
	registryHost := flag.String("registry", "", "Registry host (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("Peerchat Peer %s\n", Version)
		os.Exit(0)
	}

	config, err := peer.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *registryHost != "" {
		config.Registry.Host = *registryHost
	}
	if *debug {
		peer.EnableDebugLogging()
	}

	cfg := config.ToConfig()

	alloc, err := portalloc.New(cfg.PortBase, cfg.PortPoolSize)
	if err != nil {
		log.Fatalf("Failed to set up port pools: %v", err)
	}

	ui := peer.WriterUI{W: os.Stdout}
	node, err := peer.NewNode(cfg, alloc, ui)
	if err != nil {
		log.Fatalf("Failed to connect to registry at %s: %v", cfg.RegistryTCPAddr(), err)
	}
	defer node.Close()

	fmt.Printf("Connected to registry at %s\n", cfg.RegistryTCPAddr())

	console := &console{node: node, ui: ui, in: bufio.NewScanner(os.Stdin)}
	console.run()
}

type console struct {
	node *peer.Node
	ui   peer.WriterUI
	in   *bufio.Scanner
}

func (c *console) run() {
	for {
		fmt.Println(menu)
		choice, ok := c.readLine()
		if !ok {
			return
		}

		switch strings.ToUpper(choice) {
		case "1":
			c.createAccount()
		case "2":
			c.login()
		case "3":
			c.logout()
		case "4":
			c.search()
		case "5":
			c.onlineUsers()
		case "6":
			c.startChat()
		case "7":
			c.createRoom()
		case "8":
			c.joinRoom()
		case "OK":
			c.acceptChat()
		case "REJECT":
			c.rejectChat()
		case "CANCEL":
			return
		default:
			fmt.Println("Unknown choice")
		}
	}
}

func (c *console) readLine() (string, bool) {
	if !c.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(c.in.Text()), true
}

func (c *console) prompt(label string) (string, bool) {
	fmt.Print(label)
	return c.readLine()
}

func (c *console) createAccount() {
	username, ok := c.prompt("username: ")
	if !ok {
		return
	}
	password, ok := c.prompt("password: ")
	if !ok {
		return
	}

	resp, err := c.node.CreateAccount(username, password)
	if err != nil {
		fmt.Printf("Account creation failed: %v\n", err)
		return
	}
	switch resp {
	case protocol.RespJoinSuccess:
		fmt.Println("Account created...")
	case protocol.RespJoinExist:
		fmt.Println("Username taken, choose another or login...")
	}
}

func (c *console) login() {
	if c.node.LoggedIn() {
		fmt.Println("You are already logged in")
		return
	}
	username, ok := c.prompt("username: ")
	if !ok {
		return
	}
	password, ok := c.prompt("password: ")
	if !ok {
		return
	}

	resp, err := c.node.Login(username, password)
	if err != nil {
		fmt.Printf("Login failed: %v\n", err)
		return
	}
	switch resp {
	case protocol.RespLoginSuccess:
		fmt.Println("Logged in successfully...")
	case protocol.RespLoginNotExist:
		fmt.Println("Account does not exist...")
	case protocol.RespLoginOnline:
		fmt.Println("Account is already online...")
	case protocol.RespLoginWrongPass:
		fmt.Println("Wrong password...")
	}
}

func (c *console) logout() {
	if err := c.node.Logout(); err != nil {
		fmt.Printf("Logout failed: %v\n", err)
		return
	}
	fmt.Println("Logged out successfully")
}

func (c *console) search() {
	if !c.node.LoggedIn() {
		fmt.Println("You must log in to search for users")
		return
	}
	username, ok := c.prompt("Username to search: ")
	if !ok {
		return
	}

	ip, port, err := c.node.Search(username)
	switch {
	case err == nil:
		fmt.Printf("%s is at %s:%d\n", username, ip, port)
	case errors.Is(err, peer.ErrUserNotOnline):
		fmt.Printf("%s is not online...\n", username)
	case errors.Is(err, peer.ErrUserNotFound):
		fmt.Printf("%s is not found\n", username)
	default:
		fmt.Printf("Search failed: %v\n", err)
	}
}

func (c *console) onlineUsers() {
	if !c.node.LoggedIn() {
		fmt.Println("You need to log in to see online peers")
		return
	}
	users, err := c.node.OnlineUsers()
	if err != nil {
		fmt.Printf("Listing failed: %v\n", err)
		return
	}
	if len(users) == 0 {
		fmt.Println("No users online right now")
		return
	}
	for _, u := range users {
		fmt.Printf("  %s  %s:%d\n", u.Username, u.IP, u.Port)
	}
}

func (c *console) startChat() {
	if !c.node.LoggedIn() {
		fmt.Println("You must be logged in to start a chat")
		return
	}
	username, ok := c.prompt("Username to chat with: ")
	if !ok {
		return
	}

	sess, err := c.node.StartChat(username)
	switch {
	case err == nil:
		fmt.Println("Chat accepted, type messages (:q to quit)")
		c.chatLoop(sess)
	case errors.Is(err, peer.ErrPeerRejected):
		fmt.Println("Chat request rejected")
	case errors.Is(err, peer.ErrPeerBusy):
		fmt.Println("Peer is busy")
	default:
		fmt.Printf("Chat failed: %v\n", err)
	}
}

func (c *console) acceptChat() {
	sess, err := c.node.AcceptIncoming()
	if err != nil {
		fmt.Printf("Accept failed: %v\n", err)
		return
	}
	fmt.Println("Chat started, type messages (:q to quit)")
	c.chatLoop(sess)
}

func (c *console) rejectChat() {
	if err := c.node.RejectIncoming(); err != nil {
		fmt.Printf("Reject failed: %v\n", err)
	}
}

// chatLoop feeds typed lines into the session until either side ends the
// chat.
func (c *console) chatLoop(sess *peer.ChatSession) {
	defer sess.Close()

	for {
		line, ok := c.readLine()
		if !ok {
			sess.Send(protocol.QuitMarker)
			return
		}
		done, err := sess.Send(line)
		if err != nil {
			fmt.Printf("Send failed: %v\n", err)
			return
		}
		if done {
			return
		}
	}
}

func (c *console) createRoom() {
	if !c.node.LoggedIn() {
		fmt.Println("You need to be logged in to create a room")
		return
	}
	roomID, ok := c.prompt("Room ID: ")
	if !ok {
		return
	}

	resp, err := c.node.CreateRoom(roomID)
	if err != nil {
		fmt.Printf("Room creation failed: %v\n", err)
		return
	}
	switch resp {
	case protocol.RespRoomCreated:
		fmt.Println("Room created...")
	case protocol.RespRoomExist:
		fmt.Println("Room already exists")
	}
}

func (c *console) joinRoom() {
	if !c.node.LoggedIn() {
		fmt.Println("You should be logged in to join a room")
		return
	}
	roomID, ok := c.prompt("Room ID: ")
	if !ok {
		return
	}

	room, err := c.node.JoinRoom(roomID)
	switch {
	case errors.Is(err, peer.ErrRoomNotFound):
		fmt.Printf("%s is not found\n", roomID)
		return
	case err != nil:
		fmt.Printf("Join failed: %v\n", err)
		return
	}

	fmt.Println("You joined the room (:q to leave)")
	for {
		line, ok := c.readLine()
		if !ok || line == protocol.QuitMarker {
			if err := room.Leave(); err != nil {
				fmt.Printf("Leave failed: %v\n", err)
			}
			fmt.Println("Chat ended")
			return
		}
		if line == "" {
			continue
		}
		if err := room.Send(line); err != nil {
			fmt.Printf("Send failed: %v\n", err)
			room.Leave()
			return
		}
	}
}
