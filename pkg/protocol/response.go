package protocol

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Registry response vocabulary. These are the exact wire strings; clients
// match on the first field of the response line.
const (
	RespJoinSuccess     = "join-success"
	RespJoinExist       = "join-exist"
	RespLoginSuccess    = "login-success"
	RespLoginNotExist   = "login-account-not-exist"
	RespLoginOnline     = "login-online"
	RespLoginWrongPass  = "login-wrong-password"
	RespSearchSuccess   = "search-success"
	RespSearchNotOnline = "search-user-not-online"
	RespSearchNotFound  = "search-user-not-found"
	RespRoomCreated     = "creation-success"
	RespRoomExist       = "room-exist"
	RespRoomSuccess     = "success"
	RespRoomNotFound    = "search-fail"
	RespRoomUpdated     = "updated"
	RespRoomExitOK      = "SUCCESS"
)

// FormatSearchSuccess builds the positive SEARCH response, "search-success ip:port".
func FormatSearchSuccess(ip string, port int) string {
	return fmt.Sprintf("%s %s:%d", RespSearchSuccess, ip, port)
}

// ParsePeerAddr splits the ip:port payload of a search-success response.
func ParsePeerAddr(addr string) (string, int, error) {
	host, portStr, ok := strings.Cut(addr, ":")
	if !ok || host == "" {
		return "", 0, fmt.Errorf("malformed peer address %q", addr)
	}
	port, err := parsePort(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

// FormatPortList renders a room peer set as a status word followed by
// space-delimited ports, sorted for stable output: "success 4001 4002".
func FormatPortList(status string, ports []int) string {
	sorted := make([]int, len(ports))
	copy(sorted, ports)
	sort.Ints(sorted)

	var b strings.Builder
	b.WriteString(status)
	for _, p := range sorted {
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(p))
	}
	return b.String()
}

// ParsePortList parses a response of the form "<status> <port> <port> ...".
func ParsePortList(line string) (status string, ports []int, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil, ErrEmptyLine
	}
	ports = make([]int, 0, len(fields)-1)
	for _, f := range fields[1:] {
		port, err := parsePort(f)
		if err != nil {
			return "", nil, err
		}
		ports = append(ports, port)
	}
	return fields[0], ports, nil
}

// OnlineUser is one entry of the ONLINE_USERS directory listing.
type OnlineUser struct {
	Username string `json:"username"`
	IP       string `json:"ip"`
	Port     int    `json:"port"`
}

// EncodeOnlineUsers serializes the directory listing as a single JSON line.
func EncodeOnlineUsers(users []OnlineUser) (string, error) {
	if users == nil {
		users = []OnlineUser{}
	}
	data, err := json.Marshal(users)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeOnlineUsers parses the JSON directory listing line.
func DecodeOnlineUsers(line string) ([]OnlineUser, error) {
	var users []OnlineUser
	if err := json.Unmarshal([]byte(line), &users); err != nil {
		return nil, fmt.Errorf("malformed online user listing: %w", err)
	}
	return users, nil
}
