package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchSuccessRoundTrip(t *testing.T) {
	line := FormatSearchSuccess("192.168.1.5", 4001)
	assert.Equal(t, "search-success 192.168.1.5:4001", line)

	status, payload, found := cutResponse(line)
	require.True(t, found)
	assert.Equal(t, RespSearchSuccess, status)

	ip, port, err := ParsePeerAddr(payload)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.5", ip)
	assert.Equal(t, 4001, port)
}

func cutResponse(line string) (status, rest string, ok bool) {
	for i := 0; i < len(line); i++ {
		if line[i] == ' ' {
			return line[:i], line[i+1:], true
		}
	}
	return line, "", line != ""
}

func TestParsePeerAddrErrors(t *testing.T) {
	for _, addr := range []string{"", "noport", ":4001", "host:", "host:abc", "host:0"} {
		_, _, err := ParsePeerAddr(addr)
		assert.Error(t, err, "addr %q", addr)
	}
}

func TestPortListRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		ports []int
		want  string
	}{
		{name: "empty set", ports: nil, want: "success"},
		{name: "single port", ports: []int{4101}, want: "success 4101"},
		{name: "sorted output", ports: []int{4103, 4101, 4102}, want: "success 4101 4102 4103"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := FormatPortList(RespRoomSuccess, tt.ports)
			assert.Equal(t, tt.want, line)

			status, ports, err := ParsePortList(line)
			require.NoError(t, err)
			assert.Equal(t, RespRoomSuccess, status)
			assert.Len(t, ports, len(tt.ports))
		})
	}
}

func TestParsePortListRejectsBadPorts(t *testing.T) {
	_, _, err := ParsePortList("updated 4101 bogus")
	assert.ErrorIs(t, err, ErrBadPort)

	_, _, err = ParsePortList("")
	assert.ErrorIs(t, err, ErrEmptyLine)
}

func TestOnlineUsersEncoding(t *testing.T) {
	users := []OnlineUser{
		{Username: "alice", IP: "10.0.0.1", Port: 4001},
		{Username: "bob", IP: "10.0.0.2", Port: 4002},
	}

	line, err := EncodeOnlineUsers(users)
	require.NoError(t, err)

	decoded, err := DecodeOnlineUsers(line)
	require.NoError(t, err)
	assert.Equal(t, users, decoded)
}

func TestOnlineUsersEncodesNilAsEmptyList(t *testing.T) {
	line, err := EncodeOnlineUsers(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", line)

	decoded, err := DecodeOnlineUsers(line)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestDecodeOnlineUsersMalformed(t *testing.T) {
	_, err := DecodeOnlineUsers("not json at all")
	assert.Error(t, err)
}
