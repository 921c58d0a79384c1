package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Command
	}{
		{
			name: "join",
			line: "JOIN alice secretpw",
			want: Join{Username: "alice", Password: "secretpw"},
		},
		{
			name: "login",
			line: "LOGIN alice secretpw 4001",
			want: Login{Username: "alice", Password: "secretpw", Port: 4001},
		},
		{
			name: "logout with username",
			line: "LOGOUT alice",
			want: Logout{Username: "alice"},
		},
		{
			name: "bare logout",
			line: "LOGOUT",
			want: Logout{},
		},
		{
			name: "search",
			line: "SEARCH bob",
			want: Search{Username: "bob"},
		},
		{
			name: "online users",
			line: "ONLINE_USERS",
			want: OnlineUsers{},
		},
		{
			name: "create room",
			line: "CREATE room1",
			want: CreateRoom{RoomID: "room1"},
		},
		{
			name: "join room",
			line: "JOINROOM room1 4101",
			want: JoinRoom{RoomID: "room1", Port: 4101},
		},
		{
			name: "update room",
			line: "UPDATE room1",
			want: UpdateRoom{RoomID: "room1"},
		},
		{
			name: "exit room",
			line: "EXIT room1 4101",
			want: ExitRoom{RoomID: "room1", Port: 4101},
		},
		{
			name: "hello",
			line: "HELLO alice",
			want: Hello{Username: "alice"},
		},
		{
			name: "extra whitespace is tolerated",
			line: "  SEARCH   bob  ",
			want: Search{Username: "bob"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommandErrors(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr error
	}{
		{name: "empty line", line: "", wantErr: ErrEmptyLine},
		{name: "whitespace only", line: "   ", wantErr: ErrEmptyLine},
		{name: "unknown command", line: "FROB alice", wantErr: ErrUnknownCommand},
		{name: "join missing password", line: "JOIN alice", wantErr: ErrBadArity},
		{name: "login missing port", line: "LOGIN alice pw", wantErr: ErrBadArity},
		{name: "login non-numeric port", line: "LOGIN alice pw abc", wantErr: ErrBadPort},
		{name: "login port out of range", line: "LOGIN alice pw 70000", wantErr: ErrBadPort},
		{name: "logout too many fields", line: "LOGOUT alice now", wantErr: ErrBadArity},
		{name: "search no username", line: "SEARCH", wantErr: ErrBadArity},
		{name: "online users with args", line: "ONLINE_USERS all", wantErr: ErrBadArity},
		{name: "joinroom bad port", line: "JOINROOM room1 zero", wantErr: ErrBadPort},
		{name: "exit missing port", line: "EXIT room1", wantErr: ErrBadArity},
		{name: "hello missing username", line: "HELLO", wantErr: ErrBadArity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCommand(tt.line)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	lines := map[string]Command{
		FormatJoin("alice", "pw"):         Join{Username: "alice", Password: "pw"},
		FormatLogin("alice", "pw", 4001):  Login{Username: "alice", Password: "pw", Port: 4001},
		FormatLogout("alice"):             Logout{Username: "alice"},
		FormatLogout(""):                  Logout{},
		FormatSearch("bob"):               Search{Username: "bob"},
		FormatCreateRoom("room1"):         CreateRoom{RoomID: "room1"},
		FormatJoinRoom("room1", 4101):     JoinRoom{RoomID: "room1", Port: 4101},
		FormatUpdateRoom("room1"):         UpdateRoom{RoomID: "room1"},
		FormatExitRoom("room1", 4101):     ExitRoom{RoomID: "room1", Port: 4101},
		FormatHello("alice"):              Hello{Username: "alice"},
	}

	for line, want := range lines {
		got, err := ParseCommand(line)
		require.NoError(t, err, "line %q", line)
		assert.Equal(t, want, got, "line %q", line)
	}
}
