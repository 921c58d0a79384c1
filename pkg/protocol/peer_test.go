package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeerMessage(t *testing.T) {
	tests := []struct {
		name string
		line string
		want PeerMessage
	}{
		{
			name: "chat request",
			line: "CHAT-REQUEST 4001 alice",
			want: ChatRequest{Port: 4001, Username: "alice"},
		},
		{
			name: "bare ok",
			line: "OK",
			want: Accept{},
		},
		{
			name: "ok with username",
			line: "OK bob",
			want: Accept{Username: "bob"},
		},
		{
			name: "reject",
			line: "REJECT",
			want: Reject{},
		},
		{
			name: "busy",
			line: "BUSY",
			want: Busy{},
		},
		{
			name: "bare quit",
			line: ":q",
			want: Quit{Notice: true},
		},
		{
			name: "quit from ending side",
			line: ":q ending-side",
			want: Quit{Notice: false},
		},
		{
			name: "chat text",
			line: "hello there, how are you?",
			want: Text{Body: "hello there, how are you?"},
		},
		{
			name: "text mentioning OKRs stays text",
			line: "OKRs are due friday",
			want: Text{Body: "OKRs are due friday"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePeerMessage(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePeerMessageMalformedChatRequest(t *testing.T) {
	_, err := ParsePeerMessage("CHAT-REQUEST 4001")
	assert.ErrorIs(t, err, ErrBadArity)

	_, err = ParsePeerMessage("CHAT-REQUEST notaport alice")
	assert.ErrorIs(t, err, ErrBadPort)
}

func TestFormatChatRequestRoundTrip(t *testing.T) {
	line := FormatChatRequest(4001, "alice")
	assert.Equal(t, "CHAT-REQUEST 4001 alice", line)

	msg, err := ParsePeerMessage(line)
	require.NoError(t, err)
	assert.Equal(t, ChatRequest{Port: 4001, Username: "alice"}, msg)
}

func TestFormatAccept(t *testing.T) {
	assert.Equal(t, "OK", FormatAccept(""))
	assert.Equal(t, "OK bob", FormatAccept("bob"))
}
