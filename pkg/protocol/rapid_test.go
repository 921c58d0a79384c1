package protocol

import (
	"sort"
	"testing"

	"pgregory.net/rapid"
)

// TestPortListRoundTrip tests that any set of valid ports survives the
// format/parse cycle and comes back sorted.
func TestPortListRoundTripRapid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ports := rapid.SliceOfN(rapid.IntRange(1, 65535), 0, 64).Draw(t, "ports")

		line := FormatPortList(RespRoomUpdated, ports)
		status, parsed, err := ParsePortList(line)
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		if status != RespRoomUpdated {
			t.Fatalf("status mismatch: got %q", status)
		}
		if len(parsed) != len(ports) {
			t.Fatalf("length mismatch: got %d, want %d", len(parsed), len(ports))
		}

		want := make([]int, len(ports))
		copy(want, ports)
		sort.Ints(want)
		for i := range want {
			if parsed[i] != want[i] {
				t.Fatalf("port %d mismatch: got %d, want %d", i, parsed[i], want[i])
			}
		}
	})
}

// TestChatRequestRoundTripRapid tests the handshake opener for arbitrary
// ports and usernames without whitespace.
func TestChatRequestRoundTripRapid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.IntRange(1, 65535).Draw(t, "port")
		username := rapid.StringMatching(`[a-zA-Z0-9_-]{1,20}`).Draw(t, "username")

		msg, err := ParsePeerMessage(FormatChatRequest(port, username))
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}

		req, ok := msg.(ChatRequest)
		if !ok {
			t.Fatalf("expected ChatRequest, got %T", msg)
		}
		if req.Port != port || req.Username != username {
			t.Fatalf("round-trip mismatch: got %+v", req)
		}
	})
}
