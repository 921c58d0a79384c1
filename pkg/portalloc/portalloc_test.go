package portalloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNewPartitionsRange(t *testing.T) {
	a, err := New(4000, 100)
	require.NoError(t, err)

	assert.Equal(t, 100, a.Available(LoginPool))
	assert.Equal(t, 100, a.Available(RoomPool))
	assert.Zero(t, a.Leased(LoginPool))
	assert.Zero(t, a.Leased(RoomPool))
}

func TestNewRejectsBadRanges(t *testing.T) {
	_, err := New(0, 10)
	assert.Error(t, err)

	_, err = New(4000, 0)
	assert.Error(t, err)

	// 2*size would run past the max port number
	_, err = New(65000, 1000)
	assert.Error(t, err)
}

func TestLeaseAndRelease(t *testing.T) {
	a, err := New(4000, 10)
	require.NoError(t, err)

	port, err := a.Lease(LoginPool)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, port, 4000)
	assert.LessOrEqual(t, port, 4009)
	assert.Equal(t, 9, a.Available(LoginPool))
	assert.Equal(t, 1, a.Leased(LoginPool))

	// Room pool is untouched by a login lease
	assert.Equal(t, 10, a.Available(RoomPool))

	require.NoError(t, a.Release(LoginPool, port))
	assert.Equal(t, 10, a.Available(LoginPool))
	assert.Zero(t, a.Leased(LoginPool))
}

func TestLeaseExhaustion(t *testing.T) {
	a, err := New(4000, 3)
	require.NoError(t, err)

	seen := make(map[int]bool)
	for i := 0; i < 3; i++ {
		port, err := a.Lease(RoomPool)
		require.NoError(t, err)
		assert.False(t, seen[port], "port %d leased twice", port)
		seen[port] = true
	}

	_, err = a.Lease(RoomPool)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestReleaseContractViolations(t *testing.T) {
	a, err := New(4000, 10)
	require.NoError(t, err)

	// Never leased
	assert.ErrorIs(t, a.Release(LoginPool, 4005), ErrNotLeased)

	// Outside the pool's range entirely
	assert.ErrorIs(t, a.Release(LoginPool, 9999), ErrOutOfRange)

	// Double release
	port, err := a.Lease(LoginPool)
	require.NoError(t, err)
	require.NoError(t, a.Release(LoginPool, port))
	assert.ErrorIs(t, a.Release(LoginPool, port), ErrNotLeased)
}

func TestReleasedPortIsLeasableAgain(t *testing.T) {
	a, err := New(4000, 1)
	require.NoError(t, err)

	port, err := a.Lease(LoginPool)
	require.NoError(t, err)

	_, err = a.Lease(LoginPool)
	require.ErrorIs(t, err, ErrExhausted)

	require.NoError(t, a.Release(LoginPool, port))

	again, err := a.Lease(LoginPool)
	require.NoError(t, err)
	assert.Equal(t, port, again)
}

// TestAllocatorInvariants drives random lease/release sequences and checks
// that available+leased always equals the pool size and no port is ever
// double-leased.
func TestAllocatorInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		const size = 8
		a, err := New(4000, size)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}

		leased := make(map[int]bool)
		steps := rapid.IntRange(1, 100).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if rapid.Bool().Draw(t, "lease") {
				port, err := a.Lease(LoginPool)
				if err != nil {
					if len(leased) != size {
						t.Fatalf("exhausted with only %d leased", len(leased))
					}
					continue
				}
				if leased[port] {
					t.Fatalf("port %d double-leased", port)
				}
				leased[port] = true
			} else if len(leased) > 0 {
				var port int
				for port = range leased {
					break
				}
				if err := a.Release(LoginPool, port); err != nil {
					t.Fatalf("release of leased port %d failed: %v", port, err)
				}
				delete(leased, port)
			}

			if a.Available(LoginPool)+a.Leased(LoginPool) != size {
				t.Fatalf("pool leaked: %d available, %d leased",
					a.Available(LoginPool), a.Leased(LoginPool))
			}
		}
	})
}
