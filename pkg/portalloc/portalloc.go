// Package portalloc leases ephemeral ports for peer sockets out of a fixed
// range. The range is split into two equal pools, one for login (chat)
// sockets and one for room sockets; a leased port is never handed out again
// until it is explicitly released.
package portalloc

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
)

var (
	// ErrExhausted indicates the pool has no available ports left.
	ErrExhausted = errors.New("port pool exhausted")
	// ErrNotLeased indicates a release of a port that was never leased.
	// Releasing such a port is a contract violation, not a no-op: silently
	// accepting it would allow the same port to be leased twice.
	ErrNotLeased = errors.New("port is not currently leased")
	// ErrOutOfRange indicates a port outside the allocator's configured range.
	ErrOutOfRange = errors.New("port is outside the allocator's range")
)

// Pool selects which partition of the port range to lease from.
type Pool int

const (
	// LoginPool holds ports for peer chat listeners.
	LoginPool Pool = iota
	// RoomPool holds ports for peer room (UDP) sockets.
	RoomPool
)

func (p Pool) String() string {
	switch p {
	case LoginPool:
		return "login"
	case RoomPool:
		return "room"
	default:
		return fmt.Sprintf("pool(%d)", int(p))
	}
}

type pool struct {
	available map[int]struct{}
	leased    map[int]struct{}
	lo, hi    int // inclusive range owned by this pool
}

// Allocator partitions [base, base+2*size) into a login pool and a room pool.
type Allocator struct {
	mu    sync.Mutex
	pools [2]*pool
	rng   *rand.Rand
}

// New creates an allocator over size ports per pool starting at base.
func New(base, size int) (*Allocator, error) {
	if base < 1 || size < 1 || base+2*size-1 > 65535 {
		return nil, fmt.Errorf("invalid port range: base %d, size %d", base, size)
	}

	a := &Allocator{
		rng: rand.New(rand.NewSource(rand.Int63())),
	}
	a.pools[LoginPool] = newPool(base, size)
	a.pools[RoomPool] = newPool(base+size, size)
	return a, nil
}

func newPool(lo, size int) *pool {
	p := &pool{
		available: make(map[int]struct{}, size),
		leased:    make(map[int]struct{}),
		lo:        lo,
		hi:        lo + size - 1,
	}
	for port := p.lo; port <= p.hi; port++ {
		p.available[port] = struct{}{}
	}
	return p
}

// Lease removes a uniformly random port from the pool's available set and
// marks it leased. Returns ErrExhausted when the pool is empty.
func (a *Allocator) Lease(which Pool) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.pools[which]
	if len(p.available) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrExhausted, which)
	}

	// Uniform pick over the available set. Pool sizes are small (order of
	// max-users), so a linear walk to the nth key is fine.
	n := a.rng.Intn(len(p.available))
	var port int
	for port = range p.available {
		if n == 0 {
			break
		}
		n--
	}

	delete(p.available, port)
	p.leased[port] = struct{}{}
	return port, nil
}

// Release returns a leased port to the pool's available set. Releasing a
// port that is not currently leased fails with ErrNotLeased; a port outside
// the pool's range fails with ErrOutOfRange.
func (a *Allocator) Release(which Pool, port int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.pools[which]
	if port < p.lo || port > p.hi {
		return fmt.Errorf("%w: %d not in %s pool [%d, %d]", ErrOutOfRange, port, which, p.lo, p.hi)
	}
	if _, ok := p.leased[port]; !ok {
		return fmt.Errorf("%w: %d in %s pool", ErrNotLeased, port, which)
	}

	delete(p.leased, port)
	p.available[port] = struct{}{}
	return nil
}

// Available reports how many ports remain leasable in a pool.
func (a *Allocator) Available(which Pool) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pools[which].available)
}

// Leased reports how many ports are currently out on lease in a pool.
func (a *Allocator) Leased(which Pool) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pools[which].leased)
}
