package registry

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// HeartbeatSupervisor watches one authenticated session for liveness. It is
// armed immediately on construction; every inbound HELLO resets the timer,
// and if the timer fires with no reset the expiry callback deregisters the
// peer. The callback runs at most once, and never after Stop returns.
type HeartbeatSupervisor struct {
	clk     clock.Clock
	timeout time.Duration

	mu       sync.Mutex
	timer    *clock.Timer
	stopped  bool
	onExpire func()
}

// NewHeartbeatSupervisor starts a supervisor whose timer is already running.
func NewHeartbeatSupervisor(clk clock.Clock, timeout time.Duration, onExpire func()) *HeartbeatSupervisor {
	h := &HeartbeatSupervisor{
		clk:      clk,
		timeout:  timeout,
		onExpire: onExpire,
	}
	h.timer = clk.AfterFunc(timeout, h.expire)
	return h
}

// Reset cancels the pending timer and reschedules a fresh one. Resetting a
// stopped supervisor is a no-op.
func (h *HeartbeatSupervisor) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return
	}
	h.timer.Stop()
	h.timer = h.clk.AfterFunc(h.timeout, h.expire)
}

// Stop cancels the supervisor. Called on logout and disconnect so the expiry
// callback cannot race an explicit deregistration.
func (h *HeartbeatSupervisor) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopped = true
	h.timer.Stop()
}

func (h *HeartbeatSupervisor) expire() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()

	// Run the callback outside the lock: it calls back into Stop via the
	// deregistration path.
	h.onExpire()
}
