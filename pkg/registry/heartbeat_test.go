package registry

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestHeartbeatExpiresWithoutReset(t *testing.T) {
	clk := clock.NewMock()
	var fired atomic.Int32

	h := NewHeartbeatSupervisor(clk, 3*time.Second, func() { fired.Add(1) })

	clk.Add(2 * time.Second)
	if fired.Load() != 0 {
		t.Fatal("Supervisor fired before the timeout")
	}

	clk.Add(2 * time.Second)
	if fired.Load() != 1 {
		t.Fatalf("Expected exactly one expiry, got %d", fired.Load())
	}

	// Stays fired-once even as time keeps passing
	clk.Add(10 * time.Second)
	if fired.Load() != 1 {
		t.Fatalf("Expiry fired again: %d", fired.Load())
	}

	_ = h
}

func TestHeartbeatResetDefersExpiry(t *testing.T) {
	clk := clock.NewMock()
	var fired atomic.Int32

	h := NewHeartbeatSupervisor(clk, 3*time.Second, func() { fired.Add(1) })

	// Keep resetting just before the deadline
	for i := 0; i < 5; i++ {
		clk.Add(2 * time.Second)
		h.Reset()
	}
	if fired.Load() != 0 {
		t.Fatal("Supervisor fired despite resets")
	}

	clk.Add(4 * time.Second)
	if fired.Load() != 1 {
		t.Fatalf("Expected expiry after resets stopped, got %d", fired.Load())
	}
}

func TestHeartbeatStopPreventsExpiry(t *testing.T) {
	clk := clock.NewMock()
	var fired atomic.Int32

	h := NewHeartbeatSupervisor(clk, 3*time.Second, func() { fired.Add(1) })
	h.Stop()

	clk.Add(10 * time.Second)
	if fired.Load() != 0 {
		t.Fatal("Stopped supervisor still fired")
	}

	// Reset after Stop stays inert
	h.Reset()
	clk.Add(10 * time.Second)
	if fired.Load() != 0 {
		t.Fatal("Reset revived a stopped supervisor")
	}
}
