package session

import (
	"testing"
	"time"
)

func TestHeartbeat_ActivatesSession(t *testing.T) {
	m := New(30 * time.Second)
	now := time.Now()
	m.Heartbeat(now)

	s := m.State()
	if !s.Active {
		t.Fatal("session should be active after heartbeat")
	}
	if !s.LastSeen.Equal(now) {
		t.Errorf("LastSeen = %v, want %v", s.LastSeen, now)
	}
}

func TestCheckTimeout_NeverFiresBeforeFirstHeartbeat(t *testing.T) {
	m := New(30 * time.Second)
	fired, state := m.CheckTimeout(time.Now())
	if fired || state.Active {
		t.Fatal("a session with no heartbeats should never be active or fire timeout")
	}
}

func TestCheckTimeout_FiresOnceOnExpiry(t *testing.T) {
	m := New(30 * time.Second)
	start := time.Now()
	m.Heartbeat(start)

	fired, state := m.CheckTimeout(start.Add(31 * time.Second))
	if !fired {
		t.Fatal("expected timeout to fire after exceeding remote_session_timeout_s")
	}
	if state.Active {
		t.Error("state should report inactive after timeout fires")
	}

	fired, _ = m.CheckTimeout(start.Add(32 * time.Second))
	if fired {
		t.Fatal("timeout must fire exactly once per expiry, not on every poll")
	}
}

func TestCheckTimeout_FreshHeartbeatReactivates(t *testing.T) {
	m := New(30 * time.Second)
	start := time.Now()
	m.Heartbeat(start)
	m.CheckTimeout(start.Add(31 * time.Second))

	m.Heartbeat(start.Add(40 * time.Second))
	if !m.State().Active {
		t.Fatal("a fresh heartbeat should reactivate an expired session")
	}

	fired, _ := m.CheckTimeout(start.Add(41 * time.Second))
	if fired {
		t.Fatal("should not fire timeout immediately after reactivation")
	}
}

func TestCheckTimeout_WithinWindowStaysActive(t *testing.T) {
	m := New(30 * time.Second)
	start := time.Now()
	m.Heartbeat(start)

	fired, state := m.CheckTimeout(start.Add(10 * time.Second))
	if fired || !state.Active {
		t.Error("session within timeout window should remain active")
	}
}
