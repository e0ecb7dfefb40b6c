// Package session implements the remote-operator liveness manager
// (spec.md §4.5): the single authoritative owner of whether a remote
// supervision session is active, driven by heartbeats and an
// inactivity timeout polled from the orchestrator's main loop.
package session

import (
	"sync"
	"time"
)

// State is a point-in-time liveness snapshot.
type State struct {
	Active   bool
	LastSeen time.Time
}

// Manager tracks remote session liveness. The HTTP adapter only calls
// Heartbeat; it never calls Expire or otherwise declares the session
// dead — that is the orchestrator's job, polling CheckTimeout on its
// own schedule and reacting to the bool it returns.
type Manager struct {
	timeout time.Duration

	mu       sync.Mutex
	active   bool
	lastSeen time.Time
}

// New returns a Manager with the given inactivity timeout. The session
// starts inactive; the first Heartbeat call activates it.
func New(timeout time.Duration) *Manager {
	return &Manager{timeout: timeout}
}

// Heartbeat records now as the most recent contact and activates the
// session if it was not already active.
func (m *Manager) Heartbeat(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = true
	m.lastSeen = now
}

// State returns a copy of the current liveness state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{Active: m.active, LastSeen: m.lastSeen}
}

// CheckTimeout compares now against the last heartbeat and, if the
// session was active but has exceeded the inactivity timeout,
// transitions it to inactive and returns true exactly once for that
// transition (spec.md: "publish a session-change event once"). A
// session that is already inactive, or one with no heartbeat yet,
// never fires.
func (m *Manager) CheckTimeout(now time.Time) (fired bool, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return false, State{Active: m.active, LastSeen: m.lastSeen}
	}
	if now.Sub(m.lastSeen) <= m.timeout {
		return false, State{Active: m.active, LastSeen: m.lastSeen}
	}

	m.active = false
	return true, State{Active: m.active, LastSeen: m.lastSeen}
}
