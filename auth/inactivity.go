package auth

import (
	"sync"
	"time"
)

// Monitor forces a logout after a fixed window without user interaction.
// It is either idle (no timer) or armed (one timer running); rearming
// always cancels the previous timer first, so at most one is outstanding.
type Monitor struct {
	mu        sync.Mutex
	window    time.Duration
	onTimeout func()
	timer     *time.Timer
}

// NewMonitor creates an idle monitor. onTimeout runs on the timer's
// goroutine when the window elapses without a Touch.
func NewMonitor(window time.Duration, onTimeout func()) *Monitor {
	return &Monitor{
		window:    window,
		onTimeout: onTimeout,
	}
}

// Arm starts (or restarts) the inactivity window from now.
func (m *Monitor) Arm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.window, m.fire)
}

// Touch resets the window after a tracked interaction. It does nothing
// while idle: interactions without a session must not start a timer.
func (m *Monitor) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer == nil {
		return
	}
	m.timer.Stop()
	m.timer = time.AfterFunc(m.window, m.fire)
}

// Disarm cancels the pending timer, returning the monitor to idle.
func (m *Monitor) Disarm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Armed reports whether a timer is currently outstanding.
func (m *Monitor) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}

func (m *Monitor) fire() {
	m.mu.Lock()
	if m.timer == nil {
		// Disarmed after the timer fired but before we got here.
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()
	m.onTimeout()
}
