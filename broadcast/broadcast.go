// Package broadcast is the decoupling seam between the request pipeline and
// the session facade: the gateway announces refreshed tokens and cleared
// sessions here, and interested components subscribe without a direct
// call-graph dependency.
package broadcast

import (
	"sync"

	"github.com/gestionactiva/go-activa-client/session"
)

// TokenRefreshed is published after a successful token refresh has been
// persisted. Identity may be nil when the refresh response carried no user.
type TokenRefreshed struct {
	Credential session.Credential
	Identity   *session.Identity
}

// SessionCleared is published whenever the stored session is purged:
// explicit logout, refresh failure, or an authorization-denied response.
type SessionCleared struct {
	Reason string
}

// Clear reasons.
const (
	ReasonLogout       = "logout"
	ReasonUnauthorized = "unauthorized"
	ReasonRefreshFail  = "refresh_failed"
	ReasonInactivity   = "inactivity"
	ReasonStale        = "stale_session"
)

// Hub is a process-wide observer list. Callbacks run synchronously on the
// publishing goroutine and must not block.
type Hub struct {
	mu          sync.Mutex
	nextID      int
	refreshSubs map[int]func(TokenRefreshed)
	clearedSubs map[int]func(SessionCleared)
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		refreshSubs: make(map[int]func(TokenRefreshed)),
		clearedSubs: make(map[int]func(SessionCleared)),
	}
}

// SubscribeRefreshed registers fn for TokenRefreshed events and returns an
// unsubscribe function.
func (h *Hub) SubscribeRefreshed(fn func(TokenRefreshed)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.refreshSubs[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.refreshSubs, id)
	}
}

// SubscribeCleared registers fn for SessionCleared events and returns an
// unsubscribe function.
func (h *Hub) SubscribeCleared(fn func(SessionCleared)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.clearedSubs[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.clearedSubs, id)
	}
}

// PublishRefreshed delivers the event to all current subscribers.
func (h *Hub) PublishRefreshed(ev TokenRefreshed) {
	for _, fn := range h.refreshedSnapshot() {
		fn(ev)
	}
}

// PublishCleared delivers the event to all current subscribers.
func (h *Hub) PublishCleared(ev SessionCleared) {
	for _, fn := range h.clearedSnapshot() {
		fn(ev)
	}
}

// Snapshots are taken under the lock so a callback may unsubscribe (or
// subscribe) without deadlocking the publish.
func (h *Hub) refreshedSnapshot() []func(TokenRefreshed) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := make([]func(TokenRefreshed), 0, len(h.refreshSubs))
	for _, fn := range h.refreshSubs {
		subs = append(subs, fn)
	}
	return subs
}

func (h *Hub) clearedSnapshot() []func(SessionCleared) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := make([]func(SessionCleared), 0, len(h.clearedSubs))
	for _, fn := range h.clearedSubs {
		subs = append(subs, fn)
	}
	return subs
}
