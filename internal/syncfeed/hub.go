package syncfeed

import "sync"

// Hub is the in-process publish point for "a transaction touching this
// owner's sync feed just committed". The publishing side just announces
// the owner_user_id on commit, and lets per-viewer tasks re-query by
// cursor range — this avoids holding a database connection per WebSocket
// viewer. A LISTEN/NOTIFY-backed Hub would satisfy the same interface.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan struct{}]struct{})}
}

// Publish wakes every subscriber registered for ownerUserID. Call this only
// after the transaction that produced the new cursor has committed.
func (h *Hub) Publish(ownerUserID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[ownerUserID] {
		select {
		case ch <- struct{}{}:
		default:
			// Subscriber already has a pending wake-up; coalescing is fine
			// since the subscriber always re-pulls by cursor, not by event.
		}
	}
}

// Subscribe registers a wake-up channel for ownerUserID and returns it along
// with an unsubscribe function.
func (h *Hub) Subscribe(ownerUserID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	h.mu.Lock()
	if h.subs[ownerUserID] == nil {
		h.subs[ownerUserID] = make(map[chan struct{}]struct{})
	}
	h.subs[ownerUserID][ch] = struct{}{}
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		delete(h.subs[ownerUserID], ch)
		if len(h.subs[ownerUserID]) == 0 {
			delete(h.subs, ownerUserID)
		}
		h.mu.Unlock()
	}
	return ch, unsubscribe
}
