package stream

import (
	"sync"

	"marketflow-engine/internal/market"
	"marketflow-engine/internal/metrics"
)

// Registry holds one venue's authoritative desired subscription set and
// the reverse map of where each key is currently seated. The facade owns
// the desired set; the pool owns the seats. Every read the reconnect path
// takes is a snapshot copy, never a live map.
type Registry struct {
	vn market.Venue

	mu      sync.Mutex
	desired map[market.Subscription]struct{}
	seats   map[market.Subscription]string
}

// NewRegistry creates an empty registry for one venue
func NewRegistry(vn market.Venue) *Registry {
	return &Registry{
		vn:      vn,
		desired: make(map[market.Subscription]struct{}),
		seats:   make(map[market.Subscription]string),
	}
}

// Want adds a key to the desired set. Returns false when it was already
// present, which makes repeated subscribes no-ops.
func (r *Registry) Want(sub market.Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.desired[sub]; ok {
		return false
	}
	r.desired[sub] = struct{}{}
	metrics.SetSubscriptionsDesired(string(r.vn), len(r.desired))
	return true
}

// Drop removes a key from the desired set. Returns false when absent.
func (r *Registry) Drop(sub market.Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.desired[sub]; !ok {
		return false
	}
	delete(r.desired, sub)
	metrics.SetSubscriptionsDesired(string(r.vn), len(r.desired))
	return true
}

// Contains reports whether a key is desired
func (r *Registry) Contains(sub market.Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.desired[sub]
	return ok
}

// Size returns the desired-set size
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.desired)
}

// Desired returns a snapshot copy of the desired set
func (r *Registry) Desired() []market.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]market.Subscription, 0, len(r.desired))
	for sub := range r.desired {
		out = append(out, sub)
	}
	return out
}

// Seat records which connection carries a key
func (r *Registry) Seat(sub market.Subscription, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seats[sub] = connID
}

// Unseat clears a key's seat
func (r *Registry) Unseat(sub market.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seats, sub)
}

// SeatOf returns the connection carrying a key
func (r *Registry) SeatOf(sub market.Subscription) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.seats[sub]
	return id, ok
}

// ClearConn unseats every key carried by one connection and returns them.
// The close handler calls this before the reconnect path replays the set.
func (r *Registry) ClearConn(connID string) []market.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []market.Subscription
	for sub, id := range r.seats {
		if id == connID {
			out = append(out, sub)
			delete(r.seats, sub)
		}
	}
	return out
}

// Unseated returns the desired keys that currently have no live seat
func (r *Registry) Unseated() []market.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []market.Subscription
	for sub := range r.desired {
		if _, seated := r.seats[sub]; !seated {
			out = append(out, sub)
		}
	}
	return out
}
