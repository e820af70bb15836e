// Package gate admits or rejects connections and signaling messages using
// fixed-window counters. Windows reset wholesale, so a client can burst up
// to twice its limit across a window boundary; that looseness is accepted
// in exchange for constant-size per-key state.
package gate

import (
	"sync"
	"time"

	apperrors "tipcast/pkg/errors"
	"tipcast/pkg/scheduler"
)

// Limits configures the three admission counters.
type Limits struct {
	ConnectionsPerIP   int
	ConnectionsPerUser int
	MessagesPerUser    int
	Window             time.Duration
}

type bucket struct {
	count   int
	resetAt time.Time
}

// window is one fixed-window counter keyed by an arbitrary string.
type window struct {
	mu      sync.Mutex
	limit   int
	span    time.Duration
	clock   scheduler.Clock
	buckets map[string]*bucket
}

func newWindow(limit int, span time.Duration, clock scheduler.Clock) *window {
	return &window{
		limit:   limit,
		span:    span,
		clock:   clock,
		buckets: make(map[string]*bucket),
	}
}

// allow counts one event against key. Returns false once the key has used
// its full allowance for the current window.
func (w *window) allow(key string) bool {
	now := w.clock.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	b, ok := w.buckets[key]
	if !ok || now.After(b.resetAt) {
		b = &bucket{resetAt: now.Add(w.span)}
		w.buckets[key] = b
	}
	if b.count >= w.limit {
		return false
	}
	b.count++
	return true
}

// prune drops buckets whose window has expired.
func (w *window) prune() {
	now := w.clock.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	for key, b := range w.buckets {
		if now.After(b.resetAt) {
			delete(w.buckets, key)
		}
	}
}

func (w *window) size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buckets)
}

// Gate owns the per-IP connection, per-user connection, and per-user message
// counters for the signaling frontend.
type Gate struct {
	ipConns   *window
	userConns *window
	userMsgs  *window
}

// New creates a gate with the given limits and clock.
func New(limits Limits, clock scheduler.Clock) *Gate {
	return &Gate{
		ipConns:   newWindow(limits.ConnectionsPerIP, limits.Window, clock),
		userConns: newWindow(limits.ConnectionsPerUser, limits.Window, clock),
		userMsgs:  newWindow(limits.MessagesPerUser, limits.Window, clock),
	}
}

// AdmitConnection checks both the IP and the user counters for one new
// connection attempt. Both counters are charged even if one rejects, which
// keeps a single abusive source from probing the other limit for free.
func (g *Gate) AdmitConnection(ip, userID string) error {
	ipOK := g.ipConns.allow(ip)
	userOK := g.userConns.allow(userID)
	if !ipOK {
		return apperrors.NewRateLimitError("too many connections from this address").
			WithContext("scope", "ip")
	}
	if !userOK {
		return apperrors.NewRateLimitError("too many connections for this user").
			WithContext("scope", "user")
	}
	return nil
}

// AdmitMessage checks the per-user message counter for one inbound signaling
// message.
func (g *Gate) AdmitMessage(userID string) error {
	if !g.userMsgs.allow(userID) {
		return apperrors.NewRateLimitError("message rate exceeded").
			WithContext("scope", "user")
	}
	return nil
}

// Prune drops expired buckets across all counters. Run periodically.
func (g *Gate) Prune() {
	g.ipConns.prune()
	g.userConns.prune()
	g.userMsgs.prune()
}

// TrackedKeys reports the number of live buckets, for monitoring.
func (g *Gate) TrackedKeys() int {
	return g.ipConns.size() + g.userConns.size() + g.userMsgs.size()
}
