package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PeerLimiter rate limits Connect attempts per peer address
type PeerLimiter struct {
	mu       sync.Mutex
	limiters map[string]*peerEntry
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
}

type peerEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewPeerLimiter allows perSecond attempts per peer with the given burst.
// perSecond <= 0 disables limiting.
func NewPeerLimiter(perSecond float64, burst int) *PeerLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &PeerLimiter{
		limiters: make(map[string]*peerEntry),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idleTTL:  10 * time.Minute,
		now:      time.Now,
	}
}

// Allow reports whether peer may attempt a Connect now
func (l *PeerLimiter) Allow(peer string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.limiters[peer]
	if !ok {
		l.evictIdleLocked(now)
		entry = &peerEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[peer] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Peers returns the number of tracked peers
func (l *PeerLimiter) Peers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *PeerLimiter) evictIdleLocked(now time.Time) {
	for peer, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > l.idleTTL {
			delete(l.limiters, peer)
		}
	}
}
