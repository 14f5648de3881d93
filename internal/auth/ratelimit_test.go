package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPeerLimiter(t *testing.T) {
	l := NewPeerLimiter(1, 2)
	base := time.Now()
	l.now = func() time.Time { return base }

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))

	// other peers have their own bucket
	assert.True(t, l.Allow("10.0.0.2"))

	l.now = func() time.Time { return base.Add(time.Second) }
	assert.True(t, l.Allow("10.0.0.1"))
}

func TestPeerLimiter_Disabled(t *testing.T) {
	l := NewPeerLimiter(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("10.0.0.1"))
	}
	var nilLimiter *PeerLimiter
	assert.True(t, nilLimiter.Allow("x"))
}

func TestPeerLimiter_EvictsIdlePeers(t *testing.T) {
	l := NewPeerLimiter(1, 1)
	base := time.Now()
	l.now = func() time.Time { return base }
	l.Allow("a")
	l.Allow("b")
	assert.Equal(t, 2, l.Peers())

	l.now = func() time.Time { return base.Add(time.Hour) }
	l.Allow("c")
	assert.Equal(t, 1, l.Peers())
}
