package service

import (
	"testing"
	"time"

	"github.com/recordbase/recordbase-server/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestGossip(t *testing.T, nodeID string, seeds ...string) *GossipService {
	t.Helper()
	gs, err := NewGossipService(&GossipConfig{
		BindAddr:       "127.0.0.1",
		BindPort:       0,
		SeedNodes:      seeds,
		GossipInterval: 20 * time.Millisecond,
		ProbeInterval:  200 * time.Millisecond,
		ProbeTimeout:   100 * time.Millisecond,
	}, nodeID, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gs.Shutdown() })
	return gs
}

func TestGossipService_JoinAndPropagateStatus(t *testing.T) {
	a := newTestGossip(t, "node-a")
	b := newTestGossip(t, "node-b", a.LocalAddr())

	require.Eventually(t, func() bool {
		return a.Members() == 2 && b.Members() == 2
	}, 3*time.Second, 20*time.Millisecond)

	// push/pull state from the join
	require.Eventually(t, func() bool {
		_, ok := a.PeerStatus("node-b")
		return ok
	}, 3*time.Second, 20*time.Millisecond)

	b.Publish(model.HealthStatus{
		Status:  model.NodeStatusDegraded,
		Metrics: model.HealthMetrics{ActiveSessions: 3},
	})

	require.Eventually(t, func() bool {
		st, ok := a.PeerStatus("node-b")
		return ok && st.Status == model.NodeStatusDegraded && st.Metrics.ActiveSessions == 3
	}, 3*time.Second, 20*time.Millisecond)
}

func TestGossipService_ShutdownWithPeers(t *testing.T) {
	a := newTestGossip(t, "node-a")
	b := newTestGossip(t, "node-b", a.LocalAddr())
	c := newTestGossip(t, "node-c", a.LocalAddr())

	require.Eventually(t, func() bool {
		return a.Members() == 3 && b.Members() == 3 && c.Members() == 3
	}, 3*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := a.PeerStatus("node-b")
		return ok
	}, 3*time.Second, 20*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- b.Shutdown() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("shutdown did not return")
	}
	assert.NoError(t, b.Shutdown())

	require.Eventually(t, func() bool {
		_, ok := a.PeerStatus("node-b")
		return a.Members() == 2 && c.Members() == 2 && !ok
	}, 3*time.Second, 20*time.Millisecond)

	// the remaining members still gossip
	c.Publish(model.HealthStatus{Status: model.NodeStatusDegraded})
	require.Eventually(t, func() bool {
		st, ok := a.PeerStatus("node-c")
		return ok && st.Status == model.NodeStatusDegraded
	}, 3*time.Second, 20*time.Millisecond)
}

func TestGossipService_IgnoresSelfAndStale(t *testing.T) {
	gs := newTestGossip(t, "node-a")

	gs.observe(model.HealthStatus{NodeID: "node-a", Status: model.NodeStatusUnhealthy})
	_, ok := gs.PeerStatus("node-a")
	assert.False(t, ok)

	gs.observe(model.HealthStatus{NodeID: "node-b", Status: model.NodeStatusDegraded, Timestamp: 20})
	gs.observe(model.HealthStatus{NodeID: "node-b", Status: model.NodeStatusHealthy, Timestamp: 10})
	st, ok := gs.PeerStatus("node-b")
	require.True(t, ok)
	assert.Equal(t, model.NodeStatusDegraded, st.Status)

	gs.NotifyMsg([]byte("not json"))
	gs.MergeRemoteState(nil, false)
}
