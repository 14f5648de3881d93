package service

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/memberlist"
	"github.com/recordbase/recordbase-server/internal/metrics"
	"github.com/recordbase/recordbase-server/internal/model"
	"go.uber.org/zap"
)

// GossipService advertises this node's health to its peers and keeps the
// latest status each peer advertised
type GossipService struct {
	config     *GossipConfig
	memberlist atomic.Pointer[memberlist.Memberlist]
	broadcasts *memberlist.TransmitLimitedQueue
	nodeID     string
	metrics    *metrics.Metrics
	logger     *zap.Logger

	mu      sync.RWMutex
	local   model.HealthStatus
	peers   map[string]model.HealthStatus
	members map[string]struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

// GossipConfig holds gossip protocol configuration
type GossipConfig struct {
	BindAddr       string
	BindPort       int
	SeedNodes      []string
	GossipInterval time.Duration
	ProbeTimeout   time.Duration
	ProbeInterval  time.Duration
}

// NewGossipService creates the memberlist and joins the seed nodes
func NewGossipService(cfg *GossipConfig, nodeID string, m *metrics.Metrics, logger *zap.Logger) (*GossipService, error) {
	gs := &GossipService{
		config:  cfg,
		nodeID:  nodeID,
		metrics: m,
		logger:  logger,
		local: model.HealthStatus{
			NodeID:    nodeID,
			Status:    model.NodeStatusHealthy,
			Timestamp: time.Now().Unix(),
		},
		peers:   make(map[string]model.HealthStatus),
		members: map[string]struct{}{nodeID: {}},
	}

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = nodeID
	if cfg.BindAddr != "" {
		mlConfig.BindAddr = cfg.BindAddr
	}
	mlConfig.BindPort = cfg.BindPort
	mlConfig.AdvertisePort = cfg.BindPort
	if cfg.GossipInterval > 0 {
		mlConfig.GossipInterval = cfg.GossipInterval
	}
	if cfg.ProbeTimeout > 0 {
		mlConfig.ProbeTimeout = cfg.ProbeTimeout
	}
	if cfg.ProbeInterval > 0 {
		mlConfig.ProbeInterval = cfg.ProbeInterval
	}
	gs.broadcasts = &memberlist.TransmitLimitedQueue{
		NumNodes:       gs.Members,
		RetransmitMult: mlConfig.RetransmitMult,
	}
	mlConfig.Delegate = gs
	mlConfig.Events = &GossipEventDelegate{service: gs}
	mlConfig.LogOutput = zap.NewStdLog(logger.Named("memberlist")).Writer()

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	gs.memberlist.Store(ml)

	if len(cfg.SeedNodes) > 0 {
		if _, err := ml.Join(cfg.SeedNodes); err != nil {
			logger.Warn("Failed to join some seed nodes", zap.Error(err))
		}
	}
	m.UpdateGossipMembers(gs.Members())

	return gs, nil
}

// Join contacts additional peers after startup
func (s *GossipService) Join(addrs []string) (int, error) {
	n, err := s.memberlist.Load().Join(addrs)
	s.metrics.UpdateGossipMembers(s.Members())
	return n, err
}

// LocalAddr returns the address peers can join on
func (s *GossipService) LocalAddr() string {
	node := s.memberlist.Load().LocalNode()
	return fmt.Sprintf("%s:%d", node.Addr, node.Port)
}

// Members returns the number of live members including this node. The count
// is kept from join and leave events; memberlist holds its node lock while
// delivering those, so it must not be queried from them.
func (s *GossipService) Members() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}

// PeerStatus returns the last status a peer advertised
func (s *GossipService) PeerStatus(nodeID string) (model.HealthStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.peers[nodeID]
	return st, ok
}

// Publish replaces the local status and queues it for broadcast
func (s *GossipService) Publish(status model.HealthStatus) {
	status.NodeID = s.nodeID
	if status.Timestamp == 0 {
		status.Timestamp = time.Now().Unix()
	}

	s.mu.Lock()
	s.local = status
	s.mu.Unlock()

	data, err := json.Marshal(status)
	if err != nil {
		s.logger.Warn("Failed to marshal health status", zap.Error(err))
		return
	}
	s.broadcasts.QueueBroadcast(&statusBroadcast{nodeID: s.nodeID, msg: data})
}

// NodeMeta implements memberlist.Delegate
func (s *GossipService) NodeMeta(limit int) []byte {
	s.mu.RLock()
	status := s.local.Status
	s.mu.RUnlock()

	data := []byte(status)
	if len(data) > limit {
		return data[:limit]
	}
	return data
}

// NotifyMsg implements memberlist.Delegate
func (s *GossipService) NotifyMsg(data []byte) {
	var status model.HealthStatus
	if err := json.Unmarshal(data, &status); err != nil {
		s.logger.Warn("Failed to unmarshal gossip message", zap.Error(err))
		return
	}
	s.observe(status)
}

// GetBroadcasts implements memberlist.Delegate
func (s *GossipService) GetBroadcasts(overhead, limit int) [][]byte {
	return s.broadcasts.GetBroadcasts(overhead, limit)
}

// LocalState implements memberlist.Delegate
func (s *GossipService) LocalState(join bool) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, _ := json.Marshal(s.local)
	return data
}

// MergeRemoteState implements memberlist.Delegate
func (s *GossipService) MergeRemoteState(buf []byte, join bool) {
	if len(buf) == 0 {
		return
	}
	var status model.HealthStatus
	if err := json.Unmarshal(buf, &status); err != nil {
		s.logger.Warn("Failed to unmarshal remote state", zap.Error(err))
		return
	}
	s.observe(status)
}

// observe keeps the newest status per peer
func (s *GossipService) observe(status model.HealthStatus) {
	if status.NodeID == "" || status.NodeID == s.nodeID {
		return
	}

	s.mu.Lock()
	prev, ok := s.peers[status.NodeID]
	if !ok || status.Timestamp >= prev.Timestamp {
		s.peers[status.NodeID] = status
	}
	s.mu.Unlock()

	s.logger.Debug("Received health status",
		zap.String("node_id", status.NodeID),
		zap.String("status", string(status.Status)))
}

// Shutdown leaves the cluster and stops the memberlist. Later calls return
// the first result.
func (s *GossipService) Shutdown() error {
	s.shutdownOnce.Do(func() {
		ml := s.memberlist.Load()
		if err := ml.Leave(time.Second); err != nil {
			s.logger.Warn("Failed to leave cluster", zap.Error(err))
		}
		s.shutdownErr = ml.Shutdown()
	})
	return s.shutdownErr
}

// statusBroadcast is a queued status message; a newer status from the
// same node invalidates an older one
type statusBroadcast struct {
	nodeID string
	msg    []byte
}

func (b *statusBroadcast) Invalidates(other memberlist.Broadcast) bool {
	o, ok := other.(*statusBroadcast)
	return ok && o.nodeID == b.nodeID
}

func (b *statusBroadcast) Message() []byte { return b.msg }

func (b *statusBroadcast) Finished() {}

// GossipEventDelegate handles memberlist events
type GossipEventDelegate struct {
	service *GossipService
}

// NotifyJoin is called when a node joins
func (d *GossipEventDelegate) NotifyJoin(node *memberlist.Node) {
	d.service.logger.Info("Node joined",
		zap.String("node_id", node.Name),
		zap.String("addr", node.Addr.String()))

	d.service.mu.Lock()
	d.service.members[node.Name] = struct{}{}
	n := len(d.service.members)
	d.service.mu.Unlock()
	d.service.metrics.UpdateGossipMembers(n)
}

// NotifyLeave is called when a node leaves
func (d *GossipEventDelegate) NotifyLeave(node *memberlist.Node) {
	d.service.logger.Info("Node left",
		zap.String("node_id", node.Name))

	if node.Name == d.service.nodeID {
		return
	}

	d.service.mu.Lock()
	delete(d.service.peers, node.Name)
	delete(d.service.members, node.Name)
	n := len(d.service.members)
	d.service.mu.Unlock()
	d.service.metrics.UpdateGossipMembers(n)
}

// NotifyUpdate is called when a node is updated
func (d *GossipEventDelegate) NotifyUpdate(node *memberlist.Node) {
	d.service.logger.Debug("Node updated",
		zap.String("node_id", node.Name),
		zap.String("status", string(node.Meta)))
}
