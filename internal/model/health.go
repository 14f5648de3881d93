package model

// HealthStatus is what a node advertises about itself to peers and probes
type HealthStatus struct {
	NodeID    string        `json:"node_id"`
	Status    NodeStatus    `json:"status"`
	Timestamp int64         `json:"timestamp"`
	Metrics   HealthMetrics `json:"metrics"`
}

// NodeStatus defines the operational status of a node
type NodeStatus string

const (
	NodeStatusHealthy   NodeStatus = "healthy"
	NodeStatusDegraded  NodeStatus = "degraded"
	NodeStatusUnhealthy NodeStatus = "unhealthy"
)

// HealthMetrics contains the figures a node reports alongside its status
type HealthMetrics struct {
	DiskUsage      float64 `json:"disk_usage"`
	ActiveSessions int     `json:"active_sessions"`
	CacheHitRate   float64 `json:"cache_hit_rate"`
}
