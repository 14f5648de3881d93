package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/recordbase/recordbase-server/internal/model"
	"github.com/recordbase/recordbase-server/internal/storage/diskmanager"
	"go.uber.org/zap"
)

// Check statuses
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// HealthChecker performs health checks for the server
type HealthChecker struct {
	nodeID      string
	dataDir     string
	interval    time.Duration
	diskManager *diskmanager.DiskManager
	logger      *zap.Logger

	mu          sync.RWMutex
	probes      []probe
	lastCheck   time.Time
	status      model.NodeStatus
	checks      map[string]CheckResult
	readinessOK bool
	draining    bool
	extras      func() model.HealthMetrics
}

type probe struct {
	name string
	fn   func(ctx context.Context) error
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthCheckConfig holds configuration for health checks
type HealthCheckConfig struct {
	NodeID   string
	DataDir  string
	Interval time.Duration
}

// NewHealthChecker creates a new health checker. diskMgr may be nil.
func NewHealthChecker(cfg *HealthCheckConfig, diskMgr *diskmanager.DiskManager, logger *zap.Logger) *HealthChecker {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &HealthChecker{
		nodeID:      cfg.NodeID,
		dataDir:     cfg.DataDir,
		interval:    interval,
		diskManager: diskMgr,
		logger:      logger,
		checks:      make(map[string]CheckResult),
		status:      model.NodeStatusHealthy,
	}
}

// AddProbe registers a dependency check; a failing probe makes the node
// unready
func (h *HealthChecker) AddProbe(name string, fn func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, probe{name: name, fn: fn})
}

// SetMetricsSource supplies the figures reported with the status
func (h *HealthChecker) SetMetricsSource(fn func() model.HealthMetrics) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.extras = fn
}

// Start runs checks until ctx is done
func (h *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.RunChecks(ctx)

	for {
		select {
		case <-ticker.C:
			h.RunChecks(ctx)
		case <-ctx.Done():
			h.logger.Info("Health checker stopped")
			return
		}
	}
}

// RunChecks runs every check once and updates the status
func (h *HealthChecker) RunChecks(ctx context.Context) {
	h.mu.RLock()
	probes := append([]probe(nil), h.probes...)
	h.mu.RUnlock()

	results := []CheckResult{
		h.checkDiskSpace(),
		h.checkDataDirAccessible(),
		h.checkFileDescriptors(),
	}
	for _, p := range probes {
		results = append(results, runProbe(ctx, p))
	}

	allHealthy, allReady := true, true
	for _, r := range results {
		if r.Status != StatusHealthy {
			allHealthy = false
			if r.Status == StatusCritical {
				allReady = false
			}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastCheck = time.Now()
	for _, r := range results {
		h.checks[r.Name] = r
	}
	switch {
	case !allReady:
		h.status = model.NodeStatusUnhealthy
	case !allHealthy:
		h.status = model.NodeStatusDegraded
	default:
		h.status = model.NodeStatusHealthy
	}
	h.readinessOK = allReady

	h.logger.Debug("Health check completed",
		zap.String("status", string(h.status)),
		zap.Bool("readiness", h.readinessOK))
}

func runProbe(ctx context.Context, p probe) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.fn(ctx); err != nil {
		return CheckResult{
			Name:      p.name,
			Status:    StatusCritical,
			Message:   err.Error(),
			Timestamp: time.Now(),
		}
	}
	return CheckResult{Name: p.name, Status: StatusHealthy, Message: "ok", Timestamp: time.Now()}
}

// checkDiskSpace reads the disk manager's view of the data volume
func (h *HealthChecker) checkDiskSpace() CheckResult {
	if h.diskManager == nil {
		return CheckResult{Name: "disk_space", Status: StatusHealthy, Message: "not monitored", Timestamp: time.Now()}
	}

	usage := h.diskManager.GetDiskUsage()
	switch {
	case usage.IsCircuitBroken:
		return CheckResult{
			Name:      "disk_space",
			Status:    StatusCritical,
			Message:   fmt.Sprintf("Disk usage critical: %.2f%%", usage.UsagePercent),
			Timestamp: time.Now(),
		}
	case usage.IsThrottled:
		return CheckResult{
			Name:      "disk_space",
			Status:    StatusWarning,
			Message:   fmt.Sprintf("Disk usage high: %.2f%%", usage.UsagePercent),
			Timestamp: time.Now(),
		}
	}
	return CheckResult{
		Name:      "disk_space",
		Status:    StatusHealthy,
		Message:   fmt.Sprintf("Disk usage: %.2f%%, available: %.2f GB", usage.UsagePercent, float64(usage.AvailableBytes)/1024/1024/1024),
		Timestamp: time.Now(),
	}
}

// checkDataDirAccessible checks the data directory is writable
func (h *HealthChecker) checkDataDirAccessible() CheckResult {
	if h.dataDir == "" {
		return CheckResult{Name: "data_dir_accessible", Status: StatusHealthy, Message: "no data directory", Timestamp: time.Now()}
	}

	info, err := os.Stat(h.dataDir)
	if err != nil {
		return CheckResult{
			Name:      "data_dir_accessible",
			Status:    StatusCritical,
			Message:   fmt.Sprintf("Data directory not accessible: %v", err),
			Timestamp: time.Now(),
		}
	}
	if !info.IsDir() {
		return CheckResult{
			Name:      "data_dir_accessible",
			Status:    StatusCritical,
			Message:   "Data path is not a directory",
			Timestamp: time.Now(),
		}
	}

	testFile := filepath.Join(h.dataDir, fmt.Sprintf(".health_check_%d", time.Now().UnixNano()))
	f, err := os.Create(testFile)
	if err != nil {
		return CheckResult{
			Name:      "data_dir_accessible",
			Status:    StatusCritical,
			Message:   fmt.Sprintf("Cannot write to data directory: %v", err),
			Timestamp: time.Now(),
		}
	}
	f.Close()
	os.Remove(testFile)

	return CheckResult{
		Name:      "data_dir_accessible",
		Status:    StatusHealthy,
		Message:   "Data directory is accessible and writable",
		Timestamp: time.Now(),
	}
}

// checkFileDescriptors warns when the process nears its descriptor limit
func (h *HealthChecker) checkFileDescriptors() CheckResult {
	var rlimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rlimit); err != nil {
		return CheckResult{
			Name:      "file_descriptors",
			Status:    StatusWarning,
			Message:   fmt.Sprintf("Failed to get rlimit: %v", err),
			Timestamp: time.Now(),
		}
	}

	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil || rlimit.Cur == 0 {
		// not Linux
		return CheckResult{
			Name:      "file_descriptors",
			Status:    StatusHealthy,
			Message:   fmt.Sprintf("Soft limit: %d, hard limit: %d", rlimit.Cur, rlimit.Max),
			Timestamp: time.Now(),
		}
	}

	openFDs := uint64(len(entries))
	usagePercent := float64(openFDs) / float64(rlimit.Cur) * 100
	status := StatusHealthy
	if usagePercent > 90 {
		status = StatusWarning
	}
	return CheckResult{
		Name:      "file_descriptors",
		Status:    status,
		Message:   fmt.Sprintf("File descriptor usage: %.2f%% (%d/%d)", usagePercent, openFDs, rlimit.Cur),
		Timestamp: time.Now(),
	}
}

// IsLive reports whether the process is responsive
func (h *HealthChecker) IsLive() bool {
	return true
}

// IsReady reports whether the node can serve traffic
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.readinessOK && !h.draining
}

// SetDraining marks the node unready during shutdown
func (h *HealthChecker) SetDraining(draining bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.draining = draining
}

// GetStatus returns the current health status
func (h *HealthChecker) GetStatus() model.HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var m model.HealthMetrics
	if h.extras != nil {
		m = h.extras()
	}
	if h.diskManager != nil {
		m.DiskUsage = h.diskManager.GetDiskUsage().UsagePercent
	}
	return model.HealthStatus{
		NodeID:    h.nodeID,
		Status:    h.status,
		Timestamp: h.lastCheck.Unix(),
		Metrics:   m,
	}
}

// GetChecks returns a copy of the latest check results
func (h *HealthChecker) GetChecks() map[string]CheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	checks := make(map[string]CheckResult, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	return checks
}
