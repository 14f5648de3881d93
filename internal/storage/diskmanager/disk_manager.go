// Package diskmanager watches the data volume and refuses writes that would
// fill it.
package diskmanager

import (
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/recordbase/recordbase-server/internal/errors"
	"go.uber.org/zap"
)

// DiskManager monitors disk space and enforces write policies
type DiskManager struct {
	dataDir string
	logger  *zap.Logger
	mu      sync.Mutex

	checkInterval        time.Duration
	lastCheck            time.Time
	cachedUsagePercent   float64
	cachedAvailableBytes uint64

	warningThreshold        float64
	throttleThreshold       float64
	circuitBreakerThreshold float64

	isThrottled     bool
	isCircuitBroken bool

	statfs func(path string) (total, available uint64, err error)
}

// DiskManagerConfig holds configuration for disk manager
type DiskManagerConfig struct {
	DataDir                 string
	CheckInterval           time.Duration
	WarningThreshold        float64
	ThrottleThreshold       float64
	CircuitBreakerThreshold float64
}

// DefaultConfig returns default disk manager configuration
func DefaultConfig(dataDir string) *DiskManagerConfig {
	return &DiskManagerConfig{
		DataDir:                 dataDir,
		CheckInterval:           10 * time.Second,
		WarningThreshold:        80.0,
		ThrottleThreshold:       90.0,
		CircuitBreakerThreshold: 95.0,
	}
}

// NewDiskManager creates a disk manager and performs an initial check
func NewDiskManager(cfg *DiskManagerConfig, logger *zap.Logger) (*DiskManager, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}

	dm := &DiskManager{
		dataDir:                 cfg.DataDir,
		logger:                  logger,
		checkInterval:           cfg.CheckInterval,
		warningThreshold:        cfg.WarningThreshold,
		throttleThreshold:       cfg.ThrottleThreshold,
		circuitBreakerThreshold: cfg.CircuitBreakerThreshold,
		statfs:                  statfs,
	}

	if err := dm.ForceCheck(); err != nil {
		logger.Warn("Initial disk space check failed", zap.Error(err))
	}

	return dm, nil
}

func statfs(path string) (uint64, uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, 0, fmt.Errorf("failed to stat filesystem: %w", err)
	}
	return stat.Blocks * uint64(stat.Bsize), stat.Bavail * uint64(stat.Bsize), nil
}

// CheckBeforeWrite returns an InternalStorage error when a write of the
// given size should be refused
func (dm *DiskManager) CheckBeforeWrite(estimatedBytes uint64) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if time.Since(dm.lastCheck) > dm.checkInterval {
		if err := dm.checkDiskSpace(); err != nil {
			dm.logger.Warn("Disk space check failed", zap.Error(err))
		}
	}

	switch {
	case dm.isCircuitBroken:
		return errors.DiskFull(dm.cachedUsagePercent, dm.cachedAvailableBytes).
			WithDetail("circuit_broken", true)
	case dm.isThrottled && estimatedBytes > dm.cachedAvailableBytes/10:
		// small writes still pass while throttled
		return errors.DiskFull(dm.cachedUsagePercent, dm.cachedAvailableBytes).
			WithDetail("throttled", true)
	case estimatedBytes > dm.cachedAvailableBytes:
		return errors.DiskFull(dm.cachedUsagePercent, dm.cachedAvailableBytes).
			WithDetail("requested_bytes", estimatedBytes)
	}
	return nil
}

// checkDiskSpace must be called with mu held
func (dm *DiskManager) checkDiskSpace() error {
	totalBytes, availableBytes, err := dm.statfs(dm.dataDir)
	if err != nil {
		return err
	}

	usagePercent := 0.0
	if totalBytes > 0 {
		usagePercent = float64(totalBytes-availableBytes) / float64(totalBytes) * 100.0
	}

	dm.cachedUsagePercent = usagePercent
	dm.cachedAvailableBytes = availableBytes
	dm.lastCheck = time.Now()

	wasThrottled := dm.isThrottled
	wasBroken := dm.isCircuitBroken

	dm.isCircuitBroken = usagePercent >= dm.circuitBreakerThreshold
	dm.isThrottled = usagePercent >= dm.throttleThreshold && !dm.isCircuitBroken

	if dm.isCircuitBroken && !wasBroken {
		dm.logger.Error("Disk circuit breaker ENGAGED",
			zap.Float64("usage_percent", usagePercent),
			zap.Uint64("available_bytes", availableBytes),
			zap.Float64("threshold", dm.circuitBreakerThreshold))
	} else if !dm.isCircuitBroken && wasBroken {
		dm.logger.Info("Disk circuit breaker DISENGAGED",
			zap.Float64("usage_percent", usagePercent),
			zap.Uint64("available_bytes", availableBytes))
	}

	if dm.isThrottled && !wasThrottled {
		dm.logger.Warn("Disk write throttling ENABLED",
			zap.Float64("usage_percent", usagePercent),
			zap.Float64("threshold", dm.throttleThreshold))
	} else if !dm.isThrottled && wasThrottled {
		dm.logger.Info("Disk write throttling DISABLED",
			zap.Float64("usage_percent", usagePercent))
	}

	if usagePercent >= dm.warningThreshold && !dm.isThrottled && !dm.isCircuitBroken {
		dm.logger.Warn("Disk usage warning",
			zap.Float64("usage_percent", usagePercent),
			zap.Float64("warning_threshold", dm.warningThreshold))
	}

	return nil
}

// GetDiskUsage returns current disk usage statistics
func (dm *DiskManager) GetDiskUsage() DiskUsageStats {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if time.Since(dm.lastCheck) > dm.checkInterval {
		if err := dm.checkDiskSpace(); err != nil {
			dm.logger.Warn("Disk space check failed", zap.Error(err))
		}
	}

	return DiskUsageStats{
		UsagePercent:    dm.cachedUsagePercent,
		AvailableBytes:  dm.cachedAvailableBytes,
		IsThrottled:     dm.isThrottled,
		IsCircuitBroken: dm.isCircuitBroken,
		LastCheck:       dm.lastCheck,
	}
}

// ForceCheck forces an immediate disk space check
func (dm *DiskManager) ForceCheck() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.checkDiskSpace()
}

// DataDir returns the watched directory
func (dm *DiskManager) DataDir() string {
	return dm.dataDir
}

// DiskUsageStats contains disk usage statistics
type DiskUsageStats struct {
	UsagePercent    float64
	AvailableBytes  uint64
	IsThrottled     bool
	IsCircuitBroken bool
	LastCheck       time.Time
}
