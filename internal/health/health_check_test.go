package health

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/recordbase/recordbase-server/internal/model"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestHealthChecker_Healthy(t *testing.T) {
	h := NewHealthChecker(&HealthCheckConfig{NodeID: "node-1", DataDir: t.TempDir()}, nil, zap.NewNop())
	h.AddProbe("backend", func(context.Context) error { return nil })
	h.SetMetricsSource(func() model.HealthMetrics { return model.HealthMetrics{ActiveSessions: 3} })

	h.RunChecks(context.Background())

	assert.True(t, h.IsLive())
	assert.True(t, h.IsReady())
	status := h.GetStatus()
	assert.Equal(t, "node-1", status.NodeID)
	assert.Equal(t, model.NodeStatusHealthy, status.Status)
	assert.Equal(t, 3, status.Metrics.ActiveSessions)

	checks := h.GetChecks()
	assert.Contains(t, checks, "backend")
	assert.Contains(t, checks, "data_dir_accessible")
	assert.Equal(t, StatusHealthy, checks["backend"].Status)
}

func TestHealthChecker_FailingProbe(t *testing.T) {
	h := NewHealthChecker(&HealthCheckConfig{NodeID: "node-1", DataDir: t.TempDir()}, nil, zap.NewNop())
	h.AddProbe("backend", func(context.Context) error { return errors.New("connection refused") })

	h.RunChecks(context.Background())

	assert.False(t, h.IsReady())
	assert.Equal(t, model.NodeStatusUnhealthy, h.GetStatus().Status)
	assert.Equal(t, "connection refused", h.GetChecks()["backend"].Message)
}

func TestHealthChecker_MissingDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gone")
	h := NewHealthChecker(&HealthCheckConfig{DataDir: dir}, nil, zap.NewNop())

	h.RunChecks(context.Background())

	assert.False(t, h.IsReady())
	assert.Equal(t, StatusCritical, h.GetChecks()["data_dir_accessible"].Status)
}

func TestHealthChecker_Draining(t *testing.T) {
	h := NewHealthChecker(&HealthCheckConfig{DataDir: t.TempDir()}, nil, zap.NewNop())
	h.RunChecks(context.Background())
	assert.True(t, h.IsReady())

	h.SetDraining(true)
	assert.False(t, h.IsReady())
	assert.True(t, h.IsLive())
}
