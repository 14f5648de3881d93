// Package server assembles a recordbase node from its configuration and runs
// the RPC listener next to the admin HTTP server.
package server

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/recordbase/recordbase-server/internal/auth"
	"github.com/recordbase/recordbase-server/internal/config"
	"github.com/recordbase/recordbase-server/internal/handler"
	"github.com/recordbase/recordbase-server/internal/health"
	"github.com/recordbase/recordbase-server/internal/metrics"
	"github.com/recordbase/recordbase-server/internal/model"
	"github.com/recordbase/recordbase-server/internal/service"
	"github.com/recordbase/recordbase-server/internal/storage"
	"github.com/recordbase/recordbase-server/internal/storage/boltstore"
	"github.com/recordbase/recordbase-server/internal/storage/diskmanager"
	"github.com/recordbase/recordbase-server/internal/storage/keylock"
	"github.com/recordbase/recordbase-server/internal/storage/pgstore"
	"github.com/recordbase/recordbase-server/internal/transport"
	"github.com/recordbase/recordbase-server/internal/util/workerpool"
	"github.com/recordbase/recordbase-server/internal/validation"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const poolName = "storage"

// Server is one running recordbase node
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	metrics     *metrics.Metrics
	pool        *workerpool.WorkerPool
	backend     storage.Backend
	logStore    *service.LogStore
	compaction  *service.CompactionService
	cache       *service.CacheService
	diskManager *diskmanager.DiskManager
	store       *service.TenantStore
	tokens      *auth.TokenManager
	revocations auth.RevocationStore
	sessions    *auth.SessionRegistry
	health      *health.HealthChecker
	gossip      *service.GossipService

	grpcServer    *grpc.Server
	listener      net.Listener
	admin         *AdminServer
	adminListener net.Listener

	closeOnce sync.Once
	closers   []func() error
}

// NewTokenManager builds the token manager described by cfg.Auth, resolving
// the signing key reference
func NewTokenManager(cfg *config.Config) (*auth.TokenManager, error) {
	key, err := auth.ResolveTokenRef(cfg.Auth.SigningKeyRef)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve signing key: %w", err)
	}
	return auth.NewTokenManager(auth.TokenConfig{
		SigningKey: []byte(key),
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		TTL:        cfg.Auth.TokenTTL,
		Leeway:     cfg.Auth.Leeway,
	})
}

// New builds every component and binds the listeners. Nothing is served
// until Serve is called; Close releases what New acquired.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger}
	if err := s.build(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) build(ctx context.Context) error {
	cfg := s.cfg
	s.metrics = metrics.NewMetrics(cfg.Server.NodeID)

	s.pool = workerpool.NewWorkerPool(&workerpool.Config{
		Name:       poolName,
		MaxWorkers: cfg.Workers.MaxWorkers,
		QueueSize:  cfg.Workers.QueueSize,
		Logger:     s.logger,
		OnTaskDone: func(_ workerpool.Task, elapsed time.Duration, err error) {
			s.metrics.RecordWorkerTask(poolName, elapsed, err)
		},
	})
	if err := s.openBackend(ctx); err != nil {
		_ = s.pool.Stop(cfg.Server.ShutdownTimeout)
		return err
	}
	// detached work drains before the backend closes
	s.onClose(func() error { return s.pool.Stop(cfg.Server.ShutdownTimeout) })
	if s.compaction != nil {
		s.onClose(func() error {
			s.compaction.Stop()
			return nil
		})
	}

	dataDir := ""
	if cfg.Storage.Engine != storage.EnginePostgres {
		dataDir = cfg.Storage.DataDir
		dm, err := diskmanager.NewDiskManager(&diskmanager.DiskManagerConfig{
			DataDir:                 cfg.Storage.DataDir,
			CheckInterval:           10 * time.Second,
			WarningThreshold:        cfg.Storage.MaxDiskUsage*100 - 10,
			ThrottleThreshold:       cfg.Storage.MaxDiskUsage*100 - 5,
			CircuitBreakerThreshold: cfg.Storage.MaxDiskUsage * 100,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("failed to create disk manager: %w", err)
		}
		s.diskManager = dm
	}

	s.cache = service.NewCacheService(&service.CacheConfig{
		MaxSize:         cfg.Cache.MaxSize,
		FrequencyWeight: cfg.Cache.FrequencyWeight,
		RecencyWeight:   cfg.Cache.RecencyWeight,
		AdaptiveWindow:  cfg.Cache.AdaptiveWindow,
	}, s.logger)

	validator := validation.NewValidatorWithLimits(validation.Limits{
		MaxTenantSize:        cfg.Storage.Limits.MaxTenantSize,
		MaxPrimaryKeySize:    cfg.Storage.Limits.MaxPrimaryKeySize,
		MaxAttributeNameSize: cfg.Storage.Limits.MaxAttributeNameSize,
		MaxAttributeSize:     cfg.Storage.Limits.MaxAttributeSize,
		MaxRecordSize:        cfg.Storage.Limits.MaxRecordSize,
		MaxAttributes:        cfg.Storage.Limits.MaxAttributes,
	})

	s.store = service.NewTenantStore(
		s.backend,
		s.cache,
		keylock.New(cfg.Storage.LockStripes),
		s.diskManager,
		validator,
		s.metrics,
		s.logger,
	)

	tokens, err := NewTokenManager(cfg)
	if err != nil {
		return err
	}
	s.tokens = tokens

	if err := s.openRevocations(ctx); err != nil {
		return err
	}
	authenticator := auth.NewAuthenticator(s.tokens, s.revocations)

	s.sessions = auth.NewSessionRegistry(auth.SessionConfig{
		RevalidateInterval: cfg.Auth.RevalidateInterval,
		OnChange:           s.metrics.SetActiveSessions,
	}, authenticator, s.logger)

	recordHandler := handler.NewRecordHandler(
		handler.RecordHandlerConfig{DefaultTimeoutMs: cfg.Server.DefaultTimeoutMs},
		s.store,
		service.NewDeadlineController(s.pool, s.metrics, s.logger),
		authenticator,
		s.sessions,
		validator,
		s.metrics,
		s.logger,
	)

	tlsConfig, err := transport.ServerTLSConfig(transport.TLSConfig{
		CertFile:     cfg.TLS.CertFile,
		KeyFile:      cfg.TLS.KeyFile,
		AutoGenerate: cfg.TLS.AutoGenerate,
		Hosts:        cfg.TLS.Hosts,
	}, s.logger)
	if err != nil {
		return err
	}

	s.grpcServer = transport.NewGRPCServer(transport.ServerConfig{
		MaxConnections:  cfg.Server.MaxConnections,
		MaxRecvMsgBytes: cfg.Server.MaxMessageBytes,
		MaxSendMsgBytes: cfg.Server.MaxMessageBytes,
		KeepaliveTime:   cfg.Server.KeepaliveTime,
	}, tlsConfig, recordHandler, transport.ServerDeps{
		Sessions: s.sessions,
		Limiter:  auth.NewPeerLimiter(cfg.Auth.ConnectRatePerSec, cfg.Auth.ConnectBurst),
		Metrics:  s.metrics,
		Logger:   s.logger,
	})

	s.health = health.NewHealthChecker(&health.HealthCheckConfig{
		NodeID:  cfg.Server.NodeID,
		DataDir: dataDir,
	}, s.diskManager, s.logger)
	s.health.AddProbe("backend", s.backend.Ping)
	s.health.AddProbe("revocation_store", s.revocations.Ping)
	s.health.SetMetricsSource(func() model.HealthMetrics {
		return model.HealthMetrics{
			ActiveSessions: s.sessions.Count(),
			CacheHitRate:   s.cache.Stats().HitRate,
		}
	})

	if cfg.Gossip.Enabled {
		gs, err := service.NewGossipService(&service.GossipConfig{
			BindAddr:       cfg.Gossip.BindAddr,
			BindPort:       cfg.Gossip.BindPort,
			SeedNodes:      cfg.Gossip.SeedNodes,
			GossipInterval: cfg.Gossip.GossipInterval,
			ProbeTimeout:   cfg.Gossip.ProbeTimeout,
			ProbeInterval:  cfg.Gossip.ProbeInterval,
		}, cfg.Server.NodeID, s.metrics, s.logger)
		if err != nil {
			return fmt.Errorf("failed to start gossip: %w", err)
		}
		s.gossip = gs
		s.onClose(gs.Shutdown)
	}

	s.listener, err = net.Listen("tcp", cfg.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Address(), err)
	}
	s.onClose(func() error {
		// Serve closes it; a listener that never served is closed here
		_ = s.listener.Close()
		return nil
	})

	if cfg.Metrics.Enabled {
		addr := net.JoinHostPort(cfg.Metrics.Host, strconv.Itoa(cfg.Metrics.Port))
		s.adminListener, err = net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		s.admin = NewAdminServer(&AdminServerConfig{
			Addr:        addr,
			MetricsPath: cfg.Metrics.Path,
		}, s.health, s.metrics, s.logger)
		s.onClose(func() error {
			_ = s.adminListener.Close()
			return nil
		})
	}

	return nil
}

func (s *Server) openBackend(ctx context.Context) error {
	cfg := s.cfg
	switch cfg.Storage.Engine {
	case storage.EngineBolt:
		store, err := boltstore.Open(boltstore.Config{
			Path:        cfg.Storage.Bolt.Path,
			OpenTimeout: cfg.Storage.Bolt.OpenTimeout,
			NoSync:      cfg.Storage.Bolt.NoSync,
		}, s.logger)
		if err != nil {
			return err
		}
		s.backend = store

	case storage.EngineLog:
		commitLog, err := service.NewCommitLogService(&service.CommitLogConfig{
			SegmentSize:           cfg.CommitLog.SegmentSize,
			SyncWrites:            cfg.CommitLog.SyncWrites,
			RotationCheckInterval: cfg.CommitLog.RotationCheckInterval,
		}, cfg.Storage.CommitLogDir, s.logger)
		if err != nil {
			return err
		}
		ls := service.NewLogStore(commitLog, service.NewMemTableService(&service.MemTableConfig{
			MaxSize: cfg.MemTable.MaxSize,
		}, s.logger), s.logger)

		s.logger.Info("Starting commit log recovery")
		stats, err := ls.Recover(ctx)
		if err != nil {
			_ = ls.Close()
			return fmt.Errorf("commit log recovery failed: %w", err)
		}
		s.logger.Info("Commit log recovered",
			zap.Int("segments", stats.Segments),
			zap.Int("entries", stats.Entries),
			zap.Int("skipped", stats.Skipped))

		s.backend = ls
		s.logStore = ls
		s.compaction = service.NewCompactionService(&service.CompactionConfig{
			Interval:       cfg.Compaction.Interval,
			SegmentTrigger: cfg.Compaction.SegmentTrigger,
		}, ls, s.pool, s.metrics, s.logger)
		s.compaction.Start()

	case storage.EnginePostgres:
		store, err := pgstore.Open(ctx, pgstore.Config{
			DSN:      cfg.Storage.Postgres.DSN,
			MaxConns: cfg.Storage.Postgres.MaxConns,
			MinConns: cfg.Storage.Postgres.MinConns,
		}, s.logger)
		if err != nil {
			return err
		}
		s.backend = store

	default:
		return fmt.Errorf("unknown storage engine %q", cfg.Storage.Engine)
	}

	s.onClose(s.backend.Close)
	s.logger.Info("Storage backend opened", zap.String("engine", cfg.Storage.Engine))
	return nil
}

func (s *Server) openRevocations(ctx context.Context) error {
	rc := s.cfg.Auth.Revocation
	switch rc.Backend {
	case "redis":
		store, err := auth.NewRedisRevocationStore(ctx, auth.RedisConfig{
			Addr:      rc.RedisAddr,
			Password:  rc.RedisPassword,
			DB:        rc.RedisDB,
			KeyPrefix: rc.KeyPrefix,
		}, s.logger)
		if err != nil {
			return err
		}
		s.revocations = store
	default:
		s.revocations = auth.NewMemoryRevocationStore()
	}
	s.onClose(s.revocations.Close)
	return nil
}

func (s *Server) onClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Addr is the bound RPC address
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// AdminAddr is the bound admin address, empty when metrics are disabled
func (s *Server) AdminAddr() string {
	if s.adminListener == nil {
		return ""
	}
	return s.adminListener.Addr().String()
}

// Sessions exposes the session registry
func (s *Server) Sessions() *auth.SessionRegistry {
	return s.sessions
}

// Tokens exposes the token manager
func (s *Server) Tokens() *auth.TokenManager {
	return s.tokens
}

// Revocations exposes the revocation store
func (s *Server) Revocations() auth.RevocationStore {
	return s.revocations
}

// Serve runs until ctx is cancelled or a listener fails, then stops
// accepting work and drains in-flight calls
func (s *Server) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("RecordService listening",
			zap.String("node_id", s.cfg.Server.NodeID),
			zap.String("address", s.Addr()))
		if err := s.grpcServer.Serve(s.listener); err != nil {
			return fmt.Errorf("rpc server failed: %w", err)
		}
		return nil
	})

	if s.admin != nil {
		g.Go(func() error {
			return s.admin.Serve(s.adminListener)
		})
	}

	g.Go(func() error {
		s.health.Start(gctx)
		return nil
	})

	g.Go(func() error {
		s.collect(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.shutdown()
		return nil
	})

	return g.Wait()
}

func (s *Server) shutdown() {
	s.logger.Info("Shutting down gracefully")
	s.health.SetDraining(true)

	if s.admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.admin.Shutdown(ctx); err != nil {
			s.logger.Warn("Admin server shutdown failed", zap.Error(err))
		}
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.Server.ShutdownTimeout):
		s.logger.Warn("Graceful stop timed out, closing connections")
		s.grpcServer.Stop()
	}
}

// collect refreshes gauges and advertises health until ctx is done
func (s *Server) collect(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		s.collectOnce()
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) collectOnce() {
	stats := s.cache.Stats()
	s.metrics.UpdateCacheSize(stats.Size, stats.EntryCount)
	if s.cfg.Cache.AdaptiveWindow > 0 {
		s.cache.AdjustWeights()
	}

	s.metrics.UpdateWorkerQueue(poolName, s.pool.Stats().QueuedTasks)

	if s.diskManager != nil {
		usage := s.diskManager.GetDiskUsage()
		s.metrics.UpdateDiskStats(usage.UsagePercent, usage.AvailableBytes)
	}
	if s.logStore != nil {
		s.metrics.UpdateCommitLog(s.logStore.SegmentCount())
	}
	if s.gossip != nil {
		s.gossip.Publish(s.health.GetStatus())
	}
}

// Close releases storage, stores and workers. Call it after Serve returns.
func (s *Server) Close() error {
	var firstErr error
	s.closeOnce.Do(func() {
		for i := len(s.closers) - 1; i >= 0; i-- {
			if err := s.closers[i](); err != nil {
				s.logger.Warn("Close failed", zap.Error(err))
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	})
	return firstErr
}
