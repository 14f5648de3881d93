package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RevocationStore tracks revoked token IDs
type RevocationStore interface {
	// Revoke marks a token as revoked until its expiry
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// MemoryRevocationStore keeps revocations in process
type MemoryRevocationStore struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
	now     func() time.Time
}

// NewMemoryRevocationStore creates an empty in-memory store
func NewMemoryRevocationStore() *MemoryRevocationStore {
	return &MemoryRevocationStore{
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *MemoryRevocationStore) Revoke(_ context.Context, tokenID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, until := range s.revoked {
		if !until.After(now) {
			delete(s.revoked, id)
		}
	}
	s.revoked[tokenID] = expiresAt
	return nil
}

func (s *MemoryRevocationStore) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.revoked[tokenID]
	return ok, nil
}

func (s *MemoryRevocationStore) Ping(context.Context) error { return nil }

func (s *MemoryRevocationStore) Close() error { return nil }

// RedisConfig configures the redis revocation store
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisRevocationStore keeps revocations in redis so every node sees them
type RedisRevocationStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisRevocationStore connects to redis and checks the connection
func NewRedisRevocationStore(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisRevocationStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "recordbase:revoked:"
	}
	logger.Info("Connected to revocation store", zap.String("addr", cfg.Addr))
	return &RedisRevocationStore{client: client, prefix: prefix, logger: logger}, nil
}

func (s *RedisRevocationStore) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		// already expired, expiry checks reject it anyway
		return nil
	}
	return s.client.Set(ctx, s.prefix+tokenID, 1, ttl).Err()
}

func (s *RedisRevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("revocation lookup failed: %w", err)
	}
	return n > 0, nil
}

func (s *RedisRevocationStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisRevocationStore) Close() error {
	return s.client.Close()
}
