package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	circuitMaxFailures     = 3
	circuitCheckInterval   = 30 * time.Second
	trackedAddressKeyFmt   = "decision-core:tracked_address:%s"
)

// RedisConfig configures the write-through mirror.
type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	PoolSize int
}

// redisMirror writes tracked_addresses entries through to Redis,
// degrading gracefully (skip, don't block) when Redis is unreachable —
// the same circuit-breaker shape the teacher's cache service uses.
type redisMirror struct {
	client *redis.Client
	cfg    RedisConfig

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time
}

func newRedisMirror(cfg RedisConfig) *redisMirror {
	m := &redisMirror{cfg: cfg}
	if !cfg.Enabled {
		return m
	}

	m.client = redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.client.Ping(ctx).Err(); err == nil {
		m.healthy = true
		m.lastCheck = time.Now()
	}
	return m
}

func (m *redisMirror) isHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthy
}

func (m *redisMirror) recordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failureCount++
	if m.failureCount >= circuitMaxFailures {
		m.healthy = false
	}
}

func (m *redisMirror) recordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = true
	m.failureCount = 0
	m.lastCheck = time.Now()
}

func (m *redisMirror) checkHealth(ctx context.Context) {
	m.mu.RLock()
	due := !m.healthy && time.Since(m.lastCheck) >= circuitCheckInterval
	m.mu.RUnlock()
	if !due {
		return
	}
	go func() {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.client.Ping(pingCtx).Err(); err == nil {
			m.recordSuccess()
		}
	}()
}

// Mirror writes a tracked address through to Redis. A failure is counted
// by the circuit breaker but never returned to the caller: the in-memory
// LRU is always the source of truth for the running process.
func (m *redisMirror) Mirror(ctx context.Context, address string, value interface{}) {
	if !m.cfg.Enabled {
		return
	}
	m.checkHealth(ctx)
	if !m.isHealthy() {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		return
	}

	key := fmt.Sprintf(trackedAddressKeyFmt, address)
	if err := m.client.Set(ctx, key, data, StaleAge).Err(); err != nil {
		m.recordFailure()
		return
	}
	m.recordSuccess()
}

// Forget removes a tracked address's mirrored Redis entry.
func (m *redisMirror) Forget(ctx context.Context, address string) {
	if !m.cfg.Enabled {
		return
	}
	m.checkHealth(ctx)
	if !m.isHealthy() {
		return
	}
	key := fmt.Sprintf(trackedAddressKeyFmt, address)
	if err := m.client.Del(ctx, key).Err(); err != nil {
		m.recordFailure()
		return
	}
	m.recordSuccess()
}
