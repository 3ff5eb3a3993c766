package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dukerupert/babylog/internal/model"
)

// Cache stores computed daily summaries. Keys embed the baby's events
// version, so entries never need explicit invalidation: any committed write
// moves readers to a new key.
type Cache interface {
	Get(ctx context.Context, key string) (*model.DailySummary, bool, error)
	Set(ctx context.Context, key string, s *model.DailySummary) error
}

func cacheKey(babyID string, version int64, w Window) string {
	return fmt.Sprintf("summary:%s:v%d:%s:%s", babyID, version, w.Date, w.Timezone)
}

type memoryEntry struct {
	summary   model.DailySummary
	expiresAt time.Time
}

// MemoryCache is an in-process Cache with per-entry expiry and a size cap.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry
	ttl        time.Duration
	maxEntries int
}

func NewMemoryCache(ttl time.Duration, maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &MemoryCache{
		entries:    make(map[string]memoryEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*model.DailySummary, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false, nil
	}
	s := copySummary(e.summary)
	return &s, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, s *model.DailySummary) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[key] = memoryEntry{summary: copySummary(*s), expiresAt: time.Now().Add(c.ttl)}
	return nil
}

// evictLocked drops expired entries, or everything if none had expired.
func (c *MemoryCache) evictLocked() {
	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) >= c.maxEntries {
		c.entries = make(map[string]memoryEntry)
	}
}

// Cleanup removes expired entries.
func (c *MemoryCache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// copySummary keeps callers from mutating cached maps.
func copySummary(s model.DailySummary) model.DailySummary {
	amounts := make(map[model.FeedingMethod]int, len(s.Feeding.AmountMLByMethod))
	for k, v := range s.Feeding.AmountMLByMethod {
		amounts[k] = v
	}
	volumes := make(map[model.Side]int, len(s.Pumping.VolumeMLBySide))
	for k, v := range s.Pumping.VolumeMLBySide {
		volumes[k] = v
	}
	s.Feeding.AmountMLByMethod = amounts
	s.Pumping.VolumeMLBySide = volumes
	return s
}

// RedisCache shares summaries between processes.
type RedisCache struct {
	rdb *goredis.Client
	ttl time.Duration
}

// NewRedisCache connects to addr and verifies the connection.
func NewRedisCache(ctx context.Context, addr string, ttl time.Duration) (*RedisCache, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisCache{rdb: rdb, ttl: ttl}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (*model.DailySummary, bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var s model.DailySummary
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false, fmt.Errorf("decode summary: %w", err)
	}
	return &s, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, s *model.DailySummary) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
