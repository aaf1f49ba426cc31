package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Cache stores JSON encodable values under string keys.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

func GroupsKey(userID int64) string {
	return "groups:" + strconv.FormatInt(userID, 10)
}

func CounterOpenKey(counterID int64) string {
	return "counter-open:" + strconv.FormatInt(counterID, 10)
}

type NoopCache struct{}

func (NoopCache) Get(_ context.Context, _ string, _ any) (bool, error) {
	return false, nil
}

func (NoopCache) Set(_ context.Context, _ string, _ any, _ time.Duration) error {
	return nil
}

func (NoopCache) Delete(_ context.Context, _ ...string) error {
	return nil
}

// MemoryCache is a process local cache used in tests and when no redis is
// configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	payload []byte
	expires time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: map[string]memoryEntry{}, now: time.Now}
}
