package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type l1Entry struct {
	value     []byte
	expiresAt time.Time
}

// l1Tier is the in-process cache tier: a bounded LRU (golang-lru/v2)
// wrapped with a per-entry expiry check, since the library itself has
// no TTL concept. Replaces the teacher's hand-rolled map+mutex LRU
// (pkg/history/cache/l1_cache.go) with the real dependency the pack
// already uses elsewhere for bounded in-process caching.
type l1Tier struct {
	mu    sync.Mutex
	cache *lru.Cache[string, l1Entry]
}

func newL1Tier(maxEntries int) (*l1Tier, error) {
	c, err := lru.New[string, l1Entry](maxEntries)
	if err != nil {
		return nil, err
	}
	return &l1Tier{cache: c}, nil
}

func (t *l1Tier) Get(key string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.cache.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		t.cache.Remove(key)
		return nil, false
	}
	return entry.value, true
}

func (t *l1Tier) Set(key string, value []byte, ttl time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Add(key, l1Entry{value: value, expiresAt: time.Now().Add(ttl)})
}

func (t *l1Tier) Delete(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Remove(key)
}

func (t *l1Tier) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache.Len()
}
