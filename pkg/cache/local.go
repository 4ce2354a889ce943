package cache

import (
	"strings"
	"sync"
	"time"
)

type localItem struct {
	data     []byte
	expireAt time.Time
}

// localCache is the in-process layer of LayeredCache: a small TTL map with
// oldest-access eviction and a background sweep for expired entries.
type localCache struct {
	mu      sync.Mutex
	items   map[string]localItem
	access  map[string]time.Time
	maxSize int
	janitor *time.Ticker
	done    chan struct{}
}

func newLocalCache(maxSize int, sweepEvery time.Duration) *localCache {
	lc := &localCache{
		items:   make(map[string]localItem),
		access:  make(map[string]time.Time),
		maxSize: maxSize,
		janitor: time.NewTicker(sweepEvery),
		done:    make(chan struct{}),
	}
	go lc.sweep()
	return lc
}

func (l *localCache) set(key string, data []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.items[key]; !exists && len(l.items) >= l.maxSize {
		l.evictOldest()
	}
	l.items[key] = localItem{data: data, expireAt: time.Now().Add(ttl)}
	l.access[key] = time.Now()
}

func (l *localCache) get(key string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.items[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(item.expireAt) {
		delete(l.items, key)
		delete(l.access, key)
		return nil, false
	}
	l.access[key] = time.Now()
	return item.data, true
}

func (l *localCache) removePrefix(prefix string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key := range l.items {
		if strings.HasPrefix(key, prefix) {
			delete(l.items, key)
			delete(l.access, key)
		}
	}
}

// evictOldest drops the least recently touched entry. Called with mu held.
func (l *localCache) evictOldest() {
	var oldestKey string
	var oldestAt time.Time

	for key, at := range l.access {
		if oldestKey == "" || at.Before(oldestAt) {
			oldestKey = key
			oldestAt = at
		}
	}
	if oldestKey != "" {
		delete(l.items, oldestKey)
		delete(l.access, oldestKey)
	}
}

func (l *localCache) sweep() {
	for {
		select {
		case <-l.done:
			return
		case <-l.janitor.C:
			now := time.Now()
			l.mu.Lock()
			for key, item := range l.items {
				if now.After(item.expireAt) {
					delete(l.items, key)
					delete(l.access, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

func (l *localCache) close() {
	l.janitor.Stop()
	close(l.done)
}
