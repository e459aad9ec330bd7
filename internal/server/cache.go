package server

import (
	"github.com/born-ml/graphfreeze/internal/graph"
	sync "github.com/sasha-s/go-deadlock"
	"golang.org/x/sync/singleflight"
)

// cacheEntry is one imported graph kept in memory.
type cacheEntry struct {
	graph *graph.Graph
	used  uint64
}

// graphCache keeps up to limit imported graphs, evicting the least recently
// used one when full. Graphs are loaded outside the lock, at most once per
// name at a time.
type graphCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	limit   int
	clock   uint64
	epoch   uint64 // bumped by remove; stale loads are not stored
	loading singleflight.Group
	load    func(name string) (*graph.Graph, error)
}

func newGraphCache(limit int, load func(name string) (*graph.Graph, error)) *graphCache {
	if limit < 1 {
		limit = 1
	}
	return &graphCache{entries: make(map[string]*cacheEntry), limit: limit, load: load}
}

// get returns the cached graph for name, loading it on a miss.
func (c *graphCache) get(name string) (*graph.Graph, error) {
	c.mu.Lock()
	if e, ok := c.entries[name]; ok {
		c.clock++
		e.used = c.clock
		c.mu.Unlock()
		return e.graph, nil
	}
	epoch := c.epoch
	c.mu.Unlock()

	v, err, _ := c.loading.Do(name, func() (any, error) {
		g, err := c.load(name)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.epoch == epoch {
			c.storeLocked(name, g)
		}
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*graph.Graph), nil //nolint:forcetypeassert // only graphs are stored
}

func (c *graphCache) storeLocked(name string, g *graph.Graph) {
	if _, ok := c.entries[name]; !ok && len(c.entries) >= c.limit {
		c.evictLocked()
	}
	c.clock++
	c.entries[name] = &cacheEntry{graph: g, used: c.clock}
}

func (c *graphCache) evictLocked() {
	var oldest string
	var oldestUsed uint64
	for name, e := range c.entries {
		if oldest == "" || e.used < oldestUsed {
			oldest, oldestUsed = name, e.used
		}
	}
	delete(c.entries, oldest)
}

func (c *graphCache) remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.loading.Forget(name)
	delete(c.entries, name)
}

func (c *graphCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
