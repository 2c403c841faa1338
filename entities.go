package hangr

import (
	lru "github.com/hashicorp/golang-lru"
)

// DefaultEntityCacheSize bounds the entity cache when no size is configured.
const DefaultEntityCacheSize = 4096

// EntityCache remembers entities by chat id. Entities survive reconnects;
// only conversation state is discarded.
type EntityCache struct {
	lru *lru.Cache
}

// NewEntityCache returns a cache holding at most size entities.
func NewEntityCache(size int) (*EntityCache, error) {
	if size <= 0 {
		size = DefaultEntityCacheSize
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &EntityCache{lru: c}, nil
}

// Partition splits ids into entities served from the cache and ids that
// still have to be fetched. Duplicate ids are fetched once.
func (c *EntityCache) Partition(ids []string) (cached []Entity, missing []string) {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if v, ok := c.lru.Get(id); ok {
			cached = append(cached, v.(Entity))
			continue
		}
		missing = append(missing, id)
	}
	return cached, missing
}

// Add stores entities keyed by their chat id.
func (c *EntityCache) Add(entities ...Entity) {
	for _, e := range entities {
		if e.ID.ChatID == "" {
			continue
		}
		c.lru.Add(e.ID.ChatID, e)
	}
}

// Len returns the number of cached entities.
func (c *EntityCache) Len() int {
	return c.lru.Len()
}
