package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// Properties stamped on every cached catalog.
const (
	PropertyOriginator = "originator"
	PropertyNodeID     = "nodeId"
	PropertyUpdatedAt  = "updatedAt"
)

// Entry is a crawled catalog with its origin.
type Entry struct {
	NodeID    string        `json:"nodeId"`
	Origin    string        `json:"origin"`
	UpdatedAt int64         `json:"updatedAt"`
	Catalog   model.Catalog `json:"catalog"`
}

// stamped returns the catalog with origin properties set.
func (e Entry) stamped() model.Catalog {
	cat := e.Catalog
	props := make(map[string]any, len(cat.Properties)+3)
	for k, v := range cat.Properties {
		props[k] = v
	}
	props[PropertyOriginator] = e.Origin
	props[PropertyNodeID] = e.NodeID
	props[PropertyUpdatedAt] = e.UpdatedAt
	cat.Properties = props
	return cat
}

// Cache stores the latest catalog of every node.
type Cache interface {
	Save(ctx context.Context, e Entry) error
	Query(ctx context.Context, q model.QuerySpec) ([]model.Catalog, error)
	DeleteExpired(ctx context.Context, beforeMillis int64) (int, error)
}

// queryEntries filters, sorts and pages entries in node id order.
func queryEntries(entries []Entry, q model.QuerySpec) ([]model.Catalog, error) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].NodeID < entries[j].NodeID })
	cats := make([]model.Catalog, 0, len(entries))
	for _, e := range entries {
		cats = append(cats, e.stamped())
	}
	return model.ApplyQuery(cats, q)
}

// MemoryCache keeps entries in process memory.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: map[string]Entry{}}
}

// Save implements Cache.
func (c *MemoryCache) Save(_ context.Context, e Entry) error {
	c.mu.Lock()
	c.entries[e.NodeID] = e
	c.mu.Unlock()
	return nil
}

// Query implements Cache.
func (c *MemoryCache) Query(_ context.Context, q model.QuerySpec) ([]model.Catalog, error) {
	c.mu.RLock()
	entries := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.RUnlock()
	return queryEntries(entries, q)
}

// DeleteExpired implements Cache.
func (c *MemoryCache) DeleteExpired(_ context.Context, beforeMillis int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, e := range c.entries {
		if e.UpdatedAt < beforeMillis {
			delete(c.entries, id)
			n++
		}
	}
	return n, nil
}
