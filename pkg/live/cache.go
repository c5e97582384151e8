package live

import (
	"context"
	gosync "sync"

	"github.com/BeagleDevfr/shopping-sync-backend/pkg/store"
)

// listCache keeps lightweight per-list metadata in memory so presence-style
// reads do not round-trip to the gateway for the list row every time. It is
// rebuilt from the store on demand and is never the source of truth for item
// content.
type listCache struct {
	store *store.Store
	mu    gosync.RWMutex
	lists map[string]*store.List
}

func newListCache(st *store.Store) *listCache {
	return &listCache{store: st, lists: map[string]*store.List{}}
}

func (c *listCache) get(ctx context.Context, listID string) (*store.List, error) {
	code := store.NormalizeCode(listID)
	c.mu.RLock()
	l, ok := c.lists[code]
	c.mu.RUnlock()
	if ok {
		return l, nil
	}
	l, err := c.store.GetList(ctx, code)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.lists[code] = l
	c.mu.Unlock()
	return l, nil
}

func (c *listCache) invalidate(listID string) {
	code := store.NormalizeCode(listID)
	c.mu.Lock()
	delete(c.lists, code)
	c.mu.Unlock()
}
