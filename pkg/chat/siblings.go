package chat

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// SiblingGroup is the resolved set of children under one parent, in
// creation order.
type SiblingGroup struct {
	ParentID MessageID
	IDs      []MessageID
	Total    int
}

// IndexOf returns the position of id within the group, or -1.
func (g SiblingGroup) IndexOf(id MessageID) int {
	for i, sid := range g.IDs {
		if sid == id {
			return i
		}
	}
	return -1
}

// siblingCache memoizes children lookups per parent. Concurrent lookups for
// the same parent collapse into one request.
type siblingCache struct {
	src BranchSource

	mu     sync.Mutex
	groups map[string]SiblingGroup
	flight singleflight.Group
}

func newSiblingCache(src BranchSource) *siblingCache {
	return &siblingCache{
		src:    src,
		groups: make(map[string]SiblingGroup),
	}
}

// cached returns the memoized group for a parent, if any.
func (c *siblingCache) cached(parent MessageID) (SiblingGroup, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[parent.Value]
	return g, ok
}

// resolve returns the group for a parent, fetching children on a miss.
func (c *siblingCache) resolve(ctx context.Context, parent MessageID) (SiblingGroup, error) {
	if g, ok := c.cached(parent); ok {
		return g, nil
	}

	v, err, _ := c.flight.Do(parent.Value, func() (any, error) {
		// Re-check under flight: a racing call may have filled the cache.
		if g, ok := c.cached(parent); ok {
			return g, nil
		}
		page, err := c.src.FetchChildren(ctx, parent.Value)
		if err != nil {
			return SiblingGroup{}, err
		}
		g := groupFromPage(parent, page)
		c.mu.Lock()
		c.groups[parent.Value] = g
		c.mu.Unlock()
		return g, nil
	})
	if err != nil {
		return SiblingGroup{}, err
	}
	return v.(SiblingGroup), nil
}

// refresh drops and refetches a parent's group.
func (c *siblingCache) refresh(ctx context.Context, parent MessageID) (SiblingGroup, error) {
	c.invalidate(parent)
	return c.resolve(ctx, parent)
}

func (c *siblingCache) invalidate(parent MessageID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.groups, parent.Value)
}

func groupFromPage(parent MessageID, page SiblingPage) SiblingGroup {
	g := SiblingGroup{ParentID: parent, Total: page.Total}
	g.IDs = make([]MessageID, 0, len(page.Items))
	for _, m := range page.Items {
		g.IDs = append(g.IDs, m.ID)
	}
	if g.Total < len(g.IDs) {
		g.Total = len(g.IDs)
	}
	return g
}
