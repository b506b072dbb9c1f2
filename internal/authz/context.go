package authz

import (
	"context"
	"sync"
)

type principalContextKey struct{}

// ContextWithPrincipal stores the request principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the request principal.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

type requestCacheKey struct{}

type requestCache struct {
	mu   sync.Mutex
	sets map[string]*GrantSet
}

// WithRequestCache installs a per-request grant cache. It dies with the request.
func WithRequestCache(ctx context.Context) context.Context {
	if requestCacheFrom(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, requestCacheKey{}, &requestCache{sets: map[string]*GrantSet{}})
}

func requestCacheFrom(ctx context.Context) *requestCache {
	c, _ := ctx.Value(requestCacheKey{}).(*requestCache)
	return c
}

func cacheKey(p Principal) string {
	return p.TenantID + "\x00" + p.ID
}

func (c *requestCache) get(p Principal) (*GrantSet, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.sets[cacheKey(p)]
	return set, ok
}

func (c *requestCache) put(p Principal, set *GrantSet) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets[cacheKey(p)] = set
}
