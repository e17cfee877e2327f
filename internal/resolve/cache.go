package resolve

import (
	"context"
	"net/netip"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// Cache remembers successful resolutions for a fixed TTL. Failures are not
// cached. Concurrent lookups of the same host share one underlying query.
type Cache struct {
	next  Resolver
	cache *gocache.Cache
	sf    singleflight.Group
}

// NewCache wraps next with a cache whose entries live for ttl.
func NewCache(next Resolver, ttl time.Duration) *Cache {
	return &Cache{
		next:  next,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Resolve returns a cached address or asks the wrapped resolver.
//
// The underlying query is not tied to ctx, so one caller giving up doesn't
// fail the others waiting on the same host.
func (c *Cache) Resolve(ctx context.Context, host string) (netip.Addr, error) {
	if a, ok, err := Literal(host); ok {
		return a, err
	}
	if v, ok := c.cache.Get(host); ok {
		return v.(netip.Addr), nil
	}

	ch := c.sf.DoChan(host, func() (any, error) {
		a, err := c.next.Resolve(context.WithoutCancel(ctx), host)
		if err != nil {
			return nil, err
		}
		c.cache.SetDefault(host, a)
		return a, nil
	})

	select {
	case <-ctx.Done():
		return netip.Addr{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return netip.Addr{}, res.Err
		}
		return res.Val.(netip.Addr), nil
	}
}

// Flush drops every cached entry.
func (c *Cache) Flush() {
	c.cache.Flush()
}
