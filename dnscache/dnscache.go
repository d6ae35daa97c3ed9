/*
Package dnscache implements a DialContext function that caches DNS
resolutions.
*/
package dnscache

import (
	"context"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// DialFunc is the shape of net.Dialer.DialContext and of the transport hook
// this package wraps.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// refreshAfter is how long a cached resolution is trusted before the next
// dial re-resolves it. Crawl workloads revisit the same hosts in bursts, so
// a short window keeps us honest about DNS changes without paying a lookup
// per request.
const refreshAfter = 5 * time.Minute

// Dial wraps the given dial function with caching of DNS resolutions. When a
// hostname is found in the cache the wrapped dial is called with the
// remembered IP address instead of the hostname, so no DNS lookup need be
// performed. Lookup failures are cached too: a host that would not resolve
// keeps failing fast until the refresh window passes.
//
// If wrappedDial is nil, a default net.Dialer is used.
func Dial(wrappedDial DialFunc, maxEntries int) (DialFunc, error) {
	if wrappedDial == nil {
		var d net.Dialer
		wrappedDial = d.DialContext
	}
	cache, err := lru.New(maxEntries)
	if err != nil {
		return nil, err
	}
	c := &dnsCache{
		wrappedDial: wrappedDial,
		cache:       cache,
	}
	return c.cachingDial, nil
}

// dnsCache wraps a DialContext-type function with its own version that
// caches resolved addresses in an LRU cache.
type dnsCache struct {
	wrappedDial DialFunc
	cache       *lru.Cache
	mu          sync.RWMutex
}

type hostrecord struct {
	ipaddr      string
	blacklisted bool
	err         error
	lastQuery   time.Time
}

func (c *dnsCache) cachingDial(ctx context.Context, network, addr string) (net.Conn, error) {
	key := network + addr
	c.mu.RLock()
	if entry, ok := c.cache.Get(key); ok {
		record := entry.(hostrecord)
		if time.Since(record.lastQuery) > refreshAfter {
			c.mu.RUnlock()
			return c.cacheHost(ctx, network, addr)
		}
		if record.blacklisted {
			err := record.err
			c.mu.RUnlock()
			return nil, err
		}
		resolvedAddr := record.ipaddr
		c.mu.RUnlock()

		conn, err := c.wrappedDial(ctx, network, resolvedAddr)
		if err != nil {
			// The remembered address went bad; fall through to a fresh
			// resolution rather than blacklisting the host outright.
			return c.cacheHost(ctx, network, addr)
		}
		return conn, nil
	}
	c.mu.RUnlock()
	return c.cacheHost(ctx, network, addr)
}

// cacheHost dials through the hostname, caching the resolved remote address
// (or the failure) and overwriting any previous entry.
func (c *dnsCache) cacheHost(ctx context.Context, network, addr string) (net.Conn, error) {
	key := network + addr
	conn, err := c.wrappedDial(ctx, network, addr)
	queryTime := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.cache.Add(key, hostrecord{
			blacklisted: true,
			err:         err,
			lastQuery:   queryTime,
		})
		return nil, err
	}
	c.cache.Add(key, hostrecord{
		ipaddr:    conn.RemoteAddr().String(),
		lastQuery: queryTime,
	})
	return conn, nil
}

// get returns the hostrecord associated with the passed network and address,
// if it exists. The second return reports whether the record exists.
func (c *dnsCache) get(network, addr string) (hostrecord, bool) {
	key := network + addr
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache.Get(key)
	if entry == nil {
		return hostrecord{}, ok
	}
	return entry.(hostrecord), ok
}
