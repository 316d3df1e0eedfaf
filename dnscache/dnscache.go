/*
Package dnscache provides a DialContext wrapper that caches DNS resolutions.

A crawl hits the same hostnames over and over; resolving each fetch from
scratch wastes a network round trip per request and hammers the resolver.
Failures are cached too, so a dead hostname costs one lookup, not one per
queued URL.
*/
package dnscache

import (
	"context"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ttl is how long a resolution (or a failure) is trusted before the host is
// looked up again.
const ttl = 5 * time.Minute

type record struct {
	ip       string
	err      error
	resolved time.Time
}

// Resolver is an LRU-bounded DNS cache.
type Resolver struct {
	mu    sync.Mutex
	cache *lru.Cache[string, record]

	// lookup can be swapped out in tests.
	lookup func(ctx context.Context, host string) ([]net.IPAddr, error)
}

// New creates a Resolver holding at most maxEntries hosts.
func New(maxEntries int) *Resolver {
	if maxEntries < 1 {
		maxEntries = 1
	}
	cache, err := lru.New[string, record](maxEntries)
	if err != nil {
		panic(err)
	}
	r := &Resolver{cache: cache}
	r.lookup = func(ctx context.Context, host string) ([]net.IPAddr, error) {
		return net.DefaultResolver.LookupIPAddr(ctx, host)
	}
	return r
}

// Resolve returns an IP address for host, from cache when fresh.
func (r *Resolver) Resolve(ctx context.Context, host string) (string, error) {
	r.mu.Lock()
	if rec, ok := r.cache.Get(host); ok && time.Since(rec.resolved) < ttl {
		r.mu.Unlock()
		return rec.ip, rec.err
	}
	r.mu.Unlock()

	addrs, err := r.lookup(ctx, host)
	rec := record{resolved: time.Now()}
	if err != nil {
		rec.err = err
	} else if len(addrs) == 0 {
		rec.err = &net.DNSError{Err: "no addresses", Name: host}
	} else {
		rec.ip = addrs[0].IP.String()
	}

	r.mu.Lock()
	r.cache.Add(host, rec)
	r.mu.Unlock()
	return rec.ip, rec.err
}

// Len reports how many hosts are cached.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Len()
}

// DialContext wraps dialer with cached resolution. Addresses that are
// already IP literals pass straight through.
func (r *Resolver) DialContext(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return dialer.DialContext(ctx, network, addr)
		}
		if net.ParseIP(host) != nil {
			return dialer.DialContext(ctx, network, addr)
		}
		ip, err := r.Resolve(ctx, host)
		if err != nil {
			return nil, err
		}
		return dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
	}
}
