// Package links shares links between users. Resolving the same address
// twice yields the same underlying Link; the link is closed when the last
// handle to it is closed.
package links

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/shaunagostinho/ardulink-go/internal/link"
	"github.com/shaunagostinho/ardulink-go/internal/linkmanager"
	"github.com/shaunagostinho/ardulink-go/internal/observability"
	"github.com/shaunagostinho/ardulink-go/internal/pin"
)

// ErrCacheClosed is returned by Resolve after Close.
var ErrCacheClosed = errors.New("link cache closed")

// entry is one shared link. ready is closed once construction finished;
// until then link and err must not be read.
type entry struct {
	key   string
	ready chan struct{}
	link  *link.Link
	err   error

	// Guarded by Cache.mu. closing is set by whoever closes the link.
	refs    int
	closing bool

	listenMu  sync.Mutex
	listening map[pin.Pin]int
}

// Cache maps canonical link keys to shared links. It is safe for
// concurrent use.
type Cache struct {
	registry *linkmanager.Registry
	log      zerolog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// NewCache returns an empty cache building links from registry.
func NewCache(registry *linkmanager.Registry) *Cache {
	return &Cache{
		registry: registry,
		log:      observability.Component("cache"),
		entries:  make(map[string]*entry),
	}
}

// Resolve returns a handle to the link for uri, opening it if no handle to
// an equivalent address is open. Concurrent resolvers of one key share a
// single construction; if it fails they all get the error and no entry is
// left behind.
func (c *Cache) Resolve(ctx context.Context, uri string) (*Handle, error) {
	f, cfg, err := c.registry.Resolve(uri)
	if err != nil {
		observability.RecordResolve(observability.ResolveError)
		return nil, err
	}
	key := cfg.Key()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrCacheClosed
	}
	if e, ok := c.entries[key]; ok {
		e.refs++
		c.mu.Unlock()
		<-e.ready
		if e.err != nil {
			c.release(e)
			return nil, e.err
		}
		observability.RecordResolve(observability.ResolveHit)
		return newHandle(c, e), nil
	}
	e := &entry{key: key, ready: make(chan struct{}), refs: 1, listening: make(map[pin.Pin]int)}
	c.entries[key] = e
	c.mu.Unlock()

	l, err := f.Open(ctx, cfg)
	if err == nil && l == nil {
		err = fmt.Errorf("links: factory %s returned no link", f.Name)
	}
	if err != nil {
		e.err = err
		c.mu.Lock()
		if c.entries[key] == e {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		close(e.ready)
		c.release(e)
		observability.RecordResolve(observability.ResolveError)
		c.log.Warn().Err(err).Str("key", key).Msg("open failed")
		return nil, err
	}
	e.link = l
	close(e.ready)
	observability.AddCacheEntries(1)
	observability.RecordResolve(observability.ResolveMiss)
	c.log.Info().Str("key", key).Str("link", l.ID()).Msg("opened")
	return newHandle(c, e), nil
}

// Default resolves the registry's default link.
func (c *Cache) Default(ctx context.Context) (*Handle, error) {
	return c.Resolve(ctx, linkmanager.Scheme+"://"+linkmanager.DefaultName)
}

// release drops one reference. The last one closes the link.
func (c *Cache) release(e *entry) {
	c.mu.Lock()
	e.refs--
	last := e.refs == 0 && !e.closing
	if last {
		e.closing = true
		if c.entries[e.key] == e {
			delete(c.entries, e.key)
		}
	}
	c.mu.Unlock()

	if !last || e.link == nil {
		return
	}
	observability.AddCacheEntries(-1)
	if err := e.link.Close(); err != nil {
		c.log.Warn().Err(err).Str("key", e.key).Msg("close failed")
	}
	c.log.Info().Str("key", e.key).Msg("closed")
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RefCount reports the open handles for the link uri resolves to, or 0.
func (c *Cache) RefCount(uri string) int {
	_, cfg, err := c.registry.Resolve(uri)
	if err != nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[cfg.Key()]; ok {
		return e.refs
	}
	return 0
}

// Close closes every cached link regardless of open handles and rejects
// further resolves. Handles still open become inert: their Close is a
// no-op and their link reports link.ErrClosed.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	entries := c.entries
	c.entries = make(map[string]*entry)
	for _, e := range entries {
		e.closing = true
	}
	c.mu.Unlock()

	var errs []error
	for _, e := range entries {
		<-e.ready
		if e.link == nil {
			continue
		}
		observability.AddCacheEntries(-1)
		if err := e.link.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.key, err))
		}
	}
	return errors.Join(errs...)
}
