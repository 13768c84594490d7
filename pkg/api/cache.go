package api

import (
	"context"
	"errors"
	"time"
)

var (
	errCacheDisabled = errors.New("cache disabled")
	errCacheStopped  = errors.New("cache stopped")
)

type cacheRequest struct {
	ctx    context.Context
	key    string
	loader func(context.Context) ([]byte, error)
	reply  chan cacheResponse
}

type cacheResponse struct {
	data []byte
	err  error
}

// maxCacheEntries bounds the store; dot queries combine many parameters.
const maxCacheEntries = 512

type cacheEntry struct {
	data    []byte
	expires time.Time
}

// ResponseCache keeps rendered JSON bodies for a TTL. All state is owned by
// one goroutine; callers talk to it over channels. Keys carry the dataset
// generation, so a reload makes old entries unreachable and Purge only
// reclaims memory.
type ResponseCache struct {
	ttl      time.Duration
	requests chan cacheRequest
	purge    chan struct{}
	quit     chan struct{}
	now      func() time.Time
}

// NewResponseCache returns nil for a non-positive ttl; a nil cache is
// valid and never stores anything.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		return nil
	}
	c := &ResponseCache{
		ttl:      ttl,
		requests: make(chan cacheRequest),
		purge:    make(chan struct{}),
		quit:     make(chan struct{}),
		now:      time.Now,
	}
	go c.loop()
	return c
}

// Close stops the cache goroutine; later calls are no-ops.
func (c *ResponseCache) Close() {
	if c == nil {
		return
	}
	select {
	case <-c.quit:
	default:
		close(c.quit)
	}
}

// Purge drops every entry.
func (c *ResponseCache) Purge() {
	if c == nil {
		return
	}
	select {
	case c.purge <- struct{}{}:
	case <-c.quit:
	}
}

// Get returns the bytes cached under key, calling loader on a miss. The
// returned slice is a copy.
func (c *ResponseCache) Get(ctx context.Context, key string, loader func(context.Context) ([]byte, error)) ([]byte, error) {
	if c == nil {
		return nil, errCacheDisabled
	}
	req := cacheRequest{ctx: ctx, key: key, loader: loader, reply: make(chan cacheResponse, 1)}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.quit:
		return nil, errCacheStopped
	case c.requests <- req:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.quit:
		return nil, errCacheStopped
	case resp := <-req.reply:
		if resp.err != nil || resp.data == nil {
			return nil, resp.err
		}
		return append([]byte(nil), resp.data...), nil
	}
}

func (c *ResponseCache) loop() {
	store := make(map[string]cacheEntry)
	for {
		select {
		case <-c.quit:
			return
		case <-c.purge:
			clear(store)
		case req := <-c.requests:
			now := c.now()
			if e, ok := store[req.key]; ok && now.Before(e.expires) {
				req.reply <- cacheResponse{data: e.data}
				continue
			}
			delete(store, req.key)
			data, err := req.loader(req.ctx)
			if err == nil && data != nil {
				if len(store) >= maxCacheEntries {
					evictExpired(store, now)
				}
				if len(store) >= maxCacheEntries {
					clear(store)
				}
				store[req.key] = cacheEntry{data: append([]byte(nil), data...), expires: now.Add(c.ttl)}
			}
			req.reply <- cacheResponse{data: data, err: err}
		}
	}
}

func evictExpired(store map[string]cacheEntry, now time.Time) {
	for k, e := range store {
		if !now.Before(e.expires) {
			delete(store, k)
		}
	}
}
