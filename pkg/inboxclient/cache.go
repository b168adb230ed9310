package inboxclient

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Loader reads one key from the server.
type Loader[T Unit] func(ctx context.Context) (Snapshot[T], error)

type observer[T Unit] struct {
	mu      sync.Mutex
	active  bool
	lastSeq uint64
	fn      func([]T)
}

// deliver never runs fn after the observer was removed and never hands it a
// view older than one it already saw.
func (o *observer[T]) deliver(seq uint64, view []T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.active || seq <= o.lastSeq {
		return
	}
	o.lastSeq = seq
	o.fn(append([]T(nil), view...))
}

type entry[T Unit] struct {
	state     *collection[T]
	loaded    bool
	fetchedAt time.Time
	lastErr   error
	seq       uint64
	// gen moves on every invalidation. A load that started under an older
	// gen still merges its items but cannot mark the key fresh.
	gen       uint64
	observers map[uint64]*observer[T]
}

// Cache holds reconciled collections by key. Concurrent fetches of one key
// share a single request, stale values are served while a refresh runs in the
// background, and a failed refresh keeps the last good value.
type Cache[T Unit] struct {
	mu      sync.Mutex
	group   singleflight.Group
	entries map[string]*entry[T]
	ttl     time.Duration
	timeout time.Duration
	guard   guard[T]
	less    ordering[T]
	now     func() time.Time
	nextID  uint64
}

func newCache[T Unit](ttl, timeout time.Duration, g guard[T], less ordering[T]) *Cache[T] {
	return &Cache[T]{
		entries: make(map[string]*entry[T]),
		ttl:     ttl,
		timeout: timeout,
		guard:   g,
		less:    less,
		now:     time.Now,
	}
}

// entryFor must be called with c.mu held.
func (c *Cache[T]) entryFor(key string) *entry[T] {
	e, ok := c.entries[key]
	if !ok {
		e = &entry[T]{
			state:     newCollection(c.guard, c.less),
			observers: make(map[uint64]*observer[T]),
		}
		c.entries[key] = e
	}
	return e
}

// Fetch always asks the server, joining a request already in flight for the
// same key. The request itself runs under the cache timeout and completes
// even if ctx is cancelled, so the result still lands in the cache.
func (c *Cache[T]) Fetch(ctx context.Context, key string, load Loader[T]) ([]T, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		c.mu.Lock()
		gen := c.entryFor(key).gen
		c.mu.Unlock()

		snapshot, err := load(loadCtx)
		if err != nil {
			c.mu.Lock()
			c.entryFor(key).lastErr = err
			c.mu.Unlock()
			return nil, err
		}
		return c.store(key, snapshot, gen), nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]T), nil
	}
}

// Get serves the cached view when there is one, starting a background
// refresh if it is older than the TTL. Only the first read of a key blocks.
func (c *Cache[T]) Get(ctx context.Context, key string, load Loader[T]) ([]T, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || !e.loaded {
		c.mu.Unlock()
		return c.Fetch(ctx, key, load)
	}
	view := e.state.view()
	stale := c.now().Sub(e.fetchedAt) >= c.ttl
	c.mu.Unlock()

	if stale {
		go func() {
			_, _ = c.Fetch(context.Background(), key, load)
		}()
	}
	return view, nil
}

// Peek returns the cached view without touching the network.
func (c *Cache[T]) Peek(key string) ([]T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !e.loaded {
		return nil, false
	}
	return e.state.view(), true
}

// Subscribe registers fn for every change of key. If the key is already
// loaded fn receives the current view right away. The returned func removes
// fn; once it returns fn is never called again. It must not be called from
// inside fn.
func (c *Cache[T]) Subscribe(key string, fn func([]T)) func() {
	o := &observer[T]{fn: fn, active: true}

	c.mu.Lock()
	e := c.entryFor(key)
	c.nextID++
	id := c.nextID
	e.observers[id] = o
	loaded, seq, view := e.loaded, e.seq, e.state.view()
	c.mu.Unlock()

	if loaded {
		o.deliver(seq, view)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// blocks until a callback already running returns
			o.mu.Lock()
			o.active = false
			o.mu.Unlock()

			c.mu.Lock()
			delete(e.observers, id)
			c.mu.Unlock()
		})
	}
}

// Push merges units that arrived outside a full read, e.g. from the push
// channel. It never prunes.
func (c *Cache[T]) Push(key string, items ...T) {
	c.update(key, func(state *collection[T]) bool {
		changed := false
		for _, item := range items {
			if state.upsert(item) {
				changed = true
			}
		}
		return changed
	})
}

// PushTracked is Push limited to keys that are loaded or watched. Units for
// any other key are dropped; they arrive with that key's first read.
func (c *Cache[T]) PushTracked(key string, items ...T) bool {
	c.mu.Lock()
	e, ok := c.entries[key]
	tracked := ok && (e.loaded || len(e.observers) > 0)
	c.mu.Unlock()

	if tracked {
		c.Push(key, items...)
	}
	return tracked
}

// Remove tombstones one item of key.
func (c *Cache[T]) Remove(key, itemKey string, at time.Time) {
	c.update(key, func(state *collection[T]) bool {
		return state.remove(itemKey, at)
	})
}

// Invalidate marks key stale so the next Get refreshes it. A request
// already in flight is not joined by later fetches and cannot make the key
// fresh again.
func (c *Cache[T]) Invalidate(key string) {
	c.invalidate(key)
}

func (c *Cache[T]) invalidate(key string) (watched bool) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.gen++
		e.fetchedAt = time.Time{}
		watched = len(e.observers) > 0
	}
	c.mu.Unlock()
	c.group.Forget(key)
	return watched
}

// Refresh marks key stale and refetches it in the background if anyone is
// watching it. Unwatched keys refresh on their next Get.
func (c *Cache[T]) Refresh(key string, load Loader[T]) {
	if c.invalidate(key) {
		go func() {
			_, _ = c.Fetch(context.Background(), key, load)
		}()
	}
}

// Stale reports whether key is missing or older than the TTL.
func (c *Cache[T]) Stale(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return !ok || !e.loaded || c.now().Sub(e.fetchedAt) >= c.ttl
}

// LastError is the error of the most recent failed fetch of key, cleared by
// the next successful one.
func (c *Cache[T]) LastError(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.lastErr
	}
	return nil
}

// ObservedKeys lists keys that currently have at least one observer.
func (c *Cache[T]) ObservedKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for key, e := range c.entries {
		if len(e.observers) > 0 {
			keys = append(keys, key)
		}
	}
	return keys
}

func (c *Cache[T]) store(key string, snapshot Snapshot[T], gen uint64) []T {
	c.mu.Lock()
	e := c.entryFor(key)
	changed := e.state.apply(snapshot)
	first := !e.loaded
	e.loaded = true
	if gen == e.gen {
		e.fetchedAt = c.now()
		e.lastErr = nil
	}
	view, seq, observers := c.changedLocked(e, changed || first)
	c.mu.Unlock()

	notify(observers, seq, view)
	return view
}

func (c *Cache[T]) update(key string, mutate func(state *collection[T]) bool) {
	c.mu.Lock()
	e := c.entryFor(key)
	changed := mutate(e.state)
	view, seq, observers := c.changedLocked(e, changed && e.loaded)
	c.mu.Unlock()

	notify(observers, seq, view)
}

// changedLocked bumps the entry sequence and returns who to tell. It returns
// no observers when nothing changed.
func (c *Cache[T]) changedLocked(e *entry[T], changed bool) ([]T, uint64, []*observer[T]) {
	view := e.state.view()
	if !changed {
		return view, e.seq, nil
	}
	e.seq++
	observers := make([]*observer[T], 0, len(e.observers))
	for _, o := range e.observers {
		observers = append(observers, o)
	}
	return view, e.seq, observers
}

func notify[T Unit](observers []*observer[T], seq uint64, view []T) {
	for _, o := range observers {
		o.deliver(seq, view)
	}
}
