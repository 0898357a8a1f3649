/*
Package swr keeps client-side copies of server resources fresh with bounded staleness.

Key Architectural Concepts:
  - Stale-While-Revalidate: once a key has loaded, readers get the last good value immediately and
    a refresh runs behind them. Only the very first load of a key waits on the network.
  - Triggers vs Revalidation: interval ticks, focus, reconnect and push hints are all just triggers.
    They feed one revalidation path; a pushed payload never becomes the cached value.
  - In-flight Collapse: concurrent revalidations of one key share a single fetch (singleflight).
    Soft triggers are additionally dropped inside the dedupe window after the last fetch.
  - Failure Policy: retries belong to the Fetcher (see infra/client/fetch). When a revalidation
    still fails, the last good value stays and State.Err is set. A circuit breaker stops hammering
    an API that keeps failing.
*/
package swr

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Fetcher loads the authoritative value for key.
type Fetcher[T any] func(ctx context.Context, key string) (T, error)

// Trigger names what asked for a revalidation.
type Trigger int

const (
	TriggerGet Trigger = iota
	TriggerFocus
	TriggerReconnect
	TriggerInterval
	TriggerPush
	TriggerManual
)

func (t Trigger) String() string {
	switch t {
	case TriggerGet:
		return "get"
	case TriggerFocus:
		return "focus"
	case TriggerReconnect:
		return "reconnect"
	case TriggerInterval:
		return "interval"
	case TriggerPush:
		return "push"
	case TriggerManual:
		return "manual"
	default:
		return "unknown"
	}
}

// forced triggers always fetch; the others respect the dedupe window.
func (t Trigger) forced() bool {
	return t == TriggerInterval || t == TriggerPush
}

// State is what a consumer renders: the last good value plus freshness flags.
type State[T any] struct {
	Data         T
	HasData      bool
	Err          error // error of the latest revalidation; cleared on success
	IsValidating bool
	UpdatedAt    time.Time // time of the last successful fetch
}

type Options struct {
	DedupeInterval  time.Duration
	RefreshInterval time.Duration // zero disables interval polling
	FetchTimeout    time.Duration // bounds one revalidation including the fetcher's retries
	MaxEntries      int
	Concurrency     int // parallel fetches when revalidating every key

	// BreakerFailures consecutive failed revalidations open the breaker for BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.DedupeInterval <= 0 {
		o.DedupeInterval = 2 * time.Second
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 30 * time.Second
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = 256
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = 5
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

type entry[T any] struct {
	state     State[T]
	lastFetch time.Time // start of the latest fetch
	inflight  bool
}

type Cache[T any] struct {
	fetch   Fetcher[T]
	opts    Options
	logger  *slog.Logger
	group   singleflight.Group
	breaker *gobreaker.CircuitBreaker

	// [CONCURRENCY_CONTROL] guards the entries, every field inside them, and the watchers.
	mu      sync.Mutex
	entries *lru.Cache[string, *entry[T]]

	// watchers are keyed by name, not by entry: an evicted key that is reloaded still reaches them.
	watchers    map[string]map[int]chan State[T]
	nextWatcher int
}

func New[T any](fetch Fetcher[T], opts Options) *Cache[T] {
	opts = opts.withDefaults()
	entries, _ := lru.New[string, *entry[T]](opts.MaxEntries)

	c := &Cache[T]{
		fetch:   fetch,
		opts:    opts,
		logger:   opts.Logger.With("component", "swr"),
		entries:  entries,
		watchers: make(map[string]map[int]chan State[T]),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "swr",
		Timeout: opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("SWR_BREAKER_STATE", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// entry returns the entry for key, creating it. Must be called with c.mu held.
func (c *Cache[T]) entry(key string) *entry[T] {
	if e, ok := c.entries.Get(key); ok {
		return e
	}
	e := &entry[T]{}
	c.entries.Add(key, e)
	return e
}

// Get returns the cached state for key. A key that has never loaded is fetched synchronously;
// afterwards the cached value is returned at once and a refresh is started if the dedupe window
// has passed.
func (c *Cache[T]) Get(ctx context.Context, key string) (State[T], error) {
	c.mu.Lock()
	e := c.entry(key)
	st := e.state
	c.mu.Unlock()

	if !st.HasData {
		st = c.revalidate(ctx, key, TriggerGet)
		return st, st.Err
	}

	go c.revalidate(context.WithoutCancel(ctx), key, TriggerGet)
	return st, nil
}

// Peek returns the current state without triggering anything.
func (c *Cache[T]) Peek(key string) State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries.Peek(key); ok {
		return e.state
	}
	return State[T]{}
}

// Keys lists cached keys, oldest first, followed by watched keys that were evicted.
func (c *Cache[T]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.entries.Keys()
	for key := range c.watchers {
		if !c.entries.Contains(key) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Revalidate refreshes key unless it was fetched inside the dedupe window. Callers that arrive
// while a fetch is running share its result.
func (c *Cache[T]) Revalidate(ctx context.Context, key string) State[T] {
	return c.revalidate(ctx, key, TriggerManual)
}

// Refresh always fetches key, joining a fetch that is already running.
func (c *Cache[T]) Refresh(ctx context.Context, key string) State[T] {
	return c.revalidate(ctx, key, TriggerPush)
}

// Focus revalidates every key after the consumer regains attention.
func (c *Cache[T]) Focus(ctx context.Context) error { return c.revalidateAll(ctx, TriggerFocus) }

// Reconnect revalidates every key after the network came back.
func (c *Cache[T]) Reconnect(ctx context.Context) error {
	return c.revalidateAll(ctx, TriggerReconnect)
}

// Notify is the push hint: any change event, whatever its kind or payload, refreshes every key.
func (c *Cache[T]) Notify(ctx context.Context) error { return c.revalidateAll(ctx, TriggerPush) }

// Run polls every key on RefreshInterval until ctx is done. It returns at once when
// interval polling is disabled.
func (c *Cache[T]) Run(ctx context.Context) error {
	if c.opts.RefreshInterval <= 0 {
		return nil
	}

	ticker := time.NewTicker(c.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.revalidateAll(ctx, TriggerInterval); err != nil {
				c.logger.Debug("SWR_INTERVAL_FAILED", "err", err)
			}
		}
	}
}

// Watch delivers every state change of key. Slow watchers only see the latest state.
func (c *Cache[T]) Watch(key string) (<-chan State[T], func()) {
	ch := make(chan State[T], 1)

	c.mu.Lock()
	c.entry(key)
	id := c.nextWatcher
	c.nextWatcher++
	if c.watchers[key] == nil {
		c.watchers[key] = make(map[int]chan State[T])
	}
	c.watchers[key][id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers[key], id)
			if len(c.watchers[key]) == 0 {
				delete(c.watchers, key)
			}
			c.mu.Unlock()
		})
	}
}

// publish must be called with c.mu held.
func (c *Cache[T]) publish(key string, st State[T]) {
	for _, ch := range c.watchers[key] {
		select {
		case <-ch:
		default:
		}
		ch <- st
	}
}

func (c *Cache[T]) revalidateAll(ctx context.Context, trigger Trigger) error {
	var g errgroup.Group
	g.SetLimit(c.opts.Concurrency)

	for _, key := range c.Keys() {
		g.Go(func() error {
			return c.revalidate(ctx, key, trigger).Err
		})
	}
	return g.Wait()
}

func (c *Cache[T]) revalidate(ctx context.Context, key string, trigger Trigger) State[T] {
	c.mu.Lock()
	e := c.entry(key)
	// [DEDUPE_WINDOW] a soft trigger right after a fetch, or while one runs, reuses it.
	if !trigger.forced() && !e.inflight && e.state.HasData && time.Since(e.lastFetch) < c.opts.DedupeInterval {
		st := e.state
		c.mu.Unlock()
		return st
	}
	c.mu.Unlock()

	// [IN_FLIGHT_COLLAPSE] everyone asking for key while a fetch runs shares that fetch.
	ch := c.group.DoChan(key, func() (any, error) {
		return c.load(ctx, key, trigger), nil
	})

	select {
	case res := <-ch:
		return res.Val.(State[T])
	case <-ctx.Done():
		// the shared fetch keeps running for the other callers
		st := c.Peek(key)
		st.Err = ctx.Err()
		return st
	}
}

func (c *Cache[T]) load(ctx context.Context, key string, trigger Trigger) State[T] {
	c.mu.Lock()
	e := c.entry(key)
	e.inflight = true
	e.lastFetch = time.Now()
	e.state.IsValidating = true
	c.publish(key, e.state)
	c.mu.Unlock()

	// the fetch is shared, so it must not die with the caller that happened to start it
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.FetchTimeout)
	defer cancel()

	start := time.Now()
	v, err := c.breaker.Execute(func() (any, error) {
		return c.fetch(fctx, key)
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	e.inflight = false
	// the key may have been evicted while fetching; the result goes to whatever entry holds it now
	if cur := c.entry(key); cur != e {
		if !cur.state.HasData {
			cur.state = e.state
		}
		cur.lastFetch = e.lastFetch
		e = cur
	}
	e.state.IsValidating = false
	if err != nil {
		// [STALE_ON_ERROR] keep the last good value, expose the failure.
		e.state.Err = err
		level := slog.LevelWarn
		if errors.Is(err, gobreaker.ErrOpenState) {
			level = slog.LevelDebug
		}
		c.logger.Log(ctx, level, "SWR_REVALIDATE_FAILED",
			"key", key,
			"trigger", trigger.String(),
			"stale", e.state.HasData,
			"err", err,
		)
	} else {
		data, _ := v.(T)
		e.state.Data = data
		e.state.HasData = true
		e.state.Err = nil
		e.state.UpdatedAt = time.Now()
		c.logger.Debug("SWR_REVALIDATED",
			"key", key,
			"trigger", trigger.String(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	c.publish(key, e.state)
	return e.state
}
