// Package cache provides the query result cache: a TTL-bounded LRU with
// request coalescing, so N concurrent identical queries trigger exactly
// one pipeline execution.
package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Status describes how a lookup was served.
type Status string

const (
	// StatusHit means the entry was served from the cache.
	StatusHit Status = "hit"
	// StatusMiss means this caller led the computation.
	StatusMiss Status = "miss"
	// StatusCoalesced means the caller joined another caller's in-flight
	// computation for the same fingerprint.
	StatusCoalesced Status = "coalesced"
)

// Default cache sizing. Entries are short-lived since the underlying
// corpus can change between queries.
const (
	DefaultCapacity = 512
	DefaultTTL      = 60 * time.Second
)

// Cache memoizes computed values keyed by request fingerprint.
//
// The first caller to miss becomes the leader and runs compute; callers
// arriving for the same fingerprint while it is in flight block on the
// leader's result instead of recomputing. The leader runs on a context
// detached from its own caller's cancellation, so a caller abandoning
// its request cannot strand the other waiters.
type Cache[V any] struct {
	entries *expirable.LRU[string, V]
	flight  singleflight.Group
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Cache.
type Option[V any] func(*config)

type config struct {
	capacity int
	ttl      time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// WithCapacity sets the maximum number of cached entries.
func WithCapacity[V any](n int) Option[V] {
	return func(c *config) {
		c.capacity = n
	}
}

// WithTTL sets the entry expiry window.
func WithTTL[V any](d time.Duration) Option[V] {
	return func(c *config) {
		c.ttl = d
	}
}

// WithComputeTimeout bounds a leader's computation time.
func WithComputeTimeout[V any](d time.Duration) Option[V] {
	return func(c *config) {
		c.timeout = d
	}
}

// WithLogger sets the structured logger.
func WithLogger[V any](l *slog.Logger) Option[V] {
	return func(c *config) {
		c.logger = l
	}
}

// New creates a query cache with the given options.
func New[V any](opts ...Option[V]) *Cache[V] {
	cfg := config{
		capacity: DefaultCapacity,
		ttl:      DefaultTTL,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Cache[V]{
		entries: expirable.NewLRU[string, V](cfg.capacity, nil, cfg.ttl),
		timeout: cfg.timeout,
		logger:  cfg.logger,
	}
}

// GetOrCompute returns the cached value for fingerprint, or runs compute
// exactly once across all concurrent callers and caches its result.
//
// Errors are never cached: a failed computation propagates the same error
// to the leader and every coalesced waiter, and the next caller retries.
// If the caller's ctx is cancelled while waiting, the caller unblocks
// with ctx.Err() but the leader keeps running for the remaining waiters.
func (c *Cache[V]) GetOrCompute(ctx context.Context, fingerprint string, compute func(context.Context) (V, error)) (V, Status, error) {
	if value, ok := c.entries.Get(fingerprint); ok {
		return value, StatusHit, nil
	}

	// leader is atomic: the abandon path below reads it without the
	// happens-before edge a channel receive would provide.
	var leader atomic.Bool
	ch := c.flight.DoChan(fingerprint, func() (any, error) {
		leader.Store(true)

		// The leader outlives any single caller: detach from the caller's
		// cancellation and bound the work by the compute timeout instead.
		computeCtx := context.WithoutCancel(ctx)
		if c.timeout > 0 {
			var cancel context.CancelFunc
			computeCtx, cancel = context.WithTimeout(computeCtx, c.timeout)
			defer cancel()
		}

		value, err := compute(computeCtx)
		if err != nil {
			return nil, err
		}

		c.entries.Add(fingerprint, value)
		return value, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, statusFor(leader.Load(), res.Shared), res.Err
		}
		return res.Val.(V), statusFor(leader.Load(), res.Shared), nil

	case <-ctx.Done():
		c.logger.Debug("caller abandoned cached computation",
			slog.String("fingerprint", fingerprint))
		var zero V
		return zero, statusFor(leader.Load(), true), ctx.Err()
	}
}

func statusFor(leader, shared bool) Status {
	if leader || !shared {
		return StatusMiss
	}
	return StatusCoalesced
}

// Remove evicts a single fingerprint.
func (c *Cache[V]) Remove(fingerprint string) {
	c.entries.Remove(fingerprint)
}

// Purge evicts every entry. Used when collection tiers are re-configured,
// since any cached ordering may now be stale.
func (c *Cache[V]) Purge() {
	c.entries.Purge()
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	return c.entries.Len()
}
