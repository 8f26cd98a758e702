// Package store implements the concurrent, time-to-live keyed store that backs
// arrivals and presence.
//
// Entries expire a fixed TTL after their most recent write (sliding TTL).
// Expired entries are never returned; they are physically removed by the
// housekeeping sweep in Run. InvalidateAll hides every existing entry at once
// and RunPendingTasks blocks until those entries have been removed and their
// keys scrubbed.
//
// Each shard is an expirable.LRU built without a TTL, used for its keyed
// storage and eviction callback. Expiry is tracked per entry against the
// store's clock, so the LRU starts no cleanup goroutine of its own.
package store

import (
	"context"
	"crypto/rand"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/crypto/blake2b"

	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/secret"
)

// DefaultTTL is how long an entry stays visible after its last write.
const DefaultTTL = 6 * time.Hour

const (
	defaultShards               = 16
	defaultHousekeepingInterval = time.Minute
)

type digest [blake2b.Size256]byte

type entry[V any] struct {
	key        *secret.Value
	value      V
	generation uint64
	expires    time.Time
}

type shard[V any] struct {
	// mu orders writers on the shard; readers go straight to the LRU.
	mu  sync.Mutex
	lru *expirable.LRU[digest, *entry[V]]
}

// Store is a sharded expiring map from identity to V.
type Store[V any] struct {
	name     string
	ttl      time.Duration
	interval time.Duration
	hashKey  []byte
	shards   []*shard[V]
	now      func() time.Time

	generation atomic.Uint64
	sweepMu    sync.Mutex
	wake       chan struct{}
}

type options struct {
	name     string
	ttl      time.Duration
	shards   int
	interval time.Duration
	now      func() time.Time
}

// Option configures a Store.
type Option func(*options)

// WithTTL sets the sliding time-to-live. Non-positive values keep the default.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithShards sets the number of independently locked shards.
func WithShards(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.shards = n
		}
	}
}

// WithHousekeepingInterval sets how often Run sweeps invalidated entries.
func WithHousekeepingInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithName labels the store in logs and metrics.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// New creates an empty Store.
func New[V any](opts ...Option) (*Store[V], error) {
	o := options{
		name:     "store",
		ttl:      DefaultTTL,
		shards:   defaultShards,
		interval: defaultHousekeepingInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	hashKey := make([]byte, 32)
	if _, err := rand.Read(hashKey); err != nil {
		return nil, fmt.Errorf("generate %s digest key: %w", o.name, err)
	}

	s := &Store[V]{
		name:     o.name,
		ttl:      o.ttl,
		interval: o.interval,
		hashKey:  hashKey,
		shards:   make([]*shard[V], o.shards),
		now:      o.now,
		wake:     make(chan struct{}, 1),
	}
	for i := range s.shards {
		// size 0: unbounded; ttl 0: expiry is checked by the store
		s.shards[i] = &shard[V]{lru: expirable.NewLRU[digest, *entry[V]](0, evicted[V], 0)}
	}
	return s, nil
}

// evicted scrubs the store-owned key clone whenever an entry leaves a shard,
// whether by expiry, removal, overwrite or purge.
func evicted[V any](_ digest, e *entry[V]) {
	e.key.Wipe()
}

// Name returns the label given with WithName.
func (s *Store[V]) Name() string {
	return s.name
}

// TTL returns the sliding time-to-live.
func (s *Store[V]) TTL() time.Duration {
	return s.ttl
}

func (s *Store[V]) locate(key *secret.Value) (digest, *shard[V], error) {
	var d digest
	h, err := blake2b.New256(s.hashKey)
	if err != nil {
		return d, nil, err
	}
	key.Use(func(b []byte) { h.Write(b) })
	h.Sum(d[:0])
	return d, s.shards[int(d[0])%len(s.shards)], nil
}

// Insert stores value under key, replacing any previous entry, and resets the
// entry's expiry to now plus TTL. The store keeps its own copy of key; the
// caller remains responsible for wiping the one it passed in.
//
// The only error is ctx.Err() when the context was cancelled before the write
// was applied, in which case the store is unchanged.
func (s *Store[V]) Insert(ctx context.Context, key *secret.Value, value V) error {
	if key.IsZero() {
		return ErrEmptyKey
	}
	d, sh, err := s.locate(key)
	if err != nil {
		return err
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	// Remove first so the eviction callback scrubs the previous key clone even
	// if that entry already expired.
	sh.lru.Remove(d)
	sh.lru.Add(d, &entry[V]{
		key:        key.Clone(),
		value:      value,
		generation: s.generation.Load(),
		expires:    s.now().Add(s.ttl),
	})
	return nil
}

// Remove deletes the entry for key. Removing an absent key is a no-op.
func (s *Store[V]) Remove(ctx context.Context, key *secret.Value) error {
	if key.IsZero() {
		return nil
	}
	d, sh, err := s.locate(key)
	if err != nil {
		return err
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	sh.lru.Remove(d)
	return nil
}

// Get returns the value stored for key if it is neither expired nor
// invalidated.
func (s *Store[V]) Get(key *secret.Value) (V, bool) {
	var zero V
	if key.IsZero() {
		return zero, false
	}
	d, sh, err := s.locate(key)
	if err != nil {
		return zero, false
	}
	e, ok := sh.lru.Get(d)
	if !ok || !s.live(e) || !e.key.Equal(key) {
		return zero, false
	}
	return e.value, true
}

func (s *Store[V]) live(e *entry[V]) bool {
	return s.current(e, s.generation.Load(), s.now())
}

// current reports whether e belongs to generation gen and has not expired at
// now. A nil entry is never current.
func (s *Store[V]) current(e *entry[V], gen uint64, now time.Time) bool {
	return e != nil && e.generation == gen && now.Before(e.expires) && !e.key.IsZero()
}

// All yields every live entry. Shards are visited one after another, so the
// sequence is not a single atomic snapshot, but each yielded pair is
// consistent. The yielded key is owned by the store and may be wiped once the
// entry is evicted; copy what you need before returning from the loop body.
func (s *Store[V]) All() iter.Seq2[*secret.Value, V] {
	return func(yield func(*secret.Value, V) bool) {
		for _, sh := range s.shards {
			gen, now := s.generation.Load(), s.now()
			for _, d := range sh.lru.Keys() {
				e, ok := sh.lru.Peek(d)
				if !ok || !s.current(e, gen, now) {
					continue
				}
				if !yield(e.key, e.value) {
					return
				}
			}
		}
	}
}

// Snapshot copies all live entries into a map keyed by the identity string.
// The returned strings cannot be scrubbed; use it only at the response
// boundary.
func (s *Store[V]) Snapshot() map[string]V {
	out := make(map[string]V)
	for key, value := range s.All() {
		if name := key.String(); name != "" {
			out[name] = value
		}
	}
	return out
}

// Len returns the number of live entries.
func (s *Store[V]) Len() int {
	n := 0
	for range s.All() {
		n++
	}
	return n
}

// InvalidateAll hides every entry written so far and schedules their removal.
// Entries inserted afterwards are unaffected.
func (s *Store[V]) InvalidateAll() {
	s.generation.Add(1)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// RunPendingTasks blocks until every invalidated entry has been physically
// removed and its key scrubbed. If ctx ends first, the sweep still completes
// in the background and ctx.Err() is returned.
func (s *Store[V]) RunPendingTasks(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.sweep()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sweep removes invalidated and expired entries. A shard holding nothing
// current is purged outright.
func (s *Store[V]) sweep() int {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	gen, now := s.generation.Load(), s.now()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		var stale []digest
		current := 0
		for _, d := range sh.lru.Keys() {
			e, ok := sh.lru.Peek(d)
			if !ok {
				continue
			}
			if s.current(e, gen, now) {
				current++
				continue
			}
			stale = append(stale, d)
		}
		if current == 0 {
			removed += sh.lru.Len()
			sh.lru.Purge()
		} else {
			for _, d := range stale {
				if sh.lru.Remove(d) {
					removed++
				}
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Run performs background housekeeping until ctx is cancelled: it sweeps
// invalidated and expired entries every housekeeping interval and immediately
// after InvalidateAll.
func (s *Store[V]) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		case <-s.wake:
		}
		if n := s.sweep(); n > 0 {
			slog.Debug("store: swept entries", "store", s.name, "count", n)
		}
	}
}
