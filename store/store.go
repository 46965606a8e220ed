// Package store implements the Shared Store abstraction (spec.md §4.1): a
// small set of atomic key/list/sorted-set/set operations backed by Redis
// when reachable, degrading transparently to process-local equivalents
// otherwise. It is grounded in the teacher's core/redis_client.go (namespaced
// client wrapper, DB isolation) and core/redis_registry.go (sorted-set based
// registries, TTL'd hash records), generalized from "service registry" to
// the engine's generic cross-cutting mapping store used by every other
// component (process queue, workflow state, agent registry, prompt store,
// workflow context).
//
// The store never interprets values — every consumer serializes its own
// records (spec.md §4.1) — so every method here deals in strings.
package store

import (
	"context"
	"time"
)

// ScoredMember is one entry of a sorted set, used for the process priority
// queue (score = priority/enqueue-time composite) and any other ranked list.
type ScoredMember struct {
	Member string
	Score  float64
}

// Store is the abstract Shared Store every other engine component depends
// on. Every method is atomic for a single call; callers compose multiple
// calls only when last-writer-wins is an acceptable outcome (spec.md §9,
// Open Question 1).
type Store interface {
	// Set writes key=value, optionally expiring after ttl (ttl<=0 means no
	// expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns the value and whether the key existed (and was not
	// expired).
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error

	// LPush/RPush push values onto the left/right end of a list.
	LPush(ctx context.Context, key string, values ...string) error
	RPush(ctx context.Context, key string, values ...string) error
	// LPop/RPop pop from the left/right end; ok is false on an empty list.
	LPop(ctx context.Context, key string) (value string, ok bool, err error)
	RPop(ctx context.Context, key string) (value string, ok bool, err error)
	// LRange returns elements in [start, stop] (inclusive, Redis semantics;
	// -1 means last element).
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	// LRem removes up to count occurrences of value (count<=0 removes all).
	LRem(ctx context.Context, key string, count int64, value string) error
	LLen(ctx context.Context, key string) (int64, error)

	// ZAdd adds/updates a scored member.
	ZAdd(ctx context.Context, key string, member string, score float64) error
	// ZRangeByRank returns members in ascending score order for [start,stop].
	ZRangeByRank(ctx context.Context, key string, start, stop int64) ([]ScoredMember, error)
	// ZPopMin pops the lowest-scored member; ok is false on an empty set.
	ZPopMin(ctx context.Context, key string) (ScoredMember, bool, error)
	ZRem(ctx context.Context, key string, member string) error
	// ZRank returns the 0-based ascending rank of member; ok is false if
	// absent.
	ZRank(ctx context.Context, key, member string) (rank int64, ok bool, err error)
	ZCard(ctx context.Context, key string) (int64, error)

	// SAdd/SRem/SIsMember/SCard/SMembers implement set semantics.
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SCard(ctx context.Context, key string) (int64, error)
	SMembers(ctx context.Context, key string) ([]string, error)

	// ScanPrefix returns every key starting with prefix. Neither
	// implementation caps the number of keys scanned or returned.
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)
	// SInter returns the intersection of the given sets.
	SInter(ctx context.Context, keys ...string) ([]string, error)

	// Incr atomically increments key by delta, creating it at 0 if absent,
	// and (re)applies ttl if > 0. Used for rate-limit counters and the
	// process manager's moving-average bookkeeping.
	Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// Degraded reports whether this Store instance is currently operating
	// in process-local fallback mode (spec.md §4.1, §9).
	Degraded() bool

	// Close releases any underlying connection.
	Close() error
}
