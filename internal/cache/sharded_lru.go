package cache

import (
	"hash/fnv"
	"time"
)

const defaultShardCount = 16

// Cache is satisfied by both LRU and Sharded.
type Cache[V any] interface {
	Get(key string) (V, bool)
	PutUntil(key string, value V, deadline time.Time)
	Delete(key string)
	Len() int
	Stats() (hits, misses int64)
}

var (
	_ Cache[int] = (*LRU[string, int])(nil)
	_ Cache[int] = (*Sharded[int])(nil)
)

// Sharded spreads string keys over independent LRUs by FNV-32a hash so
// concurrent readers rarely share a lock.
type Sharded[V any] struct {
	shards []*LRU[string, V]
}

// NewSharded splits totalCapacity evenly; each shard holds at least one entry.
func NewSharded[V any](totalCapacity int, ttl time.Duration, shardCount int) *Sharded[V] {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	perShard := max(totalCapacity/shardCount, 1)

	s := &Sharded[V]{shards: make([]*LRU[string, V], shardCount)}
	for i := range s.shards {
		s.shards[i] = NewLRU[string, V](perShard, ttl)
	}
	return s
}

func (s *Sharded[V]) shard(key string) *LRU[string, V] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

func (s *Sharded[V]) Get(key string) (V, bool) { return s.shard(key).Get(key) }

func (s *Sharded[V]) PutUntil(key string, value V, deadline time.Time) {
	s.shard(key).PutUntil(key, value, deadline)
}

func (s *Sharded[V]) Delete(key string) { s.shard(key).Delete(key) }

func (s *Sharded[V]) Len() int {
	total := 0
	for _, sh := range s.shards {
		total += sh.Len()
	}
	return total
}

func (s *Sharded[V]) Stats() (hits, misses int64) {
	for _, sh := range s.shards {
		h, m := sh.Stats()
		hits += h
		misses += m
	}
	return hits, misses
}

func (s *Sharded[V]) setNow(fn func() time.Time) {
	for _, sh := range s.shards {
		sh.nowFn = fn
	}
}
