// Package syncutil provides keyed locking helpers.
package syncutil

import (
	"hash/fnv"
	"sync"
)

const shardCount = 256

// ShardedMutex is a fixed pool of mutexes addressed by key hash. It
// bounds memory no matter how many keys are seen, trading occasional
// false sharing between keys landing on the same shard. Settlement
// transitions lock on the transaction ID so a sync gateway response
// and a duplicate callback cannot race each other.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the shard for key and returns its unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &s.shards[h.Sum32()%shardCount]
	mu.Lock()
	return mu.Unlock
}
