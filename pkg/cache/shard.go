// Package cache holds the in-process sharded stores: last prices and
// expiring counters.
package cache

import "hash/fnv"

const numShards = 16

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % numShards
}
