package util

import (
	"math/bits"
	"runtime"
)

// MaxAutoShards caps the shard count picked when none is requested.
const MaxAutoShards = 256

// IsPowerOfTwo reports whether x is a power of two (> 0).
func IsPowerOfTwo(x uint64) bool { return x != 0 && x&(x-1) == 0 }

// NextPow2 returns the smallest power of two >= x. NextPow2(0) is 1 and
// values above 1<<63 clamp to 1<<63.
func NextPow2(x uint64) uint64 {
	switch {
	case x <= 1:
		return 1
	case x > 1<<63:
		return 1 << 63
	}
	return 1 << bits.Len64(x-1)
}

// ShardCount normalizes a requested shard count to a power of two.
// n <= 0 picks 2*GOMAXPROCS, capped at MaxAutoShards; an explicit n is
// only rounded up.
func ShardCount(n int) int {
	if n > 0 {
		return int(NextPow2(uint64(n)))
	}
	p := max(1, runtime.GOMAXPROCS(0))
	return min(int(NextPow2(uint64(2*p))), MaxAutoShards)
}

// ShardIndex maps a hash to one of shards partitions. Power-of-two counts
// take the mask path; others fall back to modulo.
func ShardIndex(hash uint64, shards int) int {
	switch {
	case shards <= 1:
		return 0
	case IsPowerOfTwo(uint64(shards)):
		return int(hash & uint64(shards-1))
	}
	return int(hash % uint64(shards))
}
