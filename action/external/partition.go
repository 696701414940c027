package external

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/IvanBrykalov/refcache/cacheerr"
)

// HashPartitioner assigns each key to one of Nodes nodes by xxhash of its
// string form; the local node is Self.
type HashPartitioner[K comparable] struct {
	self, nodes uint64
	format      func(K) string
}

// NewHashPartitioner returns a partitioner for node self of nodes. A nil
// format renders keys with fmt.Sprint.
func NewHashPartitioner[K comparable](self, nodes int, format func(K) string) (*HashPartitioner[K], error) {
	if nodes <= 0 || self < 0 || self >= nodes {
		return nil, cacheerr.Config("external.NewHashPartitioner", "node %d out of range [0,%d)", self, nodes)
	}
	if format == nil {
		format = func(k K) string { return fmt.Sprint(k) }
	}
	return &HashPartitioner[K]{self: uint64(self), nodes: uint64(nodes), format: format}, nil
}

// Node returns the node owning key.
func (h *HashPartitioner[K]) Node(key K) int {
	return int(xxhash.Sum64String(h.format(key)) % h.nodes)
}

// Owns implements Partitioner.
func (h *HashPartitioner[K]) Owns(key K) bool { return uint64(h.Node(key)) == h.self }

var _ Partitioner[string] = (*HashPartitioner[string])(nil)
