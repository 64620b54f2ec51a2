package bucket

import "github.com/google/btree"

// LoadIndex orders nodes by how many trigger keys they currently own, a
// diagnostic structure with no bearing on placement itself (placement is
// purely hash-based, §4.2). It mirrors the real franz-go sticky assignor's
// own use of a *btree.BTree ordered by per-member load
// (internal/sticky's planByNumPartitions) to repeatedly find the
// most/least loaded member in O(log n) instead of rescanning a map.
type LoadIndex struct {
	tree *btree.BTree
	load map[NodeId]int
}

type loadEntry struct {
	node  NodeId
	count int
}

// Less orders first by ascending count, then by NodeId, so iteration is
// fully deterministic for equally-loaded nodes (matters for reproducible
// diagnostics output, not for correctness of placement).
func (a loadEntry) Less(than btree.Item) bool {
	b := than.(loadEntry)
	if a.count != b.count {
		return a.count < b.count
	}
	return a.node < b.node
}

// NewLoadIndex builds a LoadIndex from a Partition-shaped ownership count.
// counts maps each node to how many trigger keys it currently owns;
// members with zero count should still be present so idle nodes surface as
// the least loaded.
func NewLoadIndex(counts map[NodeId]int) *LoadIndex {
	li := &LoadIndex{tree: btree.New(8), load: make(map[NodeId]int, len(counts))}
	for n, c := range counts {
		li.tree.ReplaceOrInsert(loadEntry{node: n, count: c})
		li.load[n] = c
	}
	return li
}

// Least returns the n least-loaded nodes, ascending by load.
func (li *LoadIndex) Least(n int) []NodeId {
	out := make([]NodeId, 0, n)
	li.tree.Ascend(func(item btree.Item) bool {
		if len(out) >= n {
			return false
		}
		out = append(out, item.(loadEntry).node)
		return true
	})
	return out
}

// Most returns the n most-loaded nodes, descending by load.
func (li *LoadIndex) Most(n int) []NodeId {
	out := make([]NodeId, 0, n)
	li.tree.Descend(func(item btree.Item) bool {
		if len(out) >= n {
			return false
		}
		out = append(out, item.(loadEntry).node)
		return true
	})
	return out
}

// Count returns node's current tracked load.
func (li *LoadIndex) Count(node NodeId) int {
	return li.load[node]
}
