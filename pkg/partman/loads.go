package partman

import "github.com/alertpart/partman/internal/bucket"

// NodeLoads reports the current trigger count owned by every node in the
// live bucket table, most-loaded first. It is a read-only diagnostic —
// placement itself never consults it (§4.2 is purely hash-based) — meant
// for operators deciding whether the cluster needs more capacity.
func (m *Manager) NodeLoads() []NodeLoad {
	idx, n, ok := m.loadIndex()
	if !ok {
		return nil
	}
	return nodeLoadsOf(idx, idx.Most(n))
}

// LeastLoadedNodes reports the n least-loaded nodes in the live bucket
// table, ascending by trigger count — the counterpart an operator consults
// when deciding which node should absorb new tenants first.
func (m *Manager) LeastLoadedNodes(n int) []NodeLoad {
	idx, _, ok := m.loadIndex()
	if !ok {
		return nil
	}
	return nodeLoadsOf(idx, idx.Least(n))
}

func (m *Manager) loadIndex() (idx *bucket.LoadIndex, count int, ok bool) {
	snap, have, err := m.partitionStore.Read(m.ctx)
	if err != nil || !have {
		return nil, 0, false
	}

	counts := make(map[NodeId]int, len(snap.Buckets))
	for _, n := range snap.Buckets {
		counts[n] = 0
	}
	for _, owner := range snap.Current {
		counts[owner]++
	}
	return bucket.NewLoadIndex(counts), len(counts), true
}

func nodeLoadsOf(idx *bucket.LoadIndex, nodes []NodeId) []NodeLoad {
	out := make([]NodeLoad, len(nodes))
	for i, n := range nodes {
		out[i] = NodeLoad{Node: n, Triggers: idx.Count(n)}
	}
	return out
}

// NodeLoad is one entry of a NodeLoads/LeastLoadedNodes report.
type NodeLoad struct {
	Node     NodeId
	Triggers int
}
