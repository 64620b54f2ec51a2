package partman

import "github.com/alertpart/partman/internal/store"

// publishDelta computes this node's local assignment plus its
// added/removed deltas versus previous, and invokes the registered
// PartitionListener (spec.md §4.8 Delta Publisher, Property 6).
func (m *Manager) publishDelta(previous, current store.Partition) {
	local := localTriggers(current, m.self)
	added, removed := computeDelta(previous, current, m.self)
	m.callPartitionListener(local, added, removed)
}

// localTriggers returns { tenantID -> [triggerID...] } for every key in
// part owned by self.
func localTriggers(part store.Partition, self NodeId) map[string][]string {
	out := make(map[string][]string)
	for k, owner := range part {
		if owner != self {
			continue
		}
		out[k.TenantID] = append(out[k.TenantID], k.TriggerID)
	}
	return out
}

// computeDelta returns self's added/removed trigger IDs by tenant, as the
// set difference between current's and previous's self-owned keys
// (spec.md Property 6: added = current\previous, removed = previous\current).
func computeDelta(previous, current store.Partition, self NodeId) (added, removed map[string][]string) {
	currentSelf := selfKeySet(current, self)
	previousSelf := selfKeySet(previous, self)

	added = diffByTenant(currentSelf, previousSelf)
	removed = diffByTenant(previousSelf, currentSelf)
	return added, removed
}

func selfKeySet(part store.Partition, self NodeId) map[TriggerKey]bool {
	out := make(map[TriggerKey]bool)
	for k, owner := range part {
		if owner == self {
			out[TriggerKey{TenantID: k.TenantID, TriggerID: k.TriggerID}] = true
		}
	}
	return out
}

func diffByTenant(a, b map[TriggerKey]bool) map[string][]string {
	out := make(map[string][]string)
	for k := range a {
		if !b[k] {
			out[k.TenantID] = append(out[k.TenantID], k.TriggerID)
		}
	}
	return out
}
