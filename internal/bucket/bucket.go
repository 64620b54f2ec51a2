// Package bucket implements consistent-hash trigger placement and the
// minimal-churn bucket table rebuild used to assign triggers to cluster
// nodes.
//
// Both functions here are pure: no hidden state, no I/O, no locking. They
// are the hot-path primitives the rest of partman calls while holding its
// own locks, so keeping them allocation-light and side-effect free matters.
package bucket

import (
	"errors"

	"github.com/cespare/xxhash/v2"
)

// NodeId identifies a cluster member. It is derived deterministically from
// the member's canonical address (see StableHash32) so that two processes
// observing the same member compute the same id without coordination.
type NodeId uint32

// ErrInvalidArgument is returned by PlaceOf and Rebuild when called with
// empty or nil arguments that indicate a bug in the caller, not a transient
// condition.
var ErrInvalidArgument = errors.New("bucket: invalid argument")

// Table maps a bucket index in [0, len(Table)) to the NodeId that owns it.
type Table []NodeId

// StableHash32 derives a NodeId from a member's canonical address. Any
// deterministic, process-restart-stable 32-bit hash satisfies the contract;
// xxhash is used because it is already a transitive dependency of the
// ecosystem this module draws from and is fast enough to call on every
// membership change without measurable cost.
func StableHash32(canonicalAddress string) NodeId {
	return NodeId(uint32(xxhash.Sum64String(canonicalAddress)))
}

// FingerprintKey produces the stable 32-bit fingerprint fp(key) used as the
// consistent-hash input for a trigger key. tenantID and triggerID are
// hashed with a zero byte between them, so pairs such as ("a","bc") and
// ("ab","c") do not collide by concatenation. The fields are not escaped:
// a field that itself contains a zero byte can still alias another pair.
//
// Returns ErrInvalidArgument if either half of the key is empty (spec.md
// §4.2: placeOf's key must be non-null/non-empty) — this is the boundary
// where the raw (tenantID, triggerID) pair is still available to validate;
// once reduced to a uint32 fingerprint, emptiness is no longer observable.
func FingerprintKey(tenantID, triggerID string) (uint32, error) {
	if tenantID == "" || triggerID == "" {
		return 0, ErrInvalidArgument
	}
	h := xxhash.New()
	_, _ = h.WriteString(tenantID)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(triggerID)
	return uint32(h.Sum64()), nil
}

// PlaceOf returns the node that owns fingerprint fp under the given bucket
// table. It is pure and deterministic: PlaceOf(fp, buckets) always returns
// the same answer for the same arguments.
func PlaceOf(fp uint32, buckets Table) (NodeId, error) {
	if len(buckets) == 0 {
		return 0, ErrInvalidArgument
	}
	b := jumpConsistentHash(uint64(fp), int32(len(buckets)))
	return buckets[b], nil
}

// jumpConsistentHash is Lamping & Veach's jump consistent hash: given a key
// and a bucket count, it returns a bucket in [0, numBuckets) such that
// growing numBuckets by one moves only ~1/numBuckets of keys. See
// "A Fast, Minimal Memory, Consistent Hash Algorithm" (2014).
func jumpConsistentHash(key uint64, numBuckets int32) int32 {
	var b, j int64 = -1, 0
	for j < int64(numBuckets) {
		b = j
		key = key*2862933555777941757 + 1
		j = int64(float64(b+1) * (float64(int64(1)<<31) / float64((key>>33)+1)))
	}
	return int32(b)
}

// Rebuild computes a new bucket table for members, reusing old's assignment
// of surviving members to their prior bucket index wherever possible.
//
// old may be nil or empty, meaning "no prior table" (first initialisation):
// every member then gets assigned to bucket i in members' order.
//
// members must be a non-empty, already-deduplicated slice in the caller's
// canonical order; Rebuild does not sort or dedupe it.
func Rebuild(old Table, members []NodeId) (Table, error) {
	if len(members) == 0 {
		return nil, ErrInvalidArgument
	}
	if len(old) == 0 {
		fresh := make(Table, len(members))
		copy(fresh, members)
		return fresh, nil
	}

	memberSet := make(map[NodeId]bool, len(members))
	for _, m := range members {
		memberSet[m] = true
	}

	next := make(Table, len(members))
	placed := make(map[NodeId]bool, len(members))
	assigned := make([]bool, len(members))

	// Pass 1: a surviving member keeps its old bucket index when that
	// index is still in range.
	for oldIdx, node := range old {
		if oldIdx >= len(members) {
			break
		}
		if memberSet[node] && !placed[node] {
			next[oldIdx] = node
			placed[node] = true
			assigned[oldIdx] = true
		}
	}

	// Pass 2: a surviving member whose old bucket index was collapsed by
	// shrinkage (oldIdx >= len(members)) is re-homed onto the lowest free
	// slot, in old-table order — this is what keeps shrink/grow
	// deterministic and avoids the duplicate-value bug flagged in
	// spec.md's open question: we only ever place a member once, tracked
	// via `placed`, instead of blindly writing members[b] into any free
	// slot.
	freeSlot := 0
	nextFree := func() int {
		for freeSlot < len(assigned) && assigned[freeSlot] {
			freeSlot++
		}
		return freeSlot
	}
	for oldIdx, node := range old {
		if oldIdx < len(members) {
			continue
		}
		if memberSet[node] && !placed[node] {
			slot := nextFree()
			next[slot] = node
			placed[node] = true
			assigned[slot] = true
		}
	}

	// Pass 3: any slot still unassigned is a brand new member or a slot
	// with no surviving candidate; fill ascending by members order,
	// skipping members already placed.
	mi := 0
	for b := 0; b < len(members); b++ {
		if assigned[b] {
			continue
		}
		for mi < len(members) && placed[members[mi]] {
			mi++
		}
		if mi >= len(members) {
			return nil, ErrInvalidArgument // unreachable if members has no duplicates
		}
		next[b] = members[mi]
		placed[members[mi]] = true
		assigned[b] = true
	}

	return next, nil
}
