// Package substrate declares the contract the Cluster Substrate must
// satisfy. The substrate itself — membership tracking, coordinator
// election, and the replicated keyed store with per-entry insertion
// notifications — is an external collaborator; this package names its
// shape only, the way the teacher module names a broker's wire contract
// without implementing the broker.
package substrate

import "context"

// Member is a single cluster participant as the substrate reports it.
type Member struct {
	// CanonicalAddress is the substrate's stable identifier for this
	// member (host:port, node UUID, etc.) — whatever the substrate
	// guarantees is both deterministic and stable across restarts.
	CanonicalAddress string
}

// Membership is the cluster-membership and coordinator-election surface
// consumed by the Topology Reconciler (spec C4).
type Membership interface {
	// Members returns the current view's members in the substrate's
	// canonical order. Implementations must return a non-nil, non-empty
	// slice whenever Distributed() is true and the node has joined a view.
	Members(ctx context.Context) ([]Member, error)

	// Self returns the calling process's own member record. Self().CanonicalAddress
	// is stable across restarts and is the input to bucket.StableHash32 that
	// derives this process's NodeId (§6.3).
	Self() Member

	// IsCoordinator reports whether the calling process is the elected
	// coordinator for the current view. At most one member returns true
	// for a given view.
	IsCoordinator() bool

	// Distributed reports whether the substrate has a transport at all.
	// When false, the Partition Manager runs in single-node mode.
	Distributed() bool

	// OnViewChange registers fn to be invoked whenever the substrate's
	// agreed membership view changes. The substrate guarantees at most
	// one active invocation of fn at a time.
	OnViewChange(fn func())
}

// KeyedCell is one named cell of the replicated keyed store (the
// "partition", "triggers", or "data" cell of §6.2). It is a map abstraction
// with per-entry insertion notification, used both as shared state
// (partition cell) and as an ephemeral message queue (trigger/data cells).
type KeyedCell interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// BatchPut writes every key in kvs as a single unit: readers observe
	// either the entirely-prior state or the entirely-new state, never a
	// mix.
	BatchPut(ctx context.Context, kvs map[string][]byte) error

	// OnEntryCreated registers fn to be invoked, on every node, whenever
	// a new entry is inserted into this cell (including by the local
	// node). fn receives the raw stored bytes.
	OnEntryCreated(fn func(key string, value []byte))
}

// Cluster is the full substrate contract the Partition Manager depends on:
// membership/coordination plus the three keyed cells.
type Cluster interface {
	Membership() Membership

	// Cell returns the named cell ("partition", "triggers", or "data").
	// Implementations may lazily create cells on first use.
	Cell(name string) KeyedCell
}

// Well-known cell names (§6.2).
const (
	CellPartition = "partition"
	CellTriggers  = "triggers"
	CellData      = "data"
)

// Well-known keys within the partition cell (§4.4).
const (
	KeyBuckets  = "BUCKETS"
	KeyCurrent  = "CURRENT"
	KeyPrevious = "PREVIOUS"
	KeyEpoch    = "EPOCH"
)
