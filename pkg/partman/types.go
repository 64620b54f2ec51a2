package partman

import "github.com/alertpart/partman/internal/bucket"

// NodeId identifies a cluster member (spec.md §3).
type NodeId = bucket.NodeId

// TriggerKey is the (tenantID, triggerID) pair identifying a trigger.
// Equality is structural, so TriggerKey is directly usable as a map key.
type TriggerKey struct {
	TenantID  string
	TriggerID string
}

// Fingerprint returns the stable 32-bit fingerprint fp(key) used as the
// consistent-hash input (spec.md §3, §4.2). Returns InvalidArgument if
// either half of k is empty.
func (k TriggerKey) Fingerprint() (uint32, error) {
	fp, err := bucket.FingerprintKey(k.TenantID, k.TriggerID)
	if err != nil {
		return 0, &InvalidArgument{Detail: "TriggerKey: tenantID and triggerID must be non-empty"}
	}
	return fp, nil
}

// Operation is a trigger lifecycle mutation (spec.md §3 NotifyTrigger).
type Operation uint8

const (
	OpAdd Operation = iota
	OpUpdate
	OpRemove
)

func (op Operation) String() string {
	switch op {
	case OpAdd:
		return "ADD"
	case OpUpdate:
		return "UPDATE"
	case OpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// SampleKind discriminates the NotifySample payload tagged union.
type SampleKind uint8

const (
	SampleData SampleKind = iota
	SampleEvent
)

// DataSample is a runtime data datum fed into alert evaluation.
type DataSample struct {
	TenantID string
	Name     string
	Value    float64
	Time     int64 // unix nanos
}

// EventSample is a runtime event datum fed into alert evaluation.
type EventSample struct {
	TenantID string
	Name     string
	Text     string
	Time     int64 // unix nanos
}

// Sample is the tagged union stored in a NotifySample (spec.md §3).
// Exactly one of Data or Event is populated, selected by Kind.
type Sample struct {
	Kind  SampleKind
	Data  DataSample
	Event EventSample
}

// notifyTrigger is the wire shape of a pending trigger-bus entry
// (spec.md §3 NotifyTrigger). It is owned by the bus until delivery
// completes, then removed.
type notifyTrigger struct {
	FromNode  NodeId
	ToNode    NodeId
	Op        Operation
	TenantID  string
	TriggerID string
}

// notifySample is the wire shape of a pending data-bus entry
// (spec.md §3 NotifySample). Nonce distinguishes two structurally
// identical samples published back-to-back so neither is dropped as a
// duplicate bus entry the way repeated identical trigger mutations are
// meant to be (§4.6 step 3 "collisions on identical operations are
// idempotent" does not apply to runtime samples).
type notifySample struct {
	FromNode NodeId
	Nonce    uint64
	Payload  Sample
}
