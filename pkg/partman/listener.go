package partman

// TriggerListener is invoked exactly once, on the owner node, when a
// trigger mutation arrives (spec.md §4.1).
type TriggerListener interface {
	OnTriggerChange(op Operation, tenantID, triggerID string)
}

// PartitionListener is invoked on every node after a reconciliation
// (spec.md §4.1, §4.8). After a single-trigger ADD or REMOVE it is invoked
// only on the owner node that applied the change; other nodes are not
// notified of that write.
//
// local is the full set of triggers now owned by this node, keyed by
// tenant. added/removed are this node's deltas versus its prior
// assignment.
type PartitionListener interface {
	OnPartitionChange(local map[string][]string, added, removed map[string][]string)
}

// DataListener is invoked on every non-sender node for each runtime sample
// (spec.md §4.1).
type DataListener interface {
	OnNewData(sample DataSample)
	OnNewEvent(sample EventSample)
}

// TriggerListenerFunc adapts a function to a TriggerListener, the way the
// teacher favors small function-value capability records over requiring
// callers to define a type (DESIGN NOTES §9).
type TriggerListenerFunc func(op Operation, tenantID, triggerID string)

func (f TriggerListenerFunc) OnTriggerChange(op Operation, tenantID, triggerID string) {
	f(op, tenantID, triggerID)
}

// PartitionListenerFunc adapts a function to a PartitionListener.
type PartitionListenerFunc func(local map[string][]string, added, removed map[string][]string)

func (f PartitionListenerFunc) OnPartitionChange(local map[string][]string, added, removed map[string][]string) {
	f(local, added, removed)
}

// DataListenerFuncs adapts a pair of functions to a DataListener.
type DataListenerFuncs struct {
	Data  func(DataSample)
	Event func(EventSample)
}

func (f DataListenerFuncs) OnNewData(sample DataSample) {
	if f.Data != nil {
		f.Data(sample)
	}
}

func (f DataListenerFuncs) OnNewEvent(sample EventSample) {
	if f.Event != nil {
		f.Event(sample)
	}
}
