package partman

import "fmt"

// InvalidArgument reports a violated argument contract: nil dependencies
// passed to New, or an empty half of a TriggerKey. New and
// TriggerKey.Fingerprint return it to their callers; NotifyTrigger logs it
// and returns. The pure C1/C2 helpers (bucket.PlaceOf, bucket.Rebuild)
// report the same condition as bucket.ErrInvalidArgument.
type InvalidArgument struct {
	Detail string
}

func (e *InvalidArgument) Error() string { return "partman: invalid argument: " + e.Detail }

// SubstrateUnavailable wraps a failed store write or membership query.
// It is logged and the current operation (reconciliation or publish) is
// aborted. A failed reconciliation runs again on the next view change; a
// failed publish is not retried.
type SubstrateUnavailable struct {
	Op  string
	Err error
}

func (e *SubstrateUnavailable) Error() string {
	return fmt.Sprintf("partman: substrate unavailable during %s: %v", e.Op, e.Err)
}
func (e *SubstrateUnavailable) Unwrap() error { return e.Err }

// DefinitionsUnavailable wraps a cold-load failure from the Definitions
// Store. Reconciliation proceeds with an empty entry set.
type DefinitionsUnavailable struct {
	Err error
}

func (e *DefinitionsUnavailable) Error() string {
	return fmt.Sprintf("partman: definitions store unavailable: %v", e.Err)
}
func (e *DefinitionsUnavailable) Unwrap() error { return e.Err }

// ListenerFault wraps a panic or error raised by a registered listener.
// It never escapes the node that registered the faulting listener and
// never affects other nodes' state.
type ListenerFault struct {
	Listener string
	Err      error
}

func (e *ListenerFault) Error() string {
	return fmt.Sprintf("partman: listener %s faulted: %v", e.Listener, e.Err)
}
func (e *ListenerFault) Unwrap() error { return e.Err }
