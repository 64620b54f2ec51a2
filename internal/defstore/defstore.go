// Package defstore declares the Definitions Store contract: the
// persistent source of all triggers, consumed only during cold-start
// reconciliation (spec.md §4.5 step 4).
package defstore

import "context"

// TriggerKey is re-declared here (rather than imported from pkg/partman)
// so this contract package has no dependency on the manager package —
// the same separation the teacher keeps between its wire-protocol types
// and its client package.
type TriggerKey struct {
	TenantID  string
	TriggerID string
}

// Store streams every known trigger key. Implementations may block; the
// reconciler bounds the call with a context deadline and treats any error,
// including context.DeadlineExceeded, as DefinitionsUnavailable.
type Store interface {
	ListAllTriggers(ctx context.Context) ([]TriggerKey, error)
}
