package partman

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-uuid"

	"github.com/alertpart/partman/internal/bucket"
	"github.com/alertpart/partman/internal/store"
	"github.com/alertpart/partman/internal/substrate"
)

// triggerReconcile and triggerReconcileNow coalesce rapid view-change
// signals into a single pending reconciliation, the same non-blocking
// buffered-channel-of-one pattern the teacher uses for
// triggerUpdateMetadata/triggerUpdateMetadataNow.
func (m *Manager) triggerReconcile() {
	select {
	case m.reconcileCh <- struct{}{}:
	default:
	}
}

func (m *Manager) triggerReconcileNow() {
	select {
	case m.reconcileNowCh <- struct{}{}:
	default:
	}
}

// reconcileLoop is the Topology Reconciler's (C4) driver, started once per
// Manager. It mirrors the teacher's updateMetadataLoop: wait for a signal,
// drain any that piled up while we were running, then do the work.
func (m *Manager) reconcileLoop() {
	defer close(m.done)
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.reconcileCh:
		case <-m.reconcileNowCh:
		}

		// Drain any refires that arrived while the above case matched.
		select {
		case <-m.reconcileCh:
		default:
		}
		select {
		case <-m.reconcileNowCh:
		default:
		}

		m.reconcile(m.ctx)
	}
}

// reconcile performs spec.md §4.5 steps 1-7. The same view-change signal
// fires reconcile on every node; only the elected coordinator performs
// steps 1-6 (deriving and writing the new BUCKETS/CURRENT/PREVIOUS), but
// step 7 — publishing the delta to the local engine — runs on every node,
// including the coordinator, once that write is visible (spec.md §4.1,
// §4.5 step 7, §4.8; listener.go's OnPartitionChange doc).
func (m *Manager) reconcile(ctx context.Context) {
	membership := m.cluster.Membership()

	corrID, _ := uuid.GenerateUUID() // correlation id for this run's log lines; best-effort
	log := func(level LogLevel, msg string, kv ...any) {
		m.cfg.logger.Log(level, msg, append([]any{"reconcile_id", corrID}, kv...)...)
	}

	if membership.IsCoordinator() {
		m.reconcileWrite(ctx, membership, log)
	}

	// Step 7: read back whatever is now the coherent snapshot — the one
	// the coordinator just wrote, or, for every other node, the same
	// snapshot made visible by it — and publish the delta between its
	// PREVIOUS and CURRENT. The epoch guard skips republishing when
	// this reconcile was signalled before any new state actually landed.
	snap, ok, err := m.partitionStore.Read(ctx)
	if err != nil || !ok || !m.observeEpoch(snap.Epoch) {
		return
	}
	m.publishDelta(snap.Previous, snap.Current)
}

// reconcileWrite performs spec.md §4.5 steps 1-6: derive the next
// BUCKETS/CURRENT/PREVIOUS from the current membership view and write them
// as one batch. Only called on the elected coordinator.
func (m *Manager) reconcileWrite(ctx context.Context, membership substrate.Membership, log func(LogLevel, string, ...any)) {
	old, hadOld, err := m.partitionStore.Read(ctx)
	if err != nil {
		log(LogLevelError, "reconciliation aborted: reading prior state", "err", &SubstrateUnavailable{Op: "read partition state", Err: err})
		m.metrics.observeReconciliation("substrate_unavailable", 0)
		return
	}

	members, err := membership.Members(ctx)
	if err != nil || len(members) == 0 {
		log(LogLevelError, "reconciliation aborted: reading membership", "err", &SubstrateUnavailable{Op: "read members", Err: err})
		m.metrics.observeReconciliation("substrate_unavailable", 0)
		return
	}
	nodeIDs := make([]bucket.NodeId, len(members))
	for i, mem := range members {
		nodeIDs[i] = bucket.StableHash32(mem.CanonicalAddress)
	}

	newBuckets, err := bucket.Rebuild(old.Buckets, nodeIDs)
	if err != nil {
		// A bug, not a transient condition (empty members was already
		// excluded above) — surfaced as InvalidArgument would be if this
		// were an in-process caller, but reconcile has no caller to
		// surface it to, so it is logged like every other component-7
		// error and this run is abandoned.
		log(LogLevelError, "reconciliation aborted: rebuilding buckets", "err", err)
		m.metrics.observeReconciliation("invalid_bucket_state", 0)
		return
	}

	var entries []store.TriggerKey
	if !hadOld || old.Current == nil {
		entries, err = m.coldLoadTriggers(ctx)
		if err != nil {
			log(LogLevelWarn, "cold-load from definitions store failed, continuing with empty partition", "err", &DefinitionsUnavailable{Err: err})
			entries = nil
		}
	} else {
		entries = make([]store.TriggerKey, 0, len(old.Current))
		for k := range old.Current {
			entries = append(entries, k)
		}
	}

	newCurrent := make(store.Partition, len(entries))
	for _, k := range entries {
		fp, err := bucket.FingerprintKey(k.TenantID, k.TriggerID)
		if err != nil {
			// A malformed key from the definitions store or a stale
			// CURRENT entry; drop it rather than abort the whole run.
			log(LogLevelWarn, "skipping malformed trigger key during reconciliation", "key", k, "err", err)
			continue
		}
		node, err := bucket.PlaceOf(fp, newBuckets)
		if err != nil {
			// newBuckets is non-empty (members was validated above), so
			// this cannot happen; guard anyway rather than panic.
			log(LogLevelError, "placement failed during reconciliation", "key", k, "err", err)
			continue
		}
		newCurrent[k] = node
	}

	var previous store.Partition
	if hadOld {
		previous = old.Current
	}

	if err := m.partitionStore.WriteReconciliation(ctx, old.Epoch+1, newBuckets, previous, newCurrent); err != nil {
		log(LogLevelError, "reconciliation aborted: writing partition state", "err", &SubstrateUnavailable{Op: "write partition state", Err: err})
		m.metrics.observeReconciliation("substrate_unavailable", 0)
		return
	}

	churn := churnCount(previous, newCurrent)
	log(LogLevelInfo, "reconciliation complete", "members", len(nodeIDs), "triggers", len(newCurrent), "churn", churn)
	m.metrics.observeReconciliation("ok", churn)
}

func (m *Manager) coldLoadTriggers(ctx context.Context) ([]store.TriggerKey, error) {
	loadCtx, cancel := context.WithTimeout(ctx, m.cfg.definitionsLoadTimeout)
	defer cancel()

	defs, err := m.defs.ListAllTriggers(loadCtx)
	if err != nil {
		return nil, fmt.Errorf("list all triggers: %w", err)
	}
	out := make([]store.TriggerKey, len(defs))
	for i, d := range defs {
		out[i] = store.TriggerKey{TenantID: d.TenantID, TriggerID: d.TriggerID}
	}
	return out, nil
}

func churnCount(previous, current store.Partition) int {
	n := 0
	for k, v := range current {
		if pv, ok := previous[k]; !ok || pv != v {
			n++
		}
	}
	for k := range previous {
		if _, ok := current[k]; !ok {
			n++
		}
	}
	return n
}
