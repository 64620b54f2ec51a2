package partman

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/alertpart/partman/internal/bucket"
	"github.com/alertpart/partman/internal/store"
)

// NotifyTrigger publishes a trigger lifecycle mutation (spec.md §6.1,
// §4.6 publishTrigger). It is fire-and-forget: the call returns as soon as
// the bus insertion is enqueued, never cancellable, with no built-in
// retry (spec.md §5). tenantID and triggerID must be non-empty; as with
// every other public entry point, an InvalidArgument is logged and
// swallowed rather than returned (spec.md §7 Propagation).
func (m *Manager) NotifyTrigger(op Operation, tenantID, triggerID string) {
	if !m.distributed {
		return
	}
	if tenantID == "" || triggerID == "" {
		m.cfg.logger.Log(LogLevelError, "NotifyTrigger: invalid argument", "err", &InvalidArgument{Detail: "tenantID and triggerID must be non-empty"})
		return
	}
	m.metrics.observeTriggerPublish(op)
	go m.publishTrigger(op, tenantID, triggerID)
}

func (m *Manager) publishTrigger(op Operation, tenantID, triggerID string) {
	ctx := m.ctx
	snap, ok, err := m.partitionStore.Read(ctx)
	if err != nil || !ok {
		m.cfg.logger.Log(LogLevelError, "publishTrigger: reading buckets", "err", &SubstrateUnavailable{Op: "read partition state", Err: err})
		return
	}
	fp, err := bucket.FingerprintKey(tenantID, triggerID)
	if err != nil {
		// Already validated in NotifyTrigger; guarded here too since
		// publishTrigger is the pure-helper caller C1's contract raises to.
		m.cfg.logger.Log(LogLevelError, "publishTrigger: invalid key", "err", err)
		return
	}
	toNode, err := bucket.PlaceOf(fp, snap.Buckets)
	if err != nil {
		m.cfg.logger.Log(LogLevelError, "publishTrigger: placement failed", "err", err)
		return
	}

	nt := notifyTrigger{FromNode: m.self, ToNode: toNode, Op: op, TenantID: tenantID, TriggerID: triggerID}
	encoded, err := encodeTrigger(nt)
	if err != nil {
		m.cfg.logger.Log(LogLevelError, "publishTrigger: encoding", "err", err)
		return
	}
	key := triggerEntryKey(nt)
	if err := m.triggerCell.Put(ctx, key, encoded); err != nil {
		m.cfg.logger.Log(LogLevelError, "publishTrigger: bus insert failed", "err", &SubstrateUnavailable{Op: "trigger bus insert", Err: err})
		return
	}
}

// onTriggerEntryCreated is the entryCreated handler for the "triggers"
// cell, invoked on every node for every inserted entry (spec.md §4.6).
func (m *Manager) onTriggerEntryCreated(key string, value []byte) {
	nt, err := decodeTrigger(value)
	if err != nil {
		m.cfg.logger.Log(LogLevelError, "onTriggerEntryCreated: decode failed", "err", err)
		return
	}
	if nt.ToNode != m.self {
		return // not ours; ignore (spec.md §4.6 step 3)
	}

	ctx := m.ctx
	// Step 2a: reclaim bus space; return value ignored.
	if err := m.triggerCell.Delete(ctx, key); err != nil {
		m.cfg.logger.Log(LogLevelWarn, "onTriggerEntryCreated: failed to GC bus entry", "err", err)
	}

	snap, ok, err := m.partitionStore.Read(ctx)
	if err != nil {
		m.cfg.logger.Log(LogLevelError, "onTriggerEntryCreated: reading partition state", "err", &SubstrateUnavailable{Op: "read partition state", Err: err})
		return
	}

	tk := store.TriggerKey{TenantID: nt.TenantID, TriggerID: nt.TriggerID}
	var current, previous store.Partition
	changed := false

	switch nt.Op {
	case OpAdd:
		if ok {
			current = cloneAndSet(snap.Current, tk, m.self)
		} else {
			current = store.Partition{tk: m.self}
		}
		if _, present := snap.Current[tk]; !present {
			previous = snap.Current
			changed = true
		}
	case OpRemove:
		current = cloneAndDelete(snap.Current, tk)
		if _, present := snap.Current[tk]; present {
			previous = snap.Current
			changed = true
		}
	case OpUpdate:
		// No partition change; proceed straight to step 2d.
	}

	if changed {
		nextEpoch := uint64(1)
		if ok {
			nextEpoch = snap.Epoch + 1
		}
		if err := m.partitionStore.WriteTriggerMutation(ctx, nextEpoch, snap.Buckets, previous, current); err != nil {
			m.cfg.logger.Log(LogLevelError, "onTriggerEntryCreated: writing partition state", "err", &SubstrateUnavailable{Op: "write partition state", Err: err})
			return
		}
		m.observeEpoch(nextEpoch)
		m.publishDelta(previous, current)
	}

	m.metrics.observeTriggerDelivery(nt.Op)
	m.callTriggerListener(nt.Op, nt.TenantID, nt.TriggerID)
}

func cloneAndSet(p store.Partition, k store.TriggerKey, v bucket.NodeId) store.Partition {
	out := make(store.Partition, len(p)+1)
	for kk, vv := range p {
		out[kk] = vv
	}
	out[k] = v
	return out
}

func cloneAndDelete(p store.Partition, k store.TriggerKey) store.Partition {
	out := make(store.Partition, len(p))
	for kk, vv := range p {
		if kk == k {
			continue
		}
		out[kk] = vv
	}
	return out
}

func encodeTrigger(nt notifyTrigger) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(nt); err != nil {
		return nil, fmt.Errorf("partman: encode trigger: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeTrigger(b []byte) (notifyTrigger, error) {
	var nt notifyTrigger
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&nt); err != nil {
		return nt, fmt.Errorf("partman: decode trigger: %w", err)
	}
	return nt, nil
}
