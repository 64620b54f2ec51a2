// Package partman implements the Partition Manager of a clustered,
// multi-tenant alerting engine: it decides which cluster node owns each
// trigger and propagates trigger lifecycle and runtime sample events so
// each sample is evaluated on exactly its owner node.
package partman

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/alertpart/partman/internal/bucket"
	"github.com/alertpart/partman/internal/defstore"
	"github.com/alertpart/partman/internal/store"
	"github.com/alertpart/partman/internal/substrate"
)

// Manager is the Partition Manager. Construct one with New and keep it for
// the lifetime of the process; there is no global/singleton state (DESIGN
// NOTES §9) — every dependency is passed in explicitly.
type Manager struct {
	cluster substrate.Cluster
	defs    defstore.Store
	cfg     cfg
	metrics *Metrics
	codec   *sampleCodec

	self        NodeId
	distributed bool

	partitionStore *store.Store
	triggerCell    substrate.KeyedCell
	dataCell       substrate.KeyedCell

	listenersMu       sync.RWMutex
	triggerListener   TriggerListener
	partitionListener PartitionListener
	dataListener      DataListener

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	reconcileCh    chan struct{}
	reconcileNowCh chan struct{}

	// lastEpoch is the highest partition-store epoch this node has
	// published a delta for. Both the Topology Reconciler's step 7 and
	// the trigger-mutation path (triggerbus.go) can advance the store's
	// epoch and race to publish, so this is CAS-guarded rather than
	// owned by a single goroutine.
	lastEpoch atomic.Uint64

	sampleSeqMu sync.Mutex
	sampleSeq   uint64
}

// observeEpoch reports whether epoch is newer than the last epoch this
// node has published a delta for and, if so, records it. Used to dedupe
// publishDelta calls between the Topology Reconciler and trigger-mutation
// paths, which can both observe the same write.
func (m *Manager) observeEpoch(epoch uint64) bool {
	for {
		last := m.lastEpoch.Load()
		if epoch <= last {
			return false
		}
		if m.lastEpoch.CompareAndSwap(last, epoch) {
			return true
		}
	}
}

// New constructs a Manager over cluster (the Cluster Substrate) and defs
// (the Definitions Store), applying any Opts. When the substrate is
// distributed, New starts the manager's background reconciliation loop
// immediately; call Close to stop it.
func New(cluster substrate.Cluster, defs defstore.Store, opts ...Opt) (*Manager, error) {
	if cluster == nil || defs == nil {
		return nil, &InvalidArgument{Detail: "cluster and defs must not be nil"}
	}

	c := defaultCfg()
	for _, o := range opts {
		o.apply(&c)
	}

	codec, err := newSampleCodec()
	if err != nil {
		return nil, err
	}

	membership := cluster.Membership()
	self := bucket.StableHash32(membership.Self().CanonicalAddress)

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		cluster:        cluster,
		defs:           defs,
		cfg:            c,
		metrics:        NewMetrics(c.registerer),
		codec:          codec,
		self:           self,
		distributed:    membership.Distributed(),
		partitionStore: store.New(cluster.Cell(substrate.CellPartition)),
		triggerCell:    cluster.Cell(substrate.CellTriggers),
		dataCell:       cluster.Cell(substrate.CellData),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		reconcileCh:    make(chan struct{}, 1),
		reconcileNowCh: make(chan struct{}, 1),
	}

	if m.distributed {
		membership.OnViewChange(m.triggerReconcileNow)
		m.triggerCell.OnEntryCreated(m.onTriggerEntryCreated)
		m.dataCell.OnEntryCreated(m.onDataEntryCreated)
		go m.reconcileLoop()
		m.triggerReconcileNow() // pick up whatever view is already live at construction
	} else {
		close(m.done)
	}

	return m, nil
}

// Close stops the Manager's background reconciliation loop. It does not
// touch the substrate or registered listeners otherwise.
func (m *Manager) Close() {
	m.cancel()
	<-m.done
}

// IsDistributed reports whether this Manager is backed by a real substrate
// transport (spec.md §6.1, §5 single-node mode).
func (m *Manager) IsDistributed() bool {
	return m.distributed
}

// RegisterTriggerListener registers l to receive OnTriggerChange calls.
// Safe to call concurrently with publish calls; replacement is not
// supported (DESIGN NOTES §9 / spec.md §5), so only the first registration
// takes effect.
func (m *Manager) RegisterTriggerListener(l TriggerListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	if m.triggerListener == nil {
		m.triggerListener = l
	}
}

// RegisterDataListener registers l to receive OnNewData/OnNewEvent calls.
func (m *Manager) RegisterDataListener(l DataListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	if m.dataListener == nil {
		m.dataListener = l
	}
}

// RegisterPartitionListener registers l to receive OnPartitionChange calls.
func (m *Manager) RegisterPartitionListener(l PartitionListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	if m.partitionListener == nil {
		m.partitionListener = l
	}
}

func (m *Manager) triggerListenerSnapshot() TriggerListener {
	m.listenersMu.RLock()
	defer m.listenersMu.RUnlock()
	return m.triggerListener
}

func (m *Manager) partitionListenerSnapshot() PartitionListener {
	m.listenersMu.RLock()
	defer m.listenersMu.RUnlock()
	return m.partitionListener
}

func (m *Manager) dataListenerSnapshot() DataListener {
	m.listenersMu.RLock()
	defer m.listenersMu.RUnlock()
	return m.dataListener
}

// callTriggerListener invokes l, isolating any panic as a ListenerFault
// the way a single misbehaving hook must never break the caller's loop
// (spec.md §7 ListenerFault, SPEC_FULL.md §5).
func (m *Manager) callTriggerListener(op Operation, tenantID, triggerID string) {
	l := m.triggerListenerSnapshot()
	if l == nil {
		return
	}
	defer m.recoverListener("TriggerListener")
	l.OnTriggerChange(op, tenantID, triggerID)
}

func (m *Manager) callPartitionListener(local map[string][]string, added, removed map[string][]string) {
	l := m.partitionListenerSnapshot()
	if l == nil {
		return
	}
	defer m.recoverListener("PartitionListener")
	l.OnPartitionChange(local, added, removed)
}

func (m *Manager) callDataListener(sample Sample) {
	l := m.dataListenerSnapshot()
	if l == nil {
		return
	}
	defer m.recoverListener("DataListener")
	switch sample.Kind {
	case SampleData:
		l.OnNewData(sample.Data)
	case SampleEvent:
		l.OnNewEvent(sample.Event)
	}
}

func (m *Manager) recoverListener(which string) {
	if r := recover(); r != nil {
		err := &ListenerFault{Listener: which, Err: fmt.Errorf("panic: %v", r)}
		m.cfg.logger.Log(LogLevelError, "listener panicked", "err", err)
	}
}
