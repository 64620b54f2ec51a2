// Package partmantest provides an in-memory fake Cluster Substrate for
// exercising pkg/partman without a real replicated store or membership
// service, mirroring the teacher's own pkg/kfake — a fake broker used to
// drive its client's tests without a live Kafka cluster.
package partmantest

import (
	"context"
	"sync"

	"github.com/alertpart/partman/internal/substrate"
)

// Cluster is a single-process, multi-"node" fake substrate: each Node
// registered against it shares the same underlying cells and membership
// view, simulating a cluster of cooperating processes within one test
// binary.
type Cluster struct {
	mu           sync.Mutex
	members      []substrate.Member
	coordinator  string // CanonicalAddress of the elected coordinator, "" until SetCoordinator
	distributed  bool
	viewChangeFn []func()
	cells        map[string]*Cell
}

// NewCluster creates a fake substrate. distributed controls what every
// Node's Membership().Distributed() reports.
func NewCluster(distributed bool) *Cluster {
	return &Cluster{
		distributed: distributed,
		cells:       make(map[string]*Cell),
	}
}

// AddMember adds addr to the cluster view. It does not itself fire a
// view-change signal; call FireViewChange once the desired membership is
// set up, the way a real substrate settles a view before notifying.
func (c *Cluster) AddMember(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.members {
		if m.CanonicalAddress == addr {
			return
		}
	}
	c.members = append(c.members, substrate.Member{CanonicalAddress: addr})
	if c.coordinator == "" {
		c.coordinator = addr
	}
}

// RemoveMember removes addr from the cluster view.
func (c *Cluster) RemoveMember(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, m := range c.members {
		if m.CanonicalAddress == addr {
			c.members = append(c.members[:i], c.members[i+1:]...)
			break
		}
	}
	if c.coordinator == addr {
		c.coordinator = ""
		if len(c.members) > 0 {
			c.coordinator = c.members[0].CanonicalAddress
		}
	}
}

// SetCoordinator forces the given member address to be reported as
// coordinator by every Node's Membership().IsCoordinator() check.
func (c *Cluster) SetCoordinator(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.coordinator = addr
}

// FireViewChange invokes every registered Node's OnViewChange callback,
// synchronously, in registration order — the fake's equivalent of a real
// substrate settling a new view and notifying every node.
func (c *Cluster) FireViewChange() {
	c.mu.Lock()
	fns := append([]func(){}, c.viewChangeFn...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Node returns a substrate.Cluster bound to addr: its Membership() reports
// the shared view and whether addr is the coordinator, and its Cell(name)
// returns cells shared with every other Node of this Cluster.
func (c *Cluster) Node(addr string) substrate.Cluster {
	return &node{cluster: c, self: substrate.Member{CanonicalAddress: addr}}
}

func (c *Cluster) cell(name string) *Cell {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cell, ok := c.cells[name]; ok {
		return cell
	}
	cell := newCell()
	c.cells[name] = cell
	return cell
}

type node struct {
	cluster *Cluster
	self    substrate.Member
}

func (n *node) Membership() substrate.Membership { return &membership{n: n} }
func (n *node) Cell(name string) substrate.KeyedCell {
	return n.cluster.cell(name)
}

type membership struct{ n *node }

func (m *membership) Members(ctx context.Context) ([]substrate.Member, error) {
	m.n.cluster.mu.Lock()
	defer m.n.cluster.mu.Unlock()
	out := make([]substrate.Member, len(m.n.cluster.members))
	copy(out, m.n.cluster.members)
	return out, nil
}

func (m *membership) Self() substrate.Member { return m.n.self }

func (m *membership) IsCoordinator() bool {
	m.n.cluster.mu.Lock()
	defer m.n.cluster.mu.Unlock()
	return m.n.cluster.coordinator == m.n.self.CanonicalAddress
}

func (m *membership) Distributed() bool { return m.n.cluster.distributed }

func (m *membership) OnViewChange(fn func()) {
	m.n.cluster.mu.Lock()
	defer m.n.cluster.mu.Unlock()
	m.n.cluster.viewChangeFn = append(m.n.cluster.viewChangeFn, fn)
}

// Cell is an in-memory substrate.KeyedCell. Entry-created callbacks are
// invoked synchronously on the calling goroutine within Put, the way a
// single-process fake can afford to and a real distributed substrate
// generally cannot (real implementations dispatch on their own threads,
// per spec.md §5). Put releases the cell's lock before invoking the
// callbacks, so a callback may itself call Get, Put or Delete on the cell.
type Cell struct {
	mu       sync.RWMutex
	data     map[string][]byte
	onCreate []func(key string, value []byte)
}

func newCell() *Cell {
	return &Cell{data: make(map[string][]byte)}
}

func (c *Cell) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (c *Cell) Put(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	_, existed := c.data[key]
	c.data[key] = value
	fns := append([]func(string, []byte){}, c.onCreate...)
	c.mu.Unlock()

	if !existed {
		for _, fn := range fns {
			fn(key, value)
		}
	}
	return nil
}

func (c *Cell) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *Cell) BatchPut(ctx context.Context, kvs map[string][]byte) error {
	c.mu.Lock()
	for k, v := range kvs {
		c.data[k] = v
	}
	c.mu.Unlock()
	return nil
}

func (c *Cell) OnEntryCreated(fn func(key string, value []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCreate = append(c.onCreate, fn)
}

// Snapshot returns a copy of every key currently stored, for test
// assertions that need to inspect raw cell contents.
func (c *Cell) Snapshot() map[string][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]byte, len(c.data))
	for k, v := range c.data {
		out[k] = append([]byte{}, v...)
	}
	return out
}
