// Package inboxcount implements the Inbox Counter (spec.md §4.3): a
// per-node {inbox, outbox, processing} queue-depth snapshot, kept
// accurate by reconciling against the Mail Store on every coalescing
// tick and published only when something changed.
//
// Grounded on the teacher's agent.SessionTracker, a sync.RWMutex-guarded
// map keyed by node id — generalized here to sync/atomic counters for
// the synchronous Snapshot/All reads the Gateway serves between ticks,
// with Run's periodic directory scan (mirroring outboxwatch.Watcher's
// own poll-and-list discipline) as the authoritative source of truth:
// spec.md §8.8 requires the counter eventually equal count(files in
// inbox) for every node, including after mail is consumed from an
// inbox with no watcher of its own, and after a restart finds queues
// already populated.
package inboxcount

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mtzanidakis/hive/internal/mailstore"
)

// Snapshot is one node's queue depth, spec.md §3's "Queue snapshot" type.
type Snapshot struct {
	Inbox      int64
	Outbox     int64
	Processing bool
}

// counters holds the atomic pair for one node.
type counters struct {
	inbox  int64
	outbox int64
}

// RunningChecker reports whether a node's container is currently running,
// used to compute Processing = running && inbox > 0 at emit time. Satisfied
// by internal/container.Supervisor.
type RunningChecker interface {
	IsRunning(nodeID string) bool
}

// Publisher emits the coalesced mail:counts event. Satisfied by
// *internal/eventbus.Conn.
type Publisher interface {
	PublishCounts(snapshots map[string]Snapshot)
}

// DirResolver resolves a node id to its inbox/outbox directories, for
// Run's disk-scan reconciliation. Satisfied by *internal/mailstore.Store.
type DirResolver interface {
	InboxOf(nodeID string) string
	OutboxOf(nodeID string) string
}

// NodeSource lists every node id currently known to the swarm (human,
// every bee, every mailbox), so the reconciliation scan covers exactly
// the queues that exist right now. Satisfied by
// *internal/swarmregistry.Registry.
type NodeSource interface {
	NodeIDs() []string
}

// Counter is safe for concurrent use.
type Counter struct {
	mu     sync.RWMutex
	nodes  map[string]*counters
	runner RunningChecker
	pub    Publisher
	dirty  atomic.Bool
}

// New returns a Counter that consults runner and publishes through pub.
func New(runner RunningChecker, pub Publisher) *Counter {
	return &Counter{
		nodes:  make(map[string]*counters),
		runner: runner,
		pub:    pub,
	}
}

func (c *Counter) nodeCounters(nodeID string) *counters {
	c.mu.RLock()
	n, ok := c.nodes[nodeID]
	c.mu.RUnlock()
	if ok {
		return n
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.nodes[nodeID]; ok {
		return n
	}
	n = &counters{}
	c.nodes[nodeID] = n
	return n
}

// IncInbox gives mailrouter a way to reflect a just-delivered mail in
// Snapshot/All immediately, without waiting for Run's next reconcile
// tick — Run's disk scan independently re-derives the same value from
// the inbox directory shortly after, so an immediate increment here
// can only ever be confirmed or corrected, never compounded.
func (c *Counter) IncInbox(nodeID string) {
	atomic.AddInt64(&c.nodeCounters(nodeID).inbox, 1)
	c.dirty.Store(true)
}

// Set overwrites both counters for nodeID directly — used by Run's
// reconciliation scan, and available for tests to seed a snapshot
// without going through a scan.
func (c *Counter) Set(nodeID string, inbox, outbox int64) {
	n := c.nodeCounters(nodeID)
	if atomic.SwapInt64(&n.inbox, inbox) != inbox {
		c.dirty.Store(true)
	}
	if atomic.SwapInt64(&n.outbox, outbox) != outbox {
		c.dirty.Store(true)
	}
}

// Snapshot returns the current {inbox, outbox, processing} for one node.
func (c *Counter) Snapshot(nodeID string) Snapshot {
	n := c.nodeCounters(nodeID)
	inbox := atomic.LoadInt64(&n.inbox)
	running := c.runner != nil && c.runner.IsRunning(nodeID)
	return Snapshot{
		Inbox:      inbox,
		Outbox:     atomic.LoadInt64(&n.outbox),
		Processing: running && inbox > 0,
	}
}

// All returns a snapshot of every known node, for emit-coalescing and for
// the Gateway's mail.counts operation (spec.md §6).
func (c *Counter) All() map[string]Snapshot {
	c.mu.RLock()
	ids := make([]string, 0, len(c.nodes))
	for id := range c.nodes {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	result := make(map[string]Snapshot, len(ids))
	for _, id := range ids {
		result[id] = c.Snapshot(id)
	}
	return result
}

// Run reconciles every known node's counters against the Mail Store on
// a single coalescing timer and publishes mail:counts only when
// something changed since the last tick — grounded on the teacher's
// single-timer coalescer discipline (spec.md §5: "its emit-coalescer
// runs on a single timer"). It performs one reconciliation pass
// immediately, before entering the ticker loop, the same
// scan-before-ticker shape outboxwatch.Watcher.Run uses to seed counts
// from disk at startup rather than starting every node at zero.
func (c *Counter) Run(ctx context.Context, interval time.Duration, store DirResolver, nodes NodeSource) {
	c.reconcile(store, nodes)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reconcile(store, nodes)
			if c.dirty.CompareAndSwap(true, false) && c.pub != nil {
				c.pub.PublishCounts(c.All())
			}
		}
	}
}

// reconcile counts every known node's inbox and outbox directories and
// writes the result through Set, which only marks the counter dirty
// when a value actually changed. This is what lets the counter recover
// from drift Inc-only bookkeeping can never see on its own — mail
// consumed straight out of an inbox by its agent, or any queue's true
// depth after a restart.
func (c *Counter) reconcile(store DirResolver, nodes NodeSource) {
	if store == nil || nodes == nil {
		return
	}
	for _, id := range nodes.NodeIDs() {
		inbox, err := mailstore.Count(store.InboxOf(id))
		if err != nil {
			slog.Warn("inbox counter: failed to count inbox", "node", id, "error", err)
			continue
		}
		outbox, err := mailstore.Count(store.OutboxOf(id))
		if err != nil {
			slog.Warn("inbox counter: failed to count outbox", "node", id, "error", err)
			continue
		}
		c.Set(id, int64(inbox), int64(outbox))
	}
}
