package container

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"

	"github.com/mtzanidakis/hive/internal/config"
	"github.com/mtzanidakis/hive/internal/eventbus"
	"github.com/mtzanidakis/hive/internal/mail"
	"github.com/mtzanidakis/hive/internal/mailstore"
	"github.com/mtzanidakis/hive/internal/orcherr"
	"github.com/mtzanidakis/hive/internal/topology"
)

// EventPublisher emits bee:status (spec.md §4.6 step 5). Satisfied by
// *internal/eventbus.Conn. The parameter type is eventbus.BeeStatusEvent
// itself, not a locally duplicated shape: Go interface satisfaction
// requires exact parameter type identity, so reusing eventbus's type here
// is what lets *eventbus.Conn satisfy this interface at all.
type EventPublisher interface {
	PublishBeeStatus(ev eventbus.BeeStatusEvent)
}

// NodeResolver maps a node id to its display name, used to populate
// hierarchy.json's {id, name, type} neighbor entries. Satisfied by
// *internal/swarmregistry.Registry.
type NodeResolver interface {
	ResolveNodeName(id string) string
}

// hierarchyNode is one neighbor entry of hierarchy.json (spec.md §6).
type hierarchyNode struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"` // "human", "bee", or "mailbox"
}

// hierarchyFile is the exact shape spec.md §6 names: "{agentId,
// receivesTasksFrom: [{id, name, type}], canDelegateTo: [{id, name,
// type}]}".
type hierarchyFile struct {
	AgentID           string          `json:"agentId"`
	ReceivesTasksFrom []hierarchyNode `json:"receivesTasksFrom"`
	CanDelegateTo     []hierarchyNode `json:"canDelegateTo"`
}

func nodeType(id string) string {
	switch {
	case id == mail.NodeHuman:
		return "human"
	case mail.IsMailbox(id):
		return "mailbox"
	default:
		return "bee"
	}
}

// Supervisor implements the Container Supervisor (spec.md §4.6): Start
// writes hierarchy.json, creates-or-starts the container, and begins
// outbox watching via the caller-supplied starter callback; Stop stops
// the container but not the outbox watcher; Remove additionally deletes
// the agent's data subtree.
type Supervisor struct {
	runtime  Runtime
	store    *mailstore.Store
	topo     *topology.Topology
	cfg      config.ContainerConfig
	events   EventPublisher
	resolver NodeResolver

	mu      sync.RWMutex
	handles map[string]Handle // agentID -> container handle

	// onStart is invoked after a container transitions to running, so the
	// caller can begin the agent's outbox watcher (spec.md §4.6 step 4).
	// It is set once via SetOnStart before the orchestrator starts routing.
	onStart func(agentID string)
}

// NewSupervisor wires a Supervisor. The Runtime is resolved from
// cfg.Backend via NewRuntime, so an unsupported backend fails fast at
// construction rather than at first Start.
func NewSupervisor(cfg config.ContainerConfig, store *mailstore.Store, topo *topology.Topology, events EventPublisher, resolver NodeResolver) (*Supervisor, error) {
	runtime, err := NewRuntime(cfg.Backend)
	if err != nil {
		return nil, err
	}
	return &Supervisor{
		runtime:  runtime,
		store:    store,
		topo:     topo,
		cfg:      cfg,
		events:   events,
		resolver: resolver,
		handles:  make(map[string]Handle),
	}, nil
}

// SetOnStart registers the callback invoked once a container has started,
// used by cmd/hive to wire in the per-agent outbox watcher.
func (s *Supervisor) SetOnStart(fn func(agentID string)) {
	s.onStart = fn
}

// EnsureStarted satisfies internal/mailrouter.Starter: it starts the
// agent's container if it is not already tracked as running, the lazy
// start the Router triggers on first delivery to an agent inbox.
func (s *Supervisor) EnsureStarted(agentID string) error {
	if s.IsRunning(agentID) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CallTimeout)
	defer cancel()
	return s.Start(ctx, agentID, agentID, "")
}

// IsRunning satisfies internal/inboxcount.RunningChecker. The orchestrator
// never trusts a cached value beyond this call (spec.md §4.6
// reconciliation note): every call re-inspects the container.
func (s *Supervisor) IsRunning(agentID string) bool {
	s.mu.RLock()
	h, ok := s.handles[agentID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CallTimeout)
	defer cancel()
	info, err := s.runtime.Inspect(ctx, h)
	if err != nil {
		slog.Warn("inspect failed while checking running state", "agent", agentID, "error", err)
		return false
	}
	return info.Running
}

// Start implements spec.md §4.6's five-step start sequence for agentID.
func (s *Supervisor) Start(ctx context.Context, agentID, agentName, model string) error {
	// Step 1: ensure agent directories exist.
	if err := s.store.EnsureAgentDirs(agentID); err != nil {
		return err
	}

	// Step 2: write hierarchy.json from current Topology.
	if err := s.writeHierarchy(agentID); err != nil {
		return err
	}

	// Step 3: create (if needed) then start.
	s.mu.Lock()
	h, exists := s.handles[agentID]
	s.mu.Unlock()

	if !exists {
		spec := s.buildSpec(agentID, agentName, model)
		created, err := s.runtime.Create(ctx, spec)
		if err != nil {
			return orcherr.Wrap(orcherr.ErrContainerRuntime, "create container for %s", agentID)
		}
		h = created
		s.mu.Lock()
		s.handles[agentID] = h
		s.mu.Unlock()
	}

	if err := s.runtime.Start(ctx, h); err != nil {
		return orcherr.Wrap(orcherr.ErrContainerRuntime, "start container for %s", agentID)
	}

	// Step 4: begin outbox watching.
	if s.onStart != nil {
		s.onStart(agentID)
	}

	// Step 5: emit bee:status.
	if s.events != nil {
		s.events.PublishBeeStatus(eventbus.BeeStatusEvent{AgentID: agentID, Running: true, Container: h.ID})
	}
	return nil
}

// Stop stops the agent's container and emits bee:status. It does not stop
// the agent's outbox watcher, which runs until the caller's context is
// cancelled.
func (s *Supervisor) Stop(ctx context.Context, agentID string) error {
	s.mu.RLock()
	h, ok := s.handles[agentID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	if err := s.runtime.Stop(ctx, h); err != nil {
		return orcherr.Wrap(orcherr.ErrContainerRuntime, "stop container for %s", agentID)
	}
	if s.events != nil {
		s.events.PublishBeeStatus(eventbus.BeeStatusEvent{AgentID: agentID, Running: false, Container: h.ID})
	}
	return nil
}

// Remove stops and removes the container, then deletes the agent's data
// subtree. It does not consult the Swarm Registry and does not fail for
// an agent that is still registered; the Gateway's node.remove takes the
// agent out of the registry before calling it.
func (s *Supervisor) Remove(ctx context.Context, agentID string) error {
	s.mu.RLock()
	h, ok := s.handles[agentID]
	s.mu.RUnlock()

	if ok {
		_ = s.runtime.Stop(ctx, h)
		if err := s.runtime.Remove(ctx, h); err != nil {
			return orcherr.Wrap(orcherr.ErrContainerRuntime, "remove container for %s", agentID)
		}
		s.mu.Lock()
		delete(s.handles, agentID)
		s.mu.Unlock()
	}

	return s.store.RemoveAgentDirs(agentID)
}

// CleanupStale removes any hive-managed container this Supervisor is not
// tracking, grounded on the teacher's Manager.CleanupStale.
func (s *Supervisor) CleanupStale(ctx context.Context) error {
	docker, ok := s.runtime.(*dockerRuntime)
	if !ok {
		return nil
	}
	s.mu.RLock()
	keep := make(map[string]bool, len(s.handles))
	for _, h := range s.handles {
		keep[h.ID] = true
	}
	s.mu.RUnlock()
	return docker.cleanupStale(ctx, keep)
}

func (s *Supervisor) buildSpec(agentID, agentName, model string) ContainerSpec {
	mounts := []Mount{
		{Source: s.store.AgentInbox(agentID), Target: "/hive/inbox"},
		{Source: s.store.AgentOutbox(agentID), Target: "/hive/outbox"},
		{Source: s.store.AgentState(agentID), Target: "/hive/state"},
		{Source: s.store.AgentLogs(agentID), Target: "/hive/logs"},
		{Source: s.store.AgentWorkspace(agentID), Target: "/hive/workspace"},
		{Source: s.store.AgentSoul(agentID), Target: "/hive/soul.md", ReadOnly: true},
	}
	return ContainerSpec{
		AgentID:        agentID,
		AgentName:      agentName,
		Model:          model,
		Image:          s.cfg.Image,
		ProviderAPIKey: s.cfg.ProviderAPIKey,
		Mounts:         mounts,
	}
}

// writeHierarchy derives hierarchy.json from the current Topology and
// writes it to the agent's state directory — the file contract spec.md §6
// describes between the orchestrator and the agent runtime: "the sole
// channel by which an agent learns its neighborhood; agents MUST NOT be
// told the global graph." receivesTasksFrom lists every node that can
// send to agentID; canDelegateTo lists every node agentID can send to.
func (s *Supervisor) writeHierarchy(agentID string) error {
	file := hierarchyFile{AgentID: agentID, ReceivesTasksFrom: []hierarchyNode{}, CanDelegateTo: []hierarchyNode{}}

	seenFrom := make(map[string]bool)
	seenTo := make(map[string]bool)
	for _, e := range s.topo.Merge() {
		var peer string
		var toAgent, fromAgent bool
		switch {
		case e.Source == agentID:
			peer, toAgent = e.Target, true
			fromAgent = e.Bidirectional
		case e.Target == agentID:
			peer, fromAgent = e.Source, true
			toAgent = e.Bidirectional
		default:
			continue
		}
		if toAgent && !seenTo[peer] {
			seenTo[peer] = true
			file.CanDelegateTo = append(file.CanDelegateTo, s.describeNode(peer))
		}
		if fromAgent && !seenFrom[peer] {
			seenFrom[peer] = true
			file.ReceivesTasksFrom = append(file.ReceivesTasksFrom, s.describeNode(peer))
		}
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return orcherr.Wrap(orcherr.ErrValidation, "marshal hierarchy for %s", agentID)
	}
	path := s.store.AgentHierarchyFile(agentID)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return orcherr.Wrap(orcherr.ErrIO, "write hierarchy for %s", agentID)
	}
	return nil
}

func (s *Supervisor) describeNode(id string) hierarchyNode {
	name := id
	if s.resolver != nil {
		if n := s.resolver.ResolveNodeName(id); n != "" {
			name = n
		}
	}
	return hierarchyNode{ID: id, Name: name, Type: nodeType(id)}
}
