package swarmregistry

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/mtzanidakis/hive/internal/config"
	"github.com/mtzanidakis/hive/internal/topology"
	"github.com/mtzanidakis/hive/internal/vault"
)

type recordingEvents struct {
	updated []string
}

func (r *recordingEvents) PublishSwarmUpdated(swarmID string) {
	r.updated = append(r.updated, swarmID)
}

func newTestRegistry(t *testing.T) (*Registry, *recordingEvents) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.RegistryConfig{
		DBPath:     filepath.Join(dir, "hive.db"),
		ConfigPath: filepath.Join(dir, "swarm.json"),
	}
	events := &recordingEvents{}
	reg, err := New(cfg, topology.New(), events, vault.New("test-passphrase"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg, events
}

func TestNew_MissingConfigFileLoadsEmptySwarm(t *testing.T) {
	reg, _ := newTestRegistry(t)
	cfg := reg.Get()
	if len(cfg.Bees) != 0 || len(cfg.Mailboxes) != 0 || len(cfg.Connections) != 0 {
		t.Fatalf("expected empty swarm, got %+v", cfg)
	}
}

func TestPut_ValidatesAndPersists(t *testing.T) {
	reg, events := newTestRegistry(t)
	cfg := Config{
		ID:   "swarm-1",
		Name: "test swarm",
		Bees: []Bee{{ID: "bee-a", Name: "Alpha"}, {ID: "bee-b", Name: "Beta"}},
		Connections: []Connection{
			{From: "human", To: "bee-a", Bidirectional: true},
			{From: "bee-a", To: "bee-b"},
		},
	}
	if err := reg.Put(cfg); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got := reg.Get()
	if len(got.Bees) != 2 {
		t.Fatalf("expected 2 bees, got %d", len(got.Bees))
	}
	if len(events.updated) != 1 || events.updated[0] != "swarm-1" {
		t.Fatalf("expected one swarm:updated for swarm-1, got %v", events.updated)
	}
}

func TestPut_RejectsSelfEdge(t *testing.T) {
	reg, _ := newTestRegistry(t)
	cfg := Config{
		ID:          "swarm-1",
		Bees:        []Bee{{ID: "bee-a", Name: "Alpha"}},
		Connections: []Connection{{From: "bee-a", To: "bee-a"}},
	}
	if err := reg.Put(cfg); err == nil {
		t.Fatal("expected error for self-edge, got nil")
	}
}

func TestPut_RejectsDanglingConnection(t *testing.T) {
	reg, _ := newTestRegistry(t)
	cfg := Config{
		ID:          "swarm-1",
		Bees:        []Bee{{ID: "bee-a", Name: "Alpha"}},
		Connections: []Connection{{From: "bee-a", To: "bee-ghost"}},
	}
	if err := reg.Put(cfg); err == nil {
		t.Fatal("expected error for dangling connection, got nil")
	}
}

func TestPut_RebuildsTopology(t *testing.T) {
	topo := topology.New()
	dir := t.TempDir()
	cfg := config.RegistryConfig{
		DBPath:     filepath.Join(dir, "hive.db"),
		ConfigPath: filepath.Join(dir, "swarm.json"),
	}
	reg, err := New(cfg, topo, &recordingEvents{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer reg.Close()

	swarmCfg := Config{
		ID:          "swarm-1",
		Bees:        []Bee{{ID: "bee-a", Name: "Alpha"}, {ID: "bee-b", Name: "Beta"}},
		Connections: []Connection{{From: "bee-a", To: "bee-b", Bidirectional: true}},
	}
	if err := reg.Put(swarmCfg); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if !topo.CanSend("bee-a", "bee-b") || !topo.CanSend("bee-b", "bee-a") {
		t.Fatal("expected bidirectional edge to be reflected in topology")
	}
}

func TestSecrets_RoundTripEncryption(t *testing.T) {
	reg, _ := newTestRegistry(t)

	s, err := reg.PutSecret("", "api-key", "sk-super-secret", true)
	if err != nil {
		t.Fatalf("PutSecret: %v", err)
	}

	plaintext, err := reg.RevealSecret(s.ID, "")
	if err != nil {
		t.Fatalf("RevealSecret: %v", err)
	}
	if plaintext != "sk-super-secret" {
		t.Fatalf("expected decrypted value, got %q", plaintext)
	}

	list, err := reg.ListSecrets()
	if err != nil {
		t.Fatalf("ListSecrets: %v", err)
	}
	if len(list) != 1 || list[0].Name != "api-key" {
		t.Fatalf("expected one secret named api-key, got %+v", list)
	}
}

func TestSecrets_ScopedSecretRequiresGrant(t *testing.T) {
	reg, _ := newTestRegistry(t)

	s, err := reg.PutSecret("", "scoped-key", "value", false)
	if err != nil {
		t.Fatalf("PutSecret: %v", err)
	}

	if _, err := reg.RevealSecret(s.ID, "bee-a"); err == nil {
		t.Fatal("expected access error for ungranted agent")
	}

	if err := reg.GrantSecret("bee-a", s.ID); err != nil {
		t.Fatalf("GrantSecret: %v", err)
	}
	if _, err := reg.RevealSecret(s.ID, "bee-a"); err != nil {
		t.Fatalf("expected access after grant, got %v", err)
	}
}

func TestTasks_DueTasksAndRecordRun(t *testing.T) {
	reg, _ := newTestRegistry(t)

	future := time.Now().Add(time.Hour).UnixMilli()
	sched := fmt.Sprintf(`{"kind":"once","at_ms":%d}`, future)
	id, err := reg.CreateTask("bee-a", "digest", "summarize the day", sched)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	// Simulate the scheduled moment having arrived.
	if _, err := reg.db.Exec(`UPDATE scheduled_tasks SET next_run_at = ? WHERE id = ?`, time.Now().Add(-time.Minute), id); err != nil {
		t.Fatalf("backdate task: %v", err)
	}

	due, err := reg.DueTasks(time.Now())
	if err != nil {
		t.Fatalf("DueTasks: %v", err)
	}
	if len(due) != 1 || due[0].ID != id {
		t.Fatalf("expected task %s due, got %+v", id, due)
	}

	if err := reg.RecordRun(id, "success", "", nil); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if err := reg.MarkCompleted(id); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	due, err = reg.DueTasks(time.Now())
	if err != nil {
		t.Fatalf("DueTasks after completion: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected no due tasks after completion, got %+v", due)
	}
}

func TestHasBee(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if reg.HasBee("bee-a") {
		t.Fatal("expected bee-a to not exist yet")
	}
	if err := reg.Put(Config{ID: "s1", Bees: []Bee{{ID: "bee-a", Name: "Alpha"}}}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !reg.HasBee("bee-a") {
		t.Fatal("expected bee-a to exist after Put")
	}
}
