// Package swarmregistry implements the Swarm Registry (spec.md §4.7): a
// sqlite-mirrored query cache backing a durable swarm.json file as the
// source of truth, with validation before every persist and an
// fsync-on-close + swarm:updated emit on every mutation.
//
// Grounded on the teacher's internal/store (sqlite setup, WAL + busy
// timeout) and internal/registry (single-writer Sync discipline), with
// internal/store/groups.go's chat-folder schema dropped (superseded by
// mailstore's bee/mailbox directories) and internal/store/secrets.go's
// schema folded in as the registry's vault-backed secret table.
package swarmregistry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/mtzanidakis/hive/internal/config"
	"github.com/mtzanidakis/hive/internal/orcherr"
	"github.com/mtzanidakis/hive/internal/topology"
	"github.com/mtzanidakis/hive/internal/vault"
)

// EventPublisher emits swarm:updated (spec.md §4.7). Satisfied by
// *internal/eventbus.Conn.
type EventPublisher interface {
	PublishSwarmUpdated(swarmID string)
}

// Registry is safe for concurrent use; every mutation serializes through
// mu, the single-writer discipline carried from the teacher's
// Registry.Sync.
type Registry struct {
	mu               sync.Mutex
	db               *sql.DB
	configPath       string
	topo             *topology.Topology
	events           EventPublisher
	vault            *vault.Vault
	autoConnectHuman bool

	current Config
}

// New opens the sqlite mirror at cfg.DBPath, loads swarm.json from
// cfg.ConfigPath (tolerating a missing file as an empty swarm), applies
// it to topo, and mirrors it into sqlite. v may be nil if no secrets will
// ever be stored (secret operations then fail with ErrValidation).
func New(cfg config.RegistryConfig, topo *topology.Topology, events EventPublisher, v *vault.Vault) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create registry data dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	for _, p := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	r := &Registry{db: db, configPath: cfg.ConfigPath, topo: topo, events: events, vault: v, autoConnectHuman: cfg.AutoConnectHuman}
	if err := r.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	loaded, err := r.load()
	if err != nil {
		return nil, err
	}
	r.current = loaded
	r.applyTopology(loaded)
	if err := r.mirror(loaded); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) Close() error { return r.db.Close() }

func (r *Registry) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS bees (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			model TEXT,
			soul TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS mailboxes (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS connections (
			from_id TEXT NOT NULL,
			to_id TEXT NOT NULL,
			bidirectional BOOLEAN DEFAULT FALSE,
			PRIMARY KEY (from_id, to_id)
		)`,
		`CREATE TABLE IF NOT EXISTS secrets (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			value BLOB NOT NULL,
			nonce BLOB NOT NULL,
			global BOOLEAN DEFAULT FALSE,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS agent_secrets (
			agent_id TEXT NOT NULL,
			secret_id TEXT NOT NULL,
			PRIMARY KEY (agent_id, secret_id)
		)`,
		`CREATE TABLE IF NOT EXISTS scheduled_tasks (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			name TEXT NOT NULL,
			schedule TEXT NOT NULL,
			prompt TEXT NOT NULL,
			status TEXT DEFAULT 'active',
			next_run_at DATETIME,
			last_run_at DATETIME,
			last_status TEXT,
			last_error TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_next_run ON scheduled_tasks(status, next_run_at)`,
	}
	for _, m := range migrations {
		if _, err := r.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// load reads swarm.json, tolerating a missing file as an empty config.
func (r *Registry) load() (Config, error) {
	data, err := os.ReadFile(r.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{Bees: []Bee{}, Mailboxes: []Mailbox{}, Connections: []Connection{}}, nil
		}
		return Config{}, orcherr.Wrap(orcherr.ErrIO, "read swarm config %s", r.configPath)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, orcherr.Wrap(orcherr.ErrValidation, "parse swarm config %s", r.configPath)
	}
	return cfg, nil
}

// Get returns a copy of the current in-memory swarm config (swarm.get,
// spec.md §6). Its slices are copied too, so a caller that edits the
// result does not touch the registry's own config.
func (r *Registry) Get() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg := r.current
	cfg.Bees = append(make([]Bee, 0, len(r.current.Bees)), r.current.Bees...)
	cfg.Mailboxes = append(make([]Mailbox, 0, len(r.current.Mailboxes)), r.current.Mailboxes...)
	cfg.Connections = append(make([]Connection, 0, len(r.current.Connections)), r.current.Connections...)
	return cfg
}

// Put validates, persists to swarm.json (fsync-on-close), rebuilds the
// Topology, mirrors into sqlite, and emits swarm:updated — spec.md §4.7's
// full mutation contract (swarm.put, spec.md §6).
func (r *Registry) Put(cfg Config) error {
	if err := validate(cfg); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.persist(cfg); err != nil {
		return err
	}
	r.current = cfg
	r.applyTopology(cfg)
	if err := r.mirror(cfg); err != nil {
		return err
	}
	if r.events != nil {
		r.events.PublishSwarmUpdated(cfg.ID)
	}
	return nil
}

// persist writes cfg to a temp sibling of configPath then renames it into
// place, fsyncing before close — the same atomic-write discipline as
// mailstore.Write, required by spec.md §4.7's "always followed by a
// fsync-on-close write."
func (r *Registry) persist(cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(r.configPath), 0o755); err != nil {
		return orcherr.Wrap(orcherr.ErrIO, "mkdir for swarm config")
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return orcherr.Wrap(orcherr.ErrValidation, "marshal swarm config")
	}
	tmp := r.configPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return orcherr.Wrap(orcherr.ErrIO, "create temp swarm config")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return orcherr.Wrap(orcherr.ErrIO, "write temp swarm config")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return orcherr.Wrap(orcherr.ErrIO, "fsync temp swarm config")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return orcherr.Wrap(orcherr.ErrIO, "close temp swarm config")
	}
	if err := os.Rename(tmp, r.configPath); err != nil {
		return orcherr.Wrap(orcherr.ErrIO, "rename swarm config into place")
	}
	return nil
}

// applyTopology rebuilds the Topology's edge set from cfg.Connections in
// one atomic swap, plus any auto-connect-human edges the Open Question
// decision enables (DESIGN.md).
func (r *Registry) applyTopology(cfg Config) {
	specs := make([]topology.EdgeSpec, 0, len(cfg.Connections)+len(cfg.Bees))
	for _, c := range cfg.Connections {
		specs = append(specs, topology.EdgeSpec{From: c.From, To: c.To, Bidirectional: c.Bidirectional})
	}
	if r.autoConnectHuman {
		for _, b := range cfg.Bees {
			specs = append(specs, topology.EdgeSpec{From: "human", To: b.ID, Bidirectional: true})
		}
	}
	r.topo.ReplaceAll(specs)
}

// mirror replaces the sqlite read-cache tables with cfg's contents inside
// a single transaction, per spec.md §4.7's "mutations go through this
// component" — the cache is always derived from the durable file, never
// the other way around.
func (r *Registry) mirror(cfg Config) error {
	tx, err := r.db.Begin()
	if err != nil {
		return orcherr.Wrap(orcherr.ErrIO, "begin mirror tx")
	}
	defer tx.Rollback()

	for _, stmt := range []string{"DELETE FROM bees", "DELETE FROM mailboxes", "DELETE FROM connections"} {
		if _, err := tx.Exec(stmt); err != nil {
			return orcherr.Wrap(orcherr.ErrIO, "clear mirror table")
		}
	}
	for _, b := range cfg.Bees {
		if _, err := tx.Exec(`INSERT INTO bees (id, name, model, soul) VALUES (?, ?, ?, ?)`, b.ID, b.Name, b.Model, b.Soul); err != nil {
			return orcherr.Wrap(orcherr.ErrIO, "mirror bee %s", b.ID)
		}
	}
	for _, m := range cfg.Mailboxes {
		if _, err := tx.Exec(`INSERT INTO mailboxes (id, name) VALUES (?, ?)`, m.ID, m.Name); err != nil {
			return orcherr.Wrap(orcherr.ErrIO, "mirror mailbox %s", m.ID)
		}
	}
	for _, c := range cfg.Connections {
		if _, err := tx.Exec(`INSERT INTO connections (from_id, to_id, bidirectional) VALUES (?, ?, ?)`, c.From, c.To, c.Bidirectional); err != nil {
			return orcherr.Wrap(orcherr.ErrIO, "mirror connection %s->%s", c.From, c.To)
		}
	}
	if err := tx.Commit(); err != nil {
		return orcherr.Wrap(orcherr.ErrIO, "commit mirror tx")
	}
	// PRAGMA synchronous=FULL + wal_checkpoint(TRUNCATE) on every mutation,
	// spec.md §4.7's fsync-on-close guarantee extended to the mirror.
	if _, err := r.db.Exec("PRAGMA synchronous=FULL"); err != nil {
		return orcherr.Wrap(orcherr.ErrIO, "set synchronous=FULL")
	}
	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return orcherr.Wrap(orcherr.ErrIO, "checkpoint wal")
	}
	return nil
}

// AddConnection, RemoveConnection, and SetBidirectional implement the
// Gateway's conn.add/conn.remove/conn.setBidir operations (spec.md §6) by
// mutating the in-memory config and running it back through Put so every
// topology change is persisted and validated uniformly.
func (r *Registry) AddConnection(from, to string, bidir bool) error {
	cfg := r.Get()
	cfg.Connections = append(cfg.Connections, Connection{From: from, To: to, Bidirectional: bidir})
	return r.Put(cfg)
}

func (r *Registry) RemoveConnection(from, to string) error {
	cfg := r.Get()
	filtered := cfg.Connections[:0]
	for _, c := range cfg.Connections {
		if c.From == from && c.To == to {
			continue
		}
		filtered = append(filtered, c)
	}
	cfg.Connections = filtered
	return r.Put(cfg)
}

func (r *Registry) SetBidirectional(from, to string, bidir bool) error {
	cfg := r.Get()
	for i, c := range cfg.Connections {
		if c.From == from && c.To == to {
			cfg.Connections[i].Bidirectional = bidir
		}
	}
	return r.Put(cfg)
}

// HasBee reports whether id currently names a bee in the swarm.
func (r *Registry) HasBee(id string) bool {
	cfg := r.Get()
	for _, b := range cfg.Bees {
		if b.ID == id {
			return true
		}
	}
	return false
}

// NodeIDs lists every node id currently known to the swarm — the human
// node plus every bee and mailbox — satisfying internal/inboxcount.NodeSource
// for the Inbox Counter's disk-scan reconciliation (spec.md §8.8).
func (r *Registry) NodeIDs() []string {
	cfg := r.Get()
	ids := make([]string, 0, 1+len(cfg.Bees)+len(cfg.Mailboxes))
	ids = append(ids, "human")
	for _, b := range cfg.Bees {
		ids = append(ids, b.ID)
	}
	for _, m := range cfg.Mailboxes {
		ids = append(ids, qualifiedMailboxID(m.ID))
	}
	return ids
}

// ResolveNodeName satisfies internal/container.NodeResolver: looks up the
// display name for a bee or mailbox id, falling back to "" (the caller
// falls back to the raw id) for the human node or an unknown id.
func (r *Registry) ResolveNodeName(id string) string {
	cfg := r.Get()
	for _, b := range cfg.Bees {
		if b.ID == id {
			return b.Name
		}
	}
	for _, m := range cfg.Mailboxes {
		if qualifiedMailboxID(m.ID) == id {
			return m.Name
		}
	}
	return ""
}
