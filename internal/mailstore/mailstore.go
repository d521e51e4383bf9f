// Package mailstore implements the Mail Store (spec.md §4.1): a
// shared-nothing filesystem layout of per-node inbox/outbox directories,
// with atomic rename-in writes and read-then-unlink reads.
package mailstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/hive/internal/mail"
	"github.com/mtzanidakis/hive/internal/orcherr"
)

const dirPerm = 0o755

// Store owns the data root and the directory-naming conventions of
// spec.md §4.1 / §6.
type Store struct {
	root string
}

// New returns a Store rooted at root. It does not create any directories;
// call EnsureOrchestratorDirs / EnsureAgentDirs / EnsureMailboxDirs first.
func New(root string) *Store {
	return &Store{root: root}
}

func (s *Store) Root() string { return s.root }

// AgentDir is <root>/agents/<id>.
func (s *Store) AgentDir(agentID string) string {
	return filepath.Join(s.root, "agents", agentID)
}

func (s *Store) AgentInbox(agentID string) string   { return filepath.Join(s.AgentDir(agentID), "inbox") }
func (s *Store) AgentOutbox(agentID string) string  { return filepath.Join(s.AgentDir(agentID), "outbox") }
func (s *Store) AgentWorkspace(agentID string) string {
	return filepath.Join(s.AgentDir(agentID), "workspace")
}
func (s *Store) AgentState(agentID string) string { return filepath.Join(s.AgentDir(agentID), "state") }
func (s *Store) AgentLogs(agentID string) string  { return filepath.Join(s.AgentDir(agentID), "logs") }
func (s *Store) AgentSoul(agentID string) string  { return filepath.Join(s.AgentDir(agentID), "soul.md") }
func (s *Store) AgentHierarchyFile(agentID string) string {
	return filepath.Join(s.AgentState(agentID), "hierarchy.json")
}

func (s *Store) HumanDir() string    { return filepath.Join(s.root, "human") }
func (s *Store) HumanInbox() string  { return filepath.Join(s.HumanDir(), "inbox") }
func (s *Store) HumanOutbox() string { return filepath.Join(s.HumanDir(), "outbox") }

func (s *Store) MailboxDir(id string) string {
	return filepath.Join(s.root, "mailboxes", strings.TrimPrefix(id, mail.MailboxPrefix))
}
func (s *Store) MailboxInbox(id string) string  { return filepath.Join(s.MailboxDir(id), "inbox") }
func (s *Store) MailboxOutbox(id string) string { return filepath.Join(s.MailboxDir(id), "outbox") }

func (s *Store) InflightDir() string   { return filepath.Join(s.root, "inflight") }
func (s *Store) DeadletterDir() string { return filepath.Join(s.root, "deadletter") }
func (s *Store) FilesDir() string      { return filepath.Join(s.root, "files") }

// PoisonDir returns the poison quarantine subdirectory for a given queue dir.
func (s *Store) PoisonDir(queueDir string) string { return filepath.Join(queueDir, "poison") }

// InboxOf resolves a recipient node id to its inbox directory, per the
// three node kinds spec.md §3/§4.1 define.
func (s *Store) InboxOf(nodeID string) string {
	switch {
	case nodeID == mail.NodeHuman:
		return s.HumanInbox()
	case mail.IsMailbox(nodeID):
		return s.MailboxInbox(nodeID)
	default:
		return s.AgentInbox(nodeID)
	}
}

// OutboxOf resolves a node id to its outbox directory, symmetric with
// InboxOf — used by the Inbox Counter's disk-scan reconciliation.
func (s *Store) OutboxOf(nodeID string) string {
	switch {
	case nodeID == mail.NodeHuman:
		return s.HumanOutbox()
	case mail.IsMailbox(nodeID):
		return s.MailboxOutbox(nodeID)
	default:
		return s.AgentOutbox(nodeID)
	}
}

// EnsureOrchestratorDirs creates the root-level subdirectories the
// orchestrator itself owns (human mailboxes parent, inflight, deadletter,
// files). No other subdirectories are created implicitly (spec.md §6).
func (s *Store) EnsureOrchestratorDirs() error {
	dirs := []string{
		s.HumanInbox(), s.HumanOutbox(),
		filepath.Join(s.root, "mailboxes"),
		s.InflightDir(), s.DeadletterDir(), s.FilesDir(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, dirPerm); err != nil {
			return orcherr.Wrap(orcherr.ErrIO, "mkdir %s", d)
		}
	}
	return nil
}

// EnsureAgentDirs creates the full per-agent subtree (spec.md §4.1).
func (s *Store) EnsureAgentDirs(agentID string) error {
	dirs := []string{
		s.AgentInbox(agentID), s.AgentOutbox(agentID),
		s.AgentWorkspace(agentID), s.AgentState(agentID), s.AgentLogs(agentID),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, dirPerm); err != nil {
			return orcherr.Wrap(orcherr.ErrIO, "mkdir %s", d)
		}
	}
	return nil
}

// EnsureMailboxDirs creates the inbox/outbox subtree for a mailbox node.
func (s *Store) EnsureMailboxDirs(id string) error {
	for _, d := range []string{s.MailboxInbox(id), s.MailboxOutbox(id)} {
		if err := os.MkdirAll(d, dirPerm); err != nil {
			return orcherr.Wrap(orcherr.ErrIO, "mkdir %s", d)
		}
	}
	return nil
}

// RemoveAgentDirs deletes an agent's entire data subtree (Supervisor.Remove,
// spec.md §4.6: "additionally deletes the agent's data subtree").
func (s *Store) RemoveAgentDirs(agentID string) error {
	if err := os.RemoveAll(s.AgentDir(agentID)); err != nil {
		return orcherr.Wrap(orcherr.ErrIO, "remove agent dir %s", agentID)
	}
	return nil
}

// FileName returns the canonical <epochMillis>-<uuid>.json name (spec.md
// §4.1), which sorts into FIFO order lexicographically.
func FileName(t time.Time) string {
	return fmt.Sprintf("%d-%s.json", t.UTC().UnixMilli(), uuid.NewString())
}

// Write persists m into dir using the temp-sibling-then-rename write
// contract (spec.md §4.1): write to a hidden temp file in dir, fsync, then
// rename into the final name so readers only ever observe complete files.
func (s *Store) Write(dir string, m *mail.Mail) (string, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", orcherr.Wrap(orcherr.ErrIO, "mkdir %s", dir)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return "", orcherr.Wrap(orcherr.ErrValidation, "marshal mail %s", m.ID)
	}

	name := FileName(m.Timestamp)
	final := filepath.Join(dir, name)
	tmp := filepath.Join(dir, "."+name+".tmp")

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", orcherr.Wrap(orcherr.ErrIO, "create temp file %s", tmp)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", orcherr.Wrap(orcherr.ErrIO, "write temp file %s", tmp)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", orcherr.Wrap(orcherr.ErrIO, "fsync temp file %s", tmp)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", orcherr.Wrap(orcherr.ErrIO, "close temp file %s", tmp)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", orcherr.Wrap(orcherr.ErrIO, "rename into %s", final)
	}
	return final, nil
}

// MoveInto renames an existing file (e.g. from an outbox) into dir,
// preserving its filename. Used for outbox→inflight and inflight→inbox
// hand-offs that must not re-derive a new filename.
func MoveInto(srcPath, dir string) (string, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", orcherr.Wrap(orcherr.ErrIO, "mkdir %s", dir)
	}
	dst := filepath.Join(dir, filepath.Base(srcPath))
	if err := os.Rename(srcPath, dst); err != nil {
		return "", orcherr.Wrap(orcherr.ErrIO, "move %s into %s", srcPath, dir)
	}
	return dst, nil
}

// List returns the .json file names in dir, sorted ascending — FIFO read
// order per spec.md §4.1. Missing dir is not an error (empty list).
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, orcherr.Wrap(orcherr.ErrIO, "list %s", dir)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Count returns the number of queued .json files in dir.
func Count(dir string) (int, error) {
	names, err := List(dir)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// ReadAndRemove implements the read-then-unlink consumer contract: it reads
// path, parses it as Mail, and unlinks it — a file is owned by exactly one
// consumer. On parse failure the caller is expected to Poison it instead of
// retrying (spec.md §4.1 read contract).
func ReadAndRemove(path string) (*mail.Mail, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.ErrIO, "read %s", path)
	}
	var m mail.Mail
	if jsonErr := json.Unmarshal(data, &m); jsonErr != nil {
		return nil, orcherr.Wrap(orcherr.ErrMailCorrupt, "parse %s", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, orcherr.Wrap(orcherr.ErrIO, "unlink %s", path)
	}
	return &m, nil
}

// Poison moves a file that failed to read/parse aside into dir's poison/
// subdirectory and appends an error-log entry next to it. It is not
// retried (spec.md §4.1).
func Poison(dir, path string, cause error) error {
	poisonDir := filepath.Join(dir, "poison")
	if err := os.MkdirAll(poisonDir, dirPerm); err != nil {
		return orcherr.Wrap(orcherr.ErrIO, "mkdir %s", poisonDir)
	}
	base := filepath.Base(path)
	dst := filepath.Join(poisonDir, base)
	if err := os.Rename(path, dst); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return orcherr.Wrap(orcherr.ErrIO, "poison move %s", path)
	}
	logPath := dst + ".error.log"
	entry := fmt.Sprintf("%s\t%s\n", time.Now().UTC().Format(time.RFC3339), cause.Error())
	if lf, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644); err == nil {
		_, _ = lf.WriteString(entry)
		_ = lf.Close()
	}
	return nil
}

// Deadletter moves a file into the deadletter directory (spec.md §4.5 step
// 2: a bounce that cannot itself be routed).
func (s *Store) Deadletter(path string) error {
	_, err := MoveInto(path, s.DeadletterDir())
	return err
}
