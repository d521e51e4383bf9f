package mailstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mtzanidakis/hive/internal/mail"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s := New(dir)
	if err := s.EnsureOrchestratorDirs(); err != nil {
		t.Fatalf("EnsureOrchestratorDirs: %v", err)
	}
	return s
}

func TestWriteThenList_FIFOOrder(t *testing.T) {
	s := newTestStore(t)
	dir := s.AgentOutbox("bee-1")

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		m := mail.New("bee-1", "human", "hi", "body", mail.TypeAgent)
		m.Timestamp = base.Add(time.Duration(i) * time.Millisecond)
		if _, err := s.Write(dir, m); err != nil {
			t.Fatalf("Write: %v", err)
		}
		ids = append(ids, m.ID)
	}

	names, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 3 {
		t.Fatalf("expected 3 files, got %d", len(names))
	}
	for i, name := range names {
		m, err := ReadAndRemove(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("ReadAndRemove: %v", err)
		}
		if m.ID != ids[i] {
			t.Fatalf("expected FIFO order: entry %d wanted id %s, got %s", i, ids[i], m.ID)
		}
	}
}

func TestReadAndRemove_UnlinksFile(t *testing.T) {
	s := newTestStore(t)
	dir := s.AgentInbox("bee-1")
	m := mail.New("human", "bee-1", "hi", "body", mail.TypeHuman)
	path, err := s.Write(dir, m)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := ReadAndRemove(path); err != nil {
		t.Fatalf("ReadAndRemove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected file to be unlinked after read")
	}
}

func TestReadAndRemove_CorruptFileReturnsMailCorrupt(t *testing.T) {
	s := newTestStore(t)
	dir := s.AgentOutbox("bee-1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, FileName(time.Now()))
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := ReadAndRemove(path); err == nil {
		t.Fatal("expected error for corrupt file")
	}

	if err := Poison(dir, path, os.ErrInvalid); err != nil {
		t.Fatalf("Poison: %v", err)
	}
	poisoned := filepath.Join(dir, "poison", filepath.Base(path))
	if _, err := os.Stat(poisoned); err != nil {
		t.Fatalf("expected poisoned file at %s: %v", poisoned, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected original path to no longer exist")
	}
}

func TestCount(t *testing.T) {
	s := newTestStore(t)
	dir := s.AgentInbox("bee-1")
	for i := 0; i < 2; i++ {
		m := mail.New("human", "bee-1", "hi", "body", mail.TypeHuman)
		if _, err := s.Write(dir, m); err != nil {
			t.Fatal(err)
		}
	}
	n, err := Count(dir)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected count 2, got %d", n)
	}
}

func TestInboxOf(t *testing.T) {
	s := New("/data")
	if got := s.InboxOf(mail.NodeHuman); got != s.HumanInbox() {
		t.Fatalf("expected human inbox, got %s", got)
	}
	if got := s.InboxOf("mailbox:ci"); got != s.MailboxInbox("mailbox:ci") {
		t.Fatalf("expected mailbox inbox, got %s", got)
	}
	if got := s.InboxOf("bee-1"); got != s.AgentInbox("bee-1") {
		t.Fatalf("expected agent inbox, got %s", got)
	}
}

func TestMoveInto_PreservesFilename(t *testing.T) {
	s := newTestStore(t)
	src := s.AgentOutbox("bee-1")
	m := mail.New("bee-1", "human", "hi", "body", mail.TypeAgent)
	path, err := s.Write(src, m)
	if err != nil {
		t.Fatal(err)
	}
	name := filepath.Base(path)

	moved, err := MoveInto(path, s.InflightDir())
	if err != nil {
		t.Fatalf("MoveInto: %v", err)
	}
	if filepath.Base(moved) != name {
		t.Fatalf("expected filename preserved, got %s", filepath.Base(moved))
	}
}
