package outboxwatch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mtzanidakis/hive/internal/mail"
	"github.com/mtzanidakis/hive/internal/mailstore"
)

type recordingRouter struct {
	mu     sync.Mutex
	routed []*mail.Mail
}

func (r *recordingRouter) Route(m *mail.Mail) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routed = append(r.routed, m)
	return nil
}

func (r *recordingRouter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.routed)
}

func newTestStore(t *testing.T) *mailstore.Store {
	t.Helper()
	s := mailstore.New(t.TempDir())
	if err := s.EnsureOrchestratorDirs(); err != nil {
		t.Fatalf("EnsureOrchestratorDirs: %v", err)
	}
	if err := s.EnsureAgentDirs("bee-a"); err != nil {
		t.Fatalf("EnsureAgentDirs: %v", err)
	}
	return s
}

func TestScanOnce_RoutesExistingOutboxFiles(t *testing.T) {
	store := newTestStore(t)
	router := &recordingRouter{}

	m := mail.New("bee-a", "human", "done", "body", mail.TypeAgent)
	if _, err := store.Write(store.AgentOutbox("bee-a"), m); err != nil {
		t.Fatalf("Write: %v", err)
	}

	w := New("bee-a", store.AgentOutbox("bee-a"), store, router, 50*time.Millisecond)
	w.scanOnce()

	if router.count() != 1 {
		t.Fatalf("expected 1 routed mail, got %d", router.count())
	}
	names, _ := mailstore.List(store.AgentOutbox("bee-a"))
	if len(names) != 0 {
		t.Fatalf("expected outbox empty after scan, got %d files", len(names))
	}
}

func TestRun_StartupFullScanCatchesPreExistingFile(t *testing.T) {
	store := newTestStore(t)
	router := &recordingRouter{}

	m := mail.New("bee-a", "human", "pre-existing", "body", mail.TypeAgent)
	if _, err := store.Write(store.AgentOutbox("bee-a"), m); err != nil {
		t.Fatalf("Write: %v", err)
	}

	w := New("bee-a", store.AgentOutbox("bee-a"), store, router, 20*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	w.Run(ctx)

	if router.count() != 1 {
		t.Fatalf("expected the pre-existing file routed on startup scan, got %d", router.count())
	}
}

func TestRecoverInflight_ReRoutesStrandedMail(t *testing.T) {
	store := newTestStore(t)
	router := &recordingRouter{}

	m := mail.New("bee-a", "human", "stranded", "body", mail.TypeAgent)
	if _, err := store.Write(store.InflightDir(), m); err != nil {
		t.Fatalf("Write: %v", err)
	}

	RecoverInflight(store, router)

	if router.count() != 1 {
		t.Fatalf("expected stranded inflight mail re-routed, got %d", router.count())
	}
	names, _ := mailstore.List(store.InflightDir())
	if len(names) != 0 {
		t.Fatalf("expected inflight dir empty after recovery, got %d files", len(names))
	}
}

func TestScanOnce_PoisonsUnreadableFile(t *testing.T) {
	store := newTestStore(t)
	router := &recordingRouter{}

	outbox := store.AgentOutbox("bee-a")
	if err := os.MkdirAll(outbox, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	bad := filepath.Join(outbox, "1-bad.json")
	if err := os.WriteFile(bad, []byte("not json"), 0o644); err != nil {
		t.Fatalf("write bad file: %v", err)
	}

	w := New("bee-a", outbox, store, router, time.Minute)
	w.scanOnce()

	if router.count() != 0 {
		t.Fatalf("expected 0 routed mail for corrupt file, got %d", router.count())
	}
	names, _ := mailstore.List(filepath.Join(store.InflightDir(), "poison"))
	if len(names) != 1 {
		t.Fatalf("expected 1 poisoned file, got %d", len(names))
	}
}
