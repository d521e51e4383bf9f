// Package outboxwatch implements the Outbox Watcher (spec.md §4.2): one
// polling task per node directory that moves outbound mail into the
// orchestrator's inflight/ spool and hands it to the Router.
//
// No fsnotify-class library exists anywhere in the reference corpus, so
// the watcher is a time.Ticker polling loop — the same mechanism the
// teacher uses for its scheduler and idle reaper.
package outboxwatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mtzanidakis/hive/internal/mail"
	"github.com/mtzanidakis/hive/internal/mailstore"
)

// Router is the single hand-off point for a mail read out of an outbox.
// Satisfied by *internal/mailrouter.Router.
type Router interface {
	Route(m *mail.Mail) error
}

// Watcher polls one node's outbox directory.
type Watcher struct {
	nodeID       string
	outboxDir    string
	inflightDir  string
	store        *mailstore.Store
	router       Router
	pollInterval time.Duration
}

// New returns a Watcher for nodeID, reading from outboxDir and staging
// through the orchestrator-owned inflight spool (spec.md §4.2's
// at-least-once delivery guarantee G2). Outbox queue depth is not
// tracked incrementally here — internal/inboxcount.Counter derives it
// by scanning outboxDir directly on its own reconcile tick, the same
// directory this watcher drains.
func New(nodeID, outboxDir string, store *mailstore.Store, router Router, pollInterval time.Duration) *Watcher {
	return &Watcher{
		nodeID:       nodeID,
		outboxDir:    outboxDir,
		inflightDir:  store.InflightDir(),
		store:        store,
		router:       router,
		pollInterval: pollInterval,
	}
}

// Run polls until ctx is cancelled. On start it performs a full scan of
// the outbox directory (G1: "a restart must not lose mail already sitting
// in an outbox") before entering the ticker loop. Recovery of mail
// stranded in the shared inflight/ spool from a prior crash is not this
// watcher's job — see RecoverInflight — since the spool is shared across
// every node's watcher and must be drained exactly once at startup, not
// once per watcher.
func (w *Watcher) Run(ctx context.Context) {
	w.scanOnce()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scanOnce()
		}
	}
}

// scanOnce performs one pass over the outbox directory. It has no
// quiescence wait: every listed .json file is staged and read at once,
// which relies on producers following the rename-in write contract so
// that only complete files carry the .json name (spec.md §4.2 G3 note on
// rename-in producers). A file written in place under its final name can
// be read before its writer has finished.
func (w *Watcher) scanOnce() {
	names, err := mailstore.List(w.outboxDir)
	if err != nil {
		slog.Warn("outbox watcher: failed to list outbox", "node", w.nodeID, "error", err)
		return
	}
	for _, name := range names {
		src := filepath.Join(w.outboxDir, name)
		staged, err := mailstore.MoveInto(src, w.inflightDir)
		if err != nil {
			slog.Warn("outbox watcher: failed to stage into inflight", "node", w.nodeID, "file", name, "error", err)
			continue
		}
		w.routeFile(staged)
	}
}

// routeFile reads, routes, and unlinks the inflight file. A parse failure
// poisons the file instead of retrying it forever.
func (w *Watcher) routeFile(path string) {
	var m mail.Mail
	data, err := os.ReadFile(path)
	if err == nil {
		err = json.Unmarshal(data, &m)
	}
	if err != nil {
		slog.Warn("outbox watcher: poisoning unreadable mail", "node", w.nodeID, "path", path, "error", err)
		if poisonErr := mailstore.Poison(w.inflightDir, path, err); poisonErr != nil {
			slog.Error("outbox watcher: failed to poison mail", "path", path, "error", poisonErr)
		}
		return
	}
	if err := w.router.Route(&m); err != nil {
		slog.Warn("outbox watcher: route failed", "mail", m.ID, "from", m.From, "to", m.To, "error", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("outbox watcher: failed to unlink routed inflight mail", "path", path, "error", err)
	}
}

// RecoverInflight re-routes every mail left in the shared inflight/ spool
// from a prior crash, before any Watcher starts polling (spec.md §4.5
// idempotency note: "on restart, the inflight spool is scanned and each
// mail is re-routed from step 1"). Called exactly once at startup — the
// spool has no per-node ownership, so recovering it from inside each
// node's Watcher would re-route the same stranded file once per watcher.
func RecoverInflight(store *mailstore.Store, router Router) {
	dir := store.InflightDir()
	names, err := mailstore.List(dir)
	if err != nil {
		slog.Warn("outbox watcher: failed to list inflight dir for recovery", "error", err)
		return
	}
	for _, name := range names {
		path := filepath.Join(dir, name)
		m, err := mailstore.ReadAndRemove(path)
		if err != nil {
			slog.Warn("outbox watcher: poisoning unreadable inflight mail", "path", path, "error", err)
			if poisonErr := mailstore.Poison(dir, path, err); poisonErr != nil {
				slog.Error("outbox watcher: failed to poison inflight mail", "path", path, "error", poisonErr)
			}
			continue
		}
		if err := router.Route(m); err != nil {
			slog.Warn("outbox watcher: inflight recovery route failed", "mail", m.ID, "from", m.From, "to", m.To, "error", err)
		}
	}
}
