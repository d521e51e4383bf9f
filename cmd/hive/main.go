package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mtzanidakis/hive/internal/config"
	"github.com/mtzanidakis/hive/internal/container"
	"github.com/mtzanidakis/hive/internal/eventbus"
	"github.com/mtzanidakis/hive/internal/gateway"
	"github.com/mtzanidakis/hive/internal/inboxcount"
	"github.com/mtzanidakis/hive/internal/mail"
	"github.com/mtzanidakis/hive/internal/mailrouter"
	"github.com/mtzanidakis/hive/internal/mailstore"
	"github.com/mtzanidakis/hive/internal/orcherr"
	"github.com/mtzanidakis/hive/internal/outboxwatch"
	"github.com/mtzanidakis/hive/internal/schedule"
	"github.com/mtzanidakis/hive/internal/swarmregistry"
	"github.com/mtzanidakis/hive/internal/topology"
	"github.com/mtzanidakis/hive/internal/vault"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("hive %s\n", version)
	case "orchestrator":
		if err := runOrchestrator(); err != nil {
			slog.Error("orchestrator failed", "error", err)
			os.Exit(orcherr.ExitCode(err))
		}
	case "backup":
		if err := runBackup(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(orcherr.ExitCode(err))
		}
	case "restore":
		if err := runRestore(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(orcherr.ExitCode(err))
		}
	case "vault":
		if err := runVault(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(orcherr.ExitCode(err))
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: hive <command>

Commands:
  orchestrator   Start the orchestrator (Mail Store, Router, Gateway, Supervisor, Scheduler)
  backup         Archive DATA_ROOT to a tar+zstd file
  restore        Restore DATA_ROOT from a tar+zstd archive
  vault          Manage encrypted secrets
  version        Print version
`)
}

// watcherSet tracks one running outboxwatch.Watcher goroutine per node,
// keyed by node id, so SetOnStart's repeated calls for an already-watched
// agent are a no-op instead of spawning a second poller on the same
// directory.
type watcherSet struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newWatcherSet() *watcherSet {
	return &watcherSet{cancels: make(map[string]context.CancelFunc)}
}

func (ws *watcherSet) ensure(parent context.Context, nodeID, outboxDir string, store *mailstore.Store, router *mailrouter.Router, pollInterval time.Duration) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if _, running := ws.cancels[nodeID]; running {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	ws.cancels[nodeID] = cancel
	w := outboxwatch.New(nodeID, outboxDir, store, router, pollInterval)
	go w.Run(ctx)
	slog.Info("outbox watcher started", "node", nodeID)
}

func runOrchestrator() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting hive orchestrator", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Mail Store: the filesystem layout every other component addresses.
	store := mailstore.New(cfg.DataRoot)
	if err := store.EnsureOrchestratorDirs(); err != nil {
		return fmt.Errorf("init mail store: %w", err)
	}
	slog.Info("mail store initialized", "root", cfg.DataRoot)

	// Topology: in-memory snapshot, rebuilt by the Swarm Registry on every
	// swarm.put.
	topo := topology.New()

	// Event Bus: embedded NATS, non-persistent.
	bus, err := eventbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init event bus: %w", err)
	}
	defer bus.Close()
	slog.Info("event bus started", "port", cfg.NATS.Port)

	events, err := eventbus.NewConn(bus)
	if err != nil {
		return fmt.Errorf("connect to event bus: %w", err)
	}
	defer events.Close()

	// Vault: only needed once a passphrase is configured; secrets.go's
	// vault-backed operations fail with ErrValidation without one.
	var v *vault.Vault
	if cfg.Vault.Passphrase != "" {
		v = vault.New(cfg.Vault.Passphrase)
	} else {
		slog.Warn("HIVE_VAULT_PASSPHRASE not set, secret operations will be unavailable")
	}

	// Swarm Registry: sqlite-mirrored query cache over swarm.json, the
	// source of truth the Topology is rebuilt from.
	registry, err := swarmregistry.New(cfg.Registry, topo, events, v)
	if err != nil {
		return fmt.Errorf("init swarm registry: %w", err)
	}
	defer registry.Close()
	slog.Info("swarm registry initialized", "db", cfg.Registry.DBPath)

	// Container Supervisor.
	supervisor, err := container.NewSupervisor(cfg.Container, store, topo, events, registry)
	if err != nil {
		return fmt.Errorf("init container supervisor: %w", err)
	}
	if err := supervisor.CleanupStale(ctx); err != nil {
		slog.Warn("stale container cleanup failed", "error", err)
	}

	// Inbox Counter: reconciles against the Mail Store on its own tick, so
	// it needs the store (to resolve each node's inbox/outbox dirs) and the
	// registry (to list every node currently in the swarm) in addition to
	// the supervisor/event-bus it was already built with.
	counter := inboxcount.New(supervisor, events)
	go counter.Run(ctx, time.Second, store, registry)

	// Mail Router: the only component permitted to call Topology.CanSend.
	router := mailrouter.New(store, topo, counter, supervisor, events)

	// Recover mail stranded in the shared inflight/ spool from a prior
	// crash before any watcher starts polling (spec.md §4.5 idempotency).
	outboxwatch.RecoverInflight(store, router)

	// Outbox Watchers: one per node directory. human + every currently
	// configured bee/mailbox get a watcher eagerly; a bee added later via
	// node.add or swarm.put is picked up next time its container starts,
	// via SetOnStart below.
	watchers := newWatcherSet()
	watchers.ensure(ctx, mail.NodeHuman, store.HumanOutbox(), store, router, cfg.Watcher.PollInterval)
	swarmCfg := registry.Get()
	for _, b := range swarmCfg.Bees {
		watchers.ensure(ctx, b.ID, store.AgentOutbox(b.ID), store, router, cfg.Watcher.PollInterval)
	}
	for _, m := range swarmCfg.Mailboxes {
		id := mail.MailboxPrefix + m.ID
		if err := store.EnsureMailboxDirs(id); err != nil {
			slog.Warn("failed to ensure mailbox dirs", "mailbox", id, "error", err)
			continue
		}
		watchers.ensure(ctx, id, store.MailboxOutbox(id), store, router, cfg.Watcher.PollInterval)
	}
	supervisor.SetOnStart(func(agentID string) {
		watchers.ensure(ctx, agentID, store.AgentOutbox(agentID), store, router, cfg.Watcher.PollInterval)
	})

	// Scheduler: polls the registry's scheduled_tasks table and routes
	// synthesized cron mail through the Router.
	sched := schedule.New(registry, router, cfg.Scheduler.PollInterval)
	go sched.Run(ctx)
	slog.Info("scheduler started")

	// External Gateway.
	gw := gateway.New(store, registry, router, supervisor, counter, topo, events, cfg.Gateway)
	go func() {
		if err := gw.Run(ctx); err != nil {
			slog.Error("gateway server error", "error", err)
		}
	}()
	slog.Info("gateway listening", "addr", cfg.Gateway.ListenAddr)

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()

	return nil
}
