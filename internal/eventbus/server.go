// Package eventbus implements the Event Bus (spec.md §4.8): an in-process
// pub/sub fanning status changes, mail events, and count updates to all
// subscribers, with a bounded per-subscriber queue and drop-on-overflow.
//
// Grounded on the teacher's embedded-NATS internal/natsbus: an embedded
// NATS server is the transport, and nats.go's per-subscription
// PendingLimits is the native mechanism for the bounded-queue/drop
// semantics spec.md demands — no hand-rolled ring buffer needed.
package eventbus

import (
	"fmt"
	"os"
	"time"

	"github.com/mtzanidakis/hive/internal/config"
	natsserver "github.com/nats-io/nats-server/v2/server"
)

// maxPendingMsgs/maxPendingBytes bound every subscription created by this
// package — "recommended 256 events" per spec.md §4.8.
const (
	maxPendingMsgs  = 256
	maxPendingBytes = 1024 * 1024
)

// Bus owns the embedded NATS server process.
type Bus struct {
	server *natsserver.Server
	cfg    config.NATSConfig
}

// New starts an embedded NATS server with JetStream disabled — the Event
// Bus is explicitly non-persistent across restarts (spec.md §4.8), so
// JetStream's durable storage would be the wrong tool here (the teacher
// enables it for its own swarm-result persistence need, which this spec
// does not share).
func New(cfg config.NATSConfig) (*Bus, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create nats data dir: %w", err)
	}

	opts := &natsserver.Options{
		Port:   cfg.Port,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("nats server not ready")
	}

	return &Bus{server: ns, cfg: cfg}, nil
}

func (b *Bus) ClientURL() string { return b.server.ClientURL() }
func (b *Bus) Port() int         { return b.cfg.Port }

func (b *Bus) Close() {
	b.server.Shutdown()
	b.server.WaitForShutdown()
}
