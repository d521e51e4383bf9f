package gateway

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/mtzanidakis/hive/internal/mail"
	"github.com/mtzanidakis/hive/internal/mailstore"
	"github.com/mtzanidakis/hive/internal/orcherr"
	"github.com/mtzanidakis/hive/internal/swarmregistry"
)

// registerRoutes binds spec.md §6's operation table onto SPEC_FULL.md
// §6's HTTP endpoint table, following the teacher's api.go convention of
// one mux.HandleFunc("METHOD /path", handler) line per operation.
func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/swarm", g.handleSwarmGet)
	mux.HandleFunc("PUT /api/swarm", g.handleSwarmPut)

	mux.HandleFunc("GET /api/nodes", g.handleNodesList)
	mux.HandleFunc("POST /api/nodes", g.handleNodeAdd)
	mux.HandleFunc("DELETE /api/nodes/{id}", g.handleNodeRemove)
	mux.HandleFunc("POST /api/nodes/{id}/start", g.handleNodeStart)
	mux.HandleFunc("POST /api/nodes/{id}/stop", g.handleNodeStop)
	mux.HandleFunc("GET /api/nodes/{id}/status", g.handleNodeStatus)
	mux.HandleFunc("GET /api/nodes/{id}/hierarchy", g.handleNodeHierarchy)
	mux.HandleFunc("GET /api/nodes/{id}/transcript", g.handleNodeTranscript)
	mux.HandleFunc("GET /api/nodes/{id}/inbox", g.handleNodeInbox)
	mux.HandleFunc("GET /api/nodes/{id}/outbox", g.handleNodeOutbox)

	mux.HandleFunc("POST /api/connections", g.handleConnectionAdd)
	mux.HandleFunc("DELETE /api/connections", g.handleConnectionRemove)
	mux.HandleFunc("PUT /api/connections/bidir", g.handleConnectionBidir)

	mux.HandleFunc("POST /api/mail", g.handleMailSend)
	mux.HandleFunc("GET /api/human/inbox", g.handleHumanInbox)
	mux.HandleFunc("GET /api/human/outbox", g.handleHumanOutbox)
	mux.HandleFunc("GET /api/mail/counts", g.handleMailCounts)

	mux.HandleFunc("POST /api/files", g.handleFilesUpload)
	mux.HandleFunc("GET /api/files/{id}", g.handleFilesFetch)
	mux.HandleFunc("GET /api/files/{id}/meta", g.handleFilesMeta)
}

// --- swarm.get / swarm.put ---

func (g *Gateway) handleSwarmGet(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, g.registry.Get())
}

func (g *Gateway) handleSwarmPut(w http.ResponseWriter, r *http.Request) {
	var cfg swarmregistry.Config
	if !decodeBody(w, r, &cfg) {
		return
	}
	if err := g.registry.Put(cfg); err != nil {
		jsonError(w, err, http.StatusBadRequest)
		return
	}
	jsonResponse(w, g.registry.Get())
}

// --- node.add / node.remove / node.start / node.stop / node.status ---

// nodeSummary is the Gateway-side view of one node, merging swarm config
// with live container and queue-depth state — node.add only touches
// the Swarm Registry (spec.md §6), but node list/status reads blend in
// what the Container Supervisor and Inbox Counter know right now.
type nodeSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"` // "human", "bee", "mailbox"
	Model      string `json:"model,omitempty"`
	Running    bool   `json:"running"`
	Inbox      int64  `json:"inbox"`
	Outbox     int64  `json:"outbox"`
	Processing bool   `json:"processing"`
}

func (g *Gateway) describeNode(id, name, typ, model string) nodeSummary {
	snap := g.counter.Snapshot(id)
	running := typ == "bee" && g.supervisor.IsRunning(id)
	return nodeSummary{
		ID: id, Name: name, Type: typ, Model: model,
		Running: running, Inbox: snap.Inbox, Outbox: snap.Outbox, Processing: snap.Processing,
	}
}

func (g *Gateway) handleNodesList(w http.ResponseWriter, r *http.Request) {
	cfg := g.registry.Get()
	nodes := make([]nodeSummary, 0, len(cfg.Bees)+len(cfg.Mailboxes)+1)
	nodes = append(nodes, g.describeNode(mail.NodeHuman, "human", "human", ""))
	for _, b := range cfg.Bees {
		nodes = append(nodes, g.describeNode(b.ID, b.Name, "bee", b.Model))
	}
	for _, m := range cfg.Mailboxes {
		id := mail.MailboxPrefix + m.ID
		nodes = append(nodes, g.describeNode(id, m.Name, "mailbox", ""))
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	jsonResponse(w, nodes)
}

// handleNodeAdd implements node.add: "Registry mutation" (spec.md §6).
// Starting the agent's container is a separate node.start call.
func (g *Gateway) handleNodeAdd(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type  string `json:"type"` // "bee" or "mailbox"
		ID    string `json:"id"`
		Name  string `json:"name"`
		Model string `json:"model,omitempty"`
		Soul  string `json:"soul,omitempty"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	cfg := g.registry.Get()
	switch body.Type {
	case "bee":
		cfg.Bees = append(cfg.Bees, swarmregistry.Bee{ID: body.ID, Name: body.Name, Model: body.Model, Soul: body.Soul})
	case "mailbox":
		cfg.Mailboxes = append(cfg.Mailboxes, swarmregistry.Mailbox{ID: body.ID, Name: body.Name})
	default:
		jsonError(w, orcherr.Wrap(orcherr.ErrValidation, "unknown node type %q", body.Type), http.StatusBadRequest)
		return
	}

	if err := g.registry.Put(cfg); err != nil {
		jsonError(w, err, http.StatusBadRequest)
		return
	}
	jsonResponse(w, map[string]string{"status": "ok"})
}

// handleNodeRemove implements node.remove: "Stop if running, remove
// container, purge data" (spec.md §6), preceded by removal from the
// Swarm Registry — container.Supervisor.Remove assumes that precondition
// already holds (spec.md §4.6: "it fails with an error if the agent
// still appears in the Swarm Registry; removal from the registry must
// precede").
func (g *Gateway) handleNodeRemove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	cfg := g.registry.Get()
	bees := cfg.Bees[:0]
	for _, b := range cfg.Bees {
		if b.ID != id {
			bees = append(bees, b)
		}
	}
	cfg.Bees = bees
	mailboxes := cfg.Mailboxes[:0]
	for _, m := range cfg.Mailboxes {
		if mail.MailboxPrefix+m.ID != id {
			mailboxes = append(mailboxes, m)
		}
	}
	cfg.Mailboxes = mailboxes

	if err := g.registry.Put(cfg); err != nil {
		jsonError(w, err, http.StatusBadRequest)
		return
	}

	_ = g.supervisor.Stop(r.Context(), id)
	if err := g.supervisor.Remove(r.Context(), id); err != nil {
		jsonError(w, err, http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (g *Gateway) handleNodeStart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	bee, ok := g.findBee(id)
	if !ok {
		jsonError(w, orcherr.Wrap(orcherr.ErrUnknownNode, "no bee %s in swarm", id), http.StatusNotFound)
		return
	}
	if err := g.supervisor.Start(r.Context(), bee.ID, bee.Name, bee.Model); err != nil {
		jsonError(w, err, http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (g *Gateway) handleNodeStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := g.supervisor.Stop(r.Context(), id); err != nil {
		jsonError(w, err, http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "ok"})
}

// handleNodeStatus implements node.status: "Fresh inspect" (spec.md §6) —
// IsRunning always re-inspects the container, never a cached value
// (spec.md §4.6's reconciliation note).
func (g *Gateway) handleNodeStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	jsonResponse(w, map[string]bool{"running": g.supervisor.IsRunning(id)})
}

func (g *Gateway) findBee(id string) (swarmregistry.Bee, bool) {
	cfg := g.registry.Get()
	for _, b := range cfg.Bees {
		if b.ID == id {
			return b, true
		}
	}
	return swarmregistry.Bee{}, false
}

// --- node.hierarchy / node.transcript / node.inbox / node.outbox ---

// handleNodeHierarchy implements node.hierarchy by returning the
// hierarchy.json file the Container Supervisor already computed and wrote
// on the agent's last start (spec.md §6: "Computed upstream/downstream
// lists"), rather than recomputing the split a second time here.
func (g *Gateway) handleNodeHierarchy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, err := os.ReadFile(g.store.AgentHierarchyFile(id))
	if err != nil {
		jsonError(w, orcherr.Wrap(orcherr.ErrNotFound, "no hierarchy recorded for %s", id), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// handleNodeTranscript implements node.transcript: "Append-only log tail
// from agent's logs dir" (spec.md §6) — the most recently modified file
// under the agent's logs directory, tailed from its end.
func (g *Gateway) handleNodeTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	const tailBytes = 64 * 1024

	logsDir := g.store.AgentLogs(id)
	entries, err := os.ReadDir(logsDir)
	if err != nil || len(entries) == 0 {
		jsonResponse(w, map[string]string{"transcript": ""})
		return
	}
	var latest os.DirEntry
	var latestMod int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if mt := info.ModTime().UnixNano(); latest == nil || mt > latestMod {
			latest, latestMod = e, mt
		}
	}
	if latest == nil {
		jsonResponse(w, map[string]string{"transcript": ""})
		return
	}

	path := filepath.Join(logsDir, latest.Name())
	f, err := os.Open(path)
	if err != nil {
		jsonError(w, orcherr.Wrap(orcherr.ErrIO, "open transcript %s", path), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		jsonError(w, orcherr.Wrap(orcherr.ErrIO, "stat transcript %s", path), http.StatusInternalServerError)
		return
	}
	var offset int64
	if info.Size() > tailBytes {
		offset = info.Size() - tailBytes
	}
	buf := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil {
		jsonError(w, orcherr.Wrap(orcherr.ErrIO, "read transcript %s", path), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"transcript": string(buf)})
}

// peekMail lists every mail currently queued in dir without consuming it
// — node.inbox/node.outbox/human.inbox/human.outbox are enumerate-only
// operations (spec.md §6), unlike mailstore.ReadAndRemove's consumer
// contract, so this reads each file directly instead.
func peekMail(dir string) ([]*mail.Mail, error) {
	names, err := mailstore.List(dir)
	if err != nil {
		return nil, err
	}
	out := make([]*mail.Mail, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var m mail.Mail
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		out = append(out, &m)
	}
	return out, nil
}

func (g *Gateway) outboxDirFor(id string) string {
	switch {
	case id == mail.NodeHuman:
		return g.store.HumanOutbox()
	case mail.IsMailbox(id):
		return g.store.MailboxOutbox(id)
	default:
		return g.store.AgentOutbox(id)
	}
}

func (g *Gateway) handleNodeInbox(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	mails, err := peekMail(g.store.InboxOf(id))
	if err != nil {
		jsonError(w, err, http.StatusInternalServerError)
		return
	}
	jsonResponse(w, mails)
}

func (g *Gateway) handleNodeOutbox(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	mails, err := peekMail(g.outboxDirFor(id))
	if err != nil {
		jsonError(w, err, http.StatusInternalServerError)
		return
	}
	jsonResponse(w, mails)
}

// --- conn.add / conn.remove / conn.setBidir ---

func (g *Gateway) handleConnectionAdd(w http.ResponseWriter, r *http.Request) {
	var body struct {
		From          string `json:"from"`
		To            string `json:"to"`
		Bidirectional bool   `json:"bidirectional"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := g.registry.AddConnection(body.From, body.To, body.Bidirectional); err != nil {
		jsonError(w, err, http.StatusBadRequest)
		return
	}
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (g *Gateway) handleConnectionRemove(w http.ResponseWriter, r *http.Request) {
	var body struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := g.registry.RemoveConnection(body.From, body.To); err != nil {
		jsonError(w, err, http.StatusBadRequest)
		return
	}
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (g *Gateway) handleConnectionBidir(w http.ResponseWriter, r *http.Request) {
	var body struct {
		From          string `json:"from"`
		To            string `json:"to"`
		Bidirectional bool   `json:"bidirectional"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := g.registry.SetBidirectional(body.From, body.To, body.Bidirectional); err != nil {
		jsonError(w, err, http.StatusBadRequest)
		return
	}
	jsonResponse(w, map[string]string{"status": "ok"})
}

// --- mail.send / human.inbox / human.outbox / mail.counts ---

// handleMailSend implements mail.send: "Write to human outbox, route.
// Fails with ErrNoRoute if canSend(human, to) is false" (spec.md §6).
// The topology check happens here, synchronously, rather than relying on
// mailrouter.Router.Route's return value: Route always returns nil to its
// caller once it owns the mail (spec.md §7), converting an unroutable
// mail into a bounce instead of an error — which would hide exactly the
// failure this operation is contracted to surface.
func (g *Gateway) handleMailSend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		To          string            `json:"to"`
		Subject     string            `json:"subject"`
		Body        string            `json:"body"`
		Attachments []mail.Attachment `json:"attachments,omitempty"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if !g.topo.CanSend(mail.NodeHuman, body.To) {
		jsonError(w, orcherr.Wrap(orcherr.ErrNoRoute, "no route from human to %s", body.To), http.StatusNotFound)
		return
	}

	m := mail.New(mail.NodeHuman, body.To, body.Subject, body.Body, mail.TypeHuman)
	m.Attachments = body.Attachments

	path, err := g.store.Write(g.store.HumanOutbox(), m)
	if err != nil {
		jsonError(w, err, http.StatusInternalServerError)
		return
	}
	// Stage through inflight the same way outboxwatch.Watcher.scanOnce
	// does for every other outbox, so this mail leaves the human outbox in
	// one rename, and unlink the inflight copy only after Route returns, so
	// a crash between write and route still recovers it from inflight/ on
	// restart.
	staged, err := mailstore.MoveInto(path, g.store.InflightDir())
	if err != nil {
		jsonError(w, err, http.StatusInternalServerError)
		return
	}
	routeErr := g.router.Route(m)
	_ = os.Remove(staged)
	if err := routeErr; err != nil {
		jsonError(w, err, http.StatusBadRequest)
		return
	}
	jsonResponse(w, map[string]string{"id": m.ID, "status": "ok"})
}

func (g *Gateway) handleHumanInbox(w http.ResponseWriter, r *http.Request) {
	mails, err := peekMail(g.store.HumanInbox())
	if err != nil {
		jsonError(w, err, http.StatusInternalServerError)
		return
	}
	jsonResponse(w, mails)
}

func (g *Gateway) handleHumanOutbox(w http.ResponseWriter, r *http.Request) {
	mails, err := peekMail(g.store.HumanOutbox())
	if err != nil {
		jsonError(w, err, http.StatusInternalServerError)
		return
	}
	jsonResponse(w, mails)
}

func (g *Gateway) handleMailCounts(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, g.counter.All())
}
