package gateway

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/mtzanidakis/hive/internal/config"
	"github.com/mtzanidakis/hive/internal/container"
	"github.com/mtzanidakis/hive/internal/inboxcount"
	"github.com/mtzanidakis/hive/internal/mailrouter"
	"github.com/mtzanidakis/hive/internal/mailstore"
	"github.com/mtzanidakis/hive/internal/swarmregistry"
	"github.com/mtzanidakis/hive/internal/topology"
)

func newTestGateway(t *testing.T) (*Gateway, *mailstore.Store) {
	t.Helper()
	root := t.TempDir()

	store := mailstore.New(root)
	if err := store.EnsureOrchestratorDirs(); err != nil {
		t.Fatalf("EnsureOrchestratorDirs: %v", err)
	}

	topo := topology.New()

	regCfg := config.RegistryConfig{
		DBPath:     filepath.Join(root, "hive.db"),
		ConfigPath: filepath.Join(root, "swarm.json"),
	}
	registry, err := swarmregistry.New(regCfg, topo, nil, nil)
	if err != nil {
		t.Fatalf("swarmregistry.New: %v", err)
	}
	t.Cleanup(func() { registry.Close() })

	sup, err := container.NewSupervisor(
		config.ContainerConfig{Backend: "local-docker", Image: "hive-agent:latest", CallTimeout: time.Second},
		store, topo, nil, registry,
	)
	if err != nil {
		t.Fatalf("container.NewSupervisor: %v", err)
	}

	counter := inboxcount.New(sup, nil)
	router := mailrouter.New(store, topo, counter, nil, nil)

	gw := New(store, registry, router, sup, counter, topo, nil, config.GatewayConfig{ListenAddr: ":0"})
	return gw, store
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func newTestMux(gw *Gateway) *http.ServeMux {
	mux := http.NewServeMux()
	gw.registerRoutes(mux)
	return mux
}

func TestSwarmGetPut_RoundTrips(t *testing.T) {
	gw, _ := newTestGateway(t)
	mux := newTestMux(gw)

	cfg := swarmregistry.Config{
		ID:          "swarm-1",
		Name:        "Test Swarm",
		Bees:        []swarmregistry.Bee{{ID: "bee-a", Name: "Bee A"}},
		Connections: []swarmregistry.Connection{{From: "human", To: "bee-a", Bidirectional: true}},
	}
	if rec := doJSON(t, mux, "PUT", "/api/swarm", cfg); rec.Code != http.StatusOK {
		t.Fatalf("PUT /api/swarm: status %d body %s", rec.Code, rec.Body.String())
	}

	rec := doJSON(t, mux, "GET", "/api/swarm", nil)
	var got swarmregistry.Config
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "swarm-1" || len(got.Bees) != 1 {
		t.Fatalf("unexpected config round-trip: %+v", got)
	}
}

func TestNodesList_IncludesHumanAndBees(t *testing.T) {
	gw, _ := newTestGateway(t)
	mux := newTestMux(gw)

	cfg := swarmregistry.Config{
		ID:   "swarm-1",
		Bees: []swarmregistry.Bee{{ID: "bee-a", Name: "Bee A"}},
	}
	if rec := doJSON(t, mux, "PUT", "/api/swarm", cfg); rec.Code != http.StatusOK {
		t.Fatalf("PUT /api/swarm: status %d", rec.Code)
	}

	rec := doJSON(t, mux, "GET", "/api/nodes", nil)
	var nodes []nodeSummary
	if err := json.NewDecoder(rec.Body).Decode(&nodes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	foundHuman, foundBee := false, false
	for _, n := range nodes {
		if n.ID == "human" {
			foundHuman = true
		}
		if n.ID == "bee-a" && n.Type == "bee" {
			foundBee = true
		}
	}
	if !foundHuman || !foundBee {
		t.Fatalf("expected human and bee-a in node list, got %+v", nodes)
	}
}

func TestMailSend_NoRouteFails(t *testing.T) {
	gw, _ := newTestGateway(t)
	mux := newTestMux(gw)

	body := map[string]string{"to": "bee-a", "subject": "hi", "body": "x"}
	rec := doJSON(t, mux, "POST", "/api/mail", body)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unroutable mail.send, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMailSend_DeliversToAgentInbox(t *testing.T) {
	gw, store := newTestGateway(t)
	mux := newTestMux(gw)

	cfg := swarmregistry.Config{
		ID:          "swarm-1",
		Bees:        []swarmregistry.Bee{{ID: "bee-a", Name: "Bee A"}},
		Connections: []swarmregistry.Connection{{From: "human", To: "bee-a"}},
	}
	if rec := doJSON(t, mux, "PUT", "/api/swarm", cfg); rec.Code != http.StatusOK {
		t.Fatalf("PUT /api/swarm: status %d", rec.Code)
	}
	if err := store.EnsureAgentDirs("bee-a"); err != nil {
		t.Fatalf("EnsureAgentDirs: %v", err)
	}

	body := map[string]string{"to": "bee-a", "subject": "hi", "body": "x"}
	rec := doJSON(t, mux, "POST", "/api/mail", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("mail.send: status %d body %s", rec.Code, rec.Body.String())
	}

	names, err := mailstore.List(store.AgentInbox("bee-a"))
	if err != nil {
		t.Fatalf("list inbox: %v", err)
	}
	if len(names) != 1 {
		t.Fatalf("expected exactly one mail in bee-a's inbox, got %d", len(names))
	}
}

func TestConnectionAddRemove(t *testing.T) {
	gw, _ := newTestGateway(t)
	mux := newTestMux(gw)

	cfg := swarmregistry.Config{ID: "swarm-1", Bees: []swarmregistry.Bee{{ID: "bee-a", Name: "Bee A"}}}
	if rec := doJSON(t, mux, "PUT", "/api/swarm", cfg); rec.Code != http.StatusOK {
		t.Fatalf("PUT /api/swarm: status %d", rec.Code)
	}

	add := map[string]any{"from": "human", "to": "bee-a", "bidirectional": true}
	if rec := doJSON(t, mux, "POST", "/api/connections", add); rec.Code != http.StatusOK {
		t.Fatalf("POST /api/connections: status %d body %s", rec.Code, rec.Body.String())
	}

	body := map[string]string{"to": "bee-a", "subject": "hi", "body": "x"}
	if rec := doJSON(t, mux, "POST", "/api/mail", body); rec.Code != http.StatusOK {
		t.Fatalf("expected mail.send to succeed after connection add, got %d", rec.Code)
	}

	remove := map[string]string{"from": "human", "to": "bee-a"}
	if rec := doJSON(t, mux, "DELETE", "/api/connections", remove); rec.Code != http.StatusOK {
		t.Fatalf("DELETE /api/connections: status %d", rec.Code)
	}

	rec := doJSON(t, mux, "POST", "/api/mail", body)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected mail.send to fail after connection removed, got %d", rec.Code)
	}
}

func TestHumanInboxOutbox_EmptyByDefault(t *testing.T) {
	gw, _ := newTestGateway(t)
	mux := newTestMux(gw)

	for _, path := range []string{"/api/human/inbox", "/api/human/outbox"} {
		rec := doJSON(t, mux, "GET", path, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d", path, rec.Code)
		}
		var mails []json.RawMessage
		if err := json.NewDecoder(rec.Body).Decode(&mails); err != nil {
			t.Fatalf("%s decode: %v", path, err)
		}
		if len(mails) != 0 {
			t.Fatalf("%s: expected empty, got %d", path, len(mails))
		}
	}
}

func TestFilesUploadFetchMeta(t *testing.T) {
	gw, _ := newTestGateway(t)
	mux := newTestMux(gw)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "hello.txt")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write([]byte("hello world"))
	mw.Close()

	req := httptest.NewRequest("POST", "/api/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload: status %d body %s", rec.Code, rec.Body.String())
	}

	var meta fileMeta
	if err := json.NewDecoder(rec.Body).Decode(&meta); err != nil {
		t.Fatalf("decode meta: %v", err)
	}
	if meta.Filename != "hello.txt" || meta.Size != int64(len("hello world")) {
		t.Fatalf("unexpected meta: %+v", meta)
	}

	metaRec := doJSON(t, mux, "GET", "/api/files/"+meta.ID+"/meta", nil)
	if metaRec.Code != http.StatusOK {
		t.Fatalf("files.meta: status %d", metaRec.Code)
	}

	fetchReq := httptest.NewRequest("GET", "/api/files/"+meta.ID, nil)
	fetchRec := httptest.NewRecorder()
	mux.ServeHTTP(fetchRec, fetchReq)
	if fetchRec.Code != http.StatusOK {
		t.Fatalf("files.fetch: status %d", fetchRec.Code)
	}
	if fetchRec.Body.String() != "hello world" {
		t.Fatalf("unexpected blob contents: %q", fetchRec.Body.String())
	}
}

func TestFilesFetch_UnknownIDNotFound(t *testing.T) {
	gw, _ := newTestGateway(t)
	mux := newTestMux(gw)

	rec := doJSON(t, mux, "GET", "/api/files/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown file id, got %d", rec.Code)
	}
}

func TestNodeStatus_UnknownBeeReportsNotRunning(t *testing.T) {
	gw, _ := newTestGateway(t)
	mux := newTestMux(gw)

	rec := doJSON(t, mux, "GET", "/api/nodes/bee-a/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var got map[string]bool
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["running"] {
		t.Fatalf("expected not running for a bee never started")
	}
}

func TestNodeHierarchy_NotFoundBeforeFirstStart(t *testing.T) {
	gw, _ := newTestGateway(t)
	mux := newTestMux(gw)

	rec := doJSON(t, mux, "GET", "/api/nodes/bee-a/hierarchy", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any hierarchy.json is written, got %d", rec.Code)
	}
}
