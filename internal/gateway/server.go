// Package gateway implements the External Gateway (spec.md §4.9): the
// request/response surface spec.md §6 names, bound to HTTP using Go
// 1.22+ net/http.ServeMux method+path routing, adapted from the teacher's
// internal/web (server.go, api.go, websocket.go).
package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mtzanidakis/hive/internal/config"
	"github.com/mtzanidakis/hive/internal/container"
	"github.com/mtzanidakis/hive/internal/eventbus"
	"github.com/mtzanidakis/hive/internal/inboxcount"
	"github.com/mtzanidakis/hive/internal/mailrouter"
	"github.com/mtzanidakis/hive/internal/mailstore"
	"github.com/mtzanidakis/hive/internal/swarmregistry"
	"github.com/mtzanidakis/hive/internal/topology"
)

const (
	sessionCookieName = "session"
	sessionMaxAge      = 30 * 24 * time.Hour
)

// Gateway is the HTTP front-end wiring every other component together
// behind spec.md §6's operation table.
type Gateway struct {
	store      *mailstore.Store
	registry   *swarmregistry.Registry
	router     *mailrouter.Router
	supervisor *container.Supervisor
	counter    *inboxcount.Counter
	topo       *topology.Topology
	events     *eventbus.Conn
	cfg        config.GatewayConfig
	hub        *Hub
	startedAt  time.Time

	sessionMu sync.Mutex
	sessions  map[string]time.Time
}

// New wires a Gateway. events may be nil (no websocket forwarding, used in
// tests that don't need a live NATS connection).
func New(store *mailstore.Store, registry *swarmregistry.Registry, router *mailrouter.Router, supervisor *container.Supervisor, counter *inboxcount.Counter, topo *topology.Topology, events *eventbus.Conn, cfg config.GatewayConfig) *Gateway {
	return &Gateway{
		store:      store,
		registry:   registry,
		router:     router,
		supervisor: supervisor,
		counter:    counter,
		topo:       topo,
		events:     events,
		cfg:        cfg,
		hub:        NewHub(),
		startedAt:  time.Now(),
		sessions:   make(map[string]time.Time),
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled, mirroring
// web.Server.Start's own ctx-driven shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	go g.hub.Run(ctx)
	g.subscribeEvents()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", g.handleLogin)
	mux.HandleFunc("POST /api/logout", g.handleLogout)
	mux.HandleFunc("GET /api/auth/check", g.handleAuthCheck)
	g.registerRoutes(mux)
	mux.HandleFunc("GET /api/events", g.handleWebSocket)

	handler := g.withMiddleware(mux)
	server := &http.Server{Addr: g.cfg.ListenAddr, Handler: handler}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	slog.Info("gateway listening", "addr", g.cfg.ListenAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (g *Gateway) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		if strings.HasPrefix(r.URL.Path, "/api/") && g.cfg.Auth != "" {
			if r.URL.Path == "/api/login" || r.URL.Path == "/api/auth/check" {
				next.ServeHTTP(w, r)
				return
			}
			if !g.checkAuth(w, r) {
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// checkAuth validates a session cookie or falls back to Basic Auth for
// programmatic clients, grounded on web.Server.checkAuth.
func (g *Gateway) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		g.sessionMu.Lock()
		expiry, ok := g.sessions[cookie.Value]
		if ok && time.Now().Before(expiry) {
			g.sessions[cookie.Value] = time.Now().Add(sessionMaxAge)
			g.sessionMu.Unlock()
			g.setSessionCookie(w, cookie.Value)
			return true
		}
		if ok {
			delete(g.sessions, cookie.Value)
		}
		g.sessionMu.Unlock()
	}

	if _, pass, ok := r.BasicAuth(); ok && pass == g.cfg.Auth {
		return true
	}

	http.Error(w, "unauthorized", http.StatusUnauthorized)
	return false
}

func (g *Gateway) createSession() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)
	g.sessionMu.Lock()
	g.sessions[token] = time.Now().Add(sessionMaxAge)
	g.sessionMu.Unlock()
	return token, nil
}

func (g *Gateway) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name: sessionCookieName, Value: token, Path: "/",
		MaxAge: int(sessionMaxAge.Seconds()), HttpOnly: true, SameSite: http.SameSiteStrictMode,
	})
}

func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	if g.cfg.Auth == "" {
		jsonResponse(w, map[string]string{"status": "ok"})
		return
	}
	var body struct {
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Password != g.cfg.Auth {
		jsonError(w, fmt.Errorf("invalid password"), http.StatusUnauthorized)
		return
	}
	token, err := g.createSession()
	if err != nil {
		jsonError(w, err, http.StatusInternalServerError)
		return
	}
	g.setSessionCookie(w, token)
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		g.sessionMu.Lock()
		delete(g.sessions, cookie.Value)
		g.sessionMu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookieName, Value: "", Path: "/", MaxAge: -1})
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (g *Gateway) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	if g.cfg.Auth == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		g.sessionMu.Lock()
		expiry, ok := g.sessions[cookie.Value]
		if ok && time.Now().Before(expiry) {
			g.sessions[cookie.Value] = time.Now().Add(sessionMaxAge)
			g.sessionMu.Unlock()
			g.setSessionCookie(w, cookie.Value)
			jsonResponse(w, map[string]string{"status": "ok"})
			return
		}
		if ok {
			delete(g.sessions, cookie.Value)
		}
		g.sessionMu.Unlock()
	}
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
