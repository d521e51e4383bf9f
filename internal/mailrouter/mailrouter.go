// Package mailrouter implements the Mail Router (spec.md §4.5): the only
// component permitted to call Topology.CanSend. It replaces the teacher's
// internal/router.Router, which routed free-text chat messages to a named
// agent by prefix or LLM classification — a different problem entirely.
// The shape survives (a struct holding its dependencies, Route as the
// single entry point, constructor-injected hooks for the Container
// Supervisor) but route()'s body implements the spec's six-step algorithm.
package mailrouter

import (
	"log/slog"
	"time"

	"github.com/mtzanidakis/hive/internal/mail"
	"github.com/mtzanidakis/hive/internal/mailstore"
	"github.com/mtzanidakis/hive/internal/orcherr"
)

// retryBackoff is the bounded retry schedule for inbox-write failures
// (spec.md §4.5 step 6: "3 attempts, 100ms/500ms/2s").
var retryBackoff = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 2 * time.Second}

// CanSender answers the single question the Router is allowed to ask of
// the topology. Satisfied by *internal/topology.Topology.
type CanSender interface {
	CanSend(from, to string) bool
}

// Counter is notified as mail enters a node's inbox, giving the Inbox
// Counter's Snapshot/All an immediate value instead of waiting for its
// next disk-scan reconcile tick. Satisfied by *internal/inboxcount.Counter.
type Counter interface {
	IncInbox(nodeID string)
}

// Starter lazily starts an agent's container on first mail delivered to an
// agent inbox that is not currently running, per spec.md §4.6's
// "orchestrator never trusts a cached value" reconciliation note applied
// to the Router's write path. Satisfied by *internal/container.Supervisor.
type Starter interface {
	EnsureStarted(agentID string) error
}

// EventPublisher emits the events spec.md §4.8 attributes to the Router:
// mail:received, mail:routed, mail:failed, mail:bounced.
type EventPublisher interface {
	PublishMailReceived(m *mail.Mail)
	PublishMailRouted(m *mail.Mail)
	PublishMailFailed(m *mail.Mail, reason string)
	PublishMailBounced(m *mail.Mail, reason string)
}

// Router is safe for concurrent use; each Route call is independent and
// holds no router-level lock (spec.md §5: "routes are short, run to
// completion").
type Router struct {
	store   *mailstore.Store
	topo    CanSender
	counter Counter
	starter Starter
	events  EventPublisher
}

// New wires a Router. starter and events may be nil in tests that do not
// exercise lazy-start or event emission.
func New(store *mailstore.Store, topo CanSender, counter Counter, starter Starter, events EventPublisher) *Router {
	return &Router{store: store, topo: topo, counter: counter, starter: starter, events: events}
}

// Route implements the six-step route(mail) algorithm of spec.md §4.5.
// depth distinguishes an original mail (0) from a bounce generated in
// response to it (1); a bounce's own failure goes straight to
// deadletter/ rather than generating a second-order bounce (step 2's
// loop-prevention, testable property §8.7).
func (r *Router) Route(m *mail.Mail) error {
	return r.route(m, 0)
}

func (r *Router) route(m *mail.Mail, depth int) error {
	// Step 1: assign queued status if unset.
	if m.Status == "" {
		m.Status = mail.StatusQueued
	}

	isBounce := m.Metadata.Type == mail.TypeBounce

	// Step 2: topology check. A bounce this Router generated (depth > 0)
	// goes from "system" back to the original sender and is not checked
	// against the topology, since "system" has no edges of its own.
	if depth == 0 && !r.topo.CanSend(m.From, m.To) {
		reason := "no route from " + m.From + " to " + m.To
		return r.bounceOrDeadletter(m, depth, isBounce, reason)
	}

	// Step 3: human inbox.
	if m.To == mail.NodeHuman {
		if err := r.deliver(r.store.HumanInbox(), m); err != nil {
			return r.handleWriteFailure(m, depth, isBounce, err)
		}
		r.notifyReceived(m)
		return nil
	}

	// Step 4: mailbox prefix.
	if mail.IsMailbox(m.To) {
		if err := r.deliver(r.store.MailboxInbox(m.To), m); err != nil {
			return r.handleWriteFailure(m, depth, isBounce, err)
		}
		r.notifyRouted(m)
		return nil
	}

	// Step 5: agent inbox.
	if r.starter != nil {
		if err := r.starter.EnsureStarted(m.To); err != nil {
			slog.Warn("failed to ensure agent started before delivery", "agent", m.To, "error", err)
		}
	}
	if err := r.deliver(r.store.AgentInbox(m.To), m); err != nil {
		return r.handleWriteFailure(m, depth, isBounce, err)
	}
	r.notifyRouted(m)
	return nil
}

// deliver writes m into dir and advances the Inbox Counter. It does not
// retry; retry is the caller's responsibility (step 6).
func (r *Router) deliver(dir string, m *mail.Mail) error {
	if _, err := r.store.Write(dir, m); err != nil {
		return err
	}
	if r.counter != nil {
		r.counter.IncInbox(m.To)
	}
	return nil
}

// handleWriteFailure implements step 6: bounded retry, then a failure
// bounce distinct from the no-route bounce of step 2.
func (r *Router) handleWriteFailure(m *mail.Mail, depth int, isBounce bool, firstErr error) error {
	var lastErr = firstErr
	for _, wait := range retryBackoff {
		time.Sleep(wait)
		dir := r.inboxDirFor(m.To)
		if _, err := r.store.Write(dir, m); err == nil {
			if r.counter != nil {
				r.counter.IncInbox(m.To)
			}
			r.notifyRouted(m)
			return nil
		} else {
			lastErr = err
		}
	}

	if r.events != nil {
		r.events.PublishMailFailed(m, lastErr.Error())
	}
	reason := "delivery failed after retries: " + lastErr.Error()
	return r.bounceOrDeadletter(m, depth, isBounce, reason)
}

func (r *Router) inboxDirFor(to string) string {
	switch {
	case to == mail.NodeHuman:
		return r.store.HumanInbox()
	case mail.IsMailbox(to):
		return r.store.MailboxInbox(to)
	default:
		return r.store.AgentInbox(to)
	}
}

// bounceOrDeadletter produces and routes a bounce for an original mail, or
// deadletters a bounce that itself could not be routed/delivered
// (spec.md §4.5 step 2's parenthetical). A mail from "system" has no
// inbox to bounce to and is deadlettered as well.
func (r *Router) bounceOrDeadletter(m *mail.Mail, depth int, isBounce bool, reason string) error {
	if isBounce || depth > 0 || m.From == mail.SystemSender {
		if r.events != nil {
			r.events.PublishMailBounced(m, reason)
		}
		if _, err := r.store.Write(r.store.DeadletterDir(), m); err != nil {
			slog.Error("failed to deadletter unroutable bounce", "mail", m.ID, "error", err)
		}
		return orcherr.Wrap(orcherr.ErrNoRoute, "bounce for mail %s could not be routed: %s", m.ID, reason)
	}

	bounce := mail.New(mail.SystemSender, m.From, "Bounced: "+m.Subject, reason, mail.TypeBounce)
	bounce.Metadata.InReplyTo = m.ID
	bounce.Status = mail.StatusQueued
	bounce.BounceReason = reason

	if r.events != nil {
		r.events.PublishMailBounced(m, reason)
	}

	return r.route(bounce, depth+1)
}

// notifyReceived/notifyRouted guard against a nil EventPublisher so tests
// can wire a Router without an event bus.
func (r *Router) notifyReceived(m *mail.Mail) {
	if r.events != nil {
		r.events.PublishMailReceived(m)
	}
}

func (r *Router) notifyRouted(m *mail.Mail) {
	if r.events != nil {
		r.events.PublishMailRouted(m)
	}
}
