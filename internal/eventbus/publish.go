package eventbus

import (
	"github.com/mtzanidakis/hive/internal/inboxcount"
	"github.com/mtzanidakis/hive/internal/mail"
)

// The typed Publish* methods below give each SPEC_FULL.md component a
// narrow interface to depend on (see mailrouter.EventPublisher,
// inboxcount.Publisher, container.EventPublisher) instead of the full Conn,
// so tests can substitute a fake without an embedded NATS server.

// MailEvent is the payload shape for mail.sent/received/routed/failed/bounced.
type MailEvent struct {
	MailID string `json:"mailId"`
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

func mailEvent(m *mail.Mail, reason string) MailEvent {
	return MailEvent{MailID: m.ID, From: m.From, To: m.To, Reason: reason}
}

func (c *Conn) PublishMailSent(m *mail.Mail) {
	_ = c.Publish(TopicMailSent, mailEvent(m, ""))
}

func (c *Conn) PublishMailReceived(m *mail.Mail) {
	_ = c.Publish(TopicMailReceived, mailEvent(m, ""))
}

func (c *Conn) PublishMailRouted(m *mail.Mail) {
	_ = c.Publish(TopicMailRouted, mailEvent(m, ""))
}

func (c *Conn) PublishMailFailed(m *mail.Mail, reason string) {
	_ = c.Publish(TopicMailFailed, mailEvent(m, reason))
}

func (c *Conn) PublishMailBounced(m *mail.Mail, reason string) {
	_ = c.Publish(TopicMailBounced, mailEvent(m, reason))
}

// CountsEvent carries one node's queue snapshot.
type CountsEvent struct {
	Node       string `json:"node"`
	Inbox      int64  `json:"inbox"`
	Outbox     int64  `json:"outbox"`
	Processing bool   `json:"processing"`
}

// PublishCounts implements inboxcount.Publisher: it flattens the
// per-node snapshot map into one event per node so each subscriber can
// filter by node if desired, consistent with the teacher's granular
// per-topic publishing style.
func (c *Conn) PublishCounts(snapshots map[string]inboxcount.Snapshot) {
	for node, s := range snapshots {
		_ = c.Publish(TopicMailCounts, CountsEvent{
			Node: node, Inbox: s.Inbox, Outbox: s.Outbox, Processing: s.Processing,
		})
	}
}

// BeeStatusEvent carries a container lifecycle transition (spec.md §4.6
// step 5: "Emit bee:status with the new state").
type BeeStatusEvent struct {
	AgentID   string `json:"agentId"`
	Running   bool   `json:"running"`
	Container string `json:"containerId,omitempty"`
}

func (c *Conn) PublishBeeStatus(ev BeeStatusEvent) {
	_ = c.Publish(TopicBeeStatus, ev)
}

// SwarmUpdatedEvent signals the registry persisted a new configuration.
type SwarmUpdatedEvent struct {
	SwarmID string `json:"swarmId"`
}

func (c *Conn) PublishSwarmUpdated(swarmID string) {
	_ = c.Publish(TopicSwarmUpdated, SwarmUpdatedEvent{SwarmID: swarmID})
}
