package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/nats-io/nats.go"
)

// Event is the envelope carried on every topic: a monotonic per-connection
// sequence number plus an arbitrary JSON payload. Mirrors the teacher's
// web.Event{Type, Payload} shape, generalized with a sequence number since
// the Gateway now forwards typed events instead of raw NATS JSON.
type Event struct {
	Topic   string `json:"topic"`
	Seq     uint64 `json:"seq"`
	Payload any    `json:"payload"`
}

// ReconnectNotice is published to a subscriber's control topic when its
// subscription has been evicted as a slow consumer.
type ReconnectNotice struct {
	Reason string `json:"reason"`
}

// Conn is a connection to the embedded Bus, generalizing the teacher's
// natsbus.Client with sequence numbering and slow-consumer handling.
type Conn struct {
	conn *nats.Conn
	seq  atomic.Uint64
}

// NewConn connects to an in-process Bus.
func NewConn(bus *Bus) (*Conn, error) {
	return newConn(bus.ClientURL())
}

// NewConnFromURL connects to a Bus reachable at url (used by CLI helpers
// that attach to an already-running orchestrator process).
func NewConnFromURL(url string) (*Conn, error) {
	return newConn(url)
}

func newConn(url string) (*Conn, error) {
	c := &Conn{}
	conn, err := nats.Connect(url, nats.ErrorHandler(c.handleAsyncError))
	if err != nil {
		return nil, fmt.Errorf("connect to event bus: %w", err)
	}
	c.conn = conn
	return c, nil
}

// handleAsyncError catches nats.ErrSlowConsumer and notifies the affected
// subscriber to reconnect, implementing spec.md §4.8's "a slow subscriber
// whose queue fills is dropped and notified to reconnect."
func (c *Conn) handleAsyncError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if !errors.Is(err, nats.ErrSlowConsumer) {
		slog.Warn("event bus async error", "error", err)
		return
	}
	slog.Warn("event bus slow consumer dropped", "subject", sub.Subject)
	notice := ReconnectNotice{Reason: "slow consumer: subscription queue exceeded bound, reconnect to resume"}
	_ = c.Publish(topicReconnect(sub.Subject), notice)
}

// Publish wraps payload in an Event envelope and publishes it to topic.
func (c *Conn) Publish(topic string, payload any) error {
	ev := Event{Topic: topic, Seq: c.seq.Add(1), Payload: payload}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return c.conn.Publish(topic, data)
}

// Subscribe creates a bounded subscription (spec.md §4.8: "bounded
// per-subscriber queue, recommended 256 events") and delivers decoded
// Events to handler.
func (c *Conn) Subscribe(topic string, handler func(Event)) (*nats.Subscription, error) {
	sub, err := c.conn.Subscribe(topic, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Warn("invalid event payload", "topic", topic, "error", err)
			return
		}
		handler(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	if err := sub.SetPendingLimits(maxPendingMsgs, maxPendingBytes); err != nil {
		return nil, fmt.Errorf("set pending limits for %s: %w", topic, err)
	}
	return sub, nil
}

// SubscribeAll is the Gateway's events.subscribe operation: one bounded
// subscription fanning every topic (spec.md §4.9).
func (c *Conn) SubscribeAll(handler func(Event)) (*nats.Subscription, error) {
	return c.Subscribe(TopicAll, handler)
}

func (c *Conn) Flush() error { return c.conn.Flush() }
func (c *Conn) Close()       { c.conn.Close() }
