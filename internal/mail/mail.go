// Package mail defines the wire/domain representation of a single piece of
// hive mail: the immutable record exchanged between agents, mailboxes, and
// the human node.
package mail

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Node identifier conventions (spec.md §3).
const (
	NodeHuman      = "human"
	MailboxPrefix  = "mailbox:"
	SystemSender   = "system"
)

// Status is the lifecycle value of a Mail record.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusDelivered Status = "delivered"
	StatusBounced   Status = "bounced"
	StatusFailed    Status = "failed"
)

// MailType is metadata.type: who/what originated the mail.
type MailType string

const (
	TypeHuman    MailType = "human"
	TypeAgent    MailType = "agent"
	TypeSystem   MailType = "system"
	TypeCron     MailType = "cron"
	TypeExternal MailType = "external"
	TypeBounce   MailType = "bounce"
)

// Priority is metadata.priority.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Attachment is a reference to a blob held in the shared file store,
// never the blob itself (SPEC_FULL.md §9 open-question decision).
type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// Metadata is the mail.metadata sub-object.
type Metadata struct {
	Type       MailType `json:"type"`
	Priority   Priority `json:"priority,omitempty"`
	InReplyTo  string   `json:"inReplyTo,omitempty"`
}

// Mail is the immutable record described by spec.md §3. Unknown top-level
// JSON fields encountered on read are preserved in extra and re-emitted on
// MarshalJSON, so a round-trip through the Router never drops a field the
// agent runtime added (spec.md §6 wire requirement).
type Mail struct {
	ID           string       `json:"id"`
	From         string       `json:"from"`
	To           string       `json:"to"`
	Subject      string       `json:"subject"`
	Body         string       `json:"body"`
	Timestamp    time.Time    `json:"timestamp"`
	Metadata     Metadata     `json:"metadata"`
	Status       Status       `json:"status,omitempty"`
	Attachments  []Attachment `json:"attachments,omitempty"`
	BounceReason string       `json:"bounceReason,omitempty"`

	extra map[string]json.RawMessage `json:"-"`
}

// New constructs a fresh Mail with a generated id and current timestamp.
// Status is left empty; the Router assigns StatusQueued if unset (§4.5 step 1).
func New(from, to, subject, body string, mtype MailType) *Mail {
	return &Mail{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Subject:   subject,
		Body:      body,
		Timestamp: time.Now().UTC(),
		Metadata:  Metadata{Type: mtype, Priority: PriorityNormal},
	}
}

// IsMailbox reports whether id names a mailbox endpoint (mailbox:<name>).
func IsMailbox(id string) bool {
	return len(id) > len(MailboxPrefix) && id[:len(MailboxPrefix)] == MailboxPrefix
}

// knownFields lists the JSON keys handled by the named struct fields, used
// by UnmarshalJSON/MarshalJSON to separate known from unknown keys.
var knownFields = map[string]bool{
	"id": true, "from": true, "to": true, "subject": true, "body": true,
	"timestamp": true, "metadata": true, "status": true, "attachments": true,
	"bounceReason": true,
}

type mailAlias Mail

// UnmarshalJSON decodes known fields via the struct tags and stashes any
// remaining top-level keys in extra for lossless round-tripping.
func (m *Mail) UnmarshalJSON(data []byte) error {
	var alias mailAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return fmt.Errorf("unmarshal mail: %w", err)
	}
	*m = Mail(alias)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal mail raw fields: %w", err)
	}
	for k, v := range raw {
		if knownFields[k] {
			continue
		}
		if m.extra == nil {
			m.extra = make(map[string]json.RawMessage)
		}
		m.extra[k] = v
	}
	return nil
}

// MarshalJSON re-emits known fields plus any preserved unknown fields.
func (m Mail) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(mailAlias(m))
	if err != nil {
		return nil, fmt.Errorf("marshal mail: %w", err)
	}
	if len(m.extra) == 0 {
		return known, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, fmt.Errorf("remarshal mail: %w", err)
	}
	for k, v := range m.extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Clone returns a deep-enough copy for safe concurrent use during routing
// (attachments slice and extra map are copied; struct fields are value types).
func (m *Mail) Clone() *Mail {
	c := *m
	if m.Attachments != nil {
		c.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.extra != nil {
		c.extra = make(map[string]json.RawMessage, len(m.extra))
		for k, v := range m.extra {
			c.extra[k] = v
		}
	}
	return &c
}
