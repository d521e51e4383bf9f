package mail

import (
	"encoding/json"
	"testing"
)

func TestRoundTrip_PreservesUnknownFields(t *testing.T) {
	raw := []byte(`{
		"id": "m1", "from": "bee-1", "to": "human",
		"subject": "hi", "body": "x",
		"timestamp": "2026-01-01T00:00:00Z",
		"metadata": {"type": "agent"},
		"status": "queued",
		"agentRuntimeHint": {"model": "sonnet"}
	}`)

	var m Mail
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	out, err := json.Marshal(&m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var roundTripped map[string]json.RawMessage
	if err := json.Unmarshal(out, &roundTripped); err != nil {
		t.Fatal(err)
	}
	if _, ok := roundTripped["agentRuntimeHint"]; !ok {
		t.Fatal("expected unknown field agentRuntimeHint to survive round-trip")
	}
}

func TestIsMailbox(t *testing.T) {
	if !IsMailbox("mailbox:ci") {
		t.Fatal("expected mailbox:ci to be recognized as a mailbox id")
	}
	if IsMailbox("bee-1") {
		t.Fatal("bee-1 must not be recognized as a mailbox id")
	}
	if IsMailbox("mailbox:") {
		t.Fatal("bare prefix with empty name must not count as a mailbox id")
	}
}

func TestNew_DefaultsStatusEmpty(t *testing.T) {
	m := New("human", "bee-1", "hi", "x", TypeHuman)
	if m.Status != "" {
		t.Fatalf("expected empty status before routing, got %q", m.Status)
	}
	if m.ID == "" {
		t.Fatal("expected generated id")
	}
}

func TestClone_IndependentAttachments(t *testing.T) {
	m := New("human", "bee-1", "hi", "x", TypeHuman)
	m.Attachments = []Attachment{{ID: "a1", Filename: "f"}}
	c := m.Clone()
	c.Attachments[0].Filename = "changed"
	if m.Attachments[0].Filename == "changed" {
		t.Fatal("expected Clone to deep-copy attachments slice")
	}
}
