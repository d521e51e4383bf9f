package swarmregistry

import (
	"fmt"

	"github.com/mtzanidakis/hive/internal/mail"
	"github.com/mtzanidakis/hive/internal/orcherr"
)

// validate checks the invariants spec.md §4.7 names before persistence:
// unique ids, no connection referencing an unknown node, no self-edge.
// Grounded on swarm.BuildPlan's own reference-validation style ("agent X
// is not a member of the swarm").
func validate(cfg Config) error {
	nodes := make(map[string]bool)
	nodes[mail.NodeHuman] = true

	for _, b := range cfg.Bees {
		if b.ID == "" {
			return orcherr.Wrap(orcherr.ErrValidation, "bee with empty id")
		}
		if nodes[b.ID] {
			return orcherr.Wrap(orcherr.ErrValidation, "duplicate node id %q", b.ID)
		}
		nodes[b.ID] = true
	}
	for _, m := range cfg.Mailboxes {
		id := mail.MailboxPrefix + m.ID
		if m.ID == "" {
			return orcherr.Wrap(orcherr.ErrValidation, "mailbox with empty id")
		}
		if nodes[id] {
			return orcherr.Wrap(orcherr.ErrValidation, "duplicate node id %q", id)
		}
		nodes[id] = true
	}

	for _, c := range cfg.Connections {
		if c.From == c.To {
			return orcherr.Wrap(orcherr.ErrValidation, "self-edge %q -> %q not allowed", c.From, c.To)
		}
		if !nodes[c.From] {
			return orcherr.Wrap(orcherr.ErrValidation, "connection references unknown node %q", c.From)
		}
		if !nodes[c.To] {
			return orcherr.Wrap(orcherr.ErrValidation, "connection references unknown node %q", c.To)
		}
	}
	return nil
}

func qualifiedMailboxID(id string) string {
	return fmt.Sprintf("%s%s", mail.MailboxPrefix, id)
}
