package swarmregistry

// Bee is one agent definition within a swarm (spec.md §3 "Swarm
// configuration": "each bee has {id, name, model?, soul?}").
type Bee struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Model string `json:"model,omitempty"`
	Soul  string `json:"soul,omitempty"`
}

// Mailbox is a named broadcast/collection endpoint, addressed as
// mailbox:<id> in mail.To (spec.md §3 node identifier conventions).
type Mailbox struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Connection is a directed (or bidirectional) edge in the Topology
// (spec.md §3: "{from, to, bidirectional?}").
type Connection struct {
	From          string `json:"from"`
	To            string `json:"to"`
	Bidirectional bool   `json:"bidirectional,omitempty"`
}

// Config is the full Swarm configuration persisted at swarm.json
// (spec.md §3, §4.7, §6). The human node is implicit and never listed
// in Bees.
type Config struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Bees        []Bee        `json:"bees"`
	Mailboxes   []Mailbox    `json:"mailboxes"`
	Connections []Connection `json:"connections"`
}
