package swarmregistry

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/mtzanidakis/hive/internal/orcherr"
)

// Secret is a vault-encrypted credential, scoped either globally (visible
// to every agent) or to a specific set of agents via agent_secrets.
// Grounded on the teacher's store.Secret, with Value/Nonce kept private to
// this package — callers only ever see plaintext via Reveal or ciphertext
// metadata via List.
type Secret struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Global    bool      `json:"global"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PutSecret creates or updates a secret, encrypting plaintext with the
// registry's vault before it ever reaches sqlite (spec.md §4.8: secrets
// are never stored or logged unencrypted).
func (r *Registry) PutSecret(id, name, plaintext string, global bool) (Secret, error) {
	if r.vault == nil {
		return Secret{}, orcherr.Wrap(orcherr.ErrValidation, "no vault configured, cannot store secrets")
	}
	if id == "" {
		id = uuid.NewString()
	}
	ciphertext, nonce, err := r.vault.Encrypt([]byte(plaintext))
	if err != nil {
		return Secret{}, orcherr.Wrap(orcherr.ErrIO, "encrypt secret %s", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err = r.db.Exec(`
		INSERT INTO secrets (id, name, value, nonce, global)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, value=excluded.value, nonce=excluded.nonce,
			global=excluded.global, updated_at=CURRENT_TIMESTAMP`,
		id, name, ciphertext, nonce, boolToInt(global))
	if err != nil {
		return Secret{}, orcherr.Wrap(orcherr.ErrIO, "save secret %s", name)
	}

	return r.getSecretMeta(id)
}

// RevealSecret decrypts and returns the plaintext for id, only if agentID
// is authorized: global secrets are visible to any agent, scoped ones
// require a matching agent_secrets row (spec.md §4.8's access-control
// rule). Pass agentID "" to bypass the agent check for gateway/admin use.
func (r *Registry) RevealSecret(id, agentID string) (string, error) {
	if r.vault == nil {
		return "", orcherr.Wrap(orcherr.ErrValidation, "no vault configured")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	query := `SELECT value, nonce, global FROM secrets WHERE id = ?`
	row := r.db.QueryRow(query, id)

	var value, nonce []byte
	var global int
	if err := row.Scan(&value, &nonce, &global); err != nil {
		if err == sql.ErrNoRows {
			return "", orcherr.Wrap(orcherr.ErrNotFound, "secret %s", id)
		}
		return "", orcherr.Wrap(orcherr.ErrIO, "read secret %s", id)
	}

	if agentID != "" && global == 0 {
		var count int
		err := r.db.QueryRow(`SELECT COUNT(*) FROM agent_secrets WHERE agent_id = ? AND secret_id = ?`, agentID, id).Scan(&count)
		if err != nil {
			return "", orcherr.Wrap(orcherr.ErrIO, "check secret access %s", id)
		}
		if count == 0 {
			return "", orcherr.Wrap(orcherr.ErrValidation, "agent %s not authorized for secret %s", agentID, id)
		}
	}

	plaintext, err := r.vault.Decrypt(value, nonce)
	if err != nil {
		return "", orcherr.Wrap(orcherr.ErrIO, "decrypt secret %s", id)
	}
	return string(plaintext), nil
}

// ListSecrets returns metadata only (no values) for every secret.
func (r *Registry) ListSecrets() ([]Secret, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`SELECT id, name, global, created_at, updated_at FROM secrets ORDER BY name`)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.ErrIO, "list secrets")
	}
	defer rows.Close()

	var out []Secret
	for rows.Next() {
		var s Secret
		var global int
		if err := rows.Scan(&s.ID, &s.Name, &global, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, orcherr.Wrap(orcherr.ErrIO, "scan secret row")
		}
		s.Global = global == 1
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListAgentSecrets returns the metadata for every secret visible to
// agentID: global ones plus any explicitly granted (spec.md §4.8).
func (r *Registry) ListAgentSecrets(agentID string) ([]Secret, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`
		SELECT s.id, s.name, s.global, s.created_at, s.updated_at
		FROM secrets s
		WHERE s.global = 1 OR s.id IN (SELECT secret_id FROM agent_secrets WHERE agent_id = ?)
		ORDER BY s.name`, agentID)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.ErrIO, "list agent secrets for %s", agentID)
	}
	defer rows.Close()

	var out []Secret
	for rows.Next() {
		var s Secret
		var global int
		if err := rows.Scan(&s.ID, &s.Name, &global, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, orcherr.Wrap(orcherr.ErrIO, "scan agent secret row")
		}
		s.Global = global == 1
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteSecret removes a secret and every agent_secrets grant for it.
func (r *Registry) DeleteSecret(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return orcherr.Wrap(orcherr.ErrIO, "begin delete secret tx")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM agent_secrets WHERE secret_id = ?`, id); err != nil {
		return orcherr.Wrap(orcherr.ErrIO, "clear secret grants %s", id)
	}
	if _, err := tx.Exec(`DELETE FROM secrets WHERE id = ?`, id); err != nil {
		return orcherr.Wrap(orcherr.ErrIO, "delete secret %s", id)
	}
	return tx.Commit()
}

// GrantSecret and RevokeSecret manage a scoped secret's agent allowlist.
func (r *Registry) GrantSecret(agentID, secretID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.Exec(`INSERT OR IGNORE INTO agent_secrets (agent_id, secret_id) VALUES (?, ?)`, agentID, secretID)
	if err != nil {
		return orcherr.Wrap(orcherr.ErrIO, "grant secret %s to %s", secretID, agentID)
	}
	return nil
}

func (r *Registry) RevokeSecret(agentID, secretID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.Exec(`DELETE FROM agent_secrets WHERE agent_id = ? AND secret_id = ?`, agentID, secretID)
	if err != nil {
		return orcherr.Wrap(orcherr.ErrIO, "revoke secret %s from %s", secretID, agentID)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// getSecretMeta must be called with mu already held.
func (r *Registry) getSecretMeta(id string) (Secret, error) {
	var s Secret
	var global int
	row := r.db.QueryRow(`SELECT id, name, global, created_at, updated_at FROM secrets WHERE id = ?`, id)
	if err := row.Scan(&s.ID, &s.Name, &global, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return Secret{}, orcherr.Wrap(orcherr.ErrIO, "read back secret %s", id)
	}
	s.Global = global == 1
	return s, nil
}
