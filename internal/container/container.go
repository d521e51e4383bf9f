// Package container implements the Container Supervisor (spec.md §4.6): a
// capability abstraction over agent container lifecycle, with a concrete
// Docker-backed Runtime selected by CONTAINER_BACKEND=local-docker.
package container

import (
	"context"
	"time"

	"github.com/mtzanidakis/hive/internal/orcherr"
)

// Handle is an opaque reference to a created container, returned by
// Runtime.Create and consumed by the other Runtime operations.
type Handle struct {
	ID   string
	Name string
}

// Mount is one bind mount the Supervisor computes for an agent's
// directories (inbox, outbox, state, logs, workspace, and the read-only
// soul file — spec.md §4.6 "Spec"). No agent-session directory is
// mounted.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// ContainerSpec is the neutral container specification spec.md §4.6
// describes: image identifier, environment variables, and mount bindings.
// Renamed from the teacher's Claude-specific AgentOpts (CLAUDE_MODEL,
// ANTHROPIC_API_KEY) to the spec's provider-agnostic field names.
type ContainerSpec struct {
	AgentID        string
	AgentName      string
	Model          string
	Image          string
	ProviderAPIKey string
	Mounts         []Mount
	Env            map[string]string
}

// InspectResult is the Runtime.Inspect return value, spec.md §4.6's
// "{running, startedAt, state}".
type InspectResult struct {
	Running   bool
	StartedAt time.Time
	State     string
}

// Runtime is the abstract capability spec.md §4.6 names: create, start,
// stop, remove, inspect. dockerRuntime is the sole concrete implementation;
// any other CONTAINER_BACKEND value is a validation error rather than a
// second fake backend, since this spec's Non-goals don't call for one.
type Runtime interface {
	Create(ctx context.Context, spec ContainerSpec) (Handle, error)
	Start(ctx context.Context, h Handle) error
	Stop(ctx context.Context, h Handle) error
	Remove(ctx context.Context, h Handle) error
	Inspect(ctx context.Context, h Handle) (InspectResult, error)
}

// NewRuntime selects a Runtime by backend name. "local-docker" is the only
// accepted value (SPEC_FULL.md §6 env var table); anything else is
// ErrValidation.
func NewRuntime(backend string) (Runtime, error) {
	switch backend {
	case "local-docker":
		return newDockerRuntime()
	default:
		return nil, orcherr.Wrap(orcherr.ErrValidation, "unsupported CONTAINER_BACKEND %q", backend)
	}
}
