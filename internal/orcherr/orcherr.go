// Package orcherr defines the orchestrator's error taxonomy: a small set of
// sentinel kinds callers can check with errors.Is, each mapped to a stable
// process exit code for the cmd/hive CLI front-end.
package orcherr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure. Values are stable across versions.
type Kind int

const (
	KindNone Kind = iota
	KindNoRoute
	KindUnknownNode
	KindValidation
	KindMailCorrupt
	KindContainerRuntime
	KindAlreadyExists
	KindNotFound
	KindBusy
	KindIO
	KindCancelled
)

// Sentinel errors. Wrap with Wrap (or fmt.Errorf("...: %w", ErrX)) so
// errors.Is still matches after additional context is layered on.
var (
	ErrNoRoute          = errors.New("no route")
	ErrUnknownNode      = errors.New("unknown node")
	ErrValidation       = errors.New("validation failed")
	ErrMailCorrupt      = errors.New("mail corrupt")
	ErrContainerRuntime = errors.New("container runtime error")
	ErrAlreadyExists    = errors.New("already exists")
	ErrNotFound         = errors.New("not found")
	ErrBusy             = errors.New("busy")
	ErrIO               = errors.New("io error")
	ErrCancelled        = errors.New("cancelled")
)

var kindBySentinel = map[error]Kind{
	ErrNoRoute:          KindNoRoute,
	ErrUnknownNode:      KindUnknownNode,
	ErrValidation:       KindValidation,
	ErrMailCorrupt:      KindMailCorrupt,
	ErrContainerRuntime: KindContainerRuntime,
	ErrAlreadyExists:    KindAlreadyExists,
	ErrNotFound:         KindNotFound,
	ErrBusy:             KindBusy,
	ErrIO:               KindIO,
	ErrCancelled:        KindCancelled,
}

// exitCodes maps each Kind to the CLI exit code SPEC_FULL.md §6 fixes.
var exitCodes = map[Kind]int{
	KindNoRoute:          10,
	KindUnknownNode:      11,
	KindValidation:       12,
	KindMailCorrupt:      13,
	KindContainerRuntime: 14,
	KindAlreadyExists:    15,
	KindNotFound:         16,
	KindBusy:             17,
	KindIO:               18,
	KindCancelled:        19,
}

// wrapped carries a Kind alongside a wrapped error so both errors.Is (via
// the sentinel) and Kind() (via this type) work on the same value.
type wrapped struct {
	kind Kind
	err  error
}

func (w *wrapped) Error() string { return w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }
func (w *wrapped) Kind() Kind    { return w.kind }

// Wrap attaches context to one of the sentinel errors above while keeping
// it matchable by errors.Is and carrying its Kind through the call stack.
func Wrap(sentinel error, format string, args ...any) error {
	k := kindBySentinel[sentinel]
	return &wrapped{kind: k, err: fmt.Errorf(format+": %w", append(args, sentinel)...)}
}

// KindOf extracts the Kind from an error produced by Wrap, walking the
// chain with errors.As. Returns KindNone if the error carries no Kind.
func KindOf(err error) Kind {
	var w *wrapped
	if errors.As(err, &w) {
		return w.kind
	}
	for sentinel, k := range kindBySentinel {
		if errors.Is(err, sentinel) {
			return k
		}
	}
	return KindNone
}

// ExitCode returns the stable process exit code for err, or 1 for any
// error not carrying a recognized Kind, or 0 for a nil error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if code, ok := exitCodes[KindOf(err)]; ok {
		return code
	}
	return 1
}
