// Package envtrack records reversible snapshots of a working directory so
// an agent session can be reconstructed or rewound at any turn boundary.
//
// An Environment is activated once per session. MakeSnapshot captures the
// complete state of all tool-accessible files as an immutable node in a
// namespace private to the session; Restore checks a node back out,
// overwriting the working directory exactly.
package envtrack

import "fmt"

// Ref is an opaque, immutable identifier for a snapshot. Restoring the
// same Ref always reproduces a byte-identical working tree. The zero
// value means "no snapshot".
type Ref string

// NoRef is the sentinel returned when snapshot tracking is disabled.
const NoRef Ref = ""

// Environment is the capability to snapshot and restore the full state
// of a working directory.
type Environment interface {
	// Begin activates the environment for a session. Snapshot histories
	// of distinct sessions never interleave.
	Begin(sessionID string) error

	// End deactivates the environment.
	End() error

	// MakeSnapshot captures the current working directory state, labeled
	// with the triggering message, and returns a reference to it.
	MakeSnapshot(message string) (Ref, error)

	// Restore checks out the snapshot identified by ref, overwriting the
	// working directory exactly.
	Restore(ref Ref) error
}

// StorageError indicates the snapshot backing store failed or the
// directory is not initialized for tracking. It is fatal at session
// bootstrap.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("envtrack: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("envtrack: %s", e.Op)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NoopEnvironment is the Environment used when durable tracking is
// disabled. Snapshots return NoRef and restores do nothing.
type NoopEnvironment struct{}

func NewNoopEnvironment() *NoopEnvironment { return &NoopEnvironment{} }

func (e *NoopEnvironment) Begin(sessionID string) error          { return nil }
func (e *NoopEnvironment) End() error                            { return nil }
func (e *NoopEnvironment) MakeSnapshot(message string) (Ref, error) { return NoRef, nil }
func (e *NoopEnvironment) Restore(ref Ref) error                 { return nil }
