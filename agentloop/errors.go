package agentloop

import "fmt"

// Tool-level errors are surfaced conversationally by the session loop
// rather than aborting the process. Callers distinguish them with
// errors.As.

// ValidationError indicates malformed arguments or an unsupported file
// type.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NotFoundError indicates a missing file or directory.
type NotFoundError struct {
	Path string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%q does not exist", e.Path)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// RangeError indicates line bounds outside the addressable range of a
// file.
type RangeError struct {
	Path      string
	StartLine int
	EndLine   int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("invalid line range [%d, %d) for %q", e.StartLine, e.EndLine, e.Path)
}

// ConflictError indicates the optimistic concurrency check failed: the
// file's current lines do not match the caller's claimed prior view. No
// mutation was performed.
type ConflictError struct {
	Path string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("previous lines do not match current content of %q", e.Path)
}
